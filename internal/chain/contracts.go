package chain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"arb-exec-bot/internal/arb"
)

// Collaborator contracts consumed by the orchestrator. Implementations live
// outside the core; the orchestrator only depends on these interfaces.

// PriceQuote is the aggregated market view for a token pair.
type PriceQuote struct {
	Price          float64
	LiquidityUSD   float64
	PriceImpactPct float64
	Confidence     float64
}

type PriceSource interface {
	GetPrice(ctx context.Context, pair arb.TokenPair) (PriceQuote, error)
}

type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

// GasQuote is clamped to the estimator's configured min/max before it reaches
// the core.
type GasQuote struct {
	PriceWei   uint64
	Limit      uint64
	Confidence float64
}

type GasEstimator interface {
	RecommendGas(ctx context.Context, urgency Urgency) (GasQuote, error)
}

// ThreatSignal carries mempool threat scores in [0,100].
type ThreatSignal struct {
	FrontrunRisk float64
	SandwichRisk float64
}

func (t ThreatSignal) Max() float64 {
	if t.FrontrunRisk > t.SandwichRisk {
		return t.FrontrunRisk
	}
	return t.SandwichRisk
}

type ThreatScanner interface {
	GetThreatSignal(ctx context.Context, pair arb.TokenPair, amountUSD float64) (ThreatSignal, error)
}

// Receipt is the definitive submission outcome. Submit may time out without
// producing one.
type Receipt struct {
	TxHash   string
	Success  bool
	Reverted bool
	GasUsed  uint64
}

type ExecutionTarget interface {
	GetCurrentNonce(ctx context.Context, signer common.Address) (uint64, error)
	IsVenueWhitelisted(ctx context.Context, venue string) (bool, error)
	Submit(ctx context.Context, ticket arb.ExecutionTicket) (Receipt, error)
}

// NonceCounter is the authoritative per-signer counter, typically the chain
// itself.
type NonceCounter interface {
	GetCurrentNonce(ctx context.Context, signer common.Address) (uint64, error)
}
