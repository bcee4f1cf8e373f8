package chain

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"arb-exec-bot/internal/config"
)

// GasOracle recommends gas prices from the node's fee suggestion, scaled by
// urgency and clamped to the configured bounds.
type GasOracle struct {
	provider *Provider
	gasLimit uint64
	minWei   uint64
	maxWei   uint64
	log      *zap.Logger
}

func NewGasOracle(provider *Provider, cfg config.ChainConfig, log *zap.Logger) *GasOracle {
	if log == nil {
		log = zap.NewNop()
	}
	return &GasOracle{
		provider: provider,
		gasLimit: cfg.GasLimit,
		minWei:   cfg.MinGasPriceWei,
		maxWei:   cfg.MaxGasPriceWei,
		log:      log,
	}
}

func (g *GasOracle) RecommendGas(ctx context.Context, urgency Urgency) (GasQuote, error) {
	client, err := g.provider.AcquireClient(ctx)
	if err != nil {
		return GasQuote{}, err
	}
	suggested, err := client.SuggestGasPrice(ctx)
	if err != nil {
		g.provider.Invalidate()
		return GasQuote{}, fmt.Errorf("suggest gas price: %w", err)
	}
	price := uint64(float64(suggested.Uint64()) * urgencyFactor(urgency))
	clamped := price
	if clamped < g.minWei {
		clamped = g.minWei
	}
	if clamped > g.maxWei {
		clamped = g.maxWei
	}
	confidence := 0.9
	if clamped != price {
		confidence = 0.5
		g.log.Debug("gas price clamped", zap.Uint64("suggested_wei", price), zap.Uint64("clamped_wei", clamped))
	}
	return GasQuote{PriceWei: clamped, Limit: g.gasLimit, Confidence: confidence}, nil
}

func urgencyFactor(urgency Urgency) float64 {
	switch urgency {
	case UrgencyLow:
		return 0.9
	case UrgencyHigh:
		return 1.25
	}
	return 1.0
}
