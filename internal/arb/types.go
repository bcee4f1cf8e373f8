package arb

import "time"

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAdmitted  Status = "ADMITTED"
	StatusExecuting Status = "EXECUTING"
	StatusExecuted  Status = "EXECUTED"
	StatusFailed    Status = "FAILED"
	StatusExpired   Status = "EXPIRED"
	StatusRejected  Status = "REJECTED"
)

// Terminal reports whether the status is final. Terminal opportunities are
// retained only for metrics and never re-dispatched.
func (s Status) Terminal() bool {
	switch s {
	case StatusExecuted, StatusFailed, StatusExpired, StatusRejected:
		return true
	}
	return false
}

type ErrorKind string

const (
	ErrKindNone       ErrorKind = ""
	ErrKindNetwork    ErrorKind = "NETWORK"
	ErrKindSimulation ErrorKind = "SIMULATION"
	ErrKindGas        ErrorKind = "GAS"
	ErrKindSecurity   ErrorKind = "SECURITY"
	ErrKindRevert     ErrorKind = "REVERT"
	ErrKindSystem     ErrorKind = "SYSTEM"
)

type Countermeasure string

const (
	CountermeasureNone         Countermeasure = "none"
	CountermeasureDelay        Countermeasure = "delay"
	CountermeasureGasBump      Countermeasure = "gas-bump"
	CountermeasureCommitReveal Countermeasure = "commit-reveal"
)

type TokenPair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

func (p TokenPair) String() string {
	return p.Base + "/" + p.Quote
}

// Opportunity is a candidate arbitrage trade discovered by the external
// scanner. It is owned by the admission queue until dispatched and by exactly
// one worker while executing.
type Opportunity struct {
	ID                string    `json:"id"`
	Pair              TokenPair `json:"pair"`
	Venue             string    `json:"venue"`
	AmountUSD         float64   `json:"amount_usd"`
	ExpectedProfitUSD float64   `json:"expected_profit_usd"`
	GasEstimate       uint64    `json:"gas_estimate"`
	ProfitMarginPct   float64   `json:"profit_margin_pct"`
	Confidence        float64   `json:"confidence"`
	RiskScore         float64   `json:"risk_score"`
	MEVRisk           float64   `json:"mev_risk"`
	DetectedAt        time.Time `json:"detected_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	Status            Status    `json:"status"`
}

func (o *Opportunity) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// ExecutionProbability estimates how likely the opportunity is still
// executable: the remaining fraction of its lifetime, clamped to [0,1].
func (o *Opportunity) ExecutionProbability(now time.Time) float64 {
	total := o.ExpiresAt.Sub(o.DetectedAt)
	if total <= 0 {
		return 0
	}
	remaining := o.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	frac := float64(remaining) / float64(total)
	if frac > 1 {
		return 1
	}
	return frac
}

// PriorityScore orders the admission queue: higher means dispatched first.
func (o *Opportunity) PriorityScore(now time.Time) float64 {
	return o.ProfitMarginPct * o.Confidence * o.ExecutionProbability(now)
}

// Validate rejects structurally invalid opportunities before they enter the
// queue.
func (o *Opportunity) Validate() error {
	switch {
	case o.ID == "":
		return errInvalid("id is required")
	case o.Pair.Base == "" || o.Pair.Quote == "":
		return errInvalid("token pair is required")
	case o.AmountUSD <= 0:
		return errInvalid("amount must be > 0")
	case o.Confidence < 0 || o.Confidence > 1:
		return errInvalid("confidence out of range [0,1]")
	case !o.ExpiresAt.After(o.DetectedAt):
		return errInvalid("expires_at must be after detected_at")
	}
	return nil
}

type invalidError string

func errInvalid(msg string) error { return invalidError(msg) }

func (e invalidError) Error() string { return "invalid opportunity: " + string(e) }

// ExecutionTicket is the fully-resolved parameter set submitted for an
// admitted opportunity. Created at dispatch time, consumed exactly once.
type ExecutionTicket struct {
	OpportunityID  string         `msgpack:"opportunity_id"`
	Signer         string         `msgpack:"signer"`
	Nonce          uint64         `msgpack:"nonce"`
	Pair           TokenPair      `msgpack:"pair"`
	Venue          string         `msgpack:"venue"`
	AmountUSD      float64        `msgpack:"amount_usd"`
	SlippageBps    int            `msgpack:"slippage_bps"`
	GasPriceWei    uint64         `msgpack:"gas_price_wei"`
	GasLimit       uint64         `msgpack:"gas_limit"`
	Deadline       time.Time      `msgpack:"deadline"`
	Countermeasure Countermeasure `msgpack:"countermeasure"`
	CommitHash     string         `msgpack:"commit_hash,omitempty"`
}

// ExecutionResult records the outcome of one ticket. It is immutable once
// produced and feeds the risk ledger update.
type ExecutionResult struct {
	OpportunityID string
	Pair          TokenPair
	Venue         string
	AmountUSD     float64
	Success       bool
	ProfitUSD     float64
	GasUsed       uint64
	Duration      time.Duration
	ErrKind       ErrorKind
	ErrMessage    string
	NonceConsumed bool
	CompletedAt   time.Time
}
