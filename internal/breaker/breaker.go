package breaker

import (
	"sync"
	"time"

	"arb-exec-bot/internal/config"
	"arb-exec-bot/internal/risk"
)

type State string

const (
	StateClosed     State = "CLOSED"
	StateOpen       State = "OPEN"
	StateRecovering State = "RECOVERING"
)

// Observer is invoked on every state transition. Implementations must not
// block; alerting fan-out happens behind a bounded queue.
type Observer func(from, to State, reason string)

// Status is the externally visible breaker state.
type Status struct {
	State     State
	EnteredAt time.Time
	Reason    string
}

// Breaker gates all dispatch. It is a singleton per trading account, derived
// from the risk ledger's rolling statistics: it holds no storage beyond the
// current state, the time it entered it, and its thresholds.
type Breaker struct {
	mu           sync.Mutex
	cfg          config.BreakerConfig
	state        State
	enteredAt    time.Time
	reason       string
	now          func() time.Time
	observer     Observer
	resetCounter func()
}

type Option func(*Breaker)

// WithObserver registers a transition hook.
func WithObserver(obs Observer) Option {
	return func(b *Breaker) { b.observer = obs }
}

// WithCounterReset registers the ledger callback that zeroes the
// consecutive-failure counter when the breaker closes.
func WithCounterReset(reset func()) Option {
	return func(b *Breaker) { b.resetCounter = reset }
}

// WithClock overrides the breaker clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

func New(cfg config.BreakerConfig, opts ...Option) *Breaker {
	b := &Breaker{
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.enteredAt = b.now()
	return b
}

// Allow reports whether a dispatch may proceed. While OPEN it fails fast
// before any collaborator call; once the cooldown has elapsed with
// auto-recovery enabled it transitions to RECOVERING (or straight to CLOSED
// if probation is disabled) and permits the attempt.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return true
	}
	if !b.cfg.AutoRecovery {
		return false
	}
	if b.now().Sub(b.enteredAt) < b.cfg.Cooldown {
		return false
	}
	if b.cfg.RecoveryProbation {
		b.transitionLocked(StateRecovering, "cooldown elapsed")
	} else {
		b.transitionLocked(StateClosed, "cooldown elapsed")
	}
	return true
}

// OnResult folds a completed trade attempt into the state machine. In
// RECOVERING the first success closes the breaker and the first failure
// re-opens it, restarting the cooldown. Trip conditions are pure functions of
// the ledger snapshot.
func (b *Breaker) OnResult(success bool, snap risk.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateRecovering:
		if success {
			b.transitionLocked(StateClosed, "probation trade succeeded")
			return
		}
		b.transitionLocked(StateOpen, "probation trade failed")
	case StateClosed:
		if reason, tripped := b.tripReason(snap); tripped {
			b.transitionLocked(StateOpen, reason)
		}
	}
}

// ForceOpen halts all dispatch immediately. Idempotent.
func (b *Breaker) ForceOpen(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(StateOpen, reason)
}

// Reset closes the breaker manually and zeroes the failure counter.
// Idempotent.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(StateClosed, "manual reset")
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{State: b.state, EnteredAt: b.enteredAt, Reason: b.reason}
}

func (b *Breaker) tripReason(snap risk.Snapshot) (string, bool) {
	if b.cfg.MaxConsecutiveFailures > 0 && snap.ConsecutiveFailures >= b.cfg.MaxConsecutiveFailures {
		return "consecutive failure limit reached", true
	}
	if b.cfg.FailureRateThresholdPct > 0 &&
		snap.WindowTradeCount >= b.cfg.MinWindowSamples &&
		snap.FailureRatePct() > b.cfg.FailureRateThresholdPct {
		return "failure rate over rolling window exceeded", true
	}
	if b.cfg.MaxDrawdownUSD > 0 && snap.MaxDrawdownUSD > b.cfg.MaxDrawdownUSD {
		return "drawdown ceiling exceeded", true
	}
	return "", false
}

func (b *Breaker) transitionLocked(to State, reason string) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.enteredAt = b.now()
	b.reason = reason
	if to == StateClosed && b.resetCounter != nil {
		b.resetCounter()
	}
	if b.observer != nil {
		b.observer(from, to, reason)
	}
}
