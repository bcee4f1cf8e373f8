package risk

import (
	"sync"
	"time"

	"arb-exec-bot/internal/arb"
)

// Ledger is the process-wide exposure, volume, and failure accounting shared
// by all workers. It is mutated only after a trade attempt concludes and read
// by the assessment step before dispatch. A single mutex guards all fields so
// accounting is atomic with respect to concurrent completions.
type Ledger struct {
	mu  sync.Mutex
	now func() time.Time

	failureWindow time.Duration

	tokenExposure map[string]float64
	venueExposure map[string]float64
	dailyVolume   float64
	day           time.Time

	trades              []tradeStamp
	consecutiveFailures int
	lastFailureAt       time.Time

	realizedPnL float64
	peakPnL     float64
	maxDrawdown float64

	tradeCount   int64
	successCount int64
	warningCount int64
	lastWarning  string
}

type tradeStamp struct {
	at      time.Time
	success bool
}

// Snapshot is an immutable view of the ledger at a point in time. The
// assessment function and circuit breaker consume snapshots only, never the
// ledger itself, which keeps both independently testable.
type Snapshot struct {
	TokenExposure       map[string]float64
	VenueExposure       map[string]float64
	DailyVolumeUSD      float64
	HourlyTradeCount    int
	WindowTradeCount    int
	WindowFailureCount  int
	ConsecutiveFailures int
	LastFailureAt       time.Time
	RealizedPnLUSD      float64
	MaxDrawdownUSD      float64
	TradeCount          int64
	SuccessCount        int64
	WarningCount        int64
	LastWarning         string
	TakenAt             time.Time
}

func NewLedger(failureWindow time.Duration) *Ledger {
	if failureWindow <= 0 {
		failureWindow = 10 * time.Minute
	}
	return &Ledger{
		now:           time.Now,
		failureWindow: failureWindow,
		tokenExposure: make(map[string]float64),
		venueExposure: make(map[string]float64),
	}
}

// SetClock overrides the ledger clock, for tests.
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// RecordTrade folds one execution result into the accounting. Successful
// trades add exposure and volume and reset the consecutive-failure counter;
// failures advance the failure counters only, so exposure never drifts from
// the sum of executed amounts.
func (l *Ledger) RecordTrade(res arb.ExecutionResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.rollDayLocked(now)

	l.tradeCount++
	l.trades = append(l.trades, tradeStamp{at: now, success: res.Success})
	l.pruneLocked(now)

	if res.Success {
		l.successCount++
		l.consecutiveFailures = 0
		l.tokenExposure[res.Pair.Base] += res.AmountUSD
		l.venueExposure[res.Venue] += res.AmountUSD
		l.dailyVolume += res.AmountUSD
	} else {
		l.consecutiveFailures++
		l.lastFailureAt = now
	}

	l.realizedPnL += res.ProfitUSD
	if l.realizedPnL > l.peakPnL {
		l.peakPnL = l.realizedPnL
	}
	if dd := l.peakPnL - l.realizedPnL; dd > l.maxDrawdown {
		l.maxDrawdown = dd
	}
}

// RecordWarning notes a rejected dispatch for audit without touching the
// exposure accounting.
func (l *Ledger) RecordWarning(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warningCount++
	l.lastWarning = reason
}

// ResetConsecutiveFailures zeroes the failure streak. Called by the circuit
// breaker when it closes.
func (l *Ledger) ResetConsecutiveFailures() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consecutiveFailures = 0
}

func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.rollDayLocked(now)
	l.pruneLocked(now)

	tokens := make(map[string]float64, len(l.tokenExposure))
	for k, v := range l.tokenExposure {
		tokens[k] = v
	}
	venues := make(map[string]float64, len(l.venueExposure))
	for k, v := range l.venueExposure {
		venues[k] = v
	}
	hourly, windowTrades, windowFailures := 0, 0, 0
	hourAgo := now.Add(-time.Hour)
	windowStart := now.Add(-l.failureWindow)
	for _, s := range l.trades {
		if s.at.After(hourAgo) {
			hourly++
		}
		if s.at.After(windowStart) {
			windowTrades++
			if !s.success {
				windowFailures++
			}
		}
	}
	return Snapshot{
		TokenExposure:       tokens,
		VenueExposure:       venues,
		DailyVolumeUSD:      l.dailyVolume,
		HourlyTradeCount:    hourly,
		WindowTradeCount:    windowTrades,
		WindowFailureCount:  windowFailures,
		ConsecutiveFailures: l.consecutiveFailures,
		LastFailureAt:       l.lastFailureAt,
		RealizedPnLUSD:      l.realizedPnL,
		MaxDrawdownUSD:      l.maxDrawdown,
		TradeCount:          l.tradeCount,
		SuccessCount:        l.successCount,
		WarningCount:        l.warningCount,
		LastWarning:         l.lastWarning,
		TakenAt:             now,
	}
}

// FailureRatePct returns the failure percentage over the snapshot's rolling
// window, or 0 when the window is empty.
func (s Snapshot) FailureRatePct() float64 {
	if s.WindowTradeCount == 0 {
		return 0
	}
	return float64(s.WindowFailureCount) / float64(s.WindowTradeCount) * 100
}

func (l *Ledger) rollDayLocked(now time.Time) {
	day := now.UTC().Truncate(24 * time.Hour)
	if !day.Equal(l.day) {
		l.day = day
		l.dailyVolume = 0
	}
}

// pruneLocked drops stamps older than the longest window we ever read
// (1h for the hourly count, failureWindow for the breaker).
func (l *Ledger) pruneLocked(now time.Time) {
	keep := time.Hour
	if l.failureWindow > keep {
		keep = l.failureWindow
	}
	cutoff := now.Add(-keep)
	i := 0
	for ; i < len(l.trades); i++ {
		if l.trades[i].at.After(cutoff) {
			break
		}
	}
	if i > 0 {
		l.trades = append(l.trades[:0], l.trades[i:]...)
	}
}
