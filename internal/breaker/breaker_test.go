package breaker

import (
	"testing"
	"time"

	"arb-exec-bot/internal/arb"
	"arb-exec-bot/internal/config"
	"arb-exec-bot/internal/risk"
)

func testBreakerConfig() config.BreakerConfig {
	return config.BreakerConfig{
		MaxConsecutiveFailures:  5,
		FailureRateWindow:       10 * time.Minute,
		FailureRateThresholdPct: 50,
		MinWindowSamples:        4,
		MaxDrawdownUSD:          1000,
		Cooldown:                time.Minute,
		AutoRecovery:            true,
	}
}

func failTrade() arb.ExecutionResult {
	return arb.ExecutionResult{
		Pair:      arb.TokenPair{Base: "WETH", Quote: "USDC"},
		Venue:     "uniswap-v3",
		AmountUSD: 100,
		Success:   false,
	}
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	ledger := risk.NewLedger(10 * time.Minute)
	b := New(testBreakerConfig())
	for i := 0; i < 5; i++ {
		if b.State() != StateClosed {
			t.Fatalf("breaker opened early after %d failures", i)
		}
		ledger.RecordTrade(failTrade())
		b.OnResult(false, ledger.Snapshot())
	}
	if b.State() != StateOpen {
		t.Fatalf("expected OPEN after 5 failures, got %s", b.State())
	}
	if b.Allow() {
		t.Fatalf("open breaker must reject dispatch")
	}
}

func TestOpensOnFailureRate(t *testing.T) {
	cfg := testBreakerConfig()
	cfg.MaxConsecutiveFailures = 100
	b := New(cfg)
	snap := risk.Snapshot{WindowTradeCount: 10, WindowFailureCount: 6}
	b.OnResult(false, snap)
	if b.State() != StateOpen {
		t.Fatalf("expected OPEN at 60%% failure rate, got %s", b.State())
	}
}

func TestFailureRateNeedsMinSamples(t *testing.T) {
	cfg := testBreakerConfig()
	cfg.MaxConsecutiveFailures = 100
	b := New(cfg)
	b.OnResult(false, risk.Snapshot{WindowTradeCount: 2, WindowFailureCount: 2})
	if b.State() != StateClosed {
		t.Fatalf("two samples must not trip the rate condition")
	}
}

func TestOpensOnDrawdown(t *testing.T) {
	b := New(testBreakerConfig())
	b.OnResult(true, risk.Snapshot{MaxDrawdownUSD: 1500})
	if b.State() != StateOpen {
		t.Fatalf("expected OPEN on drawdown, got %s", b.State())
	}
}

func TestCooldownRecoveryClosesAndResetsCounter(t *testing.T) {
	cfg := testBreakerConfig()
	cfg.RecoveryProbation = false
	clock := time.Now()
	resets := 0
	b := New(cfg,
		WithClock(func() time.Time { return clock }),
		WithCounterReset(func() { resets++ }),
	)
	b.ForceOpen("test")
	if b.Allow() {
		t.Fatalf("should reject before cooldown")
	}
	clock = clock.Add(cfg.Cooldown)
	if !b.Allow() {
		t.Fatalf("should allow after cooldown")
	}
	if b.State() != StateClosed {
		t.Fatalf("expected CLOSED after cooldown, got %s", b.State())
	}
	if resets != 1 {
		t.Fatalf("expected counter reset once, got %d", resets)
	}
}

func TestProbationSuccessClosesFailureReopens(t *testing.T) {
	cfg := testBreakerConfig()
	cfg.RecoveryProbation = true
	clock := time.Now()
	b := New(cfg, WithClock(func() time.Time { return clock }))

	b.ForceOpen("test")
	clock = clock.Add(cfg.Cooldown)
	if !b.Allow() {
		t.Fatalf("should allow probation attempt")
	}
	if b.State() != StateRecovering {
		t.Fatalf("expected RECOVERING, got %s", b.State())
	}
	b.OnResult(false, risk.Snapshot{})
	if b.State() != StateOpen {
		t.Fatalf("probation failure should reopen, got %s", b.State())
	}

	clock = clock.Add(cfg.Cooldown)
	if !b.Allow() {
		t.Fatalf("should allow second probation attempt")
	}
	b.OnResult(true, risk.Snapshot{})
	if b.State() != StateClosed {
		t.Fatalf("probation success should close, got %s", b.State())
	}
}

func TestNoAutoRecoveryStaysOpen(t *testing.T) {
	cfg := testBreakerConfig()
	cfg.AutoRecovery = false
	clock := time.Now()
	b := New(cfg, WithClock(func() time.Time { return clock }))
	b.ForceOpen("test")
	clock = clock.Add(time.Hour)
	if b.Allow() {
		t.Fatalf("without auto-recovery the breaker stays open")
	}
	b.Reset()
	if !b.Allow() {
		t.Fatalf("manual reset should close")
	}
}

func TestTransitionsObservedAndIdempotent(t *testing.T) {
	var transitions []string
	b := New(testBreakerConfig(), WithObserver(func(from, to State, reason string) {
		transitions = append(transitions, string(from)+"->"+string(to))
	}))
	b.ForceOpen("first")
	b.ForceOpen("again")
	b.Reset()
	b.Reset()
	want := []string{"CLOSED->OPEN", "OPEN->CLOSED"}
	if len(transitions) != len(want) {
		t.Fatalf("expected %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, transitions)
		}
	}
}
