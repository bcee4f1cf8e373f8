package arb

import (
	"testing"
	"time"
)

func validOpportunity(now time.Time) Opportunity {
	return Opportunity{
		ID:              "opp-1",
		Pair:            TokenPair{Base: "WETH", Quote: "USDC"},
		Venue:           "uniswap-v3",
		AmountUSD:       500,
		ProfitMarginPct: 1.2,
		Confidence:      0.8,
		DetectedAt:      now,
		ExpiresAt:       now.Add(10 * time.Second),
		Status:          StatusPending,
	}
}

func TestValidate(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name   string
		mutate func(*Opportunity)
		wantOK bool
	}{
		{"valid", func(o *Opportunity) {}, true},
		{"missing id", func(o *Opportunity) { o.ID = "" }, false},
		{"missing pair", func(o *Opportunity) { o.Pair.Quote = "" }, false},
		{"zero amount", func(o *Opportunity) { o.AmountUSD = 0 }, false},
		{"negative amount", func(o *Opportunity) { o.AmountUSD = -1 }, false},
		{"confidence above one", func(o *Opportunity) { o.Confidence = 1.5 }, false},
		{"expires before detected", func(o *Opportunity) { o.ExpiresAt = o.DetectedAt }, false},
	}
	for _, tc := range cases {
		opp := validOpportunity(now)
		tc.mutate(&opp)
		err := opp.Validate()
		if tc.wantOK && err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if !tc.wantOK && err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestExecutionProbabilityDecays(t *testing.T) {
	now := time.Now()
	opp := validOpportunity(now)
	if got := opp.ExecutionProbability(now); got != 1 {
		t.Fatalf("expected 1 at detection, got %f", got)
	}
	mid := now.Add(5 * time.Second)
	if got := opp.ExecutionProbability(mid); got < 0.49 || got > 0.51 {
		t.Fatalf("expected ~0.5 at half life, got %f", got)
	}
	if got := opp.ExecutionProbability(opp.ExpiresAt); got != 0 {
		t.Fatalf("expected 0 at expiry, got %f", got)
	}
}

func TestPriorityScoreOrdersByMarginAndConfidence(t *testing.T) {
	now := time.Now()
	a := validOpportunity(now)
	b := validOpportunity(now)
	b.ProfitMarginPct = a.ProfitMarginPct * 2
	if b.PriorityScore(now) <= a.PriorityScore(now) {
		t.Fatalf("higher margin should score higher")
	}
	c := validOpportunity(now)
	c.Confidence = 0.1
	if c.PriorityScore(now) >= a.PriorityScore(now) {
		t.Fatalf("lower confidence should score lower")
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []Status{StatusExecuted, StatusFailed, StatusExpired, StatusRejected} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusAdmitted, StatusExecuting} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}
