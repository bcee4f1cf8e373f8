package queue

import (
	"fmt"
	"testing"
	"time"

	"arb-exec-bot/internal/arb"
)

func makeOpp(id string, margin float64, now time.Time, ttl time.Duration) *arb.Opportunity {
	return &arb.Opportunity{
		ID:              id,
		Pair:            arb.TokenPair{Base: "WETH", Quote: "USDC"},
		Venue:           "uniswap-v3",
		AmountUSD:       100,
		ProfitMarginPct: margin,
		Confidence:      1,
		DetectedAt:      now,
		ExpiresAt:       now.Add(ttl),
		Status:          arb.StatusPending,
	}
}

func TestEnqueueRejectsDuplicates(t *testing.T) {
	q := New(8)
	now := time.Now()
	opp := makeOpp("a", 1, now, time.Minute)
	if err := q.Enqueue(opp); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(opp); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestDequeueBatchPriorityOrder(t *testing.T) {
	q := New(8)
	now := time.Now()
	q.SetClock(func() time.Time { return now })
	for i, margin := range []float64{0.5, 2.0, 1.0} {
		if err := q.Enqueue(makeOpp(fmt.Sprintf("opp-%d", i), margin, now, time.Minute)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	admitted, expired := q.DequeueBatch(3)
	if len(expired) != 0 {
		t.Fatalf("unexpected expirations: %d", len(expired))
	}
	if len(admitted) != 3 {
		t.Fatalf("expected 3 admitted, got %d", len(admitted))
	}
	want := []string{"opp-1", "opp-2", "opp-0"}
	for i, opp := range admitted {
		if opp.ID != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], opp.ID)
		}
		if opp.Status != arb.StatusAdmitted {
			t.Fatalf("expected ADMITTED, got %s", opp.Status)
		}
	}
}

func TestCapacityDropsLowestPriorityTail(t *testing.T) {
	q := New(2)
	now := time.Now()
	q.SetClock(func() time.Time { return now })
	low := makeOpp("low", 0.1, now, time.Minute)
	mid := makeOpp("mid", 1.0, now, time.Minute)
	high := makeOpp("high", 5.0, now, time.Minute)
	for _, opp := range []*arb.Opportunity{low, mid} {
		if err := q.Enqueue(opp); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if err := q.Enqueue(high); err != nil {
		t.Fatalf("enqueue over capacity: %v", err)
	}
	if low.Status != arb.StatusRejected {
		t.Fatalf("expected tail rejected, got %s", low.Status)
	}
	if q.Len() != 2 {
		t.Fatalf("expected depth 2, got %d", q.Len())
	}

	lower := makeOpp("lower", 0.05, now, time.Minute)
	if err := q.Enqueue(lower); err != ErrDropped {
		t.Fatalf("expected ErrDropped, got %v", err)
	}
}

func TestDequeueEvictsExpired(t *testing.T) {
	q := New(8)
	now := time.Now()
	clock := now
	q.SetClock(func() time.Time { return clock })
	fresh := makeOpp("fresh", 1, now, time.Minute)
	stale := makeOpp("stale", 9, now, time.Second)
	if err := q.Enqueue(fresh); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(stale); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	clock = now.Add(2 * time.Second)
	admitted, expired := q.DequeueBatch(2)
	if len(expired) != 1 || expired[0].ID != "stale" {
		t.Fatalf("expected stale evicted, got %v", expired)
	}
	if expired[0].Status != arb.StatusExpired {
		t.Fatalf("expected EXPIRED, got %s", expired[0].Status)
	}
	if len(admitted) != 1 || admitted[0].ID != "fresh" {
		t.Fatalf("expected fresh admitted, got %v", admitted)
	}
}

func TestPauseBlocksEnqueueAndDequeue(t *testing.T) {
	q := New(8)
	now := time.Now()
	if err := q.Enqueue(makeOpp("a", 1, now, time.Minute)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	q.Pause()
	if err := q.Enqueue(makeOpp("b", 1, now, time.Minute)); err != ErrPaused {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
	admitted, _ := q.DequeueBatch(1)
	if len(admitted) != 0 {
		t.Fatalf("paused queue should not dispatch")
	}
	q.Resume()
	admitted, _ = q.DequeueBatch(1)
	if len(admitted) != 1 {
		t.Fatalf("expected dispatch after resume")
	}
}
