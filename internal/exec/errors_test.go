package exec

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"arb-exec-bot/internal/arb"
)

func TestClassifyWrappedKinds(t *testing.T) {
	cases := []struct {
		err      error
		kind     arb.ErrorKind
		severity Severity
	}{
		{Wrap(arb.ErrKindGas, errors.New("base fee spiked")), arb.ErrKindGas, SeverityNormal},
		{Wrap(arb.ErrKindSimulation, errors.New("insufficient output")), arb.ErrKindSimulation, SeverityNormal},
		{WrapCritical(arb.ErrKindSecurity, errors.New("unauthorized signer")), arb.ErrKindSecurity, SeverityCritical},
		{fmt.Errorf("fetch quote: %w", Wrap(arb.ErrKindRevert, errors.New("reverted"))), arb.ErrKindRevert, SeverityNormal},
		{errors.New("connection refused"), arb.ErrKindNetwork, SeverityNormal},
		{context.DeadlineExceeded, arb.ErrKindNetwork, SeverityNormal},
	}
	for _, tc := range cases {
		kind, severity := Classify(tc.err)
		if kind != tc.kind || severity != tc.severity {
			t.Fatalf("Classify(%v) = (%s, %d), want (%s, %d)", tc.err, kind, severity, tc.kind, tc.severity)
		}
	}
}

func TestClassifyNil(t *testing.T) {
	if kind, _ := Classify(nil); kind != arb.ErrKindNone {
		t.Fatalf("expected none kind for nil, got %s", kind)
	}
}

func TestWrapNilPassthrough(t *testing.T) {
	if Wrap(arb.ErrKindGas, nil) != nil || WrapCritical(arb.ErrKindSystem, nil) != nil {
		t.Fatalf("wrapping nil must stay nil")
	}
}

func TestRetryableKinds(t *testing.T) {
	retryable := map[arb.ErrorKind]bool{
		arb.ErrKindNetwork:    true,
		arb.ErrKindGas:        true,
		arb.ErrKindSimulation: false,
		arb.ErrKindSecurity:   false,
		arb.ErrKindRevert:     false,
		arb.ErrKindSystem:     false,
	}
	for kind, want := range retryable {
		if got := Retryable(kind); got != want {
			t.Fatalf("Retryable(%s) = %v, want %v", kind, got, want)
		}
	}
}

func TestClassifiedErrorUnwraps(t *testing.T) {
	base := errors.New("socket closed")
	err := Wrap(arb.ErrKindNetwork, base)
	if !errors.Is(err, base) {
		t.Fatalf("classified error must unwrap to its cause")
	}
}
