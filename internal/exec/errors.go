package exec

import (
	"context"
	"errors"

	"arb-exec-bot/internal/arb"
)

type Severity int

const (
	SeverityNormal Severity = iota
	SeverityCritical
)

// ClassifiedError tags a failure with its taxonomy kind, which determines
// retry policy, nonce accounting, and breaker/queue side effects.
type ClassifiedError struct {
	Kind     arb.ErrorKind
	Severity Severity
	Err      error
}

func (e *ClassifiedError) Error() string {
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

func Wrap(kind arb.ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Kind: kind, Severity: SeverityNormal, Err: err}
}

func WrapCritical(kind arb.ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Kind: kind, Severity: SeverityCritical, Err: err}
}

// Classify resolves any error to a taxonomy kind and severity. Unwrapped
// errors from collaborators are transport-level by construction (reverts and
// validation failures arrive as receipts or explicit wraps), so the default
// kind is NETWORK.
func Classify(err error) (arb.ErrorKind, Severity) {
	if err == nil {
		return arb.ErrKindNone, SeverityNormal
	}
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Kind, classified.Severity
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return arb.ErrKindNetwork, SeverityNormal
	}
	return arb.ErrKindNetwork, SeverityNormal
}

// Retryable reports whether the kind may be retried with bounded backoff.
func Retryable(kind arb.ErrorKind) bool {
	switch kind {
	case arb.ErrKindNetwork, arb.ErrKindGas:
		return true
	}
	return false
}
