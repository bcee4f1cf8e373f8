package alerts

import (
	"context"
	"time"
)

type EventKind string

const (
	EventBreaker  EventKind = "breaker"
	EventSecurity EventKind = "security"
	EventSystem   EventKind = "system"
)

type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityWarning  EventSeverity = "warning"
	SeverityCritical EventSeverity = "critical"
)

// Event is a fire-and-forget notification for operators. Producers call
// LogEvent from well-defined points; delivery must never block them.
type Event struct {
	Kind     EventKind
	Severity EventSeverity
	Message  string
	At       time.Time
}

type Sink interface {
	LogEvent(ctx context.Context, event Event) error
}

// Discard drops every event. Used when alerting is disabled.
type Discard struct{}

func (Discard) LogEvent(ctx context.Context, event Event) error {
	_ = ctx
	_ = event
	return nil
}
