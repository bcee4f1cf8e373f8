package alerts

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

// Async wraps a sink behind a bounded queue so producers never block on
// delivery. Events are dropped (and counted) when the queue is full.
type Async struct {
	sink    Sink
	events  chan Event
	log     *zap.Logger
	started atomic.Bool
	dropped atomic.Uint64
}

func NewAsync(sink Sink, queueSize int, log *zap.Logger) *Async {
	if queueSize <= 0 {
		queueSize = 64
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Async{
		sink:   sink,
		events: make(chan Event, queueSize),
		log:    log,
	}
}

// Run delivers queued events until the context is cancelled.
func (a *Async) Run(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-a.events:
			if err := a.sink.LogEvent(ctx, event); err != nil {
				a.log.Warn("alert delivery failed", zap.String("kind", string(event.Kind)), zap.Error(err))
			}
		}
	}
}

func (a *Async) LogEvent(ctx context.Context, event Event) error {
	_ = ctx
	select {
	case a.events <- event:
	default:
		if a.dropped.Add(1) == 1 {
			a.log.Warn("alert queue full, dropping events")
		}
	}
	return nil
}

func (a *Async) Dropped() uint64 {
	return a.dropped.Load()
}
