package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"arb-exec-bot/internal/config"

	"go.uber.org/zap"
)

func TestTelegramLogEventFormatsMessage(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	cfg := config.TelegramConfig{Enabled: true, Token: "token123", ChatID: "chat456"}
	tg := newTelegram(cfg, zap.NewNop(), server.URL, server.Client())
	event := Event{Kind: EventBreaker, Severity: SeverityCritical, Message: "circuit breaker OPEN", At: time.Now()}
	if err := tg.LogEvent(context.Background(), event); err != nil {
		t.Fatalf("log event: %v", err)
	}
	if gotPath != "/bottoken123/sendMessage" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotBody["chat_id"] != "chat456" {
		t.Fatalf("unexpected chat id %s", gotBody["chat_id"])
	}
	if !strings.Contains(gotBody["text"], "breaker/critical") || !strings.Contains(gotBody["text"], "circuit breaker OPEN") {
		t.Fatalf("unexpected text %q", gotBody["text"])
	}
}

func TestTelegramDisabledIsNoop(t *testing.T) {
	tg := newTelegram(config.TelegramConfig{Enabled: false}, zap.NewNop(), "http://unused", nil)
	if err := tg.LogEvent(context.Background(), Event{Message: "x"}); err != nil {
		t.Fatalf("disabled sink should not error: %v", err)
	}
}

func TestTelegramAPIErrorSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer server.Close()
	cfg := config.TelegramConfig{Enabled: true, Token: "t", ChatID: "c"}
	tg := newTelegram(cfg, zap.NewNop(), server.URL, server.Client())
	err := tg.LogEvent(context.Background(), Event{Message: "x"})
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("expected api error, got %v", err)
	}
}

type captureSink struct {
	events chan Event
}

func (c *captureSink) LogEvent(ctx context.Context, event Event) error {
	_ = ctx
	c.events <- event
	return nil
}

func TestAsyncDeliversWithoutBlockingProducer(t *testing.T) {
	capture := &captureSink{events: make(chan Event, 4)}
	async := NewAsync(capture, 4, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = async.Run(ctx) }()

	if err := async.LogEvent(ctx, Event{Kind: EventSystem, Message: "hello"}); err != nil {
		t.Fatalf("log event: %v", err)
	}
	select {
	case got := <-capture.events:
		if got.Message != "hello" {
			t.Fatalf("unexpected event %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("event not delivered")
	}
}

func TestAsyncDropsWhenFull(t *testing.T) {
	// no Run loop draining, queue size 1
	async := NewAsync(Discard{}, 1, zap.NewNop())
	ctx := context.Background()
	_ = async.LogEvent(ctx, Event{Message: "a"})
	_ = async.LogEvent(ctx, Event{Message: "b"})
	if async.Dropped() != 1 {
		t.Fatalf("expected 1 dropped, got %d", async.Dropped())
	}
}
