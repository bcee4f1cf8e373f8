package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"arb-exec-bot/internal/arb"
	"arb-exec-bot/internal/config"
	"arb-exec-bot/internal/queue"
)

// Submitter takes validated opportunities off the feed. The orchestrator
// satisfies this.
type Submitter interface {
	SubmitOpportunity(opp *arb.Opportunity) error
}

// Feed maintains a websocket subscription to the opportunity scanner, decodes
// candidates, and hands them to the submitter. The connection reconnects with
// a fixed delay and resubscribes after every reconnect.
type Feed struct {
	url            string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	submitter      Submitter
	log            *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

func New(cfg config.FeedConfig, submitter Submitter, log *zap.Logger) *Feed {
	if log == nil {
		log = zap.NewNop()
	}
	return &Feed{
		url:            cfg.URL,
		reconnectDelay: cfg.ReconnectDelay,
		pingInterval:   cfg.PingInterval,
		submitter:      submitter,
		log:            log,
	}
}

var subscribeMessage = map[string]any{"method": "subscribe", "channel": "opportunities"}
var pingMessage = map[string]any{"method": "ping"}

// Run blocks until the context is cancelled, reconnecting on read errors.
func (f *Feed) Run(ctx context.Context) error {
	for {
		if err := f.ensureConnected(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.log.Warn("feed connect failed", zap.Error(err))
			if err := f.wait(ctx); err != nil {
				return err
			}
			continue
		}
		pingCtx, cancel := context.WithCancel(ctx)
		pingDone := make(chan struct{})
		go func() {
			defer close(pingDone)
			f.pingLoop(pingCtx)
		}()
		err := f.readLoop(ctx)
		cancel()
		<-pingDone
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logReadLoopError(err)
		f.resetConn()
		if err := f.wait(ctx); err != nil {
			return err
		}
	}
}

func (f *Feed) ensureConnected(ctx context.Context) error {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		dialed, _, err := websocket.Dial(ctx, f.url, nil)
		if err != nil {
			return err
		}
		f.mu.Lock()
		f.conn = dialed
		conn = dialed
		f.mu.Unlock()
	}
	return writeJSON(ctx, conn, subscribeMessage)
}

func (f *Feed) readLoop(ctx context.Context) error {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return errors.New("feed not connected")
	}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		f.handle(data)
	}
}

// envelope is the scanner wire shape. Channels other than "opportunities"
// (pongs, subscription acks) are ignored.
type envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type wireOpportunity struct {
	ID                string  `json:"id"`
	BaseToken         string  `json:"base_token"`
	QuoteToken        string  `json:"quote_token"`
	Venue             string  `json:"venue"`
	AmountUSD         float64 `json:"amount_usd"`
	ExpectedProfitUSD float64 `json:"expected_profit_usd"`
	ProfitMarginPct   float64 `json:"profit_margin_pct"`
	Confidence        float64 `json:"confidence"`
	DetectedAtMs      int64   `json:"detected_at_ms"`
	TTLMs             int64   `json:"ttl_ms"`
}

func (f *Feed) handle(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		f.log.Debug("feed message not an envelope", zap.Error(err))
		return
	}
	if env.Channel != "opportunities" {
		return
	}
	var wire wireOpportunity
	if err := json.Unmarshal(env.Data, &wire); err != nil {
		f.log.Warn("malformed opportunity", zap.Error(err))
		return
	}
	opp, err := wire.toOpportunity(time.Now())
	if err != nil {
		f.log.Warn("invalid opportunity", zap.String("id", wire.ID), zap.Error(err))
		return
	}
	if err := f.submitter.SubmitOpportunity(opp); err != nil {
		switch {
		case errors.Is(err, queue.ErrDuplicate):
			f.log.Debug("duplicate opportunity", zap.String("id", opp.ID))
		case errors.Is(err, queue.ErrPaused):
			f.log.Warn("admission paused, dropping opportunity", zap.String("id", opp.ID))
		case errors.Is(err, queue.ErrDropped):
			f.log.Debug("opportunity below queue floor", zap.String("id", opp.ID))
		default:
			f.log.Warn("opportunity rejected at admission", zap.String("id", opp.ID), zap.Error(err))
		}
	}
}

func (w wireOpportunity) toOpportunity(now time.Time) (*arb.Opportunity, error) {
	id := w.ID
	if id == "" {
		id = uuid.NewString()
	}
	detected := now
	if w.DetectedAtMs > 0 {
		detected = time.UnixMilli(w.DetectedAtMs)
	}
	ttl := time.Duration(w.TTLMs) * time.Millisecond
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	opp := &arb.Opportunity{
		ID:                id,
		Pair:              arb.TokenPair{Base: w.BaseToken, Quote: w.QuoteToken},
		Venue:             w.Venue,
		AmountUSD:         w.AmountUSD,
		ExpectedProfitUSD: w.ExpectedProfitUSD,
		ProfitMarginPct:   w.ProfitMarginPct,
		Confidence:        w.Confidence,
		DetectedAt:        detected,
		ExpiresAt:         detected.Add(ttl),
		Status:            arb.StatusPending,
	}
	if err := opp.Validate(); err != nil {
		return nil, err
	}
	return opp, nil
}

func (f *Feed) pingLoop(ctx context.Context) {
	f.mu.Lock()
	conn := f.conn
	interval := f.pingInterval
	f.mu.Unlock()
	if conn == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writeJSON(ctx, conn, pingMessage); err != nil {
				return
			}
		}
	}
}

func (f *Feed) logReadLoopError(err error) {
	if err == nil {
		return
	}
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		f.log.Info("feed connection closed", zap.Error(err))
		return
	}
	f.log.Warn("feed read loop ended", zap.Error(err))
}

func (f *Feed) resetConn() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		_ = f.conn.Close(websocket.StatusNormalClosure, "reset")
		f.conn = nil
	}
}

func (f *Feed) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(f.reconnectDelay):
		return nil
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
