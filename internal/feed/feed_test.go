package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"arb-exec-bot/internal/arb"
	"arb-exec-bot/internal/config"
)

type captureSubmitter struct {
	mu   sync.Mutex
	opps []*arb.Opportunity
}

func (c *captureSubmitter) SubmitOpportunity(opp *arb.Opportunity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opps = append(c.opps, opp)
	return nil
}

func (c *captureSubmitter) snapshot() []*arb.Opportunity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*arb.Opportunity(nil), c.opps...)
}

func feedServer(t *testing.T, ctx context.Context, payloads [][]byte, subscribed chan<- map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept ws: %v", err)
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err == nil && subscribed != nil {
			select {
			case subscribed <- msg:
			default:
			}
		}
		for _, payload := range payloads {
			if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
				return
			}
		}
		<-ctx.Done()
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testFeedConfig(url string) config.FeedConfig {
	return config.FeedConfig{URL: url, ReconnectDelay: 10 * time.Millisecond, PingInterval: time.Minute}
}

func TestFeedSubscribesAndDeliversOpportunities(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	payload := []byte(`{"channel":"opportunities","data":{
		"id":"scan-1","base_token":"WETH","quote_token":"USDC","venue":"uniswap-v3",
		"amount_usd":500,"expected_profit_usd":4.2,"profit_margin_pct":0.84,
		"confidence":0.9,"ttl_ms":30000}}`)
	subscribed := make(chan map[string]any, 1)
	server := feedServer(t, ctx, [][]byte{payload}, subscribed)
	defer server.Close()

	sink := &captureSubmitter{}
	f := New(testFeedConfig(wsURL(server)), sink, zap.NewNop())
	go func() { _ = f.Run(ctx) }()

	select {
	case msg := <-subscribed:
		if msg["method"] != "subscribe" || msg["channel"] != "opportunities" {
			t.Fatalf("unexpected subscription %v", msg)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for subscription")
	}

	deadline := time.After(time.Second)
	for len(sink.snapshot()) == 0 {
		select {
		case <-deadline:
			t.Fatalf("no opportunity delivered")
		case <-time.After(5 * time.Millisecond):
		}
	}
	opp := sink.snapshot()[0]
	if opp.ID != "scan-1" {
		t.Fatalf("expected scanner id, got %q", opp.ID)
	}
	if opp.Pair.Base != "WETH" || opp.Pair.Quote != "USDC" {
		t.Fatalf("unexpected pair %+v", opp.Pair)
	}
	if opp.Status != arb.StatusPending {
		t.Fatalf("expected PENDING, got %s", opp.Status)
	}
	if want := opp.DetectedAt.Add(30 * time.Second); !opp.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, opp.ExpiresAt)
	}
}

func TestFeedSkipsMalformedAndForeignChannels(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	payloads := [][]byte{
		[]byte(`not json at all`),
		[]byte(`{"channel":"pong"}`),
		[]byte(`{"channel":"opportunities","data":{"id":"bad","amount_usd":-5}}`),
		[]byte(`{"channel":"opportunities","data":{
			"id":"scan-ok","base_token":"WBTC","quote_token":"USDT","venue":"curve",
			"amount_usd":100,"expected_profit_usd":1,"profit_margin_pct":1,
			"confidence":0.8,"ttl_ms":10000}}`),
	}
	server := feedServer(t, ctx, payloads, nil)
	defer server.Close()

	sink := &captureSubmitter{}
	f := New(testFeedConfig(wsURL(server)), sink, zap.NewNop())
	go func() { _ = f.Run(ctx) }()

	deadline := time.After(time.Second)
	for len(sink.snapshot()) == 0 {
		select {
		case <-deadline:
			t.Fatalf("valid opportunity never delivered")
		case <-time.After(5 * time.Millisecond):
		}
	}
	opps := sink.snapshot()
	if len(opps) != 1 || opps[0].ID != "scan-ok" {
		t.Fatalf("expected only the valid opportunity, got %+v", opps)
	}
}

func TestWireOpportunityMintsIDWhenMissing(t *testing.T) {
	wire := wireOpportunity{
		BaseToken:       "WETH",
		QuoteToken:      "DAI",
		Venue:           "sushiswap",
		AmountUSD:       50,
		ProfitMarginPct: 0.5,
		Confidence:      0.7,
		TTLMs:           5000,
	}
	opp, err := wire.toOpportunity(time.Now())
	if err != nil {
		t.Fatalf("toOpportunity: %v", err)
	}
	if opp.ID == "" {
		t.Fatalf("expected minted id")
	}
	other, err := wire.toOpportunity(time.Now())
	if err != nil {
		t.Fatalf("toOpportunity: %v", err)
	}
	if other.ID == opp.ID {
		t.Fatalf("minted ids must be unique")
	}
}

func TestFeedReconnectsAfterServerClose(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var mu sync.Mutex
	connects := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		connects++
		n := connects
		mu.Unlock()
		if n == 1 {
			_ = conn.Close(websocket.StatusGoingAway, "rotating")
			return
		}
		_, _, _ = conn.Read(ctx)
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}))
	defer server.Close()

	f := New(testFeedConfig(wsURL(server)), &captureSubmitter{}, zap.NewNop())
	go func() { _ = f.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := connects
		mu.Unlock()
		if n >= 2 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("feed did not reconnect, %d connects", n)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
