package quotes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"arb-exec-bot/internal/arb"
	"arb-exec-bot/internal/chain"
)

// Client queries the scanner's REST surface for market depth and mempool
// threat scores. It implements chain.PriceSource and chain.ThreatScanner.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func New(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

type quoteRequest struct {
	Type      string  `json:"type"`
	Base      string  `json:"base"`
	Quote     string  `json:"quote"`
	AmountUSD float64 `json:"amount_usd,omitempty"`
}

type quoteResponse struct {
	Price          float64 `json:"price"`
	LiquidityUSD   float64 `json:"liquidity_usd"`
	PriceImpactPct float64 `json:"price_impact_pct"`
	Confidence     float64 `json:"confidence"`
}

type threatResponse struct {
	FrontrunRisk float64 `json:"frontrun_risk"`
	SandwichRisk float64 `json:"sandwich_risk"`
}

func (c *Client) GetPrice(ctx context.Context, pair arb.TokenPair) (chain.PriceQuote, error) {
	var resp quoteResponse
	req := quoteRequest{Type: "quote", Base: pair.Base, Quote: pair.Quote}
	if err := c.post(ctx, "/info", req, &resp); err != nil {
		return chain.PriceQuote{}, err
	}
	if resp.Price <= 0 {
		return chain.PriceQuote{}, fmt.Errorf("scanner returned no price for %s", pair)
	}
	return chain.PriceQuote{
		Price:          resp.Price,
		LiquidityUSD:   resp.LiquidityUSD,
		PriceImpactPct: resp.PriceImpactPct,
		Confidence:     resp.Confidence,
	}, nil
}

func (c *Client) GetThreatSignal(ctx context.Context, pair arb.TokenPair, amountUSD float64) (chain.ThreatSignal, error) {
	var resp threatResponse
	req := quoteRequest{Type: "threat", Base: pair.Base, Quote: pair.Quote, AmountUSD: amountUSD}
	if err := c.post(ctx, "/info", req, &resp); err != nil {
		return chain.ThreatSignal{}, err
	}
	return chain.ThreatSignal{
		FrontrunRisk: resp.FrontrunRisk,
		SandwichRisk: resp.SandwichRisk,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, req interface{}, out interface{}) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	url := c.baseURL + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
