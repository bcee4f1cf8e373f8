package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"arb-exec-bot/internal/arb"
	"arb-exec-bot/internal/chain"
	"arb-exec-bot/internal/config"
	"arb-exec-bot/internal/exec"
	"arb-exec-bot/internal/logging"
	"arb-exec-bot/internal/quotes"
	"arb-exec-bot/internal/risk"
)

// verify runs one opportunity through the admission scoring, risk assessment,
// and countermeasure planning offline, so operators can check a configuration
// change before it gates real submissions.

const defaultVerifyEnvFile = ".env"

func main() {
	configPath := flag.String("config", "", "optional config path for risk and mev settings")
	pairFlag := flag.String("pair", "WETH/USDC", "token pair as BASE/QUOTE")
	venue := flag.String("venue", "uniswap-v3", "execution venue")
	amount := flag.Float64("amount", 500, "trade amount in USD")
	profit := flag.Float64("profit", 5, "expected profit in USD")
	margin := flag.Float64("margin", 1, "profit margin percent")
	confidence := flag.Float64("confidence", 0.9, "scanner confidence in [0,1]")
	ttl := flag.Duration("ttl", 30*time.Second, "opportunity lifetime")
	liquidity := flag.Float64("liquidity", 100000, "pool liquidity in USD")
	impact := flag.Float64("impact", 0.3, "price impact percent")
	frontrun := flag.Float64("frontrun", 0, "frontrun risk score in [0,100]")
	sandwich := flag.Float64("sandwich", 0, "sandwich risk score in [0,100]")
	live := flag.Bool("live", false, "fetch liquidity, impact, and threat from the scanner")
	flag.Parse()

	if err := config.LoadEnv(defaultVerifyEnvFile); err != nil {
		fatal(err)
	}

	cfg := defaultVerifyConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		cfg = loaded
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	pair, err := parsePair(*pairFlag)
	if err != nil {
		fatal(err)
	}
	now := time.Now().UTC()
	opp := &arb.Opportunity{
		ID:                fmt.Sprintf("verify-%s", now.Format("20060102T150405Z")),
		Pair:              pair,
		Venue:             *venue,
		AmountUSD:         *amount,
		ExpectedProfitUSD: *profit,
		ProfitMarginPct:   *margin,
		Confidence:        *confidence,
		DetectedAt:        now,
		ExpiresAt:         now.Add(*ttl),
		Status:            arb.StatusPending,
	}
	if err := opp.Validate(); err != nil {
		fatal(err)
	}

	market := risk.MarketView{LiquidityUSD: *liquidity, PriceImpactPct: *impact}
	signal := chain.ThreatSignal{FrontrunRisk: *frontrun, SandwichRisk: *sandwich}
	if *live {
		if cfg.Feed.QuoteBaseURL == "" {
			fatal(errors.New("feed.quote_base_url is required for -live"))
		}
		client := quotes.New(cfg.Feed.QuoteBaseURL, cfg.Feed.QuoteTimeout, log)
		ctx := context.Background()
		quote, err := client.GetPrice(ctx, pair)
		if err != nil {
			fatal(err)
		}
		market = risk.MarketView{LiquidityUSD: quote.LiquidityUSD, PriceImpactPct: quote.PriceImpactPct}
		signal, err = client.GetThreatSignal(ctx, pair, opp.AmountUSD)
		if err != nil {
			fatal(err)
		}
	}

	ledger := risk.NewLedger(cfg.Breaker.FailureRateWindow)
	assessment := risk.Assess(cfg.Risk, opp, market, ledger.Snapshot())
	plan := exec.PlanCountermeasure(cfg.MEV, signal, func() float64 { return 0.5 })

	fmt.Printf("opportunity: pair=%s venue=%s amount_usd=%.2f priority=%.4f\n",
		pair, opp.Venue, opp.AmountUSD, opp.PriorityScore(now))
	fmt.Printf("market: liquidity_usd=%.2f impact_pct=%.2f\n", market.LiquidityUSD, market.PriceImpactPct)
	fmt.Printf("assessment: approved=%t score=%d max_allowed_usd=%.2f slippage_bps=%d\n",
		assessment.Approved, assessment.RiskScore, assessment.MaxAllowedAmountUSD, assessment.RecommendedSlippageBps)
	for _, warning := range assessment.Warnings {
		fmt.Printf("  warning: %s\n", warning)
	}
	fmt.Printf("threat: frontrun=%.0f sandwich=%.0f\n", signal.FrontrunRisk, signal.SandwichRisk)
	if plan.Reject {
		fmt.Println("countermeasure: reject (threat above extreme threshold)")
		return
	}
	fmt.Printf("countermeasure: %s delay=%s gas_bump_pct=%.0f slippage_tighten_bps=%d\n",
		plan.Countermeasure, plan.Delay, plan.GasBumpPct, plan.SlippageTightenBps)
}

func parsePair(raw string) (arb.TokenPair, error) {
	parts := strings.SplitN(strings.TrimSpace(raw), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return arb.TokenPair{}, fmt.Errorf("invalid pair %q: expected BASE/QUOTE", raw)
	}
	return arb.TokenPair{Base: strings.ToUpper(parts[0]), Quote: strings.ToUpper(parts[1])}, nil
}

func defaultVerifyConfig() *config.Config {
	return &config.Config{
		Log: config.LoggingConfig{Level: "info"},
		Risk: config.RiskConfig{
			MaxTokenExposureUSD:    10000,
			MaxVenueExposureUSD:    20000,
			MaxSingleTradeUSD:      1000,
			MaxDailyVolumeUSD:      50000,
			MinLiquidityUSD:        5000,
			MaxPriceImpactPct:      3,
			MaxHourlyTrades:        60,
			MaxConsecutiveFailures: 5,
			BaseSlippageBps:        50,
			MaxSlippageBps:         500,
		},
		Breaker: config.BreakerConfig{FailureRateWindow: 10 * time.Minute},
		MEV: config.MEVConfig{
			ProtectThreshold:      40,
			CommitRevealThreshold: 70,
			ExtremeThreshold:      90,
			MaxProtectDelay:       2 * time.Second,
			GasBumpPct:            15,
			SlippageTightenBps:    10,
		},
		Feed: config.FeedConfig{QuoteTimeout: 5 * time.Second},
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
