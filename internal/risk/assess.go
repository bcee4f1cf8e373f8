package risk

import (
	"fmt"
	"math"

	"arb-exec-bot/internal/arb"
	"arb-exec-bot/internal/config"
)

// MarketView carries the liquidity and impact measurements the assessment
// needs from the price source collaborator.
type MarketView struct {
	LiquidityUSD   float64
	PriceImpactPct float64
}

// Assessment is the outcome of scoring one opportunity against a ledger
// snapshot.
type Assessment struct {
	Approved               bool
	RiskScore              int
	Warnings               []string
	MaxAllowedAmountUSD    float64
	RecommendedSlippageBps int
}

// Assess scores an opportunity against the static risk configuration and a
// ledger snapshot. It is deterministic and side-effect-free: identical inputs
// always yield identical output.
func Assess(cfg config.RiskConfig, opp *arb.Opportunity, market MarketView, snap Snapshot) Assessment {
	score := 0.0
	blocked := false
	var warnings []string

	warn := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}
	block := func(points float64, format string, args ...any) {
		blocked = true
		score += points
		warn(format, args...)
	}

	if onList(cfg.TokenBlacklist, opp.Pair.Base) || onList(cfg.TokenBlacklist, opp.Pair.Quote) {
		block(100, "token %s is blacklisted", opp.Pair)
	}
	if len(cfg.TokenWhitelist) > 0 &&
		(!onList(cfg.TokenWhitelist, opp.Pair.Base) || !onList(cfg.TokenWhitelist, opp.Pair.Quote)) {
		score += 30
		warn("token %s not on whitelist", opp.Pair)
	}

	tokenExposure := snap.TokenExposure[opp.Pair.Base]
	if tokenExposure >= cfg.MaxTokenExposureUSD || tokenExposure+opp.AmountUSD > cfg.MaxTokenExposureUSD {
		block(40, "token exposure %.2f + %.2f exceeds cap %.2f", tokenExposure, opp.AmountUSD, cfg.MaxTokenExposureUSD)
	}
	venueExposure := snap.VenueExposure[opp.Venue]
	if venueExposure >= cfg.MaxVenueExposureUSD || venueExposure+opp.AmountUSD > cfg.MaxVenueExposureUSD {
		block(40, "venue exposure %.2f + %.2f exceeds cap %.2f", venueExposure, opp.AmountUSD, cfg.MaxVenueExposureUSD)
	}

	if opp.AmountUSD > cfg.MaxSingleTradeUSD {
		block(100, "amount %.2f exceeds single-trade cap %.2f", opp.AmountUSD, cfg.MaxSingleTradeUSD)
	} else if snap.DailyVolumeUSD+opp.AmountUSD > cfg.MaxDailyVolumeUSD {
		block(100, "daily volume %.2f + %.2f exceeds cap %.2f", snap.DailyVolumeUSD, opp.AmountUSD, cfg.MaxDailyVolumeUSD)
	} else {
		switch ratio := opp.AmountUSD / cfg.MaxSingleTradeUSD; {
		case ratio > 0.8:
			score += 30
			warn("amount is %.0f%% of single-trade cap", ratio*100)
		case ratio > 0.5:
			score += 15
			warn("amount is %.0f%% of single-trade cap", ratio*100)
		}
	}

	if cfg.MinLiquidityUSD > 0 && market.LiquidityUSD < cfg.MinLiquidityUSD {
		score += 50
		warn("liquidity %.2f below minimum %.2f", market.LiquidityUSD, cfg.MinLiquidityUSD)
	}
	if market.LiquidityUSD > 0 {
		switch sizePct := opp.AmountUSD / market.LiquidityUSD * 100; {
		case sizePct > 10:
			score += 40
			warn("trade is %.1f%% of available liquidity", sizePct)
		case sizePct > 5:
			score += 20
			warn("trade is %.1f%% of available liquidity", sizePct)
		}
	}

	if market.PriceImpactPct > cfg.MaxPriceImpactPct {
		block(100, "price impact %.2f%% above max %.2f%%", market.PriceImpactPct, cfg.MaxPriceImpactPct)
	} else if cfg.MaxPriceImpactPct > 0 {
		switch frac := market.PriceImpactPct / cfg.MaxPriceImpactPct; {
		case frac >= 0.8:
			score += 30
			warn("price impact at %.0f%% of max", frac*100)
		case frac >= 0.5:
			score += 15
			warn("price impact at %.0f%% of max", frac*100)
		}
	}

	if cfg.MaxHourlyTrades > 0 && snap.HourlyTradeCount >= cfg.MaxHourlyTrades {
		block(100, "hourly trade count %d at cap %d", snap.HourlyTradeCount, cfg.MaxHourlyTrades)
	}
	if cfg.MaxConsecutiveFailures > 0 && snap.ConsecutiveFailures >= cfg.MaxConsecutiveFailures {
		block(100, "consecutive failures %d at cap %d", snap.ConsecutiveFailures, cfg.MaxConsecutiveFailures)
	}

	if score > 100 {
		score = 100
	}
	return Assessment{
		Approved:               !blocked,
		RiskScore:              int(math.Round(score)),
		Warnings:               warnings,
		MaxAllowedAmountUSD:    maxAllowedAmount(cfg, opp, snap),
		RecommendedSlippageBps: recommendedSlippage(cfg, score, market.PriceImpactPct),
	}
}

func maxAllowedAmount(cfg config.RiskConfig, opp *arb.Opportunity, snap Snapshot) float64 {
	allowed := cfg.MaxSingleTradeUSD
	if headroom := cfg.MaxDailyVolumeUSD - snap.DailyVolumeUSD; headroom < allowed {
		allowed = headroom
	}
	if headroom := cfg.MaxTokenExposureUSD - snap.TokenExposure[opp.Pair.Base]; headroom < allowed {
		allowed = headroom
	}
	if opp.AmountUSD < allowed {
		allowed = opp.AmountUSD
	}
	if allowed < 0 {
		return 0
	}
	return allowed
}

func recommendedSlippage(cfg config.RiskConfig, score, priceImpactPct float64) int {
	slippage := float64(cfg.BaseSlippageBps)
	switch {
	case score > 50:
		slippage *= 1.5
	case score > 30:
		slippage *= 1.2
	}
	if impactFloor := priceImpactPct * 100 * 1.5; impactFloor > slippage {
		slippage = impactFloor
	}
	if max := float64(cfg.MaxSlippageBps); slippage > max {
		slippage = max
	}
	return int(math.Round(slippage))
}

func onList(list []string, token string) bool {
	for _, t := range list {
		if t == token {
			return true
		}
	}
	return false
}
