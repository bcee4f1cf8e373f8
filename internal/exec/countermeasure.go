package exec

import (
	"time"

	"arb-exec-bot/internal/arb"
	"arb-exec-bot/internal/chain"
	"arb-exec-bot/internal/config"
)

// Protection is the countermeasure plan derived from a threat signal.
type Protection struct {
	Countermeasure     arb.Countermeasure
	Delay              time.Duration
	GasBumpPct         float64
	SlippageTightenBps int
	Reject             bool
}

// PlanCountermeasure maps a threat signal onto a protection plan. rnd yields
// a value in [0,1) and scales the bounded random delay; everything else is a
// pure threshold function of the signal.
func PlanCountermeasure(cfg config.MEVConfig, signal chain.ThreatSignal, rnd func() float64) Protection {
	threat := signal.Max()
	switch {
	case threat >= cfg.ExtremeThreshold:
		return Protection{Reject: true}
	case threat >= cfg.CommitRevealThreshold:
		return Protection{
			Countermeasure:     arb.CountermeasureCommitReveal,
			GasBumpPct:         cfg.GasBumpPct,
			SlippageTightenBps: cfg.SlippageTightenBps,
		}
	case threat >= cfg.ProtectThreshold:
		delay := time.Duration(rnd() * float64(cfg.MaxProtectDelay))
		countermeasure := arb.CountermeasureGasBump
		if delay > 0 {
			countermeasure = arb.CountermeasureDelay
		}
		return Protection{
			Countermeasure:     countermeasure,
			Delay:              delay,
			GasBumpPct:         cfg.GasBumpPct,
			SlippageTightenBps: cfg.SlippageTightenBps,
		}
	}
	return Protection{Countermeasure: arb.CountermeasureNone}
}
