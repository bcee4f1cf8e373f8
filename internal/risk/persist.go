package risk

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"arb-exec-bot/internal/state"
)

const ledgerStateKey = "risk:ledger_state"

// PersistedLedger is the durable subset of the ledger. It survives restarts
// so daily caps and drawdown tracking do not reset with the process.
type PersistedLedger struct {
	TokenExposure       map[string]float64 `json:"token_exposure"`
	VenueExposure       map[string]float64 `json:"venue_exposure"`
	DailyVolumeUSD      float64            `json:"daily_volume_usd"`
	DayUnix             int64              `json:"day_unix"`
	ConsecutiveFailures int                `json:"consecutive_failures"`
	RealizedPnLUSD      float64            `json:"realized_pnl_usd"`
	PeakPnLUSD          float64            `json:"peak_pnl_usd"`
	MaxDrawdownUSD      float64            `json:"max_drawdown_usd"`
	UpdatedAtMS         int64              `json:"updated_at_ms"`
}

func LoadLedgerState(ctx context.Context, store state.Store) (PersistedLedger, bool, error) {
	if store == nil {
		return PersistedLedger{}, false, nil
	}
	raw, ok, err := store.Get(ctx, ledgerStateKey)
	if err != nil {
		return PersistedLedger{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return PersistedLedger{}, false, nil
	}
	var persisted PersistedLedger
	if err := json.Unmarshal([]byte(raw), &persisted); err != nil {
		return PersistedLedger{}, false, err
	}
	return persisted, true, nil
}

func SaveLedgerState(ctx context.Context, store state.Store, persisted PersistedLedger) error {
	if store == nil {
		return nil
	}
	payload, err := json.Marshal(persisted)
	if err != nil {
		return err
	}
	return store.Set(ctx, ledgerStateKey, string(payload))
}

// Export captures the durable fields for persistence.
func (l *Ledger) Export() PersistedLedger {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.rollDayLocked(now)
	tokens := make(map[string]float64, len(l.tokenExposure))
	for k, v := range l.tokenExposure {
		tokens[k] = v
	}
	venues := make(map[string]float64, len(l.venueExposure))
	for k, v := range l.venueExposure {
		venues[k] = v
	}
	return PersistedLedger{
		TokenExposure:       tokens,
		VenueExposure:       venues,
		DailyVolumeUSD:      l.dailyVolume,
		DayUnix:             l.day.Unix(),
		ConsecutiveFailures: l.consecutiveFailures,
		RealizedPnLUSD:      l.realizedPnL,
		PeakPnLUSD:          l.peakPnL,
		MaxDrawdownUSD:      l.maxDrawdown,
		UpdatedAtMS:         now.UnixMilli(),
	}
}

// Restore seeds the ledger from a persisted state. The daily volume is only
// carried over when the persisted day matches the current UTC day.
func (l *Ledger) Restore(persisted PersistedLedger) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for k, v := range persisted.TokenExposure {
		if v > 0 {
			l.tokenExposure[k] = v
		}
	}
	for k, v := range persisted.VenueExposure {
		if v > 0 {
			l.venueExposure[k] = v
		}
	}
	day := now.UTC().Truncate(24 * time.Hour)
	l.day = day
	if time.Unix(persisted.DayUnix, 0).UTC().Truncate(24 * time.Hour).Equal(day) {
		l.dailyVolume = persisted.DailyVolumeUSD
	}
	l.consecutiveFailures = persisted.ConsecutiveFailures
	l.realizedPnL = persisted.RealizedPnLUSD
	l.peakPnL = persisted.PeakPnLUSD
	l.maxDrawdown = persisted.MaxDrawdownUSD
}
