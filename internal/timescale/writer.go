package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"arb-exec-bot/internal/arb"
	"arb-exec-bot/internal/config"
	"arb-exec-bot/internal/risk"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// Writer persists execution results and risk ledger snapshots to TimescaleDB
// through bounded queues. Enqueueing never blocks the dispatch path; rows are
// dropped with a counter when the database cannot keep up. A nil *Writer is a
// valid no-op sink, so disabled deployments need no branching at call sites.
type Writer struct {
	db        *sql.DB
	log       *zap.Logger
	schema    string
	results   chan arb.ExecutionResult
	snapshots chan risk.Snapshot
	started   atomic.Bool
	dropRes   atomic.Uint64
	dropSnap  atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:        db,
		log:       log,
		schema:    schema,
		results:   make(chan arb.ExecutionResult, queueSize),
		snapshots: make(chan risk.Snapshot, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

// RecordResult satisfies the orchestrator's audit sink.
func (w *Writer) RecordResult(res arb.ExecutionResult) {
	if w == nil {
		return
	}
	select {
	case w.results <- res:
		return
	default:
		if w.dropRes.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale result queue full")
		}
	}
}

func (w *Writer) EnqueueSnapshot(snap risk.Snapshot) {
	if w == nil {
		return
	}
	select {
	case w.snapshots <- snap:
		return
	default:
		if w.dropSnap.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale snapshot queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case res := <-w.results:
			w.writeResult(ctx, res)
		case snap := <-w.snapshots:
			w.writeSnapshot(ctx, snap)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		opportunity_id TEXT NOT NULL,
		pair TEXT NOT NULL,
		venue TEXT NOT NULL,
		amount_usd DOUBLE PRECISION NOT NULL,
		success BOOLEAN NOT NULL,
		profit_usd DOUBLE PRECISION NOT NULL,
		gas_used BIGINT NOT NULL,
		duration_ms BIGINT NOT NULL,
		err_kind TEXT NOT NULL,
		err_message TEXT NOT NULL,
		nonce_consumed BOOLEAN NOT NULL
	)`, w.table("execution_results"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		daily_volume_usd DOUBLE PRECISION NOT NULL,
		hourly_trades INTEGER NOT NULL,
		consecutive_failures INTEGER NOT NULL,
		realized_pnl_usd DOUBLE PRECISION NOT NULL,
		max_drawdown_usd DOUBLE PRECISION NOT NULL,
		trade_count BIGINT NOT NULL,
		success_count BIGINT NOT NULL,
		warning_count BIGINT NOT NULL
	)`, w.table("risk_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("execution_results"))); err != nil && w.log != nil {
		w.log.Warn("timescale execution_results hypertable create failed", zap.Error(err))
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("risk_snapshots"))); err != nil && w.log != nil {
		w.log.Warn("timescale risk_snapshots hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) writeResult(ctx context.Context, res arb.ExecutionResult) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, opportunity_id, pair, venue, amount_usd, success, profit_usd,
		gas_used, duration_ms, err_kind, err_message, nonce_consumed
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
	)`, w.table("execution_results"))
	if _, err := w.db.ExecContext(ctx, query,
		res.CompletedAt,
		res.OpportunityID,
		res.Pair.String(),
		res.Venue,
		res.AmountUSD,
		res.Success,
		res.ProfitUSD,
		res.GasUsed,
		res.Duration.Milliseconds(),
		string(res.ErrKind),
		res.ErrMessage,
		res.NonceConsumed,
	); err != nil && w.log != nil {
		w.log.Warn("timescale result insert failed", zap.Error(err))
	}
}

func (w *Writer) writeSnapshot(ctx context.Context, snap risk.Snapshot) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, daily_volume_usd, hourly_trades, consecutive_failures,
		realized_pnl_usd, max_drawdown_usd, trade_count, success_count, warning_count
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9
	)`, w.table("risk_snapshots"))
	if _, err := w.db.ExecContext(ctx, query,
		snap.TakenAt,
		snap.DailyVolumeUSD,
		snap.HourlyTradeCount,
		snap.ConsecutiveFailures,
		snap.RealizedPnLUSD,
		snap.MaxDrawdownUSD,
		snap.TradeCount,
		snap.SuccessCount,
		snap.WarningCount,
	); err != nil && w.log != nil {
		w.log.Warn("timescale snapshot insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
