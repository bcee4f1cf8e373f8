package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"arb-exec-bot/internal/alerts"
	"arb-exec-bot/internal/arb"
	"arb-exec-bot/internal/breaker"
	"arb-exec-bot/internal/chain"
	"arb-exec-bot/internal/config"
	"arb-exec-bot/internal/exec"
	"arb-exec-bot/internal/feed"
	"arb-exec-bot/internal/metrics"
	"arb-exec-bot/internal/queue"
	"arb-exec-bot/internal/quotes"
	"arb-exec-bot/internal/risk"
	"arb-exec-bot/internal/state/sqlite"
	"arb-exec-bot/internal/timescale"
)

const ledgerSnapshotInterval = time.Minute

type App struct {
	cfg       *config.Config
	log       *zap.Logger
	store     *sqlite.Store
	queue     *queue.Queue
	ledger    *risk.Ledger
	breaker   *breaker.Breaker
	orch      *exec.Orchestrator
	feed      *feed.Feed
	alerts    *alerts.Async
	prom      *metrics.Prometheus
	timescale *timescale.Writer
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}

	privateKey := strings.TrimSpace(os.Getenv("ARB_PRIVATE_KEY"))
	if privateKey == "" {
		return nil, errors.New("ARB_PRIVATE_KEY is required")
	}
	signer, err := chain.NewSigner(privateKey, cfg.Chain.ChainID)
	if err != nil {
		return nil, err
	}
	if expected := strings.TrimSpace(os.Getenv("ARB_SIGNER_ADDRESS")); expected != "" {
		if !strings.EqualFold(expected, signer.Address().Hex()) {
			return nil, fmt.Errorf("signer address does not match private key: got %s expected %s", expected, signer.Address().Hex())
		}
	}

	venues, err := parseVenues(cfg.Chain.Venues)
	if err != nil {
		return nil, err
	}
	provider := chain.NewProvider(cfg.Chain.RPCURL, cfg.Chain.Timeout, log)
	target, err := chain.NewTarget(provider, signer, venues, log)
	if err != nil {
		return nil, err
	}
	gasOracle := chain.NewGasOracle(provider, cfg.Chain, log)
	nonces := chain.NewNonceSource(target, store, log)

	if cfg.Feed.QuoteBaseURL == "" {
		return nil, errors.New("feed.quote_base_url is required")
	}
	quoteClient := quotes.New(cfg.Feed.QuoteBaseURL, cfg.Feed.QuoteTimeout, log)

	mset := metrics.NewNoop()
	var prom *metrics.Prometheus
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus()
		mset = prom.Metrics
	}

	alertSink := alerts.NewAsync(alerts.NewTelegram(cfg.Telegram, log), 64, log)

	writer, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		return nil, err
	}

	ledger := risk.NewLedger(cfg.Breaker.FailureRateWindow)
	q := queue.New(cfg.Queue.Capacity)
	brk := breaker.New(cfg.Breaker,
		breaker.WithCounterReset(ledger.ResetConsecutiveFailures),
		breaker.WithObserver(breakerObserver(log, mset, alertSink)),
	)

	orch, err := exec.New(cfg, exec.Deps{
		Queue:      q,
		Ledger:     ledger,
		Breaker:    brk,
		Prices:     quoteClient,
		Gas:        gasOracle,
		Threats:    quoteClient,
		Target:     target,
		Nonces:     nonces,
		SignerAddr: signer.Address(),
		Metrics:    mset,
		Alerts:     alertSink,
		Audit:      writer,
		Log:        log,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		queue:     q,
		ledger:    ledger,
		breaker:   brk,
		orch:      orch,
		feed:      feed.New(cfg.Feed, orch, log),
		alerts:    alertSink,
		prom:      prom,
		timescale: writer,
	}, nil
}

func parseVenues(raw map[string]string) (map[string]common.Address, error) {
	if len(raw) == 0 {
		return nil, errors.New("chain.venues must name at least one venue router")
	}
	venues := make(map[string]common.Address, len(raw))
	for venue, addr := range raw {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("venue %s has invalid router address %q", venue, addr)
		}
		venues[venue] = common.HexToAddress(addr)
	}
	return venues, nil
}

// breakerObserver fans every breaker transition out to logs, counters, and
// the alert queue. It must not block; the async alert sink guarantees that.
func breakerObserver(log *zap.Logger, mset *metrics.Metrics, sink alerts.Sink) breaker.Observer {
	return func(from, to breaker.State, reason string) {
		log.Warn("circuit breaker transition",
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.String("reason", reason),
		)
		severity := alerts.SeverityWarning
		switch to {
		case breaker.StateOpen:
			mset.BreakerOpen.Inc()
			severity = alerts.SeverityCritical
		case breaker.StateClosed:
			mset.BreakerClose.Inc()
			severity = alerts.SeverityInfo
		}
		_ = sink.LogEvent(context.Background(), alerts.Event{
			Kind:     alerts.EventBreaker,
			Severity: severity,
			Message:  fmt.Sprintf("circuit breaker %s -> %s: %s", from, to, reason),
			At:       time.Now().UTC(),
		})
	}
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.timescale.Close()

	persisted, ok, err := risk.LoadLedgerState(ctx, a.store)
	if err != nil {
		a.log.Warn("ledger state load failed", zap.Error(err))
	} else if ok {
		a.ledger.Restore(persisted)
		a.log.Info("ledger state restored",
			zap.Float64("daily_volume_usd", persisted.DailyVolumeUSD),
			zap.Float64("realized_pnl_usd", persisted.RealizedPnLUSD),
		)
	}
	a.timescale.Start(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.alerts.Run(ctx) })
	g.Go(func() error { return a.orch.Run(ctx) })
	g.Go(func() error { return a.feed.Run(ctx) })
	g.Go(func() error { return a.snapshotLoop(ctx) })
	if a.prom != nil && a.cfg.Metrics.Enabled {
		g.Go(func() error { return a.serveMetrics(ctx) })
	}
	return g.Wait()
}

// SubmitOpportunity admits an externally sourced candidate, bypassing the
// websocket feed. Used by operator tooling.
func (a *App) SubmitOpportunity(opp *arb.Opportunity) error {
	return a.orch.SubmitOpportunity(opp)
}

func (a *App) QueueState() queue.State {
	return a.queue.Snapshot()
}

func (a *App) RiskStatus() risk.Snapshot {
	return a.ledger.Snapshot()
}

func (a *App) BreakerStatus() breaker.Status {
	return a.breaker.Status()
}

func (a *App) ForceOpenBreaker(reason string) {
	a.breaker.ForceOpen(reason)
}

func (a *App) ResetBreaker() {
	a.breaker.Reset()
}

func (a *App) PauseAdmission() {
	a.queue.Pause()
}

func (a *App) ResumeAdmission() {
	a.queue.Resume()
}

func (a *App) snapshotLoop(ctx context.Context) error {
	ticker := time.NewTicker(ledgerSnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.persistLedger(context.Background())
			return ctx.Err()
		case <-ticker.C:
			a.persistLedger(ctx)
			a.timescale.EnqueueSnapshot(a.ledger.Snapshot())
		}
	}
}

func (a *App) persistLedger(ctx context.Context) {
	if err := risk.SaveLedgerState(ctx, a.store, a.ledger.Export()); err != nil {
		a.log.Warn("ledger state save failed", zap.Error(err))
	}
}

func (a *App) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.prom.Handler())
	server := &http.Server{Addr: a.cfg.Metrics.ListenAddr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	a.log.Info("metrics server listening", zap.String("addr", a.cfg.Metrics.ListenAddr))
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
