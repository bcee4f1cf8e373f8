package exec

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"arb-exec-bot/internal/alerts"
	"arb-exec-bot/internal/arb"
	"arb-exec-bot/internal/breaker"
	"arb-exec-bot/internal/chain"
	"arb-exec-bot/internal/config"
	"arb-exec-bot/internal/metrics"
	"arb-exec-bot/internal/queue"
	"arb-exec-bot/internal/risk"
)

// AuditSink receives every execution result for durable audit. Delivery must
// never block the orchestrator.
type AuditSink interface {
	RecordResult(res arb.ExecutionResult)
}

// Deps are the injected collaborators. Everything the orchestrator touches
// arrives here; there is no package-level state.
type Deps struct {
	Queue      *queue.Queue
	Ledger     *risk.Ledger
	Breaker    *breaker.Breaker
	Prices     chain.PriceSource
	Gas        chain.GasEstimator
	Threats    chain.ThreatScanner
	Target     chain.ExecutionTarget
	Nonces     *chain.NonceSource
	SignerAddr common.Address
	Metrics    *metrics.Metrics
	Alerts     alerts.Sink
	Audit      AuditSink
	Log        *zap.Logger
}

// Orchestrator pulls admitted opportunities from the queue, runs the
// risk-gated dispatch pipeline under bounded concurrency, and feeds every
// outcome back into the ledger and circuit breaker.
type Orchestrator struct {
	cfg *config.Config
	d   Deps

	limiter *rate.Limiter
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	rnd     func() float64
}

func New(cfg *config.Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Queue == nil:
		return nil, errors.New("queue is required")
	case deps.Ledger == nil:
		return nil, errors.New("ledger is required")
	case deps.Breaker == nil:
		return nil, errors.New("breaker is required")
	case deps.Prices == nil || deps.Gas == nil || deps.Threats == nil || deps.Target == nil:
		return nil, errors.New("all collaborators are required")
	case deps.Nonces == nil:
		return nil, errors.New("nonce source is required")
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoop()
	}
	if deps.Alerts == nil {
		deps.Alerts = alerts.Discard{}
	}
	return &Orchestrator{
		cfg:     cfg,
		d:       deps,
		limiter: rate.NewLimiter(rate.Limit(cfg.Exec.DispatchRatePerSec), 1),
		now:     time.Now,
		sleep:   sleepCtx,
		rnd:     rand.Float64,
	}, nil
}

// SubmitOpportunity validates and enqueues a scanner candidate.
func (o *Orchestrator) SubmitOpportunity(opp *arb.Opportunity) error {
	err := o.d.Queue.Enqueue(opp)
	switch {
	case err == nil:
		o.d.Metrics.Enqueued.Inc()
	case errors.Is(err, queue.ErrDuplicate):
		o.d.Metrics.Deduped.Inc()
	case errors.Is(err, queue.ErrDropped):
		o.d.Metrics.Dropped.Inc()
	}
	return err
}

// Run starts the worker pool and the dispatch loop and blocks until the
// context is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	jobs := make(chan *arb.Opportunity)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < o.cfg.Exec.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case opp := <-jobs:
					o.execute(ctx, opp)
				}
			}
		})
	}
	g.Go(func() error {
		return o.dispatchLoop(ctx, jobs)
	})
	return g.Wait()
}

func (o *Orchestrator) dispatchLoop(ctx context.Context, jobs chan<- *arb.Opportunity) error {
	ticker := time.NewTicker(o.cfg.Queue.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		admitted, expired := o.d.Queue.DequeueBatch(o.cfg.Queue.BatchSize)
		for _, opp := range expired {
			o.d.Metrics.Expired.Inc()
			o.d.Log.Debug("opportunity expired in queue", zap.String("id", opp.ID))
		}
		for _, opp := range admitted {
			if err := o.limiter.Wait(ctx); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case jobs <- opp:
			}
		}
	}
}

// execute runs the dispatch sequence for one opportunity. Every exit path
// leaves the opportunity in a terminal state and the worker slot free.
func (o *Orchestrator) execute(ctx context.Context, opp *arb.Opportunity) {
	if opp.Expired(o.now()) {
		o.expire(opp)
		return
	}
	if !o.d.Breaker.Allow() {
		o.reject(opp, "circuit breaker open")
		return
	}

	var quote chain.PriceQuote
	err := o.withRetry(ctx, func() error {
		var err error
		quote, err = o.d.Prices.GetPrice(ctx, opp.Pair)
		return err
	})
	if err != nil {
		o.finishFailure(ctx, opp, err, false, 0)
		return
	}
	market := risk.MarketView{LiquidityUSD: quote.LiquidityUSD, PriceImpactPct: quote.PriceImpactPct}
	assessment := risk.Assess(o.cfg.Risk, opp, market, o.d.Ledger.Snapshot())
	if !assessment.Approved {
		reason := strings.Join(assessment.Warnings, "; ")
		o.d.Ledger.RecordWarning(reason)
		o.reject(opp, reason)
		return
	}

	var signal chain.ThreatSignal
	err = o.withRetry(ctx, func() error {
		var err error
		signal, err = o.d.Threats.GetThreatSignal(ctx, opp.Pair, opp.AmountUSD)
		return err
	})
	if err != nil {
		o.finishFailure(ctx, opp, err, false, 0)
		return
	}
	protection := PlanCountermeasure(o.cfg.MEV, signal, o.rnd)
	if protection.Reject {
		o.reject(opp, fmt.Sprintf("mev threat %.0f above extreme threshold", signal.Max()))
		o.logEvent(ctx, alerts.Event{
			Kind:     alerts.EventSecurity,
			Severity: alerts.SeverityWarning,
			Message:  fmt.Sprintf("rejected %s: extreme mev threat %.0f", opp.ID, signal.Max()),
		})
		return
	}
	if protection.Countermeasure != arb.CountermeasureNone {
		o.d.Metrics.MEVProtected.Inc()
	}
	if protection.Delay > 0 {
		if err := o.sleep(ctx, protection.Delay); err != nil {
			o.reject(opp, "cancelled during protective delay")
			return
		}
	}

	urgency := chain.UrgencyNormal
	if protection.GasBumpPct > 0 {
		urgency = chain.UrgencyHigh
	}
	var gasQuote chain.GasQuote
	err = o.withRetry(ctx, func() error {
		var err error
		gasQuote, err = o.d.Gas.RecommendGas(ctx, urgency)
		return err
	})
	if err != nil {
		o.finishFailure(ctx, opp, err, false, 0)
		return
	}
	gasPrice := uint64(float64(gasQuote.PriceWei) * (1 + protection.GasBumpPct/100))

	whitelisted, err := o.d.Target.IsVenueWhitelisted(ctx, opp.Venue)
	if err != nil {
		o.finishFailure(ctx, opp, err, false, 0)
		return
	}
	if !whitelisted {
		o.finishFailure(ctx, opp, Wrap(arb.ErrKindSimulation, fmt.Errorf("venue %s not whitelisted", opp.Venue)), false, 0)
		return
	}

	if opp.Expired(o.now()) {
		o.expire(opp)
		return
	}

	slippage := assessment.RecommendedSlippageBps - protection.SlippageTightenBps
	if slippage < 1 {
		slippage = 1
	}

	opp.Status = arb.StatusExecuting
	started := o.now()
	var receipt chain.Receipt
	submitErr := o.d.Nonces.WithNext(ctx, o.d.SignerAddr, func(nonce uint64) (bool, error) {
		ticket := arb.ExecutionTicket{
			OpportunityID:  opp.ID,
			Signer:         o.d.SignerAddr.Hex(),
			Nonce:          nonce,
			Pair:           opp.Pair,
			Venue:          opp.Venue,
			AmountUSD:      opp.AmountUSD,
			SlippageBps:    slippage,
			GasPriceWei:    gasPrice,
			GasLimit:       gasQuote.Limit,
			Deadline:       opp.ExpiresAt,
			Countermeasure: protection.Countermeasure,
		}
		if protection.Countermeasure == arb.CountermeasureCommitReveal {
			digest, err := chain.CommitDigest(ticket)
			if err != nil {
				return false, Wrap(arb.ErrKindSystem, err)
			}
			ticket.CommitHash = digest.Hex()
		}
		submitCtx, cancel := context.WithTimeout(ctx, o.cfg.Exec.SubmitTimeout)
		defer cancel()
		var err error
		receipt, err = o.d.Target.Submit(submitCtx, ticket)
		// A transaction that reached the chain consumes its nonce even when
		// confirmation is not observed; one rejected pre-flight does not.
		consumed := err == nil || receipt.TxHash != ""
		return consumed, err
	})
	duration := o.now().Sub(started)

	switch {
	case submitErr != nil:
		o.finishFailure(ctx, opp, submitErr, receipt.TxHash != "", duration)
	case receipt.Reverted:
		o.finishFailure(ctx, opp, Wrap(arb.ErrKindRevert, errors.New("transaction reverted on-chain")), true, duration)
	default:
		o.finishSuccess(opp, receipt, duration)
	}
}

func (o *Orchestrator) finishSuccess(opp *arb.Opportunity, receipt chain.Receipt, duration time.Duration) {
	opp.Status = arb.StatusExecuted
	result := arb.ExecutionResult{
		OpportunityID: opp.ID,
		Pair:          opp.Pair,
		Venue:         opp.Venue,
		AmountUSD:     opp.AmountUSD,
		Success:       true,
		ProfitUSD:     opp.ExpectedProfitUSD,
		GasUsed:       receipt.GasUsed,
		Duration:      duration,
		NonceConsumed: true,
		CompletedAt:   o.now(),
	}
	o.record(result)
	o.d.Metrics.Executed.Inc()
	o.d.Log.Info("opportunity executed",
		zap.String("id", opp.ID),
		zap.String("pair", opp.Pair.String()),
		zap.String("tx", receipt.TxHash),
		zap.Float64("profit_usd", result.ProfitUSD),
		zap.Duration("duration", duration),
	)
}

func (o *Orchestrator) finishFailure(ctx context.Context, opp *arb.Opportunity, err error, nonceConsumed bool, duration time.Duration) {
	kind, severity := Classify(err)
	opp.Status = arb.StatusFailed
	result := arb.ExecutionResult{
		OpportunityID: opp.ID,
		Pair:          opp.Pair,
		Venue:         opp.Venue,
		AmountUSD:     opp.AmountUSD,
		Success:       false,
		Duration:      duration,
		ErrKind:       kind,
		ErrMessage:    err.Error(),
		NonceConsumed: nonceConsumed,
		CompletedAt:   o.now(),
	}
	o.record(result)
	o.d.Metrics.Failed.Inc()
	o.d.Log.Warn("opportunity failed",
		zap.String("id", opp.ID),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)
	if severity == SeverityCritical {
		switch kind {
		case arb.ErrKindSecurity:
			o.d.Breaker.ForceOpen("critical security error: " + err.Error())
		case arb.ErrKindSystem:
			o.d.Queue.Pause()
			o.logEvent(ctx, alerts.Event{
				Kind:     alerts.EventSystem,
				Severity: alerts.SeverityCritical,
				Message:  "dispatch paused pending operator intervention: " + err.Error(),
			})
		}
	}
}

// record feeds one result into the ledger, re-evaluates the breaker against
// the fresh snapshot, and forwards the result for audit.
func (o *Orchestrator) record(result arb.ExecutionResult) {
	o.d.Ledger.RecordTrade(result)
	o.d.Breaker.OnResult(result.Success, o.d.Ledger.Snapshot())
	if o.d.Audit != nil {
		o.d.Audit.RecordResult(result)
	}
}

func (o *Orchestrator) expire(opp *arb.Opportunity) {
	opp.Status = arb.StatusExpired
	o.d.Metrics.Expired.Inc()
	o.d.Log.Debug("opportunity expired before dispatch", zap.String("id", opp.ID))
}

func (o *Orchestrator) reject(opp *arb.Opportunity, reason string) {
	opp.Status = arb.StatusRejected
	o.d.Metrics.Rejected.Inc()
	o.d.Log.Info("opportunity rejected", zap.String("id", opp.ID), zap.String("reason", reason))
}

func (o *Orchestrator) logEvent(ctx context.Context, event alerts.Event) {
	event.At = o.now()
	if err := o.d.Alerts.LogEvent(ctx, event); err != nil {
		o.d.Log.Warn("alert delivery failed", zap.Error(err))
	}
}

func (o *Orchestrator) withRetry(ctx context.Context, fn func() error) error {
	backoff := o.cfg.Exec.RetryBackoff
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		kind, _ := Classify(err)
		if !Retryable(kind) || attempt >= o.cfg.Exec.MaxRetries {
			return err
		}
		o.d.Metrics.Retries.Inc()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
