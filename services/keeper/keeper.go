// Package keeper runs the permissionless sweep that executes due agreements
// and collects the keeper fee.
package keeper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"tally/crypto"
	"tally/native/subscription"
	"tally/observability"
	telemetry "tally/observability/otel"
)

var (
	// ErrKeeperRequired is returned when no keeper signer is configured.
	ErrKeeperRequired = errors.New("keeper: signer address required")
	// ErrAccountRequired is returned when no fee account is configured.
	ErrAccountRequired = errors.New("keeper: fee account required")
)

// Engine is the slice of the subscription engine the keeper drives.
type Engine interface {
	DueAgreements(now uint64, limit int) ([]subscription.DueAgreement, error)
	Execute(keeper, agreement, keeperAccount crypto.Address) (*subscription.ExecutionResult, error)
}

// Config tunes the sweep.
type Config struct {
	Keeper        crypto.Address
	Account       crypto.Address
	Interval      time.Duration
	Concurrency   int
	RatePerSecond float64
	MaxRetries    int
	RetryBackoff  time.Duration
	BatchLimit    int
}

// Report summarises one sweep.
type Report struct {
	Due      int
	Executed int
	Skipped  int
	Rejected int
	Failed   int
	Fees     uint64
}

// Keeper periodically executes every due agreement.
type Keeper struct {
	engine  Engine
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *observability.KeeperMetrics
	tracer  trace.Tracer
	now     func() time.Time
}

// Option customises the keeper instance.
type Option func(*Keeper)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(k *Keeper) { k.logger = logger }
}

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *observability.KeeperMetrics) Option {
	return func(k *Keeper) { k.metrics = m }
}

// WithClock sets the function used to derive sweep timestamps.
func WithClock(clock func() time.Time) Option {
	return func(k *Keeper) { k.now = clock }
}

// New constructs a keeper driving engine.
func New(engine Engine, cfg Config, opts ...Option) (*Keeper, error) {
	if cfg.Keeper.IsZero() {
		return nil, ErrKeeperRequired
	}
	if cfg.Account.IsZero() {
		return nil, ErrAccountRequired
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 250 * time.Millisecond
	}
	limit := rate.Inf
	burst := cfg.Concurrency
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	k := &Keeper{
		engine:  engine,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		logger:  slog.Default(),
		metrics: observability.Keeper(),
		tracer:  telemetry.Tracer("keeper"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.logger == nil {
		k.logger = slog.Default()
	}
	if k.now == nil {
		k.now = time.Now
	}
	return k, nil
}

// Run sweeps immediately and then on every interval until ctx is done.
func (k *Keeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := k.Sweep(ctx); err != nil && ctx.Err() == nil {
			k.logger.Error("keeper sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep executes every agreement due at the current time once.
func (k *Keeper) Sweep(ctx context.Context) (Report, error) {
	ctx, span := k.tracer.Start(ctx, "keeper.sweep")
	defer span.End()

	started := k.now()
	at := started.Unix()
	if at < 0 {
		at = 0
	}
	due, err := k.engine.DueAgreements(uint64(at), k.cfg.BatchLimit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list due agreements")
		return Report{}, err
	}
	span.SetAttributes(attribute.Int("keeper.due", len(due)))

	var (
		mu     sync.Mutex
		report = Report{Due: len(due)}
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(k.cfg.Concurrency)
	for _, item := range due {
		if err := k.limiter.Wait(groupCtx); err != nil {
			break
		}
		agreement := item.Address
		group.Go(func() error {
			res, err := k.execute(groupCtx, agreement)
			mu.Lock()
			defer mu.Unlock()
			switch subscription.Classify(err) {
			case subscription.CategoryNone:
				report.Executed++
				report.Fees += res.KeeperFee
			case subscription.CategoryValidation:
				report.Skipped++
			case subscription.CategoryAuthorization, subscription.CategoryArithmetic:
				report.Rejected++
			default:
				report.Failed++
			}
			return nil
		})
	}
	_ = group.Wait()

	k.metrics.ObserveSweep(len(due), k.now().Sub(started))
	span.SetAttributes(
		attribute.Int("keeper.executed", report.Executed),
		attribute.Int("keeper.failed", report.Failed),
	)
	if report.Due > 0 {
		k.logger.Info("keeper sweep complete",
			"due", report.Due,
			"executed", report.Executed,
			"skipped", report.Skipped,
			"rejected", report.Rejected,
			"failed", report.Failed,
			"fees", report.Fees)
	}
	return report, ctx.Err()
}

// execute charges one agreement, retrying infrastructure failures.
func (k *Keeper) execute(ctx context.Context, agreement crypto.Address) (*subscription.ExecutionResult, error) {
	ctx, span := k.tracer.Start(ctx, "keeper.execute",
		trace.WithAttributes(attribute.String("agreement", agreement.String())))
	defer span.End()

	backoff := k.cfg.RetryBackoff
	for attempt := 0; ; attempt++ {
		res, err := k.engine.Execute(k.cfg.Keeper, agreement, k.cfg.Account)
		k.metrics.RecordExecution(string(subscription.Classify(err)))
		if err == nil {
			span.SetAttributes(
				attribute.Int64("payment.count", int64(res.PaymentCount)),
				attribute.Int64("payment.keeper_fee", int64(res.KeeperFee)))
			return res, nil
		}
		if !subscription.Retryable(err) || attempt >= k.cfg.MaxRetries {
			k.logFailure(agreement, err)
			span.RecordError(err)
			if subscription.Classify(err) != subscription.CategoryValidation {
				span.SetStatus(codes.Error, err.Error())
			}
			return nil, err
		}
		k.metrics.RecordRetry()
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, err
		case <-timer.C:
		}
		backoff *= 2
	}
}

func (k *Keeper) logFailure(agreement crypto.Address, err error) {
	switch subscription.Classify(err) {
	case subscription.CategoryValidation:
		k.logger.Debug("agreement skipped", "agreement", agreement.String(), "error", err)
	case subscription.CategoryAuthorization:
		k.logger.Warn("agreement charge rejected", "agreement", agreement.String(), "error", err)
	default:
		k.logger.Error("agreement charge failed", "agreement", agreement.String(), "error", err)
	}
}
