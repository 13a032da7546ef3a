// Package orchestrator runs the configured number of workers in parallel and
// folds their results once every worker has terminated.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/loadgen/internal/observability"
	"github.com/odyssey-erp/loadgen/internal/scenario"
	"github.com/odyssey-erp/loadgen/internal/shared"
	"github.com/odyssey-erp/loadgen/internal/sink"
	"github.com/odyssey-erp/loadgen/internal/worker"
)

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger handed to every worker.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics shares one metrics set between all workers.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = metrics
	}
}

// WithWorkerOptions appends options applied to every worker.
func WithWorkerOptions(opts ...worker.Option) Option {
	return func(o *Orchestrator) {
		o.workerOpts = append(o.workerOpts, opts...)
	}
}

// WithTruncate empties the target table before the workers start.
func WithTruncate(t sink.Truncater) Option {
	return func(o *Orchestrator) {
		o.truncater = t
	}
}

// WithStats reads back table statistics after the workers finish.
func WithStats(s sink.StatsReader) Option {
	return func(o *Orchestrator) {
		o.stats = s
	}
}

// Orchestrator owns one load run.
type Orchestrator struct {
	cfg        worker.Config
	strategy   scenario.Strategy
	dialer     sink.Dialer
	logger     *slog.Logger
	metrics    *observability.Metrics
	workerOpts []worker.Option
	truncater  sink.Truncater
	stats      sink.StatsReader
}

// New constructs an orchestrator. cfg.Thread is ignored; every worker gets
// its own 1-based index.
func New(cfg worker.Config, strategy scenario.Strategy, dialer sink.Dialer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		strategy: strategy,
		dialer:   dialer,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type outcome struct {
	result worker.Result
	err    error
}

// Run executes the init task, the workers and the finish task. Worker
// failures do not stop the other workers; they are returned together as a
// multierror alongside the report of every worker that completed. An init
// failure aborts the run before any worker starts, and the finish task is
// skipped when no worker completed.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	if o.cfg.Threads < 1 {
		return Report{}, fmt.Errorf("%w: orchestrator: threads must be at least 1, got %d", shared.ErrConfiguration, o.cfg.Threads)
	}

	var report Report
	if o.truncater != nil {
		if err := o.truncater.Truncate(ctx); err != nil {
			return Report{}, fmt.Errorf("orchestrator: init: %w", err)
		}
		report.Init = &InitResult{
			Type:     "init",
			Scenario: string(o.cfg.Scenario),
			Table:    o.cfg.Table,
			Size:     o.cfg.Size,
			Message:  "table truncated",
		}
		o.logger.Info("table truncated", slog.String("table", o.cfg.Table))
	}

	o.logger.Info("starting workers",
		slog.String("scenario", string(o.cfg.Scenario)),
		slog.Int("threads", o.cfg.Threads),
		slog.Duration("duration", o.cfg.Duration),
	)
	outcomes := make(chan outcome, o.cfg.Threads)
	var g errgroup.Group
	for i := 1; i <= o.cfg.Threads; i++ {
		cfg := o.cfg
		cfg.Thread = i
		opts := append([]worker.Option{worker.WithLogger(o.logger), worker.WithMetrics(o.metrics)}, o.workerOpts...)
		w := worker.New(cfg, o.strategy, o.dialer, opts...)
		g.Go(func() error {
			res, err := w.Run(ctx)
			outcomes <- outcome{result: res, err: err}
			return err
		})
	}
	firstErr := g.Wait()
	close(outcomes)

	var errs *multierror.Error
	for out := range outcomes {
		if out.err != nil {
			errs = multierror.Append(errs, out.err)
			continue
		}
		report.Details = append(report.Details, out.result)
		report.Aggregate = Fold(report.Aggregate, out.result)
	}

	// A run without a completed worker reports nothing, not even table stats.
	if o.stats != nil && len(report.Details) > 0 {
		stats, err := o.stats.TableStats(context.WithoutCancel(ctx))
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("orchestrator: finish: %w", err))
		} else {
			report.Database = &DatabaseResult{
				Type:     "database",
				Scenario: string(o.cfg.Scenario),
				Table:    o.cfg.Table,
				Size:     o.cfg.Size,
				Threads:  stats.Threads,
				StartTS:  worker.Timestamp(stats.StartTS),
				EndTS:    worker.Timestamp(stats.EndTS),
				Inserts:  stats.Inserts,
				Bytes:    stats.Bytes,
				Blocks:   stats.Blocks,
			}
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		o.logger.Error("run finished with failures",
			slog.Int("failed_workers", len(errs.Errors)),
			slog.Int("completed_workers", len(report.Details)),
			slog.Any("first_error", firstErr),
		)
		return report, err
	}
	return report, nil
}
