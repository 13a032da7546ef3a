// Package worker runs one load worker: it dials a sink handle, repeatedly
// generates journals and hands them to the scenario until the configured
// duration has elapsed, then reports its totals.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/odyssey-erp/loadgen/internal/journal"
	"github.com/odyssey-erp/loadgen/internal/observability"
	"github.com/odyssey-erp/loadgen/internal/scenario"
	"github.com/odyssey-erp/loadgen/internal/shared"
	"github.com/odyssey-erp/loadgen/internal/sink"
)

// Config is the immutable run description every worker receives a copy of.
type Config struct {
	Scenario   scenario.Name
	Table      string
	Topic      string
	Size       string
	Threads    int
	Thread     int
	MinRec     int
	MaxRec     int
	Iterations int
	Sleep      time.Duration
	Duration   time.Duration
}

// Option customises a Worker.
type Option func(*Worker)

// WithLogger sets the worker logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithMetrics enables iteration metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(w *Worker) {
		w.metrics = metrics
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// WithSleeper replaces the pause between iterations.
func WithSleeper(sleep func(ctx context.Context, d time.Duration)) Option {
	return func(w *Worker) {
		if sleep != nil {
			w.sleep = sleep
		}
	}
}

// WithGenerator replaces the journal generator.
func WithGenerator(gen *journal.Generator) Option {
	return func(w *Worker) {
		if gen != nil {
			w.gen = gen
		}
	}
}

// WithPID overrides the process id embedded in run ids.
func WithPID(pid int) Option {
	return func(w *Worker) {
		w.pid = pid
	}
}

// Worker executes one worker's run. It is used by a single goroutine.
type Worker struct {
	cfg      Config
	strategy scenario.Strategy
	dialer   sink.Dialer
	gen      *journal.Generator
	metrics  *observability.Metrics
	logger   *slog.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration)
	pid      int
}

// New constructs a worker.
func New(cfg Config, strategy scenario.Strategy, dialer sink.Dialer, opts ...Option) *Worker {
	w := &Worker{
		cfg:      cfg,
		strategy: strategy,
		dialer:   dialer,
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
		sleep:    sleepContext,
		pid:      os.Getpid(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.gen == nil {
		w.gen = journal.NewGenerator(uint64(time.Now().UnixNano()), uint64(cfg.Thread))
	}
	return w
}

// RunID formats the identifier of a worker started at start.
func RunID(start time.Time, pid, thread int) string {
	return fmt.Sprintf("%s_%d_%d", start.Format("20060102_150405"), pid, thread)
}

// Run executes the worker. The first iteration always runs; later ones run
// while the elapsed time does not exceed the configured duration, so the
// last iteration may end past the deadline. Cancelling ctx stops the loop
// between iterations and still yields a result; an iteration in flight is
// never interrupted. Any generation, dial or ingest error aborts the run and
// no result is returned.
func (w *Worker) Run(ctx context.Context) (Result, error) {
	if err := journal.ValidateRange(w.cfg.MinRec, w.cfg.MaxRec); err != nil {
		return Result{}, fmt.Errorf("worker %d: %w", w.cfg.Thread, err)
	}

	start := w.now()
	res := Result{
		Type:          TypeDetail,
		Scenario:      string(w.cfg.Scenario),
		Table:         w.cfg.Table,
		Topic:         w.cfg.Topic,
		Size:          w.cfg.Size,
		Threads:       w.cfg.Threads,
		Thread:        w.cfg.Thread,
		MinRec:        w.cfg.MinRec,
		MaxRec:        w.cfg.MaxRec,
		Iterations:    w.cfg.Iterations,
		Sleep:         int(w.cfg.Sleep / time.Second),
		RunID:         RunID(start, w.pid, w.cfg.Thread),
		MaxRunSeconds: int(w.cfg.Duration / time.Second),
		Start:         Timestamp(start),
	}
	unit := scenario.WorkUnit{
		Scenario: w.cfg.Scenario,
		Size:     w.cfg.Size,
		Threads:  w.cfg.Threads,
		RunID:    res.RunID,
		Thread:   w.cfg.Thread,
	}
	logger := w.logger.With(slog.Int("thread", w.cfg.Thread), slog.String("run_id", res.RunID))

	w.metrics.WorkerStarted(w.cfg.Thread, res.RunID)
	err := w.loop(ctx, &res, unit, start, logger)
	w.metrics.WorkerFinished(w.cfg.Thread, err)
	if err != nil {
		logger.Error("worker failed", slog.Any("error", err))
		return Result{}, err
	}

	end := w.now()
	res.End = Timestamp(end)
	res.ElapsedSec = end.Sub(start).Seconds()
	logger.Info("worker finished",
		slog.Int("iterations", res.TotalIterations),
		slog.Int("records", res.TotalData),
		slog.Int("failures", res.TotalFailures),
		slog.Float64("elapsed_sec", res.ElapsedSec),
	)
	return res, nil
}

func (w *Worker) loop(ctx context.Context, res *Result, unit scenario.WorkUnit, start time.Time, logger *slog.Logger) error {
	// Iterations and the final close run to completion even after ctx is
	// cancelled.
	iterCtx := context.WithoutCancel(ctx)

	handle, err := w.dialer.Dial(iterCtx, w.strategy.DialMode())
	if err != nil {
		if !errors.Is(err, shared.ErrConnection) && !shared.IsConfiguration(err) {
			err = fmt.Errorf("%w: %w", shared.ErrConnection, err)
		}
		return fmt.Errorf("worker %d: dial: %w", w.cfg.Thread, err)
	}
	logger.Debug("worker started", slog.String("mode", w.strategy.DialMode().String()))

	for first := true; first || w.now().Sub(start) <= w.cfg.Duration; first = false {
		if !first && ctx.Err() != nil {
			logger.Info("worker interrupted", slog.Int("iterations", res.TotalIterations))
			break
		}
		if err := w.iterate(iterCtx, handle, unit, res); err != nil {
			if closeErr := handle.Close(iterCtx); closeErr != nil {
				logger.Warn("close after failure", slog.Any("error", closeErr))
			}
			return fmt.Errorf("worker %d: iteration %d: %w", w.cfg.Thread, res.TotalIterations+1, err)
		}
		if w.cfg.Sleep > 0 {
			w.sleep(ctx, w.cfg.Sleep)
		}
	}

	if err := handle.Close(iterCtx); err != nil {
		logger.Warn("close sink handle", slog.Any("error", err))
	}
	return nil
}

func (w *Worker) iterate(ctx context.Context, handle sink.Handle, unit scenario.WorkUnit, res *Result) error {
	tracker := w.metrics.Track(string(w.cfg.Scenario), w.cfg.Thread)
	batches, err := w.gen.Generate(w.cfg.Iterations, w.cfg.MinRec, w.cfg.MaxRec)
	if err != nil {
		return tracker.End(observability.IterationStats{}, err)
	}
	out, err := w.strategy.Ingest(ctx, handle, unit, journal.Flatten(batches))
	if err != nil {
		return tracker.End(observability.IterationStats{}, err)
	}
	res.TotalIterations++
	res.TotalData += out.Accepted
	res.TotalFailures += out.Failed
	res.TotalRetries += out.Retries
	res.TotalDataSize += out.SizeRaw
	res.TotalEncodedSize += out.SizeWire
	return tracker.End(observability.IterationStats{
		Records:  out.Accepted,
		Failures: out.Failed,
		Retries:  out.Retries,
		SizeRaw:  out.SizeRaw,
		SizeWire: out.SizeWire,
	}, nil)
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
