// Package retry republishes the rejected subset of a stream batch.
//
// Stream sinks answer a publish call with a per-message verdict, so a single
// call can partially fail. Retrying the whole call would resend messages that
// were already accepted; PublishWithRetry instead resends only the entries the
// previous attempt rejected, with jittered exponential backoff between rounds.
// A transport error (the call itself failing) is returned immediately and is
// never retried.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	retrygo "github.com/avast/retry-go"

	"github.com/odyssey-erp/loadgen/internal/shared"
	"github.com/odyssey-erp/loadgen/internal/sink"
)

const (
	DefaultBaseDelay  = 30 * time.Millisecond
	DefaultMaxDelay   = 3 * time.Second
	DefaultMaxRetries = 8
)

var errPartialFailure = errors.New("retry: partial publish failure")

// PublishFunc publishes one batch and reports per-message verdicts.
type PublishFunc func(ctx context.Context, msgs []sink.Message) (sink.PublishResult, error)

// Attempt describes one publish round for observers.
type Attempt struct {
	Retry     int
	Sent      int
	Failed    int
	Succeeded int
	Slept     time.Duration
}

// Stats is the outcome of PublishWithRetry.
type Stats struct {
	Retries   int
	Total     int
	Succeeded int
	Failed    int
	Slept     time.Duration
}

// Option customises PublishWithRetry.
type Option func(*engine)

// WithBackoff overrides the base and cap of the exponential backoff.
func WithBackoff(base, max time.Duration) Option {
	return func(e *engine) {
		if base > 0 {
			e.base = base
		}
		if max > 0 {
			e.max = max
		}
	}
}

// WithLogger logs every attempt at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(e *engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver is called after every publish round.
func WithObserver(fn func(Attempt)) Option {
	return func(e *engine) {
		e.observe = fn
	}
}

// WithJitter replaces the uniform [0,1) jitter source.
func WithJitter(fn func() float64) Option {
	return func(e *engine) {
		if fn != nil {
			e.jitter = fn
		}
	}
}

type engine struct {
	base    time.Duration
	max     time.Duration
	logger  *slog.Logger
	observe func(Attempt)
	jitter  func() float64
}

// Backoff returns the sleep before retry round n (0-based):
// base = min(baseDelay * 2^n, maxDelay), sleep = base/2 + jitter*base/2.
func Backoff(n int, baseDelay, maxDelay time.Duration, jitter float64) time.Duration {
	base := float64(baseDelay) * math.Pow(2, float64(n))
	if base > float64(maxDelay) {
		base = float64(maxDelay)
	}
	return time.Duration(base/2 + jitter*base/2)
}

// PublishWithRetry publishes msgs and then, while some entries were rejected
// and no more than maxRetries retry rounds have run, waits and republishes only
// the rejected entries in their original order. Residual rejections after the
// last round are reported in Stats.Failed, not as an error.
func PublishWithRetry(ctx context.Context, msgs []sink.Message, publish PublishFunc, maxRetries int, opts ...Option) (Stats, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}
	e := &engine{
		base:   DefaultBaseDelay,
		max:    DefaultMaxDelay,
		logger: slog.New(slog.DiscardHandler),
		jitter: rand.Float64,
	}
	for _, opt := range opts {
		opt(e)
	}

	stats := Stats{Total: len(msgs)}
	pending := msgs
	round := 0
	var transportErr error

	attempt := func() error {
		res, err := publish(ctx, pending)
		if err != nil {
			transportErr = err
			return retrygo.Unrecoverable(err)
		}
		if len(res.Entries) != len(pending) {
			transportErr = fmt.Errorf("%w: retry: sink returned %d verdicts for %d messages", shared.ErrTransport, len(res.Entries), len(pending))
			return retrygo.Unrecoverable(transportErr)
		}

		rejected := make([]sink.Message, 0, res.Failures)
		for i, entry := range res.Entries {
			if entry.Err != nil {
				rejected = append(rejected, pending[i])
			}
		}
		if round > 0 {
			stats.Retries++
		}
		stats.Succeeded += len(pending) - len(rejected)
		stats.Failed = len(rejected)

		e.logger.Debug("publish attempt",
			slog.Int("retry_count", stats.Retries),
			slog.Int("data_total_count", stats.Total),
			slog.Int("data_retry_count", len(pending)),
			slog.Int("data_success_count", stats.Succeeded),
			slog.Int("data_failure_count", stats.Failed),
			slog.Int64("sleep_time_ms", stats.Slept.Milliseconds()),
		)
		if e.observe != nil {
			e.observe(Attempt{Retry: stats.Retries, Sent: len(pending), Failed: len(rejected), Succeeded: len(pending) - len(rejected), Slept: stats.Slept})
		}

		round++
		pending = rejected
		if len(rejected) > 0 {
			return errPartialFailure
		}
		return nil
	}

	err := retrygo.Do(attempt,
		// One initial publish plus up to maxRetries+1 retry rounds.
		retrygo.Attempts(uint(maxRetries)+2),
		retrygo.LastErrorOnly(true),
		retrygo.Context(ctx),
		retrygo.RetryIf(func(err error) bool {
			return errors.Is(err, errPartialFailure)
		}),
		retrygo.DelayType(func(n uint, _ error, _ *retrygo.Config) time.Duration {
			d := Backoff(int(n), e.base, e.max, e.jitter())
			stats.Slept += d
			return d
		}),
	)
	if transportErr != nil {
		return stats, transportErr
	}
	if err != nil && !errors.Is(err, errPartialFailure) {
		// Context cancelled while sleeping between rounds.
		return stats, err
	}
	return stats, nil
}
