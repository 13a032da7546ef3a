// Package memory provides an in-process sink used for dry runs and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/odyssey-erp/loadgen/internal/shared"
	"github.com/odyssey-erp/loadgen/internal/sink"
)

const blockSize = 8192

// ErrClosed is returned when a closed handle is used.
var ErrClosed = errors.New("sink/memory: handle closed")

// Options configures fault injection and latency.
type Options struct {
	// Latency is added to every write, commit and publish call.
	Latency time.Duration
	// DialErr fails every Dial.
	DialErr error
	// WriteErr fails every Write and WriteMany.
	WriteErr error
	// PublishErr fails every Publish as a transport fault.
	PublishErr error
	// Reject decides per message whether the n-th publish call (0-based,
	// counted across all publishers) rejects it.
	Reject func(call int, msg sink.Message) bool
}

// Sink is a shared in-memory table and stream. It is safe for concurrent use
// by many workers, like a real database would be.
type Sink struct {
	opts Options

	mu           sync.Mutex
	rows         []sink.Row
	messages     []sink.Message
	commits      int
	dials        int
	closes       int
	publishCalls int
}

// New constructs a memory sink.
func New(opts Options) *Sink {
	return &Sink{opts: opts}
}

// Dial implements sink.Dialer.
func (s *Sink) Dial(ctx context.Context, mode sink.Mode) (sink.Handle, error) {
	if s.opts.DialErr != nil {
		return nil, fmt.Errorf("%w: sink/memory: dial: %w", shared.ErrConnection, s.opts.DialErr)
	}
	s.mu.Lock()
	s.dials++
	s.mu.Unlock()
	if mode == sink.ModeStream {
		return &publisher{sink: s}, nil
	}
	return &conn{sink: s, fast: mode == sink.ModeFastIngest}, nil
}

// Truncate implements sink.Truncater.
func (s *Sink) Truncate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = nil
	return nil
}

// TableStats implements sink.StatsReader.
func (s *Sink) TableStats(ctx context.Context) (sink.TableStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := sink.TableStats{Inserts: int64(len(s.rows))}
	runs := make(map[string]struct{})
	for i, row := range s.rows {
		runs[row.RunID] = struct{}{}
		stats.Bytes += int64(len(row.Payload) + len(row.ID) + len(row.Scenario) + len(row.RunID))
		if i == 0 || row.TS.Before(stats.StartTS) {
			stats.StartTS = row.TS
		}
		if row.TS.After(stats.EndTS) {
			stats.EndTS = row.TS
		}
	}
	if len(s.rows) == 0 {
		now := time.Now()
		stats.StartTS, stats.EndTS = now, now
	}
	stats.Threads = int64(len(runs))
	stats.Blocks = (stats.Bytes + blockSize - 1) / blockSize
	return stats, nil
}

// Rows returns a copy of the committed rows.
func (s *Sink) Rows() []sink.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sink.Row(nil), s.rows...)
}

// Messages returns a copy of the accepted messages.
func (s *Sink) Messages() []sink.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sink.Message(nil), s.messages...)
}

// Counters reports dial, close, commit and publish call counts.
func (s *Sink) Counters() (dials, closes, commits, publishes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials, s.closes, s.commits, s.publishCalls
}

func (s *Sink) pause(ctx context.Context) {
	if s.opts.Latency <= 0 {
		return
	}
	timer := time.NewTimer(s.opts.Latency)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (s *Sink) closeHandle() {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
}

type conn struct {
	sink    *Sink
	fast    bool
	pending []sink.Row
	closed  bool
}

func (c *conn) Write(ctx context.Context, row sink.Row) error {
	return c.WriteMany(ctx, []sink.Row{row})
}

func (c *conn) WriteMany(ctx context.Context, rows []sink.Row) error {
	if c.closed {
		return ErrClosed
	}
	c.sink.pause(ctx)
	if c.sink.opts.WriteErr != nil {
		return fmt.Errorf("%w: sink/memory: write: %w", shared.ErrTransport, c.sink.opts.WriteErr)
	}
	if c.fast {
		c.sink.mu.Lock()
		c.sink.rows = append(c.sink.rows, rows...)
		c.sink.mu.Unlock()
		return nil
	}
	c.pending = append(c.pending, rows...)
	return nil
}

func (c *conn) Commit(ctx context.Context) error {
	if c.closed {
		return ErrClosed
	}
	c.sink.pause(ctx)
	c.sink.mu.Lock()
	c.sink.rows = append(c.sink.rows, c.pending...)
	c.sink.commits++
	c.sink.mu.Unlock()
	c.pending = nil
	return nil
}

func (c *conn) Close(ctx context.Context) error {
	if c.closed {
		return nil
	}
	// Uncommitted rows are rolled back.
	c.pending = nil
	c.closed = true
	c.sink.closeHandle()
	return nil
}

type publisher struct {
	sink   *Sink
	closed bool
}

func (p *publisher) Publish(ctx context.Context, msgs []sink.Message) (sink.PublishResult, error) {
	if p.closed {
		return sink.PublishResult{}, ErrClosed
	}
	p.sink.pause(ctx)
	if p.sink.opts.PublishErr != nil {
		return sink.PublishResult{}, fmt.Errorf("%w: sink/memory: publish: %w", shared.ErrTransport, p.sink.opts.PublishErr)
	}

	p.sink.mu.Lock()
	defer p.sink.mu.Unlock()
	call := p.sink.publishCalls
	p.sink.publishCalls++
	errs := make([]error, len(msgs))
	for i, msg := range msgs {
		if p.sink.opts.Reject != nil && p.sink.opts.Reject(call, msg) {
			errs[i] = fmt.Errorf("sink/memory: message %d rejected", i)
			continue
		}
		p.sink.messages = append(p.sink.messages, msg)
	}
	return sink.NewPublishResult(errs), nil
}

func (p *publisher) Close(ctx context.Context) error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.sink.closeHandle()
	return nil
}
