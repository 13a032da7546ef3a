// Package sink defines the write surfaces the load generator drives. Each
// worker dials its own Handle and owns it for the lifetime of its run.
package sink

import (
	"context"
	"time"
)

// Mode selects how a relational handle is prepared at dial time.
type Mode int

const (
	// ModeDefault writes inside an implicit transaction closed by Commit.
	ModeDefault Mode = iota
	// ModeFastIngest asks the sink for its write-optimized path. Writes are not
	// wrapped in a transaction and Commit is not expected; durability is
	// whatever the sink provides for that path.
	ModeFastIngest
	// ModeStream dials a message stream publisher.
	ModeStream
)

func (m Mode) String() string {
	switch m {
	case ModeDefault:
		return "default"
	case ModeFastIngest:
		return "fast"
	case ModeStream:
		return "stream"
	default:
		return "unknown"
	}
}

// Row is one enveloped record destined for the target table.
type Row struct {
	TS       time.Time
	ID       string
	Scenario string
	RunID    string
	Payload  string
}

// Columns lists the target table columns in Row order.
var Columns = []string{"ts", "id", "scenario", "run_id", "payload"}

// Values returns the row as positional column values.
func (r Row) Values() []any {
	return []any{r.TS, r.ID, r.Scenario, r.RunID, r.Payload}
}

// Message is one stream entry. Key and Value are already base64 encoded.
type Message struct {
	Key   string
	Value string
}

// EntryResult is the per-message outcome of a publish call. A nil Err means
// the sink accepted the message.
type EntryResult struct {
	Err error
}

// PublishResult mirrors the partial-failure response of a stream sink: a
// single call can accept some messages and reject others.
type PublishResult struct {
	Entries  []EntryResult
	Failures int
}

// NewPublishResult builds a result from per-entry errors.
func NewPublishResult(errs []error) PublishResult {
	res := PublishResult{Entries: make([]EntryResult, len(errs))}
	for i, err := range errs {
		res.Entries[i].Err = err
		if err != nil {
			res.Failures++
		}
	}
	return res
}

// Handle is a dialed sink connection.
type Handle interface {
	Close(ctx context.Context) error
}

// Conn is a relational write handle.
type Conn interface {
	Handle
	Write(ctx context.Context, row Row) error
	WriteMany(ctx context.Context, rows []Row) error
	Commit(ctx context.Context) error
}

// Publisher is a message stream handle. A returned error is a transport
// fault; rejected messages are reported through PublishResult instead.
type Publisher interface {
	Handle
	Publish(ctx context.Context, msgs []Message) (PublishResult, error)
}

// Dialer acquires a handle for one worker.
type Dialer interface {
	Dial(ctx context.Context, mode Mode) (Handle, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, mode Mode) (Handle, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, mode Mode) (Handle, error) {
	return f(ctx, mode)
}

// TableStats is the read-back summary of the target table after a run.
type TableStats struct {
	Threads int64
	Inserts int64
	Bytes   int64
	Blocks  int64
	StartTS time.Time
	EndTS   time.Time
}

// Truncater empties the target table before a run.
type Truncater interface {
	Truncate(ctx context.Context) error
}

// StatsReader reads back table statistics after a run.
type StatsReader interface {
	TableStats(ctx context.Context) (TableStats, error)
}
