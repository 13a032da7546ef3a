// Package scenario implements the ingestion strategies a worker can drive
// against a sink. A Strategy is stateless and shared by every worker; all
// per-run state lives in the WorkUnit and the dialed handle.
package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/loadgen/internal/journal"
	"github.com/odyssey-erp/loadgen/internal/retry"
	"github.com/odyssey-erp/loadgen/internal/shared"
	"github.com/odyssey-erp/loadgen/internal/sink"
)

// Name identifies a strategy on the command line and in results.
type Name string

const (
	Single Name = "single"
	Batch  Name = "batch"
	Array  Name = "array"
	Fast   Name = "fast"
	Stream Name = "stream"
)

// Names lists every strategy in display order.
var Names = []Name{Single, Batch, Array, Fast, Stream}

// Parse validates a strategy name.
func Parse(s string) (Name, error) {
	name := Name(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Names {
		if name == known {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: scenario: unknown scenario %q", shared.ErrConfiguration, s)
}

// IsRelational reports whether the strategy writes rows to a table.
func (n Name) IsRelational() bool {
	return n != Stream
}

// WorkUnit carries what a strategy needs to tag the records of one worker.
type WorkUnit struct {
	Scenario Name
	Size     string
	Threads  int
	RunID    string
	Thread   int
}

// Label tags every relational row, for example "array-M-4".
func (u WorkUnit) Label() string {
	return fmt.Sprintf("%s-%s-%d", u.Scenario, u.Size, u.Threads)
}

// Outcome is the result of one Ingest call.
type Outcome struct {
	Accepted int
	Failed   int
	Retries  int
	SizeRaw  int64
	SizeWire int64
}

// Strategy writes one iteration's records through a dialed handle.
type Strategy interface {
	Name() Name
	DialMode() sink.Mode
	Ingest(ctx context.Context, handle sink.Handle, unit WorkUnit, records []journal.Record) (Outcome, error)
}

// Options tune the strategies. Zero values select the defaults.
type Options struct {
	// MaxRetries bounds stream republish rounds. Nil selects
	// retry.DefaultMaxRetries; zero still allows one retry round.
	MaxRetries *int
	// RetryOptions are passed to the retry engine.
	RetryOptions []retry.Option
	Now          func() time.Time
	NewID        func() string
	Logger       *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxRetries == nil {
		n := retry.DefaultMaxRetries
		o.MaxRetries = &n
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// New returns the strategy registered under name.
func New(name Name, opts Options) (Strategy, error) {
	opts = opts.withDefaults()
	switch name {
	case Single:
		return &rowCommit{base: base{name: name, opts: opts}}, nil
	case Batch:
		return &batchCommit{base: base{name: name, opts: opts}}, nil
	case Array:
		return &arrayInsert{base: base{name: name, opts: opts}}, nil
	case Fast:
		return &arrayInsert{base: base{name: name, opts: opts}, fast: true}, nil
	case Stream:
		return &streamPublish{base: base{name: name, opts: opts}}, nil
	default:
		return nil, fmt.Errorf("%w: scenario: unknown scenario %q", shared.ErrConfiguration, name)
	}
}

type base struct {
	name Name
	opts Options
}

func (b base) Name() Name {
	return b.name
}

func wrongHandle(name Name, handle sink.Handle) error {
	return fmt.Errorf("%w: scenario %s: %w: got %T", shared.ErrConfiguration, name, shared.ErrWrongHandle, handle)
}
