package orchestrator

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/odyssey-erp/loadgen/internal/worker"
)

// InitResult reports the table preparation done before the workers start.
type InitResult struct {
	Type     string `json:"type"`
	Scenario string `json:"scenario"`
	Table    string `json:"table"`
	Size     string `json:"size"`
	Message  string `json:"message"`
}

// DatabaseResult reports the table statistics read back after the run.
type DatabaseResult struct {
	Type     string           `json:"type"`
	Scenario string           `json:"scenario"`
	Table    string           `json:"table"`
	Size     string           `json:"size"`
	Threads  int64            `json:"threads"`
	StartTS  worker.Timestamp `json:"start_ts"`
	EndTS    worker.Timestamp `json:"end_ts"`
	Inserts  int64            `json:"inserts"`
	Bytes    int64            `json:"bytes"`
	Blocks   int64            `json:"blocks"`
}

// Report is everything a run produced. Details are in completion order.
type Report struct {
	Init      *InitResult
	Aggregate *worker.Result
	Details   []worker.Result
	Database  *DatabaseResult
}

// WriteJSONLines writes one JSON object per line: the init line, the
// aggregate, every detail and finally the database line. Missing parts are
// skipped; with no successful worker neither aggregate nor details appear.
func (r Report) WriteJSONLines(w io.Writer) error {
	enc := json.NewEncoder(w)
	write := func(v any) error {
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("orchestrator: write result: %w", err)
		}
		return nil
	}
	if r.Init != nil {
		if err := write(r.Init); err != nil {
			return err
		}
	}
	if r.Aggregate != nil {
		if err := write(r.Aggregate); err != nil {
			return err
		}
	}
	for _, detail := range r.Details {
		if err := write(detail); err != nil {
			return err
		}
	}
	if r.Database != nil {
		if err := write(r.Database); err != nil {
			return err
		}
	}
	return nil
}
