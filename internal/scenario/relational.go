package scenario

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/odyssey-erp/loadgen/internal/journal"
	"github.com/odyssey-erp/loadgen/internal/sink"
)

// rowTimestamp is the textual width the size accounting charges for ts.
const rowTimestamp = "2006-01-02 15:04:05.000000"

// envelope wraps each record into a table row and returns the accounted size.
func (b base) envelope(unit WorkUnit, rec journal.Record) (sink.Row, int64, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return sink.Row{}, 0, fmt.Errorf("scenario %s: encode record: %w", b.name, err)
	}
	row := sink.Row{
		TS:       b.opts.Now(),
		ID:       b.opts.NewID(),
		Scenario: unit.Label(),
		RunID:    unit.RunID,
		Payload:  string(payload),
	}
	size := int64(len(row.Payload) + len(row.ID) + len(row.TS.Format(rowTimestamp)))
	return row, size, nil
}

func (b base) conn(handle sink.Handle) (sink.Conn, error) {
	conn, ok := handle.(sink.Conn)
	if !ok {
		return nil, wrongHandle(b.name, handle)
	}
	return conn, nil
}

// rowCommit inserts and commits one record at a time.
type rowCommit struct {
	base
}

func (s *rowCommit) DialMode() sink.Mode { return sink.ModeDefault }

func (s *rowCommit) Ingest(ctx context.Context, handle sink.Handle, unit WorkUnit, records []journal.Record) (Outcome, error) {
	conn, err := s.conn(handle)
	if err != nil {
		return Outcome{}, err
	}
	var out Outcome
	for _, rec := range records {
		row, size, err := s.envelope(unit, rec)
		if err != nil {
			return Outcome{}, err
		}
		if err := conn.Write(ctx, row); err != nil {
			return Outcome{}, fmt.Errorf("scenario single: %w", err)
		}
		if err := conn.Commit(ctx); err != nil {
			return Outcome{}, fmt.Errorf("scenario single: %w", err)
		}
		out.Accepted++
		out.SizeRaw += size
	}
	out.SizeWire = out.SizeRaw
	return out, nil
}

// batchCommit inserts one record at a time and commits once.
type batchCommit struct {
	base
}

func (s *batchCommit) DialMode() sink.Mode { return sink.ModeDefault }

func (s *batchCommit) Ingest(ctx context.Context, handle sink.Handle, unit WorkUnit, records []journal.Record) (Outcome, error) {
	conn, err := s.conn(handle)
	if err != nil {
		return Outcome{}, err
	}
	var out Outcome
	for _, rec := range records {
		row, size, err := s.envelope(unit, rec)
		if err != nil {
			return Outcome{}, err
		}
		if err := conn.Write(ctx, row); err != nil {
			return Outcome{}, fmt.Errorf("scenario batch: %w", err)
		}
		out.Accepted++
		out.SizeRaw += size
	}
	if err := conn.Commit(ctx); err != nil {
		return Outcome{}, fmt.Errorf("scenario batch: %w", err)
	}
	out.SizeWire = out.SizeRaw
	return out, nil
}

// arrayInsert writes all records in one bulk call. In fast mode the handle is
// dialed for the sink's write-optimized path and no commit is issued.
type arrayInsert struct {
	base
	fast bool
}

func (s *arrayInsert) DialMode() sink.Mode {
	if s.fast {
		return sink.ModeFastIngest
	}
	return sink.ModeDefault
}

func (s *arrayInsert) Ingest(ctx context.Context, handle sink.Handle, unit WorkUnit, records []journal.Record) (Outcome, error) {
	conn, err := s.conn(handle)
	if err != nil {
		return Outcome{}, err
	}
	var out Outcome
	rows := make([]sink.Row, 0, len(records))
	for _, rec := range records {
		row, size, err := s.envelope(unit, rec)
		if err != nil {
			return Outcome{}, err
		}
		rows = append(rows, row)
		out.SizeRaw += size
	}
	if err := conn.WriteMany(ctx, rows); err != nil {
		return Outcome{}, fmt.Errorf("scenario %s: %w", s.name, err)
	}
	if !s.fast {
		if err := conn.Commit(ctx); err != nil {
			return Outcome{}, fmt.Errorf("scenario %s: %w", s.name, err)
		}
	}
	out.Accepted = len(rows)
	out.SizeWire = out.SizeRaw
	return out, nil
}
