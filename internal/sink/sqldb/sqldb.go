// Package sqldb drives the relational scenarios through database/sql and the
// lib/pq driver. It mirrors the pgx sink so the two client stacks can be
// benchmarked against each other.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"

	"github.com/odyssey-erp/loadgen/internal/shared"
	"github.com/odyssey-erp/loadgen/internal/sink"
)

// Sink shares one *sql.DB between workers; each worker checks out a
// dedicated *sql.Conn for its whole run.
type Sink struct {
	db     *sql.DB
	table  string
	logger *slog.Logger
}

// Open opens a lib/pq pool sized for threads workers plus the admin tasks.
func Open(dsn, table string, threads int, logger *slog.Logger) (*Sink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: sink/sqldb: open: %w", shared.ErrConnection, err)
	}
	db.SetMaxOpenConns(threads + 1)
	db.SetMaxIdleConns(threads + 1)
	return New(db, table, logger), nil
}

// New wraps an existing pool.
func New(db *sql.DB, table string, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Sink{db: db, table: table, logger: logger}
}

// Close closes the pool.
func (s *Sink) Close() error {
	return s.db.Close()
}

// Dial implements sink.Dialer.
func (s *Sink) Dial(ctx context.Context, mode sink.Mode) (sink.Handle, error) {
	if mode == sink.ModeStream {
		return nil, fmt.Errorf("%w: sink/sqldb: %w: mode %s", shared.ErrConfiguration, shared.ErrWrongHandle, mode)
	}
	c, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: sink/sqldb: conn: %w", shared.ErrConnection, err)
	}
	if mode == sink.ModeFastIngest {
		if _, err := c.ExecContext(ctx, "SET synchronous_commit TO off"); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("%w: sink/sqldb: enable fast ingest: %w", shared.ErrConnection, err)
		}
	}
	s.logger.Debug("sink connected", slog.String("driver", "pq"), slog.String("mode", mode.String()))
	return &conn{
		conn:   c,
		copyIn: copyInSQL(s.table),
		insert: sink.InsertSQL(s.table),
		fast:   mode == sink.ModeFastIngest,
	}, nil
}

func copyInSQL(table string) string {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pq.CopyInSchema(schema, name, sink.Columns...)
	}
	return pq.CopyIn(table, sink.Columns...)
}

type conn struct {
	conn   *sql.Conn
	tx     *sql.Tx
	copyIn string
	insert string
	fast   bool
}

func (c *conn) begin(ctx context.Context) (*sql.Tx, error) {
	if c.tx != nil {
		return c.tx, nil
	}
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: sink/sqldb: begin: %w", shared.ErrTransport, err)
	}
	c.tx = tx
	return tx, nil
}

func (c *conn) Write(ctx context.Context, row sink.Row) error {
	var err error
	if c.fast {
		_, err = c.conn.ExecContext(ctx, c.insert, row.Values()...)
	} else {
		var tx *sql.Tx
		if tx, err = c.begin(ctx); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, c.insert, row.Values()...)
	}
	if err != nil {
		return fmt.Errorf("%w: sink/sqldb: insert: %w", shared.ErrTransport, err)
	}
	return nil
}

// WriteMany streams rows with COPY. lib/pq only allows COPY inside a
// transaction, so fast mode wraps each call in its own short transaction.
func (c *conn) WriteMany(ctx context.Context, rows []sink.Row) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := c.begin(ctx)
	if err != nil {
		return err
	}
	if err := c.copy(ctx, tx, rows); err != nil {
		return err
	}
	if c.fast {
		return c.Commit(ctx)
	}
	return nil
}

func (c *conn) copy(ctx context.Context, tx *sql.Tx, rows []sink.Row) error {
	stmt, err := tx.PrepareContext(ctx, c.copyIn)
	if err != nil {
		return fmt.Errorf("%w: sink/sqldb: prepare copy: %w", shared.ErrTransport, err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row.Values()...); err != nil {
			return fmt.Errorf("%w: sink/sqldb: copy row: %w", shared.ErrTransport, err)
		}
	}
	// An Exec without arguments flushes the COPY buffer.
	if _, err := stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("%w: sink/sqldb: flush copy: %w", shared.ErrTransport, err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("%w: sink/sqldb: close copy: %w", shared.ErrTransport, err)
	}
	return nil
}

func (c *conn) Commit(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: sink/sqldb: commit: %w", shared.ErrTransport, err)
	}
	return nil
}

func (c *conn) Close(ctx context.Context) error {
	var errs []error
	if c.tx != nil {
		if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			errs = append(errs, err)
		}
		c.tx = nil
	}
	if err := c.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("sink/sqldb: close: %w", err)
	}
	return nil
}

// Truncate implements sink.Truncater.
func (s *Sink) Truncate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sink.TruncateSQL(s.table)); err != nil {
		return fmt.Errorf("sink/sqldb: truncate: %w", err)
	}
	return nil
}

// TableStats implements sink.StatsReader.
func (s *Sink) TableStats(ctx context.Context) (sink.TableStats, error) {
	var stats sink.TableStats
	err := s.db.QueryRowContext(ctx, sink.StatsSQL(s.table), s.table).Scan(
		&stats.Threads, &stats.Inserts, &stats.Bytes, &stats.Blocks, &stats.StartTS, &stats.EndTS,
	)
	if err != nil {
		return sink.TableStats{}, fmt.Errorf("sink/sqldb: table stats: %w", err)
	}
	return stats, nil
}
