// Package postgres drives the relational scenarios against PostgreSQL using
// pgx. Every worker dials its own *pgx.Conn; table maintenance goes through a
// small pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/loadgen/internal/platform/db"
	"github.com/odyssey-erp/loadgen/internal/shared"
	"github.com/odyssey-erp/loadgen/internal/sink"
)

// Config identifies the target database and table.
type Config struct {
	DSN   string
	Table string
}

// Dialer opens one connection per worker.
type Dialer struct {
	cfg    Config
	logger *slog.Logger
}

// NewDialer constructs a pgx dialer.
func NewDialer(cfg Config, logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dialer{cfg: cfg, logger: logger}
}

// Dial implements sink.Dialer.
func (d *Dialer) Dial(ctx context.Context, mode sink.Mode) (sink.Handle, error) {
	if mode == sink.ModeStream {
		return nil, fmt.Errorf("%w: sink/postgres: %w: mode %s", shared.ErrConfiguration, shared.ErrWrongHandle, mode)
	}
	pg, err := db.Connect(ctx, d.cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: sink/postgres: %w", shared.ErrConnection, err)
	}
	c := &conn{
		conn:   pg,
		table:  pgx.Identifier(strings.Split(d.cfg.Table, ".")),
		insert: sink.InsertSQL(d.cfg.Table),
		fast:   mode == sink.ModeFastIngest,
	}
	if c.fast {
		// Commits stop waiting for the WAL flush on this session.
		if _, err := pg.Exec(ctx, "SET synchronous_commit TO off"); err != nil {
			_ = pg.Close(ctx)
			return nil, fmt.Errorf("%w: sink/postgres: enable fast ingest: %w", shared.ErrConnection, err)
		}
	}
	d.logger.Debug("sink connected", slog.String("driver", "pgx"), slog.String("mode", mode.String()))
	return c, nil
}

// writer is the subset shared by *pgx.Conn and pgx.Tx.
type writer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

type conn struct {
	conn   *pgx.Conn
	tx     pgx.Tx
	table  pgx.Identifier
	insert string
	fast   bool
}

// target returns the transaction, beginning one on first use. Fast mode
// writes straight through the connection.
func (c *conn) target(ctx context.Context) (writer, error) {
	if c.fast {
		return c.conn, nil
	}
	if c.tx == nil {
		tx, err := c.conn.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: sink/postgres: begin: %w", shared.ErrTransport, err)
		}
		c.tx = tx
	}
	return c.tx, nil
}

func (c *conn) Write(ctx context.Context, row sink.Row) error {
	w, err := c.target(ctx)
	if err != nil {
		return err
	}
	if _, err := w.Exec(ctx, c.insert, row.Values()...); err != nil {
		return fmt.Errorf("%w: sink/postgres: insert: %w", shared.ErrTransport, err)
	}
	return nil
}

func (c *conn) WriteMany(ctx context.Context, rows []sink.Row) error {
	if len(rows) == 0 {
		return nil
	}
	w, err := c.target(ctx)
	if err != nil {
		return err
	}
	values := make([][]any, len(rows))
	for i, row := range rows {
		values[i] = row.Values()
	}
	n, err := w.CopyFrom(ctx, c.table, sink.Columns, pgx.CopyFromRows(values))
	if err != nil {
		return fmt.Errorf("%w: sink/postgres: copy: %w", shared.ErrTransport, err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("%w: sink/postgres: copy wrote %d of %d rows", shared.ErrTransport, n, len(rows))
	}
	return nil
}

func (c *conn) Commit(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: sink/postgres: commit: %w", shared.ErrTransport, err)
	}
	return nil
}

func (c *conn) Close(ctx context.Context) error {
	var errs []error
	if c.tx != nil {
		if err := c.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			errs = append(errs, err)
		}
		c.tx = nil
	}
	if err := c.conn.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("sink/postgres: close: %w", err)
	}
	return nil
}

// Admin runs the init and finish tasks against the target table.
type Admin struct {
	pool  *pgxpool.Pool
	table string
}

// NewAdmin opens a two-connection pool for table maintenance.
func NewAdmin(ctx context.Context, cfg Config) (*Admin, error) {
	pool, err := db.New(ctx, cfg.DSN, 2)
	if err != nil {
		return nil, fmt.Errorf("%w: sink/postgres: %w", shared.ErrConnection, err)
	}
	return &Admin{pool: pool, table: cfg.Table}, nil
}

// Truncate implements sink.Truncater.
func (a *Admin) Truncate(ctx context.Context) error {
	if _, err := a.pool.Exec(ctx, sink.TruncateSQL(a.table)); err != nil {
		return fmt.Errorf("sink/postgres: truncate: %w", err)
	}
	return nil
}

// TableStats implements sink.StatsReader.
func (a *Admin) TableStats(ctx context.Context) (sink.TableStats, error) {
	var stats sink.TableStats
	err := db.WithReadTx(ctx, a.pool, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, sink.StatsSQL(a.table), a.table).Scan(
			&stats.Threads, &stats.Inserts, &stats.Bytes, &stats.Blocks, &stats.StartTS, &stats.EndTS,
		)
	})
	if err != nil {
		return sink.TableStats{}, fmt.Errorf("sink/postgres: table stats: %w", err)
	}
	return stats, nil
}

// Close releases the pool.
func (a *Admin) Close() {
	a.pool.Close()
}
