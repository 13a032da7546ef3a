package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"

	"github.com/odyssey-erp/loadgen/internal/app"
	"github.com/odyssey-erp/loadgen/internal/shared"
	"github.com/odyssey-erp/loadgen/internal/sink"
	"github.com/odyssey-erp/loadgen/internal/sink/kafka"
	"github.com/odyssey-erp/loadgen/internal/sink/memory"
	"github.com/odyssey-erp/loadgen/internal/sink/postgres"
	"github.com/odyssey-erp/loadgen/internal/sink/redisstream"
	"github.com/odyssey-erp/loadgen/internal/sink/sqldb"
)

// targets is the opened sink plus its optional init and finish tasks.
type targets struct {
	dialer    sink.Dialer
	truncater sink.Truncater
	stats     sink.StatsReader
	closers   []func() error
}

// Close releases everything in reverse opening order.
func (t *targets) Close() error {
	var errs *multierror.Error
	for i := len(t.closers) - 1; i >= 0; i-- {
		if err := t.closers[i](); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// maintain attaches the init and finish tasks unless they are disabled.
func (t *targets) maintain(cfg *app.Config, tasks interface {
	sink.Truncater
	sink.StatsReader
}) {
	if cfg.SkipTruncate || !cfg.ScenarioName().IsRelational() {
		return
	}
	t.truncater = tasks
	t.stats = tasks
}

func openTargets(ctx context.Context, cfg *app.Config, logger *slog.Logger) (*targets, error) {
	t := &targets{}
	name := cfg.ScenarioName()

	if cfg.DryRun {
		mem := memory.New(memory.Options{})
		t.dialer = mem
		t.maintain(cfg, mem)
		logger.Info("dry run, using in-memory sink")
		return t, nil
	}

	if !name.IsRelational() {
		return openStream(ctx, cfg, logger, t)
	}

	dsn, err := cfg.DatabaseURL()
	if err != nil {
		return nil, err
	}
	switch cfg.SQLDriver {
	case "pq":
		s, err := sqldb.Open(dsn, cfg.Table, cfg.Threads, logger)
		if err != nil {
			return nil, err
		}
		t.dialer = s
		t.closers = append(t.closers, s.Close)
		t.maintain(cfg, s)
	case "pgx":
		pgCfg := postgres.Config{DSN: dsn, Table: cfg.Table}
		t.dialer = postgres.NewDialer(pgCfg, logger)
		if !cfg.SkipTruncate {
			admin, err := postgres.NewAdmin(ctx, pgCfg)
			if err != nil {
				return nil, err
			}
			t.closers = append(t.closers, func() error {
				admin.Close()
				return nil
			})
			t.maintain(cfg, admin)
		}
	default:
		return nil, fmt.Errorf("%w: cli: unknown sql driver %q", shared.ErrConfiguration, cfg.SQLDriver)
	}
	logger.Info("sql sink ready", slog.String("driver", cfg.SQLDriver), slog.String("table", cfg.Table))
	return t, nil
}

func openStream(ctx context.Context, cfg *app.Config, logger *slog.Logger, t *targets) (*targets, error) {
	switch cfg.StreamDriver {
	case "redis":
		s, err := redisstream.Open(ctx, redisstream.Config{
			Addr:   cfg.RedisAddr,
			Stream: cfg.Topic,
			MaxLen: cfg.RedisMaxLen,
		}, cfg.Threads, logger)
		if err != nil {
			return nil, err
		}
		t.dialer = s
		t.closers = append(t.closers, s.Close)
	case "kafka":
		s, err := kafka.Open(kafka.Config{
			Brokers:         cfg.KafkaBrokers,
			Topic:           cfg.Topic,
			DeliveryTimeout: cfg.KafkaDeliveryTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		t.dialer = s
		t.closers = append(t.closers, s.Close)
	default:
		return nil, fmt.Errorf("%w: cli: unknown stream driver %q", shared.ErrConfiguration, cfg.StreamDriver)
	}
	logger.Info("stream sink ready", slog.String("driver", cfg.StreamDriver), slog.String("topic", cfg.Topic))
	return t, nil
}
