// Package cli wires the loadgen command line to the load engine.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/odyssey-erp/loadgen/internal/app"
	"github.com/odyssey-erp/loadgen/internal/observability"
	"github.com/odyssey-erp/loadgen/internal/orchestrator"
	"github.com/odyssey-erp/loadgen/internal/scenario"
	"github.com/odyssey-erp/loadgen/internal/shared"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// runError marks failures that happened after the configuration was accepted.
type runError struct {
	err error
}

func (e *runError) Error() string { return e.err.Error() }
func (e *runError) Unwrap() error { return e.err }

// Execute runs loadgen with args and returns the process exit code. Result
// lines go to stdout, logs and diagnostics to stderr.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "loadgen: %v\n", err)
		return ExitUsage
	}
	cmd := NewRootCmd(cfg, stdout, stderr)
	cmd.SetArgs(args)
	err = cmd.ExecuteContext(ctx)

	var failed *runError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &failed):
		fmt.Fprintf(stderr, "loadgen: %v\n", err)
		return ExitFailure
	case shared.IsConfiguration(err):
		fmt.Fprintf(stderr, "loadgen: %v\n\n%s", err, cmd.UsageString())
		return ExitUsage
	default:
		fmt.Fprintf(stderr, "loadgen: %v\n", err)
		return ExitFailure
	}
}

// NewRootCmd builds the loadgen command. Flags are bound onto cfg, so the
// values already loaded from the environment act as flag defaults.
func NewRootCmd(cfg *app.Config, stdout, stderr io.Writer) *cobra.Command {
	var secrets struct {
		password string
		dsn      string
	}
	duration := 0
	if cfg.Duration != nil {
		duration = *cfg.Duration
	}

	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Drive synthetic journal lines into a database table or a message stream.",
		Long: `loadgen generates balanced accounting journals and ingests them with one of
several strategies, from one commit per row to bulk array inserts and stream
publishing, using parallel workers for a bounded duration.

It prints one JSON object per line on stdout: the init line (SQL scenarios),
the aggregate, one detail line per worker and the table statistics.
Every flag can also be set through a LOADGEN_* environment variable.`,
		Example: `  loadgen -s array -z M -t 4 -d 60 -b journal_lines -u loadgen -p secret -c localhost:5432/ledger
  loadgen -s stream -z S -t 2 -d 30 -o journals --stream-driver kafka --kafka-brokers broker:9092
  loadgen -s batch -z XS -t 1 -d 0 --dry-run`,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.NoArgs(cmd, args); err != nil {
				return fmt.Errorf("%w: %w", shared.ErrConfiguration, err)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("duration") {
				cfg.Duration = &duration
			}
			if flags.Changed("dbpwd") {
				cfg.DBPassword = secrets.password
			}
			if flags.Changed("dsn") {
				cfg.DSN = secrets.dsn
			}
			cfg.Normalize()
			return cfg.Validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd.Context(), cfg, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", shared.ErrConfiguration, err)
	})

	flags := cmd.Flags()
	flags.SortFlags = false
	addWorkloadFlags(flags, cfg, &duration)
	flags.StringVarP(&cfg.Table, "table", "b", cfg.Table, "target table (required for single, batch, array and fast)")
	flags.StringVarP(&cfg.DBUser, "dbuser", "u", cfg.DBUser, "database user")
	flags.StringVarP(&secrets.password, "dbpwd", "p", "", "database password (env LOADGEN_DBPWD)")
	flags.StringVarP(&cfg.DBConnect, "dbconnect", "c", cfg.DBConnect, "database connect string host[:port][/database][?options]")
	flags.StringVar(&secrets.dsn, "dsn", "", "full database URL, overrides --dbuser, --dbpwd and --dbconnect (env LOADGEN_DSN)")
	flags.StringVar(&cfg.SQLDriver, "sql-driver", cfg.SQLDriver, "SQL driver: pgx or pq")
	flags.StringVarP(&cfg.Topic, "topic", "o", cfg.Topic, "stream or topic name (required for stream)")
	flags.StringVar(&cfg.StreamDriver, "stream-driver", cfg.StreamDriver, "stream driver: redis or kafka")
	flags.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for the redis stream driver")
	flags.Int64Var(&cfg.RedisMaxLen, "redis-maxlen", cfg.RedisMaxLen, "approximate stream length cap, 0 disables trimming")
	flags.StringSliceVar(&cfg.KafkaBrokers, "kafka-brokers", cfg.KafkaBrokers, "Kafka seed brokers")
	flags.DurationVar(&cfg.KafkaDeliveryTimeout, "kafka-delivery-timeout", cfg.KafkaDeliveryTimeout, "time a record may wait for acknowledgement")
	flags.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "stream republish rounds for rejected messages")
	flags.StringVar(&cfg.LogLevel, "loglevel", cfg.LogLevel, "log level: DEBUG, INFO, WARNING, ERROR or CRITICAL")
	flags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: text or json")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve /metrics, /healthz and /progress on this address")
	flags.BoolVar(&cfg.DryRun, "dry-run", cfg.DryRun, "ingest into an in-memory sink instead of a real target")
	flags.BoolVar(&cfg.SkipTruncate, "skip-truncate", cfg.SkipTruncate, "keep existing rows and skip the table statistics")
	return cmd
}

func addWorkloadFlags(flags *pflag.FlagSet, cfg *app.Config, duration *int) {
	flags.StringVarP(&cfg.Scenario, "scenario", "s", cfg.Scenario, "ingestion scenario: single, batch, array, fast or stream (required)")
	flags.StringVarP(&cfg.Size, "size", "z", cfg.Size, "size label recorded with every row (required)")
	flags.IntVarP(&cfg.Threads, "threads", "t", cfg.Threads, "number of parallel workers (required)")
	flags.IntVarP(duration, "duration", "d", *duration, "run duration in seconds; 0 runs one iteration (required)")
	flags.IntVarP(&cfg.MinRec, "minrec", "x", cfg.MinRec, "minimum lines per journal")
	flags.IntVarP(&cfg.MaxRec, "maxrec", "y", cfg.MaxRec, "maximum lines per journal")
	flags.IntVarP(&cfg.Iterations, "iterations", "i", cfg.Iterations, "journals generated per iteration")
	flags.IntVarP(&cfg.Sleep, "sleep", "e", cfg.Sleep, "seconds to sleep after every iteration")
}

// Run executes one load run described by a validated cfg.
func Run(ctx context.Context, cfg *app.Config, stdout, stderr io.Writer) error {
	logger := app.NewLoggerTo(cfg, stderr)
	metrics := observability.NewMetrics()

	if cfg.MetricsAddr != "" {
		router := app.NewRouter(app.RouterParams{Logger: logger, Config: cfg, Metrics: metrics})
		server, err := app.StartStatusServer(cfg, router, logger)
		if err != nil {
			return &runError{err: err}
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("status server shutdown", slog.Any("error", err))
			}
		}()
	}

	strategy, err := scenario.New(cfg.ScenarioName(), scenario.Options{MaxRetries: &cfg.MaxRetries, Logger: logger})
	if err != nil {
		return err
	}

	targets, err := openTargets(ctx, cfg, logger)
	if err != nil {
		if shared.IsConfiguration(err) {
			return err
		}
		return &runError{err: err}
	}
	defer func() {
		if err := targets.Close(); err != nil {
			logger.Warn("close sink", slog.Any("error", err))
		}
	}()

	opts := []orchestrator.Option{orchestrator.WithLogger(logger), orchestrator.WithMetrics(metrics)}
	if targets.truncater != nil {
		opts = append(opts, orchestrator.WithTruncate(targets.truncater))
	}
	if targets.stats != nil {
		opts = append(opts, orchestrator.WithStats(targets.stats))
	}

	report, runErr := orchestrator.New(cfg.WorkerConfig(), strategy, targets.dialer, opts...).Run(ctx)
	if err := report.WriteJSONLines(stdout); err != nil {
		runErr = errors.Join(runErr, err)
	}
	if runErr != nil {
		return &runError{err: runErr}
	}
	return nil
}
