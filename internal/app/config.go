package app

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"

	"github.com/odyssey-erp/loadgen/internal/scenario"
	"github.com/odyssey-erp/loadgen/internal/shared"
	"github.com/odyssey-erp/loadgen/internal/worker"
)

// EnvPrefix prefixes every environment variable read by LoadConfig.
const EnvPrefix = "LOADGEN"

// Config holds one run's settings. Environment variables provide the
// defaults; command line flags are bound on top of the same struct.
type Config struct {
	Scenario   string `envconfig:"SCENARIO" flag:"scenario" validate:"required,oneof=single batch array fast stream"`
	Size       string `envconfig:"SIZE" flag:"size" validate:"required"`
	Threads    int    `envconfig:"THREADS" flag:"threads" validate:"required,gte=1"`
	Duration   *int   `envconfig:"DURATION" flag:"duration" validate:"required,gte=0"`
	MinRec     int    `envconfig:"MINREC" default:"60" flag:"minrec" validate:"gte=1"`
	MaxRec     int    `envconfig:"MAXREC" default:"100" flag:"maxrec" validate:"gte=1,gtefield=MinRec"`
	Iterations int    `envconfig:"ITERATIONS" default:"1" flag:"iterations" validate:"gte=1"`
	Sleep      int    `envconfig:"SLEEP" default:"0" flag:"sleep" validate:"gte=0"`

	Table      string `envconfig:"TABLE" flag:"table"`
	DBUser     string `envconfig:"DBUSER" flag:"dbuser"`
	DBPassword string `envconfig:"DBPWD" flag:"dbpwd"`
	DBConnect  string `envconfig:"DBCONNECT" flag:"dbconnect"`
	DSN        string `envconfig:"DSN" flag:"dsn"`
	SQLDriver  string `envconfig:"SQL_DRIVER" default:"pgx" flag:"sql-driver" validate:"oneof=pgx pq"`

	Topic                string        `envconfig:"TOPIC" flag:"topic"`
	StreamDriver         string        `envconfig:"STREAM_DRIVER" default:"redis" flag:"stream-driver" validate:"oneof=redis kafka"`
	RedisAddr            string        `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379" flag:"redis-addr"`
	RedisMaxLen          int64         `envconfig:"REDIS_MAXLEN" default:"0" flag:"redis-maxlen" validate:"gte=0"`
	KafkaBrokers         []string      `envconfig:"KAFKA_BROKERS" default:"127.0.0.1:9092" flag:"kafka-brokers"`
	KafkaDeliveryTimeout time.Duration `envconfig:"KAFKA_DELIVERY_TIMEOUT" default:"30s" flag:"kafka-delivery-timeout"`
	MaxRetries           int           `envconfig:"MAX_RETRIES" default:"8" flag:"max-retries" validate:"gte=0"`

	LogLevel  string `envconfig:"LOGLEVEL" default:"INFO" flag:"loglevel" validate:"oneof=DEBUG INFO WARNING ERROR CRITICAL"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text" flag:"log-format" validate:"oneof=text json"`

	MetricsAddr         string        `envconfig:"METRICS_ADDR" flag:"metrics-addr"`
	MetricsReadTimeout  time.Duration `envconfig:"METRICS_READ_TIMEOUT" default:"5s"`
	MetricsWriteTimeout time.Duration `envconfig:"METRICS_WRITE_TIMEOUT" default:"10s"`

	DryRun       bool `envconfig:"DRY_RUN" flag:"dry-run"`
	SkipTruncate bool `envconfig:"SKIP_TRUNCATE" flag:"skip-truncate"`
}

// LoadConfig reads configuration from LOADGEN_* environment variables.
// The result is not validated; flags may still fill in required values.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("%w: app: %w", shared.ErrConfiguration, err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// Normalize canonicalises case-insensitive values.
func (c *Config) Normalize() {
	c.Scenario = strings.ToLower(strings.TrimSpace(c.Scenario))
	c.LogLevel = strings.ToUpper(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.SQLDriver = strings.ToLower(strings.TrimSpace(c.SQLDriver))
	c.StreamDriver = strings.ToLower(strings.TrimSpace(c.StreamDriver))
	brokers := c.KafkaBrokers[:0]
	for _, b := range c.KafkaBrokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	c.KafkaBrokers = brokers
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("flag"); name != "" {
			return "--" + name
		}
		return fld.Name
	})
	return v
}

// Validate checks field ranges and the scenario dependent combinations.
// Every problem is reported; the error wraps shared.ErrConfiguration.
func (c *Config) Validate() error {
	var problems []string
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("%w: app: %w", shared.ErrConfiguration, err)
		}
		for _, fieldErr := range fieldErrs {
			problems = append(problems, describe(fieldErr))
		}
	}

	name := scenario.Name(c.Scenario)
	switch {
	case c.Scenario == "":
	case name.IsRelational() && !c.DryRun:
		if c.Table == "" {
			problems = append(problems, "--table is required for scenario "+c.Scenario)
		}
		if c.DSN == "" {
			for _, f := range []struct{ flag, value string }{
				{"--dbuser", c.DBUser},
				{"--dbpwd", c.DBPassword},
				{"--dbconnect", c.DBConnect},
			} {
				if f.value == "" {
					problems = append(problems, f.flag+" is required for scenario "+c.Scenario+" unless --dsn is set")
				}
			}
		}
	case !name.IsRelational():
		if c.Topic == "" {
			problems = append(problems, "--topic is required for scenario stream")
		}
		if c.StreamDriver == "kafka" && len(c.KafkaBrokers) == 0 && !c.DryRun {
			problems = append(problems, "--kafka-brokers is required for the kafka stream driver")
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: app: %s", shared.ErrConfiguration, strings.Join(problems, "; "))
}

func describe(fieldErr validator.FieldError) string {
	switch fieldErr.Tag() {
	case "required":
		return fieldErr.Field() + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", fieldErr.Field(), fieldErr.Param(), fmt.Sprint(fieldErr.Value()))
	case "gte":
		return fmt.Sprintf("%s must be at least %s", fieldErr.Field(), fieldErr.Param())
	case "gtefield":
		return fmt.Sprintf("%s must not be below --minrec", fieldErr.Field())
	default:
		return fieldErr.Error()
	}
}

// ScenarioName returns the validated strategy name.
func (c *Config) ScenarioName() scenario.Name {
	return scenario.Name(c.Scenario)
}

// RunDuration is the wall-clock budget of every worker.
func (c *Config) RunDuration() time.Duration {
	if c.Duration == nil {
		return 0
	}
	return time.Duration(*c.Duration) * time.Second
}

// DatabaseURL returns --dsn when set, otherwise a postgres URL assembled
// from --dbuser, --dbpwd and --dbconnect. The connect string has the form
// host[:port][/database][?options].
func (c *Config) DatabaseURL() (string, error) {
	if c.DSN != "" {
		return c.DSN, nil
	}
	connect := strings.TrimPrefix(c.DBConnect, "//")
	if connect == "" {
		return "", fmt.Errorf("%w: app: no database connect string", shared.ErrConfiguration)
	}
	u, err := url.Parse("postgres://" + connect)
	if err != nil {
		return "", fmt.Errorf("%w: app: parse --dbconnect: %w", shared.ErrConfiguration, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: app: --dbconnect %q has no host", shared.ErrConfiguration, c.DBConnect)
	}
	u.User = url.UserPassword(c.DBUser, c.DBPassword)
	return u.String(), nil
}

// WorkerConfig is the snapshot handed to every worker.
func (c *Config) WorkerConfig() worker.Config {
	return worker.Config{
		Scenario:   c.ScenarioName(),
		Table:      c.Table,
		Topic:      c.Topic,
		Size:       c.Size,
		Threads:    c.Threads,
		MinRec:     c.MinRec,
		MaxRec:     c.MaxRec,
		Iterations: c.Iterations,
		Sleep:      time.Duration(c.Sleep) * time.Second,
		Duration:   c.RunDuration(),
	}
}
