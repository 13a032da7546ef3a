package app

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/odyssey-erp/loadgen/internal/shared"
)

// LevelCritical sits above slog.LevelError for unrecoverable run failures.
const LevelCritical = slog.Level(12)

// ParseLevel maps DEBUG, INFO, WARNING, ERROR and CRITICAL to slog levels.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "", "INFO":
		return slog.LevelInfo, nil
	case "WARNING", "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	case "CRITICAL":
		return LevelCritical, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: app: unknown log level %q", shared.ErrConfiguration, name)
	}
}

// NewLogger returns a configured slog.Logger writing to stderr. Stdout is
// reserved for the result lines.
func NewLogger(cfg *Config) *slog.Logger {
	return NewLoggerTo(cfg, os.Stderr)
}

// NewLoggerTo is NewLogger writing to w.
func NewLoggerTo(cfg *Config, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	format := "text"
	if cfg != nil {
		if parsed, err := ParseLevel(cfg.LogLevel); err == nil {
			level = parsed
		}
		format = cfg.LogFormat
	}
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: levelNames}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func levelNames(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 || a.Key != slog.LevelKey {
		return a
	}
	level, ok := a.Value.Any().(slog.Level)
	if !ok {
		return a
	}
	switch {
	case level >= LevelCritical:
		a.Value = slog.StringValue("CRITICAL")
	case level == slog.LevelWarn:
		a.Value = slog.StringValue("WARNING")
	}
	return a
}
