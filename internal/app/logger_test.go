package app

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/loadgen/internal/shared"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"DEBUG":    slog.LevelDebug,
		"info":     slog.LevelInfo,
		"":         slog.LevelInfo,
		"WARNING":  slog.LevelWarn,
		"ERROR":    slog.LevelError,
		"CRITICAL": LevelCritical,
	}
	for name, want := range cases {
		got, err := ParseLevel(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParseLevel("TRACE")
	require.ErrorIs(t, err, shared.ErrConfiguration)
}

func TestNewLoggerJSONUsesLevelNames(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&Config{LogLevel: "WARNING", LogFormat: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("slow sink")
	logger.Log(context.Background(), LevelCritical, "run aborted")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var warn, critical map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &warn))
	require.NoError(t, json.Unmarshal(lines[1], &critical))
	assert.Equal(t, "WARNING", warn["level"])
	assert.Equal(t, "slow sink", warn["msg"])
	assert.Equal(t, "CRITICAL", critical["level"])
}

func TestNewLoggerTextDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(nil, &buf)

	logger.Debug("hidden")
	logger.Info("worker started", slog.Int("thread", 1))

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "level=INFO")
	assert.Contains(t, buf.String(), "thread=1")
}
