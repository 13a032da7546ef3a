package orchestrator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/loadgen/internal/observability"
	"github.com/odyssey-erp/loadgen/internal/scenario"
	"github.com/odyssey-erp/loadgen/internal/shared"
	"github.com/odyssey-erp/loadgen/internal/sink"
	"github.com/odyssey-erp/loadgen/internal/sink/memory"
	"github.com/odyssey-erp/loadgen/internal/worker"
)

func at(hour, minute int) worker.Timestamp {
	return worker.Timestamp(time.Date(2024, time.June, 1, hour, minute, 0, 0, time.UTC))
}

func TestFoldWidensWindowAndSumsCounters(t *testing.T) {
	first := worker.Result{
		Type: worker.TypeDetail, Thread: 1, RunID: "20240601_100000_77_1",
		Start: at(10, 0), End: at(10, 5), ElapsedSec: 300,
		TotalIterations: 4, TotalData: 100, TotalFailures: 1, TotalRetries: 2, TotalDataSize: 1000, TotalEncodedSize: 1300,
	}
	second := worker.Result{
		Type: worker.TypeDetail, Thread: 2, RunID: "20240601_100200_77_2",
		Start: at(10, 2), End: at(10, 7), ElapsedSec: 300,
		TotalIterations: 6, TotalData: 150, TotalFailures: 0, TotalRetries: 1, TotalDataSize: 1500, TotalEncodedSize: 2000,
	}

	agg := Fold(Fold(nil, first), second)
	require.NotNil(t, agg)
	assert.Equal(t, worker.TypeSum, agg.Type)
	assert.Zero(t, agg.Thread)
	assert.Equal(t, "20240601_100000", agg.RunID)
	assert.Equal(t, at(10, 0), agg.Start)
	assert.Equal(t, at(10, 7), agg.End)
	assert.Equal(t, 420.0, agg.ElapsedSec)
	assert.Equal(t, 10, agg.TotalIterations)
	assert.Equal(t, 250, agg.TotalData)
	assert.Equal(t, 1, agg.TotalFailures)
	assert.Equal(t, 3, agg.TotalRetries)
	assert.EqualValues(t, 2500, agg.TotalDataSize)
	assert.EqualValues(t, 3300, agg.TotalEncodedSize)

	// Inputs are untouched.
	assert.Equal(t, worker.TypeDetail, first.Type)
	assert.Equal(t, 1, first.Thread)

	// Order of arrival does not change the window.
	reversed := Fold(Fold(nil, second), first)
	assert.Equal(t, agg.Start, reversed.Start)
	assert.Equal(t, agg.End, reversed.End)
	assert.Equal(t, "20240601_100200", reversed.RunID)
}

func TestAggregateOfNothingIsNil(t *testing.T) {
	assert.Nil(t, Aggregate(nil))
}

func baseConfig(threads int) worker.Config {
	return worker.Config{
		Scenario:   scenario.Array,
		Table:      "journal_load",
		Size:       "S",
		Threads:    threads,
		MinRec:     1,
		MaxRec:     3,
		Iterations: 2,
		Sleep:      50 * time.Millisecond,
		Duration:   time.Second,
	}
}

func newOrchestrator(t *testing.T, cfg worker.Config, dialer sink.Dialer, opts ...Option) *Orchestrator {
	t.Helper()
	strategy, err := scenario.New(cfg.Scenario, scenario.Options{})
	require.NoError(t, err)
	return New(cfg, strategy, dialer, opts...)
}

func TestRunThreeArrayWorkers(t *testing.T) {
	s := memory.New(memory.Options{})
	metrics := observability.NewMetrics()
	o := newOrchestrator(t, baseConfig(3), s, WithMetrics(metrics))

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Details, 3)
	require.NotNil(t, report.Aggregate)

	sum := 0
	threads := map[int]bool{}
	for _, d := range report.Details {
		sum += d.TotalData
		threads[d.Thread] = true
		assert.Equal(t, worker.TypeDetail, d.Type)
		assert.GreaterOrEqual(t, d.TotalIterations, 1)
	}
	assert.Equal(t, map[int]bool{1: true, 2: true, 3: true}, threads)
	assert.Equal(t, sum, report.Aggregate.TotalData)
	assert.Equal(t, len(s.Rows()), report.Aggregate.TotalData)
	assert.Equal(t, worker.TypeSum, report.Aggregate.Type)
	assert.Len(t, report.Aggregate.RunID, 15)
	assert.GreaterOrEqual(t, report.Aggregate.ElapsedSec, 1.0)

	dials, closes, _, _ := s.Counters()
	assert.Equal(t, 3, dials)
	assert.Equal(t, 3, closes)

	for _, p := range metrics.Progress().Snapshot() {
		assert.Equal(t, "done", p.State)
	}
}

func TestRunReportsCompletedWorkersWhenOneFails(t *testing.T) {
	s := memory.New(memory.Options{})
	var calls atomic.Int32
	dialer := sink.DialerFunc(func(ctx context.Context, mode sink.Mode) (sink.Handle, error) {
		if calls.Add(1) == 2 {
			return nil, errors.New("too many connections")
		}
		return s.Dial(ctx, mode)
	})
	cfg := baseConfig(3)
	cfg.Duration = 0
	o := newOrchestrator(t, cfg, dialer)

	report, err := o.Run(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, shared.ErrConnection)
	require.Len(t, report.Details, 2)
	require.NotNil(t, report.Aggregate)
	assert.Equal(t, report.Details[0].TotalData+report.Details[1].TotalData, report.Aggregate.TotalData)
}

func TestRunWithEveryWorkerFailing(t *testing.T) {
	s := memory.New(memory.Options{DialErr: errors.New("down")})
	o := newOrchestrator(t, baseConfig(2), s)

	report, err := o.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, report.Aggregate)
	assert.Empty(t, report.Details)

	var buf bytes.Buffer
	require.NoError(t, report.WriteJSONLines(&buf))
	assert.Empty(t, buf.String())
}

type countingStats struct {
	calls int
}

func (c *countingStats) TableStats(context.Context) (sink.TableStats, error) {
	c.calls++
	return sink.TableStats{}, nil
}

func TestFinishTaskSkippedWhenEveryWorkerFails(t *testing.T) {
	s := memory.New(memory.Options{DialErr: errors.New("down")})
	stats := &countingStats{}
	o := newOrchestrator(t, baseConfig(1), s, WithStats(stats))

	report, err := o.Run(context.Background())
	require.ErrorIs(t, err, shared.ErrConnection)
	assert.Nil(t, report.Database)
	assert.Zero(t, stats.calls)

	var buf bytes.Buffer
	require.NoError(t, report.WriteJSONLines(&buf))
	assert.Empty(t, buf.String())
}

func TestRunRejectsZeroThreads(t *testing.T) {
	o := newOrchestrator(t, baseConfig(0), memory.New(memory.Options{}))
	_, err := o.Run(context.Background())
	require.True(t, shared.IsConfiguration(err))
}

type failingTruncater struct{ err error }

func (f failingTruncater) Truncate(context.Context) error { return f.err }

func TestInitFailureAbortsBeforeWorkers(t *testing.T) {
	s := memory.New(memory.Options{})
	o := newOrchestrator(t, baseConfig(2), s, WithTruncate(failingTruncater{err: errors.New("permission denied")}))

	_, err := o.Run(context.Background())
	require.Error(t, err)
	dials, _, _, _ := s.Counters()
	assert.Zero(t, dials)
}

func TestRunWithInitAndFinishTasks(t *testing.T) {
	s := memory.New(memory.Options{})
	cfg := baseConfig(2)
	cfg.Duration = 0

	// Rows from an earlier run are truncated away.
	h, err := s.Dial(context.Background(), sink.ModeFastIngest)
	require.NoError(t, err)
	require.NoError(t, h.(sink.Conn).Write(context.Background(), sink.Row{TS: time.Now(), RunID: "old"}))

	o := newOrchestrator(t, cfg, s, WithTruncate(s), WithStats(s))
	report, err := o.Run(context.Background())
	require.NoError(t, err)

	require.NotNil(t, report.Init)
	assert.Equal(t, "table truncated", report.Init.Message)
	require.NotNil(t, report.Database)
	assert.EqualValues(t, report.Aggregate.TotalData, report.Database.Inserts)
	assert.EqualValues(t, 2, report.Database.Threads)

	var buf bytes.Buffer
	require.NoError(t, report.WriteJSONLines(&buf))
	var types []string
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		types = append(types, line["type"].(string))
	}
	assert.Equal(t, []string{"init", "sum", "detail", "detail", "database"}, types)
}
