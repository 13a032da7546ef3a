package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/loadgen/internal/shared"
	"github.com/odyssey-erp/loadgen/internal/sink"
)

func row(id, runID string, ts time.Time) sink.Row {
	return sink.Row{TS: ts, ID: id, Scenario: "array-S-1", RunID: runID, Payload: `{"a":1}`}
}

func TestConnBuffersUntilCommit(t *testing.T) {
	ctx := context.Background()
	s := New(Options{})
	h, err := s.Dial(ctx, sink.ModeDefault)
	require.NoError(t, err)
	conn, ok := h.(sink.Conn)
	require.True(t, ok)

	now := time.Now()
	require.NoError(t, conn.Write(ctx, row("1", "r1", now)))
	require.NoError(t, conn.WriteMany(ctx, []sink.Row{row("2", "r1", now), row("3", "r1", now)}))
	assert.Empty(t, s.Rows())

	require.NoError(t, conn.Commit(ctx))
	assert.Len(t, s.Rows(), 3)

	require.NoError(t, conn.Write(ctx, row("4", "r1", now)))
	require.NoError(t, conn.Close(ctx))
	assert.Len(t, s.Rows(), 3, "uncommitted rows are discarded on close")

	assert.ErrorIs(t, conn.Write(ctx, row("5", "r1", now)), ErrClosed)
	dials, closes, commits, _ := s.Counters()
	assert.Equal(t, 1, dials)
	assert.Equal(t, 1, closes)
	assert.Equal(t, 1, commits)
}

func TestFastModeWritesThrough(t *testing.T) {
	ctx := context.Background()
	s := New(Options{})
	h, err := s.Dial(ctx, sink.ModeFastIngest)
	require.NoError(t, err)
	conn := h.(sink.Conn)

	require.NoError(t, conn.WriteMany(ctx, []sink.Row{row("1", "r1", time.Now())}))
	assert.Len(t, s.Rows(), 1)
}

func TestPublisherRejectsSelectedMessages(t *testing.T) {
	ctx := context.Background()
	s := New(Options{Reject: func(call int, msg sink.Message) bool {
		return call == 0 && msg.Key == "b"
	}})
	h, err := s.Dial(ctx, sink.ModeStream)
	require.NoError(t, err)
	pub, ok := h.(sink.Publisher)
	require.True(t, ok)

	res, err := pub.Publish(ctx, []sink.Message{{Key: "a"}, {Key: "b"}, {Key: "c"}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failures)
	assert.Error(t, res.Entries[1].Err)
	assert.NoError(t, res.Entries[0].Err)

	res, err = pub.Publish(ctx, []sink.Message{{Key: "b"}})
	require.NoError(t, err)
	assert.Zero(t, res.Failures)
	assert.Len(t, s.Messages(), 3)
}

func TestFaultInjection(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := New(Options{DialErr: boom}).Dial(ctx, sink.ModeDefault)
	require.ErrorIs(t, err, shared.ErrConnection)
	require.ErrorIs(t, err, boom)

	h, err := New(Options{WriteErr: boom}).Dial(ctx, sink.ModeDefault)
	require.NoError(t, err)
	err = h.(sink.Conn).Write(ctx, row("1", "r", time.Now()))
	require.ErrorIs(t, err, shared.ErrTransport)

	h, err = New(Options{PublishErr: boom}).Dial(ctx, sink.ModeStream)
	require.NoError(t, err)
	_, err = h.(sink.Publisher).Publish(ctx, []sink.Message{{Key: "a"}})
	require.ErrorIs(t, err, shared.ErrTransport)
}

func TestTruncateAndStats(t *testing.T) {
	ctx := context.Background()
	s := New(Options{})
	h, err := s.Dial(ctx, sink.ModeFastIngest)
	require.NoError(t, err)
	conn := h.(sink.Conn)

	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, conn.WriteMany(ctx, []sink.Row{
		row("1", "r1", start.Add(time.Second)),
		row("2", "r2", start),
		row("3", "r2", start.Add(3*time.Second)),
	}))

	stats, err := s.TableStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.Threads)
	assert.EqualValues(t, 3, stats.Inserts)
	assert.Equal(t, start, stats.StartTS)
	assert.Equal(t, start.Add(3*time.Second), stats.EndTS)
	assert.EqualValues(t, 1, stats.Blocks)

	require.NoError(t, s.Truncate(ctx))
	stats, err = s.TableStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Inserts)
	assert.Zero(t, stats.Threads)
}
