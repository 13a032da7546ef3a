// Package redisstream publishes stream scenario messages to a Redis Stream.
package redisstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/loadgen/internal/platform/cache"
	"github.com/odyssey-erp/loadgen/internal/shared"
	"github.com/odyssey-erp/loadgen/internal/sink"
)

// Config selects the stream and its optional trimming.
type Config struct {
	Addr   string
	Stream string
	// MaxLen trims the stream approximately to this many entries when > 0.
	MaxLen int64
}

// Sink owns one Redis client. Publishers share it; go-redis pools the
// underlying connections.
type Sink struct {
	client *redis.Client
	cfg    Config
	logger *slog.Logger
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, cfg Config, threads int, logger *slog.Logger) (*Sink, error) {
	client, err := cache.New(ctx, cfg.Addr, threads+1)
	if err != nil {
		return nil, fmt.Errorf("%w: sink/redisstream: %w", shared.ErrConnection, err)
	}
	return New(client, cfg, logger), nil
}

// New wraps an existing client.
func New(client *redis.Client, cfg Config, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Sink{client: client, cfg: cfg, logger: logger}
}

// Close closes the client.
func (s *Sink) Close() error {
	return s.client.Close()
}

// Dial implements sink.Dialer.
func (s *Sink) Dial(ctx context.Context, mode sink.Mode) (sink.Handle, error) {
	if mode != sink.ModeStream {
		return nil, fmt.Errorf("%w: sink/redisstream: %w: mode %s", shared.ErrConfiguration, shared.ErrWrongHandle, mode)
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: sink/redisstream: ping: %w", shared.ErrConnection, err)
	}
	s.logger.Debug("sink connected", slog.String("driver", "redis"), slog.String("stream", s.cfg.Stream))
	return &publisher{sink: s}, nil
}

type publisher struct {
	sink *Sink
}

// Publish pipelines one XADD per message. A Redis error reply for a single
// command rejects that entry only; any other failure is a transport fault.
func (p *publisher) Publish(ctx context.Context, msgs []sink.Message) (sink.PublishResult, error) {
	if len(msgs) == 0 {
		return sink.PublishResult{}, nil
	}
	pipe := p.sink.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(msgs))
	for i, msg := range msgs {
		args := &redis.XAddArgs{
			Stream: p.sink.cfg.Stream,
			Values: []any{"key", msg.Key, "value", msg.Value},
		}
		if p.sink.cfg.MaxLen > 0 {
			args.MaxLen = p.sink.cfg.MaxLen
			args.Approx = true
		}
		cmds[i] = pipe.XAdd(ctx, args)
	}
	// A connection fault is reported by Exec only and leaves every command
	// without an error. Error replies are read per command below.
	if _, err := pipe.Exec(ctx); err != nil {
		var replyErr redis.Error
		if !errors.As(err, &replyErr) {
			return sink.PublishResult{}, fmt.Errorf("%w: sink/redisstream: exec: %w", shared.ErrTransport, err)
		}
	}

	errs := make([]error, len(cmds))
	for i, cmd := range cmds {
		err := cmd.Err()
		if err == nil {
			continue
		}
		var replyErr redis.Error
		if !errors.As(err, &replyErr) {
			return sink.PublishResult{}, fmt.Errorf("%w: sink/redisstream: xadd: %w", shared.ErrTransport, err)
		}
		errs[i] = err
	}
	return sink.NewPublishResult(errs), nil
}

func (p *publisher) Close(ctx context.Context) error {
	return nil
}
