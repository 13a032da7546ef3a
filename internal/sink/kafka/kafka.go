// Package kafka publishes stream scenario messages to a Kafka topic with
// franz-go.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/odyssey-erp/loadgen/internal/shared"
	"github.com/odyssey-erp/loadgen/internal/sink"
)

// Config selects the cluster and topic.
type Config struct {
	Brokers []string
	Topic   string
	// DeliveryTimeout bounds how long a record may wait for acknowledgement
	// before it is reported as failed. Zero keeps the client default.
	DeliveryTimeout time.Duration
}

// Producer is the part of *kgo.Client the sink uses.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Ping(ctx context.Context) error
	Close()
}

// Sink shares one franz-go client between workers; the client is safe for
// concurrent use and batches records internally.
type Sink struct {
	client Producer
	topic  string
	logger *slog.Logger
}

// Open creates a franz-go client for cfg.
func Open(cfg Config, logger *slog.Logger) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("%w: sink/kafka: no brokers configured", shared.ErrConfiguration)
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.AllowAutoTopicCreation(),
	}
	if cfg.DeliveryTimeout > 0 {
		opts = append(opts, kgo.RecordDeliveryTimeout(cfg.DeliveryTimeout))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: sink/kafka: new client: %w", shared.ErrConnection, err)
	}
	return New(client, cfg.Topic, logger), nil
}

// New wraps an existing producer.
func New(client Producer, topic string, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Sink{client: client, topic: topic, logger: logger}
}

// Close closes the client. Publish waits for every record, so nothing is
// left buffered.
func (s *Sink) Close() error {
	s.client.Close()
	return nil
}

// Dial implements sink.Dialer.
func (s *Sink) Dial(ctx context.Context, mode sink.Mode) (sink.Handle, error) {
	if mode != sink.ModeStream {
		return nil, fmt.Errorf("%w: sink/kafka: %w: mode %s", shared.ErrConfiguration, shared.ErrWrongHandle, mode)
	}
	if err := s.client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: sink/kafka: ping: %w", shared.ErrConnection, err)
	}
	s.logger.Debug("sink connected", slog.String("driver", "kafka"), slog.String("topic", s.topic))
	return &publisher{sink: s}, nil
}

type publisher struct {
	sink *Sink
}

// Publish produces every message and waits for all acknowledgements.
func (p *publisher) Publish(ctx context.Context, msgs []sink.Message) (sink.PublishResult, error) {
	if len(msgs) == 0 {
		return sink.PublishResult{}, nil
	}
	records := make([]*kgo.Record, len(msgs))
	for i, msg := range msgs {
		rec := kgo.KeyStringRecord(msg.Key, msg.Value)
		rec.Topic = p.sink.topic
		records[i] = rec
	}
	return verdicts(records, p.sink.client.ProduceSync(ctx, records...))
}

func (p *publisher) Close(ctx context.Context) error {
	return nil
}

// verdicts maps produce results, which arrive in acknowledgement order, back
// onto the order of records.
func verdicts(records []*kgo.Record, results kgo.ProduceResults) (sink.PublishResult, error) {
	index := make(map[*kgo.Record]int, len(records))
	for i, rec := range records {
		index[rec] = i
	}
	errs := make([]error, len(records))
	seen := 0
	for _, res := range results {
		i, ok := index[res.Record]
		if !ok {
			continue
		}
		seen++
		if res.Err == nil {
			continue
		}
		if isTransport(res.Err) {
			return sink.PublishResult{}, fmt.Errorf("%w: sink/kafka: produce: %w", shared.ErrTransport, res.Err)
		}
		errs[i] = res.Err
	}
	if seen != len(records) {
		return sink.PublishResult{}, fmt.Errorf("%w: sink/kafka: %d of %d records acknowledged", shared.ErrTransport, seen, len(records))
	}
	return sink.NewPublishResult(errs), nil
}

// isTransport reports errors that describe the client or the call rather
// than a single record.
func isTransport(err error) bool {
	return errors.Is(err, kgo.ErrClientClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
