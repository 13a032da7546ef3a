package scenario

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/odyssey-erp/loadgen/internal/journal"
	"github.com/odyssey-erp/loadgen/internal/retry"
	"github.com/odyssey-erp/loadgen/internal/sink"
)

const envelopeTimestamp = "2006-01-02T15:04:05.000000"

// message is the stream value before base64 encoding.
type message struct {
	UUID      string         `json:"uuid"`
	RunID     string         `json:"run_id"`
	Scenario  Name           `json:"scenario"`
	Timestamp string         `json:"timestamp"`
	Data      journal.Record `json:"data"`
}

// streamPublish sends all records as one publish batch through the retry
// engine. Rejected messages that survive every retry round are counted as
// failures, not returned as errors.
type streamPublish struct {
	base
}

func (s *streamPublish) DialMode() sink.Mode { return sink.ModeStream }

func (s *streamPublish) Ingest(ctx context.Context, handle sink.Handle, unit WorkUnit, records []journal.Record) (Outcome, error) {
	pub, ok := handle.(sink.Publisher)
	if !ok {
		return Outcome{}, wrongHandle(s.name, handle)
	}

	var out Outcome
	ts := s.opts.Now().Format(envelopeTimestamp)
	msgs := make([]sink.Message, 0, len(records))
	for _, rec := range records {
		value, err := json.Marshal(message{
			UUID:      s.opts.NewID(),
			RunID:     unit.RunID,
			Scenario:  unit.Scenario,
			Timestamp: ts,
			Data:      rec,
		})
		if err != nil {
			return Outcome{}, fmt.Errorf("scenario stream: encode record: %w", err)
		}
		key := rec.ExternalReference
		msg := sink.Message{
			Key:   base64.StdEncoding.EncodeToString([]byte(key)),
			Value: base64.StdEncoding.EncodeToString(value),
		}
		out.SizeRaw += int64(len(value) + len(key))
		out.SizeWire += int64(len(msg.Value) + len(msg.Key))
		msgs = append(msgs, msg)
	}

	opts := append([]retry.Option{retry.WithLogger(s.opts.Logger.With(
		"run_id", unit.RunID, "thread", unit.Thread,
	))}, s.opts.RetryOptions...)
	stats, err := retry.PublishWithRetry(ctx, msgs, pub.Publish, *s.opts.MaxRetries, opts...)
	if err != nil {
		return Outcome{}, fmt.Errorf("scenario stream: %w", err)
	}
	out.Accepted = stats.Succeeded
	out.Failed = stats.Failed
	out.Retries = stats.Retries
	return out, nil
}
