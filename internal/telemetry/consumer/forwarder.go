// Package consumer reads exported audit records back from Kafka and forwards
// them to a downstream sink such as Loki.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"trustlayer/internal/audit"
	"trustlayer/internal/audit/domain"
)

// MessageReader is the subset of *kafka.Reader the forwarder uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Verifier checks a record's checksum and signature.
type Verifier interface {
	Verify(r *domain.Record) error
}

// NewReader returns a consumer-group reader for topic.
func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  time.Second,
	})
}

// Forwarder moves records from a reader to a sink. A message is committed
// after it has been handled, whether forwarded or dropped, so one bad
// message does not stall the partition.
type Forwarder struct {
	reader   MessageReader
	sink     audit.Sink
	verifier Verifier
	log      *zap.Logger
	timeout  time.Duration
}

// NewForwarder returns a forwarder. verifier may be nil to skip integrity checks.
func NewForwarder(r MessageReader, sink audit.Sink, verifier Verifier, log *zap.Logger) *Forwarder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Forwarder{reader: r, sink: sink, verifier: verifier, log: log, timeout: 10 * time.Second}
}

// Run forwards until ctx is cancelled and returns ctx.Err().
func (f *Forwarder) Run(ctx context.Context) error {
	for {
		msg, err := f.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.log.Warn("kafka fetch failed", zap.Error(err))
			continue
		}
		f.handle(ctx, msg)
		if err := f.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			f.log.Warn("kafka commit failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

func (f *Forwarder) handle(ctx context.Context, msg kafka.Message) {
	var rec domain.Record
	if err := json.Unmarshal(msg.Value, &rec); err != nil {
		f.log.Warn("dropping undecodable audit message", zap.Int64("offset", msg.Offset), zap.Error(err))
		return
	}
	if f.verifier != nil {
		if err := f.verifier.Verify(&rec); err != nil {
			level := zap.WarnLevel
			if errors.Is(err, audit.ErrIntegrity) {
				level = zap.ErrorLevel
			}
			f.log.Log(level, "dropping unverifiable audit record", zap.String("id", rec.ID), zap.Error(err))
			return
		}
	}
	pushCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	if err := f.sink.Emit(pushCtx, &rec); err != nil {
		f.log.Warn("audit forward failed", zap.String("id", rec.ID), zap.Error(err))
	}
}
