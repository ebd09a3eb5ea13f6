// Package producer exports audit records to Kafka.
package producer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"trustlayer/internal/audit/domain"
)

// MessageWriter is the subset of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes audit records to a Kafka topic as JSON, keyed by record
// id so a record always lands on the same partition.
type KafkaSink struct {
	writer MessageWriter
}

// NewKafkaSink returns a sink writing to topic. It returns nil when brokers
// or topic are empty. Call Close when shutting down.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}}
}

// NewKafkaSinkWithWriter returns a sink over w.
func NewKafkaSinkWithWriter(w MessageWriter) *KafkaSink { return &KafkaSink{writer: w} }

// Emit serializes the record and writes it with a short timeout so a slow
// broker does not hold callers.
func (p *KafkaSink) Emit(ctx context.Context, r *domain.Record) error {
	if p == nil || p.writer == nil || r == nil {
		return nil
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(r.ID),
		Value: payload,
		Time:  r.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(r.Type)},
			{Key: "severity", Value: []byte(r.Severity)},
		},
	})
}

// Close closes the Kafka writer. Safe to call on a nil sink.
func (p *KafkaSink) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
