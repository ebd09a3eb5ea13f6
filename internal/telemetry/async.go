// Package telemetry holds the audit export sinks: OTel logs, Kafka and Loki.
package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"trustlayer/internal/audit"
	"trustlayer/internal/audit/domain"
)

// emitTimeout is the max time allowed for a single async emit.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait after the gRPC server stops before
// shutting down exporters, so in-flight async emits can finish.
const ShutdownDrainDuration = emitTimeout

// Async wraps s so Emit returns immediately and the write happens in a
// goroutine bounded by emitTimeout. Failures are logged.
func Async(s audit.Sink, log *zap.Logger) audit.Sink {
	if log == nil {
		log = zap.NewNop()
	}
	return audit.SinkFunc(func(_ context.Context, r *domain.Record) error {
		if s == nil || r == nil {
			return nil
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
			defer cancel()
			if err := s.Emit(ctx, r); err != nil {
				log.Warn("audit export failed", zap.String("record_id", r.ID), zap.Error(err))
			}
		}()
		return nil
	})
}
