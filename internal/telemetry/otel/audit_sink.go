package otel

import (
	"context"
	"encoding/json"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"trustlayer/internal/audit"
	"trustlayer/internal/audit/domain"
)

const instrumentationName = "trustlayer/audit"

// Emitter is the subset of otellog.Logger used by the sink.
type Emitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewAuditSink returns a sink that writes audit records as OTel log records.
// A nil provider yields a sink that discards everything.
func NewAuditSink(provider *sdklog.LoggerProvider) audit.Sink {
	if provider == nil {
		return audit.SinkFunc(func(context.Context, *domain.Record) error { return nil })
	}
	return NewAuditSinkWithEmitter(provider.Logger(instrumentationName))
}

// NewAuditSinkWithEmitter returns a sink writing to e.
func NewAuditSinkWithEmitter(e Emitter) audit.Sink {
	return &auditSink{emitter: e}
}

type auditSink struct {
	emitter Emitter
}

func (s *auditSink) Emit(ctx context.Context, r *domain.Record) error {
	if r == nil {
		return nil
	}
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}
	var rec otellog.Record
	rec.SetTimestamp(r.Timestamp)
	rec.SetObservedTimestamp(r.Timestamp)
	rec.SetSeverity(severity(r.Severity))
	rec.SetSeverityText(string(r.Severity))
	rec.SetEventName("audit." + string(r.Type))
	rec.SetBody(otellog.BytesValue(body))
	rec.AddAttributes(
		otellog.String("audit.id", r.ID),
		otellog.String("audit.category", string(r.Category)),
		otellog.String("audit.status", string(r.Status)),
		otellog.String("actor.id", r.Actor.ID),
		otellog.String("actor.type", string(r.Actor.Type)),
	)
	if r.Context.TenantID != "" {
		rec.AddAttributes(otellog.String("tenant.id", r.Context.TenantID))
	}
	if r.Context.CorrelationID != "" {
		rec.AddAttributes(otellog.String("correlation.id", r.Context.CorrelationID))
	}
	if r.Source.IP != "" {
		rec.AddAttributes(otellog.String("client.address", r.Source.IP))
	}
	s.emitter.Emit(ctx, rec)
	return nil
}

func severity(s domain.Severity) otellog.Severity {
	switch s {
	case domain.SeverityInfo:
		return otellog.SeverityInfo
	case domain.SeverityLow:
		return otellog.SeverityInfo2
	case domain.SeverityMedium:
		return otellog.SeverityWarn
	case domain.SeverityHigh:
		return otellog.SeverityError
	case domain.SeverityCritical:
		return otellog.SeverityFatal
	case domain.SeverityEmergency:
		return otellog.SeverityFatal4
	}
	return otellog.SeverityUndefined
}
