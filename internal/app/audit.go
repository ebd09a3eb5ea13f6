package app

import (
	"net/http"
	"time"

	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.uber.org/zap"

	"trustlayer/internal/audit"
	auditdomain "trustlayer/internal/audit/domain"
	"trustlayer/internal/clock"
	"trustlayer/internal/config"
	"trustlayer/internal/telemetry"
	"trustlayer/internal/telemetry/loki"
	telemetryotel "trustlayer/internal/telemetry/otel"
	"trustlayer/internal/telemetry/producer"
)

// ServiceName is the OTel service name and the audit source application.
const ServiceName = "trustlayer"

// NewSealer returns the audit sealer for AUDIT_SIGNING_SECRET.
func NewSealer(cfg *config.Config) (*audit.Sealer, error) {
	var secret []byte
	if cfg.AuditSigningSecret != "" {
		secret = []byte(cfg.AuditSigningSecret)
	}
	return audit.NewSealer(secret)
}

// Exports holds the audit sinks that need closing on shutdown.
type Exports struct {
	Kafka *producer.KafkaSink
}

// Close closes the Kafka writer. Wait telemetry.ShutdownDrainDuration first
// so in-flight async emits can finish.
func (e *Exports) Close() error {
	if e == nil {
		return nil
	}
	return e.Kafka.Close()
}

// NewRecorder builds the audit recorder over stores with every configured
// export sink: OTel logs (when logs is non-nil), Kafka and Loki.
func NewRecorder(cfg *config.Config, stores *Stores, sealer *audit.Sealer, logs *sdklog.LoggerProvider, c clock.Clock, log *zap.Logger) (*audit.Recorder, *Exports, error) {
	opts := []audit.Option{
		audit.WithClock(c),
		audit.WithLogger(log),
		audit.WithRetention(cfg.RetentionPolicy()),
		audit.WithSource(ServiceName, environment(cfg.Env)),
	}
	exports := &Exports{}
	if logs != nil {
		opts = append(opts, audit.WithSink(telemetryotel.NewAuditSink(logs)))
	}
	if k := producer.NewKafkaSink(cfg.KafkaBrokersList(), cfg.AuditKafkaTopic); k != nil {
		exports.Kafka = k
		opts = append(opts, audit.WithSink(telemetry.Async(k, log)))
	}
	if cfg.LokiURL != "" && exports.Kafka == nil {
		lc, err := loki.NewClient(cfg.LokiURL, ServiceName, &http.Client{Timeout: 10 * time.Second})
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, audit.WithSink(telemetry.Async(lc, log)))
	}
	rec, err := audit.NewRecorder(stores.Audit, sealer, opts...)
	if err != nil {
		return nil, nil, err
	}
	return rec, exports, nil
}

func environment(env string) auditdomain.Environment {
	switch env {
	case "production":
		return auditdomain.EnvProd
	case "staging":
		return auditdomain.EnvStaging
	case "test":
		return auditdomain.EnvTest
	}
	return auditdomain.EnvDev
}
