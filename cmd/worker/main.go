// Worker runs the audit retention sweep on AUDIT_SWEEP_INTERVAL. When
// KAFKA_BROKERS, AUDIT_KAFKA_TOPIC and LOKI_URL are set it also forwards
// exported audit records from Kafka to Loki.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trustlayer/internal/app"
	"trustlayer/internal/audit"
	"trustlayer/internal/clock"
	"trustlayer/internal/config"
	"trustlayer/internal/logging"
	"trustlayer/internal/telemetry/consumer"
	"trustlayer/internal/telemetry/loki"
)

const consumerGroup = "trustlayer-audit-loki"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "worker:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, closeLog, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Development: !cfg.Production()})
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()
	stores, err := app.OpenStores(ctx, cfg, clk, log)
	if err != nil {
		return err
	}
	defer stores.Close()

	sealer, err := app.NewSealer(cfg)
	if err != nil {
		return err
	}
	// The worker records nothing itself, so its recorder exports nowhere.
	sweepCfg := *cfg
	sweepCfg.KafkaBrokers, sweepCfg.LokiURL = "", ""
	rec, _, err := app.NewRecorder(&sweepCfg, stores, sealer, nil, clk, log.Named("audit"))
	if err != nil {
		return err
	}

	fwd, closeFwd, err := forwarder(cfg, sealer, log)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("retention sweeper started", zap.Duration("interval", cfg.AuditSweepInterval))
		return audit.NewScheduler(rec, cfg.AuditSweepInterval, clk, log.Named("sweep")).Run(ctx)
	})

	if fwd != nil {
		defer closeFwd()
		g.Go(func() error {
			log.Info("forwarding audit records", zap.String("topic", cfg.AuditKafkaTopic), zap.String("loki", cfg.LokiURL))
			return fwd.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("worker stopped")
	return nil
}

func forwarder(cfg *config.Config, sealer *audit.Sealer, log *zap.Logger) (*consumer.Forwarder, func(), error) {
	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 || cfg.LokiURL == "" {
		return nil, nil, nil
	}
	lc, err := loki.NewClient(cfg.LokiURL, app.ServiceName, &http.Client{Timeout: 10 * time.Second})
	if err != nil {
		return nil, nil, err
	}
	reader := consumer.NewReader(brokers, cfg.AuditKafkaTopic, consumerGroup)
	return consumer.NewForwarder(reader, lc, sealer, log.Named("forward")), func() { _ = reader.Close() }, nil
}
