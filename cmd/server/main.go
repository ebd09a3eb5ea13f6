// Server hosts the gRPC health service with authentication and audit
// interceptors over the authorization, MFA and audit core.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"trustlayer/internal/app"
	"trustlayer/internal/clock"
	"trustlayer/internal/config"
	"trustlayer/internal/health"
	"trustlayer/internal/logging"
	"trustlayer/internal/server"
	"trustlayer/internal/telemetry"
	telemetryotel "trustlayer/internal/telemetry/otel"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
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

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: app.ServiceName,
		Insecure:    cfg.OTelInsecure,
	})
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	providers.SetGlobal()

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
	if !sealer.Keyed() {
		log.Warn("AUDIT_SIGNING_SECRET not set, audit records are checksummed but unsigned")
	}
	rec, exports, err := app.NewRecorder(cfg, stores, sealer, providers.LoggerProvider, clk, log.Named("audit"))
	if err != nil {
		return err
	}
	core, err := app.NewCore(cfg, stores, rec, clk, log)
	if err != nil {
		return err
	}

	deps := server.Deps{Recorder: rec, Logger: log.Named("grpc"), Reflection: !cfg.Production()}
	if core.Assertions != nil {
		deps.Assertions = core.Assertions
	} else {
		log.Warn("JWT_PRIVATE_KEY not set, RPCs are not authenticated")
	}
	s, hs := server.NewServer(deps)

	checker := &health.Checker{Policy: core.Policy, Timeout: 2 * time.Second}
	if stores.DB != nil {
		checker.DB = stores.DB
	}
	go checker.Watch(ctx, hs, 10*time.Second, nil, log.Named("health"))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("grpc server listening", zap.String("addr", cfg.GRPCAddr))
		serveErr <- s.Serve(lis)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down grpc server")
	hs.Shutdown()
	s.GracefulStop()
	time.Sleep(telemetry.ShutdownDrainDuration)
	if err := exports.Close(); err != nil {
		log.Warn("kafka close failed", zap.Error(err))
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Warn("otel shutdown failed", zap.Error(err))
	}
	log.Info("grpc server stopped")
	return nil
}
