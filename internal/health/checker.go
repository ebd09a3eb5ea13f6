// Package health reports readiness of the server's backing stores and
// publishes it through the standard gRPC health service.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Pinger checks database connectivity (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker checks that the MFA policy engine can evaluate.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Checker combines the readiness checks. Nil dependencies are skipped.
type Checker struct {
	DB      Pinger
	Policy  PolicyChecker
	Timeout time.Duration
}

// Check runs every configured check and returns all failures.
func (c *Checker) Check(ctx context.Context) error {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	var result *multierror.Error
	if c.DB != nil {
		if err := c.DB.PingContext(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("health: database: %w", err))
		}
	}
	if c.Policy != nil {
		if err := c.Policy.HealthCheck(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("health: policy engine: %w", err))
		}
	}
	return result.ErrorOrNil()
}

// Status maps the current Check result to a serving status.
func (c *Checker) Status(ctx context.Context) (healthpb.HealthCheckResponse_ServingStatus, error) {
	if err := c.Check(ctx); err != nil {
		return healthpb.HealthCheckResponse_NOT_SERVING, err
	}
	return healthpb.HealthCheckResponse_SERVING, nil
}

// Watch updates hs for the overall server ("") and each named service every
// interval until ctx is done. Transitions are logged once.
func (c *Checker) Watch(ctx context.Context, hs *grpchealth.Server, interval time.Duration, services []string, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	last := healthpb.HealthCheckResponse_UNKNOWN
	update := func() {
		st, err := c.Status(ctx)
		if st != last {
			if err != nil {
				log.Warn("readiness changed", zap.String("status", st.String()), zap.Error(err))
			} else {
				log.Info("readiness changed", zap.String("status", st.String()))
			}
			last = st
		}
		hs.SetServingStatus("", st)
		for _, s := range services {
			hs.SetServingStatus(s, st)
		}
	}
	update()
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			update()
		}
	}
}
