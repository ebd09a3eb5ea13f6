// Package server builds the gRPC host: interceptor chain, OTel stats handler
// and the standard health service.
package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"trustlayer/internal/server/interceptors"
)

// HealthMethods are served without a token and never audited.
var HealthMethods = map[string]bool{
	healthpb.Health_Check_FullMethodName: true,
	healthpb.Health_Watch_FullMethodName: true,
	healthpb.Health_List_FullMethodName:  true,
}

// Deps holds the server's collaborators.
type Deps struct {
	// Assertions validates Bearer MFA assertions. If nil, no auth interceptor is installed.
	Assertions interceptors.AssertionValidator
	// Recorder records one audit event per RPC. If nil, RPCs are not audited.
	Recorder interceptors.EventRecorder
	// PublicMethods are served without a token, in addition to HealthMethods.
	PublicMethods map[string]bool
	// SkipAudit lists methods that are not audited, in addition to HealthMethods.
	SkipAudit map[string]bool
	// Reflection registers the reflection service (development only).
	Reflection bool
	Logger     *zap.Logger
}

// NewServer returns a gRPC server with the interceptor chain installed and the
// health service registered. The returned health server starts NOT_SERVING
// until a readiness watcher updates it.
func NewServer(deps Deps, opts ...grpc.ServerOption) (*grpc.Server, *grpchealth.Server) {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	skip := merge(HealthMethods, deps.SkipAudit)

	chain := []grpc.UnaryServerInterceptor{interceptors.LoggingUnary(log, HealthMethods)}
	if deps.Assertions != nil {
		chain = append(chain, interceptors.AuthUnary(deps.Assertions, merge(HealthMethods, deps.PublicMethods)))
	}
	if deps.Recorder != nil {
		chain = append(chain, interceptors.AuditUnary(deps.Recorder, skip, log))
	}

	opts = append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(chain...),
	}, opts...)
	s := grpc.NewServer(opts...)

	hs := grpchealth.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	if deps.Reflection {
		reflection.Register(s)
	}
	return s, hs
}

func merge(sets ...map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for _, s := range sets {
		for k, v := range s {
			out[k] = v
		}
	}
	return out
}
