package interceptors

import (
	"context"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"trustlayer/internal/audit"
	"trustlayer/internal/audit/domain"
)

// EventRecorder persists audit events.
type EventRecorder interface {
	Record(ctx context.Context, e domain.Event) (*domain.Record, error)
}

// AuditUnary returns a unary server interceptor that records an audit event
// after each RPC. skipMethods are not audited. When the record cannot be
// persisted the RPC fails with Unavailable, even if the handler succeeded.
func AuditUnary(rec EventRecorder, skipMethods map[string]bool, log *zap.Logger) grpc.UnaryServerInterceptor {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if rec == nil || skipMethods[info.FullMethod] {
			return resp, err
		}
		e := audit.RPCEvent(info.FullMethod, rpcOutcome(err))
		if id, ok := IdentityFrom(ctx); ok && id.UserID != "" {
			e.Actor = domain.Actor{Type: domain.ActorUser, ID: id.UserID, SessionID: id.LoginSessionID}
			e.Context.TenantID = id.TenantID
		}
		e.Source.IP = ClientIP(ctx)
		e.Source.UserAgent = firstMetadata(ctx, "user-agent")
		e.Context.RequestID = firstMetadata(ctx, "x-request-id")
		e.Context.CorrelationID = firstMetadata(ctx, "x-correlation-id")
		e.Context.DurationMS = time.Since(start).Milliseconds()
		if err != nil {
			e.Metadata["code"] = status.Code(err).String()
		}
		if _, recErr := rec.Record(ctx, e); recErr != nil {
			log.Error("rpc audit failed", zap.String("method", info.FullMethod), zap.Error(recErr))
			return nil, status.Error(codes.Unavailable, "audit log unavailable")
		}
		return resp, err
	}
}

func rpcOutcome(err error) audit.RPCOutcome {
	switch status.Code(err) {
	case codes.OK:
		return audit.RPCOK
	case codes.PermissionDenied, codes.Unauthenticated:
		return audit.RPCDenied
	}
	return audit.RPCFailed
}

// ClientIP returns the client IP from gRPC metadata (x-forwarded-for, x-real-ip) or peer, or "unknown".
func ClientIP(ctx context.Context) string {
	if s := firstMetadata(ctx, "x-forwarded-for"); s != "" {
		if i := strings.Index(s, ","); i > 0 {
			s = strings.TrimSpace(s[:i])
		}
		return s
	}
	if s := firstMetadata(ctx, "x-real-ip"); s != "" {
		return s
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return "unknown"
}
