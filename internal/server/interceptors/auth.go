package interceptors

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"trustlayer/internal/security"
)

const bearerPrefix = "bearer "

// AssertionValidator validates an MFA assertion token.
type AssertionValidator interface {
	Validate(token string) (*security.AssertionClaims, error)
}

// AuthUnary returns a unary server interceptor that validates the Bearer MFA
// assertion from gRPC metadata and stores the caller's Identity in context.
// publicMethods are served without a token; an invalid token on a public
// method is ignored rather than rejected.
func AuthUnary(v AssertionValidator, publicMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		public := publicMethods[info.FullMethod]
		token := extractBearer(ctx)
		if token == "" {
			if public {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}
		claims, err := v.Validate(token)
		if err != nil {
			if public {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}
		ctx = WithIdentity(ctx, Identity{
			UserID:         claims.Subject,
			TenantID:       firstMetadata(ctx, "x-tenant-id"),
			LoginSessionID: claims.LoginSessionID,
			MFASessionID:   claims.MFASessionID,
			MFAMethod:      claims.Method,
		})
		return handler(ctx, req)
	}
}

// extractBearer returns the Bearer token from ctx metadata, or "" if missing or malformed.
func extractBearer(ctx context.Context) string {
	v := firstMetadata(ctx, "authorization")
	if len(v) < len(bearerPrefix) || !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}

func firstMetadata(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if vals := md.Get(key); len(vals) > 0 {
		return strings.TrimSpace(vals[0])
	}
	return ""
}
