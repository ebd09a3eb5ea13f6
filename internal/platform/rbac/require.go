package rbac

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	auditdomain "trustlayer/internal/audit/domain"
	"trustlayer/internal/permission/domain"
	"trustlayer/internal/server/interceptors"
)

// AccessChecker resolves and records an access decision. app.Core
// implements it.
type AccessChecker interface {
	Check(ctx context.Context, principalID, resource, action string, required domain.AccessLevel, rc domain.RequestContext, ac auditdomain.Context) (bool, domain.Decision, error)
}

// Require ensures the caller is authenticated and holds at least required on
// (resource, action). Returns the caller identity and the decision on success;
// returns a gRPC error (Unauthenticated, PermissionDenied or Internal) on failure.
// A denial caused only by a missing MFA assertion carries the message
// "multi-factor authentication required" so clients can start a challenge.
func Require(ctx context.Context, checker AccessChecker, resource, action string, required domain.AccessLevel) (interceptors.Identity, domain.Decision, error) {
	id, ok := interceptors.IdentityFrom(ctx)
	if !ok || id.UserID == "" {
		return id, domain.Decision{}, status.Error(codes.Unauthenticated, "user context required")
	}
	rc := RequestContext(ctx, id)
	ac := auditdomain.Context{
		TenantID:      id.TenantID,
		RequestID:     first(ctx, "x-request-id"),
		CorrelationID: first(ctx, "x-correlation-id"),
		Operation:     action + " " + resource,
	}
	allowed, d, err := checker.Check(ctx, id.UserID, resource, action, required, rc, ac)
	if err != nil {
		return id, d, status.Error(codes.Internal, "failed to resolve access")
	}
	if allowed {
		return id, d, nil
	}
	if onlyMFAMissing(d) {
		return id, d, status.Error(codes.PermissionDenied, "multi-factor authentication required")
	}
	return id, d, status.Errorf(codes.PermissionDenied, "%s on %s requires %s", action, resource, required)
}

// RequireMFA ensures the caller is authenticated and presented an MFA
// assertion.
func RequireMFA(ctx context.Context) (interceptors.Identity, error) {
	id, ok := interceptors.IdentityFrom(ctx)
	if !ok || id.UserID == "" {
		return id, status.Error(codes.Unauthenticated, "user context required")
	}
	if !id.MFAVerified() {
		return id, status.Error(codes.PermissionDenied, "multi-factor authentication required")
	}
	return id, nil
}

// RequestContext builds the resolver's request context from the caller and
// the incoming metadata. The clock is left to the resolver.
func RequestContext(ctx context.Context, id interceptors.Identity) domain.RequestContext {
	return domain.RequestContext{
		IP:          interceptors.ClientIP(ctx),
		UserAgent:   first(ctx, "user-agent"),
		Platform:    first(ctx, "x-client-platform"),
		AppVersion:  first(ctx, "x-client-version"),
		MFAVerified: id.MFAVerified(),
		SessionID:   id.LoginSessionID,
	}
}

func onlyMFAMissing(d domain.Decision) bool {
	if d.DeniedBy != "" || len(d.Violations) == 0 {
		return false
	}
	for _, v := range d.Violations {
		if v.Family != domain.FamilyTechnical || v.Rule != "mfa" {
			return false
		}
	}
	return true
}

func first(ctx context.Context, key string) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(key); len(v) > 0 {
			return v[0]
		}
	}
	return ""
}
