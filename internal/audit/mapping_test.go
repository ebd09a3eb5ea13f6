package audit

import (
	"testing"

	"trustlayer/internal/audit/domain"
)

func TestParseFullMethod(t *testing.T) {
	tests := []struct {
		method   string
		action   string
		resource string
	}{
		{"/trustlayer.permission.v1.PermissionService/GetDecision", "get", "permission"},
		{"/trustlayer.permission.v1.PermissionService/ListEffectivePermissions", "list", "permission"},
		{"/trustlayer.audit.v1.AuditService/SearchRecords", "list", "audit"},
		{"/trustlayer.grant.v1.GrantService/CreateGrant", "create", "grant"},
		{"/trustlayer.grant.v1.GrantService/RevokeGrant", "delete", "grant"},
		{"/trustlayer.policy.v1.PolicyService/UpdatePolicy", "update", "policy"},
		{"/trustlayer.mfa.v1.ChallengeService/Verify", "verify", "challenge"},
		{"/trustlayer.audit.v1.AuditService/ExportRecords", "export", "audit"},
		{"/grpc.health.v1.Health/Check", "check", "health"},
		{"/NoDots/Method", "method", "unknown"},
		{"no-slash", "unknown", "unknown"},
	}
	for _, tt := range tests {
		ar := ParseFullMethod(tt.method)
		if ar.Action != tt.action || ar.Resource != tt.resource {
			t.Errorf("ParseFullMethod(%q) = %+v, want %s/%s", tt.method, ar, tt.action, tt.resource)
		}
	}
}

func TestParseFullMethod_BareGet(t *testing.T) {
	ar := ParseFullMethod("/trustlayer.kv.v1.KVService/Get")
	if ar.Action != "get" {
		t.Errorf("action = %q, want %q", ar.Action, "get")
	}
}

func TestRPCEvent(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		outcome RPCOutcome
		typ     domain.EventType
		status  domain.Status
	}{
		{"read", "/trustlayer.grant.v1.GrantService/ListGrants", RPCOK, domain.EventDataRead, domain.StatusSuccess},
		{"delete", "/trustlayer.grant.v1.GrantService/RevokeGrant", RPCOK, domain.EventDataDelete, domain.StatusSuccess},
		{"other", "/trustlayer.mfa.v1.ChallengeService/Verify", RPCOK, domain.EventAPIAccess, domain.StatusSuccess},
		{"denied", "/trustlayer.grant.v1.GrantService/CreateGrant", RPCDenied, domain.EventAccessDenied, domain.StatusFailure},
		{"failed", "/trustlayer.grant.v1.GrantService/CreateGrant", RPCFailed, domain.EventDataCreate, domain.StatusError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := RPCEvent(tt.method, tt.outcome)
			if e.Type != tt.typ || e.Status != tt.status {
				t.Errorf("RPCEvent = %s/%s, want %s/%s", e.Type, e.Status, tt.typ, tt.status)
			}
			e.Normalize()
			if err := e.Validate(); err != nil {
				t.Errorf("Validate: %v", err)
			}
		})
	}
}
