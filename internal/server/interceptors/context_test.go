package interceptors

import (
	"context"
	"testing"
)

func TestWithIdentity_RoundTrip(t *testing.T) {
	ctx := WithIdentity(context.Background(), Identity{UserID: "user-1", TenantID: "t-1"})
	id, ok := IdentityFrom(ctx)
	if !ok {
		t.Fatal("IdentityFrom should return true")
	}
	if id.TenantID != "t-1" {
		t.Errorf("tenant = %q, want %q", id.TenantID, "t-1")
	}
	if id.MFAVerified() {
		t.Error("identity without mfa session should not be verified")
	}
	userID, ok := GetUserID(ctx)
	if !ok || userID != "user-1" {
		t.Errorf("GetUserID = %q, %v", userID, ok)
	}
}

func TestGetUserID_Missing(t *testing.T) {
	if _, ok := GetUserID(context.Background()); ok {
		t.Error("GetUserID should return false without identity")
	}
	ctx := WithIdentity(context.Background(), Identity{TenantID: "t-1"})
	if _, ok := GetUserID(ctx); ok {
		t.Error("GetUserID should return false for empty user id")
	}
}
