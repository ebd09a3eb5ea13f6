package interceptors

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"trustlayer/internal/security"
)

func newIssuer(t *testing.T) *security.AssertionIssuer {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	iss, err := security.NewAssertionIssuer(key, nil, "trustlayer", "trustlayer-api", 5*time.Minute)
	require.NoError(t, err)
	return iss
}

func bearerContext(token string, kv ...string) context.Context {
	md := metadata.Pairs(append([]string{"authorization", "Bearer " + token}, kv...)...)
	return metadata.NewIncomingContext(context.Background(), md)
}

func okHandler(ctx context.Context, req any) (any, error) { return "success", nil }

func TestAuthUnary_PublicMethod(t *testing.T) {
	interceptor := AuthUnary(newIssuer(t), map[string]bool{"/test.Service/Public": true})
	resp, err := interceptor(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: "/test.Service/Public"}, okHandler)
	require.NoError(t, err)
	assert.Equal(t, "success", resp)
}

func TestAuthUnary_ProtectedMethod_NoToken(t *testing.T) {
	interceptor := AuthUnary(newIssuer(t), nil)
	_, err := interceptor(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: "/test.Service/Protected"}, okHandler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestAuthUnary_ProtectedMethod_InvalidToken(t *testing.T) {
	interceptor := AuthUnary(newIssuer(t), nil)
	_, err := interceptor(bearerContext("not-a-token"), "req", &grpc.UnaryServerInfo{FullMethod: "/test.Service/Protected"}, okHandler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestAuthUnary_ForeignIssuerRejected(t *testing.T) {
	other := newIssuer(t)
	token, _, err := other.Issue("user-1", "login-1", "mfa-1", "totp")
	require.NoError(t, err)
	interceptor := AuthUnary(newIssuer(t), nil)
	_, err = interceptor(bearerContext(token), "req", &grpc.UnaryServerInfo{FullMethod: "/test.Service/Protected"}, okHandler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestAuthUnary_ValidAssertionSetsIdentity(t *testing.T) {
	iss := newIssuer(t)
	token, _, err := iss.Issue("user-1", "login-1", "mfa-1", "totp")
	require.NoError(t, err)

	var got Identity
	handler := func(ctx context.Context, req any) (any, error) {
		id, ok := IdentityFrom(ctx)
		require.True(t, ok)
		got = id
		return "success", nil
	}
	interceptor := AuthUnary(iss, nil)
	_, err = interceptor(bearerContext(token, "x-tenant-id", "tenant-a"), "req", &grpc.UnaryServerInfo{FullMethod: "/test.Service/Protected"}, handler)
	require.NoError(t, err)
	assert.Equal(t, Identity{
		UserID:         "user-1",
		TenantID:       "tenant-a",
		LoginSessionID: "login-1",
		MFASessionID:   "mfa-1",
		MFAMethod:      "totp",
	}, got)
	assert.True(t, got.MFAVerified())
}

func TestAuthUnary_PublicMethodIgnoresBadToken(t *testing.T) {
	interceptor := AuthUnary(newIssuer(t), map[string]bool{"/test.Service/Public": true})
	handler := func(ctx context.Context, req any) (any, error) {
		_, ok := IdentityFrom(ctx)
		assert.False(t, ok)
		return "success", nil
	}
	resp, err := interceptor(bearerContext("garbage"), "req", &grpc.UnaryServerInfo{FullMethod: "/test.Service/Public"}, handler)
	require.NoError(t, err)
	assert.Equal(t, "success", resp)
}

func TestExtractBearer(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"Bear":         "",
	}
	for header, want := range cases {
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", header))
		assert.Equal(t, want, extractBearer(ctx), header)
	}
	assert.Empty(t, extractBearer(context.Background()))
}
