package mfa

import (
	"context"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustlayer/internal/mfa/domain"
)

type secretMap map[string]string

func (m secretMap) TOTPSecret(ctx context.Context, userID string) (string, error) {
	return m[userID], nil
}

func TestTOTPIssuer(t *testing.T) {
	ctx := context.Background()
	secret, url, err := EnrollTOTP("trustlayer", "alice@example.com")
	require.NoError(t, err)
	assert.Contains(t, url, "otpauth://totp/")

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	iss := TOTPIssuer{Secrets: secretMap{"alice": secret}, Skew: 1, Now: func() time.Time { return now }}
	s := &domain.Session{UserID: "alice", Method: domain.MethodTOTP}

	code, hash, err := iss.Issue(ctx, s)
	require.NoError(t, err)
	assert.Empty(t, code)
	assert.Empty(t, hash)

	valid, err := totp.GenerateCode(secret, now)
	require.NoError(t, err)
	ok, err := iss.Verify(ctx, s, valid)
	require.NoError(t, err)
	assert.True(t, ok)

	stale, err := totp.GenerateCode(secret, now.Add(-10*time.Minute))
	require.NoError(t, err)
	if stale != valid {
		ok, err = iss.Verify(ctx, s, stale)
		require.NoError(t, err)
		assert.False(t, ok)
	}

	ok, err = iss.Verify(ctx, s, "12")
	require.NoError(t, err)
	assert.False(t, ok, "short input is a mismatch, not an error")
}

func TestTOTPIssuer_NotEnrolled(t *testing.T) {
	iss := TOTPIssuer{Secrets: secretMap{}}
	_, _, err := iss.Issue(context.Background(), &domain.Session{UserID: "bob"})
	assert.ErrorIs(t, err, ErrNotEnrolled)
}
