package mfa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"trustlayer/internal/mfa/domain"
)

// ErrNotEnrolled is returned when a user has no authenticator secret.
var ErrNotEnrolled = errors.New("mfa: user not enrolled for method")

// SecretSource returns a user's enrolled TOTP secret, or "" if not enrolled.
type SecretSource interface {
	TOTPSecret(ctx context.Context, userID string) (string, error)
}

// TOTPIssuer validates codes from an authenticator app. Nothing is delivered.
type TOTPIssuer struct {
	Secrets SecretSource
	// Skew is the number of 30-second periods accepted either side of now.
	Skew uint
	Now  func() time.Time
}

// Issue checks enrollment; the code itself is produced by the user's authenticator.
func (t TOTPIssuer) Issue(ctx context.Context, s *domain.Session) (string, string, error) {
	secret, err := t.Secrets.TOTPSecret(ctx, s.UserID)
	if err != nil {
		return "", "", err
	}
	if secret == "" {
		return "", "", fmt.Errorf("%w: %s", ErrNotEnrolled, domain.MethodTOTP)
	}
	return "", "", nil
}

// Verify validates supplied against the user's secret at the current time.
func (t TOTPIssuer) Verify(ctx context.Context, s *domain.Session, supplied string) (bool, error) {
	secret, err := t.Secrets.TOTPSecret(ctx, s.UserID)
	if err != nil {
		return false, err
	}
	if secret == "" {
		return false, nil
	}
	now := time.Now().UTC()
	if t.Now != nil {
		now = t.Now()
	}
	ok, err := totp.ValidateCustom(supplied, secret, now, totp.ValidateOpts{
		Period:    30,
		Skew:      t.Skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if errors.Is(err, otp.ErrValidateInputInvalidLength) {
		return false, nil
	}
	return ok, err
}

// EnrollTOTP creates a new authenticator secret for account and returns the
// secret and its otpauth:// provisioning URL.
func EnrollTOTP(issuer, account string) (secret, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: issuer, AccountName: account})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}
