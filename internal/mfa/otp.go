// Package mfa issues and checks second-factor codes. Issuers are pluggable per
// method; the session state machine lives in mfa/service.
package mfa

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"trustlayer/internal/mfa/domain"
)

// DefaultDigits is the length of generated numeric codes.
const DefaultDigits = 6

// Issuer produces and checks codes for one method.
type Issuer interface {
	// Issue returns the code to deliver and the hash to store. Methods whose
	// codes come from an enrolled authenticator return an empty code and hash.
	Issue(ctx context.Context, s *domain.Session) (code, codeHash string, err error)
	// Verify reports whether supplied is correct for s.
	Verify(ctx context.Context, s *domain.Session, supplied string) (bool, error)
}

// GenerateOTP returns a numeric code of the given length from crypto/rand.
func GenerateOTP(digits int) (string, error) {
	if digits <= 0 {
		digits = DefaultDigits
	}
	b := make([]byte, digits)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = '0' + b[i]%10
	}
	return string(b), nil
}

// HashCode returns the hex SHA-256 of code.
func HashCode(code string) string {
	h := sha256.Sum256([]byte(code))
	return hex.EncodeToString(h[:])
}

// CodeEqual compares supplied against a stored hash in constant time.
func CodeEqual(supplied, storedHash string) bool {
	if storedHash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashCode(supplied)), []byte(storedHash)) == 1
}

// OTPIssuer issues numeric one-time codes delivered out of band (SMS, email, voice).
type OTPIssuer struct {
	Digits int
}

// Issue generates a fresh code and its hash.
func (o OTPIssuer) Issue(ctx context.Context, s *domain.Session) (string, string, error) {
	code, err := GenerateOTP(o.Digits)
	if err != nil {
		return "", "", err
	}
	return code, HashCode(code), nil
}

// Verify compares supplied with the session's stored hash.
func (o OTPIssuer) Verify(ctx context.Context, s *domain.Session, supplied string) (bool, error) {
	return CodeEqual(supplied, s.CodeHash), nil
}
