// Package security holds the signing and hashing helpers around MFA: signed
// MFA assertions, backup-code hashing and audit key derivation.
package security

import (
	"crypto"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidAssertion is returned when an assertion is malformed, expired or
// not addressed to this service.
var ErrInvalidAssertion = errors.New("security: invalid mfa assertion")

// AssertionClaims states that a user completed a second factor for a login session.
type AssertionClaims struct {
	jwt.RegisteredClaims
	LoginSessionID string   `json:"sid"`
	MFASessionID   string   `json:"mfa_sid"`
	Method         string   `json:"mfa_method"`
	AMR            []string `json:"amr"`
}

// AssertionIssuer signs and validates MFA assertions with RS256 or ES256.
type AssertionIssuer struct {
	key      crypto.Signer
	pub      crypto.PublicKey
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewAssertionIssuer returns an issuer signing with key. pub validates; it is
// usually key.Public() but may be loaded separately.
func NewAssertionIssuer(key crypto.Signer, pub crypto.PublicKey, issuer, audience string, ttl time.Duration) (*AssertionIssuer, error) {
	if key == nil || signingMethod(key.Public()) == nil {
		return nil, ErrInvalidKey
	}
	if pub == nil {
		pub = key.Public()
	}
	return &AssertionIssuer{key: key, pub: pub, issuer: issuer, audience: audience, ttl: ttl, now: func() time.Time { return time.Now().UTC() }}, nil
}

// WithClock returns a copy of the issuer using now as its time source.
func (a *AssertionIssuer) WithClock(now func() time.Time) *AssertionIssuer {
	cp := *a
	cp.now = now
	return &cp
}

// Issue returns a signed assertion for a verified MFA session and its expiry.
func (a *AssertionIssuer) Issue(userID, loginSessionID, mfaSessionID, method string) (string, time.Time, error) {
	jti := make([]byte, 16)
	if _, err := rand.Read(jti); err != nil {
		return "", time.Time{}, err
	}
	now := a.now()
	exp := now.Add(a.ttl)
	claims := AssertionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        hex.EncodeToString(jti),
			Subject:   userID,
			Issuer:    a.issuer,
			Audience:  jwt.ClaimStrings{a.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		LoginSessionID: loginSessionID,
		MFASessionID:   mfaSessionID,
		Method:         method,
		AMR:            []string{"mfa", method},
	}
	tok, err := jwt.NewWithClaims(signingMethod(a.key.Public()), claims).SignedString(a.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return tok, exp, nil
}

// Validate checks signature, expiry, issuer and audience and returns the claims.
func (a *AssertionIssuer) Validate(token string) (*AssertionClaims, error) {
	want := signingMethod(a.pub)
	parsed, err := jwt.ParseWithClaims(token, &AssertionClaims{}, func(t *jwt.Token) (any, error) {
		if want == nil || t.Method.Alg() != want.Alg() {
			return nil, ErrInvalidAssertion
		}
		return a.pub, nil
	},
		jwt.WithIssuer(a.issuer),
		jwt.WithAudience(a.audience),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, ErrInvalidAssertion
	}
	claims, ok := parsed.Claims.(*AssertionClaims)
	if !ok || !parsed.Valid || !slices.Contains(claims.AMR, "mfa") {
		return nil, ErrInvalidAssertion
	}
	return claims, nil
}
