// Package domain holds the MFA verification session and its state machine.
package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidMethod is returned for an unknown or unsupported MFA method.
	ErrInvalidMethod = errors.New("mfa: invalid method")
	// ErrIllegalTransition is returned when a status change is not allowed.
	ErrIllegalTransition = errors.New("mfa: illegal status transition")
)

// Method is a second-factor channel.
type Method string

const (
	MethodTOTP        Method = "TOTP"
	MethodSMS         Method = "SMS"
	MethodEmail       Method = "EMAIL"
	MethodWebAuthn    Method = "WEBAUTHN"
	MethodBackupCodes Method = "BACKUP_CODES"
	MethodAppPush     Method = "APP_PUSH"
	MethodVoiceCall   Method = "VOICE_CALL"
)

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	switch m {
	case MethodTOTP, MethodSMS, MethodEmail, MethodWebAuthn, MethodBackupCodes, MethodAppPush, MethodVoiceCall:
		return true
	}
	return false
}

// ParseMethod validates s as a Method.
func ParseMethod(s string) (Method, error) {
	m := Method(s)
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidMethod, s)
	}
	return m, nil
}

// Status is the state of a verification session.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusVerified  Status = "VERIFIED"
	StatusFailed    Status = "FAILED"
	StatusExpired   Status = "EXPIRED"
	StatusBlocked   Status = "BLOCKED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further transition is possible. Unknown
// statuses are terminal.
func (s Status) Terminal() bool {
	switch s {
	case StatusPending, StatusFailed:
		return false
	case StatusVerified, StatusExpired, StatusBlocked, StatusCancelled:
		return true
	}
	return true
}

// Open reports whether the session still accepts codes. FAILED is open: the
// last code was wrong but attempts remain.
func (s Status) Open() bool { return !s.Terminal() }

// CanTransition reports whether from -> to is a legal move.
//
//	PENDING -> VERIFIED | FAILED | BLOCKED | EXPIRED | CANCELLED
//	FAILED  -> PENDING (fresh code) | VERIFIED | FAILED | BLOCKED | EXPIRED | CANCELLED
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		switch to {
		case StatusVerified, StatusFailed, StatusBlocked, StatusExpired, StatusCancelled:
			return true
		case StatusPending:
			return false
		}
	case StatusFailed:
		switch to {
		case StatusPending, StatusVerified, StatusFailed, StatusBlocked, StatusExpired, StatusCancelled:
			return true
		}
	case StatusVerified, StatusExpired, StatusBlocked, StatusCancelled:
		return false
	}
	return false
}

// AttemptResult is the outcome of one verification attempt.
type AttemptResult string

const (
	AttemptSuccess AttemptResult = "SUCCESS"
	AttemptFail    AttemptResult = "FAIL"
	AttemptTimeout AttemptResult = "TIMEOUT"
)

// Attempt is one entry of the attempt history. The supplied code is kept only as a hash.
type Attempt struct {
	At        time.Time     `json:"at"`
	CodeHash  string        `json:"codeHash,omitempty"`
	Result    AttemptResult `json:"result"`
	IP        string        `json:"ip,omitempty"`
	UserAgent string        `json:"userAgent,omitempty"`
}

// DeviceInfo describes the client a session was started from.
type DeviceInfo struct {
	Fingerprint string `json:"fingerprint,omitempty"`
	Name        string `json:"name,omitempty"`
	UserAgent   string `json:"userAgent,omitempty"`
	IP          string `json:"ip,omitempty"`
	Platform    string `json:"platform,omitempty"`
}

// Options tune one initiation.
type Options struct {
	// ForceReverification ignores remembered devices.
	ForceReverification bool
	// Validity overrides the configured code lifetime.
	Validity time.Duration
	// RememberDevice registers the device on successful verification.
	RememberDevice bool
	// RememberFor overrides the configured remembered-device lifetime.
	RememberFor time.Duration
}

// Session is one challenge-and-response lifecycle tied to a login.
type Session struct {
	ID             string
	UserID         string
	LoginSessionID string
	Method         Method
	Status         Status
	// CodeHash is the hash of the outstanding code; empty for methods validated
	// against an enrolled secret.
	CodeHash    string
	GeneratedAt time.Time
	ExpiresAt   time.Time
	Attempts    int
	MaxAttempts int
	Device      DeviceInfo
	RiskScore   float64
	History     []Attempt
	// RememberDevice and RememberFor record the options given at initiation.
	RememberDevice bool
	RememberFor    time.Duration
	// Implicit marks a session verified through a remembered device without a challenge.
	Implicit    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
	// Version is the optimistic concurrency token, bumped on every write.
	Version int64
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	cp := *s
	cp.History = append([]Attempt(nil), s.History...)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// Transition moves the session to status to, stamping completion for terminal states.
func (s *Session) Transition(to Status, at time.Time) error {
	if s.Status == to && to == StatusFailed {
		s.UpdatedAt = at
		return nil
	}
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s.Status, to)
	}
	s.Status = to
	s.UpdatedAt = at
	if to.Terminal() {
		t := at
		s.CompletedAt = &t
	}
	return nil
}

// Expired reports whether the outstanding code has expired at now.
func (s *Session) Expired(now time.Time) bool { return now.After(s.ExpiresAt) }

// AttemptsRemaining returns how many verifications are left before the session blocks.
func (s *Session) AttemptsRemaining() int { return max(s.MaxAttempts-s.Attempts, 0) }

// BackupCode is a hashed single-use recovery code.
type BackupCode struct {
	ID     string
	UserID string
	Hash   string
	UsedAt *time.Time
}
