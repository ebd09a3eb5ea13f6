package repository

import (
	"context"
	"errors"
	"time"

	"trustlayer/internal/mfa/domain"
)

// ErrDuplicate is returned by Create when the session id already exists or
// another open session exists for the same user, login and method.
var ErrDuplicate = errors.New("mfa: duplicate session")

// Repository defines persistence for MFA verification sessions.
type Repository interface {
	// Create stores a new session. At most one open session may exist per
	// (user, login, method).
	Create(ctx context.Context, s *domain.Session) error
	// GetByID returns the session for id, or nil if not found.
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	// CompareAndSwap stores s only if the stored version equals expected; on
	// success the stored (and s's) version becomes expected+1.
	CompareAndSwap(ctx context.Context, s *domain.Session, expected int64) (bool, error)
	// ListByLogin returns the sessions of one login, oldest first.
	ListByLogin(ctx context.Context, userID, loginSessionID string) ([]*domain.Session, error)
}

// EnrollmentRepository stores per-user authenticator secrets.
type EnrollmentRepository interface {
	TOTPSecret(ctx context.Context, userID string) (string, error)
	SetTOTPSecret(ctx context.Context, userID, secret string, at time.Time) error
}

// DefaultCodeTTL is the default lifetime of an issued code.
const DefaultCodeTTL = 5 * time.Minute
