package repository

import (
	"context"
	"time"

	"trustlayer/internal/device/domain"
)

// Repository defines persistence for remembered devices. At most one row
// exists per (user, fingerprint).
type Repository interface {
	// Get returns the device for the user and fingerprint, or nil if not found.
	Get(ctx context.Context, userID, fingerprint string) (*domain.RememberedDevice, error)
	// Upsert stores d, replacing any device with the same user and fingerprint
	// and clearing its revocation.
	Upsert(ctx context.Context, d *domain.RememberedDevice) error
	// Revoke marks the device revoked. It reports false if no unrevoked device matched.
	Revoke(ctx context.Context, userID, fingerprint string, at time.Time) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.RememberedDevice, error)
	Touch(ctx context.Context, id string, at time.Time) error
}
