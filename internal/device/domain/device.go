// Package domain holds devices a user chose to remember after a successful MFA.
package domain

import "time"

// RememberedDevice exempts a (user, fingerprint) pair from MFA until ExpiresAt.
type RememberedDevice struct {
	ID           string
	UserID       string
	Fingerprint  string
	Name         string
	UserAgent    string
	RememberedAt time.Time
	ExpiresAt    time.Time
	LastUsedAt   *time.Time
	RevokedAt    *time.Time
}

// Active reports whether the device still exempts its user from MFA at now.
func (d *RememberedDevice) Active(now time.Time) bool {
	if d == nil || d.RevokedAt != nil {
		return false
	}
	return now.Before(d.ExpiresAt)
}
