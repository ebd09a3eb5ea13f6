package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"trustlayer/internal/mfa/domain"
)

// MemoryRepository is an in-memory session Repository. Stored sessions are
// copied on the way in and out.
type MemoryRepository struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

// NewMemoryRepository returns an empty session store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]*domain.Session)}
}

// Create stores s with version 1. Like the Postgres partial unique index, it
// refuses a second open session for the same (user, login, method).
func (r *MemoryRepository) Create(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return ErrDuplicate
	}
	if s.Status.Open() {
		for _, cur := range r.sessions {
			if cur.Status.Open() && cur.UserID == s.UserID &&
				cur.LoginSessionID == s.LoginSessionID && cur.Method == s.Method {
				return ErrDuplicate
			}
		}
	}
	s.Version = 1
	r.sessions[s.ID] = s.Clone()
	return nil
}

// GetByID returns a copy of the session, or nil if not found.
func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	return s.Clone(), nil
}

// CompareAndSwap replaces the stored session when its version equals expected.
func (r *MemoryRepository) CompareAndSwap(ctx context.Context, s *domain.Session, expected int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sessions[s.ID]
	if !ok || cur.Version != expected {
		return false, nil
	}
	s.Version = expected + 1
	r.sessions[s.ID] = s.Clone()
	return true, nil
}

// ListByLogin returns copies of the login's sessions ordered by creation.
func (r *MemoryRepository) ListByLogin(ctx context.Context, userID, loginSessionID string) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Session
	for _, s := range r.sessions {
		if s.UserID == userID && s.LoginSessionID == loginSessionID {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// MemoryEnrollments is an in-memory EnrollmentRepository and backup code store.
type MemoryEnrollments struct {
	mu      sync.Mutex
	secrets map[string]string
	backup  map[string][]domain.BackupCode
}

// NewMemoryEnrollments returns an empty enrollment store.
func NewMemoryEnrollments() *MemoryEnrollments {
	return &MemoryEnrollments{secrets: map[string]string{}, backup: map[string][]domain.BackupCode{}}
}

// TOTPSecret returns the user's secret or "".
func (m *MemoryEnrollments) TOTPSecret(ctx context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.secrets[userID], nil
}

// SetTOTPSecret stores the user's secret.
func (m *MemoryEnrollments) SetTOTPSecret(ctx context.Context, userID, secret string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[userID] = secret
	return nil
}

// Unused returns the user's unused backup codes.
func (m *MemoryEnrollments) Unused(ctx context.Context, userID string) ([]domain.BackupCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BackupCode
	for _, c := range m.backup[userID] {
		if c.UsedAt == nil {
			out = append(out, c)
		}
	}
	return out, nil
}

// MarkUsed consumes code id.
func (m *MemoryEnrollments) MarkUsed(ctx context.Context, userID, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	codes := m.backup[userID]
	for i := range codes {
		if codes[i].ID == id && codes[i].UsedAt == nil {
			t := at
			codes[i].UsedAt = &t
			return true, nil
		}
	}
	return false, nil
}

// Replace swaps the user's backup code set.
func (m *MemoryEnrollments) Replace(ctx context.Context, userID string, codes []domain.BackupCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backup[userID] = append([]domain.BackupCode(nil), codes...)
	return nil
}
