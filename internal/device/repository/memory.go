package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"trustlayer/internal/device/domain"
)

type deviceKey struct{ userID, fingerprint string }

// MemoryRepository is an in-memory Repository.
type MemoryRepository struct {
	mu      sync.RWMutex
	devices map[deviceKey]domain.RememberedDevice
}

// NewMemoryRepository returns an empty device store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{devices: make(map[deviceKey]domain.RememberedDevice)}
}

func (r *MemoryRepository) Get(ctx context.Context, userID, fingerprint string) (*domain.RememberedDevice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[deviceKey{userID, fingerprint}]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (r *MemoryRepository) Upsert(ctx context.Context, d *domain.RememberedDevice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := deviceKey{d.UserID, d.Fingerprint}
	cp := *d
	cp.RevokedAt = nil
	if prev, ok := r.devices[k]; ok {
		cp.ID = prev.ID
		d.ID = prev.ID
	}
	r.devices[k] = cp
	return nil
}

func (r *MemoryRepository) Revoke(ctx context.Context, userID, fingerprint string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := deviceKey{userID, fingerprint}
	d, ok := r.devices[k]
	if !ok || d.RevokedAt != nil {
		return false, nil
	}
	d.RevokedAt = &at
	r.devices[k] = d
	return true, nil
}

func (r *MemoryRepository) ListByUser(ctx context.Context, userID string) ([]*domain.RememberedDevice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.RememberedDevice
	for k, d := range r.devices {
		if k.userID == userID {
			d := d
			out = append(out, &d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RememberedAt.Before(out[j].RememberedAt) })
	return out, nil
}

func (r *MemoryRepository) Touch(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, d := range r.devices {
		if d.ID == id {
			d.LastUsedAt = &at
			r.devices[k] = d
			return nil
		}
	}
	return nil
}
