package repository

import (
	"context"
	"sort"
	"sync"

	"trustlayer/internal/policy/domain"
)

// MemoryRepository is an in-memory Repository.
type MemoryRepository struct {
	mu       sync.RWMutex
	policies map[string]domain.Policy
}

// NewMemoryRepository returns an empty policy store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{policies: make(map[string]domain.Policy)}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *MemoryRepository) ListEnabled(ctx context.Context) ([]*domain.Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Policy
	for _, p := range r.policies {
		if p.Enabled {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) Create(ctx context.Context, p *domain.Policy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[p.ID] = *p
	return nil
}

func (r *MemoryRepository) Update(ctx context.Context, p *domain.Policy) error {
	return r.Create(ctx, p)
}
