package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"trustlayer/internal/permission/domain"
)

// MemoryRepository is an in-memory grant Repository.
type MemoryRepository struct {
	notifier
	mu     sync.RWMutex
	grants map[string]domain.Grant
	order  []string
}

// NewMemoryRepository returns an empty grant store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{grants: make(map[string]domain.Grant)}
}

// FetchGrants returns the grants held by s in insertion order.
func (r *MemoryRepository) FetchGrants(ctx context.Context, s domain.Subject) ([]domain.Grant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Grant
	for _, id := range r.order {
		if g := r.grants[id]; s.Holds(g) {
			out = append(out, g)
		}
	}
	return out, nil
}

// GetByID returns the grant for id, or nil if not found.
func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Grant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.grants[id]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

// Create validates and stores g, assigning an id and timestamps when missing.
func (r *MemoryRepository) Create(ctx context.Context, g *domain.Grant) error {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	if err := g.Validate(); err != nil {
		return err
	}
	if g.Status == "" {
		g.Status = domain.GrantActive
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	if g.UpdatedAt.IsZero() {
		g.UpdatedAt = g.CreatedAt
	}
	r.mu.Lock()
	if _, dup := r.grants[g.ID]; dup {
		r.mu.Unlock()
		return fmt.Errorf("grant: duplicate id %s", g.ID)
	}
	r.grants[g.ID] = *g
	r.order = append(r.order, g.ID)
	r.mu.Unlock()
	r.notify(domain.SubjectOf(*g))
	return nil
}

// SetStatus changes the status of grant id.
func (r *MemoryRepository) SetStatus(ctx context.Context, id string, status domain.GrantStatus, by string, at time.Time) (bool, error) {
	r.mu.Lock()
	g, ok := r.grants[id]
	if !ok {
		r.mu.Unlock()
		return false, nil
	}
	g.Status = status
	g.UpdatedAt = at
	g.UpdatedBy = by
	r.grants[id] = g
	r.mu.Unlock()
	r.notify(domain.SubjectOf(g))
	return true, nil
}
