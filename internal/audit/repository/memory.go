package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"trustlayer/internal/audit/domain"
)

// MemoryRepository is an in-memory Repository.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*domain.Record
}

// NewMemoryRepository returns an empty audit store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]*domain.Record)}
}

func (m *MemoryRepository) Create(ctx context.Context, r *domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[r.ID]; ok {
		return fmt.Errorf("audit: record %s already exists", r.ID)
	}
	m.records[r.ID] = r.Clone()
	return nil
}

func (m *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return r.Clone(), nil
}

func (m *MemoryRepository) Search(ctx context.Context, f domain.Filter) ([]*domain.Record, error) {
	m.mu.RLock()
	var out []*domain.Record
	for _, r := range m.records {
		if f.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	m.mu.RUnlock()
	sortRecords(out)
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if n := f.PageSize(); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (m *MemoryRepository) Due(ctx context.Context, state domain.ArchivalState, now time.Time, limit int) ([]*domain.Record, error) {
	m.mu.RLock()
	var out []*domain.Record
	for _, r := range m.records {
		if r.Archival.State != state {
			continue
		}
		if at, ok := threshold(r.Archival, state); ok && !now.Before(at) {
			out = append(out, r.Clone())
		}
	}
	m.mu.RUnlock()
	sortRecords(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) Transition(ctx context.Context, id string, from, to domain.ArchivalState, at time.Time) (bool, error) {
	if !from.Before(to) {
		return false, fmt.Errorf("audit: transition %s -> %s is not forward", from, to)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok || r.Archival.State != from {
		return false, nil
	}
	r.Archival.State = to
	t := at
	switch to {
	case domain.StateArchived:
		r.Archival.ArchivedAt = &t
	case domain.StateDeleted:
		r.Archival.DeletedAt = &t
	}
	return true, nil
}

func sortRecords(rs []*domain.Record) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].Timestamp.Equal(rs[j].Timestamp) {
			return rs[i].Timestamp.Before(rs[j].Timestamp)
		}
		return rs[i].ID < rs[j].ID
	})
}
