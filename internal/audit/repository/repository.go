package repository

import (
	"context"
	"time"

	"trustlayer/internal/audit/domain"
)

// Repository persists audit records. Records are append-only; only the
// archival state changes, and only forward.
type Repository interface {
	Create(ctx context.Context, r *domain.Record) error
	// GetByID returns nil, nil when the record does not exist.
	GetByID(ctx context.Context, id string) (*domain.Record, error)
	// Search returns matching records ordered by timestamp, then id.
	Search(ctx context.Context, f domain.Filter) ([]*domain.Record, error)
	// Due returns up to limit records in state whose next threshold is at or
	// before now.
	Due(ctx context.Context, state domain.ArchivalState, now time.Time, limit int) ([]*domain.Record, error)
	// Transition moves a record from one state to the next. It reports false
	// when the record was not in from.
	Transition(ctx context.Context, id string, from, to domain.ArchivalState, at time.Time) (bool, error)
}

func threshold(a domain.Archival, state domain.ArchivalState) (time.Time, bool) {
	switch state {
	case domain.StateActive:
		return a.ArchiveAt, true
	case domain.StateArchived:
		return a.DeleteAt, true
	}
	return time.Time{}, false
}
