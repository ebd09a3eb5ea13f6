// Package repository stores permission grants and notifies listeners when a
// holder's grants change so cached decisions can be invalidated.
package repository

import (
	"context"
	"slices"
	"sync"
	"time"

	"trustlayer/internal/permission/domain"
)

// Repository defines persistence for grants. Grants are never hard-deleted:
// revocation and expiry are status changes kept for audit.
type Repository interface {
	// FetchGrants returns every stored grant held by s, whatever its status.
	FetchGrants(ctx context.Context, s domain.Subject) ([]domain.Grant, error)
	GetByID(ctx context.Context, id string) (*domain.Grant, error)
	Create(ctx context.Context, g *domain.Grant) error
	// SetStatus moves a grant to status. Returns false if the grant does not exist.
	SetStatus(ctx context.Context, id string, status domain.GrantStatus, by string, at time.Time) (bool, error)
	// Subscribe registers fn to be called after any change to a subject's grants.
	Subscribe(fn func(domain.Subject))
}

// notifier fans change notifications out to subscribers.
type notifier struct {
	mu        sync.RWMutex
	listeners []func(domain.Subject)
}

func (n *notifier) Subscribe(fn func(domain.Subject)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, fn)
}

func (n *notifier) notify(s domain.Subject) {
	n.mu.RLock()
	ls := slices.Clone(n.listeners)
	n.mu.RUnlock()
	for _, fn := range ls {
		fn(s)
	}
}
