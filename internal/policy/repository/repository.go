package repository

import (
	"context"

	"trustlayer/internal/policy/domain"
)

// Repository defines persistence for MFA requirement policies.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Policy, error)
	// ListEnabled returns enabled policies ordered by creation.
	ListEnabled(ctx context.Context) ([]*domain.Policy, error)
	Create(ctx context.Context, p *domain.Policy) error
	Update(ctx context.Context, p *domain.Policy) error
}
