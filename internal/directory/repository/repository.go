package repository

import (
	"context"

	"trustlayer/internal/directory/domain"
)

// Repository resolves principals and maintains directory entries.
type Repository interface {
	// Lookup returns the principal for id, or nil if the user does not exist.
	Lookup(ctx context.Context, id string) (*domain.Principal, error)
	// GetUser returns the user record for id, or nil if not found.
	GetUser(ctx context.Context, id string) (*domain.User, error)
	CreateUser(ctx context.Context, u *domain.User) error
	CreateRole(ctx context.Context, r *domain.Role) error
	AssignRole(ctx context.Context, userID, roleID string) error
	AddToGroup(ctx context.Context, userID, groupID string) error
}
