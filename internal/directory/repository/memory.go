package repository

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"trustlayer/internal/clock"
	"trustlayer/internal/directory/domain"
	permdomain "trustlayer/internal/permission/domain"
)

// MemoryRepository is an in-memory Repository for tests, tooling and development.
type MemoryRepository struct {
	mu     sync.RWMutex
	clock  clock.Clock
	users  map[string]*domain.User
	roles  map[string]*domain.Role
	assign map[string][]string
	groups map[string][]string
}

// NewMemoryRepository returns an empty directory. A nil clock uses the real clock.
func NewMemoryRepository(c clock.Clock) *MemoryRepository {
	if c == nil {
		c = clock.Real()
	}
	return &MemoryRepository{
		clock:  c,
		users:  make(map[string]*domain.User),
		roles:  make(map[string]*domain.Role),
		assign: make(map[string][]string),
		groups: make(map[string][]string),
	}
}

// Lookup returns the principal for id, or nil if not found.
func (r *MemoryRepository) Lookup(ctx context.Context, id string) (*domain.Principal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	roles := slices.Clone(r.assign[id])
	inherited, err := domain.Ancestors(roles, func(roleID string) (string, error) {
		if role, ok := r.roles[roleID]; ok {
			return role.ParentID, nil
		}
		return "", nil
	})
	if err != nil {
		return nil, err
	}
	return &domain.Principal{
		ID:             u.ID,
		Status:         u.Status,
		Roles:          roles,
		InheritedRoles: inherited,
		Groups:         slices.Clone(r.groups[id]),
		Profile: permdomain.Profile{
			Department:      u.Department,
			SeniorityMonths: u.SeniorityMonths(r.clock.Now()),
			Roles:           roles,
			Certifications:  slices.Clone(u.Certifications),
			Trainings:       slices.Clone(u.Trainings),
		},
	}, nil
}

// GetUser returns a copy of the user, or nil if not found.
func (r *MemoryRepository) GetUser(ctx context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

// CreateUser stores u, replacing any existing entry with the same id.
func (r *MemoryRepository) CreateUser(ctx context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	r.users[u.ID] = &cp
	return nil
}

// CreateRole stores role.
func (r *MemoryRepository) CreateRole(ctx context.Context, role *domain.Role) error {
	if role.ID == "" {
		return fmt.Errorf("directory: role id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *role
	r.roles[role.ID] = &cp
	return nil
}

// AssignRole gives userID the role. Assigning twice is a no-op.
func (r *MemoryRepository) AssignRole(ctx context.Context, userID, roleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !slices.Contains(r.assign[userID], roleID) {
		r.assign[userID] = append(r.assign[userID], roleID)
	}
	return nil
}

// AddToGroup adds userID to the group. Adding twice is a no-op.
func (r *MemoryRepository) AddToGroup(ctx context.Context, userID, groupID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !slices.Contains(r.groups[userID], groupID) {
		r.groups[userID] = append(r.groups[userID], groupID)
	}
	return nil
}
