// Package fixture reads YAML descriptions of users, roles, grants and MFA
// policies, applies them to the stores and replays access checks against
// them. cmd/seed and cmd/trustctl share the format.
package fixture

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	dirdomain "trustlayer/internal/directory/domain"
	dirrepo "trustlayer/internal/directory/repository"
	grantrepo "trustlayer/internal/grant/repository"
	permdomain "trustlayer/internal/permission/domain"
	policydomain "trustlayer/internal/policy/domain"
	"trustlayer/internal/policy/engine"
	policyrepo "trustlayer/internal/policy/repository"
)

// Development is the fixture cmd/seed applies when no file is given.
//
//go:embed dev.yaml
var Development []byte

// Fixture is the root of a fixture file.
type Fixture struct {
	Roles    []Role             `yaml:"roles"`
	Users    []User             `yaml:"users"`
	Grants   []permdomain.Grant `yaml:"grants"`
	Policies []Policy           `yaml:"policies"`
	Checks   []Check            `yaml:"checks"`
}

// Role is a directory role; Parent makes it inherit the parent's grants.
type Role struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Parent string `yaml:"parent,omitempty"`
}

// User is a directory user with its memberships.
type User struct {
	ID             string     `yaml:"id"`
	Email          string     `yaml:"email,omitempty"`
	Name           string     `yaml:"name,omitempty"`
	Phone          string     `yaml:"phone,omitempty"`
	Status         string     `yaml:"status,omitempty"`
	Department     string     `yaml:"department,omitempty"`
	HiredAt        *time.Time `yaml:"hiredAt,omitempty"`
	Certifications []string   `yaml:"certifications,omitempty"`
	Trainings      []string   `yaml:"trainings,omitempty"`
	Roles          []string   `yaml:"roles,omitempty"`
	Groups         []string   `yaml:"groups,omitempty"`
}

// Policy is a Rego MFA requirement policy. Enabled defaults to true.
type Policy struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Rules   string `yaml:"rules"`
	Enabled *bool  `yaml:"enabled,omitempty"`
}

// Check is an access question with an optional expected level.
type Check struct {
	Principal string                    `yaml:"principal"`
	Resource  string                    `yaml:"resource"`
	Action    string                    `yaml:"action"`
	Context   permdomain.RequestContext `yaml:"context"`
	Expect    *permdomain.AccessLevel   `yaml:"expect,omitempty"`
}

// Parse decodes and validates a fixture. Unknown keys are rejected.
func Parse(r io.Reader) (*Fixture, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f Fixture
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("fixture: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks ids, grant syntax and policy compilation.
func (f *Fixture) Validate() error {
	roles := make(map[string]bool, len(f.Roles))
	for _, r := range f.Roles {
		if r.ID == "" {
			return errors.New("fixture: role without id")
		}
		roles[r.ID] = true
	}
	for _, r := range f.Roles {
		if r.Parent != "" && !roles[r.Parent] {
			return fmt.Errorf("fixture: role %s: unknown parent %s", r.ID, r.Parent)
		}
	}
	for _, u := range f.Users {
		if u.ID == "" {
			return errors.New("fixture: user without id")
		}
		for _, r := range u.Roles {
			if !roles[r] {
				return fmt.Errorf("fixture: user %s: unknown role %s", u.ID, r)
			}
		}
	}
	for i := range f.Grants {
		if err := f.Grants[i].Validate(); err != nil {
			return fmt.Errorf("fixture: grant %d (%s): %w", i, f.Grants[i].ID, err)
		}
	}
	for _, p := range f.Policies {
		if p.ID == "" {
			return errors.New("fixture: policy without id")
		}
		if err := engine.Validate(p.Rules); err != nil {
			return fmt.Errorf("fixture: policy %s: %w", p.ID, err)
		}
	}
	return nil
}

// Stores is what Apply writes to.
type Stores struct {
	Directory dirrepo.Repository
	Grants    grantrepo.Repository
	Policies  policyrepo.Repository
}

// Apply writes the fixture. Grants and policies that already exist by id are
// left alone, so applying twice is safe.
func (f *Fixture) Apply(ctx context.Context, s Stores, now time.Time) error {
	for _, r := range f.Roles {
		if err := s.Directory.CreateRole(ctx, &dirdomain.Role{ID: r.ID, Name: r.Name, ParentID: r.Parent}); err != nil {
			return fmt.Errorf("fixture: role %s: %w", r.ID, err)
		}
	}
	for _, u := range f.Users {
		user := &dirdomain.User{
			ID: u.ID, Email: u.Email, Name: u.Name, Phone: u.Phone,
			Status: dirdomain.UserStatus(u.Status), Department: u.Department, HiredAt: u.HiredAt,
			Certifications: u.Certifications, Trainings: u.Trainings, CreatedAt: now,
		}
		if err := s.Directory.CreateUser(ctx, user); err != nil {
			return fmt.Errorf("fixture: user %s: %w", u.ID, err)
		}
		for _, r := range u.Roles {
			if err := s.Directory.AssignRole(ctx, u.ID, r); err != nil {
				return fmt.Errorf("fixture: user %s role %s: %w", u.ID, r, err)
			}
		}
		for _, g := range u.Groups {
			if err := s.Directory.AddToGroup(ctx, u.ID, g); err != nil {
				return fmt.Errorf("fixture: user %s group %s: %w", u.ID, g, err)
			}
		}
	}
	for i := range f.Grants {
		g := f.Grants[i]
		if g.ID != "" {
			existing, err := s.Grants.GetByID(ctx, g.ID)
			if err != nil {
				return err
			}
			if existing != nil {
				continue
			}
		}
		if g.CreatedAt.IsZero() {
			g.CreatedAt = now
		}
		if err := s.Grants.Create(ctx, &g); err != nil {
			return fmt.Errorf("fixture: grant %s: %w", g.ID, err)
		}
	}
	if s.Policies == nil {
		return nil
	}
	for _, p := range f.Policies {
		existing, err := s.Policies.GetByID(ctx, p.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		enabled := p.Enabled == nil || *p.Enabled
		pol := &policydomain.Policy{ID: p.ID, Name: p.Name, Rules: p.Rules, Enabled: enabled, CreatedAt: now, UpdatedAt: now}
		if err := s.Policies.Create(ctx, pol); err != nil {
			return fmt.Errorf("fixture: policy %s: %w", p.ID, err)
		}
	}
	return nil
}

// Resolver answers access questions.
type Resolver interface {
	Resolve(ctx context.Context, principalID, resource, action string, rc permdomain.RequestContext) (permdomain.Decision, error)
}

// Result is the outcome of one Check. Pass is true when the check has no
// expectation or the decision matched it.
type Result struct {
	Check    Check
	Decision permdomain.Decision
	Pass     bool
}

// Run resolves every check. Checks without context.now are evaluated at now.
func (f *Fixture) Run(ctx context.Context, r Resolver, now time.Time) ([]Result, error) {
	out := make([]Result, 0, len(f.Checks))
	for _, c := range f.Checks {
		rc := c.Context
		if rc.Now.IsZero() {
			rc.Now = now
		}
		d, err := r.Resolve(ctx, c.Principal, c.Resource, c.Action, rc)
		if err != nil {
			return out, fmt.Errorf("fixture: check %s %s %s: %w", c.Principal, c.Action, c.Resource, err)
		}
		out = append(out, Result{Check: c, Decision: d, Pass: c.Expect == nil || *c.Expect == d.Level})
	}
	return out, nil
}
