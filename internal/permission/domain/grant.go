package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/gobwas/glob"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Scope is the context a grant applies within.
type Scope string

const (
	ScopeGlobal     Scope = "GLOBAL"
	ScopeTenant     Scope = "TENANT"
	ScopeSite       Scope = "SITE"
	ScopeDepartment Scope = "DEPARTMENT"
	ScopeProject    Scope = "PROJECT"
	ScopeResource   Scope = "RESOURCE"
	ScopeOwned      Scope = "OWNED"
)

// Valid reports whether s is a known scope. The empty scope is treated as GLOBAL.
func (s Scope) Valid() bool {
	switch s {
	case "", ScopeGlobal, ScopeTenant, ScopeSite, ScopeDepartment, ScopeProject, ScopeResource, ScopeOwned:
		return true
	}
	return false
}

// SourceType is where a grant comes from.
type SourceType string

const (
	SourceDirect    SourceType = "DIRECT"
	SourceDelegated SourceType = "DELEGATED"
	SourceRole      SourceType = "ROLE"
	SourceGroup     SourceType = "GROUP"
	SourceInherited SourceType = "INHERITED"
)

// Priority orders sources for deny evaluation: DIRECT > DELEGATED > ROLE > GROUP > INHERITED.
// Unknown sources rank below everything.
func (s SourceType) Priority() int {
	switch s {
	case SourceDirect:
		return 5
	case SourceDelegated:
		return 4
	case SourceRole:
		return 3
	case SourceGroup:
		return 2
	case SourceInherited:
		return 1
	}
	return 0
}

// Valid reports whether s is a known source type.
func (s SourceType) Valid() bool { return s.Priority() > 0 }

// Source identifies the origin of a grant and, for inherited grants, the chain
// of roles or groups it was reached through.
type Source struct {
	Type  SourceType `json:"type" yaml:"type"`
	ID    string     `json:"id,omitempty" yaml:"id,omitempty"`
	Name  string     `json:"name,omitempty" yaml:"name,omitempty"`
	Chain []string   `json:"chain,omitempty" yaml:"chain,omitempty"`
}

// GrantStatus is the lifecycle state of a grant.
type GrantStatus string

const (
	GrantActive    GrantStatus = "ACTIVE"
	GrantInactive  GrantStatus = "INACTIVE"
	GrantSuspended GrantStatus = "SUSPENDED"
	GrantRevoked   GrantStatus = "REVOKED"
	GrantExpired   GrantStatus = "EXPIRED"
)

// Delegation describes a time-limited hand-off of a permission to the principal.
type Delegation struct {
	DelegatedBy  string     `json:"delegatedBy" yaml:"delegatedBy"`
	DelegatedAt  time.Time  `json:"delegatedAt" yaml:"delegatedAt"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty" yaml:"expiresAt,omitempty"`
	RevokedAt    *time.Time `json:"revokedAt,omitempty" yaml:"revokedAt,omitempty"`
	Reason       string     `json:"reason,omitempty" yaml:"reason,omitempty"`
	SubDelegable bool       `json:"subDelegable,omitempty" yaml:"subDelegable,omitempty"`
}

// Active reports whether the delegation is neither revoked nor expired at now.
func (d *Delegation) Active(now time.Time) bool {
	if d == nil {
		return false
	}
	if d.RevokedAt != nil && !now.Before(*d.RevokedAt) {
		return false
	}
	return d.ExpiresAt == nil || now.Before(*d.ExpiresAt)
}

// Grant is a single permission assertion from one source. Granted=false is an
// explicit deny.
type Grant struct {
	ID           string        `json:"id" yaml:"id"`
	PrincipalID  string        `json:"principalId" yaml:"principalId"`
	Resource     string        `json:"resource" yaml:"resource"`
	Action       string        `json:"action" yaml:"action"`
	Scope        Scope         `json:"scope,omitempty" yaml:"scope,omitempty"`
	ScopeID      string        `json:"scopeId,omitempty" yaml:"scopeId,omitempty"`
	Level        AccessLevel   `json:"level" yaml:"level"`
	Granted      bool          `json:"granted" yaml:"granted"`
	Conditions   *Conditions   `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Source       Source        `json:"source" yaml:"source"`
	Delegation   *Delegation   `json:"delegation,omitempty" yaml:"delegation,omitempty"`
	ValidFrom    *time.Time    `json:"validFrom,omitempty" yaml:"validFrom,omitempty"`
	ValidUntil   *time.Time    `json:"validUntil,omitempty" yaml:"validUntil,omitempty"`
	Status       GrantStatus   `json:"status,omitempty" yaml:"status,omitempty"`
	Restrictions *Restrictions `json:"restrictions,omitempty" yaml:"restrictions,omitempty"`
	CreatedAt    time.Time     `json:"createdAt" yaml:"createdAt"`
	CreatedBy    string        `json:"createdBy,omitempty" yaml:"createdBy,omitempty"`
	UpdatedAt    time.Time     `json:"updatedAt" yaml:"updatedAt"`
	UpdatedBy    string        `json:"updatedBy,omitempty" yaml:"updatedBy,omitempty"`
}

// Validate checks the grant's identifiers, enums and condition syntax.
func (g *Grant) Validate() error {
	if err := ValidateResourcePattern(g.Resource); err != nil {
		return err
	}
	if err := ValidateAction(g.Action); err != nil {
		return err
	}
	if !g.Level.Valid() {
		return fmt.Errorf("%w: grant %s level %d", ErrInvalidLevel, g.ID, uint8(g.Level))
	}
	if !g.Scope.Valid() {
		return fmt.Errorf("%w: grant %s scope %q", ErrInvalidGrant, g.ID, g.Scope)
	}
	if !g.Source.Type.Valid() {
		return fmt.Errorf("%w: grant %s source %q", ErrInvalidGrant, g.ID, g.Source.Type)
	}
	if g.Source.Type == SourceDelegated && g.Delegation == nil {
		return fmt.Errorf("%w: grant %s is delegated without delegation details", ErrInvalidGrant, g.ID)
	}
	if g.ValidFrom != nil && g.ValidUntil != nil && g.ValidUntil.Before(*g.ValidFrom) {
		return fmt.Errorf("%w: grant %s validity window is inverted", ErrInvalidGrant, g.ID)
	}
	if g.Conditions != nil {
		if err := g.Conditions.Validate(); err != nil {
			return fmt.Errorf("grant %s: %w", g.ID, err)
		}
	}
	return nil
}

// Effective reports whether the grant participates in resolution at now:
// status active, validity window open, delegation live.
func (g *Grant) Effective(now time.Time) bool {
	if g.Status != "" && g.Status != GrantActive {
		return false
	}
	if g.ValidFrom != nil && now.Before(*g.ValidFrom) {
		return false
	}
	if g.ValidUntil != nil && !now.Before(*g.ValidUntil) {
		return false
	}
	if g.Source.Type == SourceDelegated || g.Delegation != nil {
		return g.Delegation.Active(now)
	}
	return true
}

// Covers reports whether the grant applies to the requested resource and action.
func (g *Grant) Covers(resource, action string) bool {
	return MatchAction(g.Action, action) && MatchResource(g.Resource, resource)
}

// MatchAction matches an action exactly or through the "*" wildcard.
func MatchAction(pattern, action string) bool {
	return pattern == "*" || pattern == action
}

// MatchResource reports whether pattern covers resource. Supported forms:
// "*" (everything), an exact path, a parent path ("invoices" covers
// "invoices/42") and glob patterns with "/" as separator ("invoices/*/lines").
func MatchResource(pattern, resource string) bool {
	switch {
	case pattern == "*" || pattern == resource:
		return true
	case strings.HasPrefix(resource, pattern+"/"):
		return true
	case isGlob(pattern):
		g := compiledGlob(pattern)
		return g != nil && g.Match(resource)
	}
	return false
}

const globCacheSize = 4096

// globs memoizes compiled resource patterns. Invalid patterns are cached as nil.
var globs, _ = lru.New[string, glob.Glob](globCacheSize)

func compiledGlob(pattern string) glob.Glob {
	if g, ok := globs.Get(pattern); ok {
		return g
	}
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		g = nil
	}
	globs.Add(pattern, g)
	return g
}

func isGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

const maxIdentifierLen = 256

// ValidateIdentifier rejects empty, oversized or whitespace-carrying identifiers.
func ValidateIdentifier(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty %s", ErrInvalidIdentifier, kind)
	}
	if len(id) > maxIdentifierLen {
		return fmt.Errorf("%w: %s longer than %d bytes", ErrInvalidIdentifier, kind, maxIdentifierLen)
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: %s %q contains whitespace or control characters", ErrInvalidIdentifier, kind, id)
		}
	}
	return nil
}

// ValidateResource checks a concrete resource path: no wildcards, no empty segments.
func ValidateResource(resource string) error {
	if err := ValidateIdentifier("resource", resource); err != nil {
		return err
	}
	if isGlob(resource) {
		return fmt.Errorf("%w: resource %q must not contain wildcards", ErrInvalidIdentifier, resource)
	}
	for _, seg := range strings.Split(resource, "/") {
		if seg == "" {
			return fmt.Errorf("%w: resource %q has an empty path segment", ErrInvalidIdentifier, resource)
		}
	}
	return nil
}

// ValidateResourcePattern checks a grant resource, which may be a glob.
func ValidateResourcePattern(pattern string) error {
	if err := ValidateIdentifier("resource", pattern); err != nil {
		return err
	}
	if isGlob(pattern) && pattern != "*" {
		if _, err := glob.Compile(pattern, '/'); err != nil {
			return fmt.Errorf("%w: resource pattern %q: %v", ErrInvalidIdentifier, pattern, err)
		}
	}
	return nil
}

// ValidateAction checks an action name.
func ValidateAction(action string) error {
	return ValidateIdentifier("action", action)
}
