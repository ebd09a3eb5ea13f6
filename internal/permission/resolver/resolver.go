// Package resolver computes a principal's effective access level on a resource
// from direct, delegated, role, group and inherited grants.
package resolver

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"trustlayer/internal/clock"
	dirdomain "trustlayer/internal/directory/domain"
	"trustlayer/internal/permission/condition"
	"trustlayer/internal/permission/domain"
)

// AllPrincipals is passed to invalidation hooks when every principal is affected.
const AllPrincipals = "*"

// GrantStore is the read side of grant persistence.
type GrantStore interface {
	FetchGrants(ctx context.Context, s domain.Subject) ([]domain.Grant, error)
}

// Directory resolves role and group memberships and profile attributes.
type Directory interface {
	Lookup(ctx context.Context, principalID string) (*dirdomain.Principal, error)
}

// UsageChecker enforces rate-limit restrictions. Check must not consume.
type UsageChecker interface {
	Check(key string, r *domain.Restrictions, now time.Time) (ok bool, reason string)
}

// Resolver resolves access decisions. It holds no per-principal state; safe for concurrent use.
type Resolver struct {
	grants GrantStore
	dir    Directory
	usage  UsageChecker
	clock  clock.Clock
	log    *zap.Logger

	decisions metric.Int64Counter

	hookMu sync.RWMutex
	hooks  []func(principalID string)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock sets the time source used when a request context carries no time.
func WithClock(c clock.Clock) Option { return func(r *Resolver) { r.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(r *Resolver) { r.log = l } }

// WithUsage enables rate-limit restrictions.
func WithUsage(u UsageChecker) Option { return func(r *Resolver) { r.usage = u } }

// New returns a Resolver reading grants from grants and memberships from dir.
func New(grants GrantStore, dir Directory, opts ...Option) *Resolver {
	r := &Resolver{grants: grants, dir: dir, clock: clock.Real(), log: zap.NewNop()}
	for _, o := range opts {
		o(r)
	}
	counter, err := otel.Meter("trustlayer/permission").Int64Counter("permission.decisions",
		metric.WithDescription("Access decisions by resulting level"))
	if err != nil {
		r.log.Warn("decision counter unavailable", zap.Error(err))
	}
	r.decisions = counter
	return r
}

// OnInvalidate registers fn to run whenever cached decisions for a principal
// must be discarded. fn receives AllPrincipals for global changes.
func (r *Resolver) OnInvalidate(fn func(principalID string)) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.hooks = append(r.hooks, fn)
}

// Invalidate signals that principalID's grants or memberships changed.
func (r *Resolver) Invalidate(principalID string) {
	r.hookMu.RLock()
	hooks := slices.Clone(r.hooks)
	r.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(principalID)
	}
}

// InvalidateAll signals a change that may affect any principal, such as a role grant.
func (r *Resolver) InvalidateAll() { r.Invalidate(AllPrincipals) }

// SubjectChanged maps a grant store change notification to invalidation.
func (r *Resolver) SubjectChanged(s domain.Subject) {
	if s.Kind == domain.SubjectUser {
		r.Invalidate(s.ID)
		return
	}
	r.InvalidateAll()
}

// snapshot is every effective grant a principal holds, tagged with the source it was reached through.
type snapshot struct {
	principal *dirdomain.Principal
	grants    []domain.Grant
}

// Resolve returns the decision for principalID performing action on resource.
// Missing grants yield a BLOCKED decision; errors are returned only for
// malformed identifiers and collaborator failures.
func (r *Resolver) Resolve(ctx context.Context, principalID, resource, action string, rc domain.RequestContext) (domain.Decision, error) {
	if err := domain.ValidateIdentifier("principal", principalID); err != nil {
		return domain.Decision{}, err
	}
	if err := domain.ValidateResource(resource); err != nil {
		return domain.Decision{}, err
	}
	if err := domain.ValidateAction(action); err != nil {
		return domain.Decision{}, err
	}
	snap, rc, err := r.load(ctx, principalID, rc)
	if err != nil {
		return domain.Decision{}, err
	}
	d := r.decide(snap, principalID, resource, action, rc)
	r.observe(ctx, d)
	return d, nil
}

// Check resolves and reports whether the decision meets required.
func (r *Resolver) Check(ctx context.Context, principalID, resource, action string, required domain.AccessLevel, rc domain.RequestContext) (bool, domain.Decision, error) {
	d, err := r.Resolve(ctx, principalID, resource, action, rc)
	if err != nil {
		return false, d, err
	}
	return d.Allows(required), d, nil
}

// Effective lists the effective permission for every (resource, action) pair
// the principal holds a grant for, sorted by resource then action.
func (r *Resolver) Effective(ctx context.Context, principalID string, rc domain.RequestContext) ([]domain.EffectivePermission, error) {
	if err := domain.ValidateIdentifier("principal", principalID); err != nil {
		return nil, err
	}
	snap, rc, err := r.load(ctx, principalID, rc)
	if err != nil {
		return nil, err
	}
	type pair struct{ resource, action string }
	seen := map[pair]bool{}
	var pairs []pair
	for _, g := range snap.grants {
		p := pair{g.Resource, g.Action}
		if !seen[p] {
			seen[p] = true
			pairs = append(pairs, p)
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].resource != pairs[j].resource {
			return pairs[i].resource < pairs[j].resource
		}
		return pairs[i].action < pairs[j].action
	})
	out := make([]domain.EffectivePermission, 0, len(pairs))
	for _, p := range pairs {
		d := r.decide(snap, principalID, p.resource, p.action, rc)
		out = append(out, domain.EffectivePermission{
			Resource:   p.resource,
			Action:     p.action,
			Level:      d.Level,
			Source:     d.Source,
			Restricted: d.Restricted,
		})
	}
	return out, nil
}

func (r *Resolver) load(ctx context.Context, principalID string, rc domain.RequestContext) (*snapshot, domain.RequestContext, error) {
	if rc.Now.IsZero() {
		rc.Now = r.clock.Now()
	}
	p, err := r.dir.Lookup(ctx, principalID)
	if err != nil {
		return nil, rc, fmt.Errorf("resolver: lookup %s: %w", principalID, err)
	}
	snap := &snapshot{principal: p}
	if p == nil || !p.Active() {
		return snap, rc, nil
	}
	rc.Profile = p.Profile
	if rc.Profile.Roles == nil {
		rc.Profile.Roles = p.Roles
	}

	add := func(s domain.Subject, tag func(*domain.Grant)) error {
		gs, err := r.grants.FetchGrants(ctx, s)
		if err != nil {
			return fmt.Errorf("resolver: fetch grants for %s %s: %w", s.Kind, s.ID, err)
		}
		for i := range gs {
			g := gs[i]
			if err := g.Validate(); err != nil {
				r.log.Warn("skipping malformed grant", zap.String("grant_id", g.ID), zap.Error(err))
				continue
			}
			tag(&g)
			if g.Effective(rc.Now) {
				snap.grants = append(snap.grants, g)
			}
		}
		return nil
	}

	if err := add(domain.Subject{Kind: domain.SubjectUser, ID: p.ID}, func(g *domain.Grant) {
		if g.Delegation != nil {
			g.Source.Type = domain.SourceDelegated
		} else {
			g.Source.Type = domain.SourceDirect
		}
	}); err != nil {
		return nil, rc, err
	}
	for _, role := range p.Roles {
		if err := add(domain.Subject{Kind: domain.SubjectRole, ID: role}, func(g *domain.Grant) {
			g.Source = domain.Source{Type: domain.SourceRole, ID: role, Name: g.Source.Name, Chain: []string{role}}
		}); err != nil {
			return nil, rc, err
		}
	}
	for _, group := range p.Groups {
		if err := add(domain.Subject{Kind: domain.SubjectGroup, ID: group}, func(g *domain.Grant) {
			g.Source = domain.Source{Type: domain.SourceGroup, ID: group, Name: g.Source.Name, Chain: []string{group}}
		}); err != nil {
			return nil, rc, err
		}
	}
	for _, inh := range p.InheritedRoles {
		if err := add(domain.Subject{Kind: domain.SubjectRole, ID: inh.RoleID}, func(g *domain.Grant) {
			g.Source = domain.Source{Type: domain.SourceInherited, ID: inh.RoleID, Name: g.Source.Name, Chain: inh.Chain}
		}); err != nil {
			return nil, rc, err
		}
	}
	return snap, rc, nil
}

// decide applies deny precedence, conditions, the lattice max and restrictions
// to the grants in snap covering (resource, action).
func (r *Resolver) decide(snap *snapshot, principalID, resource, action string, rc domain.RequestContext) domain.Decision {
	d := domain.Decision{PrincipalID: principalID, Resource: resource, Action: action, Level: domain.Blocked}
	if snap.principal == nil {
		d.Reason = "unknown principal"
		return d
	}
	if !snap.principal.Active() {
		d.Reason = "principal disabled"
		return d
	}

	var allows, denies []domain.Grant
	for _, g := range snap.grants {
		if !g.Covers(resource, action) {
			continue
		}
		if g.Granted {
			allows = append(allows, g)
		} else {
			denies = append(denies, g)
		}
	}

	d.ContextFree = true
	for _, g := range snap.grants {
		if g.Covers(resource, action) && contextual(g) {
			d.ContextFree = false
			break
		}
	}

	var veto *domain.Grant
	for i := range denies {
		if veto == nil || denies[i].Source.Type.Priority() > veto.Source.Type.Priority() {
			veto = &denies[i]
		}
	}

	// An allow survives only if its conditions hold and no deny of equal or
	// higher source priority covers the same pair.
	var winner *domain.Grant
	failed := 0
	for i := range allows {
		g := &allows[i]
		res := condition.Evaluate(g.Conditions, rc)
		if !res.Satisfied() {
			failed++
			for _, v := range res.Violations {
				v.GrantID = g.ID
				d.Violations = append(d.Violations, v)
			}
			continue
		}
		if veto != nil && veto.Source.Type.Priority() >= g.Source.Type.Priority() {
			continue
		}
		if winner == nil || g.Level > winner.Level ||
			(g.Level == winner.Level && g.Source.Type.Priority() > winner.Source.Type.Priority()) {
			winner = g
		}
	}
	if winner == nil {
		switch {
		case veto != nil:
			src := veto.Source
			d.Source = &src
			d.DeniedBy = veto.ID
			d.Reason = fmt.Sprintf("explicit deny from %s source", veto.Source.Type)
		case failed == 0:
			d.Reason = "no applicable grant"
		default:
			d.Reason = "all applicable grants failed their conditions"
		}
		return d
	}

	src := winner.Source
	d.Source = &src
	d.GrantID = winner.ID
	d.Level = winner.Level
	d.Restricted = winner.Restrictions != nil

	if rs := winner.Restrictions; rs != nil {
		if !rs.ResourceAllowed(resource) {
			d.Violations = append(d.Violations, domain.Violation{GrantID: winner.ID, Family: domain.FamilyRestriction,
				Rule: "resources", Reason: fmt.Sprintf("resource %s excluded by grant restrictions", resource)})
			d.Level = domain.Blocked
		} else if rs.RateLimited() && r.usage != nil {
			if ok, why := r.usage.Check(UsageKey(principalID, winner.ID), rs, rc.Now); !ok {
				d.Violations = append(d.Violations, domain.Violation{GrantID: winner.ID, Family: domain.FamilyRestriction,
					Rule: "rate", Reason: why})
				d.Level = domain.Blocked
			}
		}
	}
	d.Granted = d.Level != domain.Blocked
	if !d.Granted {
		d.Reason = "restricted"
	}
	return d
}

func contextual(g domain.Grant) bool {
	return g.Conditions != nil || g.Restrictions.RateLimited() ||
		g.ValidFrom != nil || g.ValidUntil != nil || g.Delegation != nil
}

// UsageKey is the usage-tracking key for a principal's use of a grant.
func UsageKey(principalID, grantID string) string { return principalID + "|" + grantID }

func (r *Resolver) observe(ctx context.Context, d domain.Decision) {
	if r.decisions != nil {
		r.decisions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("level", d.Level.String()),
			attribute.Bool("granted", d.Granted),
		))
	}
	if ce := r.log.Check(zap.DebugLevel, "access decision"); ce != nil {
		ce.Write(
			zap.String("principal_id", d.PrincipalID),
			zap.String("resource", d.Resource),
			zap.String("action", d.Action),
			zap.Stringer("level", d.Level),
			zap.String("grant_id", d.GrantID),
			zap.String("denied_by", d.DeniedBy),
			zap.Int("violations", len(d.Violations)),
		)
	}
}
