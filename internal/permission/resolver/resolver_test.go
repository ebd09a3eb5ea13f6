package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustlayer/internal/clock"
	dirdomain "trustlayer/internal/directory/domain"
	dirrepo "trustlayer/internal/directory/repository"
	grantrepo "trustlayer/internal/grant/repository"
	"trustlayer/internal/permission/domain"
	"trustlayer/internal/permission/usage"
)

var workday = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type fixture struct {
	grants *grantrepo.MemoryRepository
	dir    *dirrepo.MemoryRepository
	res    *Resolver
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := dirrepo.NewMemoryRepository(clock.NewFake(workday))
	require.NoError(t, dir.CreateRole(ctx, &dirdomain.Role{ID: "VIEWER"}))
	require.NoError(t, dir.CreateRole(ctx, &dirdomain.Role{ID: "EDITOR", ParentID: "VIEWER"}))
	require.NoError(t, dir.CreateRole(ctx, &dirdomain.Role{ID: "ADMIN"}))
	require.NoError(t, dir.CreateUser(ctx, &dirdomain.User{ID: "U", Department: "Finance"}))
	grants := grantrepo.NewMemoryRepository()
	opts = append([]Option{WithClock(clock.NewFake(workday))}, opts...)
	f := &fixture{grants: grants, dir: dir, res: New(grants, dir, opts...)}
	grants.Subscribe(f.res.SubjectChanged)
	return f
}

func (f *fixture) grant(t *testing.T, g domain.Grant) *domain.Grant {
	t.Helper()
	require.NoError(t, f.grants.Create(context.Background(), &g))
	return &g
}

func roleGrant(role, resource, action string, lvl domain.AccessLevel) domain.Grant {
	return domain.Grant{PrincipalID: role, Resource: resource, Action: action, Level: lvl, Granted: true,
		Source: domain.Source{Type: domain.SourceRole, ID: role}}
}

func directGrant(user, resource, action string, lvl domain.AccessLevel, granted bool) domain.Grant {
	return domain.Grant{PrincipalID: user, Resource: resource, Action: action, Level: lvl, Granted: granted,
		Source: domain.Source{Type: domain.SourceDirect}}
}

func TestResolve_RoleGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.dir.AssignRole(ctx, "U", "VIEWER"))
	f.grant(t, roleGrant("VIEWER", "invoices", "READ", domain.Read))

	d, err := f.res.Resolve(ctx, "U", "invoices", "READ", domain.RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, domain.Read, d.Level)
	assert.True(t, d.Granted)
	require.NotNil(t, d.Source)
	assert.Equal(t, domain.SourceRole, d.Source.Type)
	assert.Equal(t, "VIEWER", d.Source.ID)
	assert.True(t, d.ContextFree)

	// Hierarchical resources are covered by their parent.
	d, err = f.res.Resolve(ctx, "U", "invoices/2026/42", "READ", domain.RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, domain.Read, d.Level)
}

func TestResolve_DirectDenyBeatsRoleAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.dir.AssignRole(ctx, "U", "ADMIN"))
	f.grant(t, roleGrant("ADMIN", "invoices", "DELETE", domain.Admin))
	deny := f.grant(t, directGrant("U", "invoices", "DELETE", domain.Delete, false))

	d, err := f.res.Resolve(ctx, "U", "invoices", "DELETE", domain.RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, domain.Blocked, d.Level)
	assert.False(t, d.Granted)
	assert.Equal(t, deny.ID, d.DeniedBy)
	assert.Equal(t, domain.SourceDirect, d.Source.Type)
}

func TestResolve_DenyPriority(t *testing.T) {
	cases := []struct {
		name      string
		allow     domain.SourceType
		deny      domain.SourceType
		wantLevel domain.AccessLevel
	}{
		{"role deny vetoes role allow", domain.SourceRole, domain.SourceRole, domain.Blocked},
		{"group deny vetoes group allow", domain.SourceGroup, domain.SourceGroup, domain.Blocked},
		{"role deny vetoes group allow", domain.SourceGroup, domain.SourceRole, domain.Blocked},
		{"inherited deny does not veto group allow", domain.SourceGroup, domain.SourceInherited, domain.Write},
		{"group deny does not veto direct allow", domain.SourceDirect, domain.SourceGroup, domain.Write},
		{"direct deny vetoes delegated allow", domain.SourceDelegated, domain.SourceDirect, domain.Blocked},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			require.NoError(t, f.dir.AssignRole(ctx, "U", "EDITOR"))
			require.NoError(t, f.dir.AddToGroup(ctx, "U", "finance"))
			f.grant(t, sourced(tc.allow, true))
			f.grant(t, sourced(tc.deny, false))

			d, err := f.res.Resolve(ctx, "U", "ledger", "WRITE", domain.RequestContext{})
			require.NoError(t, err)
			assert.Equal(t, tc.wantLevel, d.Level)
		})
	}
}

func TestResolve_DenyOutranksSurvivingAllowWhenHigherAllowFailsConditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.dir.AssignRole(ctx, "U", "EDITOR"))
	require.NoError(t, f.dir.AddToGroup(ctx, "U", "finance"))

	direct := directGrant("U", "invoices", "DELETE", domain.Admin, true)
	direct.Conditions = &domain.Conditions{Technical: &domain.TechnicalConstraint{MFARequired: true}}
	f.grant(t, direct)
	deny := roleGrant("EDITOR", "invoices", "DELETE", domain.Delete)
	deny.Granted = false
	stored := f.grant(t, deny)
	f.grant(t, domain.Grant{PrincipalID: "finance", Resource: "invoices", Action: "DELETE", Level: domain.Admin,
		Granted: true, Source: domain.Source{Type: domain.SourceGroup}})

	d, err := f.res.Resolve(ctx, "U", "invoices", "DELETE", domain.RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, domain.Blocked, d.Level)
	assert.False(t, d.Granted)
	assert.Equal(t, stored.ID, d.DeniedBy)
	require.NotNil(t, d.Source)
	assert.Equal(t, domain.SourceRole, d.Source.Type)

	// With MFA the direct allow outranks the role deny.
	d, err = f.res.Resolve(ctx, "U", "invoices", "DELETE", domain.RequestContext{MFAVerified: true})
	require.NoError(t, err)
	assert.Equal(t, domain.Admin, d.Level)
	assert.Equal(t, domain.SourceDirect, d.Source.Type)
}

func TestResolve_DenyDropsOnlyOutrankedAllows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.dir.AssignRole(ctx, "U", "EDITOR"))
	require.NoError(t, f.dir.AddToGroup(ctx, "U", "finance"))

	f.grant(t, directGrant("U", "invoices", "DELETE", domain.Read, true))
	deny := roleGrant("EDITOR", "invoices", "DELETE", domain.Delete)
	deny.Granted = false
	f.grant(t, deny)
	f.grant(t, domain.Grant{PrincipalID: "finance", Resource: "invoices", Action: "DELETE", Level: domain.Admin,
		Granted: true, Source: domain.Source{Type: domain.SourceGroup}})

	d, err := f.res.Resolve(ctx, "U", "invoices", "DELETE", domain.RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, domain.Read, d.Level, "the group ADMIN allow is outranked by the role deny")
	assert.Equal(t, domain.SourceDirect, d.Source.Type)
}

// sourced stores a grant that reaches U through the given source type.
func sourced(src domain.SourceType, granted bool) domain.Grant {
	g := domain.Grant{Resource: "ledger", Action: "WRITE", Level: domain.Write, Granted: granted}
	switch src {
	case domain.SourceDirect:
		g.PrincipalID, g.Source = "U", domain.Source{Type: domain.SourceDirect}
	case domain.SourceDelegated:
		g.PrincipalID, g.Source = "U", domain.Source{Type: domain.SourceDelegated}
		g.Delegation = &domain.Delegation{DelegatedBy: "boss", DelegatedAt: workday.Add(-time.Hour)}
	case domain.SourceRole:
		g.PrincipalID, g.Source = "EDITOR", domain.Source{Type: domain.SourceRole}
	case domain.SourceGroup:
		g.PrincipalID, g.Source = "finance", domain.Source{Type: domain.SourceGroup}
	case domain.SourceInherited:
		// VIEWER is EDITOR's parent.
		g.PrincipalID, g.Source = "VIEWER", domain.Source{Type: domain.SourceRole}
	}
	return g
}

func TestResolve_InheritedRoleChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.dir.AssignRole(ctx, "U", "EDITOR"))
	f.grant(t, roleGrant("VIEWER", "reports", "READ", domain.Read))

	d, err := f.res.Resolve(ctx, "U", "reports", "READ", domain.RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, domain.Read, d.Level)
	assert.Equal(t, domain.SourceInherited, d.Source.Type)
	assert.Equal(t, []string{"EDITOR", "VIEWER"}, d.Source.Chain)
}

func TestResolve_ConditionExcludesGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.dir.AssignRole(ctx, "U", "EDITOR"))
	business := roleGrant("EDITOR", "invoices", "EDIT", domain.Write)
	business.Conditions = &domain.Conditions{Temporal: &domain.TemporalConstraint{Hours: []string{"09:00-17:00"}}}
	hours := f.grant(t, business)
	f.grant(t, roleGrant("EDITOR", "invoices", "EDIT", domain.Read))

	d, err := f.res.Resolve(ctx, "U", "invoices", "EDIT", domain.RequestContext{Now: workday})
	require.NoError(t, err)
	assert.Equal(t, domain.Write, d.Level)
	assert.False(t, d.ContextFree)

	evening := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	d, err = f.res.Resolve(ctx, "U", "invoices", "EDIT", domain.RequestContext{Now: evening})
	require.NoError(t, err)
	assert.Equal(t, domain.Read, d.Level, "falls back to the next surviving grant")
	require.Len(t, d.Violations, 1)
	assert.Equal(t, hours.ID, d.Violations[0].GrantID)
	assert.Equal(t, "outside allowed hours", d.Violations[0].Reason)
}

func TestResolve_AllGrantsViolatedIsBlocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := directGrant("U", "payroll", "READ", domain.Read, true)
	g.Conditions = &domain.Conditions{Technical: &domain.TechnicalConstraint{MFARequired: true}}
	f.grant(t, g)

	d, err := f.res.Resolve(ctx, "U", "payroll", "READ", domain.RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, domain.Blocked, d.Level)
	assert.NotEmpty(t, d.Violations)

	d, err = f.res.Resolve(ctx, "U", "payroll", "READ", domain.RequestContext{MFAVerified: true})
	require.NoError(t, err)
	assert.Equal(t, domain.Read, d.Level)
}

func TestResolve_MaxAcrossSources(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.dir.AssignRole(ctx, "U", "VIEWER"))
	require.NoError(t, f.dir.AddToGroup(ctx, "U", "ops"))
	f.grant(t, roleGrant("VIEWER", "servers", "*", domain.Read))
	f.grant(t, domain.Grant{PrincipalID: "ops", Resource: "servers/*", Action: "RESTART", Level: domain.Admin,
		Granted: true, Source: domain.Source{Type: domain.SourceGroup}})

	d, err := f.res.Resolve(ctx, "U", "servers/web1", "RESTART", domain.RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, domain.Admin, d.Level)
	assert.Equal(t, domain.SourceGroup, d.Source.Type)
}

func TestResolve_ValidityAndDelegation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	expired := workday.Add(-time.Minute)
	g := directGrant("U", "contracts", "SIGN", domain.Write, true)
	g.ValidUntil = &expired
	f.grant(t, g)

	del := directGrant("U", "contracts", "APPROVE", domain.Write, true)
	del.Delegation = &domain.Delegation{DelegatedBy: "boss", DelegatedAt: workday.Add(-time.Hour), RevokedAt: &expired}
	f.grant(t, del)

	for _, action := range []string{"SIGN", "APPROVE"} {
		d, err := f.res.Resolve(ctx, "U", "contracts", action, domain.RequestContext{})
		require.NoError(t, err)
		assert.Equal(t, domain.Blocked, d.Level, action)
	}
}

func TestResolve_Restrictions(t *testing.T) {
	tracker := usage.NewTracker(16)
	f := newFixture(t, WithUsage(tracker))
	ctx := context.Background()
	g := directGrant("U", "exports", "RUN", domain.Write, true)
	g.Restrictions = &domain.Restrictions{MaxUsesPerDay: 1, DeniedResources: []string{"exports/payroll"}}
	stored := f.grant(t, g)

	d, err := f.res.Resolve(ctx, "U", "exports/sales", "RUN", domain.RequestContext{Now: workday})
	require.NoError(t, err)
	assert.Equal(t, domain.Write, d.Level)
	assert.True(t, d.Restricted)

	d, err = f.res.Resolve(ctx, "U", "exports/payroll", "RUN", domain.RequestContext{Now: workday})
	require.NoError(t, err)
	assert.Equal(t, domain.Blocked, d.Level)
	assert.Equal(t, domain.FamilyRestriction, d.Violations[0].Family)

	require.True(t, tracker.RecordUse(UsageKey("U", stored.ID), g.Restrictions, workday))
	d, err = f.res.Resolve(ctx, "U", "exports/sales", "RUN", domain.RequestContext{Now: workday})
	require.NoError(t, err)
	assert.Equal(t, domain.Blocked, d.Level)
	assert.False(t, d.Granted)
}

func TestResolve_UnknownPrincipalAndEmptyGrants(t *testing.T) {
	f := newFixture(t)
	d, err := f.res.Resolve(context.Background(), "ghost", "invoices", "READ", domain.RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, domain.Blocked, d.Level)

	d, err = f.res.Resolve(context.Background(), "U", "invoices", "READ", domain.RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, domain.Blocked, d.Level)
	assert.Equal(t, "no applicable grant", d.Reason)
}

func TestResolve_MalformedIdentifiers(t *testing.T) {
	f := newFixture(t)
	for _, tc := range [][3]string{{"", "invoices", "READ"}, {"U", "in voices", "READ"}, {"U", "invoices", ""}, {"U", "invoices/*", "READ"}} {
		_, err := f.res.Resolve(context.Background(), tc[0], tc[1], tc[2], domain.RequestContext{})
		assert.True(t, errors.Is(err, domain.ErrInvalidIdentifier), "%v: %v", tc, err)
	}
}

type failingStore struct{}

func (failingStore) FetchGrants(context.Context, domain.Subject) ([]domain.Grant, error) {
	return nil, errors.New("connection refused")
}

func TestResolve_StoreFailurePropagates(t *testing.T) {
	dir := dirrepo.NewMemoryRepository(nil)
	require.NoError(t, dir.CreateUser(context.Background(), &dirdomain.User{ID: "U"}))
	_, err := New(failingStore{}, dir).Resolve(context.Background(), "U", "invoices", "READ", domain.RequestContext{})
	require.Error(t, err)
}

func TestInvalidateHooks(t *testing.T) {
	f := newFixture(t)
	var got []string
	f.res.OnInvalidate(func(id string) { got = append(got, id) })

	f.grant(t, directGrant("U", "invoices", "READ", domain.Read, true))
	f.grant(t, roleGrant("VIEWER", "invoices", "READ", domain.Read))
	assert.Equal(t, []string{"U", AllPrincipals}, got)
}

func TestEffectiveAndSummarize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.dir.AssignRole(ctx, "U", "VIEWER"))
	f.grant(t, roleGrant("VIEWER", "invoices", "READ", domain.Read))
	f.grant(t, directGrant("U", "invoices", "WRITE", domain.Write, true))
	f.grant(t, directGrant("U", "payroll", "READ", domain.Read, false))

	perms, err := f.res.Effective(ctx, "U", domain.RequestContext{})
	require.NoError(t, err)
	require.Len(t, perms, 3)
	assert.Equal(t, "invoices", perms[0].Resource)
	assert.Equal(t, "READ", perms[0].Action)
	assert.Equal(t, domain.Blocked, perms[2].Level)

	s := Summarize(perms)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Granted)
	assert.Equal(t, 2, s.ByResource["invoices"])
	assert.Equal(t, 1, s.BySource[domain.SourceRole])
	assert.Equal(t, 2, s.BySource[domain.SourceDirect])
}

func TestCheck(t *testing.T) {
	f := newFixture(t)
	f.grant(t, directGrant("U", "invoices", "READ", domain.Read, true))
	ok, _, err := f.res.Check(context.Background(), "U", "invoices", "READ", domain.Write, domain.RequestContext{})
	require.NoError(t, err)
	assert.False(t, ok)
	ok, _, _ = f.res.Check(context.Background(), "U", "invoices", "READ", domain.Read, domain.RequestContext{})
	assert.True(t, ok)
}
