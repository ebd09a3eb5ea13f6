package domain

import (
	"errors"
	"testing"
	"time"
)

func TestMatchResource(t *testing.T) {
	cases := []struct {
		pattern, resource string
		want              bool
	}{
		{"*", "invoices/42", true},
		{"invoices", "invoices", true},
		{"invoices", "invoices/42", true},
		{"invoices", "invoicesX", false},
		{"invoices/*/lines", "invoices/42/lines", true},
		{"invoices/*", "invoices/42/lines", false},
		{"invoices/**", "invoices/42/lines", true},
		{"orders", "invoices", false},
	}
	for _, c := range cases {
		if got := MatchResource(c.pattern, c.resource); got != c.want {
			t.Errorf("MatchResource(%q,%q) = %v, want %v", c.pattern, c.resource, got, c.want)
		}
	}
}

func TestMatchResource_CompiledPatternsReused(t *testing.T) {
	for i := 0; i < 3; i++ {
		if !MatchResource("reports/{q1,q2}/*", "reports/q2/summary") {
			t.Fatalf("pass %d: brace pattern did not match", i)
		}
		if MatchResource("reports/{q1,q2}/*", "reports/q3/summary") {
			t.Fatalf("pass %d: brace pattern matched q3", i)
		}
		if !MatchResource("reports/[", "reports/[") {
			t.Fatalf("pass %d: exact match must win over an invalid glob", i)
		}
		if MatchResource("reports/[", "reports/x") {
			t.Fatalf("pass %d: invalid glob matched", i)
		}
	}
	if _, ok := globs.Get("reports/{q1,q2}/*"); !ok {
		t.Error("compiled pattern not cached")
	}
	if g, ok := globs.Get("reports/["); !ok || g != nil {
		t.Errorf("invalid pattern cache entry = %v, %v; want nil, true", g, ok)
	}
}

func TestGrant_Effective(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	g := Grant{Status: GrantActive, Source: Source{Type: SourceDirect}}
	if !g.Effective(now) {
		t.Error("plain active grant should be effective")
	}
	g.ValidUntil = &past
	if g.Effective(now) {
		t.Error("grant past ValidUntil should not be effective")
	}
	g.ValidUntil = nil
	g.ValidFrom = &future
	if g.Effective(now) {
		t.Error("grant before ValidFrom should not be effective")
	}
	g.ValidFrom = nil
	g.Status = GrantRevoked
	if g.Effective(now) {
		t.Error("revoked grant should not be effective")
	}

	d := Grant{Source: Source{Type: SourceDelegated}, Delegation: &Delegation{DelegatedBy: "boss", ExpiresAt: &future}}
	if !d.Effective(now) {
		t.Error("live delegation should be effective")
	}
	d.Delegation.RevokedAt = &past
	if d.Effective(now) {
		t.Error("revoked delegation should not be effective")
	}
}

func TestGrant_Validate(t *testing.T) {
	ok := Grant{ID: "g1", Resource: "invoices", Action: "READ", Level: Read, Granted: true, Source: Source{Type: SourceRole, ID: "viewer"}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	bad := ok
	bad.Resource = "invoices 42"
	if err := bad.Validate(); !errors.Is(err, ErrInvalidIdentifier) {
		t.Errorf("whitespace resource: err = %v", err)
	}
	bad = ok
	bad.Source.Type = "FRIEND"
	if err := bad.Validate(); !errors.Is(err, ErrInvalidGrant) {
		t.Errorf("unknown source: err = %v", err)
	}
	bad = ok
	bad.Conditions = &Conditions{Temporal: &TemporalConstraint{Hours: []string{"9-17"}}}
	if err := bad.Validate(); !errors.Is(err, ErrInvalidCondition) {
		t.Errorf("bad hours: err = %v", err)
	}
}

func TestValidateResource(t *testing.T) {
	for _, r := range []string{"", "a//b", "a/*", "with space"} {
		if err := ValidateResource(r); !errors.Is(err, ErrInvalidIdentifier) {
			t.Errorf("ValidateResource(%q) = %v", r, err)
		}
	}
	if err := ValidateResource("invoices/42"); err != nil {
		t.Errorf("ValidateResource: %v", err)
	}
}

func TestSourcePriority(t *testing.T) {
	order := []SourceType{SourceDirect, SourceDelegated, SourceRole, SourceGroup, SourceInherited}
	for i := 1; i < len(order); i++ {
		if order[i-1].Priority() <= order[i].Priority() {
			t.Errorf("%s should outrank %s", order[i-1], order[i])
		}
	}
}

func TestHourWindow_Wrap(t *testing.T) {
	w, err := ParseHourWindow("22:00-06:00")
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range []int{22 * 60, 23*60 + 59, 0, 5*60 + 59} {
		if !w.Contains(m) {
			t.Errorf("minute %d should be inside wrapping window", m)
		}
	}
	for _, m := range []int{6 * 60, 12 * 60, 21*60 + 59} {
		if w.Contains(m) {
			t.Errorf("minute %d should be outside wrapping window", m)
		}
	}
}

func TestRestrictions_ResourceAllowed(t *testing.T) {
	r := &Restrictions{AllowedResources: []string{"invoices"}, DeniedResources: []string{"invoices/secret"}}
	if !r.ResourceAllowed("invoices/1") {
		t.Error("invoices/1 should be allowed")
	}
	if r.ResourceAllowed("invoices/secret") {
		t.Error("invoices/secret should be denied")
	}
	if r.ResourceAllowed("orders/1") {
		t.Error("orders/1 is outside the allow list")
	}
	var none *Restrictions
	if !none.ResourceAllowed("anything") {
		t.Error("nil restrictions allow everything")
	}
}
