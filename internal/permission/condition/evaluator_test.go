package condition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustlayer/internal/permission/domain"
)

// Monday 2026-03-02.
var monday = time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func families(r Result) []domain.Family {
	var out []domain.Family
	for _, v := range r.Violations {
		out = append(out, v.Family)
	}
	return out
}

func TestEvaluate_NilIsSatisfied(t *testing.T) {
	require.True(t, Evaluate(nil, domain.RequestContext{}).Satisfied())
	require.True(t, Evaluate(&domain.Conditions{}, domain.RequestContext{Now: monday}).Satisfied())
}

func TestTemporal(t *testing.T) {
	conds := &domain.Conditions{Temporal: &domain.TemporalConstraint{Hours: []string{"09:00-17:00"}}}

	require.True(t, Evaluate(conds, domain.RequestContext{Now: monday}).Satisfied())

	res := Evaluate(conds, domain.RequestContext{Now: time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)})
	require.Len(t, res.Violations, 1)
	assert.Equal(t, "outside allowed hours", res.Violations[0].Reason)

	night := &domain.Conditions{Temporal: &domain.TemporalConstraint{Hours: []string{"22:00-06:00"}}}
	assert.True(t, Evaluate(night, domain.RequestContext{Now: time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC)}).Satisfied())
	assert.False(t, Evaluate(night, domain.RequestContext{Now: monday}).Satisfied())

	weekdays := &domain.Conditions{Temporal: &domain.TemporalConstraint{Weekdays: []time.Weekday{time.Saturday, time.Sunday}}}
	assert.False(t, Evaluate(weekdays, domain.RequestContext{Now: monday}).Satisfied())

	window := &domain.Conditions{Temporal: &domain.TemporalConstraint{
		NotBefore: ptr(monday.Add(time.Hour)),
		NotAfter:  ptr(monday.Add(-time.Hour)),
	}}
	assert.Len(t, Evaluate(window, domain.RequestContext{Now: monday}).Violations, 2)
}

func TestTemporal_TimeZone(t *testing.T) {
	// 10:30 UTC is 19:30 in Tokyo.
	conds := &domain.Conditions{Temporal: &domain.TemporalConstraint{Hours: []string{"09:00-17:00"}, TimeZone: "Asia/Tokyo"}}
	assert.False(t, Evaluate(conds, domain.RequestContext{Now: monday}).Satisfied())
}

func TestGeographic(t *testing.T) {
	conds := &domain.Conditions{Geographic: &domain.GeographicConstraint{
		AllowedCIDRs: []string{"10.0.0.0/8", "2001:db8::/32"},
		Countries:    []string{"FR"},
		Geofence:     &domain.Geofence{Latitude: 48.8566, Longitude: 2.3522, RadiusMeters: 10000},
	}}
	inParis := domain.RequestContext{
		Now: monday,
		IP:  "10.1.2.3",
		Geo: &domain.GeoLocation{Country: "fr", Latitude: ptr(48.86), Longitude: ptr(2.35)},
	}
	require.True(t, Evaluate(conds, inParis).Satisfied())

	lyon := inParis
	lyon.IP = "192.168.1.1"
	lyon.Geo = &domain.GeoLocation{Country: "FR", Latitude: ptr(45.76), Longitude: ptr(4.84)}
	res := Evaluate(conds, lyon)
	require.Len(t, res.Violations, 2)
	assert.Equal(t, "cidr", res.Violations[0].Rule)
	assert.Equal(t, "geofence", res.Violations[1].Rule)

	unknown := domain.RequestContext{Now: monday}
	assert.Len(t, Evaluate(conds, unknown).Violations, 3)
}

func TestHaversine(t *testing.T) {
	// Paris to London is roughly 344 km.
	d := Haversine(48.8566, 2.3522, 51.5074, -0.1278)
	assert.InDelta(t, 343500, d, 2000)
	assert.Zero(t, Haversine(1, 1, 1, 1))
}

func TestTechnical(t *testing.T) {
	conds := &domain.Conditions{Technical: &domain.TechnicalConstraint{
		MFARequired:      true,
		UserAgents:       []string{"Firefox"},
		Platforms:        []string{"linux"},
		MinAppVersion:    "2.3.0",
		MinSecurityLevel: 2,
	}}
	ok := domain.RequestContext{
		Now: monday, MFAVerified: true, UserAgent: "Mozilla/5.0 Firefox/128.0",
		Platform: "linux", AppVersion: "2.10.1", SecurityLevel: 3,
	}
	require.True(t, Evaluate(conds, ok).Satisfied())

	bad := domain.RequestContext{Now: monday, UserAgent: "curl/8", Platform: "Linux", AppVersion: "2.2.9", SecurityLevel: 1}
	res := Evaluate(conds, bad)
	var rules []string
	for _, v := range res.Violations {
		rules = append(rules, v.Rule)
	}
	assert.Equal(t, []string{"mfa", "userAgent", "platform", "version", "securityLevel"}, rules)
}

func TestBusiness(t *testing.T) {
	conds := &domain.Conditions{Business: &domain.BusinessConstraint{
		Departments:        []string{"Finance"},
		RequiredRole:       "ACCOUNTANT",
		MinSeniorityMonths: 6,
		Certifications:     []string{"SOX-101"},
	}}
	ok := domain.RequestContext{Now: monday, Profile: domain.Profile{
		Department: "finance", SeniorityMonths: 12, Roles: []string{"ACCOUNTANT"}, Certifications: []string{"SOX-101"},
	}}
	require.True(t, Evaluate(conds, ok).Satisfied())

	junior := ok
	junior.Profile.SeniorityMonths = 2
	junior.Profile.Certifications = nil
	assert.Len(t, Evaluate(conds, junior).Violations, 2)
}

func TestData(t *testing.T) {
	conds := &domain.Conditions{Data: &domain.DataConstraint{
		AllowedTypes:    []string{"invoice"},
		MaxSensitivity:  domain.SensitivityConfidential,
		MaxSizeBytes:    1024,
		ForbiddenFields: []string{"iban"},
	}}
	ok := domain.RequestContext{Now: monday, Data: &domain.DataAccess{Type: "invoice", Sensitivity: domain.SensitivityInternal, SizeBytes: 10}}
	require.True(t, Evaluate(conds, ok).Satisfied())

	secret := domain.RequestContext{Now: monday, Data: &domain.DataAccess{
		Type: "invoice", Sensitivity: domain.SensitivitySecret, SizeBytes: 4096, Fields: []string{"amount", "iban"},
	}}
	assert.Len(t, Evaluate(conds, secret).Violations, 3)

	assert.False(t, Evaluate(conds, domain.RequestContext{Now: monday}).Satisfied())
}

func TestEvaluate_ReportsEveryFamily(t *testing.T) {
	conds := &domain.Conditions{
		Temporal:   &domain.TemporalConstraint{Hours: []string{"09:00-10:00"}},
		Geographic: &domain.GeographicConstraint{Countries: []string{"DE"}},
		Technical:  &domain.TechnicalConstraint{MFARequired: true},
		Business:   &domain.BusinessConstraint{Departments: []string{"Legal"}},
		Data:       &domain.DataConstraint{MaxSizeBytes: 1},
	}
	rc := domain.RequestContext{Now: monday, Geo: &domain.GeoLocation{Country: "FR"}, Data: &domain.DataAccess{SizeBytes: 2}}
	res := Evaluate(conds, rc)
	assert.Equal(t, []domain.Family{
		domain.FamilyTemporal, domain.FamilyGeographic, domain.FamilyTechnical, domain.FamilyBusiness, domain.FamilyData,
	}, families(res))
	assert.Contains(t, res.Reason(), "multi-factor authentication required")

	// Each family alone is enough to fail.
	single := []*domain.Conditions{
		{Temporal: conds.Temporal}, {Geographic: conds.Geographic}, {Technical: conds.Technical},
		{Business: conds.Business}, {Data: conds.Data},
	}
	for i, c := range single {
		assert.Len(t, Evaluate(c, rc).Violations, 1, "family %d", i)
	}
}
