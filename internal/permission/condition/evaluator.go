// Package condition evaluates grant condition bundles against a request context.
// Evaluation is pure: every family is checked and every violation reported.
package condition

import (
	"fmt"
	"math"
	"net/netip"
	"slices"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"trustlayer/internal/permission/domain"
)

// Result is the outcome of evaluating one condition bundle.
type Result struct {
	Violations []domain.Violation
}

// Satisfied reports whether no rule was violated.
func (r Result) Satisfied() bool { return len(r.Violations) == 0 }

// Reason joins the violation reasons into one line.
func (r Result) Reason() string {
	parts := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		parts[i] = v.Reason
	}
	return strings.Join(parts, "; ")
}

// Evaluate checks conds against rc. A nil bundle is always satisfied.
func Evaluate(conds *domain.Conditions, rc domain.RequestContext) Result {
	var res Result
	if conds == nil {
		return res
	}
	add := func(f domain.Family, rule, format string, args ...any) {
		res.Violations = append(res.Violations, domain.Violation{
			Family: f,
			Rule:   rule,
			Reason: fmt.Sprintf(format, args...),
		})
	}
	if conds.Temporal != nil {
		temporal(conds.Temporal, rc, add)
	}
	if conds.Geographic != nil {
		geographic(conds.Geographic, rc, add)
	}
	if conds.Technical != nil {
		technical(conds.Technical, rc, add)
	}
	if conds.Business != nil {
		business(conds.Business, rc, add)
	}
	if conds.Data != nil {
		data(conds.Data, rc, add)
	}
	return res
}

type reporter func(f domain.Family, rule, format string, args ...any)

func temporal(c *domain.TemporalConstraint, rc domain.RequestContext, add reporter) {
	const f = domain.FamilyTemporal
	now := rc.Now
	if now.IsZero() {
		add(f, "now", "request time unknown")
		return
	}
	if c.NotBefore != nil && now.Before(*c.NotBefore) {
		add(f, "notBefore", "before validity start %s", c.NotBefore.Format(time.RFC3339))
	}
	if c.NotAfter != nil && now.After(*c.NotAfter) {
		add(f, "notAfter", "after validity end %s", c.NotAfter.Format(time.RFC3339))
	}
	if c.TimeZone != "" {
		loc, err := time.LoadLocation(c.TimeZone)
		if err != nil {
			add(f, "timeZone", "unknown time zone %q", c.TimeZone)
			return
		}
		now = now.In(loc)
	}
	if len(c.Weekdays) > 0 && !slices.Contains(c.Weekdays, now.Weekday()) {
		add(f, "weekdays", "outside allowed days (%s)", now.Weekday())
	}
	if len(c.Hours) > 0 {
		minute := now.Hour()*60 + now.Minute()
		inside := false
		for _, h := range c.Hours {
			w, err := domain.ParseHourWindow(h)
			if err != nil {
				add(f, "hours", "invalid hour window %q", h)
				continue
			}
			if w.Contains(minute) {
				inside = true
				break
			}
		}
		if !inside {
			add(f, "hours", "outside allowed hours")
		}
	}
}

func geographic(c *domain.GeographicConstraint, rc domain.RequestContext, add reporter) {
	const f = domain.FamilyGeographic
	if len(c.AllowedCIDRs) > 0 {
		addr, err := netip.ParseAddr(rc.IP)
		if err != nil {
			add(f, "cidr", "client address unknown or malformed")
		} else if !inAnyPrefix(addr.Unmap(), c.AllowedCIDRs) {
			add(f, "cidr", "address %s not in allowed networks", addr)
		}
	}
	if len(c.Countries) > 0 {
		if rc.Geo == nil || rc.Geo.Country == "" {
			add(f, "country", "request country unknown")
		} else if !containsFold(c.Countries, rc.Geo.Country) {
			add(f, "country", "country %s not allowed", rc.Geo.Country)
		}
	}
	if len(c.Regions) > 0 {
		if rc.Geo == nil || rc.Geo.Region == "" {
			add(f, "region", "request region unknown")
		} else if !containsFold(c.Regions, rc.Geo.Region) {
			add(f, "region", "region %s not allowed", rc.Geo.Region)
		}
	}
	if g := c.Geofence; g != nil {
		if rc.Geo == nil || rc.Geo.Latitude == nil || rc.Geo.Longitude == nil {
			add(f, "geofence", "request position unknown")
		} else if d := Haversine(g.Latitude, g.Longitude, *rc.Geo.Latitude, *rc.Geo.Longitude); d > g.RadiusMeters {
			add(f, "geofence", "outside geofence (%.0fm from centre, radius %.0fm)", d, g.RadiusMeters)
		}
	}
}

func inAnyPrefix(addr netip.Addr, cidrs []string) bool {
	for _, c := range cidrs {
		p, err := netip.ParsePrefix(c)
		if err != nil {
			continue
		}
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

const earthRadiusMeters = 6371000.0

// Haversine returns the great-circle distance in meters between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(a)))
}

func technical(c *domain.TechnicalConstraint, rc domain.RequestContext, add reporter) {
	const f = domain.FamilyTechnical
	if c.MFARequired && !rc.MFAVerified {
		add(f, "mfa", "multi-factor authentication required")
	}
	if len(c.UserAgents) > 0 {
		matched := false
		for _, ua := range c.UserAgents {
			if rc.UserAgent != "" && strings.Contains(rc.UserAgent, ua) {
				matched = true
				break
			}
		}
		if !matched {
			add(f, "userAgent", "user agent not allowed")
		}
	}
	if len(c.Platforms) > 0 && !slices.Contains(c.Platforms, rc.Platform) {
		add(f, "platform", "platform %q not allowed", rc.Platform)
	}
	if c.MinAppVersion != "" {
		minV, err := semver.NewVersion(c.MinAppVersion)
		if err != nil {
			add(f, "version", "invalid minimum version %q", c.MinAppVersion)
		} else if rc.AppVersion == "" {
			add(f, "version", "client version unknown")
		} else if v, err := semver.NewVersion(rc.AppVersion); err != nil {
			add(f, "version", "malformed client version %q", rc.AppVersion)
		} else if v.LessThan(minV) {
			add(f, "version", "client version %s below minimum %s", v, minV)
		}
	}
	if c.MinSecurityLevel > 0 && rc.SecurityLevel < c.MinSecurityLevel {
		add(f, "securityLevel", "security level %d below required %d", rc.SecurityLevel, c.MinSecurityLevel)
	}
}

func business(c *domain.BusinessConstraint, rc domain.RequestContext, add reporter) {
	const f = domain.FamilyBusiness
	p := rc.Profile
	if len(c.Departments) > 0 && !containsFold(c.Departments, p.Department) {
		add(f, "department", "department %q not allowed", p.Department)
	}
	if c.RequiredRole != "" && !slices.Contains(p.Roles, c.RequiredRole) {
		add(f, "role", "role %s required", c.RequiredRole)
	}
	if c.MinSeniorityMonths > 0 && p.SeniorityMonths < c.MinSeniorityMonths {
		add(f, "seniority", "seniority %d months below required %d", p.SeniorityMonths, c.MinSeniorityMonths)
	}
	for _, cert := range c.Certifications {
		if !slices.Contains(p.Certifications, cert) {
			add(f, "certification", "certification %s missing", cert)
		}
	}
	for _, tr := range c.Trainings {
		if !slices.Contains(p.Trainings, tr) {
			add(f, "training", "training %s missing", tr)
		}
	}
}

func data(c *domain.DataConstraint, rc domain.RequestContext, add reporter) {
	const f = domain.FamilyData
	d := rc.Data
	if d == nil {
		if len(c.AllowedTypes) > 0 || c.MaxSensitivity != domain.SensitivityUnspecified || c.MaxSizeBytes > 0 {
			add(f, "data", "data attributes unknown")
		}
		return
	}
	if len(c.AllowedTypes) > 0 && !slices.Contains(c.AllowedTypes, d.Type) {
		add(f, "type", "data type %q not allowed", d.Type)
	}
	if c.MaxSensitivity != domain.SensitivityUnspecified {
		if d.Sensitivity == domain.SensitivityUnspecified {
			add(f, "sensitivity", "data sensitivity unknown")
		} else if d.Sensitivity > c.MaxSensitivity {
			add(f, "sensitivity", "data sensitivity %s above ceiling %s", d.Sensitivity, c.MaxSensitivity)
		}
	}
	if c.MaxSizeBytes > 0 && d.SizeBytes > c.MaxSizeBytes {
		add(f, "size", "data size %d exceeds %d bytes", d.SizeBytes, c.MaxSizeBytes)
	}
	for _, field := range d.Fields {
		if slices.Contains(c.ForbiddenFields, field) {
			add(f, "fields", "field %s is forbidden", field)
		}
	}
}

func containsFold(list []string, v string) bool {
	if v == "" {
		return false
	}
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
