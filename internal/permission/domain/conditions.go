package domain

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

// Conditions bundles the optional constraint families of a grant. A nil
// family means no constraint of that kind.
type Conditions struct {
	Temporal   *TemporalConstraint   `json:"temporal,omitempty" yaml:"temporal,omitempty"`
	Geographic *GeographicConstraint `json:"geographic,omitempty" yaml:"geographic,omitempty"`
	Technical  *TechnicalConstraint  `json:"technical,omitempty" yaml:"technical,omitempty"`
	Business   *BusinessConstraint   `json:"business,omitempty" yaml:"business,omitempty"`
	Data       *DataConstraint       `json:"data,omitempty" yaml:"data,omitempty"`
}

// TemporalConstraint restricts when a grant applies. Weekdays use time.Weekday
// numbering (Sunday = 0). Hours are "HH:MM-HH:MM" windows; a window whose end
// is before its start wraps midnight.
type TemporalConstraint struct {
	NotBefore *time.Time     `json:"notBefore,omitempty" yaml:"notBefore,omitempty"`
	NotAfter  *time.Time     `json:"notAfter,omitempty" yaml:"notAfter,omitempty"`
	Weekdays  []time.Weekday `json:"weekdays,omitempty" yaml:"weekdays,omitempty"`
	Hours     []string       `json:"hours,omitempty" yaml:"hours,omitempty"`
	TimeZone  string         `json:"timeZone,omitempty" yaml:"timeZone,omitempty"`
}

// GeographicConstraint restricts where a request may come from.
type GeographicConstraint struct {
	AllowedCIDRs []string  `json:"allowedCidrs,omitempty" yaml:"allowedCidrs,omitempty"`
	Countries    []string  `json:"countries,omitempty" yaml:"countries,omitempty"`
	Regions      []string  `json:"regions,omitempty" yaml:"regions,omitempty"`
	Geofence     *Geofence `json:"geofence,omitempty" yaml:"geofence,omitempty"`
}

// Geofence is a circle on the earth's surface.
type Geofence struct {
	Latitude     float64 `json:"latitude" yaml:"latitude"`
	Longitude    float64 `json:"longitude" yaml:"longitude"`
	RadiusMeters float64 `json:"radiusMeters" yaml:"radiusMeters"`
}

// TechnicalConstraint restricts the client and authentication strength.
type TechnicalConstraint struct {
	MFARequired      bool     `json:"mfaRequired,omitempty" yaml:"mfaRequired,omitempty"`
	UserAgents       []string `json:"userAgents,omitempty" yaml:"userAgents,omitempty"`
	Platforms        []string `json:"platforms,omitempty" yaml:"platforms,omitempty"`
	MinAppVersion    string   `json:"minAppVersion,omitempty" yaml:"minAppVersion,omitempty"`
	MinSecurityLevel int      `json:"minSecurityLevel,omitempty" yaml:"minSecurityLevel,omitempty"`
}

// BusinessConstraint compares against the principal's directory profile.
type BusinessConstraint struct {
	Departments        []string `json:"departments,omitempty" yaml:"departments,omitempty"`
	RequiredRole       string   `json:"requiredRole,omitempty" yaml:"requiredRole,omitempty"`
	MinSeniorityMonths int      `json:"minSeniorityMonths,omitempty" yaml:"minSeniorityMonths,omitempty"`
	Certifications     []string `json:"certifications,omitempty" yaml:"certifications,omitempty"`
	Trainings          []string `json:"trainings,omitempty" yaml:"trainings,omitempty"`
}

// DataConstraint restricts the data touched by the request.
type DataConstraint struct {
	AllowedTypes    []string    `json:"allowedTypes,omitempty" yaml:"allowedTypes,omitempty"`
	MaxSensitivity  Sensitivity `json:"maxSensitivity,omitempty" yaml:"maxSensitivity,omitempty"`
	MaxSizeBytes    int64       `json:"maxSizeBytes,omitempty" yaml:"maxSizeBytes,omitempty"`
	ForbiddenFields []string    `json:"forbiddenFields,omitempty" yaml:"forbiddenFields,omitempty"`
}

// Sensitivity classifies data. The zero value means unspecified.
type Sensitivity uint8

const (
	SensitivityUnspecified Sensitivity = iota
	SensitivityPublic
	SensitivityInternal
	SensitivityConfidential
	SensitivitySecret
)

var sensitivityNames = [...]string{"", "PUBLIC", "INTERNAL", "CONFIDENTIAL", "SECRET"}

func (s Sensitivity) String() string {
	if int(s) < len(sensitivityNames) {
		return sensitivityNames[s]
	}
	return fmt.Sprintf("Sensitivity(%d)", uint8(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Sensitivity) MarshalText() ([]byte, error) {
	if int(s) >= len(sensitivityNames) {
		return nil, fmt.Errorf("%w: sensitivity %d", ErrInvalidCondition, uint8(s))
	}
	return []byte(sensitivityNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Sensitivity) UnmarshalText(b []byte) error {
	u := strings.ToUpper(strings.TrimSpace(string(b)))
	for i, name := range sensitivityNames {
		if name == u {
			*s = Sensitivity(i)
			return nil
		}
	}
	return fmt.Errorf("%w: sensitivity %q", ErrInvalidCondition, string(b))
}

// HourWindow is a parsed "HH:MM-HH:MM" window in minutes after midnight.
type HourWindow struct {
	Start, End int
}

// Contains reports whether minute-of-day m falls in the window. Wrapping
// windows are treated as [Start, 24:00) plus [00:00, End).
func (w HourWindow) Contains(m int) bool {
	if w.Start <= w.End {
		return m >= w.Start && m < w.End
	}
	return m >= w.Start || m < w.End
}

// ParseHourWindow parses "HH:MM-HH:MM".
func ParseHourWindow(s string) (HourWindow, error) {
	from, to, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return HourWindow{}, fmt.Errorf("%w: hour window %q", ErrInvalidCondition, s)
	}
	start, err := parseClock(from)
	if err != nil {
		return HourWindow{}, fmt.Errorf("%w: hour window %q", ErrInvalidCondition, s)
	}
	end, err := parseClock(to)
	if err != nil {
		return HourWindow{}, fmt.Errorf("%w: hour window %q", ErrInvalidCondition, s)
	}
	return HourWindow{Start: start, End: end}, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Validate checks syntax that can be verified without a request context.
func (c *Conditions) Validate() error {
	if t := c.Temporal; t != nil {
		for _, h := range t.Hours {
			if _, err := ParseHourWindow(h); err != nil {
				return err
			}
		}
		for _, d := range t.Weekdays {
			if d < time.Sunday || d > time.Saturday {
				return fmt.Errorf("%w: weekday %d", ErrInvalidCondition, d)
			}
		}
		if t.TimeZone != "" {
			if _, err := time.LoadLocation(t.TimeZone); err != nil {
				return fmt.Errorf("%w: time zone %q", ErrInvalidCondition, t.TimeZone)
			}
		}
	}
	if g := c.Geographic; g != nil {
		for _, cidr := range g.AllowedCIDRs {
			if _, err := netip.ParsePrefix(cidr); err != nil {
				return fmt.Errorf("%w: cidr %q", ErrInvalidCondition, cidr)
			}
		}
		if g.Geofence != nil && g.Geofence.RadiusMeters <= 0 {
			return fmt.Errorf("%w: geofence radius must be positive", ErrInvalidCondition)
		}
	}
	if t := c.Technical; t != nil && t.MinAppVersion != "" {
		if _, err := semver.NewVersion(t.MinAppVersion); err != nil {
			return fmt.Errorf("%w: minimum version %q", ErrInvalidCondition, t.MinAppVersion)
		}
	}
	return nil
}

// Restrictions limit how a winning grant may be used. They can only downgrade
// a decision.
type Restrictions struct {
	MaxUsesPerHour   int           `json:"maxUsesPerHour,omitempty" yaml:"maxUsesPerHour,omitempty"`
	MaxUsesPerDay    int           `json:"maxUsesPerDay,omitempty" yaml:"maxUsesPerDay,omitempty"`
	MinInterval      time.Duration `json:"minInterval,omitempty" yaml:"minInterval,omitempty"`
	AllowedResources []string      `json:"allowedResources,omitempty" yaml:"allowedResources,omitempty"`
	DeniedResources  []string      `json:"deniedResources,omitempty" yaml:"deniedResources,omitempty"`
}

// RateLimited reports whether any usage limit is configured.
func (r *Restrictions) RateLimited() bool {
	return r != nil && (r.MaxUsesPerHour > 0 || r.MaxUsesPerDay > 0 || r.MinInterval > 0)
}

// ResourceAllowed applies the allow and deny lists to resource.
func (r *Restrictions) ResourceAllowed(resource string) bool {
	if r == nil {
		return true
	}
	for _, p := range r.DeniedResources {
		if MatchResource(p, resource) {
			return false
		}
	}
	if len(r.AllowedResources) == 0 {
		return true
	}
	for _, p := range r.AllowedResources {
		if MatchResource(p, resource) {
			return true
		}
	}
	return false
}
