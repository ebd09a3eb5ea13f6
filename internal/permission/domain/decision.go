package domain

// Family names a condition family.
type Family string

const (
	FamilyTemporal    Family = "TEMPORAL"
	FamilyGeographic  Family = "GEOGRAPHIC"
	FamilyTechnical   Family = "TECHNICAL"
	FamilyBusiness    Family = "BUSINESS"
	FamilyData        Family = "DATA"
	FamilyRestriction Family = "RESTRICTION"
)

// Violation is one failed sub-rule, kept for audit.
type Violation struct {
	GrantID string `json:"grantId,omitempty"`
	Family  Family `json:"family"`
	Rule    string `json:"rule"`
	Reason  string `json:"reason"`
}

func (v Violation) String() string { return string(v.Family) + "/" + v.Rule + ": " + v.Reason }

// Decision is the outcome of resolving one (principal, resource, action).
// A BLOCKED decision is a normal value, not an error.
type Decision struct {
	PrincipalID string      `json:"principalId"`
	Resource    string      `json:"resource"`
	Action      string      `json:"action"`
	Level       AccessLevel `json:"level"`
	Granted     bool        `json:"granted"`
	// Source is the contributing source: the winning grant's, or the vetoing deny's.
	Source     *Source     `json:"source,omitempty"`
	GrantID    string      `json:"grantId,omitempty"`
	DeniedBy   string      `json:"deniedBy,omitempty"`
	Restricted bool        `json:"restricted,omitempty"`
	Violations []Violation `json:"violations,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	// ContextFree is set when no covering grant depends on request attributes,
	// validity windows or usage counters, so the decision may be memoized.
	ContextFree bool `json:"-"`
}

// Allows reports whether the decision meets the required level.
func (d Decision) Allows(required AccessLevel) bool {
	return d.Granted && Meets(d.Level, required)
}

// EffectivePermission is a derived, non-persisted view of a resolved pair.
type EffectivePermission struct {
	Resource   string      `json:"resource"`
	Action     string      `json:"action"`
	Level      AccessLevel `json:"level"`
	Source     *Source     `json:"source,omitempty"`
	Restricted bool        `json:"restricted,omitempty"`
}
