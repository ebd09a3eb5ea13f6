package domain

import (
	"fmt"
	"strings"
)

// Event is the caller's description of something to audit. Severity and
// Category may be left empty to take the defaults for Type.
type Event struct {
	Type        EventType
	Category    Category
	Severity    Severity
	Status      Status
	Description string
	Actor       Actor
	Target      *Target
	Source      Source
	Context     Context
	Security    SecurityInfo
	Regulations []Regulation
	// RetentionMonths lengthens the computed retention. It never shortens it.
	RetentionMonths int
	PersonalData    bool
	LegalBasis      string
	Links           []Link
	Tags            []string
	Metadata        map[string]string
}

var warningTypes = map[EventType]bool{
	EventAccessDenied:      true,
	EventLoginFailed:       true,
	EventMFAFailed:         true,
	EventDataDelete:        true,
	EventPermissionRevoked: true,
	EventRoleRemoved:       true,
}

// DefaultSeverity derives a severity from the event type and status.
func DefaultSeverity(t EventType, s Status) Severity {
	switch {
	case t == EventSuspicious || t == EventIntrusionAttempt:
		return SeverityCritical
	case t == EventSecurityAlert || t == EventPolicyViolation:
		return SeverityHigh
	case s == StatusError:
		return SeverityHigh
	case s == StatusFailure, warningTypes[t]:
		return SeverityMedium
	}
	return SeverityInfo
}

// DefaultCategory returns the category an event type is filed under when the
// caller does not supply one.
func DefaultCategory(t EventType) Category {
	if c := t.Family(); c != "" {
		return c
	}
	switch t {
	case EventAPIAccess, EventFileAccess:
		return CategoryDataAccess
	case EventReportGenerated:
		return CategoryCompliance
	case EventEmailSent, EventNotificationSent:
		return CategoryIntegration
	case EventErrorOccurred:
		return CategoryPerformance
	}
	return CategoryOther
}

// DefaultClassification returns the data classification implied by the
// event type, or "" when none is implied.
func DefaultClassification(t EventType) Classification {
	switch t.Family() {
	case CategoryAuthentication, CategorySecurity:
		return ClassificationConfidential
	case CategoryAuthorization, CategoryUserManagement, CategoryDataAccess:
		return ClassificationInternal
	}
	return ""
}

// Normalize fills defaults for empty Category, Severity, Status and
// classification.
func (e *Event) Normalize() {
	if e.Status == "" {
		e.Status = StatusSuccess
	}
	if e.Category == "" {
		e.Category = DefaultCategory(e.Type)
	}
	if e.Severity == "" {
		e.Severity = DefaultSeverity(e.Type, e.Status)
	}
	if e.Security.Classification == "" {
		e.Security.Classification = DefaultClassification(e.Type)
	}
	if e.Actor.Type == "" {
		e.Actor.Type = ActorUser
	}
}

// Validate checks enum values and consistency rules. Call Normalize first.
func (e *Event) Validate() error {
	switch {
	case !e.Type.Valid():
		return invalid("event type", e.Type)
	case !e.Category.Valid():
		return invalid("category", e.Category)
	case !e.Severity.Valid():
		return invalid("severity", e.Severity)
	case !e.Status.Valid():
		return invalid("status", e.Status)
	case !e.Actor.Type.Valid():
		return invalid("actor type", e.Actor.Type)
	case strings.TrimSpace(e.Actor.ID) == "":
		return fmt.Errorf("%w: actor id required", ErrInvalidEvent)
	case !e.Source.Environment.Valid():
		return invalid("environment", e.Source.Environment)
	case !e.Security.Classification.Valid():
		return invalid("classification", e.Security.Classification)
	case !e.Security.RiskLevel.Valid():
		return invalid("risk level", e.Security.RiskLevel)
	case e.Security.RiskScore < 0 || e.Security.RiskScore > 1:
		return fmt.Errorf("%w: risk score %v outside [0,1]", ErrInvalidEvent, e.Security.RiskScore)
	case e.RetentionMonths < 0:
		return fmt.Errorf("%w: negative retention", ErrInvalidEvent)
	}
	for _, r := range e.Regulations {
		if !r.Valid() {
			return invalid("regulation", r)
		}
	}
	for _, l := range e.Links {
		if !l.Type.Valid() {
			return invalid("link type", l.Type)
		}
		if l.RecordID == "" {
			return fmt.Errorf("%w: link without record id", ErrInvalidEvent)
		}
	}
	return e.consistent()
}

// consistent enforces the rules tying type, category, status and severity.
func (e *Event) consistent() error {
	if fam := e.Type.Family(); fam != "" && fam != e.Category {
		return fmt.Errorf("%w: %s must be filed under %s, not %s", ErrInvalidEvent, e.Type, fam, e.Category)
	}
	if e.Type == EventMFAFailed || (e.Type == EventMFAVerified && e.Status.Failed()) {
		if !e.Severity.AtLeast(SeverityMedium) {
			return fmt.Errorf("%w: failed mfa requires severity >= MEDIUM, got %s", ErrInvalidEvent, e.Severity)
		}
	}
	if e.Type == EventMFAFailed && e.Status == StatusSuccess {
		return fmt.Errorf("%w: %s cannot have status SUCCESS", ErrInvalidEvent, e.Type)
	}
	if (e.Type == EventSuspicious || e.Type == EventIntrusionAttempt) && !e.Severity.AtLeast(SeverityHigh) {
		return fmt.Errorf("%w: %s requires severity >= HIGH, got %s", ErrInvalidEvent, e.Type, e.Severity)
	}
	return nil
}
