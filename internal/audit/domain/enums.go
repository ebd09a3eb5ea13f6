package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidEvent is returned for unknown enum values and inconsistent events.
var ErrInvalidEvent = errors.New("audit: invalid event")

// EventType identifies what happened.
type EventType string

const (
	EventLogin          EventType = "LOGIN"
	EventLoginFailed    EventType = "LOGIN_FAILED"
	EventLogout         EventType = "LOGOUT"
	EventSessionExpired EventType = "SESSION_EXPIRED"
	EventPasswordChange EventType = "PASSWORD_CHANGE"
	EventPasswordReset  EventType = "PASSWORD_RESET"
	EventMFASetup       EventType = "MFA_SETUP"
	EventMFAVerified    EventType = "MFA_VERIFICATION"
	EventMFAFailed      EventType = "MFA_FAILED"

	EventAccessGranted     EventType = "ACCESS_GRANTED"
	EventAccessDenied      EventType = "ACCESS_DENIED"
	EventPermissionGranted EventType = "PERMISSION_GRANTED"
	EventPermissionRevoked EventType = "PERMISSION_REVOKED"
	EventRoleAssigned      EventType = "ROLE_ASSIGNED"
	EventRoleRemoved       EventType = "ROLE_REMOVED"

	EventUserCreated     EventType = "USER_CREATED"
	EventUserUpdated     EventType = "USER_UPDATED"
	EventUserDeleted     EventType = "USER_DELETED"
	EventUserActivated   EventType = "USER_ACTIVATED"
	EventUserDeactivated EventType = "USER_DEACTIVATED"
	EventUserLocked      EventType = "USER_LOCKED"
	EventUserUnlocked    EventType = "USER_UNLOCKED"

	EventDataCreate  EventType = "DATA_CREATE"
	EventDataRead    EventType = "DATA_READ"
	EventDataUpdate  EventType = "DATA_UPDATE"
	EventDataDelete  EventType = "DATA_DELETE"
	EventDataExport  EventType = "DATA_EXPORT"
	EventDataImport  EventType = "DATA_IMPORT"
	EventDataBackup  EventType = "DATA_BACKUP"
	EventDataRestore EventType = "DATA_RESTORE"

	EventSystemConfigChange      EventType = "SYSTEM_CONFIG_CHANGE"
	EventSecurityConfigChange    EventType = "SECURITY_CONFIG_CHANGE"
	EventIntegrationConfigChange EventType = "INTEGRATION_CONFIG_CHANGE"

	EventOrderCreated     EventType = "ORDER_CREATED"
	EventOrderModified    EventType = "ORDER_MODIFIED"
	EventOrderCancelled   EventType = "ORDER_CANCELLED"
	EventInvoiceGenerated EventType = "INVOICE_GENERATED"
	EventPaymentProcessed EventType = "PAYMENT_PROCESSED"
	EventSecurityAlert    EventType = "SECURITY_ALERT"
	EventSuspicious       EventType = "SUSPICIOUS_ACTIVITY"
	EventPolicyViolation  EventType = "POLICY_VIOLATION"
	EventIntrusionAttempt EventType = "INTRUSION_ATTEMPT"
	EventAPIAccess        EventType = "API_ACCESS"
	EventFileAccess       EventType = "FILE_ACCESS"
	EventReportGenerated  EventType = "REPORT_GENERATED"
	EventEmailSent        EventType = "EMAIL_SENT"
	EventNotificationSent EventType = "NOTIFICATION_SENT"
	EventErrorOccurred    EventType = "ERROR_OCCURRED"
	EventCustom           EventType = "CUSTOM_EVENT"
)

// eventFamily maps every known event type to the category it belongs to.
// An empty category means the type may be filed under any category.
var eventFamily = map[EventType]Category{
	EventLogin: CategoryAuthentication, EventLoginFailed: CategoryAuthentication, EventLogout: CategoryAuthentication,
	EventSessionExpired: CategoryAuthentication, EventPasswordChange: CategoryAuthentication,
	EventPasswordReset: CategoryAuthentication, EventMFASetup: CategoryAuthentication,
	EventMFAVerified: CategoryAuthentication, EventMFAFailed: CategoryAuthentication,

	EventAccessGranted: CategoryAuthorization, EventAccessDenied: CategoryAuthorization,
	EventPermissionGranted: CategoryAuthorization, EventPermissionRevoked: CategoryAuthorization,
	EventRoleAssigned: CategoryAuthorization, EventRoleRemoved: CategoryAuthorization,

	EventUserCreated: CategoryUserManagement, EventUserUpdated: CategoryUserManagement,
	EventUserDeleted: CategoryUserManagement, EventUserActivated: CategoryUserManagement,
	EventUserDeactivated: CategoryUserManagement, EventUserLocked: CategoryUserManagement,
	EventUserUnlocked: CategoryUserManagement,

	EventDataCreate: CategoryDataAccess, EventDataRead: CategoryDataAccess, EventDataUpdate: CategoryDataAccess,
	EventDataDelete: CategoryDataAccess, EventDataExport: CategoryDataAccess, EventDataImport: CategoryDataAccess,
	EventDataBackup: CategoryDataAccess, EventDataRestore: CategoryDataAccess,

	EventSystemConfigChange: CategorySystemAdmin, EventSecurityConfigChange: CategorySecurity,
	EventIntegrationConfigChange: CategoryIntegration,

	EventOrderCreated: CategoryBusinessLogic, EventOrderModified: CategoryBusinessLogic,
	EventOrderCancelled: CategoryBusinessLogic, EventInvoiceGenerated: CategoryBusinessLogic,
	EventPaymentProcessed: CategoryBusinessLogic,

	EventSecurityAlert: CategorySecurity, EventSuspicious: CategorySecurity,
	EventPolicyViolation: CategorySecurity, EventIntrusionAttempt: CategorySecurity,

	EventAPIAccess: "", EventFileAccess: "", EventReportGenerated: "", EventEmailSent: "",
	EventNotificationSent: "", EventErrorOccurred: "", EventCustom: "",
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	_, ok := eventFamily[t]
	return ok
}

// Family returns the category t must be filed under, or "" if unrestricted.
func (t EventType) Family() Category { return eventFamily[t] }

// Category groups events for retention and reporting.
type Category string

const (
	CategorySecurity       Category = "SECURITY"
	CategoryAuthentication Category = "AUTHENTICATION"
	CategoryAuthorization  Category = "AUTHORIZATION"
	CategoryUserManagement Category = "USER_MANAGEMENT"
	CategoryDataAccess     Category = "DATA_ACCESS"
	CategorySystemAdmin    Category = "SYSTEM_ADMIN"
	CategoryBusinessLogic  Category = "BUSINESS_LOGIC"
	CategoryIntegration    Category = "INTEGRATION"
	CategoryCompliance     Category = "COMPLIANCE"
	CategoryPerformance    Category = "PERFORMANCE"
	CategoryOther          Category = "OTHER"
)

// Categories lists every category.
func Categories() []Category {
	return []Category{CategorySecurity, CategoryAuthentication, CategoryAuthorization, CategoryUserManagement,
		CategoryDataAccess, CategorySystemAdmin, CategoryBusinessLogic, CategoryIntegration, CategoryCompliance,
		CategoryPerformance, CategoryOther}
}

func (c Category) Valid() bool {
	switch c {
	case CategorySecurity, CategoryAuthentication, CategoryAuthorization, CategoryUserManagement,
		CategoryDataAccess, CategorySystemAdmin, CategoryBusinessLogic, CategoryIntegration,
		CategoryCompliance, CategoryPerformance, CategoryOther:
		return true
	}
	return false
}

// Severity is ordered: INFO < LOW < MEDIUM < HIGH < CRITICAL < EMERGENCY.
type Severity string

const (
	SeverityInfo      Severity = "INFO"
	SeverityLow       Severity = "LOW"
	SeverityMedium    Severity = "MEDIUM"
	SeverityHigh      Severity = "HIGH"
	SeverityCritical  Severity = "CRITICAL"
	SeverityEmergency Severity = "EMERGENCY"
)

// Rank returns the position of s in the severity order, or -1 if unknown.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	case SeverityEmergency:
		return 5
	}
	return -1
}

func (s Severity) Valid() bool { return s.Rank() >= 0 }

// AtLeast reports whether s is min or more severe.
func (s Severity) AtLeast(min Severity) bool { return s.Rank() >= min.Rank() }

// Status is the outcome of the audited operation.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
	StatusWarning Status = "WARNING"
	StatusError   Status = "ERROR"
	StatusPending Status = "PENDING"
)

func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusWarning, StatusError, StatusPending:
		return true
	}
	return false
}

// Failed reports whether the operation did not succeed.
func (s Status) Failed() bool { return s == StatusFailure || s == StatusError }

// ActorType is the kind of party that caused the event.
type ActorType string

const (
	ActorUser      ActorType = "USER"
	ActorSystem    ActorType = "SYSTEM"
	ActorAPI       ActorType = "API"
	ActorService   ActorType = "SERVICE"
	ActorScheduler ActorType = "SCHEDULER"
	ActorWebhook   ActorType = "WEBHOOK"
)

func (a ActorType) Valid() bool {
	switch a {
	case ActorUser, ActorSystem, ActorAPI, ActorService, ActorScheduler, ActorWebhook:
		return true
	}
	return false
}

// Regulation is a compliance regime that may impose a retention period.
type Regulation string

const (
	RegulationGDPR     Regulation = "GDPR"
	RegulationSOX      Regulation = "SOX"
	RegulationHIPAA    Regulation = "HIPAA"
	RegulationPCIDSS   Regulation = "PCI_DSS"
	RegulationISO27001 Regulation = "ISO27001"
)

// Regulations lists every regulation.
func Regulations() []Regulation {
	return []Regulation{RegulationGDPR, RegulationSOX, RegulationHIPAA, RegulationPCIDSS, RegulationISO27001}
}

func (r Regulation) Valid() bool {
	switch r {
	case RegulationGDPR, RegulationSOX, RegulationHIPAA, RegulationPCIDSS, RegulationISO27001:
		return true
	}
	return false
}

// Classification is the sensitivity of the data an event touches.
type Classification string

const (
	ClassificationPublic       Classification = "PUBLIC"
	ClassificationInternal     Classification = "INTERNAL"
	ClassificationConfidential Classification = "CONFIDENTIAL"
	ClassificationSecret       Classification = "SECRET"
)

func (c Classification) Valid() bool {
	switch c {
	case "", ClassificationPublic, ClassificationInternal, ClassificationConfidential, ClassificationSecret:
		return true
	}
	return false
}

// RiskLevel is the assessed risk attached to an event.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

func (r RiskLevel) Valid() bool {
	switch r {
	case "", RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// Environment is the deployment an event was produced in.
type Environment string

const (
	EnvDev     Environment = "DEV"
	EnvTest    Environment = "TEST"
	EnvStaging Environment = "STAGING"
	EnvProd    Environment = "PROD"
)

func (e Environment) Valid() bool {
	switch e {
	case "", EnvDev, EnvTest, EnvStaging, EnvProd:
		return true
	}
	return false
}

// LinkType relates two records.
type LinkType string

const (
	LinkParent  LinkType = "PARENT"
	LinkChild   LinkType = "CHILD"
	LinkRelated LinkType = "RELATED"
	LinkCause   LinkType = "CAUSE"
	LinkEffect  LinkType = "EFFECT"
)

func (l LinkType) Valid() bool {
	switch l {
	case LinkParent, LinkChild, LinkRelated, LinkCause, LinkEffect:
		return true
	}
	return false
}

// ArchivalState only moves forward: ACTIVE -> ARCHIVED -> DELETED.
type ArchivalState string

const (
	StateActive   ArchivalState = "ACTIVE"
	StateArchived ArchivalState = "ARCHIVED"
	StateDeleted  ArchivalState = "DELETED"
)

func (s ArchivalState) rank() int {
	switch s {
	case StateActive:
		return 0
	case StateArchived:
		return 1
	case StateDeleted:
		return 2
	}
	return -1
}

// Next returns the state after s, and false if s is DELETED or unknown.
func (s ArchivalState) Next() (ArchivalState, bool) {
	switch s {
	case StateActive:
		return StateArchived, true
	case StateArchived:
		return StateDeleted, true
	}
	return "", false
}

// Before reports whether s precedes other in the archival order.
func (s ArchivalState) Before(other ArchivalState) bool {
	return s.rank() >= 0 && s.rank() < other.rank()
}

func invalid(field string, v any) error {
	return fmt.Errorf("%w: %s %q", ErrInvalidEvent, field, v)
}
