package domain

import "time"

// SchemaVersion is stamped on every record so checksums can be recomputed
// with the matching encoding.
const SchemaVersion = 1

// Actor is the party that caused an event.
type Actor struct {
	Type      ActorType `json:"type"`
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email,omitempty"`
	Roles     []string  `json:"roles,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
}

// Target is what the event acted on.
type Target struct {
	Type          string         `json:"type,omitempty"`
	ID            string         `json:"id,omitempty"`
	Name          string         `json:"name,omitempty"`
	Before        map[string]any `json:"before,omitempty"`
	After         map[string]any `json:"after,omitempty"`
	ChangedFields []string       `json:"changedFields,omitempty"`
}

// Source describes where the request came from.
type Source struct {
	IP          string      `json:"ip,omitempty"`
	UserAgent   string      `json:"userAgent,omitempty"`
	Country     string      `json:"country,omitempty"`
	City        string      `json:"city,omitempty"`
	Application string      `json:"application,omitempty"`
	Version     string      `json:"version,omitempty"`
	Environment Environment `json:"environment,omitempty"`
}

// Context correlates the record with the surrounding request.
type Context struct {
	CorrelationID string `json:"correlationId,omitempty"`
	TraceID       string `json:"traceId,omitempty"`
	RequestID     string `json:"requestId,omitempty"`
	TenantID      string `json:"tenantId,omitempty"`
	Operation     string `json:"operation,omitempty"`
	DurationMS    int64  `json:"durationMs,omitempty"`
}

// SecurityInfo carries the risk assessment attached to the event.
type SecurityInfo struct {
	RiskScore      float64        `json:"riskScore,omitempty"`
	RiskLevel      RiskLevel      `json:"riskLevel,omitempty"`
	TriggeredRules []string       `json:"triggeredRules,omitempty"`
	Classification Classification `json:"classification,omitempty"`
	Encrypted      bool           `json:"encrypted,omitempty"`
}

// Compliance holds the regulations that apply and the retention they imply.
type Compliance struct {
	Regulations     []Regulation `json:"regulations,omitempty"`
	RetentionMonths int          `json:"retentionMonths"`
	PersonalData    bool         `json:"personalData,omitempty"`
	LegalBasis      string       `json:"legalBasis,omitempty"`
}

// Link relates this record to another one.
type Link struct {
	Type     LinkType `json:"type"`
	RecordID string   `json:"recordId"`
}

// Integrity is computed once at creation.
type Integrity struct {
	SchemaVersion int    `json:"schemaVersion"`
	Checksum      string `json:"checksum,omitempty"`
	Signature     string `json:"signature,omitempty"`
}

// Archival is the only part of a record that changes after it is written.
type Archival struct {
	State      ArchivalState `json:"state"`
	ArchiveAt  time.Time     `json:"archiveAt"`
	DeleteAt   time.Time     `json:"deleteAt"`
	ArchivedAt *time.Time    `json:"archivedAt,omitempty"`
	DeletedAt  *time.Time    `json:"deletedAt,omitempty"`
}

// Due returns the state the record should be in at now, which may equal the
// current state. Time only moves records forward.
func (a Archival) Due(now time.Time) ArchivalState {
	due := StateActive
	if !now.Before(a.ArchiveAt) {
		due = StateArchived
	}
	if !now.Before(a.DeleteAt) {
		due = StateDeleted
	}
	if due.Before(a.State) {
		return a.State
	}
	return due
}

// Record is an immutable audit log entry. Only Archival changes after it is
// persisted.
type Record struct {
	ID          string            `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	Type        EventType         `json:"eventType"`
	Category    Category          `json:"category"`
	Severity    Severity          `json:"severity"`
	Status      Status            `json:"status"`
	Description string            `json:"description,omitempty"`
	Actor       Actor             `json:"actor"`
	Target      *Target           `json:"target,omitempty"`
	Source      Source            `json:"source"`
	Context     Context           `json:"context"`
	Security    SecurityInfo      `json:"security"`
	Compliance  Compliance        `json:"compliance"`
	Links       []Link            `json:"links,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Integrity   Integrity         `json:"integrity"`
	Archival    Archival          `json:"archival"`
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Actor.Roles = append([]string(nil), r.Actor.Roles...)
	if r.Target != nil {
		t := *r.Target
		t.Before = cloneAny(r.Target.Before)
		t.After = cloneAny(r.Target.After)
		t.ChangedFields = append([]string(nil), r.Target.ChangedFields...)
		c.Target = &t
	}
	c.Security.TriggeredRules = append([]string(nil), r.Security.TriggeredRules...)
	c.Compliance.Regulations = append([]Regulation(nil), r.Compliance.Regulations...)
	c.Links = append([]Link(nil), r.Links...)
	c.Tags = append([]string(nil), r.Tags...)
	if r.Metadata != nil {
		c.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	c.Archival.ArchivedAt = cloneTime(r.Archival.ArchivedAt)
	c.Archival.DeletedAt = cloneTime(r.Archival.DeletedAt)
	return &c
}

func cloneAny(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
