package domain

import (
	"fmt"
	"slices"
	"time"
)

// MaxSearchLimit caps a single page of search results.
const MaxSearchLimit = 1000

// Filter selects records. Zero-valued fields do not constrain.
type Filter struct {
	ActorID       string
	TenantID      string
	CorrelationID string
	IP            string
	Types         []EventType
	Categories    []Category
	Statuses      []Status
	States        []ArchivalState
	MinSeverity   Severity
	// From is inclusive, To is exclusive.
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// Validate rejects unknown enum values and bad paging.
func (f *Filter) Validate() error {
	for _, t := range f.Types {
		if !t.Valid() {
			return invalid("event type", t)
		}
	}
	for _, c := range f.Categories {
		if !c.Valid() {
			return invalid("category", c)
		}
	}
	for _, s := range f.Statuses {
		if !s.Valid() {
			return invalid("status", s)
		}
	}
	for _, s := range f.States {
		if s.rank() < 0 {
			return invalid("archival state", s)
		}
	}
	if f.MinSeverity != "" && !f.MinSeverity.Valid() {
		return invalid("severity", f.MinSeverity)
	}
	if f.Limit < 0 || f.Offset < 0 {
		return fmt.Errorf("%w: negative paging", ErrInvalidEvent)
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return fmt.Errorf("%w: empty time range", ErrInvalidEvent)
	}
	return nil
}

// PageSize returns the effective limit.
func (f *Filter) PageSize() int {
	if f.Limit <= 0 || f.Limit > MaxSearchLimit {
		return MaxSearchLimit
	}
	return f.Limit
}

// Matches reports whether r satisfies every constraint except paging.
func (f *Filter) Matches(r *Record) bool {
	switch {
	case f.ActorID != "" && r.Actor.ID != f.ActorID:
		return false
	case f.TenantID != "" && r.Context.TenantID != f.TenantID:
		return false
	case f.CorrelationID != "" && r.Context.CorrelationID != f.CorrelationID:
		return false
	case f.IP != "" && r.Source.IP != f.IP:
		return false
	case len(f.Types) > 0 && !slices.Contains(f.Types, r.Type):
		return false
	case len(f.Categories) > 0 && !slices.Contains(f.Categories, r.Category):
		return false
	case len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status):
		return false
	case len(f.States) > 0 && !slices.Contains(f.States, r.Archival.State):
		return false
	case f.MinSeverity != "" && !r.Severity.AtLeast(f.MinSeverity):
		return false
	case !f.From.IsZero() && r.Timestamp.Before(f.From):
		return false
	case !f.To.IsZero() && !r.Timestamp.Before(f.To):
		return false
	}
	return true
}
