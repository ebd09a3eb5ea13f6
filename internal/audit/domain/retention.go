package domain

import (
	"fmt"
	"time"
)

// RetentionPolicy maps regulations and categories to retention periods in
// months.
type RetentionPolicy struct {
	Regulations map[Regulation]int
	Categories  map[Category]int
	// DefaultMonths applies to categories missing from Categories.
	DefaultMonths int
	// ArchiveAfter is how long a record stays ACTIVE before it is archived.
	ArchiveAfter time.Duration
}

// DefaultRetentionPolicy returns the built-in retention table.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		Regulations: map[Regulation]int{
			RegulationGDPR:     24,
			RegulationSOX:      84,
			RegulationHIPAA:    72,
			RegulationPCIDSS:   12,
			RegulationISO27001: 36,
		},
		Categories: map[Category]int{
			CategorySecurity:       24,
			CategoryAuthentication: 12,
			CategoryAuthorization:  12,
			CategoryUserManagement: 24,
			CategoryDataAccess:     12,
			CategorySystemAdmin:    24,
			CategoryBusinessLogic:  12,
			CategoryIntegration:    6,
			CategoryCompliance:     84,
			CategoryPerformance:    3,
			CategoryOther:          6,
		},
		DefaultMonths: 12,
		ArchiveAfter:  90 * 24 * time.Hour,
	}
}

// Validate rejects non-positive periods.
func (p RetentionPolicy) Validate() error {
	for r, m := range p.Regulations {
		if m <= 0 {
			return fmt.Errorf("audit: retention for %s must be positive", r)
		}
	}
	for c, m := range p.Categories {
		if m <= 0 {
			return fmt.Errorf("audit: retention for %s must be positive", c)
		}
	}
	if p.DefaultMonths <= 0 {
		return fmt.Errorf("audit: default retention must be positive")
	}
	if p.ArchiveAfter < 0 {
		return fmt.Errorf("audit: archive-after must not be negative")
	}
	return nil
}

// Months returns the retention for a record: the maximum over the applicable
// regulations, or the category minimum when none apply. requested can only
// lengthen the result.
func (p RetentionPolicy) Months(c Category, regs []Regulation, requested int) int {
	months := 0
	for _, r := range regs {
		if m := p.Regulations[r]; m > months {
			months = m
		}
	}
	if months == 0 {
		months = p.categoryMonths(c)
	}
	if requested > months {
		months = requested
	}
	return months
}

func (p RetentionPolicy) categoryMonths(c Category) int {
	if m, ok := p.Categories[c]; ok && m > 0 {
		return m
	}
	return p.DefaultMonths
}

// Schedule returns the archival thresholds for a record written at ts. The
// archive threshold never falls after the delete threshold.
func (p RetentionPolicy) Schedule(ts time.Time, months int) Archival {
	deleteAt := ts.AddDate(0, months, 0)
	archiveAt := ts.Add(p.ArchiveAfter)
	if archiveAt.After(deleteAt) {
		archiveAt = deleteAt
	}
	return Archival{State: StateActive, ArchiveAt: archiveAt, DeleteAt: deleteAt}
}
