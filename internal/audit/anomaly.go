package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"trustlayer/internal/audit/domain"
)

// AnomalyKind names a detected pattern.
type AnomalyKind string

const (
	AnomalyFailedLogins AnomalyKind = "FAILED_LOGINS"
	AnomalyAccessDenied AnomalyKind = "ACCESS_DENIED"
	AnomalyIPSpread     AnomalyKind = "MULTIPLE_IPS"
	AnomalyOffHours     AnomalyKind = "OFF_HOURS"
)

// DefaultAnomalyWindow is used when DetectAnomalies gets a zero window.
const DefaultAnomalyWindow = 30 * time.Minute

// AnomalyThresholds are exclusive upper bounds of normal activity.
type AnomalyThresholds struct {
	FailedLogins  int
	AccessDenied  int
	UniqueIPs     int
	OffHoursRatio float64
	// Activity between OffHoursEnd and OffHoursStart (UTC hours) is normal.
	OffHoursEnd   int
	OffHoursStart int
}

// DefaultAnomalyThresholds flags more than 5 failed logins, more than 10
// denials, more than 3 source IPs, or more than half the activity outside
// 06:00-22:59 UTC.
func DefaultAnomalyThresholds() AnomalyThresholds {
	return AnomalyThresholds{FailedLogins: 5, AccessDenied: 10, UniqueIPs: 3, OffHoursRatio: 0.5, OffHoursEnd: 6, OffHoursStart: 23}
}

// Anomaly is one pattern that exceeded its threshold.
type Anomaly struct {
	Kind        AnomalyKind
	Severity    domain.Severity
	Observed    float64
	Threshold   float64
	Description string
}

// DetectAnomalies inspects the actor's records in the window ending now.
func (r *Recorder) DetectAnomalies(ctx context.Context, actorID string, window time.Duration) ([]Anomaly, error) {
	if strings.TrimSpace(actorID) == "" {
		return nil, fmt.Errorf("%w: actor id required", domain.ErrInvalidEvent)
	}
	if window <= 0 {
		window = DefaultAnomalyWindow
	}
	now := r.clock.Now()
	records, err := r.all(ctx, domain.Filter{ActorID: actorID, From: now.Add(-window), To: now.Add(time.Microsecond)})
	if err != nil {
		return nil, err
	}
	return Detect(records, DefaultAnomalyThresholds()), nil
}

// Detect applies thresholds to a set of records.
func Detect(records []*domain.Record, th AnomalyThresholds) []Anomaly {
	var out []Anomaly
	failed := lo.CountBy(records, func(r *domain.Record) bool { return r.Type == domain.EventLoginFailed })
	if failed > th.FailedLogins {
		out = append(out, Anomaly{
			Kind: AnomalyFailedLogins, Severity: domain.SeverityHigh,
			Observed: float64(failed), Threshold: float64(th.FailedLogins),
			Description: fmt.Sprintf("%d failed logins", failed),
		})
	}
	denied := lo.CountBy(records, func(r *domain.Record) bool { return r.Type == domain.EventAccessDenied })
	if denied > th.AccessDenied {
		out = append(out, Anomaly{
			Kind: AnomalyAccessDenied, Severity: domain.SeverityMedium,
			Observed: float64(denied), Threshold: float64(th.AccessDenied),
			Description: fmt.Sprintf("%d access denials", denied),
		})
	}
	ips := lo.Uniq(lo.FilterMap(records, func(r *domain.Record, _ int) (string, bool) {
		return r.Source.IP, r.Source.IP != ""
	}))
	if len(ips) > th.UniqueIPs {
		out = append(out, Anomaly{
			Kind: AnomalyIPSpread, Severity: domain.SeverityMedium,
			Observed: float64(len(ips)), Threshold: float64(th.UniqueIPs),
			Description: fmt.Sprintf("activity from %d addresses", len(ips)),
		})
	}
	if len(records) > 0 {
		off := lo.CountBy(records, func(r *domain.Record) bool {
			h := r.Timestamp.UTC().Hour()
			return h < th.OffHoursEnd || h >= th.OffHoursStart
		})
		if ratio := float64(off) / float64(len(records)); ratio > th.OffHoursRatio {
			out = append(out, Anomaly{
				Kind: AnomalyOffHours, Severity: domain.SeverityLow,
				Observed: ratio, Threshold: th.OffHoursRatio,
				Description: fmt.Sprintf("%d of %d events outside working hours", off, len(records)),
			})
		}
	}
	return out
}
