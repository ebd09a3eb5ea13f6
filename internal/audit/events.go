package audit

import (
	"context"
	"fmt"
	"strconv"

	"trustlayer/internal/audit/domain"
	mfadomain "trustlayer/internal/mfa/domain"
	mfaservice "trustlayer/internal/mfa/service"
	permdomain "trustlayer/internal/permission/domain"
)

// DecisionEvent builds the ACCESS_GRANTED or ACCESS_DENIED event for a
// resolver decision. rc may be nil.
func DecisionEvent(d permdomain.Decision, rc *permdomain.RequestContext, c domain.Context) domain.Event {
	e := domain.Event{
		Type:     domain.EventAccessGranted,
		Category: domain.CategoryAuthorization,
		Status:   domain.StatusSuccess,
		Actor:    domain.Actor{Type: domain.ActorUser, ID: d.PrincipalID},
		Target:   &domain.Target{Type: "resource", ID: d.Resource},
		Context:  c,
		Metadata: map[string]string{
			"action": d.Action,
			"level":  d.Level.String(),
		},
		Description: fmt.Sprintf("%s %s", d.Action, d.Resource),
	}
	if c.Operation == "" {
		e.Context.Operation = d.Action
	}
	if !d.Granted {
		e.Type = domain.EventAccessDenied
		e.Status = domain.StatusFailure
	}
	if d.GrantID != "" {
		e.Metadata["grant_id"] = d.GrantID
	}
	if d.DeniedBy != "" {
		e.Metadata["denied_by"] = d.DeniedBy
	}
	if d.Reason != "" {
		e.Metadata["reason"] = d.Reason
	}
	if d.Restricted {
		e.Tags = append(e.Tags, "restricted")
	}
	if d.Source != nil {
		e.Metadata["source_type"] = string(d.Source.Type)
	}
	for _, v := range d.Violations {
		e.Security.TriggeredRules = append(e.Security.TriggeredRules, v.String())
	}
	if rc != nil {
		e.Actor.SessionID = rc.SessionID
		e.Actor.Roles = rc.Profile.Roles
		e.Source.IP = rc.IP
		e.Source.UserAgent = rc.UserAgent
		if rc.Geo != nil {
			e.Source.Country = rc.Geo.Country
			e.Source.City = rc.Geo.City
		}
		if rc.Data != nil && rc.Data.Sensitivity != permdomain.SensitivityUnspecified {
			e.Security.Classification = domain.Classification(rc.Data.Sensitivity.String())
			e.PersonalData = rc.Data.Sensitivity >= permdomain.SensitivityConfidential
		}
	}
	return e
}

// RecordDecision records a resolver decision.
func (r *Recorder) RecordDecision(ctx context.Context, d permdomain.Decision, rc *permdomain.RequestContext, c domain.Context) (*domain.Record, error) {
	return r.Record(ctx, DecisionEvent(d, rc, c))
}

// MFAEvent builds the event for an MFA session change. ok is false for
// changes that are not audited, such as a verify on an already closed session.
func MFAEvent(ev mfaservice.Event) (domain.Event, bool) {
	s := ev.Session
	if s == nil {
		return domain.Event{}, false
	}
	e := domain.Event{
		Type:     domain.EventMFAVerified,
		Category: domain.CategoryAuthentication,
		Actor:    domain.Actor{Type: domain.ActorUser, ID: s.UserID, SessionID: s.LoginSessionID},
		Target:   &domain.Target{Type: "mfa_session", ID: s.ID},
		Source:   domain.Source{IP: s.Device.IP, UserAgent: s.Device.UserAgent},
		Security: domain.SecurityInfo{RiskScore: clamp01(s.RiskScore)},
		Metadata: map[string]string{
			"method":   string(s.Method),
			"status":   string(s.Status),
			"attempts": strconv.Itoa(s.Attempts),
		},
		Tags: []string{"mfa", string(ev.Type)},
	}
	switch ev.Type {
	case mfaservice.EventInitiated, mfaservice.EventResent:
		e.Status = domain.StatusPending
	case mfaservice.EventImplicit:
		e.Status = domain.StatusSuccess
		e.Tags = append(e.Tags, "remembered_device")
	case mfaservice.EventCancelled, mfaservice.EventSuperseded:
		e.Status = domain.StatusWarning
	case mfaservice.EventVerify:
		e.Metadata["outcome"] = string(ev.Outcome)
		if n := len(s.History); n > 0 {
			last := s.History[n-1]
			if last.IP != "" {
				e.Source.IP = last.IP
			}
			if last.UserAgent != "" {
				e.Source.UserAgent = last.UserAgent
			}
		}
		switch ev.Outcome {
		case mfaservice.OutcomeVerified:
			e.Status = domain.StatusSuccess
		case mfaservice.OutcomeMismatch:
			e.Type, e.Status, e.Severity = domain.EventMFAFailed, domain.StatusFailure, domain.SeverityMedium
		case mfaservice.OutcomeBlocked:
			e.Type, e.Status, e.Severity = domain.EventMFAFailed, domain.StatusFailure, domain.SeverityHigh
		case mfaservice.OutcomeExpired:
			e.Type, e.Status, e.Severity = domain.EventMFAFailed, domain.StatusWarning, domain.SeverityMedium
		default:
			return domain.Event{}, false
		}
	default:
		return domain.Event{}, false
	}
	if s.Status == mfadomain.StatusBlocked {
		e.Security.RiskLevel = domain.RiskHigh
	}
	return e, true
}

// RecordMFA records an MFA session change. Unaudited changes return nil, nil.
func (r *Recorder) RecordMFA(ctx context.Context, ev mfaservice.Event) (*domain.Record, error) {
	e, ok := MFAEvent(ev)
	if !ok {
		return nil, nil
	}
	return r.Record(ctx, e)
}

// MFAObserver returns an observer that records every MFA session change.
func (r *Recorder) MFAObserver() mfaservice.Observer {
	return mfaservice.ObserverFunc(func(ctx context.Context, ev mfaservice.Event) error {
		_, err := r.RecordMFA(ctx, ev)
		return err
	})
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
