package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	devicedomain "trustlayer/internal/device/domain"
	"trustlayer/internal/mfa"
	"trustlayer/internal/mfa/domain"
)

// Outcome is the result of one Verify call. Every outcome is a value, not an error.
type Outcome string

const (
	OutcomeVerified Outcome = "VERIFIED"
	// OutcomeMismatch: wrong code, attempts remain; the session is FAILED and still open.
	OutcomeMismatch Outcome = "MISMATCH"
	OutcomeBlocked  Outcome = "BLOCKED"
	OutcomeExpired  Outcome = "EXPIRED"
	// OutcomeAlreadyTerminal: the session was closed before this call; nothing was compared.
	OutcomeAlreadyTerminal Outcome = "ALREADY_TERMINAL"
)

// VerifyRequest is one code submission.
type VerifyRequest struct {
	SessionID string
	Code      string
	IP        string
	UserAgent string
}

// VerifyResult describes the session after a Verify call.
type VerifyResult struct {
	Outcome            Outcome
	Session            *domain.Session
	AttemptsRemaining  int
	Assertion          string
	AssertionExpiresAt time.Time
	DeviceRemembered   bool
}

// Verify checks code against an open session. The attempt increment and the
// comparison are written with compare-and-swap; a conflict is retried once and
// then reported as ErrConcurrentUpdate.
func (m *Manager) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	var outcome Outcome
	s, err := m.update(ctx, req.SessionID, func(s *domain.Session, now time.Time) (bool, error) {
		outcome = ""
		if s.Status.Terminal() {
			outcome = OutcomeAlreadyTerminal
			return false, nil
		}
		if s.Expired(now) {
			outcome = OutcomeExpired
			s.History = append(s.History, domain.Attempt{
				At: now, Result: domain.AttemptTimeout, IP: req.IP, UserAgent: req.UserAgent,
			})
			return true, s.Transition(domain.StatusExpired, now)
		}
		issuer, ok := m.issuers[s.Method]
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrUnsupported, s.Method)
		}
		match, err := issuer.Verify(ctx, s, req.Code)
		if err != nil {
			return false, err
		}
		s.Attempts++
		attempt := domain.Attempt{At: now, CodeHash: mfa.HashCode(req.Code), IP: req.IP, UserAgent: req.UserAgent}
		switch {
		case match:
			attempt.Result = domain.AttemptSuccess
			outcome = OutcomeVerified
		case s.Attempts >= s.MaxAttempts:
			attempt.Result = domain.AttemptFail
			outcome = OutcomeBlocked
		default:
			attempt.Result = domain.AttemptFail
			outcome = OutcomeMismatch
		}
		s.History = append(s.History, attempt)
		return true, s.Transition(outcomeStatus(outcome), now)
	})
	if err != nil {
		return nil, err
	}

	res := &VerifyResult{Outcome: outcome, Session: s, AttemptsRemaining: s.AttemptsRemaining()}
	if outcome == OutcomeAlreadyTerminal {
		return res, nil
	}
	if outcome == OutcomeVerified {
		if err := m.completeVerified(ctx, s, res); err != nil {
			return nil, err
		}
	}
	m.log.Info("mfa verification",
		zap.String("session_id", s.ID),
		zap.String("user_id", s.UserID),
		zap.String("outcome", string(outcome)),
		zap.Int("attempts", s.Attempts))
	m.count(ctx, string(outcome))
	m.notify(ctx, EventVerify, s, outcome)
	return res, nil
}

func outcomeStatus(o Outcome) domain.Status {
	switch o {
	case OutcomeVerified:
		return domain.StatusVerified
	case OutcomeBlocked:
		return domain.StatusBlocked
	case OutcomeExpired:
		return domain.StatusExpired
	case OutcomeMismatch:
		return domain.StatusFailed
	}
	panic(fmt.Sprintf("mfa: no status for outcome %q", o))
}

func (m *Manager) completeVerified(ctx context.Context, s *domain.Session, res *VerifyResult) error {
	if s.RememberDevice && s.Device.Fingerprint != "" {
		now := m.clock.Now()
		ttl := s.RememberFor
		if ttl <= 0 {
			ttl = m.cfg.RememberTTL
		}
		dev := &devicedomain.RememberedDevice{
			ID:           m.newID(),
			UserID:       s.UserID,
			Fingerprint:  s.Device.Fingerprint,
			Name:         s.Device.Name,
			UserAgent:    s.Device.UserAgent,
			RememberedAt: now,
			ExpiresAt:    now.Add(ttl),
		}
		if err := m.devices.Upsert(ctx, dev); err != nil {
			m.log.Warn("remember device", zap.String("session_id", s.ID), zap.Error(err))
		} else {
			res.DeviceRemembered = true
		}
	}
	if m.assertions != nil {
		tok, exp, err := m.assertions.Issue(s.UserID, s.LoginSessionID, s.ID, string(s.Method))
		if err != nil {
			return fmt.Errorf("mfa: issue assertion: %w", err)
		}
		res.Assertion, res.AssertionExpiresAt = tok, exp
	}
	return nil
}
