// Package service runs the MFA verification session state machine: issuing a
// challenge for a login, checking attempts against it, and remembering
// devices that completed it.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"trustlayer/internal/clock"
	devicedomain "trustlayer/internal/device/domain"
	"trustlayer/internal/mfa"
	"trustlayer/internal/mfa/delivery"
	"trustlayer/internal/mfa/domain"
	"trustlayer/internal/mfa/repository"
	"trustlayer/internal/policy/engine"
)

var (
	ErrSessionNotFound = errors.New("mfa: session not found")
	// ErrConcurrentUpdate means the session changed underneath two consecutive
	// read-modify-write attempts. It is transient and is not a verification failure.
	ErrConcurrentUpdate = errors.New("mfa: concurrent session update")
	ErrSessionClosed    = errors.New("mfa: session is no longer open")
	ErrInvalidRequest   = errors.New("mfa: invalid request")
	ErrDeliveryFailed   = errors.New("mfa: code delivery failed")
	ErrUnsupported      = errors.New("mfa: method not configured")
)

// SessionRepo is the session persistence needed by the manager.
type SessionRepo interface {
	Create(ctx context.Context, s *domain.Session) error
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	CompareAndSwap(ctx context.Context, s *domain.Session, expected int64) (bool, error)
	ListByLogin(ctx context.Context, userID, loginSessionID string) ([]*domain.Session, error)
}

// DeviceRepo is the remembered-device persistence needed by the manager.
type DeviceRepo interface {
	Get(ctx context.Context, userID, fingerprint string) (*devicedomain.RememberedDevice, error)
	Upsert(ctx context.Context, d *devicedomain.RememberedDevice) error
	Revoke(ctx context.Context, userID, fingerprint string, at time.Time) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]*devicedomain.RememberedDevice, error)
	Touch(ctx context.Context, id string, at time.Time) error
}

// AssertionIssuer signs proof of a completed MFA for the API layer.
type AssertionIssuer interface {
	Issue(userID, loginSessionID, mfaSessionID, method string) (string, time.Time, error)
}

// Config holds session limits.
type Config struct {
	MaxAttempts int
	CodeTTL     time.Duration
	RememberTTL time.Duration
}

// DefaultConfig allows three attempts on a five minute code and remembers devices for 30 days.
func DefaultConfig() Config {
	return Config{MaxAttempts: 3, CodeTTL: 5 * time.Minute, RememberTTL: 30 * 24 * time.Hour}
}

// Manager owns MFA verification sessions. Safe for concurrent use; per-session
// serialisation comes from the repository's compare-and-swap.
type Manager struct {
	sessions   SessionRepo
	devices    DeviceRepo
	issuers    map[domain.Method]mfa.Issuer
	sender     delivery.Sender
	assertions AssertionIssuer
	policy     engine.Evaluator
	observers  []Observer
	cfg        Config
	clock      clock.Clock
	log        *zap.Logger
	newID      func() string

	outcomes metric.Int64Counter
}

// Option configures a Manager.
type Option func(*Manager)

func WithClock(c clock.Clock) Option { return func(m *Manager) { m.clock = c } }

func WithLogger(l *zap.Logger) Option { return func(m *Manager) { m.log = l } }

func WithConfig(c Config) Option { return func(m *Manager) { m.cfg = c } }

// WithIssuer registers the code issuer for one or more methods.
func WithIssuer(i mfa.Issuer, methods ...domain.Method) Option {
	return func(m *Manager) {
		for _, method := range methods {
			m.issuers[method] = i
		}
	}
}

// WithSender sets the delivery channel for issued codes.
func WithSender(s delivery.Sender) Option { return func(m *Manager) { m.sender = s } }

// WithAssertions enables signed assertions on successful verification.
func WithAssertions(a AssertionIssuer) Option { return func(m *Manager) { m.assertions = a } }

// WithPolicy sets the evaluator consulted by Required.
func WithPolicy(p engine.Evaluator) Option { return func(m *Manager) { m.policy = p } }

// WithObserver adds an observer notified after every state change.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observers = append(m.observers, o) }
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(fn func() string) Option { return func(m *Manager) { m.newID = fn } }

// New returns a Manager. Without WithIssuer options, SMS, EMAIL and
// VOICE_CALL use numeric one-time codes.
func New(sessions SessionRepo, devices DeviceRepo, opts ...Option) *Manager {
	m := &Manager{
		sessions: sessions,
		devices:  devices,
		issuers:  make(map[domain.Method]mfa.Issuer),
		cfg:      DefaultConfig(),
		clock:    clock.Real(),
		log:      zap.NewNop(),
		newID:    func() string { return uuid.New().String() },
	}
	for _, o := range opts {
		o(m)
	}
	if len(m.issuers) == 0 {
		otp := mfa.OTPIssuer{Digits: mfa.DefaultDigits}
		for _, method := range []domain.Method{domain.MethodSMS, domain.MethodEmail, domain.MethodVoiceCall} {
			m.issuers[method] = otp
		}
	}
	d := DefaultConfig()
	if m.cfg.MaxAttempts <= 0 {
		m.cfg.MaxAttempts = d.MaxAttempts
	}
	if m.cfg.CodeTTL <= 0 {
		m.cfg.CodeTTL = d.CodeTTL
	}
	if m.cfg.RememberTTL <= 0 {
		m.cfg.RememberTTL = d.RememberTTL
	}
	counter, err := otel.Meter("trustlayer/mfa").Int64Counter("mfa.outcomes",
		metric.WithDescription("MFA session outcomes by kind"))
	if err != nil {
		m.log.Warn("mfa outcome counter unavailable", zap.Error(err))
	}
	m.outcomes = counter
	return m
}

// InitiateRequest starts a challenge for one login.
type InitiateRequest struct {
	UserID         string
	LoginSessionID string
	Method         domain.Method
	Device         domain.DeviceInfo
	RiskScore      float64
	Options        domain.Options
}

// InitiateResult is the session created by Initiate. Implicit sessions were
// satisfied by a remembered device and carry an assertion when one is configured.
type InitiateResult struct {
	Session            *domain.Session
	Implicit           bool
	Assertion          string
	AssertionExpiresAt time.Time
}

// Initiate opens a session for (user, login, method), cancelling any open
// session for the same triple once the replacement is ready to be stored. A
// remembered, unexpired device yields an implicitly VERIFIED session unless
// Options.ForceReverification is set. If the code cannot be delivered the new
// session is cancelled as well and ErrDeliveryFailed is returned.
func (m *Manager) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.LoginSessionID = strings.TrimSpace(req.LoginSessionID)
	if req.UserID == "" || req.LoginSessionID == "" {
		return nil, fmt.Errorf("%w: user and login session are required", ErrInvalidRequest)
	}
	if _, err := domain.ParseMethod(string(req.Method)); err != nil {
		return nil, err
	}
	issuer, ok := m.issuers[req.Method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, req.Method)
	}
	now := m.clock.Now()

	s := &domain.Session{
		ID:             m.newID(),
		UserID:         req.UserID,
		LoginSessionID: req.LoginSessionID,
		Method:         req.Method,
		Status:         domain.StatusPending,
		GeneratedAt:    now,
		MaxAttempts:    m.cfg.MaxAttempts,
		Device:         req.Device,
		RiskScore:      req.RiskScore,
		RememberDevice: req.Options.RememberDevice,
		RememberFor:    req.Options.RememberFor,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if !req.Options.ForceReverification && req.Device.Fingerprint != "" {
		dev, err := m.devices.Get(ctx, req.UserID, req.Device.Fingerprint)
		if err != nil {
			return nil, err
		}
		if dev.Active(now) {
			return m.implicit(ctx, s, dev, now)
		}
	}

	validity := req.Options.Validity
	if validity <= 0 {
		validity = m.cfg.CodeTTL
	}
	s.ExpiresAt = now.Add(validity)
	code, hash, err := issuer.Issue(ctx, s)
	if err != nil {
		return nil, err
	}
	s.CodeHash = hash
	if err := m.replaceOpen(ctx, s); err != nil {
		return nil, err
	}
	if err := m.deliver(ctx, s, code); err != nil {
		m.closeUndelivered(ctx, s.ID)
		return nil, err
	}
	m.log.Info("mfa session initiated",
		zap.String("session_id", s.ID), zap.String("user_id", s.UserID), zap.String("method", string(s.Method)))
	m.notify(ctx, EventInitiated, s, "")
	return &InitiateResult{Session: s}, nil
}

func (m *Manager) implicit(ctx context.Context, s *domain.Session, dev *devicedomain.RememberedDevice, now time.Time) (*InitiateResult, error) {
	s.Implicit = true
	s.ExpiresAt = now
	if err := s.Transition(domain.StatusVerified, now); err != nil {
		return nil, err
	}
	if err := m.replaceOpen(ctx, s); err != nil {
		return nil, err
	}
	if err := m.devices.Touch(ctx, dev.ID, now); err != nil {
		m.log.Warn("touch remembered device", zap.String("device_id", dev.ID), zap.Error(err))
	}
	res := &InitiateResult{Session: s, Implicit: true}
	if m.assertions != nil {
		tok, exp, err := m.assertions.Issue(s.UserID, s.LoginSessionID, s.ID, string(s.Method))
		if err != nil {
			return nil, err
		}
		res.Assertion, res.AssertionExpiresAt = tok, exp
	}
	m.log.Info("mfa satisfied by remembered device",
		zap.String("session_id", s.ID), zap.String("user_id", s.UserID), zap.String("device_id", dev.ID))
	m.count(ctx, "implicit")
	m.notify(ctx, EventImplicit, s, OutcomeVerified)
	return res, nil
}

// replaceOpen supersedes the open sessions of s's triple and stores s. A
// concurrent Initiate for the same triple can create its session in between;
// the store then reports ErrDuplicate and the pair is retried once.
func (m *Manager) replaceOpen(ctx context.Context, s *domain.Session) error {
	for attempt := 0; ; attempt++ {
		if err := m.supersede(ctx, s.UserID, s.LoginSessionID, s.Method); err != nil {
			return err
		}
		err := m.sessions.Create(ctx, s)
		if errors.Is(err, repository.ErrDuplicate) && attempt == 0 {
			m.log.Debug("mfa session raced with another initiate, retrying",
				zap.String("user_id", s.UserID), zap.String("method", string(s.Method)))
			continue
		}
		return err
	}
}

// supersede cancels every open session of the same (user, login, method).
func (m *Manager) supersede(ctx context.Context, userID, loginSessionID string, method domain.Method) error {
	existing, err := m.sessions.ListByLogin(ctx, userID, loginSessionID)
	if err != nil {
		return err
	}
	for _, prev := range existing {
		if prev.Method != method || !prev.Status.Open() {
			continue
		}
		var changed bool
		cancelled, err := m.update(ctx, prev.ID, func(s *domain.Session, now time.Time) (bool, error) {
			changed = s.Status.Open()
			if !changed {
				return false, nil
			}
			return true, s.Transition(domain.StatusCancelled, now)
		})
		if err != nil {
			return err
		}
		if changed {
			m.log.Info("mfa session superseded", zap.String("session_id", cancelled.ID))
			m.notify(ctx, EventSuperseded, cancelled, "")
		}
	}
	return nil
}

func (m *Manager) deliver(ctx context.Context, s *domain.Session, code string) error {
	if code == "" || m.sender == nil {
		return nil
	}
	err := m.sender.Send(ctx, delivery.Message{
		SessionID: s.ID,
		UserID:    s.UserID,
		Method:    s.Method,
		Code:      code,
		ExpiresAt: s.ExpiresAt,
	})
	if err != nil {
		m.log.Warn("mfa code delivery failed", zap.String("session_id", s.ID), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	return nil
}

func (m *Manager) closeUndelivered(ctx context.Context, id string) {
	_, err := m.update(ctx, id, func(s *domain.Session, now time.Time) (bool, error) {
		if !s.Status.Open() {
			return false, nil
		}
		return true, s.Transition(domain.StatusCancelled, now)
	})
	if err != nil {
		m.log.Warn("cancel undelivered session", zap.String("session_id", id), zap.Error(err))
	}
}

// update applies fn to the stored session and writes it back with
// compare-and-swap, re-reading and retrying once on conflict. fn returns
// false to leave the session untouched. The returned session is the stored state.
func (m *Manager) update(ctx context.Context, id string, fn func(s *domain.Session, now time.Time) (bool, error)) (*domain.Session, error) {
	for range 2 {
		s, err := m.sessions.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if s == nil {
			return nil, ErrSessionNotFound
		}
		expected := s.Version
		changed, err := fn(s, m.clock.Now())
		if err != nil {
			return nil, err
		}
		if !changed {
			return s, nil
		}
		ok, err := m.sessions.CompareAndSwap(ctx, s, expected)
		if err != nil {
			return nil, err
		}
		if ok {
			return s, nil
		}
		m.log.Debug("mfa session version conflict", zap.String("session_id", id), zap.Int64("version", expected))
	}
	return nil, ErrConcurrentUpdate
}

// Cancel moves an open session to CANCELLED. Cancelling a terminal session is a no-op.
func (m *Manager) Cancel(ctx context.Context, sessionID string) (*domain.Session, error) {
	var changed bool
	s, err := m.update(ctx, sessionID, func(s *domain.Session, now time.Time) (bool, error) {
		changed = s.Status.Open()
		if !changed {
			return false, nil
		}
		return true, s.Transition(domain.StatusCancelled, now)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		m.log.Info("mfa session cancelled", zap.String("session_id", s.ID))
		m.count(ctx, "cancelled")
		m.notify(ctx, EventCancelled, s, "")
	}
	return s, nil
}

// ResendCode issues a fresh code within an open session. The session id and
// attempt counter are kept; a FAILED session returns to PENDING. A session
// found expired is moved to EXPIRED and ErrSessionClosed is returned with it.
func (m *Manager) ResendCode(ctx context.Context, sessionID string) (*domain.Session, error) {
	var (
		code    string
		expired bool
	)
	s, err := m.update(ctx, sessionID, func(s *domain.Session, now time.Time) (bool, error) {
		code, expired = "", false
		if s.Status.Terminal() {
			return false, nil
		}
		if s.Expired(now) {
			expired = true
			return true, s.Transition(domain.StatusExpired, now)
		}
		issuer, ok := m.issuers[s.Method]
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrUnsupported, s.Method)
		}
		validity := s.ExpiresAt.Sub(s.GeneratedAt)
		if validity <= 0 {
			validity = m.cfg.CodeTTL
		}
		c, hash, err := issuer.Issue(ctx, s)
		if err != nil {
			return false, err
		}
		code = c
		s.CodeHash = hash
		s.GeneratedAt = now
		s.ExpiresAt = now.Add(validity)
		s.UpdatedAt = now
		if s.Status == domain.StatusFailed {
			return true, s.Transition(domain.StatusPending, now)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		m.count(ctx, string(OutcomeExpired))
		m.notify(ctx, EventVerify, s, OutcomeExpired)
		return s, ErrSessionClosed
	}
	if s.Status.Terminal() {
		return s, ErrSessionClosed
	}
	if err := m.deliver(ctx, s, code); err != nil {
		return s, err
	}
	m.notify(ctx, EventResent, s, "")
	return s, nil
}

// Get returns the session or ErrSessionNotFound.
func (m *Manager) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	s, err := m.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// IsVerified reports whether any session of the login reached VERIFIED.
func (m *Manager) IsVerified(ctx context.Context, userID, loginSessionID string) (bool, error) {
	list, err := m.sessions.ListByLogin(ctx, userID, loginSessionID)
	if err != nil {
		return false, err
	}
	for _, s := range list {
		if s.Status == domain.StatusVerified {
			return true, nil
		}
	}
	return false, nil
}

func (m *Manager) count(ctx context.Context, outcome string) {
	if m.outcomes == nil {
		return
	}
	m.outcomes.Add(ctx, 1, metric.WithAttributes(outcomeAttr(outcome)))
}
