package app

import (
	"context"
	"crypto"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trustlayer/internal/audit"
	auditdomain "trustlayer/internal/audit/domain"
	"trustlayer/internal/clock"
	"trustlayer/internal/config"
	dirrepo "trustlayer/internal/directory/repository"
	"trustlayer/internal/mfa"
	"trustlayer/internal/mfa/delivery"
	mfadomain "trustlayer/internal/mfa/domain"
	mfaservice "trustlayer/internal/mfa/service"
	"trustlayer/internal/permission/cache"
	permdomain "trustlayer/internal/permission/domain"
	"trustlayer/internal/permission/resolver"
	"trustlayer/internal/permission/usage"
	"trustlayer/internal/policy/engine"
	"trustlayer/internal/security"
)

// Core is the authorization, MFA and audit service set. Decisions made
// through Check and every MFA lifecycle event are recorded.
type Core struct {
	Resolver   *resolver.Resolver
	Decisions  *cache.Resolver
	Usage      *usage.Tracker
	MFA        *mfaservice.Manager
	Policy     *engine.OPAEvaluator
	Assertions *security.AssertionIssuer
	Recorder   *audit.Recorder
	// Outbox holds undelivered codes when MFA_DEV_OUTBOX is set.
	Outbox *delivery.Outbox
}

// NewCore wires the services over stores. Without JWT_PRIVATE_KEY no MFA
// assertions are issued.
func NewCore(cfg *config.Config, stores *Stores, rec *audit.Recorder, c clock.Clock, log *zap.Logger) (*Core, error) {
	core := &Core{Recorder: rec, Usage: usage.NewTracker(0)}

	core.Resolver = resolver.New(stores.Grants, stores.Directory,
		resolver.WithClock(c), resolver.WithLogger(log.Named("resolver")), resolver.WithUsage(core.Usage))
	stores.Grants.Subscribe(core.Resolver.SubjectChanged)
	core.Decisions = cache.New(core.Resolver, cfg.DecisionCacheSize, cfg.DecisionCacheTTL)

	core.Policy = engine.NewOPAEvaluator(stores.Policies, cfg.PolicySettings(), log.Named("policy"))

	if cfg.JWTPrivateKey != "" {
		key, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("app: jwt private key: %w", err)
		}
		var pub crypto.PublicKey
		if cfg.JWTPublicKey != "" {
			if pub, err = security.ParsePublicKey(cfg.JWTPublicKey); err != nil {
				return nil, fmt.Errorf("app: jwt public key: %w", err)
			}
		}
		if core.Assertions, err = security.NewAssertionIssuer(key, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.MFAAssertionTTL); err != nil {
			return nil, fmt.Errorf("app: assertion issuer: %w", err)
		}
	}

	router := delivery.NewRouter(contactFrom(stores.Directory))
	if cfg.MFADevOutbox {
		core.Outbox = delivery.NewOutbox(c)
		router.Handle(core.Outbox, mfadomain.MethodSMS, mfadomain.MethodEmail, mfadomain.MethodVoiceCall)
	} else if cfg.SMSLocalAPIKey != "" {
		router.Handle(delivery.NewSMSLocalClient(cfg.SMSLocalAPIKey, cfg.SMSLocalBaseURL, cfg.SMSLocalSender), mfadomain.MethodSMS)
	}

	otp := mfa.OTPIssuer{Digits: cfg.MFACodeDigits}
	opts := []mfaservice.Option{
		mfaservice.WithClock(c),
		mfaservice.WithLogger(log.Named("mfa")),
		mfaservice.WithConfig(cfg.MFAConfig()),
		mfaservice.WithIssuer(otp, mfadomain.MethodSMS, mfadomain.MethodEmail, mfadomain.MethodVoiceCall),
		mfaservice.WithIssuer(mfa.TOTPIssuer{Secrets: stores.Enrollments, Skew: 1, Now: c.Now}, mfadomain.MethodTOTP),
		mfaservice.WithIssuer(mfa.BackupCodeIssuer{Store: stores.Enrollments, Hasher: security.NewHasher(0), Now: c.Now}, mfadomain.MethodBackupCodes),
		mfaservice.WithSender(router),
		mfaservice.WithPolicy(core.Policy),
	}
	if core.Assertions != nil {
		opts = append(opts, mfaservice.WithAssertions(core.Assertions))
	}
	if rec != nil {
		opts = append(opts, mfaservice.WithObserver(rec.MFAObserver()))
	}
	core.MFA = mfaservice.New(stores.Sessions, stores.Devices, opts...)
	return core, nil
}

// Check resolves principalID's access through the decision cache and records
// the decision. A failed audit write fails the check.
func (c *Core) Check(ctx context.Context, principalID, resource, action string, required permdomain.AccessLevel, rc permdomain.RequestContext, ac auditdomain.Context) (bool, permdomain.Decision, error) {
	d, err := c.Decisions.Resolve(ctx, principalID, resource, action, rc)
	if err != nil {
		return false, d, err
	}
	if c.Recorder != nil {
		if _, err := c.Recorder.RecordDecision(ctx, d, &rc, ac); err != nil {
			return false, d, err
		}
	}
	return d.Allows(required), d, nil
}

// RecordUse consumes one use of the grant that allowed d.
func (c *Core) RecordUse(principalID string, d permdomain.Decision, r *permdomain.Restrictions, now time.Time) bool {
	if d.GrantID == "" {
		return true
	}
	return c.Usage.RecordUse(resolver.UsageKey(principalID, d.GrantID), r, now)
}

func contactFrom(dir dirrepo.Repository) delivery.Contact {
	return func(ctx context.Context, userID string, method mfadomain.Method) (string, error) {
		u, err := dir.GetUser(ctx, userID)
		if err != nil || u == nil {
			return "", err
		}
		if method == mfadomain.MethodEmail {
			return u.Email, nil
		}
		return u.Phone, nil
	}
}
