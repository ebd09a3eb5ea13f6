package service

import (
	"context"

	devicedomain "trustlayer/internal/device/domain"
	"trustlayer/internal/policy/engine"
)

// ListDevices returns the user's remembered devices, including revoked and expired ones.
func (m *Manager) ListDevices(ctx context.Context, userID string) ([]*devicedomain.RememberedDevice, error) {
	return m.devices.ListByUser(ctx, userID)
}

// ForgetDevice revokes a remembered device so the next login is challenged.
func (m *Manager) ForgetDevice(ctx context.Context, userID, fingerprint string) (bool, error) {
	return m.devices.Revoke(ctx, userID, fingerprint, m.clock.Now())
}

// RequirementInput describes a login for Required.
type RequirementInput struct {
	UserID      string
	Fingerprint string
	RiskScore   float64
	HasPhone    bool
	HasTOTP     bool
}

// Required decides whether a login must complete MFA and whether a device
// should be remembered afterwards. Without a policy every login is challenged
// unless its device is remembered.
func (m *Manager) Required(ctx context.Context, in RequirementInput) (engine.MFAResult, error) {
	now := m.clock.Now()
	var dev *devicedomain.RememberedDevice
	if in.Fingerprint != "" {
		d, err := m.devices.Get(ctx, in.UserID, in.Fingerprint)
		if err != nil {
			return engine.MFAResult{}, err
		}
		dev = d
	}
	if m.policy == nil {
		return engine.MFAResult{
			MFARequired:     !dev.Active(now),
			RememberDevice:  true,
			RememberTTLDays: int(m.cfg.RememberTTL.Hours() / 24),
		}, nil
	}
	return m.policy.EvaluateMFA(ctx, engine.Input{
		UserID:           in.UserID,
		HasPhone:         in.HasPhone,
		HasTOTP:          in.HasTOTP,
		DeviceKnown:      dev != nil,
		DeviceRemembered: dev.Active(now),
		RiskScore:        in.RiskScore,
	})
}
