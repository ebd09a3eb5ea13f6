package engine

import (
	"context"
	"time"
)

// Input describes one login for the MFA requirement policy.
type Input struct {
	UserID   string
	HasPhone bool
	HasTOTP  bool
	// DeviceKnown is true when the device was remembered at some point.
	DeviceKnown bool
	// DeviceRemembered is true when the device currently exempts the user.
	DeviceRemembered bool
	RiskScore        float64
}

// MFAResult holds the result of MFA requirement evaluation.
type MFAResult struct {
	MFARequired     bool
	RememberDevice  bool
	RememberTTLDays int
}

// RememberFor returns the remembered-device lifetime.
func (r MFAResult) RememberFor() time.Duration {
	return time.Duration(r.RememberTTLDays) * 24 * time.Hour
}

// Evaluator decides whether a login must complete MFA.
type Evaluator interface {
	EvaluateMFA(ctx context.Context, in Input) (MFAResult, error)
}
