// Package domain holds stored MFA requirement policies and their tunables.
package domain

import "time"

// Policy is a Rego module in package trustlayer.mfa. Enabled policies replace
// the built-in default.
type Policy struct {
	ID        string
	Name      string
	Rules     string
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Settings are the deployment-wide knobs passed to policies as input.settings.
type Settings struct {
	RequireAlways       bool    `mapstructure:"require_always"`
	RequireForNewDevice bool    `mapstructure:"require_for_new_device"`
	RiskThreshold       float64 `mapstructure:"risk_threshold"`
	RememberAfterMFA    bool    `mapstructure:"remember_after_mfa"`
	RememberTTLDays     int     `mapstructure:"remember_ttl_days"`
}

// DefaultSettings challenges unknown devices and risky logins and remembers
// devices for 30 days.
func DefaultSettings() Settings {
	return Settings{
		RequireForNewDevice: true,
		RiskThreshold:       0.7,
		RememberAfterMFA:    true,
		RememberTTLDays:     30,
	}
}
