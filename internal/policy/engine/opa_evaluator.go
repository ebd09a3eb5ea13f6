package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"

	"trustlayer/internal/policy/domain"
	"trustlayer/internal/policy/repository"
)

const policyQuery = "data.trustlayer.mfa"

// DefaultRegoPolicy is used when no stored policy is enabled.
const DefaultRegoPolicy = `package trustlayer.mfa

default mfa_required := false
default remember_device_after_mfa := true
default remember_ttl_days := 30

mfa_required if {
	input.settings.require_always
}

mfa_required if {
	not input.device.remembered
	input.settings.require_for_new_device
}

mfa_required if {
	input.settings.risk_threshold > 0
	input.risk_score >= input.settings.risk_threshold
}

remember_device_after_mfa := input.settings.remember_after_mfa if {
	is_boolean(input.settings.remember_after_mfa)
}

remember_ttl_days := input.settings.remember_ttl_days if {
	input.settings.remember_ttl_days > 0
}
`

// OPAEvaluator evaluates the MFA requirement policy with OPA Rego.
type OPAEvaluator struct {
	policyRepo repository.Repository
	settings   domain.Settings
	log        *zap.Logger
}

// NewOPAEvaluator returns an OPA-based policy evaluator. A nil repo always
// uses DefaultRegoPolicy.
func NewOPAEvaluator(policyRepo repository.Repository, settings domain.Settings, log *zap.Logger) *OPAEvaluator {
	if log == nil {
		log = zap.NewNop()
	}
	return &OPAEvaluator{policyRepo: policyRepo, settings: settings, log: log}
}

// HealthCheck verifies that the default policy compiles and evaluates.
// It does not touch the policy repository.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	_, err := e.evaluatePolicies(ctx, []string{DefaultRegoPolicy}, e.buildInput(Input{}))
	return err
}

// Validate compiles rules on their own, for use before storing a policy.
func Validate(rules string) error {
	_, err := ast.CompileModules(map[string]string{"policy_0.rego": rules})
	return err
}

// EvaluateMFA evaluates the enabled policies against in. When evaluation
// fails the result requires MFA.
func (e *OPAEvaluator) EvaluateMFA(ctx context.Context, in Input) (MFAResult, error) {
	var policies []string
	if e.policyRepo != nil {
		enabled, err := e.policyRepo.ListEnabled(ctx)
		if err != nil {
			e.log.Warn("policy: load enabled policies", zap.Error(err))
		}
		for _, p := range enabled {
			if p.Enabled && p.Rules != "" {
				policies = append(policies, p.Rules)
			}
		}
	}
	if len(policies) == 0 {
		policies = []string{DefaultRegoPolicy}
	}

	result, err := e.evaluatePolicies(ctx, policies, e.buildInput(in))
	if err != nil {
		e.log.Warn("policy: evaluation failed, requiring mfa", zap.String("user_id", in.UserID), zap.Error(err))
		return e.failClosed(), nil
	}
	return result, nil
}

func (e *OPAEvaluator) buildInput(in Input) map[string]any {
	return map[string]any{
		"settings": map[string]any{
			"require_always":         e.settings.RequireAlways,
			"require_for_new_device": e.settings.RequireForNewDevice,
			"risk_threshold":         e.settings.RiskThreshold,
			"remember_after_mfa":     e.settings.RememberAfterMFA,
			"remember_ttl_days":      e.settings.RememberTTLDays,
		},
		"user": map[string]any{
			"id":        in.UserID,
			"has_phone": in.HasPhone,
			"has_totp":  in.HasTOTP,
		},
		"device": map[string]any{
			"known":      in.DeviceKnown,
			"remembered": in.DeviceRemembered,
		},
		"risk_score": in.RiskScore,
	}
}

func (e *OPAEvaluator) evaluatePolicies(ctx context.Context, policies []string, input map[string]any) (MFAResult, error) {
	modules := make(map[string]string, len(policies))
	for i, p := range policies {
		modules[fmt.Sprintf("policy_%d.rego", i)] = p
	}
	compiler, err := ast.CompileModules(modules)
	if err != nil {
		return MFAResult{}, fmt.Errorf("compile policies: %w", err)
	}

	rs, err := rego.New(
		rego.Query(policyQuery),
		rego.Compiler(compiler),
		rego.Input(input),
	).Eval(ctx)
	if err != nil {
		return MFAResult{}, fmt.Errorf("eval policies: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return MFAResult{}, fmt.Errorf("policy query returned no result")
	}
	doc, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return MFAResult{}, fmt.Errorf("policy document has type %T", rs[0].Expressions[0].Value)
	}

	out := MFAResult{RememberDevice: true, RememberTTLDays: 30}
	if v, ok := doc["mfa_required"].(bool); ok {
		out.MFARequired = v
	}
	if v, ok := doc["remember_device_after_mfa"].(bool); ok {
		out.RememberDevice = v
	}
	if days := intValue(doc["remember_ttl_days"]); days > 0 {
		out.RememberTTLDays = days
	}
	return out, nil
}

func intValue(v any) int {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
	case float64:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	}
	return 0
}

func (e *OPAEvaluator) failClosed() MFAResult {
	ttl := e.settings.RememberTTLDays
	if ttl <= 0 {
		ttl = 30
	}
	return MFAResult{MFARequired: true, RememberDevice: false, RememberTTLDays: ttl}
}
