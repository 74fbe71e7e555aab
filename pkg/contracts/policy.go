package contracts

import (
	"fmt"
	"time"
)

// Enforcement is how strongly a validator's findings are applied.
type Enforcement string

const (
	EnforcementBlock  Enforcement = "BLOCK"
	EnforcementWarn   Enforcement = "WARN"
	EnforcementShadow Enforcement = "SHADOW"
)

// ValidatorConfig is one entry of a policy's validator map.
type ValidatorConfig struct {
	ID           string         `json:"id" yaml:"id"`
	Enabled      bool           `json:"enabled" yaml:"enabled"`
	Enforcement  Enforcement    `json:"enforcement" yaml:"enforcement"`
	Domain       Domain         `json:"domain" yaml:"domain"`
	Priority     int            `json:"priority" yaml:"priority"` // lower runs earlier
	Config       map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	Exceptions   []Exception    `json:"exceptions,omitempty" yaml:"exceptions,omitempty"`
	AllowOverride bool          `json:"allow_override" yaml:"allow_override"`
}

// Exception is a breakglass-style carve-out that always carries an
// expiry; an exception without an active expiry is never honoured.
type Exception struct {
	Reason    string    `json:"reason" yaml:"reason"`
	ExpiresAt time.Time `json:"expires_at" yaml:"expires_at"`
	Scope     string    `json:"scope,omitempty" yaml:"scope,omitempty"`
}

// Active returns whether the exception is in force at ts. An exception
// with a zero ExpiresAt is treated as already expired — breakglass
// exceptions are never open-ended.
func (e Exception) Active(ts time.Time) bool {
	if e.ExpiresAt.IsZero() {
		return false
	}
	return ts.Before(e.ExpiresAt)
}

// OverrideSettings governs breakglass activation for a policy.
type OverrideSettings struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	RequireToken bool          `json:"require_token" yaml:"require_token"`
	AuditTTL     time.Duration `json:"audit_ttl,omitempty" yaml:"audit_ttl,omitempty"`
}

// PolicyMetadata is descriptive only; it never affects enforcement.
type PolicyMetadata struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Policy is one layer (active, shadow, or breakglass) of validator
// configuration. A complete Policy document always has an Active layer;
// Shadow and Breakglass are optional overlays merged on top of it.
type Policy struct {
	Version    string                     `json:"version" yaml:"version"`
	Validators map[string]ValidatorConfig `json:"validators" yaml:"validators"`
	Override   OverrideSettings           `json:"override,omitempty" yaml:"override,omitempty"`
	Metadata   PolicyMetadata             `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// PolicyLayers bundles the three-layer policy model (§3.3) a run resolves
// once at RUN_START.
type PolicyLayers struct {
	Active     Policy  `json:"active"`
	Shadow     *Policy `json:"shadow,omitempty"`
	Breakglass *Policy `json:"breakglass,omitempty"`
}

// BreakglassAudit is the audit entry a breakglass activation must record.
type BreakglassAudit struct {
	EnabledAt          time.Time `json:"enabled_at"`
	EnabledBy          string    `json:"enabled_by"`
	Reason             string    `json:"reason"`
	ExpiresAt          time.Time `json:"expires_at"`
	TokenUsed          string    `json:"token_used,omitempty"`
	AffectedValidators []string  `json:"affected_validators"`
	AffectedDecisions  []string  `json:"affected_decisions,omitempty"`
}

// Merge produces the effective per-validator configuration for a run by
// applying active -> shadow -> breakglass in order (§3.3/§4.7 step 5).
// Shadow may only downgrade enforcement to SHADOW; it can never add a
// validator absent from active. Breakglass may only weaken: add
// exceptions, or downgrade enforcement, and only while at least one of its
// exceptions is active at evalTime; it can never add a validator or raise
// enforcement above what active declares.
func (p PolicyLayers) Merge(evalTime time.Time) (map[string]ValidatorConfig, []BreakglassAudit, error) {
	merged := make(map[string]ValidatorConfig, len(p.Active.Validators))
	for id, cfg := range p.Active.Validators {
		merged[id] = cfg
	}

	if p.Shadow != nil {
		for id, shadowCfg := range p.Shadow.Validators {
			base, ok := merged[id]
			if !ok {
				return nil, nil, fmt.Errorf("contracts: shadow policy declares validator %q not present in active policy", id)
			}
			base.Enforcement = EnforcementShadow
			if len(shadowCfg.Exceptions) > 0 {
				base.Exceptions = append(append([]Exception{}, base.Exceptions...), shadowCfg.Exceptions...)
			}
			merged[id] = base
		}
	}

	var audits []BreakglassAudit
	if p.Breakglass != nil {
		for id, bgCfg := range p.Breakglass.Validators {
			base, ok := merged[id]
			if !ok {
				return nil, nil, fmt.Errorf("contracts: breakglass policy declares validator %q not present in active policy", id)
			}

			var activeExceptions []Exception
			for _, exc := range bgCfg.Exceptions {
				if !exc.Active(evalTime) {
					continue
				}
				activeExceptions = append(activeExceptions, exc)
			}
			if len(activeExceptions) == 0 {
				// No active exception: breakglass has no effect on this
				// validator for this evaluation.
				continue
			}

			if weaker(bgCfg.Enforcement, base.Enforcement) {
				base.Enforcement = bgCfg.Enforcement
			}
			base.Exceptions = append(append([]Exception{}, base.Exceptions...), activeExceptions...)
			merged[id] = base

			for _, exc := range activeExceptions {
				audits = append(audits, BreakglassAudit{
					EnabledAt:          evalTime,
					Reason:             exc.Reason,
					ExpiresAt:          exc.ExpiresAt,
					AffectedValidators: []string{id},
				})
			}
		}
	}

	return merged, audits, nil
}

// weaker reports whether candidate is a strictly weaker enforcement than
// current (BLOCK > WARN > SHADOW), the only direction breakglass may move.
func weaker(candidate, current Enforcement) bool {
	rank := map[Enforcement]int{EnforcementBlock: 2, EnforcementWarn: 1, EnforcementShadow: 0}
	return rank[candidate] < rank[current]
}
