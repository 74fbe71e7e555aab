// Package dlp implements the DLP guard validator: it scans tool call
// params and results for the sensitive-data patterns held in the rules
// registry, folds in the run's taint context to find the call's overall
// sensitivity, and resolves a decision strength off a fixed policy
// matrix. Scans are memoized through the scan cache so the same payload
// under the same taint state is never re-scanned within a run.
package dlp

import (
	"fmt"
	"regexp"
	"sync"

	"context"

	"github.com/failcore/core/pkg/contracts"
	"github.com/failcore/core/pkg/parsers"
	"github.com/failcore/core/pkg/rules"
	"github.com/failcore/core/pkg/scancache"
	"github.com/failcore/core/pkg/taint"
)

// Validator scans payload strings against the registry's sensitive
// patterns.
type Validator struct {
	id          string
	registry    *rules.Registry
	cache       *scancache.Cache
	minSeverity int

	mu       sync.Mutex
	compiled map[string]*regexp.Regexp
}

// New builds a dlp Validator backed by registry and cache. minSeverity
// filters out low-severity pattern matches (0 means no filtering).
func New(id string, registry *rules.Registry, cache *scancache.Cache, minSeverity int) *Validator {
	return &Validator{id: id, registry: registry, cache: cache, minSeverity: minSeverity, compiled: make(map[string]*regexp.Regexp)}
}

func (v *Validator) ID() string               { return v.id }
func (v *Validator) Domain() contracts.Domain { return contracts.DomainDLP }

func (v *Validator) pattern(p rules.SensitivePattern) (*regexp.Regexp, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if re, ok := v.compiled[p.Name]; ok {
		return re, nil
	}
	re, err := regexp.Compile(p.Pattern)
	if err != nil {
		return nil, fmt.Errorf("dlp: pattern %q failed to compile: %w", p.Name, err)
	}
	v.compiled[p.Name] = re
	return re, nil
}

// Validate flattens rc.Params and rc.Result into string leaves, scans
// each against the registry's patterns, and widens every match's
// effective sensitivity by whatever the run's taint context has already
// tagged (ctx.state.taint_context) before resolving a decision strength.
func (v *Validator) Validate(ctx context.Context, rc *contracts.ContextV1, cfg contracts.ValidatorConfig) ([]contracts.DecisionV1, error) {
	patterns, _ := v.registry.List(rules.Filter{MinSeverity: v.minSeverity})
	if len(patterns) == 0 {
		return nil, nil
	}

	leaves := parsers.ParsePayload(rc.Params).Strings
	leaves = append(leaves, parsers.ParsePayload(rc.Result).Strings...)

	taintMax := taintMaxFromState(rc.State)

	var decisions []contracts.DecisionV1
	for _, leaf := range leaves {
		hits, err := v.scanLeaf(leaf, patterns, taintMax)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, hits...)
	}
	return decisions, nil
}

// taintMaxFromState returns the highest sensitivity tagged anywhere in
// the run's taint context, or SensitivityPublic if no tracker is bound.
func taintMaxFromState(state map[string]any) contracts.Sensitivity {
	tracker, ok := taint.FromState(state)
	if !ok {
		return contracts.SensitivityPublic
	}
	all := tracker.All()
	paths := make([]string, 0, len(all))
	for p := range all {
		paths = append(paths, p)
	}
	return tracker.MaxSensitivityAcross(paths...)
}

func (v *Validator) scanLeaf(leaf string, patterns []rules.SensitivePattern, taintMax contracts.Sensitivity) ([]contracts.DecisionV1, error) {
	key := scancache.HashKey("dlp", leaf+"|"+string(taintMax))
	result, err := v.cache.GetOrScan(key, func() (any, error) {
		return v.scanLeafUncached(leaf, patterns, taintMax)
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return result.([]contracts.DecisionV1), nil
}

func (v *Validator) scanLeafUncached(leaf string, patterns []rules.SensitivePattern, taintMax contracts.Sensitivity) ([]contracts.DecisionV1, error) {
	var decisions []contracts.DecisionV1
	for _, p := range patterns {
		re, err := v.pattern(p)
		if err != nil {
			return nil, err
		}
		if !re.MatchString(leaf) {
			continue
		}

		sensitivity := contracts.MaxSensitivity(categorySensitivity(p.Category), taintMax)
		decision, autoSanitize := policyFor(sensitivity)
		if decision == contracts.DecisionAllow {
			continue
		}

		d := contracts.DecisionV1{
			Code:      contracts.CodeDataLeakPrevented,
			Decision:  decision,
			RiskLevel: riskFor(sensitivity),
			Domain:    contracts.DomainDLP,
			Message:   fmt.Sprintf("matched sensitive pattern %q (%s, max_sensitivity=%s)", p.Name, p.Category, sensitivity),
			Evidence:  map[string]any{"pattern": p.Name, "category": p.Category, "max_sensitivity": string(sensitivity), "param": leaf},
		}
		if autoSanitize {
			d.Evidence["auto_sanitize"] = true
			d.Tags = append(d.Tags, "auto_sanitize")
		}
		if v.registry.IsUntrusted(p.Name) {
			d.Tags = append(d.Tags, "untrusted_pattern_source")
		}
		decisions = append(decisions, d)
	}
	return decisions, nil
}

// categorySensitivity maps a registry pattern's category to the taint
// sensitivity scale so it can be combined with the run's tagged taint via
// contracts.MaxSensitivity.
func categorySensitivity(category string) contracts.Sensitivity {
	switch category {
	case "secret":
		return contracts.SensitivitySecret
	case "pii":
		return contracts.SensitivityPII
	case "confidential":
		return contracts.SensitivityConfidential
	case "internal_network":
		return contracts.SensitivityInternal
	default:
		return contracts.SensitivityPublic
	}
}

// policyFor resolves max_sensitivity to a decision strength and whether
// the gate should auto-sanitize the call's params rather than relying on
// the caller to retry with clean input:
//
//	secret       -> BLOCK
//	pii          -> BLOCK, auto-sanitize
//	confidential -> SANITIZE, auto-sanitize
//	internal     -> WARN
//	public       -> ALLOW (no finding emitted)
func policyFor(sensitivity contracts.Sensitivity) (decision contracts.Decision, autoSanitize bool) {
	switch sensitivity {
	case contracts.SensitivitySecret:
		return contracts.DecisionBlock, false
	case contracts.SensitivityPII:
		return contracts.DecisionBlock, true
	case contracts.SensitivityConfidential:
		return contracts.DecisionSanitize, true
	case contracts.SensitivityInternal:
		return contracts.DecisionWarn, false
	default:
		return contracts.DecisionAllow, false
	}
}

func riskFor(sensitivity contracts.Sensitivity) contracts.RiskLevel {
	switch sensitivity {
	case contracts.SensitivitySecret:
		return contracts.RiskCritical
	case contracts.SensitivityPII:
		return contracts.RiskHigh
	case contracts.SensitivityConfidential:
		return contracts.RiskMedium
	default:
		return contracts.RiskLow
	}
}
