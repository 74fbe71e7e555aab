// Package semantic implements the semantic-intent validator: it runs the
// rules registry's semantic detector expressions (CEL boolean
// expressions over the flattened text of a call) and reports matches as
// SEMANTIC_VIOLATION findings.
package semantic

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/failcore/core/pkg/contracts"
	"github.com/failcore/core/pkg/parsers"
	"github.com/failcore/core/pkg/rules"
)

// Validator evaluates registry semantic rules against a call's flattened
// text.
type Validator struct {
	id          string
	registry    *rules.Registry
	minSeverity int

	mu       sync.RWMutex
	env      *cel.Env
	prgCache map[string]cel.Program
}

// New builds a semantic Validator backed by registry.
func New(id string, registry *rules.Registry, minSeverity int) (*Validator, error) {
	env, err := cel.NewEnv(cel.Variable("text", cel.StringType))
	if err != nil {
		return nil, fmt.Errorf("semantic: failed to build CEL environment: %w", err)
	}
	return &Validator{id: id, registry: registry, minSeverity: minSeverity, env: env, prgCache: make(map[string]cel.Program)}, nil
}

func (v *Validator) ID() string               { return v.id }
func (v *Validator) Domain() contracts.Domain { return contracts.DomainSemantic }

// Validate flattens rc.Params into text leaves and runs every registry
// semantic rule's detector expression against each leaf.
func (v *Validator) Validate(ctx context.Context, rc *contracts.ContextV1, cfg contracts.ValidatorConfig) ([]contracts.DecisionV1, error) {
	_, semanticRules := v.registry.List(rules.Filter{MinSeverity: v.minSeverity})
	if len(semanticRules) == 0 {
		return nil, nil
	}

	leaves := parsers.ParsePayload(rc.Params).Strings
	var decisions []contracts.DecisionV1
	for _, leaf := range leaves {
		for _, rule := range semanticRules {
			matched, err := v.eval(rule.Detector, leaf)
			if err != nil {
				return nil, fmt.Errorf("semantic: rule %q: %w", rule.ID, err)
			}
			if !matched {
				continue
			}
			risk := contracts.RiskMedium
			if rule.Severity >= 8 {
				risk = contracts.RiskHigh
			}
			d := contracts.DecisionV1{
				Code:         contracts.CodeSemanticViolation,
				Decision:     contracts.DecisionWarn,
				RiskLevel:    risk,
				Domain:       contracts.DomainSemantic,
				Message:      fmt.Sprintf("matched semantic rule %q (%s)", rule.ID, rule.Category),
				Evidence:     map[string]any{"rule": rule.ID, "category": rule.Category, "param": leaf},
				FindingClass: findingClass(rule.Category),
			}
			if rule.Severity >= 8 {
				d.Decision = contracts.DecisionBlock
			}
			if v.registry.IsUntrusted(rule.ID) {
				d.Tags = append(d.Tags, "untrusted_pattern_source")
			}
			decisions = append(decisions, d)
		}
	}
	return decisions, nil
}

// findingClass normalises a rule's category into the cross-domain
// suppression key other validator families key their own findings on (see
// contracts.FindingClass*). Categories the engine doesn't recognise simply
// don't cross-domain-collapse with anything, which is safe — they still
// dedup amongst themselves via Code.
func findingClass(category string) string {
	switch category {
	case "dangerous_combo":
		return contracts.FindingClassDangerousCombo
	case "path_traversal":
		return contracts.FindingClassPathTraversal
	case "injection":
		return contracts.FindingClassInjection
	case "secret_leakage":
		return contracts.FindingClassSecretLeakage
	case "param_pollution":
		return contracts.FindingClassParamPollution
	default:
		return ""
	}
}

func (v *Validator) eval(expr, text string) (bool, error) {
	v.mu.RLock()
	prg, hit := v.prgCache[expr]
	v.mu.RUnlock()

	if !hit {
		v.mu.Lock()
		if prg, hit = v.prgCache[expr]; !hit {
			ast, issues := v.env.Compile(expr)
			if issues != nil && issues.Err() != nil {
				v.mu.Unlock()
				return false, fmt.Errorf("compile: %w", issues.Err())
			}
			p, err := v.env.Program(ast, cel.InterruptCheckFrequency(100), cel.CostLimit(10000))
			if err != nil {
				v.mu.Unlock()
				return false, fmt.Errorf("program: %w", err)
			}
			v.prgCache[expr] = p
			prg = p
		}
		v.mu.Unlock()
	}

	out, _, err := prg.Eval(map[string]any{"text": text})
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("detector %q did not evaluate to a bool", expr)
	}
	return result, nil
}
