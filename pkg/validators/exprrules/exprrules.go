// Package exprrules implements the expression-rule validator: it
// compiles and caches CEL programs for arbitrary policy-authored boolean
// expressions over the tool call, and turns every expression that
// evaluates true into a DecisionV1.
package exprrules

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/failcore/core/pkg/contracts"
)

// Rule is one policy-authored expression rule.
type Rule struct {
	Code      string
	Message   string
	Decision  contracts.Decision
	RiskLevel contracts.RiskLevel
	Domain    contracts.Domain
	Expr      string
}

// Validator evaluates a fixed set of CEL expressions against the tool
// name, params, and result of each call.
type Validator struct {
	id    string
	rules []Rule

	mu       sync.RWMutex
	env      *cel.Env
	prgCache map[string]cel.Program
}

// New builds an exprrules Validator with id and rules, using tool/params/
// result as the CEL input variables.
func New(id string, rules []Rule) (*Validator, error) {
	env, err := cel.NewEnv(
		cel.Variable("tool", cel.StringType),
		cel.Variable("params", cel.DynType),
		cel.Variable("result", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("exprrules: failed to build CEL environment: %w", err)
	}
	return &Validator{id: id, rules: rules, env: env, prgCache: make(map[string]cel.Program)}, nil
}

func (v *Validator) ID() string               { return v.id }
func (v *Validator) Domain() contracts.Domain { return contracts.DomainContract }

// Validate evaluates every configured rule against rc, in declared order.
func (v *Validator) Validate(ctx context.Context, rc *contracts.ContextV1, cfg contracts.ValidatorConfig) ([]contracts.DecisionV1, error) {
	input := map[string]any{
		"tool":   rc.Tool,
		"params": rc.Params,
		"result": rc.Result,
	}

	var decisions []contracts.DecisionV1
	for _, rule := range v.rules {
		matched, err := v.eval(rule.Expr, input)
		if err != nil {
			return nil, fmt.Errorf("exprrules: rule %q: %w", rule.Code, err)
		}
		if !matched {
			continue
		}
		decisions = append(decisions, contracts.DecisionV1{
			Code:      contracts.NormalizeCode(rule.Domain, rule.Code),
			Decision:  rule.Decision,
			RiskLevel: rule.RiskLevel,
			Domain:    rule.Domain,
			Message:   rule.Message,
		})
	}
	return decisions, nil
}

func (v *Validator) eval(expr string, input map[string]any) (bool, error) {
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

	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression %q did not evaluate to a bool", expr)
	}
	return result, nil
}
