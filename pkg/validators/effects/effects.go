// Package effects implements the side-effect boundary validator: it
// classifies the effect(s) a tool call declares and checks them against
// the boundary preset resolved for the call's params.
package effects

import (
	"context"
	"fmt"

	"github.com/failcore/core/pkg/contracts"
)

// Classifier maps a tool name to the effect(s) it performs. Callers
// register tool -> effect types; a tool with no registered effect is
// treated as having no side effects.
type Classifier func(tool string, params map[string]any) []contracts.EffectType

// Config binds a boundary preset and the tool effect classifier.
type Config struct {
	Preset     contracts.BoundaryPreset
	Classifier Classifier
}

// Validator enforces the resolved boundary preset against classified
// effects.
type Validator struct {
	id  string
	cfg Config
}

// New constructs an effects Validator.
func New(id string, cfg Config) *Validator {
	return &Validator{id: id, cfg: cfg}
}

func (v *Validator) ID() string               { return v.id }
func (v *Validator) Domain() contracts.Domain { return contracts.DomainOther }

// Validate classifies rc's declared effects and blocks any effect type
// not permitted by the configured boundary preset.
func (v *Validator) Validate(ctx context.Context, rc *contracts.ContextV1, cfg contracts.ValidatorConfig) ([]contracts.DecisionV1, error) {
	if v.cfg.Classifier == nil {
		return nil, nil
	}
	allowed := contracts.ResolveBoundary(v.cfg.Preset)
	if allowed == nil {
		// boundary disabled (preset none) — nothing implicitly blocked
		return nil, nil
	}

	effectTypes := v.cfg.Classifier(rc.Tool, rc.Params)
	var decisions []contracts.DecisionV1
	for _, et := range effectTypes {
		if allowed[et] {
			continue
		}
		decisions = append(decisions, contracts.DecisionV1{
			Code:      contracts.CodeSideEffectBoundaryCrossed,
			Decision:  contracts.DecisionBlock,
			RiskLevel: contracts.RiskHigh,
			Domain:    contracts.DomainOther,
			Message:   fmt.Sprintf("effect %q not permitted under boundary preset %q", et, v.cfg.Preset),
			Evidence:  map[string]any{"effect": string(et), "category": string(et.Category()), "preset": string(v.cfg.Preset)},
		})
	}
	return decisions, nil
}
