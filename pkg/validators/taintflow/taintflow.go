// Package taintflow implements the taint-flow validator: it consults the
// run's taint tracker (stored in ContextV1.State) and raises a WARN for
// every tagged field above the validator's configured sensitivity
// ceiling.
package taintflow

import (
	"context"
	"fmt"

	"github.com/failcore/core/pkg/contracts"
	"github.com/failcore/core/pkg/taint"
)

// Config bounds the maximum sensitivity the validator lets through
// un-warned.
type Config struct {
	MaxAllowedSensitivity contracts.Sensitivity
}

// Validator checks tracked taint tags against the allowed ceiling.
type Validator struct {
	id  string
	cfg Config
}

// New constructs a taintflow Validator.
func New(id string, cfg Config) *Validator {
	return &Validator{id: id, cfg: cfg}
}

func (v *Validator) ID() string               { return v.id }
func (v *Validator) Domain() contracts.Domain { return contracts.DomainTaintFlow }

// Validate inspects every field path tagged under the run's tracker,
// whether or not it appears in rc.Params, and compares its sensitivity to
// the configured ceiling.
func (v *Validator) Validate(ctx context.Context, rc *contracts.ContextV1, cfg contracts.ValidatorConfig) ([]contracts.DecisionV1, error) {
	tracker, ok := taint.FromState(rc.State)
	if !ok {
		return nil, nil
	}

	tagged := tracker.All()
	ceiling := v.cfg.MaxAllowedSensitivity
	if ceiling == "" {
		ceiling = contracts.SensitivityConfidential
	}

	var decisions []contracts.DecisionV1
	for path, tag := range tagged {
		if contracts.SensitivityRank(tag.Sensitivity) <= contracts.SensitivityRank(ceiling) {
			continue
		}
		edges := tracker.FlowsInto(path)
		decisions = append(decisions, contracts.DecisionV1{
			Code:      contracts.CodeDataTainted,
			Decision:  contracts.DecisionWarn,
			RiskLevel: contracts.RiskHigh,
			Domain:    contracts.DomainTaintFlow,
			Message:   fmt.Sprintf("field %q carries %s-sensitivity taint above ceiling %s", path, tag.Sensitivity, ceiling),
			Evidence: map[string]any{
				"field_path": path,
				"source":     tag.Source,
				"flow_hops":  len(edges),
			},
		})
	}
	return decisions, nil
}
