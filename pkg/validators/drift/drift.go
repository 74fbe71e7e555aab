// Package drift implements the contract-drift analyser: it compares a
// tool call's current fingerprint components against a previously
// recorded baseline for the same tool and flags a structural change
// (new/removed param keys, changed policy or rules version) without
// itself deciding whether that change is malicious.
package drift

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/failcore/core/pkg/contracts"
)

// Baseline is the recorded shape of a tool's params at the time it was
// first observed (or last accepted as a new baseline).
type Baseline struct {
	ParamKeys  []string
	PolicyHash string
	RulesHash  string
}

// Validator flags deviations from a recorded per-tool baseline. When
// AnalysisOnly is set, findings are WARN regardless of configured
// enforcement (mirrors the drift analyser's "never block on its own"
// stance) — set AnalysisOnly=false only once drift has been promoted to
// an enforced guard.
type Validator struct {
	id           string
	analysisOnly bool
	policyHash   func() string
	rulesHash    func() string

	mu         sync.Mutex
	baselines  map[string]Baseline
}

// New constructs a drift Validator. policyHash/rulesHash are called per
// evaluation to fetch the current bound versions.
func New(id string, analysisOnly bool, policyHash, rulesHash func() string) *Validator {
	return &Validator{
		id:           id,
		analysisOnly: analysisOnly,
		policyHash:   policyHash,
		rulesHash:    rulesHash,
		baselines:    make(map[string]Baseline),
	}
}

func (v *Validator) ID() string               { return v.id }
func (v *Validator) Domain() contracts.Domain { return contracts.DomainDrift }

// Validate compares rc against the recorded baseline for rc.Tool. The
// first call for a given tool always establishes the baseline and
// reports no drift.
func (v *Validator) Validate(ctx context.Context, rc *contracts.ContextV1, cfg contracts.ValidatorConfig) ([]contracts.DecisionV1, error) {
	keys := paramKeys(rc.Params)
	current := Baseline{ParamKeys: keys, PolicyHash: v.policyHash(), RulesHash: v.rulesHash()}

	v.mu.Lock()
	baseline, seen := v.baselines[rc.Tool]
	if !seen {
		v.baselines[rc.Tool] = current
	}
	v.mu.Unlock()

	if !seen {
		return nil, nil
	}

	added, removed := diffKeys(baseline.ParamKeys, current.ParamKeys)
	if len(added) == 0 && len(removed) == 0 && baseline.PolicyHash == current.PolicyHash && baseline.RulesHash == current.RulesHash {
		return nil, nil
	}

	decision := contracts.DecisionWarn
	if !v.analysisOnly {
		decision = contracts.DecisionBlock
	}

	return []contracts.DecisionV1{{
		Code:      contracts.CodePolicyDenied,
		Decision:  decision,
		RiskLevel: contracts.RiskMedium,
		Domain:    contracts.DomainDrift,
		Message:   fmt.Sprintf("tool %q contract drifted from its recorded baseline", rc.Tool),
		Evidence: map[string]any{
			"added_params":       added,
			"removed_params":     removed,
			"policy_hash_changed": baseline.PolicyHash != current.PolicyHash,
			"rules_hash_changed":  baseline.RulesHash != current.RulesHash,
		},
	}}, nil
}

func paramKeys(params map[string]any) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func diffKeys(baseline, current []string) (added, removed []string) {
	inBaseline := make(map[string]bool, len(baseline))
	for _, k := range baseline {
		inBaseline[k] = true
	}
	inCurrent := make(map[string]bool, len(current))
	for _, k := range current {
		inCurrent[k] = true
	}
	for _, k := range current {
		if !inBaseline[k] {
			added = append(added, k)
		}
	}
	for _, k := range baseline {
		if !inCurrent[k] {
			removed = append(removed, k)
		}
	}
	return added, removed
}
