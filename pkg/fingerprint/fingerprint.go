// Package fingerprint computes the replay fingerprint: the deterministic
// hash that identifies a single step's call shape for replay-cache
// lookups, independent of wall-clock time or any other non-reproducible
// input.
package fingerprint

import (
	"fmt"

	"github.com/failcore/core/pkg/canonicalize"
)

// Components are the named inputs that feed a fingerprint, in the fixed
// order the hash commits to. Every component must be independently
// recomputable by a caller who only has the original ContextV1 and the
// bound policy hash — no hidden state.
type Components struct {
	Tool       string
	Params     map[string]any
	PolicyHash string
	RulesHash  string
}

// Fingerprint is the result of Compute: the hash plus the ordered
// component names that were folded into it, suitable for embedding in a
// FINGERPRINT_COMPUTED trace event.
type Fingerprint struct {
	Hash       string
	Components []string
}

// Compute derives a single step's replay fingerprint from its call shape
// and the policy/rules versions that governed it. Two calls with
// identical tool, params, policy hash, and rules hash always produce the
// identical fingerprint; any difference in any component changes it.
func Compute(c Components) (Fingerprint, error) {
	ordered := []string{"tool", "params", "policy_hash", "rules_hash"}
	payload := map[string]any{
		"tool":        c.Tool,
		"params":      c.Params,
		"policy_hash": c.PolicyHash,
		"rules_hash":  c.RulesHash,
	}
	hash, err := canonicalize.CanonicalHash(payload)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("fingerprint: failed to canonicalize components: %w", err)
	}
	return Fingerprint{Hash: hash, Components: ordered}, nil
}
