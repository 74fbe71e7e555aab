// Package engine implements the Validation Engine: it runs the
// registered validator plug-ins against a context in priority order,
// applies the merged policy's enforcement level to each validator's
// findings, deduplicates overlapping findings by domain priority, and
// folds validator-internal failures into fail-open synthetic decisions
// rather than ever panicking the run.
package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/failcore/core/pkg/contracts"
)

// Validator is the plug-in interface every validator family implements
// (security, dlp, semantic, taint_flow, sanitize, effects, contract,
// exprrules, drift).
type Validator interface {
	ID() string
	Domain() contracts.Domain
	Validate(ctx context.Context, rc *contracts.ContextV1, cfg contracts.ValidatorConfig) ([]contracts.DecisionV1, error)
}

// Engine holds the registered validators and evaluates them against a
// merged policy.
type Engine struct {
	mu         sync.RWMutex
	validators map[string]Validator
}

// New constructs an empty Engine.
func New() *Engine {
	return &Engine{validators: make(map[string]Validator)}
}

// Register adds v to the engine, keyed by its ID. Registering a second
// validator under the same ID replaces the first.
func (e *Engine) Register(v Validator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.validators[v.ID()] = v
}

// Result is the outcome of one Evaluate call.
type Result struct {
	Decisions []contracts.DecisionV1
	Final     contracts.DecisionV1 // highest-weight surviving decision; ALLOW if none
}

// Evaluate runs every enabled validator named in policy, in
// (priority asc, domain asc, id asc) order, folds internal errors into
// fail-open INTERNAL_ERROR decisions, deduplicates overlapping findings,
// and returns the merged result.
func (e *Engine) Evaluate(ctx context.Context, rc *contracts.ContextV1, policy map[string]contracts.ValidatorConfig) Result {
	e.mu.RLock()
	ordered := e.orderedValidators(policy)
	e.mu.RUnlock()

	var all []contracts.DecisionV1
	for _, v := range ordered {
		cfg := policy[v.ID()]
		if !cfg.Enabled {
			continue
		}
		decisions, err := e.runOne(ctx, v, rc, cfg)
		if err != nil {
			d := contracts.InternalError(err.Error())
			d.Tags = append(d.Tags, "validator:"+v.ID())
			all = append(all, d)
			continue
		}
		for i := range decisions {
			applyEnforcement(&decisions[i], cfg)
		}
		all = append(all, decisions...)
	}

	deduped := dedupe(all)
	return Result{Decisions: deduped, Final: finalOf(deduped)}
}

// runOne isolates a validator call so a panicking plug-in degrades to a
// fail-open internal error instead of taking down the run.
func (e *Engine) runOne(ctx context.Context, v Validator, rc *contracts.ContextV1, cfg contracts.ValidatorConfig) (decisions []contracts.DecisionV1, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{v: v.ID(), recovered: r}
		}
	}()
	return v.Validate(ctx, rc, cfg)
}

type panicError struct {
	v         string
	recovered any
}

func (p panicError) Error() string {
	return "validator " + p.v + " panicked"
}

// applyEnforcement rewrites d's effective decision strength to at most
// cfg.Enforcement allows: SHADOW tags the finding "shadow" and rewrites its
// decision to WARN, so a shadow finding never blocks; WARN caps BLOCK down
// to WARN.
func applyEnforcement(d *contracts.DecisionV1, cfg contracts.ValidatorConfig) {
	switch cfg.Enforcement {
	case contracts.EnforcementShadow:
		d.Tags = append(d.Tags, "shadow")
		d.Decision = contracts.DecisionWarn
		if d.Decision.Weight() > contracts.DecisionWarn.Weight() {
			d.Decision = contracts.DecisionWarn
		}
	case contracts.EnforcementWarn:
		if d.Decision.Weight() > contracts.DecisionWarn.Weight() {
			d.Decision = contracts.DecisionWarn
		}
	case contracts.EnforcementBlock:
		// no cap
	}
}

func (e *Engine) orderedValidators(policy map[string]contracts.ValidatorConfig) []Validator {
	var out []Validator
	for id := range policy {
		if v, ok := e.validators[id]; ok {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ci, cj := policy[out[i].ID()], policy[out[j].ID()]
		if ci.Priority != cj.Priority {
			return ci.Priority < cj.Priority
		}
		if ci.Domain != cj.Domain {
			return ci.Domain < cj.Domain
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

// dedupeKey returns the suppression key for d and whether d participates in
// dedup at all. A decision carrying a FindingClass collapses with any other
// decision sharing that class and the same matched parameter (evidence key
// "param") regardless of domain or Code — this is what lets two different
// validator domains (e.g. security's DANGEROUS_COMBO and semantic's
// SEMANTIC_VIOLATION) collapse onto one surviving finding. Decisions with no
// FindingClass fall back to exact Code equality, the old behaviour.
func dedupeKey(d contracts.DecisionV1) (string, bool) {
	if d.FindingClass != "" {
		param, _ := d.Evidence["param"].(string)
		return "class:" + d.FindingClass + "|" + param, true
	}
	if d.Code == "" {
		return "", false
	}
	return "code:" + d.Code, true
}

// dedupe collapses decisions that share a dedupeKey, keeping the one whose
// domain has the highest DomainPriority (ties broken by highest
// Decision.Weight()). Every suppressed decision is retained with
// SuppressedBy/SuppressionReason set, never silently dropped, and the
// surviving decision records every code it suppressed under the
// "suppressed_codes" evidence key (dedup soundness: the loser's code must be
// recoverable from the winner's evidence).
func dedupe(decisions []contracts.DecisionV1) []contracts.DecisionV1 {
	keys := make([]string, len(decisions))
	bestIdx := make(map[string]int)
	for i, d := range decisions {
		key, ok := dedupeKey(d)
		keys[i] = key
		if !ok {
			continue
		}
		cur, exists := bestIdx[key]
		if !exists {
			bestIdx[key] = i
			continue
		}
		if outranks(decisions[i], decisions[cur]) {
			bestIdx[key] = i
		}
	}

	winners := make(map[int]bool, len(bestIdx))
	for _, i := range bestIdx {
		winners[i] = true
	}

	suppressedCodes := make(map[int][]string)
	for i, d := range decisions {
		if keys[i] == "" || winners[i] || d.Code == "" {
			continue
		}
		winnerIdx := bestIdx[keys[i]]
		suppressedCodes[winnerIdx] = append(suppressedCodes[winnerIdx], d.Code)
	}

	out := make([]contracts.DecisionV1, 0, len(decisions))
	for i, d := range decisions {
		if keys[i] == "" || winners[i] {
			if codes := suppressedCodes[i]; len(codes) > 0 {
				if d.Evidence == nil {
					d.Evidence = make(map[string]any, 1)
				}
				d.Evidence["suppressed_codes"] = codes
			}
			out = append(out, d)
			continue
		}
		winnerIdx := bestIdx[keys[i]]
		d.Suppress(decisions[winnerIdx].Code, "duplicate_domain_lower_priority")
		out = append(out, d)
	}
	return out
}

func outranks(a, b contracts.DecisionV1) bool {
	pa, pb := contracts.DomainPriority[a.Domain], contracts.DomainPriority[b.Domain]
	if pa != pb {
		return pa > pb
	}
	return a.Decision.Weight() > b.Decision.Weight()
}

// finalOf returns the highest-weight non-suppressed decision, or an
// implicit ALLOW if none exists.
func finalOf(decisions []contracts.DecisionV1) contracts.DecisionV1 {
	best := contracts.DecisionV1{Decision: contracts.DecisionAllow, Code: "OK", Domain: contracts.DomainOther}
	for _, d := range decisions {
		if d.SuppressedBy != "" {
			continue
		}
		if d.Decision.Weight() > best.Decision.Weight() {
			best = d
		}
	}
	return best
}
