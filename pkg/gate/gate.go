// Package gate implements the preflight and egress enforcement gate: the
// single chokepoint every tool call passes through before execution
// (preflight) and before its result is handed back to the model
// (egress). It is fail-closed — no bound policy means every call is
// blocked.
package gate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/failcore/core/pkg/contracts"
	"github.com/failcore/core/pkg/engine"
)

// Gate is the kernel-level enforcement boundary. It holds the active
// policy layers and the validation engine, and resolves every call to a
// single verdict.
type Gate struct {
	mu     sync.RWMutex
	layers contracts.PolicyLayers
	bound  bool
	eng    *engine.Engine
	clock  func() time.Time
}

// New constructs an unbound Gate around eng. CheckPreflight/CheckEgress
// refuse everything until Bind is called.
func New(eng *engine.Engine) *Gate {
	return &Gate{eng: eng, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (g *Gate) WithClock(clock func() time.Time) *Gate {
	g.clock = clock
	return g
}

// Bind validates and activates a policy layer set. Fail-closed: if the
// layers do not merge cleanly, the gate remains unbound (or keeps its
// previously bound layers).
func (g *Gate) Bind(layers contracts.PolicyLayers) error {
	if _, _, err := layers.Merge(g.clock()); err != nil {
		return fmt.Errorf("gate: refusing to bind invalid policy: %w", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.layers = layers
	g.bound = true
	return nil
}

// Unbind returns the gate to its fail-closed state.
func (g *Gate) Unbind() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bound = false
	g.layers = contracts.PolicyLayers{}
}

// Verdict is the resolved outcome of a gate check, carrying every
// decision produced (for trace/evidence) alongside the single
// caller-visible verdict.
type Verdict struct {
	Decision        contracts.Decision
	FinalDecision   contracts.DecisionV1
	Decisions       []contracts.DecisionV1
	BreakglassUsed  []contracts.BreakglassAudit
}

// ErrNotBound is returned by CheckPreflight/CheckEgress when no policy
// has been bound.
var ErrNotBound = fmt.Errorf("gate: no policy bound, fail-closed")

// CheckPreflight evaluates rc before the tool executes.
func (g *Gate) CheckPreflight(ctx context.Context, rc *contracts.ContextV1) (Verdict, error) {
	return g.check(ctx, rc)
}

// CheckEgress evaluates rc (now carrying Result) after the tool executes
// but before its output reaches the model.
func (g *Gate) CheckEgress(ctx context.Context, rc *contracts.ContextV1) (Verdict, error) {
	return g.check(ctx, rc)
}

func (g *Gate) check(ctx context.Context, rc *contracts.ContextV1) (Verdict, error) {
	g.mu.RLock()
	bound := g.bound
	layers := g.layers
	g.mu.RUnlock()

	if !bound {
		return Verdict{
			Decision: contracts.DecisionBlock,
			FinalDecision: contracts.DecisionV1{
				Code:      contracts.CodePolicyDenied,
				Decision:  contracts.DecisionBlock,
				RiskLevel: contracts.RiskCritical,
				Domain:    contracts.DomainOther,
				Message:   "no policy bound",
			},
		}, ErrNotBound
	}

	if err := rc.Validate(); err != nil {
		return Verdict{
			Decision: contracts.DecisionBlock,
			FinalDecision: contracts.DecisionV1{
				Code:      contracts.CodeInvalidArgument,
				Decision:  contracts.DecisionBlock,
				RiskLevel: contracts.RiskHigh,
				Domain:    contracts.DomainOther,
				Message:   err.Error(),
			},
		}, nil
	}

	merged, audits, err := layers.Merge(g.clock())
	if err != nil {
		return Verdict{
			Decision: contracts.DecisionBlock,
			FinalDecision: contracts.DecisionV1{
				Code:      contracts.CodePolicyDenied,
				Decision:  contracts.DecisionBlock,
				RiskLevel: contracts.RiskCritical,
				Domain:    contracts.DomainOther,
				Message:   "policy merge failed: " + err.Error(),
			},
		}, nil
	}

	res := g.eng.Evaluate(ctx, rc, merged)
	return Verdict{
		Decision:       res.Final.Decision,
		FinalDecision:  res.Final,
		Decisions:      res.Decisions,
		BreakglassUsed: audits,
	}, nil
}
