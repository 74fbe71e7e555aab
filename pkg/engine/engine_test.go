package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/failcore/core/pkg/contracts"
	"github.com/failcore/core/pkg/rules"
	"github.com/failcore/core/pkg/validators/security"
	"github.com/failcore/core/pkg/validators/semantic"
)

type fakeValidator struct {
	id      string
	domain  contracts.Domain
	decide  func() ([]contracts.DecisionV1, error)
}

func (f *fakeValidator) ID() string               { return f.id }
func (f *fakeValidator) Domain() contracts.Domain { return f.domain }
func (f *fakeValidator) Validate(ctx context.Context, rc *contracts.ContextV1, cfg contracts.ValidatorConfig) ([]contracts.DecisionV1, error) {
	return f.decide()
}

func testCtx() *contracts.ContextV1 {
	return &contracts.ContextV1{
		Tool:     "write_file",
		Params:   map[string]any{"path": "./a.txt"},
		Metadata: contracts.ContextMetadata{Timestamp: time.Now()},
	}
}

func TestEvaluateAllowsWhenNoValidatorsFire(t *testing.T) {
	e := New()
	e.Register(&fakeValidator{id: "security", domain: contracts.DomainSecurity, decide: func() ([]contracts.DecisionV1, error) {
		return nil, nil
	}})
	policy := map[string]contracts.ValidatorConfig{
		"security": {ID: "security", Enabled: true, Enforcement: contracts.EnforcementBlock, Domain: contracts.DomainSecurity},
	}
	res := e.Evaluate(context.Background(), testCtx(), policy)
	if res.Final.Decision != contracts.DecisionAllow {
		t.Fatalf("expected implicit ALLOW, got %s", res.Final.Decision)
	}
}

func TestEvaluateSurfacesBlock(t *testing.T) {
	e := New()
	e.Register(&fakeValidator{id: "security", domain: contracts.DomainSecurity, decide: func() ([]contracts.DecisionV1, error) {
		return []contracts.DecisionV1{{Code: contracts.CodePathTraversal, Decision: contracts.DecisionBlock, Domain: contracts.DomainSecurity}}, nil
	}})
	policy := map[string]contracts.ValidatorConfig{
		"security": {ID: "security", Enabled: true, Enforcement: contracts.EnforcementBlock, Domain: contracts.DomainSecurity},
	}
	res := e.Evaluate(context.Background(), testCtx(), policy)
	if res.Final.Decision != contracts.DecisionBlock {
		t.Fatalf("expected BLOCK, got %s", res.Final.Decision)
	}
}

func TestEvaluateShadowNeverBlocksVisibleOutcome(t *testing.T) {
	e := New()
	e.Register(&fakeValidator{id: "dlp_guard", domain: contracts.DomainDLP, decide: func() ([]contracts.DecisionV1, error) {
		return []contracts.DecisionV1{{Code: contracts.CodeDataLeakPrevented, Decision: contracts.DecisionBlock, Domain: contracts.DomainDLP}}, nil
	}})
	policy := map[string]contracts.ValidatorConfig{
		"dlp_guard": {ID: "dlp_guard", Enabled: true, Enforcement: contracts.EnforcementShadow, Domain: contracts.DomainDLP},
	}
	res := e.Evaluate(context.Background(), testCtx(), policy)
	if res.Final.Decision == contracts.DecisionBlock {
		t.Fatal("shadow enforcement must never surface a BLOCK outcome")
	}
}

func TestEvaluateDisabledValidatorSkipped(t *testing.T) {
	e := New()
	called := false
	e.Register(&fakeValidator{id: "x", domain: contracts.DomainOther, decide: func() ([]contracts.DecisionV1, error) {
		called = true
		return nil, nil
	}})
	policy := map[string]contracts.ValidatorConfig{
		"x": {ID: "x", Enabled: false},
	}
	e.Evaluate(context.Background(), testCtx(), policy)
	if called {
		t.Fatal("expected disabled validator not to run")
	}
}

func TestEvaluateValidatorErrorFailsOpen(t *testing.T) {
	e := New()
	e.Register(&fakeValidator{id: "semantic_intent", domain: contracts.DomainSemantic, decide: func() ([]contracts.DecisionV1, error) {
		return nil, errors.New("cel program cache miss exploded")
	}})
	policy := map[string]contracts.ValidatorConfig{
		"semantic_intent": {ID: "semantic_intent", Enabled: true, Enforcement: contracts.EnforcementBlock, Domain: contracts.DomainSemantic},
	}
	res := e.Evaluate(context.Background(), testCtx(), policy)
	if res.Final.Decision == contracts.DecisionBlock {
		t.Fatal("validator internal error must never escalate to BLOCK")
	}
	found := false
	for _, d := range res.Decisions {
		if d.Code == contracts.CodeInternalError {
			found = true
		}
	}
	if !found {
		t.Fatal("expected synthetic INTERNAL_ERROR decision to be recorded")
	}
}

func TestEvaluateValidatorPanicFailsOpen(t *testing.T) {
	e := New()
	e.Register(&fakeValidator{id: "drift", domain: contracts.DomainDrift, decide: func() ([]contracts.DecisionV1, error) {
		panic("boom")
	}})
	policy := map[string]contracts.ValidatorConfig{
		"drift": {ID: "drift", Enabled: true, Enforcement: contracts.EnforcementBlock, Domain: contracts.DomainDrift},
	}
	res := e.Evaluate(context.Background(), testCtx(), policy)
	if res.Final.Decision == contracts.DecisionBlock {
		t.Fatal("validator panic must never escalate to BLOCK")
	}
}

func TestEvaluateDedupesByDomainPriority(t *testing.T) {
	e := New()
	e.Register(&fakeValidator{id: "security", domain: contracts.DomainSecurity, decide: func() ([]contracts.DecisionV1, error) {
		return []contracts.DecisionV1{{Code: "SHARED_CODE", Decision: contracts.DecisionBlock, Domain: contracts.DomainSecurity}}, nil
	}})
	e.Register(&fakeValidator{id: "drift", domain: contracts.DomainDrift, decide: func() ([]contracts.DecisionV1, error) {
		return []contracts.DecisionV1{{Code: "SHARED_CODE", Decision: contracts.DecisionWarn, Domain: contracts.DomainDrift}}, nil
	}})
	policy := map[string]contracts.ValidatorConfig{
		"security": {ID: "security", Enabled: true, Enforcement: contracts.EnforcementBlock, Domain: contracts.DomainSecurity, Priority: 0},
		"drift":    {ID: "drift", Enabled: true, Enforcement: contracts.EnforcementBlock, Domain: contracts.DomainDrift, Priority: 20},
	}
	res := e.Evaluate(context.Background(), testCtx(), policy)

	var suppressedCount, survivingCount int
	for _, d := range res.Decisions {
		if d.SuppressedBy != "" {
			suppressedCount++
		} else {
			survivingCount++
		}
	}
	if suppressedCount != 1 || survivingCount != 1 {
		t.Fatalf("expected exactly one suppressed and one surviving decision, got suppressed=%d surviving=%d", suppressedCount, survivingCount)
	}
}

// TestEvaluateDedupesRealDangerousComboAcrossDomains exercises the real
// security and semantic validators against an "rm -rf /" call: both domains
// independently flag it under different codes, and dedup must collapse them
// onto the security decision (higher DomainPriority) via FindingClass, not
// Code equality — the two validators never share a literal code.
func TestEvaluateDedupesRealDangerousComboAcrossDomains(t *testing.T) {
	reg, err := rules.LoadBuiltin()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	semanticV, err := semantic.New("semantic_intent", reg, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	securityV := security.New("security", security.Config{})

	e := New()
	e.Register(securityV)
	e.Register(semanticV)
	policy := map[string]contracts.ValidatorConfig{
		"security":        {ID: "security", Enabled: true, Enforcement: contracts.EnforcementBlock, Domain: contracts.DomainSecurity},
		"semantic_intent": {ID: "semantic_intent", Enabled: true, Enforcement: contracts.EnforcementBlock, Domain: contracts.DomainSemantic},
	}
	rc := &contracts.ContextV1{
		Tool:     "run_shell",
		Params:   map[string]any{"cmd": "rm -rf /"},
		Metadata: contracts.ContextMetadata{Timestamp: time.Now()},
	}
	res := e.Evaluate(context.Background(), rc, policy)

	if res.Final.Code != contracts.CodeDangerousCombo || res.Final.Domain != contracts.DomainSecurity {
		t.Fatalf("expected surviving decision to be security's DANGEROUS_COMBO, got %+v", res.Final)
	}

	var suppressedSemantic bool
	for _, d := range res.Decisions {
		if d.Domain == contracts.DomainSemantic && d.Code == contracts.CodeSemanticViolation {
			if d.SuppressedBy != res.Final.Code || d.SuppressionReason != "duplicate_domain_lower_priority" {
				t.Fatalf("expected semantic decision suppressed by the winning security code, got %+v", d)
			}
			suppressedSemantic = true
		}
	}
	if !suppressedSemantic {
		t.Fatal("expected a suppressed semantic decision for destructive_file_op")
	}

	codes, _ := res.Final.Evidence["suppressed_codes"].([]string)
	if len(codes) != 1 || codes[0] != contracts.CodeSemanticViolation {
		t.Fatalf("expected winning decision to record suppressed_codes, got %+v", res.Final.Evidence)
	}
}

func TestEvaluateOrdersByPriorityThenDomainThenID(t *testing.T) {
	e := New()
	var order []string
	register := func(id string, domain contracts.Domain) {
		e.Register(&fakeValidator{id: id, domain: domain, decide: func() ([]contracts.DecisionV1, error) {
			order = append(order, id)
			return nil, nil
		}})
	}
	register("z_validator", contracts.DomainOther)
	register("a_validator", contracts.DomainOther)
	register("security", contracts.DomainSecurity)

	policy := map[string]contracts.ValidatorConfig{
		"z_validator": {ID: "z_validator", Enabled: true, Priority: 10, Domain: contracts.DomainOther},
		"a_validator": {ID: "a_validator", Enabled: true, Priority: 10, Domain: contracts.DomainOther},
		"security":    {ID: "security", Enabled: true, Priority: 0, Domain: contracts.DomainSecurity},
	}
	e.Evaluate(context.Background(), testCtx(), policy)

	if len(order) != 3 || order[0] != "security" || order[1] != "a_validator" || order[2] != "z_validator" {
		t.Fatalf("unexpected evaluation order: %+v", order)
	}
}
