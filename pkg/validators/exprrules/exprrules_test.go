package exprrules

import (
	"context"
	"testing"
	"time"

	"github.com/failcore/core/pkg/contracts"
)

func TestValidateFiresOnMatchingRule(t *testing.T) {
	v, err := New("exprrules", []Rule{
		{Code: "CUSTOM_TOOL_DENY", Message: "tool denied by expression rule", Decision: contracts.DecisionBlock, RiskLevel: contracts.RiskHigh, Domain: contracts.DomainContract, Expr: `tool == "dangerous_tool"`},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rc := &contracts.ContextV1{Tool: "dangerous_tool", Params: map[string]any{}, Metadata: contracts.ContextMetadata{Timestamp: time.Now()}}
	decisions, err := v.Validate(context.Background(), rc, contracts.ValidatorConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(decisions) != 1 || decisions[0].Decision != contracts.DecisionBlock {
		t.Fatalf("expected one BLOCK decision, got %+v", decisions)
	}
}

func TestValidateSkipsNonMatchingRule(t *testing.T) {
	v, err := New("exprrules", []Rule{
		{Code: "CUSTOM_TOOL_DENY", Decision: contracts.DecisionBlock, Domain: contracts.DomainContract, Expr: `tool == "dangerous_tool"`},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rc := &contracts.ContextV1{Tool: "safe_tool", Params: map[string]any{}, Metadata: contracts.ContextMetadata{Timestamp: time.Now()}}
	decisions, err := v.Validate(context.Background(), rc, contracts.ValidatorConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(decisions) != 0 {
		t.Fatalf("expected no decisions, got %+v", decisions)
	}
}

func TestValidateReusesCachedProgram(t *testing.T) {
	v, err := New("exprrules", []Rule{
		{Code: "X", Decision: contracts.DecisionWarn, Domain: contracts.DomainContract, Expr: `tool.startsWith("test_")`},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rc := &contracts.ContextV1{Tool: "test_tool", Params: map[string]any{}, Metadata: contracts.ContextMetadata{Timestamp: time.Now()}}

	for i := 0; i < 5; i++ {
		if _, err := v.Validate(context.Background(), rc, contracts.ValidatorConfig{}); err != nil {
			t.Fatalf("unexpected error on iteration %d: %v", i, err)
		}
	}
	if len(v.prgCache) != 1 {
		t.Fatalf("expected exactly one cached program, got %d", len(v.prgCache))
	}
}

func TestValidateSurfacesBadExpressionAsError(t *testing.T) {
	v, err := New("exprrules", []Rule{
		{Code: "BAD", Domain: contracts.DomainContract, Expr: `tool ===`},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rc := &contracts.ContextV1{Tool: "x", Params: map[string]any{}, Metadata: contracts.ContextMetadata{Timestamp: time.Now()}}
	if _, err := v.Validate(context.Background(), rc, contracts.ValidatorConfig{}); err == nil {
		t.Fatal("expected malformed expression to surface as an error")
	}
}
