package enrichers

import (
	"context"
	"testing"
	"time"

	"github.com/failcore/core/pkg/contracts"
	"github.com/failcore/core/pkg/rules"
	"github.com/failcore/core/pkg/taint"
)

type stubEnricher struct {
	name   string
	family Family
	data   map[string]any
	delay  time.Duration
}

func (s *stubEnricher) Name() string   { return s.name }
func (s *stubEnricher) Family() Family { return s.family }
func (s *stubEnricher) Enrich(ctx context.Context, rc *contracts.ContextV1) map[string]any {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
		}
	}
	return s.data
}

func testCtx() *contracts.ContextV1 {
	return &contracts.ContextV1{Tool: "send_message", Params: map[string]any{"x": "y"}, Metadata: contracts.ContextMetadata{Timestamp: time.Now()}}
}

func TestRunMergesEachFamily(t *testing.T) {
	r := New(0)
	r.Register(&stubEnricher{name: "a", family: FamilyDLP, data: map[string]any{"match_count": 1}})
	r.Register(&stubEnricher{name: "b", family: FamilyUsage, data: map[string]any{"tool": "x"}})

	evidence := r.Run(context.Background(), testCtx())
	if evidence.DLP["match_count"] != 1 {
		t.Fatalf("expected dlp evidence to merge, got %+v", evidence.DLP)
	}
	if evidence.Usage["tool"] != "x" {
		t.Fatalf("expected usage evidence to merge, got %+v", evidence.Usage)
	}
}

func TestRunTimesOutSlowEnricherWithoutFailingOthers(t *testing.T) {
	r := New(10 * time.Millisecond)
	r.Register(&stubEnricher{name: "slow", family: FamilySemantic, data: map[string]any{"should_not_appear": true}, delay: time.Second})
	r.Register(&stubEnricher{name: "fast", family: FamilyEffects, data: map[string]any{"effect_types": []string{"fs_write"}}})

	evidence := r.Run(context.Background(), testCtx())
	if len(evidence.Semantic) != 0 {
		t.Fatalf("expected timed-out enricher to contribute no evidence, got %+v", evidence.Semantic)
	}
	if evidence.Effects["effect_types"] == nil {
		t.Fatal("expected fast enricher's evidence to still be present")
	}
}

func TestDLPEnricherCountsMatches(t *testing.T) {
	reg, err := rules.LoadBuiltin()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e := &DLPEnricher{Registry: reg}
	rc := &contracts.ContextV1{Tool: "send_message", Params: map[string]any{"body": "contact me at a@example.com"}, Metadata: contracts.ContextMetadata{Timestamp: time.Now()}}
	out := e.Enrich(context.Background(), rc)
	if out["match_count"] == 0 {
		t.Fatalf("expected at least one match, got %+v", out)
	}
}

func TestTaintEnricherReportsTaggedFieldCount(t *testing.T) {
	tracker := taint.New()
	tracker.TagAt("step-1", "params.body", contracts.TaintSourceUser, contracts.SensitivityPII)
	state := map[string]any{}
	taint.IntoState(state, tracker)

	e := &TaintEnricher{}
	rc := &contracts.ContextV1{Tool: "x", State: state, Metadata: contracts.ContextMetadata{Timestamp: time.Now()}}
	out := e.Enrich(context.Background(), rc)
	if out["tagged_fields"] != 1 {
		t.Fatalf("expected one tagged field, got %+v", out)
	}
}

func TestTaintEnricherNoTrackerReportsZero(t *testing.T) {
	e := &TaintEnricher{}
	rc := &contracts.ContextV1{Tool: "x", Metadata: contracts.ContextMetadata{Timestamp: time.Now()}}
	out := e.Enrich(context.Background(), rc)
	if out["tagged_fields"] != 0 {
		t.Fatalf("expected zero tagged fields with no tracker, got %+v", out)
	}
}

func TestUsageEnricherReportsToolAndParamCount(t *testing.T) {
	e := &UsageEnricher{}
	rc := &contracts.ContextV1{Tool: "write_file", Params: map[string]any{"path": "a", "mode": "b"}, Metadata: contracts.ContextMetadata{Timestamp: time.Now()}}
	out := e.Enrich(context.Background(), rc)
	if out["tool"] != "write_file" || out["param_count"] != 2 {
		t.Fatalf("unexpected usage evidence: %+v", out)
	}
}
