// Package taint implements the per-run taint context: it tags values
// with their provenance and sensitivity as they enter a run, and tracks
// the flow edges that carry tainted data from a producing step to a
// consuming step, so the taint_flow validator can flag data crossing
// into a sink above its sensitivity budget.
package taint

import (
	"fmt"
	"strings"
	"sync"

	"github.com/failcore/core/pkg/contracts"
)

// Tracker is the mutable, per-run taint context. It is stored in
// ContextV1.State under contracts.StateKeyTaintContext and mutated by the
// gate as each step runs.
type Tracker struct {
	mu    sync.Mutex
	tags  map[string]contracts.TaintTag   // fieldPath -> tag at time of tagging
	edges []contracts.FlowEdge
}

// New constructs an empty Tracker for a run.
func New() *Tracker {
	return &Tracker{tags: make(map[string]contracts.TaintTag)}
}

// Tag records the taint provenance of fieldPath. A later Tag call for the
// same fieldPath overwrites it — taint reflects the most recent producer.
func (t *Tracker) Tag(fieldPath string, tag contracts.TaintTag) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tags[fieldPath] = tag
}

// TagAt is a convenience wrapper that also records the producing step.
func (t *Tracker) TagAt(stepID, fieldPath string, source contracts.TaintSource, sensitivity contracts.Sensitivity) {
	t.Tag(fieldPath, contracts.TaintTag{Source: source, Sensitivity: sensitivity, SourceStep: stepID})
}

// Lookup returns the taint tag for fieldPath, if any.
func (t *Tracker) Lookup(fieldPath string) (contracts.TaintTag, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tag, ok := t.tags[fieldPath]
	return tag, ok
}

// ErrFlowTooDeep is returned by RecordFlow when propagating a field would
// exceed contracts.DefaultMaxFlowDepth hops.
type ErrFlowTooDeep struct {
	FieldPath string
	Depth     int
}

func (e *ErrFlowTooDeep) Error() string {
	return fmt.Sprintf("taint: flow for %q exceeds max depth (%d)", e.FieldPath, e.Depth)
}

// RecordFlow records that fieldPath's tainted value moved from sourceStep
// to sinkStep with the given binding confidence, and propagates the
// source's taint tag onto the field as observed at the sink. It refuses
// to record a flow beyond DefaultMaxFlowDepth hops for the same field.
func (t *Tracker) RecordFlow(sourceStep, sinkStep, fieldPath string, confidence contracts.BindingConfidence) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	depth := t.depthLocked(fieldPath)
	if depth >= contracts.DefaultMaxFlowDepth {
		return &ErrFlowTooDeep{FieldPath: fieldPath, Depth: depth}
	}

	t.edges = append(t.edges, contracts.FlowEdge{
		SourceStep:        sourceStep,
		SinkStep:          sinkStep,
		FieldPath:         fieldPath,
		BindingConfidence: confidence,
	})

	if tag, ok := t.tags[fieldPath]; ok {
		tag.SourceStep = sourceStep
		t.tags[fieldPath] = tag
	}
	return nil
}

func (t *Tracker) depthLocked(fieldPath string) int {
	n := 0
	for _, e := range t.edges {
		if e.FieldPath == fieldPath {
			n++
		}
	}
	return n
}

// FlowsInto returns every flow edge recorded for fieldPath, in recording
// order (oldest first).
func (t *Tracker) FlowsInto(fieldPath string) []contracts.FlowEdge {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []contracts.FlowEdge
	for _, e := range t.edges {
		if e.FieldPath == fieldPath {
			out = append(out, e)
		}
	}
	return out
}

// TaggedUnder returns every fieldPath whose tag prefix matches prefix
// ("." separated path components), along with the tag.
func (t *Tracker) TaggedUnder(prefix string) map[string]contracts.TaintTag {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]contracts.TaintTag)
	for path, tag := range t.tags {
		if path == prefix || strings.HasPrefix(path, prefix+".") {
			out[path] = tag
		}
	}
	return out
}

// All returns every tagged field path and its tag.
func (t *Tracker) All() map[string]contracts.TaintTag {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]contracts.TaintTag, len(t.tags))
	for path, tag := range t.tags {
		out[path] = tag
	}
	return out
}

// MaxSensitivityAcross returns the highest sensitivity among every tagged
// field, or contracts.SensitivityPublic if nothing is tagged.
func (t *Tracker) MaxSensitivityAcross(fieldPaths ...string) contracts.Sensitivity {
	t.mu.Lock()
	defer t.mu.Unlock()
	vals := make([]contracts.Sensitivity, 0, len(fieldPaths))
	for _, p := range fieldPaths {
		if tag, ok := t.tags[p]; ok {
			vals = append(vals, tag.Sensitivity)
		}
	}
	if len(vals) == 0 {
		return contracts.SensitivityPublic
	}
	return contracts.MaxSensitivity(vals...)
}

// FromState extracts the Tracker stored in ctx.State, if present.
func FromState(state map[string]any) (*Tracker, bool) {
	v, ok := state[contracts.StateKeyTaintContext]
	if !ok {
		return nil, false
	}
	tracker, ok := v.(*Tracker)
	return tracker, ok
}

// IntoState stores t into state under the canonical taint context key.
func IntoState(state map[string]any, t *Tracker) {
	state[contracts.StateKeyTaintContext] = t
}
