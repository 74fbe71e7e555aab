// Package enrichers implements the EGRESS enrichment fan-out: a set of
// evidence-only collectors that run concurrently over the same tool
// result and annotate the trace with DLP/taint/semantic/effects/usage
// findings. Enrichers never block or sanitize — that is the Validation
// Engine's job — they only add evidence for audit and the Drift
// Analyser to consume later.
package enrichers

import (
	"context"
	"sync"
	"time"

	"github.com/failcore/core/pkg/contracts"
)

// Family is one of the fixed EgressEvidence buckets an Enricher writes
// into. Unknown families are silently dropped rather than widening the
// wire schema per enricher.
type Family string

const (
	FamilyDLP      Family = "dlp"
	FamilyTaint    Family = "taint"
	FamilySemantic Family = "semantic"
	FamilyEffects  Family = "effects"
	FamilyUsage    Family = "usage"
)

// Enricher produces evidence for one family. It must not mutate rc and
// must not itself decide ALLOW/BLOCK — Run returns whatever it computes
// even when empty.
type Enricher interface {
	Name() string
	Family() Family
	Enrich(ctx context.Context, rc *contracts.ContextV1) map[string]any
}

// Runner fans a ContextV1 out to every registered Enricher concurrently
// and assembles the results into an EgressEvidence, bounded by a
// per-enricher timeout so one slow enricher cannot stall the others.
type Runner struct {
	mu        sync.RWMutex
	enrichers []Enricher
	timeout   time.Duration
}

// New constructs a Runner. A zero timeout disables the per-enricher
// deadline (callers should then bound ctx themselves).
func New(timeout time.Duration) *Runner {
	return &Runner{timeout: timeout}
}

// Register adds e to the fan-out set.
func (r *Runner) Register(e Enricher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enrichers = append(r.enrichers, e)
}

type result struct {
	family Family
	data   map[string]any
}

// Run executes every registered enricher concurrently and merges their
// output into a single EgressEvidence. An enricher that panics or times
// out contributes no evidence for its family rather than failing the
// run — enrichment is always best-effort.
func (r *Runner) Run(ctx context.Context, rc *contracts.ContextV1) contracts.EgressEvidence {
	r.mu.RLock()
	enrichers := make([]Enricher, len(r.enrichers))
	copy(enrichers, r.enrichers)
	r.mu.RUnlock()

	results := make(chan result, len(enrichers))
	var wg sync.WaitGroup
	for _, e := range enrichers {
		wg.Add(1)
		go func(e Enricher) {
			defer wg.Done()
			results <- result{family: e.Family(), data: r.runOne(ctx, e, rc)}
		}(e)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	evidence := contracts.EgressEvidence{
		DLP:      map[string]any{},
		Taint:    map[string]any{},
		Semantic: map[string]any{},
		Effects:  map[string]any{},
		Usage:    map[string]any{},
	}
	for res := range results {
		merge(familyTarget(&evidence, res.family), res.data)
	}
	return evidence
}

func (r *Runner) runOne(ctx context.Context, e Enricher, rc *contracts.ContextV1) (out map[string]any) {
	defer func() {
		if rec := recover(); rec != nil {
			out = nil
		}
	}()

	runCtx := ctx
	var cancel context.CancelFunc
	if r.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	done := make(chan map[string]any, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- nil
			}
		}()
		done <- e.Enrich(runCtx, rc)
	}()

	select {
	case <-runCtx.Done():
		return nil
	case v := <-done:
		return v
	}
}

func familyTarget(evidence *contracts.EgressEvidence, f Family) map[string]any {
	switch f {
	case FamilyDLP:
		return evidence.DLP
	case FamilyTaint:
		return evidence.Taint
	case FamilySemantic:
		return evidence.Semantic
	case FamilyEffects:
		return evidence.Effects
	case FamilyUsage:
		return evidence.Usage
	default:
		return nil
	}
}

func merge(target, src map[string]any) {
	if target == nil {
		return
	}
	for k, v := range src {
		target[k] = v
	}
}
