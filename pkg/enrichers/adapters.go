package enrichers

import (
	"context"
	"regexp"
	"sync"

	"github.com/failcore/core/pkg/contracts"
	"github.com/failcore/core/pkg/parsers"
	"github.com/failcore/core/pkg/rules"
	"github.com/failcore/core/pkg/taint"
)

// patternCache avoids recompiling the same registry regex on every
// enrichment call; it is process-wide since patterns are immutable
// strings keyed by their own text.
type patternCache struct {
	mu   sync.Mutex
	seen map[string]*regexp.Regexp
}

func (c *patternCache) get(pattern string) (*regexp.Regexp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if re, ok := c.seen[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	c.seen[pattern] = re
	return re, nil
}

var regexpCompileCache = &patternCache{seen: make(map[string]*regexp.Regexp)}

// DLPEnricher reports how many distinct registry patterns matched rc's
// params/result (match_count) and, per pattern, how many string leaves it
// matched (matched_patterns), without blocking or redacting anything.
type DLPEnricher struct {
	Registry *rules.Registry
}

func (e *DLPEnricher) Name() string     { return "dlp" }
func (e *DLPEnricher) Family() Family   { return FamilyDLP }
func (e *DLPEnricher) Enrich(_ context.Context, rc *contracts.ContextV1) map[string]any {
	patterns, _ := e.Registry.List(rules.Filter{})
	leaves := append(parsers.ParsePayload(rc.Params).Strings, parsers.ParsePayload(rc.Result).Strings...)

	hits := map[string]int{}
	for _, leaf := range leaves {
		for _, p := range patterns {
			if matchesPattern(p.Pattern, leaf) {
				hits[p.Name]++
			}
		}
	}
	if len(hits) == 0 {
		return map[string]any{"match_count": 0}
	}
	return map[string]any{"match_count": len(hits), "matched_patterns": hits}
}

// TaintEnricher summarizes the taint tracker bound to rc.State, if any.
type TaintEnricher struct{}

func (e *TaintEnricher) Name() string   { return "taint" }
func (e *TaintEnricher) Family() Family { return FamilyTaint }
func (e *TaintEnricher) Enrich(_ context.Context, rc *contracts.ContextV1) map[string]any {
	tracker, ok := taint.FromState(rc.State)
	if !ok {
		return map[string]any{"tagged_fields": 0}
	}
	all := tracker.All()
	max := tracker.MaxSensitivityAcross(keysOf(all)...)
	return map[string]any{"tagged_fields": len(all), "max_sensitivity": max}
}

// EffectsEnricher reports the raw effect classification for rc without
// enforcing a boundary.
type EffectsEnricher struct {
	Classifier func(tool string, params map[string]any) []contracts.EffectType
}

func (e *EffectsEnricher) Name() string   { return "effects" }
func (e *EffectsEnricher) Family() Family { return FamilyEffects }
func (e *EffectsEnricher) Enrich(_ context.Context, rc *contracts.ContextV1) map[string]any {
	if e.Classifier == nil {
		return map[string]any{}
	}
	effects := e.Classifier(rc.Tool, rc.Params)
	types := make([]string, 0, len(effects))
	for _, et := range effects {
		types = append(types, string(et))
	}
	return map[string]any{"effect_types": types}
}

// UsageEnricher reports the shape of a call (tool, param count) for
// downstream burn-rate and drift analysis, independent of cost pricing.
type UsageEnricher struct{}

func (e *UsageEnricher) Name() string   { return "usage" }
func (e *UsageEnricher) Family() Family { return FamilyUsage }
func (e *UsageEnricher) Enrich(_ context.Context, rc *contracts.ContextV1) map[string]any {
	return map[string]any{"tool": rc.Tool, "param_count": len(rc.Params)}
}

func keysOf(m map[string]contracts.TaintTag) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func matchesPattern(pattern, leaf string) bool {
	re, err := regexpCompileCache.get(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(leaf)
}
