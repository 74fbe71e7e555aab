// Package rules implements the Rules Registry: the single, versioned,
// signable source of truth for DLP patterns and semantic detection rules
// that validators consult. A Registry is immutable once loaded — hot
// reload means constructing a new instance, never mutating one in place.
package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
)

// Source names where a rule entry may have originated.
type Source string

const (
	SourceBuiltin   Source = "builtin"
	SourceCommunity Source = "community"
	SourceLocal     Source = "local"
)

// TrustLevel governs what happens when an entry's signature cannot be
// verified.
type TrustLevel string

const (
	TrustTrusted   TrustLevel = "trusted"
	TrustUntrusted TrustLevel = "untrusted"
	TrustUnknown   TrustLevel = "unknown"
)

// SensitivePattern is a single DLP detection pattern.
type SensitivePattern struct {
	Name      string     `json:"name"`
	Category  string     `json:"category"`
	Pattern   string     `json:"pattern"`
	Severity  int        `json:"severity"` // 1..10
	Source    Source     `json:"source"`
	Version   string     `json:"version"`
	Signature string     `json:"signature,omitempty"` // sha256 hex over the canonical pattern body
	Trust     TrustLevel `json:"trust_level"`
}

// SemanticRule is a single semantic-detector rule.
type SemanticRule struct {
	ID        string     `json:"id"`
	Category  string     `json:"category"`
	Severity  int        `json:"severity"`
	Detector  string     `json:"detector"` // expression body, interpreted by the semantic validator
	Source    Source     `json:"source"`
	Version   string     `json:"version"`
	Signature string     `json:"signature,omitempty"`
	Trust     TrustLevel `json:"trust_level"`
}

// Filter narrows a list()/by_source() query.
type Filter struct {
	Category string
	Source   Source
	MinSeverity int
}

// Registry is an immutable, loaded set of patterns and rules.
type Registry struct {
	patterns []SensitivePattern
	semantic []SemanticRule
}

// ErrSignatureInvalid is returned when a trusted-source entry's signature
// does not verify; per §4.1 this refuses the whole registry load.
type ErrSignatureInvalid struct {
	EntryName string
}

func (e *ErrSignatureInvalid) Error() string {
	return fmt.Sprintf("rules: signature verification failed for trusted entry %q", e.EntryName)
}

// Document is the on-disk shape a registry bundle is loaded from.
type Document struct {
	Patterns []SensitivePattern `json:"patterns" yaml:"patterns"`
	Semantic []SemanticRule     `json:"semantic" yaml:"semantic"`
}

// computeSignature produces the deterministic sha256 a verifier checks a
// pattern's declared Signature against. It hashes the stable identity of
// the rule (name/id + pattern/detector body + category + severity),
// deliberately excluding Source/Trust/Version so re-tagging an entry's
// provenance doesn't require re-signing its content.
func computeSignature(name, body, category string, severity int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d", name, body, category, severity)))
	return hex.EncodeToString(h[:])
}

// verifyPattern checks p's signature against its content hash. Entries
// with no signature are only acceptable when Trust is untrusted/unknown.
func verifyPattern(p SensitivePattern) error {
	if p.Trust != TrustTrusted {
		return nil
	}
	want := computeSignature(p.Name, p.Pattern, p.Category, p.Severity)
	if p.Signature == "" || p.Signature != want {
		return &ErrSignatureInvalid{EntryName: p.Name}
	}
	return nil
}

func verifySemantic(r SemanticRule) error {
	if r.Trust != TrustTrusted {
		return nil
	}
	want := computeSignature(r.ID, r.Detector, r.Category, r.Severity)
	if r.Signature == "" || r.Signature != want {
		return &ErrSignatureInvalid{EntryName: r.ID}
	}
	return nil
}

// SignPattern computes and attaches the content signature for p, for use
// by tooling that authors builtin/local rule bundles.
func SignPattern(p SensitivePattern) SensitivePattern {
	p.Signature = computeSignature(p.Name, p.Pattern, p.Category, p.Severity)
	return p
}

// SignSemantic computes and attaches the content signature for r.
func SignSemantic(r SemanticRule) SemanticRule {
	r.Signature = computeSignature(r.ID, r.Detector, r.Category, r.Severity)
	return r
}

// LoadFrom builds a Registry from a document's raw bytes (JSON). A
// malformed document, or a trusted entry with an invalid signature,
// refuses the whole load — the caller must not fall back to a partial
// registry.
func LoadFrom(data []byte) (*Registry, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("rules: malformed registry document: %w", err)
	}
	return fromDocument(doc)
}

func fromDocument(doc Document) (*Registry, error) {
	for _, p := range doc.Patterns {
		if _, err := semver.NewVersion(p.Version); err != nil && p.Version != "" {
			return nil, fmt.Errorf("rules: pattern %q has invalid version %q: %w", p.Name, p.Version, err)
		}
		if err := verifyPattern(p); err != nil {
			return nil, err
		}
	}
	for _, r := range doc.Semantic {
		if _, err := semver.NewVersion(r.Version); err != nil && r.Version != "" {
			return nil, fmt.Errorf("rules: semantic rule %q has invalid version %q: %w", r.ID, r.Version, err)
		}
		if err := verifySemantic(r); err != nil {
			return nil, err
		}
	}

	reg := &Registry{
		patterns: append([]SensitivePattern{}, doc.Patterns...),
		semantic: append([]SemanticRule{}, doc.Semantic...),
	}
	reg.sort()
	return reg, nil
}

func (r *Registry) sort() {
	sort.Slice(r.patterns, func(i, j int) bool { return r.patterns[i].Name < r.patterns[j].Name })
	sort.Slice(r.semantic, func(i, j int) bool { return r.semantic[i].ID < r.semantic[j].ID })
}

// LoadBuiltin constructs the registry from the embedded built-in pattern
// and rule set. Builtin entries are always trust=trusted and are signed at
// build time by SignPattern/SignSemantic.
func LoadBuiltin() (*Registry, error) {
	return fromDocument(Document{
		Patterns: builtinPatterns(),
		Semantic: builtinSemanticRules(),
	})
}

// List returns patterns and rules matching f, in the registry's stable
// sorted order.
func (r *Registry) List(f Filter) ([]SensitivePattern, []SemanticRule) {
	var patterns []SensitivePattern
	for _, p := range r.patterns {
		if !matchesPattern(p, f) {
			continue
		}
		patterns = append(patterns, p)
	}
	var semantic []SemanticRule
	for _, s := range r.semantic {
		if !matchesSemantic(s, f) {
			continue
		}
		semantic = append(semantic, s)
	}
	return patterns, semantic
}

func matchesPattern(p SensitivePattern, f Filter) bool {
	if f.Category != "" && p.Category != f.Category {
		return false
	}
	if f.Source != "" && p.Source != f.Source {
		return false
	}
	if f.MinSeverity > 0 && p.Severity < f.MinSeverity {
		return false
	}
	return true
}

func matchesSemantic(s SemanticRule, f Filter) bool {
	if f.Category != "" && s.Category != f.Category {
		return false
	}
	if f.Source != "" && s.Source != f.Source {
		return false
	}
	if f.MinSeverity > 0 && s.Severity < f.MinSeverity {
		return false
	}
	return true
}

// BySource returns every pattern and rule attributed to src.
func (r *Registry) BySource(src Source) ([]SensitivePattern, []SemanticRule) {
	return r.List(Filter{Source: src})
}

// IsUntrusted reports whether name (a pattern name or semantic rule ID)
// loaded with a non-trusted trust level — callers use this to attach a
// warning tag to decisions produced from it, per §4.1.
func (r *Registry) IsUntrusted(name string) bool {
	for _, p := range r.patterns {
		if p.Name == name {
			return p.Trust != TrustTrusted
		}
	}
	for _, s := range r.semantic {
		if s.ID == name {
			return s.Trust != TrustTrusted
		}
	}
	return false
}
