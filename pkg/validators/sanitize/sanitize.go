// Package sanitize implements the sanitize validator: rather than
// blocking a call outright, it rewrites offending params (redacting or
// category-aware masking matched sensitive substrings) and emits a
// SANITIZATION_REQUIRED decision carrying the cleaned params under
// Evidence["sanitized_params"], for the caller to substitute before the
// tool runs. Neither this package nor the gate applies them to the call.
package sanitize

import (
	"regexp"
	"strings"

	"context"

	"github.com/failcore/core/pkg/contracts"
	"github.com/failcore/core/pkg/rules"
)

const redactionPlaceholder = "[REDACTED]"

// Mode selects how a matched substring is rewritten.
type Mode string

const (
	// ModeRedact replaces every match with a fixed opaque placeholder,
	// destroying the value entirely.
	ModeRedact Mode = "redact"
	// ModeMask applies category-aware partial masking so the shape of a
	// value (an email's domain, a card's last four digits, a key's
	// prefix/suffix) survives for debugging without exposing the secret.
	ModeMask Mode = "mask"
)

// Config controls how a Validator rewrites matched substrings. The zero
// value behaves like plain full-string redaction, matching the
// validator's original behaviour.
type Config struct {
	Mode Mode
	// Paths restricts sanitisation to these top-level param keys. Empty
	// means every string-typed param is in scope.
	Paths []string
	// PreserveUsability enables a length-preserving mask (first/last
	// character kept) for matches that don't have a more specific rule
	// below. Only consulted when Mode is ModeMask.
	PreserveUsability bool
	PreserveDomain    bool // email_address: keep the @domain suffix
	PreserveLast4     bool // credit_card_number / secret-category: keep the trailing 4 characters
}

// DefaultConfig is the category-aware masking posture the CLI wires by
// default: keep enough of a matched value's shape to debug a false
// positive without exposing the underlying secret.
func DefaultConfig() Config {
	return Config{Mode: ModeMask, PreserveUsability: true, PreserveDomain: true, PreserveLast4: true}
}

// Validator redacts registry pattern matches from string params.
type Validator struct {
	id       string
	registry *rules.Registry
	cfg      Config

	compiled map[string]*regexp.Regexp
	category map[string]string // pattern name -> registry category
}

// New builds a sanitize Validator backed by registry, rewriting matches
// per cfg.
func New(id string, registry *rules.Registry, cfg Config) *Validator {
	v := &Validator{id: id, registry: registry, cfg: cfg, compiled: make(map[string]*regexp.Regexp), category: make(map[string]string)}
	patterns, _ := registry.List(rules.Filter{})
	for _, p := range patterns {
		if re, err := regexp.Compile(p.Pattern); err == nil {
			v.compiled[p.Name] = re
			v.category[p.Name] = p.Category
		}
	}
	return v
}

func (v *Validator) ID() string               { return v.id }
func (v *Validator) Domain() contracts.Domain { return contracts.DomainDLP }

// Sanitized pairs a rewritten params map with whether anything changed.
// Validate does not return it; it reports the rewritten params under the
// decision's "sanitized_params" evidence key instead.
type Sanitized struct {
	Params  map[string]any
	Changed bool
}

// Validate rewrites every registered pattern match found in string-typed
// top-level params and reports SANITIZATION_REQUIRED if any rewrite
// occurred. It only rewrites shallow string values — nested structures
// are left to the caller to re-walk if a deeper sanitize pass is needed.
func (v *Validator) Validate(ctx context.Context, rc *contracts.ContextV1, cfg contracts.ValidatorConfig) ([]contracts.DecisionV1, error) {
	sanitized, changed := v.Sanitize(rc.Params)
	if !changed {
		return nil, nil
	}
	return []contracts.DecisionV1{{
		Code:      contracts.CodeSanitizationRequired,
		Decision:  contracts.DecisionSanitize,
		RiskLevel: contracts.RiskMedium,
		Domain:    contracts.DomainDLP,
		Message:   "sensitive substrings rewritten in params before execution",
		Evidence:  map[string]any{"sanitized_params": sanitized},
	}}, nil
}

// Sanitize returns a copy of params with every matched substring
// rewritten per cfg, plus whether anything changed.
func (v *Validator) Sanitize(params map[string]any) (map[string]any, bool) {
	out := make(map[string]any, len(params))
	changed := false
	for k, val := range params {
		s, ok := val.(string)
		if !ok || !v.inScope(k) {
			out[k] = val
			continue
		}
		rewritten, didChange := v.redact(s)
		out[k] = rewritten
		changed = changed || didChange
	}
	return out, changed
}

func (v *Validator) inScope(path string) bool {
	if len(v.cfg.Paths) == 0 {
		return true
	}
	for _, p := range v.cfg.Paths {
		if p == path {
			return true
		}
	}
	return false
}

func (v *Validator) redact(s string) (string, bool) {
	changed := false
	for name, re := range v.compiled {
		s = re.ReplaceAllStringFunc(s, func(match string) string {
			changed = true
			return v.mask(name, match)
		})
	}
	return s, changed
}

// mask rewrites one matched substring according to cfg.Mode and the
// pattern's registry category. ModeRedact (and the zero-value Config)
// always collapses to the fixed placeholder; ModeMask prefers a
// category-specific rule and falls back to a generic length-preserving
// mask when PreserveUsability is set.
func (v *Validator) mask(patternName, match string) string {
	if v.cfg.Mode != ModeMask {
		return redactionPlaceholder
	}
	switch {
	case patternName == "email_address" && v.cfg.PreserveDomain:
		return maskEmail(match)
	case patternName == "credit_card_number" && v.cfg.PreserveLast4:
		return maskLast4(match)
	case v.category[patternName] == "secret" && v.cfg.PreserveLast4:
		return maskPrefixSuffix(match)
	case v.cfg.PreserveUsability:
		return maskMiddle(match)
	default:
		return redactionPlaceholder
	}
}

// maskEmail keeps the @domain suffix and the first character of the
// local part, e.g. "j***@example.com".
func maskEmail(s string) string {
	at := strings.LastIndex(s, "@")
	if at <= 0 {
		return redactionPlaceholder
	}
	local, domain := s[:at], s[at:]
	if len(local) <= 1 {
		return "*" + domain
	}
	return local[:1] + strings.Repeat("*", len(local)-1) + domain
}

// maskLast4 keeps the trailing 4 characters of s, masking everything
// before them — the card-number shape ("**** **** **** 1234").
func maskLast4(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	n := len(s) - 4
	return strings.Repeat("*", n) + s[n:]
}

// maskPrefixSuffix keeps a short prefix and suffix of s, masking the
// middle — the credential shape ("sk-****aaaa").
func maskPrefixSuffix(s string) string {
	const prefixLen, suffixLen = 3, 4
	if len(s) <= prefixLen+suffixLen {
		return strings.Repeat("*", len(s))
	}
	return s[:prefixLen] + "****" + s[len(s)-suffixLen:]
}

// maskMiddle keeps the first and last character of s and masks
// everything in between, for matches with no more specific rule.
func maskMiddle(s string) string {
	if len(s) <= 2 {
		return strings.Repeat("*", len(s))
	}
	return s[:1] + strings.Repeat("*", len(s)-2) + s[len(s)-1:]
}
