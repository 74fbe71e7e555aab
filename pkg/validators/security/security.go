// Package security implements the security validator: path traversal,
// sandbox escape, SSRF, and shell-injection structural checks over a
// tool call's params, grounded on the parsers package's structural
// breakdowns rather than pattern matching alone.
package security

import (
	"context"
	"fmt"
	"strings"

	"github.com/failcore/core/pkg/contracts"
	"github.com/failcore/core/pkg/parsers"
)

// destructiveCommands are shell commands that can destroy data at the
// command's target when combined with a recursive+force flag pair.
var destructiveCommands = map[string]bool{
	"rm":  true,
	"del": true,
	"rd":  true,
}

// Config scopes the filesystem/network checks to a specific sandbox.
type Config struct {
	SandboxRoot     string
	BlockPrivateNet bool
}

// Validator implements the security domain checks.
type Validator struct {
	id  string
	cfg Config
}

// New constructs a security Validator.
func New(id string, cfg Config) *Validator {
	return &Validator{id: id, cfg: cfg}
}

func (v *Validator) ID() string               { return v.id }
func (v *Validator) Domain() contracts.Domain { return contracts.DomainSecurity }

// Validate inspects every string leaf of rc.Params for path-traversal,
// SSRF, and shell-injection shaped content.
func (v *Validator) Validate(ctx context.Context, rc *contracts.ContextV1, cfg contracts.ValidatorConfig) ([]contracts.DecisionV1, error) {
	var decisions []contracts.DecisionV1
	leaves := parsers.ParsePayload(rc.Params).Strings

	for _, leaf := range leaves {
		decisions = append(decisions, v.checkPath(leaf)...)
		decisions = append(decisions, v.checkURL(leaf)...)
		decisions = append(decisions, v.checkShell(leaf)...)
		decisions = append(decisions, v.checkDangerousCombo(leaf)...)
	}
	return decisions, nil
}

func (v *Validator) checkPath(leaf string) []contracts.DecisionV1 {
	p := parsers.ParsePath(leaf)
	if !p.Valid {
		return nil
	}
	var out []contracts.DecisionV1
	if p.HasParentRef && v.cfg.SandboxRoot != "" && p.EscapesRoot(v.cfg.SandboxRoot) {
		out = append(out, contracts.DecisionV1{
			Code:      contracts.CodePathTraversal,
			Decision:  contracts.DecisionBlock,
			RiskLevel: contracts.RiskHigh,
			Domain:    contracts.DomainSecurity,
			Message:   fmt.Sprintf("path %q escapes sandbox root %q", leaf, v.cfg.SandboxRoot),
			Evidence:  map[string]any{"path": leaf, "sandbox_root": v.cfg.SandboxRoot},
		})
	}
	if p.IsAbsolute && v.cfg.SandboxRoot != "" {
		out = append(out, contracts.DecisionV1{
			Code:      contracts.CodeAbsolutePath,
			Decision:  contracts.DecisionWarn,
			RiskLevel: contracts.RiskMedium,
			Domain:    contracts.DomainSecurity,
			Message:   fmt.Sprintf("absolute path %q bypasses sandbox-relative resolution", leaf),
		})
	}
	return out
}

func (v *Validator) checkURL(leaf string) []contracts.DecisionV1 {
	u := parsers.ParseURL(leaf)
	if !u.Valid {
		return nil
	}
	var out []contracts.DecisionV1
	if v.cfg.BlockPrivateNet && u.IsPrivateIP {
		out = append(out, contracts.DecisionV1{
			Code:      contracts.CodePrivateNetworkBlocked,
			Decision:  contracts.DecisionBlock,
			RiskLevel: contracts.RiskCritical,
			Domain:    contracts.DomainSecurity,
			Message:   fmt.Sprintf("URL %q targets a private/internal network address", leaf),
			Evidence:  map[string]any{"host": u.Host},
		})
	}
	return out
}

func (v *Validator) checkShell(leaf string) []contracts.DecisionV1 {
	s := parsers.ParseShell(leaf)
	if !s.Valid {
		return nil
	}
	if !s.HasCommandSubst {
		return nil
	}
	return []contracts.DecisionV1{{
		Code:      contracts.CodeSandboxViolation,
		Decision:  contracts.DecisionWarn,
		RiskLevel: contracts.RiskMedium,
		Domain:    contracts.DomainSecurity,
		Message:   "shell command contains command substitution",
	}}
}

// checkDangerousCombo flags a destructive command (rm/del/rd) invoked with
// both a recursive and a force flag against a shallow, broad target (the
// root, a home directory, or a single top-level path segment) — the classic
// "rm -rf /" shape. It is a structural check over ParseShell's tokens, not a
// regex over the raw string.
func (v *Validator) checkDangerousCombo(leaf string) []contracts.DecisionV1 {
	s := parsers.ParseShell(leaf)
	if !s.Valid || len(s.Tokens) == 0 {
		return nil
	}
	cmd := strings.ToLower(s.Tokens[0])
	if !destructiveCommands[cmd] {
		return nil
	}
	if !hasRecursiveForceFlags(s.Tokens[1:]) {
		return nil
	}
	target, ok := broadTarget(s.Tokens[1:])
	if !ok {
		return nil
	}
	return []contracts.DecisionV1{{
		Code:         contracts.CodeDangerousCombo,
		Decision:     contracts.DecisionBlock,
		RiskLevel:    contracts.RiskCritical,
		Domain:       contracts.DomainSecurity,
		Message:      fmt.Sprintf("%q combines a recursive+force delete with a broad target %q", leaf, target),
		Evidence:     map[string]any{"param": leaf, "command": cmd, "target": target},
		FindingClass: contracts.FindingClassDangerousCombo,
	}}
}

// hasRecursiveForceFlags reports whether args contain both a recursive and
// a force flag, combined in one token (-rf, -fr) or given separately
// (-r -f, --recursive --force).
func hasRecursiveForceFlags(args []string) bool {
	var recursive, force bool
	for _, a := range args {
		lo := strings.ToLower(a)
		if !strings.HasPrefix(lo, "-") {
			continue
		}
		switch lo {
		case "--recursive":
			recursive = true
			continue
		case "--force":
			force = true
			continue
		}
		if strings.HasPrefix(lo, "--") {
			continue
		}
		if strings.Contains(lo, "r") {
			recursive = true
		}
		if strings.Contains(lo, "f") {
			force = true
		}
	}
	return recursive && force
}

// broadTarget returns the first non-flag argument if it names a shallow,
// high-blast-radius filesystem target: the root, a home-relative path, a
// glob, or a top-level absolute directory like "/etc".
func broadTarget(args []string) (string, bool) {
	for _, a := range args {
		if strings.HasPrefix(a, "-") {
			continue
		}
		switch a {
		case "/", "~", "$HOME", "*":
			return a, true
		}
		p := parsers.ParsePath(a)
		if p.Valid && p.IsAbsolute {
			clean := strings.Trim(p.Clean, "/")
			if clean == "" || !strings.Contains(clean, "/") {
				return a, true
			}
		}
		return "", false
	}
	return "", false
}
