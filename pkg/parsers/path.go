// Package parsers implements deterministic, side-effect-free structural
// parsers for the payload shapes validators reason about: shell command
// lines, SQL statements, URLs, filesystem paths, and generic tool
// payloads. No parser panics or returns an error for malformed input —
// each returns a best-effort partial structure with Valid set to false,
// so a validator can still act on whatever was recognised.
package parsers

import (
	"path/filepath"
	"strings"
)

// ParsedPath is the structural breakdown of a filesystem path argument.
type ParsedPath struct {
	Raw        string
	Clean      string
	IsAbsolute bool
	HasParentRef bool // contains a ".." traversal segment
	IsSymlinkCandidate bool // never set by ParsePath (always false); symlink resolution is left to the caller
	Valid      bool
}

// ParsePath analyses raw as a filesystem path without touching the
// filesystem. It never errors; Valid is false only when raw is empty.
func ParsePath(raw string) ParsedPath {
	if raw == "" {
		return ParsedPath{Raw: raw, Valid: false}
	}
	clean := filepath.Clean(raw)
	hasParent := false
	for _, seg := range strings.Split(filepath.ToSlash(raw), "/") {
		if seg == ".." {
			hasParent = true
			break
		}
	}
	return ParsedPath{
		Raw:          raw,
		Clean:        clean,
		IsAbsolute:   filepath.IsAbs(clean),
		HasParentRef: hasParent,
		Valid:        true,
	}
}

// EscapesRoot reports whether the cleaned path, when joined onto root,
// would resolve outside of root.
func (p ParsedPath) EscapesRoot(root string) bool {
	if !p.Valid {
		return false
	}
	joined := filepath.Clean(filepath.Join(root, p.Raw))
	rel, err := filepath.Rel(filepath.Clean(root), joined)
	if err != nil {
		return true
	}
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
