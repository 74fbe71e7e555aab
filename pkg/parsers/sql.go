package parsers

import (
	"regexp"
	"strings"
)

// ParsedSQL is the structural breakdown of a SQL statement fragment.
type ParsedSQL struct {
	Raw           string
	Statement     string // first keyword, uppercased: SELECT, INSERT, UPDATE, DELETE, DROP, ALTER, ...
	HasUnion      bool
	HasComment    bool // -- or /* */ style comment, often used to truncate a query
	HasStacked    bool // semicolon-separated second statement
	HasTautology  bool // classic `OR 1=1` / `OR '1'='1'` shape
	Valid         bool
}

var (
	firstWordRe  = regexp.MustCompile(`^\s*([A-Za-z]+)`)
	tautologyRe  = regexp.MustCompile(`(?i)\bor\b\s+('?\w+'?\s*=\s*'?\w+'?)`)
	sqlCommentRe = regexp.MustCompile(`--|/\*`)
)

// ParseSQL inspects raw for structural SQL injection indicators. It does
// not build a real AST; it is a deterministic heuristic lexer.
func ParseSQL(raw string) ParsedSQL {
	if strings.TrimSpace(raw) == "" {
		return ParsedSQL{Raw: raw, Valid: false}
	}

	stmt := ""
	if m := firstWordRe.FindStringSubmatch(raw); m != nil {
		stmt = strings.ToUpper(m[1])
	}

	trimmedForStacking := strings.TrimRight(strings.TrimSpace(raw), ";")
	hasStacked := strings.Contains(trimmedForStacking, ";")

	return ParsedSQL{
		Raw:          raw,
		Statement:    stmt,
		HasUnion:     strings.Contains(strings.ToUpper(raw), "UNION"),
		HasComment:   sqlCommentRe.MatchString(raw),
		HasStacked:   hasStacked,
		HasTautology: tautologyRe.MatchString(raw),
		Valid:        stmt != "",
	}
}
