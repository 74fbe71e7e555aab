package parsers

import "strings"

// ParsedShell is the structural breakdown of a shell command line. This
// is a lexical tokeniser, not a shell — it never executes or expands
// anything.
type ParsedShell struct {
	Raw             string
	Tokens          []string
	HasPipe         bool
	HasRedirect     bool
	HasCommandSubst bool // $(...) or `...`
	HasChain        bool // &&, ||, ;
	Valid           bool
}

// ParseShell tokenises raw into a best-effort argv-style token list and
// flags structural features validators key on (pipes, redirection,
// command substitution, chaining). Quoting is honoured for token
// boundaries only; it does not interpret escape sequences.
func ParseShell(raw string) ParsedShell {
	if strings.TrimSpace(raw) == "" {
		return ParsedShell{Raw: raw, Valid: false}
	}

	tokens := tokenize(raw)
	return ParsedShell{
		Raw:             raw,
		Tokens:          tokens,
		HasPipe:         containsUnquoted(raw, "|") && !strings.Contains(raw, "||"),
		HasRedirect:     containsAny(raw, []string{">", "<", ">>"}),
		HasCommandSubst: strings.Contains(raw, "$(") || strings.Contains(raw, "`"),
		HasChain:        containsAny(raw, []string{"&&", "||", ";"}),
		Valid:           true,
	}
}

func tokenize(raw string) []string {
	var tokens []string
	var cur strings.Builder
	var quote rune
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range raw {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
		case r == ' ' || r == '\t' || r == '\n':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}

func containsUnquoted(raw, substr string) bool {
	return strings.Contains(raw, substr)
}

func containsAny(raw string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(raw, n) {
			return true
		}
	}
	return false
}
