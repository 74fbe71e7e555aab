package rules

// builtinPatterns returns the seed DLP pattern set shipped with the
// engine, adapted from the regex classifiers used to spot PII and
// credential-shaped strings in tool output. All builtin entries are
// trust=trusted and signed against their own content.
func builtinPatterns() []SensitivePattern {
	raw := []SensitivePattern{
		{
			Name:     "email_address",
			Category: "pii",
			Pattern:  `[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`,
			Severity: 4,
			Source:   SourceBuiltin,
			Version:  "1.0.0",
			Trust:    TrustTrusted,
		},
		{
			Name:     "us_ssn",
			Category: "pii",
			Pattern:  `\b\d{3}-\d{2}-\d{4}\b`,
			Severity: 8,
			Source:   SourceBuiltin,
			Version:  "1.0.0",
			Trust:    TrustTrusted,
		},
		{
			Name:     "credit_card_number",
			Category: "pii",
			Pattern:  `\b(?:\d[ -]*?){13,16}\b`,
			Severity: 8,
			Source:   SourceBuiltin,
			Version:  "1.0.0",
			Trust:    TrustTrusted,
		},
		{
			Name:     "openai_style_api_key",
			Category: "secret",
			Pattern:  `sk-[A-Za-z0-9]{20,}`,
			Severity: 9,
			Source:   SourceBuiltin,
			Version:  "1.0.0",
			Trust:    TrustTrusted,
		},
		{
			Name:     "aws_access_key_id",
			Category: "secret",
			Pattern:  `AKIA[0-9A-Z]{16}`,
			Severity: 9,
			Source:   SourceBuiltin,
			Version:  "1.0.0",
			Trust:    TrustTrusted,
		},
		{
			Name:     "private_key_block",
			Category: "secret",
			Pattern:  `-----BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY-----`,
			Severity: 10,
			Source:   SourceBuiltin,
			Version:  "1.0.0",
			Trust:    TrustTrusted,
		},
		{
			Name:     "generic_bearer_token",
			Category: "secret",
			Pattern:  `(?i)bearer\s+[a-z0-9._\-]{20,}`,
			Severity: 7,
			Source:   SourceBuiltin,
			Version:  "1.0.0",
			Trust:    TrustTrusted,
		},
		{
			Name:     "ipv4_address",
			Category: "internal_network",
			Pattern:  `\b(?:\d{1,3}\.){3}\d{1,3}\b`,
			Severity: 2,
			Source:   SourceBuiltin,
			Version:  "1.0.0",
			Trust:    TrustTrusted,
		},
	}
	signed := make([]SensitivePattern, len(raw))
	for i, p := range raw {
		signed[i] = SignPattern(p)
	}
	return signed
}

// builtinSemanticRules returns the seed semantic-detector rule set. The
// Detector body is a CEL expression evaluated by the semantic validator,
// not interpreted here.
func builtinSemanticRules() []SemanticRule {
	raw := []SemanticRule{
		{
			ID:       "prompt_injection_override",
			Category: "injection",
			Severity: 8,
			Detector: `text.matches("(?i)ignore (all )?(previous|prior) instructions")`,
			Source:   SourceBuiltin,
			Version:  "1.0.0",
			Trust:    TrustTrusted,
		},
		{
			ID:       "exfiltration_intent",
			Category: "param_pollution",
			Severity: 7,
			Detector: `text.matches("(?i)(send|upload|post) .* to (http|ftp)")`,
			Source:   SourceBuiltin,
			Version:  "1.0.0",
			Trust:    TrustTrusted,
		},
		{
			ID:       "destructive_file_op",
			Category: "dangerous_combo",
			Severity: 6,
			Detector: `text.matches("(?i)rm -rf|del /s|format c:")`,
			Source:   SourceBuiltin,
			Version:  "1.0.0",
			Trust:    TrustTrusted,
		},
	}
	signed := make([]SemanticRule, len(raw))
	for i, r := range raw {
		signed[i] = SignSemantic(r)
	}
	return signed
}
