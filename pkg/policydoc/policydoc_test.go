package policydoc

import "testing"

const yamlDoc = `
active:
  version: "1"
  validators:
    security:
      id: security
      enabled: true
      enforcement: BLOCK
      domain: security
      priority: 0
shadow:
  version: "1"
  validators:
    security:
      id: security
      enabled: true
      enforcement: SHADOW
      domain: security
      priority: 0
`

const jsonDoc = `{
  "active": {
    "version": "1",
    "validators": {
      "security": {"id": "security", "enabled": true, "enforcement": "BLOCK", "domain": "security", "priority": 0}
    }
  }
}`

func TestParseYAMLDocument(t *testing.T) {
	layers, err := Parse([]byte(yamlDoc), FormatYAML)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if layers.Active.Version != "1" {
		t.Fatalf("expected active version 1, got %q", layers.Active.Version)
	}
	if layers.Shadow == nil || layers.Shadow.Validators["security"].Enforcement != "SHADOW" {
		t.Fatalf("expected shadow layer to be parsed, got %+v", layers.Shadow)
	}
}

func TestParseJSONDocument(t *testing.T) {
	layers, err := Parse([]byte(jsonDoc), FormatJSON)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := layers.Active.Validators["security"]; !ok {
		t.Fatalf("expected security validator in active layer, got %+v", layers.Active.Validators)
	}
}

func TestParseRejectsMissingActiveVersion(t *testing.T) {
	_, err := Parse([]byte(`active: {}`), FormatYAML)
	if err == nil {
		t.Fatal("expected error for missing active.version")
	}
}

func TestFormatForDispatchesOnExtension(t *testing.T) {
	if formatFor("/tmp/policy.json") != FormatJSON {
		t.Fatal("expected .json to dispatch to FormatJSON")
	}
	if formatFor("/tmp/policy.yaml") != FormatYAML {
		t.Fatal("expected .yaml to dispatch to FormatYAML")
	}
	if formatFor("/tmp/policy.yml") != FormatYAML {
		t.Fatal("expected .yml to dispatch to FormatYAML")
	}
}

func TestLoadRulesRegistryPathIsDirectoryRelative(t *testing.T) {
	got := LoadRulesRegistryPath("/etc/failcore/policy.yaml")
	want := "/etc/failcore/rules.yaml"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
