package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

const testPolicyYAML = `
active:
  version: "1"
  validators:
    security:
      id: security
      enabled: true
      enforcement: BLOCK
      domain: security
      priority: 0
`

func writeTestPolicy(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte(testPolicyYAML), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	return path
}

func writeTestContext(t *testing.T, dir string, tool string, params map[string]any) string {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"tool":   tool,
		"params": params,
		"run_id": "run-1",
	})
	if err != nil {
		t.Fatalf("marshal context: %v", err)
	}
	path := filepath.Join(dir, "context.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write context: %v", err)
	}
	return path
}

func TestRunCheckAllowsBenignCall(t *testing.T) {
	dir := t.TempDir()
	policyPath := writeTestPolicy(t, dir)
	contextPath := writeTestContext(t, dir, "read_file", map[string]any{"path": "notes.txt"})

	var stdout, stderr bytes.Buffer
	code := Run([]string{"failcore", "check", "--policy", policyPath, "--context", contextPath}, &stdout, &stderr)

	if code != 0 {
		t.Fatalf("expected exit code 0, got %d; stderr=%s", code, stderr.String())
	}
	if !bytes.Contains(stdout.Bytes(), []byte("decision: ALLOW")) {
		t.Fatalf("expected an ALLOW verdict, got: %s", stdout.String())
	}
}

func TestRunCheckBlocksPrivateNetworkFetch(t *testing.T) {
	dir := t.TempDir()
	policyPath := writeTestPolicy(t, dir)
	contextPath := writeTestContext(t, dir, "http_get", map[string]any{"url": "http://169.254.169.254/latest/meta-data"})

	var stdout, stderr bytes.Buffer
	code := Run([]string{"failcore", "check", "--policy", policyPath, "--context", contextPath}, &stdout, &stderr)

	if code != 1 {
		t.Fatalf("expected exit code 1 for a blocked call, got %d; stdout=%s stderr=%s", code, stdout.String(), stderr.String())
	}
	if !bytes.Contains(stdout.Bytes(), []byte("decision: BLOCK")) {
		t.Fatalf("expected a BLOCK verdict, got: %s", stdout.String())
	}
}

func TestRunCheckJSONOutputIsValid(t *testing.T) {
	dir := t.TempDir()
	policyPath := writeTestPolicy(t, dir)
	contextPath := writeTestContext(t, dir, "read_file", map[string]any{"path": "notes.txt"})

	var stdout, stderr bytes.Buffer
	code := Run([]string{"failcore", "check", "--policy", policyPath, "--context", contextPath, "--json"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d; stderr=%s", code, stderr.String())
	}

	var verdict map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &verdict); err != nil {
		t.Fatalf("expected valid JSON verdict, got %q: %v", stdout.String(), err)
	}
	if verdict["Decision"] != "ALLOW" {
		t.Fatalf("expected Decision=ALLOW in JSON verdict, got %+v", verdict)
	}
}

func TestRunCheckRequiresContextFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"failcore", "check"}, &stdout, &stderr)
	if code != 2 {
		t.Fatalf("expected exit code 2 for a missing --context flag, got %d", code)
	}
}

func TestRunUnknownCommandReturnsUsageError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"failcore", "bogus"}, &stdout, &stderr)
	if code != 2 {
		t.Fatalf("expected exit code 2 for an unknown command, got %d", code)
	}
}

func TestRunFullLifecycleEmitsTraceAndStatus(t *testing.T) {
	dir := t.TempDir()
	policyPath := writeTestPolicy(t, dir)

	stepsData, err := json.Marshal([]map[string]any{
		{"tool": "read_file", "params": map[string]any{"path": "notes.txt"}, "run_id": "run-2"},
	})
	if err != nil {
		t.Fatalf("marshal steps: %v", err)
	}
	stepsPath := filepath.Join(dir, "steps.json")
	if err := os.WriteFile(stepsPath, stepsData, 0o644); err != nil {
		t.Fatalf("write steps: %v", err)
	}
	tracePath := filepath.Join(dir, "trace.jsonl")

	var stdout, stderr bytes.Buffer
	code := Run([]string{"failcore", "run", "--policy", policyPath, "--steps", stepsPath, "--run-id", "run-2", "--trace", tracePath}, &stdout, &stderr)

	if code != 0 {
		t.Fatalf("expected exit code 0, got %d; stderr=%s", code, stderr.String())
	}
	if !bytes.Contains(stdout.Bytes(), []byte("run run-2 finished: SUCCESS")) {
		t.Fatalf("expected a success summary line, got: %s", stdout.String())
	}
}
