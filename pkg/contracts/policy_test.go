package contracts

import (
	"testing"
	"time"
)

func activeOnly() Policy {
	return Policy{
		Version: "v1",
		Validators: map[string]ValidatorConfig{
			"security": {ID: "security", Enabled: true, Enforcement: EnforcementBlock, Domain: DomainSecurity, Priority: 0},
			"dlp_guard": {ID: "dlp_guard", Enabled: true, Enforcement: EnforcementBlock, Domain: DomainDLP, Priority: 10},
		},
	}
}

func TestPolicyLayersMergeActiveOnly(t *testing.T) {
	layers := PolicyLayers{Active: activeOnly()}
	merged, audits, err := layers.Merge(time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(audits) != 0 {
		t.Fatalf("expected no breakglass audits, got %d", len(audits))
	}
	if merged["security"].Enforcement != EnforcementBlock {
		t.Fatalf("expected active enforcement preserved, got %s", merged["security"].Enforcement)
	}
}

func TestPolicyLayersShadowDowngradesEnforcement(t *testing.T) {
	shadow := Policy{Validators: map[string]ValidatorConfig{
		"dlp_guard": {Exceptions: nil},
	}}
	layers := PolicyLayers{Active: activeOnly(), Shadow: &shadow}
	merged, _, err := layers.Merge(time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if merged["dlp_guard"].Enforcement != EnforcementShadow {
		t.Fatalf("expected shadow-downgraded enforcement, got %s", merged["dlp_guard"].Enforcement)
	}
	if merged["security"].Enforcement != EnforcementBlock {
		t.Fatalf("shadow must not affect validators it does not list")
	}
}

func TestPolicyLayersShadowCannotAddValidator(t *testing.T) {
	shadow := Policy{Validators: map[string]ValidatorConfig{
		"semantic_intent": {},
	}}
	layers := PolicyLayers{Active: activeOnly(), Shadow: &shadow}
	if _, _, err := layers.Merge(time.Now()); err == nil {
		t.Fatal("expected error when shadow declares a validator absent from active")
	}
}

func TestPolicyLayersBreakglassRequiresActiveException(t *testing.T) {
	now := time.Now()
	breakglass := Policy{Validators: map[string]ValidatorConfig{
		"security": {
			Enforcement: EnforcementWarn,
			Exceptions: []Exception{
				{Reason: "incident-142", ExpiresAt: now.Add(time.Hour)},
			},
		},
	}}
	layers := PolicyLayers{Active: activeOnly(), Breakglass: &breakglass}

	merged, audits, err := layers.Merge(now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if merged["security"].Enforcement != EnforcementWarn {
		t.Fatalf("expected breakglass weakening to WARN, got %s", merged["security"].Enforcement)
	}
	if len(audits) != 1 || audits[0].Reason != "incident-142" {
		t.Fatalf("expected one breakglass audit entry, got %+v", audits)
	}
}

func TestPolicyLayersBreakglassExpiredExceptionInert(t *testing.T) {
	now := time.Now()
	breakglass := Policy{Validators: map[string]ValidatorConfig{
		"security": {
			Enforcement: EnforcementWarn,
			Exceptions: []Exception{
				{Reason: "stale", ExpiresAt: now.Add(-time.Hour)},
			},
		},
	}}
	layers := PolicyLayers{Active: activeOnly(), Breakglass: &breakglass}

	merged, audits, err := layers.Merge(now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if merged["security"].Enforcement != EnforcementBlock {
		t.Fatalf("expired exception must not weaken enforcement, got %s", merged["security"].Enforcement)
	}
	if len(audits) != 0 {
		t.Fatalf("expected no audit entries for an inert exception, got %d", len(audits))
	}
}

func TestPolicyLayersBreakglassCannotStrengthen(t *testing.T) {
	active := Policy{Validators: map[string]ValidatorConfig{
		"dlp_guard": {Enforcement: EnforcementShadow, Domain: DomainDLP},
	}}
	now := time.Now()
	breakglass := Policy{Validators: map[string]ValidatorConfig{
		"dlp_guard": {
			Enforcement: EnforcementBlock,
			Exceptions: []Exception{
				{Reason: "x", ExpiresAt: now.Add(time.Hour)},
			},
		},
	}}
	layers := PolicyLayers{Active: active, Breakglass: &breakglass}
	merged, _, err := layers.Merge(now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if merged["dlp_guard"].Enforcement != EnforcementShadow {
		t.Fatalf("breakglass must not raise enforcement, got %s", merged["dlp_guard"].Enforcement)
	}
}

func TestExceptionActive(t *testing.T) {
	now := time.Now()
	if (Exception{}).Active(now) {
		t.Fatal("zero-value exception must never be active")
	}
	if !(Exception{ExpiresAt: now.Add(time.Minute)}).Active(now) {
		t.Fatal("exception with future expiry must be active")
	}
	if (Exception{ExpiresAt: now.Add(-time.Minute)}).Active(now) {
		t.Fatal("exception with past expiry must be inactive")
	}
}
