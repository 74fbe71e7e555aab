package replay

import (
	"testing"
	"time"

	"github.com/failcore/core/pkg/fingerprint"
)

func testFingerprint(t *testing.T, tool string) fingerprint.Fingerprint {
	t.Helper()
	fp, err := fingerprint.Compute(fingerprint.Components{
		Tool:       tool,
		Params:     map[string]any{"path": "notes.txt"},
		PolicyHash: "sha256:p",
		RulesHash:  "sha256:r",
	})
	if err != nil {
		t.Fatalf("unexpected fingerprint error: %v", err)
	}
	return fp
}

func TestLookupMissesOnEmptyCache(t *testing.T) {
	c := NewCache(16, time.Minute)
	if _, ok := c.Lookup(testFingerprint(t, "read_file")); ok {
		t.Fatal("expected a miss on an empty cache")
	}
}

func TestStoreThenLookupHits(t *testing.T) {
	c := NewCache(16, time.Minute)
	fp := testFingerprint(t, "read_file")
	out := Outcome{Decision: "ALLOW", Code: "OK", CachedAt: time.Now()}
	c.Store(fp, out)

	got, ok := c.Lookup(fp)
	if !ok {
		t.Fatal("expected a hit after Store")
	}
	if got.Decision != out.Decision || got.Code != out.Code {
		t.Fatalf("expected %+v, got %+v", out, got)
	}
}

func TestDifferentFingerprintsDoNotCollide(t *testing.T) {
	c := NewCache(16, time.Minute)
	a := testFingerprint(t, "read_file")
	b := testFingerprint(t, "write_file")

	c.Store(a, Outcome{Decision: "ALLOW"})
	if _, ok := c.Lookup(b); ok {
		t.Fatal("expected a miss for a distinct tool fingerprint")
	}
}

func TestEntriesExpireAfterTTL(t *testing.T) {
	c := NewCache(16, time.Millisecond)
	fp := testFingerprint(t, "read_file")
	c.Store(fp, Outcome{Decision: "ALLOW"})

	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Lookup(fp); ok {
		t.Fatal("expected the entry to have expired")
	}
}

func TestHitDataCarriesFingerprintAndSavings(t *testing.T) {
	fp := testFingerprint(t, "read_file")
	out := Outcome{Decision: "ALLOW", Code: "OK", SavedMs: 120, SavedTokens: 450}

	data := HitData(fp, out)
	if data.HitKey != fp.Hash {
		t.Fatalf("expected hit key %q, got %q", fp.Hash, data.HitKey)
	}
	if data.CacheSource != CacheSource {
		t.Fatalf("expected cache source %q, got %q", CacheSource, data.CacheSource)
	}
	if data.SavedMs != 120 || data.SavedTokens != 450 {
		t.Fatalf("expected savings to carry through, got %+v", data)
	}
}
