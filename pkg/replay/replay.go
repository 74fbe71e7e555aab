// Package replay implements the replay fingerprint contract: a
// deterministic-outcome cache keyed on a step's fingerprint, so a tool
// call whose shape, policy, and rules exactly match a prior call can
// skip re-validation (and, for the caller, re-execution) entirely.
package replay

import (
	"time"

	"github.com/failcore/core/pkg/contracts"
	"github.com/failcore/core/pkg/fingerprint"
	"github.com/failcore/core/pkg/scancache"
)

// CacheSource identifies this package as the origin of a REPLAY_HIT event,
// distinguishing it from any other cache a future trace consumer might see.
const CacheSource = "replay.Cache"

// Outcome is what gets cached and replayed for a matching fingerprint.
// SavedMs/SavedTokens are the caller's estimate of what replaying this
// outcome saves versus re-running validation (and execution); they flow
// straight into a REPLAY_HIT trace event's ReplayHitData on a hit.
type Outcome struct {
	Decision    string
	Code        string
	Result      any
	CachedAt    time.Time
	SavedMs     int64
	SavedTokens int64
}

// Cache memoizes step outcomes by fingerprint hash. It is a thin,
// domain-typed wrapper over scancache.Cache — the same bounded,
// TTL-expiring LRU used for validator scan memoization — so both share
// one eviction policy and one mental model.
type Cache struct {
	backing *scancache.Cache
}

// NewCache builds a replay Cache bounded to capacity entries, each valid
// for ttl.
func NewCache(capacity int, ttl time.Duration) *Cache {
	return &Cache{backing: scancache.New(capacity, ttl)}
}

func (c *Cache) key(fp fingerprint.Fingerprint) scancache.Key {
	return scancache.Key{ScannerType: "replay", PayloadHash: fp.Hash}
}

// Lookup returns the cached Outcome for fp's hash, if present and
// unexpired. A hit means the caller may skip re-validating (and,
// optionally, re-executing) this step.
func (c *Cache) Lookup(fp fingerprint.Fingerprint) (Outcome, bool) {
	v, ok := c.backing.Get(c.key(fp))
	if !ok {
		return Outcome{}, false
	}
	return v.(Outcome), true
}

// Store memoizes out under fp's hash.
func (c *Cache) Store(fp fingerprint.Fingerprint, out Outcome) {
	c.backing.Set(c.key(fp), out)
}

// HitData builds the ReplayHitData payload for a REPLAY_HIT trace event
// from a successful Lookup.
func HitData(fp fingerprint.Fingerprint, out Outcome) contracts.ReplayHitData {
	return contracts.ReplayHitData{
		HitKey:      fp.Hash,
		CacheSource: CacheSource,
		SavedTokens: out.SavedTokens,
		SavedMs:     out.SavedMs,
	}
}
