package scancache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestHashKeyDeterministic(t *testing.T) {
	a := HashKey("dlp", "payload-1")
	b := HashKey("dlp", "payload-1")
	if a != b {
		t.Fatal("expected identical scanner+payload to hash identically")
	}
	c := HashKey("dlp", "payload-2")
	if a == c {
		t.Fatal("expected different payloads to hash differently")
	}
}

func TestCacheSetGet(t *testing.T) {
	c := New(0, 0)
	key := HashKey("semantic", "x")
	c.Set(key, 42)
	v, ok := c.Get(key)
	if !ok || v.(int) != 42 {
		t.Fatalf("expected cached value 42, got %v ok=%v", v, ok)
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := New(2, 0)
	k1 := HashKey("t", "1")
	k2 := HashKey("t", "2")
	k3 := HashKey("t", "3")

	c.Set(k1, "a")
	c.Set(k2, "b")
	c.Get(k1) // touch k1, making k2 least-recently-used
	c.Set(k3, "c")

	if _, ok := c.Get(k2); ok {
		t.Fatal("expected k2 to be evicted as least-recently-used")
	}
	if _, ok := c.Get(k1); !ok {
		t.Fatal("expected k1 to survive eviction")
	}
	if _, ok := c.Get(k3); !ok {
		t.Fatal("expected k3 to be present")
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := now
	c := New(0, time.Minute).WithClock(func() time.Time { return clock })

	key := HashKey("t", "x")
	c.Set(key, "v")

	clock = now.Add(30 * time.Second)
	if _, ok := c.Get(key); !ok {
		t.Fatal("expected entry to still be valid before TTL elapses")
	}

	clock = now.Add(2 * time.Minute)
	if _, ok := c.Get(key); ok {
		t.Fatal("expected entry to expire after TTL elapses")
	}
}

func TestGetOrScanRunsOnce(t *testing.T) {
	c := New(0, 0)
	key := HashKey("t", "x")
	var calls int32

	scan := func() (any, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(10 * time.Millisecond)
		return "result", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrScan(key, scan)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if v != nil && v.(string) != "result" {
				t.Errorf("unexpected value: %v", v)
			}
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected scan function to run exactly once, ran %d times", calls)
	}
}

func TestGetOrScanDoesNotCacheErrors(t *testing.T) {
	c := New(0, 0)
	key := HashKey("t", "x")
	var calls int32

	failThenSucceed := func() (any, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return nil, errors.New("scan failed")
		}
		return "ok", nil
	}

	if _, err := c.GetOrScan(key, failThenSucceed); err == nil {
		t.Fatal("expected first call to surface the scan error")
	}
	v, err := c.GetOrScan(key, failThenSucceed)
	if err != nil || v.(string) != "ok" {
		t.Fatalf("expected retry after failure to succeed, got v=%v err=%v", v, err)
	}
}
