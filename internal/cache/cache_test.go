package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func newTestCache(t *testing.T, capacity int) *Cache[string, int] {
	t.Helper()
	c, err := New[string, int]("test", capacity, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestGetRequiresMatchingFingerprint(t *testing.T) {
	c := newTestCache(t, 4)
	fp := Fingerprint{SelfContentHash: 1, EdgesHash: 2}
	c.Put("a", fp, 10)

	if v, ok := c.Get("a", fp); !ok || v != 10 {
		t.Errorf("Get(matching) = %d, %v, want 10, true", v, ok)
	}

	stale := []Fingerprint{
		{SelfContentHash: 9, EdgesHash: 2},
		{SelfContentHash: 1, EdgesHash: 9},
		{SelfContentHash: 1, EdgesHash: 2, UpstreamInterfacesHash: 1},
		{SelfContentHash: 1, EdgesHash: 2, WorkspaceIndexVersion: 1},
	}
	for _, fp := range stale {
		if _, ok := c.Get("a", fp); ok {
			t.Errorf("Get(%s) hit, want miss", fp)
		}
	}
}

func TestGetOrComputeCachesAndRecomputes(t *testing.T) {
	c := newTestCache(t, 4)
	calls := 0
	compute := func() (int, error) {
		calls++
		return calls * 100, nil
	}

	fp1 := Fingerprint{SelfContentHash: 1}
	v, err := c.GetOrCompute("a", fp1, compute)
	if err != nil || v != 100 {
		t.Fatalf("first GetOrCompute = %d, %v", v, err)
	}
	v, _ = c.GetOrCompute("a", fp1, compute)
	if v != 100 || calls != 1 {
		t.Errorf("second GetOrCompute = %d (calls %d), want 100 (calls 1)", v, calls)
	}

	fp2 := Fingerprint{SelfContentHash: 2}
	v, _ = c.GetOrCompute("a", fp2, compute)
	if v != 200 || calls != 2 {
		t.Errorf("GetOrCompute after fingerprint change = %d (calls %d), want 200 (calls 2)", v, calls)
	}

	latest, fp, ok := c.Latest("a")
	if !ok || latest != 200 || fp != fp2 {
		t.Errorf("Latest = %d, %s, %v", latest, fp, ok)
	}
}

func TestGetOrComputeErrorNotCached(t *testing.T) {
	c := newTestCache(t, 4)
	boom := errors.New("boom")
	if _, err := c.GetOrCompute("a", Fingerprint{}, func() (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d after failed compute, want 0", c.Len())
	}
}

func TestEvictionIgnoresReads(t *testing.T) {
	c := newTestCache(t, 2)
	fp := Fingerprint{}
	c.Put("a", fp, 1)
	c.Put("b", fp, 2)
	// reads do not promote "a"
	c.Get("a", fp)
	c.Get("a", fp)
	c.Put("c", fp, 3)

	if _, ok := c.Get("a", fp); ok {
		t.Error("a should have been evicted as the oldest insertion")
	}
	if _, ok := c.Get("b", fp); !ok {
		t.Error("b should still be cached")
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

func TestGetOrComputeConcurrent(t *testing.T) {
	c := newTestCache(t, 8)
	var calls atomic.Int64
	release := make(chan struct{})
	fp := Fingerprint{EdgesHash: 7}

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrCompute("k", fp, func() (int, error) {
				calls.Add(1)
				<-release
				return 42, nil
			})
			if err != nil {
				t.Errorf("GetOrCompute: %v", err)
			}
			results[i] = v
		}(i)
	}
	close(release)
	wg.Wait()

	for i, v := range results {
		if v != 42 {
			t.Errorf("results[%d] = %d, want 42", i, v)
		}
	}
	// late arrivals may start a second flight after the first stored its
	// value, but they find it in the cache
	if n := calls.Load(); n < 1 || n > 8 {
		t.Errorf("compute calls = %d", n)
	}
	if v, ok := c.Get("k", fp); !ok || v != 42 {
		t.Errorf("Get after compute = %d, %v", v, ok)
	}
}

func TestNewRejectsZeroCapacity(t *testing.T) {
	if _, err := New[string, int]("bad", 0, nil); err == nil {
		t.Error("New with capacity 0 should fail")
	}
}

func TestStats(t *testing.T) {
	c := newTestCache(t, 3)
	fp := Fingerprint{}
	c.Put("a", fp, 1)
	c.Get("a", fp)
	c.Get("b", fp)
	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 || s.Entries != 1 || s.Capacity != 3 || s.Name != "test" {
		t.Errorf("Stats = %+v", s)
	}
}
