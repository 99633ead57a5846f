// Package cache provides fingerprint-validated LRU caches.
//
// An entry is valid only while the fingerprint it was stored with equals
// the fingerprint the caller derives now. There is no invalidation call:
// a changed input produces a different fingerprint and the next lookup
// recomputes.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"rscope/internal/slogutil"
)

// Fingerprint captures every input a cached value was derived from.
type Fingerprint struct {
	SelfContentHash        uint64 `json:"selfContentHash"`
	EdgesHash              uint64 `json:"edgesHash"`
	UpstreamInterfacesHash uint64 `json:"upstreamInterfacesHash"`
	WorkspaceIndexVersion  uint64 `json:"workspaceIndexVersion"`
}

func (f Fingerprint) String() string {
	return fmt.Sprintf("%016x/%016x/%016x/%d",
		f.SelfContentHash, f.EdgesHash, f.UpstreamInterfacesHash, f.WorkspaceIndexVersion)
}

type entry[V any] struct {
	fp    Fingerprint
	value V
}

// Cache maps keys to values tagged with a fingerprint. Lookups use Peek
// and never promote, so eviction follows insertion and update order.
type Cache[K comparable, V any] struct {
	name     string
	capacity int
	entries  *lru.Cache[K, entry[V]]
	flight   singleflight.Group
	logger   *slog.Logger

	hits     atomic.Int64
	misses   atomic.Int64
	computes atomic.Int64
}

// New creates a cache holding at most capacity entries.
func New[K comparable, V any](name string, capacity int, logger *slog.Logger) (*Cache[K, V], error) {
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}
	c := &Cache[K, V]{name: name, capacity: capacity, logger: logger}
	entries, err := lru.NewWithEvict[K, entry[V]](capacity, func(key K, _ entry[V]) {
		c.logger.Log(context.Background(), slogutil.LevelTrace, "Cache eviction", "cache", c.name, "key", key)
	})
	if err != nil {
		return nil, fmt.Errorf("create %s cache: %w", name, err)
	}
	c.entries = entries
	return c, nil
}

// Get returns the value for key if it was stored with fp.
func (c *Cache[K, V]) Get(key K, fp Fingerprint) (V, bool) {
	e, ok := c.entries.Peek(key)
	if ok && e.fp == fp {
		c.hits.Add(1)
		return e.value, true
	}
	c.misses.Add(1)
	var zero V
	return zero, false
}

// Latest returns whatever is stored for key, valid or not, with the
// fingerprint it was stored under.
func (c *Cache[K, V]) Latest(key K) (V, Fingerprint, bool) {
	e, ok := c.entries.Peek(key)
	return e.value, e.fp, ok
}

// Put stores value under key and fp.
func (c *Cache[K, V]) Put(key K, fp Fingerprint, value V) {
	c.entries.Add(key, entry[V]{fp: fp, value: value})
}

// GetOrCompute returns the cached value when its fingerprint matches fp,
// otherwise calls compute and stores the result. Concurrent misses for the
// same key and fingerprint share one compute call. Errors are not cached.
func (c *Cache[K, V]) GetOrCompute(key K, fp Fingerprint, compute func() (V, error)) (V, error) {
	if v, ok := c.Get(key, fp); ok {
		return v, nil
	}
	flightKey := fmt.Sprintf("%v|%s", key, fp)
	v, err, shared := c.flight.Do(flightKey, func() (interface{}, error) {
		// another caller may have stored it while we waited for the flight
		if e, ok := c.entries.Peek(key); ok && e.fp == fp {
			return e.value, nil
		}
		c.computes.Add(1)
		value, err := compute()
		if err != nil {
			return value, err
		}
		c.Put(key, fp, value)
		return value, nil
	})
	if shared {
		c.logger.Log(context.Background(), slogutil.LevelTrace, "Shared cache computation", "cache", c.name, "key", key)
	}
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// Len returns the number of stored entries.
func (c *Cache[K, V]) Len() int {
	return c.entries.Len()
}

// Stats reports usage counters.
type Stats struct {
	Name     string `json:"name"`
	Entries  int    `json:"entries"`
	Capacity int    `json:"capacity"`
	Hits     int64  `json:"hits"`
	Misses   int64  `json:"misses"`
	Computes int64  `json:"computes"`
}

func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Name:     c.name,
		Entries:  c.entries.Len(),
		Capacity: c.capacity,
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Computes: c.computes.Load(),
	}
}
