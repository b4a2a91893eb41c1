package cache

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// LoadFunc reads the value for a key from its backing store.
type LoadFunc[K comparable, V any] func(key K) (V, error)

// FetchStats are cumulative counts for a Fetcher.
type FetchStats struct {
	Hits   int64 // served from cache without entering a flight
	Misses int64 // entered a flight
	Loads  int64 // executions of a LoadFunc
}

// Fetcher wraps a SliceCache with decode-on-miss semantics.  For any key, at most one
// load is in flight at a time; callers that race on a missing key wait for and share
// that load's result.
type Fetcher[K comparable, V any] struct {
	cache  *SliceCache[K, V]
	flight singleflight.Group

	// generation is bumped by Purge.  Values loaded under an older generation
	// are returned to their callers but not cached.  purgeMu orders the generation
	// check and insert of a load against Purge.
	purgeMu    sync.Mutex
	generation atomic.Uint64

	hits, misses, loads atomic.Int64
}

// NewFetcher returns a Fetcher over the given cache.
func NewFetcher[K comparable, V any](c *SliceCache[K, V]) *Fetcher[K, V] {
	return &Fetcher[K, V]{cache: c}
}

// Cache returns the underlying cache.
func (f *Fetcher[K, V]) Cache() *SliceCache[K, V] {
	return f.cache
}

// Fetch returns the cached value for key or loads it.  The sequence is: check the cache
// under its read lock; on a miss join the key's flight; inside the flight re-check the
// cache, since a previous flight may have just filled it; else load and insert.
func (f *Fetcher[K, V]) Fetch(key K, load LoadFunc[K, V]) (V, error) {
	if f.cache.Contains(key) {
		if v, err := f.cache.Get(key); err == nil {
			f.hits.Add(1)
			return v, nil
		}
	}
	f.misses.Add(1)
	gen := f.generation.Load()
	v, err, _ := f.flight.Do(fmt.Sprintf("%v", key), func() (interface{}, error) {
		if v, err := f.cache.Get(key); err == nil {
			return v, nil
		}
		f.loads.Add(1)
		v, err := load(key)
		if err != nil {
			return nil, err
		}
		f.purgeMu.Lock()
		if f.generation.Load() == gen {
			f.cache.Put(key, v)
		}
		f.purgeMu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	if v == nil {
		var zero V
		return zero, nil
	}
	return v.(V), nil
}

// Purge empties the cache and invalidates loads currently in flight.
func (f *Fetcher[K, V]) Purge() {
	f.purgeMu.Lock()
	defer f.purgeMu.Unlock()
	f.generation.Add(1)
	f.cache.Purge()
}

// Generation returns the number of purges so far.
func (f *Fetcher[K, V]) Generation() uint64 {
	return f.generation.Load()
}

// Stats returns cumulative hit, miss and load counts.
func (f *Fetcher[K, V]) Stats() FetchStats {
	return FetchStats{
		Hits:   f.hits.Load(),
		Misses: f.misses.Load(),
		Loads:  f.loads.Load(),
	}
}
