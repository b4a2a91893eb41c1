/*
	Package cache holds the bounded in-memory caches used by the volume backends: a
	generic least-recently-used SliceCache, a Fetcher that adds single-flight
	decode-on-miss semantics on top of it, and a byte-budgeted ByteCache used as a
	compressed second tier for decoded chunks.
*/
package cache

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/janelia-flyem/ooc/ooc"
)

type entry[K comparable, V any] struct {
	key   K
	value V
}

// SliceCache is a thread-safe LRU cache.  Items are kept in a list in most-recently-used
// order with a map from key to list element.  Capacity is in entries.
type SliceCache[K comparable, V any] struct {
	mu       sync.RWMutex
	capacity int
	items    *list.List // of *entry[K,V], front is most recently used
	lookup   map[K]*list.Element
}

// NewSliceCache returns an empty cache holding at most capacity entries.
func NewSliceCache[K comparable, V any](capacity int) (*SliceCache[K, V], error) {
	if capacity <= 0 {
		return nil, ooc.NewError("new cache", "", ooc.ErrInvalidArgument,
			fmt.Errorf("capacity must be > 0, got %d", capacity))
	}
	return &SliceCache[K, V]{
		capacity: capacity,
		items:    list.New(),
		lookup:   make(map[K]*list.Element, capacity),
	}, nil
}

// Get returns the value for key and makes it the most recently used entry.
// ErrKeyNotFound is returned if key is not cached.
func (c *SliceCache[K, V]) Get(key K) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, found := c.lookup[key]
	if !found {
		var zero V
		return zero, ooc.ErrKeyNotFound
	}
	c.items.MoveToFront(elem)
	return elem.Value.(*entry[K, V]).value, nil
}

// Put inserts or replaces the value for key, making it the most recently used entry.
// If the cache then holds more than its capacity, the least recently used entry is evicted.
func (c *SliceCache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, found := c.lookup[key]; found {
		c.items.Remove(elem)
		delete(c.lookup, key)
	}
	c.lookup[key] = c.items.PushFront(&entry[K, V]{key, value})
	if len(c.lookup) > c.capacity {
		c.removeOldest()
	}
}

// Contains returns true if key is cached.  It does not change recency.
func (c *SliceCache[K, V]) Contains(key K) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, found := c.lookup[key]
	return found
}

// SetCapacity changes the maximum number of entries, evicting least recently used
// entries until the cache fits.
func (c *SliceCache[K, V]) SetCapacity(capacity int) error {
	if capacity <= 0 {
		return ooc.NewError("set cache capacity", "", ooc.ErrInvalidArgument,
			fmt.Errorf("capacity must be > 0, got %d", capacity))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capacity = capacity
	for len(c.lookup) > c.capacity {
		c.removeOldest()
	}
	return nil
}

// Capacity returns the maximum number of entries.
func (c *SliceCache[K, V]) Capacity() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.capacity
}

// Len returns the current number of entries.
func (c *SliceCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.lookup)
}

// Keys returns the cached keys, most recently used first.
func (c *SliceCache[K, V]) Keys() []K {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]K, 0, len(c.lookup))
	for elem := c.items.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*entry[K, V]).key)
	}
	return keys
}

// Purge empties the cache.
func (c *SliceCache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Init()
	c.lookup = make(map[K]*list.Element, c.capacity)
}

// must hold write lock
func (c *SliceCache[K, V]) removeOldest() {
	elem := c.items.Back()
	if elem == nil {
		return
	}
	c.items.Remove(elem)
	delete(c.lookup, elem.Value.(*entry[K, V]).key)
}
