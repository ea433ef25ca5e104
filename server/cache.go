package main

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/simplelru"
)

// cacheEntry is one introspection result and the time it was computed.
type cacheEntry struct {
	value interface{}
	err   error
	at    time.Time
}

// introspectionCache memoizes recent scheduler.PCPUSnapshot/UsageMicros
// results by request signature, the same LRU+mutex+counters shape as the
// teacher's storageBase, but short-lived entries keyed by query rather than
// collection name: the scheduler's state changes every tick, so a cached
// snapshot is only worth serving for ttl before it must be recomputed.
type introspectionCache struct {
	mu                      sync.Mutex
	lru                     *simplelru.LRU
	ttl                     time.Duration
	hits, misses, evictions int
	now                     func() time.Time
}

func newIntrospectionCache(size int, ttl time.Duration) (*introspectionCache, error) {
	lru, err := simplelru.NewLRU(size, nil)
	if err != nil {
		return nil, err
	}
	return &introspectionCache{lru: lru, ttl: ttl, now: time.Now}, nil
}

// getOrCompute returns the cached result for key if it's younger than ttl,
// otherwise calls compute, caches, and returns its result.
func (c *introspectionCache) getOrCompute(key string, compute func() (interface{}, error)) (interface{}, error) {
	c.mu.Lock()
	if v, ok := c.lru.Get(key); ok {
		entry := v.(*cacheEntry)
		if c.now().Sub(entry.at) < c.ttl {
			c.hits++
			c.mu.Unlock()
			return entry.value, entry.err
		}
	}
	c.mu.Unlock()

	value, err := compute()

	c.mu.Lock()
	c.misses++
	if c.lru.Add(key, &cacheEntry{value: value, err: err, at: c.now()}) {
		c.evictions++
	}
	c.mu.Unlock()
	return value, err
}

// stats reports cache hit/miss/eviction counters, for use in testing.
func (c *introspectionCache) stats() (hits, misses, evictions int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.evictions
}
