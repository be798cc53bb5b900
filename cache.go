package rproxy

import (
	"sync"
	"time"
)

// cacheKey identifies a cacheable response. POST requests are never stored
// or looked up, so no request body or method variant beyond GET/HEAD-style
// reads needs to be part of the key.
type cacheKey struct {
	method string
	path   string
}

type cacheEntry struct {
	response []byte
	expiry   time.Time
}

// Cache stores full, already-reconstructed HTTP responses keyed by
// (method, path) for up to the TTL each response was cached with. There is
// no background sweep: an entry only disappears on the lookup that finds it
// expired, which keeps the cache itself lock-cheap and allocation-free when
// idle.
type Cache struct {
	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
	metrics *metrics
}

// NewCache returns an empty response cache.
func NewCache(m *metrics) *Cache {
	return &Cache{
		entries: make(map[cacheKey]cacheEntry),
		metrics: m,
	}
}

// Get returns the cached response for method+path, if present and not
// expired. A POST never hits the cache.
func (c *Cache) Get(method, path string) ([]byte, bool) {
	if method == "POST" {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey{method: method, path: path}
	entry, ok := c.entries[key]
	if !ok {
		c.metrics.cacheMisses.Inc()
		return nil, false
	}
	if time.Now().After(entry.expiry) {
		delete(c.entries, key)
		c.metrics.cacheEntries.Set(float64(len(c.entries)))
		c.metrics.cacheMisses.Inc()
		return nil, false
	}
	c.metrics.cacheHits.Inc()
	return entry.response, true
}

// Add stores response under (method, path) for maxAge seconds. A POST is
// never stored; a non-positive maxAge is a no-op.
func (c *Cache) Add(method, path string, response []byte, maxAge int) {
	if method == "POST" || maxAge <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[cacheKey{method: method, path: path}] = cacheEntry{
		response: response,
		expiry:   time.Now().Add(time.Duration(maxAge) * time.Second),
	}
	c.metrics.cacheEntries.Set(float64(len(c.entries)))
}
