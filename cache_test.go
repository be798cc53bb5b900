package rproxy

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	return NewCache(NewMetrics(prometheus.NewRegistry()))
}

func TestCacheMissThenHit(t *testing.T) {
	c := newTestCache(t)

	_, ok := c.Get("GET", "/index.html")
	require.False(t, ok)

	resp := []byte("HTTP/1.1 200 OK\r\n\r\nhello")
	c.Add("GET", "/index.html", resp, 60)

	got, ok := c.Get("GET", "/index.html")
	require.True(t, ok)
	require.Equal(t, resp, got)
}

func TestCachePOSTNeverCached(t *testing.T) {
	c := newTestCache(t)
	c.Add("POST", "/submit", []byte("HTTP/1.1 200 OK\r\n\r\n"), 60)

	_, ok := c.Get("POST", "/submit")
	require.False(t, ok)
}

func TestCacheExpiresOnLookup(t *testing.T) {
	c := newTestCache(t)
	resp := []byte("HTTP/1.1 200 OK\r\n\r\nhello")
	c.Add("GET", "/index.html", resp, 1)

	// Force expiry without a background sweep: backdate the entry directly.
	c.mu.Lock()
	entry := c.entries[cacheKey{method: "GET", path: "/index.html"}]
	entry.expiry = time.Now().Add(-time.Second)
	c.entries[cacheKey{method: "GET", path: "/index.html"}] = entry
	c.mu.Unlock()

	_, ok := c.Get("GET", "/index.html")
	require.False(t, ok)
}

func TestCacheZeroMaxAgeNotStored(t *testing.T) {
	c := newTestCache(t)
	c.Add("GET", "/index.html", []byte("HTTP/1.1 200 OK\r\n\r\n"), 0)

	_, ok := c.Get("GET", "/index.html")
	require.False(t, ok)
}

func TestCacheKeyedByPathAndMethod(t *testing.T) {
	c := newTestCache(t)
	c.Add("GET", "/a", []byte("a-response"), 60)
	c.Add("GET", "/b", []byte("b-response"), 60)

	a, ok := c.Get("GET", "/a")
	require.True(t, ok)
	require.Equal(t, []byte("a-response"), a)

	b, ok := c.Get("GET", "/b")
	require.True(t, ok)
	require.Equal(t, []byte("b-response"), b)

	_, ok = c.Get("HEAD", "/a")
	require.False(t, ok)
}
