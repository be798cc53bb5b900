package rproxy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderListPreservesOrder(t *testing.T) {
	h := NewHeaderList()
	h.Add("Host", "api.example.com")
	h.Add("Content-Type", "application/json")
	h.Add("Accept-Encoding", "gzip")

	var names []string
	h.Each(func(name, value string) { names = append(names, name) })
	require.Equal(t, []string{"Host", "Content-Type", "Accept-Encoding"}, names)
}

func TestHeaderListGetCaseInsensitive(t *testing.T) {
	h := NewHeaderList()
	h.Add("Content-Length", "9")

	v, ok := h.Get("content-length")
	require.True(t, ok)
	require.Equal(t, "9", v)
}

func TestHeaderListSetReplacesFirstMatch(t *testing.T) {
	h := NewHeaderList()
	h.Add("Content-Length", "9")
	h.Set("content-length", "11")

	require.Equal(t, 1, h.Len())
	v, _ := h.Get("Content-Length")
	require.Equal(t, "11", v)
}

func TestHeaderListSetAppendsWhenAbsent(t *testing.T) {
	h := NewHeaderList()
	h.Set("Content-Encoding", "gzip")

	v, ok := h.Get("Content-Encoding")
	require.True(t, ok)
	require.Equal(t, "gzip", v)
}

func TestHeaderListDelRemovesAllMatches(t *testing.T) {
	h := NewHeaderList()
	h.Add("Connection", "keep-alive")
	h.Add("Host", "example.com")
	h.Del("connection")

	require.False(t, h.Has("Connection"))
	require.Equal(t, 1, h.Len())
}

func TestHeaderListClone(t *testing.T) {
	h := NewHeaderList()
	h.Add("Host", "example.com")

	clone := h.Clone()
	clone.Set("Host", "other.example.com")

	v, _ := h.Get("Host")
	require.Equal(t, "example.com", v)
	v, _ = clone.Get("Host")
	require.Equal(t, "other.example.com", v)
}
