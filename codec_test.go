package rproxy

import (
	"compress/gzip"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRequestHead(t *testing.T) {
	head := []byte("POST /api/public_file.txt HTTP/1.1\r\nHost: api.example.com\r\nContent-Type: application/json\r\nContent-Length: 73")
	rh, err := ParseRequestHead(head)
	require.NoError(t, err)
	require.Equal(t, "POST", rh.Method)
	require.Equal(t, "/api/public_file.txt", rh.Target)
	require.Equal(t, "HTTP/1.1", rh.Version)

	v, ok := rh.Headers.Get("Host")
	require.True(t, ok)
	require.Equal(t, "api.example.com", v)

	v, ok = rh.Headers.Get("Content-Length")
	require.True(t, ok)
	require.Equal(t, "73", v)
}

func TestParseRequestHeadInvalidLine(t *testing.T) {
	head := []byte("POST /api/public_file.txt\r\nHost: api.example.com")
	_, err := ParseRequestHead(head)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindBadRequest, kind)
}

func TestParseRequestHeadInvalidHeaders(t *testing.T) {
	head := []byte("POST /api/public_file.txt HTTP/1.1\r\nHost: api.example.com\r\nContent-Type application/json")
	_, err := ParseRequestHead(head)
	require.Error(t, err)
}

func TestParseResponseHead(t *testing.T) {
	head := []byte("HTTP/1.1 200 OK\r\nDate: Fri, 30 Jan 2026 16:08:00 GMT\r\nContent-Type: text/html\r\nContent-Length: 44")
	rh, err := ParseResponseHead(head)
	require.NoError(t, err)
	require.Equal(t, "HTTP/1.1", rh.Version)
	require.Equal(t, 200, rh.StatusCode)
	require.Equal(t, "OK", rh.Reason)

	v, ok := rh.Headers.Get("Content-Length")
	require.True(t, ok)
	require.Equal(t, "44", v)
}

func TestParseResponseHeadInvalid(t *testing.T) {
	head := []byte("HTTP/1.1 200 OK\r\nDate: Fri, 30 Jan 2026 16:08:00 GMT\r\nContent-Type text/html\r\nContent-Length: 44")
	_, err := ParseResponseHead(head)
	require.Error(t, err)
}

func TestReconstructRequestNoBody(t *testing.T) {
	headers := NewHeaderList()
	headers.Add("Host", "api.example.com")
	headers.Add("Content-Type", "application/json")
	headers.Add("Content-Length", "73")

	got := ReconstructRequest("POST", "/api/public_file.txt", "HTTP/1.1", headers, nil)
	want := "POST /api/public_file.txt HTTP/1.1\r\nHost: api.example.com\r\nContent-Type: application/json\r\nContent-Length: 73\r\n\r\n"
	require.Equal(t, want, string(got))
}

func TestReconstructRequestWithBody(t *testing.T) {
	headers := NewHeaderList()
	headers.Add("Host", "api.example.com")

	got := ReconstructRequest("POST", "/api/public_file.txt", "HTTP/1.1", headers, []byte("Hello World"))
	want := "POST /api/public_file.txt HTTP/1.1\r\nHost: api.example.com\r\n\r\nHello World"
	require.Equal(t, want, string(got))
}

func TestReconstructResponse(t *testing.T) {
	headers := NewHeaderList()
	headers.Add("Date", "Fri, 30 Jan 2026 16:08:00 GMT")
	headers.Add("Content-Type", "text/html")
	headers.Add("Content-Length", "44")

	got := ReconstructResponse("HTTP/1.1", 200, "OK", headers, nil)
	want := "HTTP/1.1 200 OK\r\nDate: Fri, 30 Jan 2026 16:08:00 GMT\r\nContent-Type: text/html\r\nContent-Length: 44\r\n\r\n"
	require.Equal(t, want, string(got))
}

func TestCacheControlMaxAgeQuoted(t *testing.T) {
	require.Equal(t, 604800, CacheControlMaxAge(`must-revalidate, max-age="604800"`))
}

func TestCacheControlMaxAgeUnquoted(t *testing.T) {
	require.Equal(t, 604800, CacheControlMaxAge("must-revalidate, max-age=604800"))
}

func TestCacheControlMaxAgeAbsent(t *testing.T) {
	require.Equal(t, 0, CacheControlMaxAge("must-revalidate"))
	require.Equal(t, 0, CacheControlMaxAge(" "))
}

func TestCompressGzip(t *testing.T) {
	message := []byte("Hello World")
	compressed, err := CompressGzip(message)
	require.NoError(t, err)

	r, err := gzip.NewReader(strings.NewReader(string(compressed)))
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, message, out)
}
