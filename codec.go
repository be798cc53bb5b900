package rproxy

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// headerDelimiter marks the end of the head section of an HTTP/1.1 message.
var headerDelimiter = []byte("\r\n\r\n")

// RequestHead is the parsed top line and headers of an HTTP request, in the
// exact name casing and order the client sent them.
type RequestHead struct {
	Method  string
	Target  string
	Version string
	Headers *HeaderList
}

// ResponseHead is the parsed top line and headers of an HTTP response, in
// the exact name casing and order the backend sent them.
type ResponseHead struct {
	Version    string
	StatusCode int
	Reason     string
	Headers    *HeaderList
}

// FindHeadEnd returns the offset of the first byte following the header
// delimiter in buf, or -1 if the delimiter has not been seen yet.
func FindHeadEnd(buf []byte) int {
	i := bytes.Index(buf, headerDelimiter)
	if i < 0 {
		return -1
	}
	return i + len(headerDelimiter)
}

// ParseRequestHead parses the request line and headers out of head (the
// bytes up to, but not including, the header delimiter).
func ParseRequestHead(head []byte) (*RequestHead, error) {
	lines := strings.Split(string(head), "\r\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, newError(KindBadRequest, nil, "empty request line")
	}
	parts := strings.Fields(lines[0])
	if len(parts) != 3 {
		return nil, newError(KindBadRequest, nil, "malformed request line")
	}
	rh := &RequestHead{
		Method:  parts[0],
		Target:  parts[1],
		Version: parts[2],
		Headers: NewHeaderList(),
	}
	if err := parseHeaderLines(lines[1:], rh.Headers); err != nil {
		return nil, err
	}
	return rh, nil
}

// ParseResponseHead parses the status line and headers out of head (the
// bytes up to, but not including, the header delimiter).
func ParseResponseHead(head []byte) (*ResponseHead, error) {
	lines := strings.Split(string(head), "\r\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, newError(KindBackendMalformed, nil, "empty status line")
	}
	parts := strings.SplitN(lines[0], " ", 3)
	if len(parts) != 3 {
		return nil, newError(KindBackendMalformed, nil, "malformed status line")
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, newError(KindBackendMalformed, err, "malformed status code")
	}
	rh := &ResponseHead{
		Version:    parts[0],
		StatusCode: code,
		Reason:     parts[2],
		Headers:    NewHeaderList(),
	}
	if err := parseHeaderLines(lines[1:], rh.Headers); err != nil {
		return nil, &ProxyError{Kind: KindBackendMalformed, cause: err}
	}
	return rh, nil
}

func parseHeaderLines(lines []string, out *HeaderList) error {
	for _, l := range lines {
		if l == "" {
			continue
		}
		name, value, ok := strings.Cut(l, ": ")
		if !ok {
			return newError(KindBadRequest, nil, "malformed header line: "+l)
		}
		if !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(value) {
			return newError(KindBadRequest, nil, "invalid header: "+name)
		}
		out.Add(name, value)
	}
	return nil
}

// ReconstructRequest serializes a request head and body back into wire
// format, in the same header order they were parsed or appended in.
func ReconstructRequest(method, target, version string, headers *HeaderList, body []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s %s\r\n", method, target, version)
	headers.Each(func(name, value string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", name, value)
	})
	buf.WriteString("\r\n")
	buf.Write(body)
	return buf.Bytes()
}

// ReconstructResponse serializes a response head and body back into wire
// format, in the same header order they were parsed or appended in.
func ReconstructResponse(version string, statusCode int, reason string, headers *HeaderList, body []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %d %s\r\n", version, statusCode, reason)
	headers.Each(func(name, value string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", name, value)
	})
	buf.WriteString("\r\n")
	buf.Write(body)
	return buf.Bytes()
}

// CompressGzip gzip-compresses body for a response being sent to a client
// that advertised gzip support and whose backend did not already encode it.
func CompressGzip(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var maxAgeRe = regexp.MustCompile(`\bmax-age="?(\d+)`)

// CacheControlMaxAge extracts the max-age directive (in seconds) from a
// Cache-Control header value. It returns 0 if the directive is absent or
// non-positive, in which case the response is not a cache candidate.
func CacheControlMaxAge(directives string) int {
	m := maxAgeRe.FindStringSubmatch(directives)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 0 {
		return 0
	}
	return n
}
