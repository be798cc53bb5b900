package rproxy

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a proxy error so handlers can pick the right client-facing
// status code without string matching.
type Kind int

const (
	// KindBadRequest means the client sent a head the codec could not parse.
	KindBadRequest Kind = iota
	// KindHeaderTooLarge means the request head exceeded the buffer limit
	// before a header delimiter was found.
	KindHeaderTooLarge
	// KindNoBackend means the load balancer has no server to offer.
	KindNoBackend
	// KindConnectFailed means dialing the chosen backend failed.
	KindConnectFailed
	// KindBackendIO means a read or write against an established backend
	// connection failed.
	KindBackendIO
	// KindBackendMalformed means the backend sent a response the codec
	// could not parse.
	KindBackendMalformed
	// KindClientIO means a read or write against the client connection
	// failed.
	KindClientIO
	// KindHandshakeFailed means the TLS handshake with the client failed.
	KindHandshakeFailed
	// KindTimeoutIdle means a connection was closed for sitting idle past
	// the keep-alive timeout.
	KindTimeoutIdle
	// KindUnsupportedVersion means the request line named an HTTP version
	// other than HTTP/1.1.
	KindUnsupportedVersion
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindHeaderTooLarge:
		return "header_too_large"
	case KindNoBackend:
		return "no_backend"
	case KindConnectFailed:
		return "connect_failed"
	case KindBackendIO:
		return "backend_io"
	case KindBackendMalformed:
		return "backend_malformed"
	case KindClientIO:
		return "client_io"
	case KindHandshakeFailed:
		return "handshake_failed"
	case KindTimeoutIdle:
		return "timeout_idle"
	case KindUnsupportedVersion:
		return "unsupported_version"
	default:
		return "unknown"
	}
}

// ProxyError wraps an underlying cause with a Kind so callers can decide
// which fixed response (if any) to write back to the client.
type ProxyError struct {
	Kind  Kind
	cause error
}

func (e *ProxyError) Error() string {
	if e.cause == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.cause)
}

func (e *ProxyError) Unwrap() error { return e.cause }

// newError wraps cause (which may be nil) with errors.WithStack for a
// useful trace when logged, and tags it with kind.
func newError(kind Kind, cause error, msg string) *ProxyError {
	if cause == nil {
		cause = errors.New(msg)
	} else {
		cause = errors.Wrap(cause, msg)
	}
	return &ProxyError{Kind: kind, cause: cause}
}

// KindOf returns the Kind carried by err, if any, and whether one was found.
func KindOf(err error) (Kind, bool) {
	var pe *ProxyError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return 0, false
}
