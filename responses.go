package rproxy

import (
	"fmt"
	"time"
)

// formatErrorResponse builds a minimal, bodyless HTTP response for
// statusLine, e.g. "400 Bad Request".
func formatErrorResponse(statusLine string) []byte {
	now := time.Now().UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT")
	return []byte(fmt.Sprintf(
		"HTTP/1.1 %s\r\nServer: rproxy\r\nDate: %s\r\nContent-Length: 0\r\n\r\n",
		statusLine, now,
	))
}

func badRequestResponse() []byte            { return formatErrorResponse("400 Bad Request") }
func headerTooLargeResponse() []byte        { return formatErrorResponse("431 Request Header Fields Too Large") }
func badGatewayResponse() []byte            { return formatErrorResponse("502 Bad Gateway") }
func serviceUnavailableResponse() []byte    { return formatErrorResponse("503 Service Unavailable") }
func httpVersionNotSupportedResponse() []byte {
	return formatErrorResponse("505 HTTP Version Not Supported")
}

// errorResponseFor maps a proxy error to the fixed response that should be
// written back to the client.
func errorResponseFor(err error) []byte {
	kind, ok := KindOf(err)
	if !ok {
		return badGatewayResponse()
	}
	switch kind {
	case KindBadRequest:
		return badRequestResponse()
	case KindHeaderTooLarge:
		return headerTooLargeResponse()
	case KindUnsupportedVersion:
		return httpVersionNotSupportedResponse()
	case KindNoBackend:
		return serviceUnavailableResponse()
	case KindConnectFailed, KindBackendIO, KindBackendMalformed:
		return badGatewayResponse()
	default:
		return badGatewayResponse()
	}
}
