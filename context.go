package rproxy

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// State names a phase of a connection's lifecycle. Unlike the selector-based
// reactor this replaces, nothing here multiplexes on socket readiness: each
// state's handler blocks on exactly the I/O it needs, with the goroutine
// scheduler doing the work a hand-rolled event loop would otherwise do.
type State int

const (
	StateTLSHandshake State = iota
	StateReadRequest
	StateConnectBackend
	StateReadBackend
	StateWriteClient
	StateCleanup
)

func (s State) String() string {
	switch s {
	case StateTLSHandshake:
		return "TLS_HANDSHAKE"
	case StateReadRequest:
		return "READ_REQUEST"
	case StateConnectBackend:
		return "CONNECT_BACKEND"
	case StateReadBackend:
		return "READ_BACKEND"
	case StateWriteClient:
		return "WRITE_CLIENT"
	case StateCleanup:
		return "CLEANUP"
	default:
		return "UNKNOWN"
	}
}

// maxHeaderSize bounds how large a request or response head may grow before
// a delimiter is found, guarding against a client or backend that never
// terminates its headers.
const maxHeaderSize = 8 * 1024

// readBufSize is the chunk size used for each blocking Read call while
// accumulating a head or body.
const readBufSize = 4096

// ConnectionContext drives one client connection end to end: TLS handshake,
// then repeatedly reading a request, forwarding it to a backend (or serving
// it from cache), and writing the response back, for as long as the
// connection stays keep-alive.
type ConnectionContext struct {
	srv        *Server
	clientConn *tls.Conn
	clientAddr string
	state      State

	backendAddr string
	backendConn net.Conn
	retries     int
	lastBackend string
}

func newConnectionContext(srv *Server, conn *tls.Conn, addr string) *ConnectionContext {
	return &ConnectionContext{
		srv:        srv,
		clientConn: conn,
		clientAddr: addr,
		state:      StateTLSHandshake,
	}
}

// Serve drives the connection until the client disconnects, a non-recoverable
// error occurs, or ctx is cancelled (server shutdown).
func (c *ConnectionContext) Serve(ctx context.Context) {
	log := connLog(c.clientAddr)
	defer c.cleanup()

	if err := c.handshake(ctx); err != nil {
		log.WithError(err).Debug("TLS handshake failed")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.state = StateReadRequest
		req, body, keepalive, err := c.readRequest()
		if err != nil {
			if err != io.EOF {
				log.WithError(err).Debug("read request failed")
			}
			if _, ok := KindOf(err); ok {
				c.state = StateWriteClient
				c.writeClient(errorResponseFor(err))
			}
			return
		}

		start := time.Now()
		c.lastBackend = ""
		response := c.handleRequest(ctx, req, body)

		c.state = StateWriteClient
		if err := c.writeClient(response); err != nil {
			log.WithError(err).Debug("write client failed")
			return
		}
		c.recordAccess(req, response, start)
		if !keepalive {
			return
		}
	}
}

func (c *ConnectionContext) handshake(ctx context.Context) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.srv.IdleTimeout)
	}
	c.clientConn.SetDeadline(deadline)
	if err := c.clientConn.HandshakeContext(ctx); err != nil {
		return newError(KindHandshakeFailed, err, "TLS handshake")
	}
	return nil
}

// readRequest reads and fully buffers one HTTP request head plus body from
// the client connection (no chunked transfer support, no streaming: the
// codec always works against a complete, reconstructable message).
func (c *ConnectionContext) readRequest() (*RequestHead, []byte, bool, error) {
	c.clientConn.SetReadDeadline(time.Now().Add(c.srv.IdleTimeout))

	buf, headEnd, err := readUntilDelimiter(c.clientConn)
	if err != nil {
		return nil, nil, false, err
	}
	head, err := ParseRequestHead(buf[:headEnd-len(headerDelimiter)])
	if err != nil {
		return nil, nil, false, err
	}
	if head.Version != "HTTP/1.1" {
		return nil, nil, false, newError(KindUnsupportedVersion, nil, "unsupported request version "+head.Version)
	}

	contentLength := headerInt(head.Headers, "Content-Length")
	body, err := readBody(c.clientConn, buf[headEnd:], contentLength)
	if err != nil {
		return nil, nil, false, err
	}

	keepalive := true
	if v, ok := head.Headers.Get("Connection"); ok && strings.EqualFold(v, "close") {
		keepalive = false
	}
	head.Headers.Del("Connection") // hop-by-hop, not forwarded to the backend
	return head, body, keepalive, nil
}

// handleRequest resolves a request to a response: a cache hit, a fixed
// error response, or the reconstructed backend reply. It never returns an
// error; every failure mode has a corresponding HTTP response.
func (c *ConnectionContext) handleRequest(ctx context.Context, req *RequestHead, body []byte) []byte {
	path := requestPath(req.Target)

	if cached, ok := c.srv.Cache.Get(req.Method, path); ok {
		return cached
	}

	req.Headers.Set("X-Forwarded-For", clientIP(c.clientAddr))
	req.Headers.Set("X-Forwarded-Proto", "https")
	reqBytes := ReconstructRequest(req.Method, req.Target, req.Version, req.Headers, body)

	c.state = StateConnectBackend
	respHead, respBody, err := c.forwardWithRetry(ctx, req, reqBytes)
	if err != nil {
		return errorResponseFor(err)
	}
	return c.finalizeResponse(req, respHead, respBody)
}

// forwardWithRetry obtains a backend connection and forwards the request,
// retrying on a fresh backend up to MaxRetries times when connecting fails.
// Each connect failure tallies toward the shared, process-wide failure
// counter for that backend, which evicts the backend from the load balancer
// once it reaches FailureThreshold. A write, read or parse failure against a
// connected backend is not retried and is returned as is.
func (c *ConnectionContext) forwardWithRetry(ctx context.Context, req *RequestHead, reqBytes []byte) (*ResponseHead, []byte, error) {
	for c.retries = 0; c.retries <= c.srv.MaxRetries; c.retries++ {
		addr, err := c.srv.LoadBalancer.GetServer(clientIP(c.clientAddr))
		if err != nil {
			return nil, nil, newError(KindNoBackend, err, "select backend")
		}
		c.backendAddr = addr
		c.srv.LoadBalancer.IncrementConnections(addr)

		respHead, respBody, err := c.roundtripBackend(ctx, addr, reqBytes)
		if err == nil {
			c.srv.LoadBalancer.DecrementConnections(addr)
			c.backendAddr = ""
			c.lastBackend = addr
			return respHead, respBody, nil
		}

		c.srv.LoadBalancer.DecrementConnections(addr)
		if kind, _ := KindOf(err); kind != KindConnectFailed {
			c.backendAddr = ""
			return nil, nil, err
		}
		c.srv.recordFailure(addr)
		c.backendAddr = ""
	}
	return nil, nil, newError(KindConnectFailed, nil, "exhausted retries")
}

func (c *ConnectionContext) roundtripBackend(ctx context.Context, addr string, reqBytes []byte) (*ResponseHead, []byte, error) {
	conn, err := c.srv.Pool.Get(ctx, addr)
	if err != nil {
		return nil, nil, err
	}
	c.backendConn = conn

	conn.SetDeadline(time.Now().Add(c.srv.BackendTimeout))
	if _, err := conn.Write(reqBytes); err != nil {
		conn.Close()
		c.backendConn = nil
		return nil, nil, newError(KindBackendIO, err, "write backend")
	}

	c.state = StateReadBackend
	buf, headEnd, err := readUntilDelimiter(conn)
	if err != nil {
		conn.Close()
		c.backendConn = nil
		return nil, nil, newError(KindBackendIO, err, "read backend head")
	}
	head, err := ParseResponseHead(buf[:headEnd-len(headerDelimiter)])
	if err != nil {
		conn.Close()
		c.backendConn = nil
		return nil, nil, err
	}

	contentLength := headerInt(head.Headers, "Content-Length")
	body, err := readBody(conn, buf[headEnd:], contentLength)
	if err != nil {
		conn.Close()
		c.backendConn = nil
		return nil, nil, newError(KindBackendIO, err, "read backend body")
	}

	c.srv.Pool.Put(addr, conn)
	c.backendConn = nil
	return head, body, nil
}

// finalizeResponse applies gzip negotiation, stores the response in the
// cache if the backend's Cache-Control allows it, and reconstructs the
// final byte stream to send to the client.
func (c *ConnectionContext) finalizeResponse(req *RequestHead, resp *ResponseHead, body []byte) []byte {
	acceptEncoding, _ := req.Headers.Get("Accept-Encoding")
	_, alreadyEncoded := resp.Headers.Get("Content-Encoding")
	if strings.Contains(strings.ToLower(acceptEncoding), "gzip") && !alreadyEncoded {
		if compressed, err := CompressGzip(body); err == nil {
			body = compressed
			resp.Headers.Set("Content-Encoding", "gzip")
			resp.Headers.Set("Content-Length", strconv.Itoa(len(body)))
		}
	}

	final := ReconstructResponse(resp.Version, resp.StatusCode, resp.Reason, resp.Headers, body)

	if cc, ok := resp.Headers.Get("Cache-Control"); ok {
		if maxAge := CacheControlMaxAge(cc); maxAge > 0 {
			c.srv.Cache.Add(req.Method, requestPath(req.Target), final, maxAge)
		}
	}
	return final
}

func (c *ConnectionContext) writeClient(response []byte) error {
	c.clientConn.SetWriteDeadline(time.Now().Add(c.srv.IdleTimeout))
	_, err := c.clientConn.Write(response)
	if err != nil {
		return newError(KindClientIO, err, "write client")
	}
	return nil
}

// recordAccess forwards a one-line summary of the just-completed request to
// the server's access log, if one is configured.
func (c *ConnectionContext) recordAccess(req *RequestHead, response []byte, start time.Time) {
	if c.srv.AccessLog == nil {
		return
	}
	status := 0
	if end := FindHeadEnd(response); end >= 0 {
		if rh, err := ParseResponseHead(response[:end-len(headerDelimiter)]); err == nil {
			status = rh.StatusCode
		}
	}
	c.srv.AccessLog.Record(c.clientAddr, req.Method, requestPath(req.Target), c.lastBackend, status, len(response), time.Since(start))
}

func (c *ConnectionContext) cleanup() {
	c.state = StateCleanup
	if c.backendConn != nil {
		c.backendConn.Close()
	}
	if c.backendAddr != "" {
		c.srv.LoadBalancer.DecrementConnections(c.backendAddr)
	}
	c.clientConn.Close()
}

// readUntilDelimiter blocks-reads from r until the header delimiter
// appears in the accumulated buffer, returning the buffer and the index
// just past the delimiter.
func readUntilDelimiter(r io.Reader) ([]byte, int, error) {
	buf := make([]byte, 0, readBufSize)
	chunk := make([]byte, readBufSize)
	for {
		if end := FindHeadEnd(buf); end >= 0 {
			return buf, end, nil
		}
		if len(buf) > maxHeaderSize {
			return nil, 0, newError(KindHeaderTooLarge, nil, "head exceeded size limit")
		}
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			return nil, 0, err
		}
	}
}

// readBody returns the first contentLength bytes of the message body,
// given whatever was already read past the head (already), reading more
// from r as needed.
func readBody(r io.Reader, already []byte, contentLength int) ([]byte, error) {
	if len(already) >= contentLength {
		return already[:contentLength], nil
	}
	body := make([]byte, len(already), contentLength)
	copy(body, already)
	for len(body) < contentLength {
		chunk := make([]byte, contentLength-len(body))
		n, err := r.Read(chunk)
		if n > 0 {
			body = append(body, chunk[:n]...)
		}
		if err != nil {
			return nil, err
		}
	}
	return body, nil
}

func headerInt(h *HeaderList, name string) int {
	v, ok := h.Get(name)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// requestPath strips any query string from a request target for use as a
// cache key.
func requestPath(target string) string {
	if i := strings.IndexByte(target, '?'); i >= 0 {
		return target[:i]
	}
	return target
}

func clientIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
