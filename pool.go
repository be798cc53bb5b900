package rproxy

import (
	"context"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// pooledConn is a backend connection sitting idle in the pool, along with
// the time it was released back to it.
type pooledConn struct {
	conn     net.Conn
	released time.Time
}

// Pool is a per-backend FIFO cache of idle TCP connections. Connections are
// handed out in the order they were released (oldest first), each checked
// for liveness with a non-destructive peek before being reused, and culled
// in the background once they exceed MaxLifetime.
type Pool struct {
	mu      sync.Mutex
	queues  map[string][]pooledConn
	maxSize int
	ttl     time.Duration
	dialer  *net.Dialer
	metrics *metrics
}

// NewPool returns a connection pool that keeps up to maxSize idle
// connections per backend address, discarding any older than ttl.
func NewPool(maxSize int, ttl time.Duration, m *metrics) *Pool {
	return &Pool{
		queues:  make(map[string][]pooledConn),
		maxSize: maxSize,
		ttl:     ttl,
		dialer:  &net.Dialer{Timeout: 5 * time.Second},
		metrics: m,
	}
}

// Get returns a live pooled connection to addr, or dials a fresh one if the
// pool is empty or every queued connection turns out to be dead.
func (p *Pool) Get(ctx context.Context, addr string) (net.Conn, error) {
	p.mu.Lock()
	queue := p.queues[addr]
	for len(queue) > 0 {
		pc := queue[0]
		queue = queue[1:]
		p.queues[addr] = queue
		if isAlive(pc.conn) {
			p.mu.Unlock()
			if p.metrics != nil {
				p.metrics.poolReused.WithLabelValues(addr).Inc()
				p.metrics.poolSize.WithLabelValues(addr).Set(float64(len(queue)))
			}
			return pc.conn, nil
		}
		pc.conn.Close()
	}
	p.queues[addr] = queue
	p.mu.Unlock()

	conn, err := p.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, newError(KindConnectFailed, err, "dial backend "+addr)
	}
	if p.metrics != nil {
		p.metrics.poolDialed.WithLabelValues(addr).Inc()
	}
	return conn, nil
}

// Put releases conn back to the pool for addr, closing it instead if the
// pool for that backend is already at capacity.
func (p *Pool) Put(addr string, conn net.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	queue := p.queues[addr]
	if len(queue) >= p.maxSize {
		conn.Close()
		return
	}
	p.queues[addr] = append(queue, pooledConn{conn: conn, released: time.Now()})
	if p.metrics != nil {
		p.metrics.poolSize.WithLabelValues(addr).Set(float64(len(p.queues[addr])))
	}
}

// Cleanup closes and drops every pooled connection older than the pool's
// configured ttl. It is meant to be called periodically from a background
// goroutine.
func (p *Pool) Cleanup() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for addr, queue := range p.queues {
		kept := queue[:0]
		for _, pc := range queue {
			if now.Sub(pc.released) < p.ttl {
				kept = append(kept, pc)
			} else {
				pc.conn.Close()
			}
		}
		p.queues[addr] = kept
		if p.metrics != nil {
			p.metrics.poolSize.WithLabelValues(addr).Set(float64(len(kept)))
		}
	}
}

// Size returns the number of idle connections currently pooled for addr.
func (p *Pool) Size(addr string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queues[addr])
}

// isAlive does a non-destructive check of whether conn's peer is still
// there: a zero-length peek means the peer has sent FIN, and an error means
// the socket is otherwise dead. Any remaining unread bytes are left exactly
// where they are (MSG_PEEK never consumes), and the immediate "no data yet"
// case (EAGAIN) is the expected, healthy-idle-connection outcome.
func isAlive(conn net.Conn) bool {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return true
	}
	sc, err := tc.SyscallConn()
	if err != nil {
		return false
	}

	var (
		n      int
		peekOk bool
		rawErr error
	)
	controlErr := sc.Read(func(fd uintptr) bool {
		buf := make([]byte, 1)
		n, _, rawErr = unix.Recvfrom(int(fd), buf, unix.MSG_PEEK|unix.MSG_DONTWAIT)
		peekOk = true
		return true
	})
	if controlErr != nil || !peekOk {
		return false
	}
	if rawErr == unix.EAGAIN || rawErr == syscall.EWOULDBLOCK {
		return true
	}
	if rawErr != nil {
		return false
	}
	return n != 0
}
