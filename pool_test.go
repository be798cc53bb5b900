package rproxy

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, maxSize int, ttl time.Duration) *Pool {
	t.Helper()
	return NewPool(maxSize, ttl, NewMetrics(prometheus.NewRegistry()))
}

func startEchoListener(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				buf := make([]byte, 4096)
				for {
					n, err := c.Read(buf)
					if err != nil {
						return
					}
					c.Write(buf[:n])
				}
			}(conn)
		}
	}()
	return ln
}

func TestPoolDialsFreshWhenEmpty(t *testing.T) {
	ln := startEchoListener(t)
	defer ln.Close()

	p := newTestPool(t, 2, time.Minute)
	conn, err := p.Get(context.Background(), ln.Addr().String())
	require.NoError(t, err)
	require.NotNil(t, conn)
	conn.Close()
}

func TestPoolReusesReleasedConnection(t *testing.T) {
	ln := startEchoListener(t)
	defer ln.Close()
	addr := ln.Addr().String()

	p := newTestPool(t, 2, time.Minute)
	conn, err := p.Get(context.Background(), addr)
	require.NoError(t, err)

	p.Put(addr, conn)
	require.Equal(t, 1, p.Size(addr))

	reused, err := p.Get(context.Background(), addr)
	require.NoError(t, err)
	require.Equal(t, conn, reused)
	require.Equal(t, 0, p.Size(addr))
	reused.Close()
}

func TestPoolClosesConnectionOverCapacity(t *testing.T) {
	ln := startEchoListener(t)
	defer ln.Close()
	addr := ln.Addr().String()

	p := newTestPool(t, 1, time.Minute)
	c1, _ := p.Get(context.Background(), addr)
	c2, _ := p.Get(context.Background(), addr)

	p.Put(addr, c1)
	p.Put(addr, c2) // pool already at capacity (1), this one gets closed

	require.Equal(t, 1, p.Size(addr))
}

func TestPoolCleanupEvictsExpired(t *testing.T) {
	ln := startEchoListener(t)
	defer ln.Close()
	addr := ln.Addr().String()

	p := newTestPool(t, 2, time.Millisecond)
	conn, _ := p.Get(context.Background(), addr)
	p.Put(addr, conn)
	require.Equal(t, 1, p.Size(addr))

	time.Sleep(5 * time.Millisecond)
	p.Cleanup()

	require.Equal(t, 0, p.Size(addr))
}

func TestPoolDeadConnectionIsNotReused(t *testing.T) {
	ln := startEchoListener(t)
	addr := ln.Addr().String()

	p := newTestPool(t, 2, time.Minute)
	conn, err := p.Get(context.Background(), addr)
	require.NoError(t, err)
	p.Put(addr, conn)

	ln.Close() // kill the listener side; the pooled conn is now dead once the peer closes
	conn.Close()

	// isAlive should detect the close and force a fresh dial attempt, which
	// will fail since the listener is gone.
	_, err = p.Get(context.Background(), addr)
	require.Error(t, err)
}
