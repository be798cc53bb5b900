package rproxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

var _ Listener = (*Server)(nil)
var _ Listener = (*DiscoveryListener)(nil)

// ServerOptions configures a Server.
type ServerOptions struct {
	Addr                string
	TLSConfig           *tls.Config
	Policy              Policy
	Servers             []string
	FailureThreshold    int
	MaxRetries          int
	IdleTimeout         time.Duration
	BackendTimeout      time.Duration
	PoolMaxSize         int
	PoolMaxLifetime     time.Duration
	PoolCleanupInterval time.Duration
	Metrics             *metrics
	AccessLog           *AccessLog
}

// Server accepts TLS connections on Addr and drives each one through a
// ConnectionContext. It owns the resources every connection shares: the
// cache, the load balancer, the connection pool, and the process-wide
// backend failure counter.
type Server struct {
	Addr           string
	TLSConfig      *tls.Config
	Cache          *Cache
	LoadBalancer   *LoadBalancer
	Pool           *Pool
	Metrics        *metrics
	AccessLog      *AccessLog
	FailureThreshold int
	MaxRetries     int
	IdleTimeout    time.Duration
	BackendTimeout time.Duration

	poolCleanupInterval time.Duration

	failMu        sync.Mutex
	failedServers map[string]int

	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer builds a Server and its shared resources from opt.
func NewServer(opt ServerOptions) *Server {
	if opt.BackendTimeout == 0 {
		opt.BackendTimeout = 10 * time.Second
	}
	if opt.PoolCleanupInterval == 0 {
		opt.PoolCleanupInterval = 10 * time.Second
	}
	return &Server{
		Addr:                opt.Addr,
		TLSConfig:           opt.TLSConfig,
		Cache:               NewCache(opt.Metrics),
		LoadBalancer:        NewLoadBalancer(opt.Policy, opt.Servers, opt.Metrics),
		Pool:                NewPool(opt.PoolMaxSize, opt.PoolMaxLifetime, opt.Metrics),
		Metrics:             opt.Metrics,
		AccessLog:           opt.AccessLog,
		FailureThreshold:    opt.FailureThreshold,
		MaxRetries:          opt.MaxRetries,
		IdleTimeout:         opt.IdleTimeout,
		BackendTimeout:      opt.BackendTimeout,
		poolCleanupInterval: opt.PoolCleanupInterval,
		failedServers:       make(map[string]int),
	}
}

// recordFailure tallies a connect failure for addr and evicts it from the
// load balancer once FailureThreshold is reached. The counter is shared
// process-wide across every connection, same as the load balancer itself.
func (s *Server) recordFailure(addr string) {
	s.failMu.Lock()
	defer s.failMu.Unlock()

	s.failedServers[addr]++
	if s.Metrics != nil {
		s.Metrics.backendFailures.WithLabelValues(addr).Inc()
	}
	if s.failedServers[addr] >= s.FailureThreshold {
		Log.WithField("backend", addr).Warn("removing backend after repeated failures")
		s.LoadBalancer.RemoveServer(addr)
		delete(s.failedServers, addr)
		if s.Metrics != nil {
			s.Metrics.backendEvictions.WithLabelValues(addr).Inc()
		}
	}
}

// Start binds the TLS listener and accepts connections, spawning one
// goroutine per connection. It runs Serve with a context that is never
// cancelled, so it returns only when binding or accepting fails.
func (s *Server) Start() error {
	return s.Serve(context.Background())
}

// Serve is like Start but accepts a context whose cancellation triggers a
// graceful shutdown of the accept loop (in-flight connections are not
// forcibly closed; they drain on their own next idle timeout).
func (s *Server) Serve(ctx context.Context) error {
	ln, err := tls.Listen("tcp", s.Addr, s.TLSConfig)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Addr, err)
	}
	s.listener = ln

	go s.cleanupLoop(ctx)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
				return err
			}
		}
		tlsConn, ok := conn.(*tls.Conn)
		if !ok {
			conn.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			cc := newConnectionContext(s, tlsConn, conn.RemoteAddr().String())
			cc.Serve(ctx)
		}()
	}
}

func (s *Server) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(s.poolCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Pool.Cleanup()
		}
	}
}

func (s *Server) String() string {
	return fmt.Sprintf("Server(%s)", s.Addr)
}

// DiscoveryListener accepts plain-TCP connections carrying newline-delimited
// "ip,port" announcements and registers each as a backend with LoadBalancer.
type DiscoveryListener struct {
	Addr         string
	LoadBalancer *LoadBalancer
	listener     net.Listener
}

// NewDiscoveryListener returns a listener that feeds newly announced
// backends into lb.
func NewDiscoveryListener(addr string, lb *LoadBalancer) *DiscoveryListener {
	return &DiscoveryListener{Addr: addr, LoadBalancer: lb}
}

// Start binds the discovery port and serves until the listener is closed.
func (d *DiscoveryListener) Start() error {
	ln, err := net.Listen("tcp", d.Addr)
	if err != nil {
		return fmt.Errorf("listen on discovery port %s: %w", d.Addr, err)
	}
	d.listener = ln
	for {
		conn, err := ln.Accept()
		if err != nil {
			return nil
		}
		go d.handle(conn)
	}
}

func (d *DiscoveryListener) handle(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		ip, portStr, ok := strings.Cut(line, ",")
		if !ok {
			Log.WithField("message", line).Warn("ignored malformed discovery message")
			continue
		}
		if _, err := strconv.Atoi(portStr); err != nil {
			Log.WithField("message", line).Warn("ignored malformed discovery message")
			continue
		}
		addr := net.JoinHostPort(ip, portStr)
		d.LoadBalancer.AddServer(addr)
		Log.WithField("backend", addr).Debug("registered backend via discovery")
	}
}

func (d *DiscoveryListener) Stop() error {
	if d.listener == nil {
		return nil
	}
	return d.listener.Close()
}

func (d *DiscoveryListener) String() string {
	return fmt.Sprintf("DiscoveryListener(%s)", d.Addr)
}
