package rproxy

import (
	"crypto/md5"
	"encoding/binary"
	"math/rand"
	"sync"

	"github.com/pkg/errors"
)

// Policy selects how the load balancer picks among its live backends.
type Policy string

const (
	RoundRobin       Policy = "ROUND_ROBIN"
	Random           Policy = "RANDOM"
	LeastConnections Policy = "LEAST_CONNECTIONS"
	IPHash           Policy = "IP_HASH"
)

// ErrNoBackends is returned when the load balancer has no servers to offer.
var ErrNoBackends = errors.New("no servers available in load balancer")

// LoadBalancer tracks a set of backend addresses and the number of
// in-flight connections each is carrying, and picks one per request
// according to Policy. A single mutex protects both the server list and
// the connection counts, same as the resolver groups this was built from:
// correctness here matters far more than lock granularity.
type LoadBalancer struct {
	mu      sync.Mutex
	policy  Policy
	servers []string       // ordered list, defines ROUND_ROBIN and IP_HASH indexing
	conns   map[string]int // addr -> active connection count
	rrNext  int
	metrics *metrics
}

// NewLoadBalancer returns a LoadBalancer seeded with servers, using policy
// (defaulting to LEAST_CONNECTIONS for an empty or unrecognized value).
func NewLoadBalancer(policy Policy, servers []string, m *metrics) *LoadBalancer {
	switch policy {
	case RoundRobin, Random, LeastConnections, IPHash:
	default:
		policy = LeastConnections
	}
	lb := &LoadBalancer{
		policy:  policy,
		servers: append([]string(nil), servers...),
		conns:   make(map[string]int, len(servers)),
		metrics: m,
	}
	for _, s := range servers {
		lb.conns[s] = 0
	}
	return lb
}

// GetServer returns the address of the backend to use for a request from
// clientIP, according to the configured policy.
func (lb *LoadBalancer) GetServer(clientIP string) (string, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if len(lb.servers) == 0 {
		return "", ErrNoBackends
	}
	switch lb.policy {
	case RoundRobin:
		s := lb.servers[lb.rrNext%len(lb.servers)]
		lb.rrNext++
		return s, nil
	case Random:
		return lb.servers[rand.Intn(len(lb.servers))], nil
	case IPHash:
		return lb.servers[ipHashIndex(clientIP, len(lb.servers))], nil
	default: // LeastConnections
		best := lb.servers[0]
		bestN := lb.conns[best]
		for _, s := range lb.servers[1:] {
			if n := lb.conns[s]; n < bestN {
				best, bestN = s, n
			}
		}
		return best, nil
	}
}

// ipHashIndex maps clientIP deterministically to an index in [0, n). MD5 is
// used instead of a language hash function so the mapping is stable across
// process restarts (and across different proxy instances), which matters
// for clients that rely on sticky routing.
func ipHashIndex(clientIP string, n int) int {
	sum := md5.Sum([]byte(clientIP))
	v := binary.BigEndian.Uint64(sum[:8])
	return int(v % uint64(n))
}

// AddServer registers addr if it isn't already present.
func (lb *LoadBalancer) AddServer(addr string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if _, ok := lb.conns[addr]; ok {
		return
	}
	lb.conns[addr] = 0
	lb.servers = append(lb.servers, addr)
}

// RemoveServer drops addr from rotation.
func (lb *LoadBalancer) RemoveServer(addr string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if _, ok := lb.conns[addr]; !ok {
		return
	}
	delete(lb.conns, addr)
	for i, s := range lb.servers {
		if s == addr {
			lb.servers = append(lb.servers[:i], lb.servers[i+1:]...)
			break
		}
	}
}

// IncrementConnections records a new in-flight connection to addr.
func (lb *LoadBalancer) IncrementConnections(addr string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if _, ok := lb.conns[addr]; !ok {
		return
	}
	lb.conns[addr]++
	if lb.metrics != nil {
		lb.metrics.backendConnections.WithLabelValues(addr).Set(float64(lb.conns[addr]))
	}
}

// DecrementConnections records that a connection to addr ended. It never
// goes negative: a decrement racing a RemoveServer is simply dropped.
func (lb *LoadBalancer) DecrementConnections(addr string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if _, ok := lb.conns[addr]; !ok {
		return
	}
	lb.conns[addr]--
	if lb.conns[addr] < 0 {
		lb.conns[addr] = 0
	}
	if lb.metrics != nil {
		lb.metrics.backendConnections.WithLabelValues(addr).Set(float64(lb.conns[addr]))
	}
}

// Servers returns a snapshot of the current backend list, in rotation order.
func (lb *LoadBalancer) Servers() []string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return append([]string(nil), lb.servers...)
}
