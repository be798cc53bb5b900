package rproxy

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func newTestLB(policy Policy, servers []string) *LoadBalancer {
	return NewLoadBalancer(policy, servers, NewMetrics(prometheus.NewRegistry()))
}

func TestLoadBalancerRoundRobin(t *testing.T) {
	lb := newTestLB(RoundRobin, []string{"a:1", "b:1", "c:1"})

	s1, err := lb.GetServer("1.2.3.4")
	require.NoError(t, err)
	s2, _ := lb.GetServer("1.2.3.4")
	s3, _ := lb.GetServer("1.2.3.4")
	s4, _ := lb.GetServer("1.2.3.4")

	require.Equal(t, []string{"a:1", "b:1", "c:1"}, []string{s1, s2, s3})
	require.Equal(t, s1, s4)
}

func TestLoadBalancerLeastConnections(t *testing.T) {
	lb := newTestLB(LeastConnections, []string{"a:1", "b:1"})
	lb.IncrementConnections("a:1")
	lb.IncrementConnections("a:1")
	lb.IncrementConnections("b:1")

	s, err := lb.GetServer("1.2.3.4")
	require.NoError(t, err)
	require.Equal(t, "b:1", s)
}

func TestLoadBalancerIPHashStable(t *testing.T) {
	lb := newTestLB(IPHash, []string{"a:1", "b:1", "c:1"})

	first, err := lb.GetServer("10.0.0.5")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		s, err := lb.GetServer("10.0.0.5")
		require.NoError(t, err)
		require.Equal(t, first, s)
	}
}

func TestLoadBalancerNoServers(t *testing.T) {
	lb := newTestLB(RoundRobin, nil)
	_, err := lb.GetServer("1.2.3.4")
	require.ErrorIs(t, err, ErrNoBackends)
}

func TestLoadBalancerAddRemoveServer(t *testing.T) {
	lb := newTestLB(RoundRobin, nil)
	lb.AddServer("a:1")
	require.Equal(t, []string{"a:1"}, lb.Servers())

	lb.RemoveServer("a:1")
	require.Empty(t, lb.Servers())
}

func TestLoadBalancerDecrementNeverNegative(t *testing.T) {
	lb := newTestLB(LeastConnections, []string{"a:1"})
	lb.DecrementConnections("a:1")
	lb.DecrementConnections("a:1")

	lb.mu.Lock()
	n := lb.conns["a:1"]
	lb.mu.Unlock()
	require.Equal(t, 0, n)
}

func TestLoadBalancerUnknownPolicyDefaultsToLeastConnections(t *testing.T) {
	lb := newTestLB(Policy("bogus"), []string{"a:1"})
	require.Equal(t, LeastConnections, lb.policy)
}
