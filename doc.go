/*
Package rproxy implements a TLS-terminating HTTP/1.1 reverse proxy with
response caching, pluggable load balancing, and per-backend connection
pooling. There are four fundamental collaborators.

Cache

Cache stores full, reconstructed responses keyed by (method, path) for as
long as the backend's Cache-Control max-age allows. POST is never cached,
and entries expire lazily on lookup rather than via a background sweep.

LoadBalancer

LoadBalancer tracks a set of backend addresses and picks one per request
according to a Policy: ROUND_ROBIN, RANDOM, LEAST_CONNECTIONS, or IP_HASH.
Backends that fail repeatedly are evicted by the shared failure counter in
Server.

Pool

Pool is a per-backend FIFO cache of idle TCP connections, bounded by size
and lifetime, with a non-destructive liveness check before reuse.

ConnectionContext

ConnectionContext drives a single client connection through its TLS
handshake and then, for as long as the connection is kept alive, repeatedly
reads a request, resolves it via the Cache and LoadBalancer/Pool, and writes
back the response.

A minimal server:

	srv := rproxy.NewServer(rproxy.ServerOptions{
		Addr:      ":8443",
		TLSConfig: tlsConfig,
		Policy:    rproxy.LeastConnections,
		Servers:   []string{"10.0.0.1:8080", "10.0.0.2:8080"},
		IdleTimeout: 3 * time.Second,
		Metrics:   metrics,
	})
	panic(srv.Start())
*/
package rproxy
