package rproxy

import "github.com/prometheus/client_golang/prometheus"

// metrics collects the Prometheus instruments exposed by the proxy's admin
// surface. A single instance is shared process-wide, mirroring the
// process-wide failure counter the Server keeps.
type metrics struct {
	cacheHits    prometheus.Counter
	cacheMisses  prometheus.Counter
	cacheEntries prometheus.Gauge

	backendConnections *prometheus.GaugeVec
	backendFailures    *prometheus.CounterVec
	backendEvictions   *prometheus.CounterVec

	poolSize   *prometheus.GaugeVec
	poolReused *prometheus.CounterVec
	poolDialed *prometheus.CounterVec

	requestsTotal  *prometheus.CounterVec
	requestLatency prometheus.Histogram
}

// NewMetrics constructs and registers a fresh instrument set against reg.
// Passing a private registry (rather than prometheus.DefaultRegisterer) keeps
// repeated test construction from panicking on duplicate registration.
func NewMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rproxy_cache_hits_total",
			Help: "Number of requests served from the response cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rproxy_cache_misses_total",
			Help: "Number of requests not found in the response cache.",
		}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rproxy_cache_entries",
			Help: "Current number of entries in the response cache.",
		}),
		backendConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rproxy_backend_active_connections",
			Help: "Number of in-flight connections per backend.",
		}, []string{"backend"}),
		backendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rproxy_backend_failures_total",
			Help: "Number of failed connect attempts per backend.",
		}, []string{"backend"}),
		backendEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rproxy_backend_evictions_total",
			Help: "Number of times a backend was removed after crossing the failure threshold.",
		}, []string{"backend"}),
		poolSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rproxy_pool_size",
			Help: "Current number of idle pooled connections per backend.",
		}, []string{"backend"}),
		poolReused: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rproxy_pool_reused_total",
			Help: "Number of times a pooled connection was reused instead of dialed.",
		}, []string{"backend"}),
		poolDialed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rproxy_pool_dialed_total",
			Help: "Number of times a fresh connection was dialed.",
		}, []string{"backend"}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rproxy_requests_total",
			Help: "Number of requests proxied, by result.",
		}, []string{"result"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rproxy_request_duration_seconds",
			Help:    "End-to-end duration of a proxied request.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		m.cacheHits, m.cacheMisses, m.cacheEntries,
		m.backendConnections, m.backendFailures, m.backendEvictions,
		m.poolSize, m.poolReused, m.poolDialed,
		m.requestsTotal, m.requestLatency,
	)
	return m
}
