package rproxy

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var _ Listener = (*AdminListener)(nil)

// AdminListener serves the proxy's operational HTTP surface: health,
// current backend list, and Prometheus metrics. It is entirely separate
// from the TLS-terminating client-facing listener.
type AdminListener struct {
	Addr         string
	LoadBalancer *LoadBalancer
	Registry     *prometheus.Registry
	listener     *http.Server
}

// NewAdminListener builds the admin HTTP server. Registry is scraped at
// /metrics; lb's current backend list is reported at /servers.
func NewAdminListener(addr string, lb *LoadBalancer, registry *prometheus.Registry) *AdminListener {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/servers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"servers": lb.Servers()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return &AdminListener{
		Addr:         addr,
		LoadBalancer: lb,
		Registry:     registry,
		listener:     &http.Server{Addr: addr, Handler: router},
	}
}

// Start blocks serving the admin HTTP surface until Stop is called.
func (a *AdminListener) Start() error {
	err := a.listener.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop closes the admin listener and any active admin connections at once.
func (a *AdminListener) Stop() error {
	return a.listener.Close()
}

func (a *AdminListener) String() string {
	return "AdminListener(" + a.Addr + ")"
}
