package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	rproxy "github.com/davidmenggx/multiplexed-reverse-proxy"
)

type options struct {
	config string

	port      int
	loadbal   string
	discovery int
	threshold int
	retries   int
	keepalive float64
	maxsize   int
	expire    float64
	frequency float64
	verbose   bool

	certFile string
	keyFile  string
	caFile   string

	adminAddr string

	syslogNetwork string
	syslogAddress string
	syslogTag     string
}

func main() {
	var opt options

	cmd := &cobra.Command{
		Use:   "reverseproxy",
		Short: "TLS-terminating multiplexed reverse proxy",
		Long: `reverseproxy is a TLS-terminating HTTP reverse proxy with response
caching, pluggable load-balancing, and per-backend connection pooling.`,
		Example:      "  reverseproxy -p 8443 -l LEAST_CONNECTIONS servers.json",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opt, args[0])
		},
	}

	cmd.Flags().StringVarP(&opt.config, "config", "c", "", "Optional TOML config file; its non-zero values override flags")
	cmd.Flags().IntVarP(&opt.port, "port", "p", 8443, "Port for server to run on")
	cmd.Flags().StringVarP(&opt.loadbal, "loadbal", "l", "LEAST_CONNECTIONS", `Load balancing algorithm: "LEAST_CONNECTIONS", "IP_HASH", "RANDOM", "ROUND_ROBIN"`)
	cmd.Flags().IntVarP(&opt.discovery, "discovery", "d", 49152, "Port for server discovery")
	cmd.Flags().IntVarP(&opt.threshold, "threshold", "t", 3, "Max number of failed connections before server is removed from load balancer")
	cmd.Flags().IntVarP(&opt.retries, "retries", "r", 5, "Max number of connection retries until error")
	cmd.Flags().Float64VarP(&opt.keepalive, "keepalive", "k", 3, "Duration in seconds before keep-alive connections are timed-out")
	cmd.Flags().IntVarP(&opt.maxsize, "maxsize", "m", 10, "Maximum number of connections in pool for each server")
	cmd.Flags().Float64VarP(&opt.expire, "expiration", "e", 10, "Expiration time before connections in pool are discarded")
	cmd.Flags().Float64VarP(&opt.frequency, "frequency", "f", 10, "Duration in seconds between connection pool cleaning for expired connections")
	cmd.Flags().BoolVarP(&opt.verbose, "verbose", "v", false, "Enable verbose mode")
	cmd.Flags().StringVar(&opt.certFile, "cert-file", "cert.pem", "TLS certificate file")
	cmd.Flags().StringVar(&opt.keyFile, "key-file", "key.pem", "TLS key file")
	cmd.Flags().StringVar(&opt.caFile, "ca-file", "", "Optional CA bundle for client certificates")
	cmd.Flags().StringVar(&opt.adminAddr, "admin-addr", ":9443", "Address for the admin/metrics HTTP surface")
	cmd.Flags().StringVar(&opt.syslogNetwork, "syslog-network", "", `Access-log syslog network ("udp", "tcp", "unix"); disabled if empty`)
	cmd.Flags().StringVar(&opt.syslogAddress, "syslog-address", "", "Access-log syslog address")
	cmd.Flags().StringVar(&opt.syslogTag, "syslog-tag", "reverseproxy", "Access-log syslog tag")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(opt options, serversPath string) error {
	if opt.config != "" {
		applyFileConfig(&opt)
	}

	if opt.verbose {
		rproxy.Log.SetLevel(logrus.DebugLevel)
	}

	validated := rproxy.Options{
		Port: opt.port, Discovery: opt.discovery, LoadBalancer: opt.loadbal,
		Threshold: opt.threshold, Retries: opt.retries, KeepAlive: opt.keepalive,
		MaxSize: opt.maxsize, Expiration: opt.expire, Frequency: opt.frequency,
		CertFile: opt.certFile, KeyFile: opt.keyFile,
	}
	if err := validated.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	certFile, err := homedir.Expand(opt.certFile)
	if err != nil {
		return err
	}
	keyFile, err := homedir.Expand(opt.keyFile)
	if err != nil {
		return err
	}
	tlsConfig, err := rproxy.TLSServerConfig(opt.caFile, certFile, keyFile, opt.caFile != "")
	if err != nil {
		return fmt.Errorf("loading TLS certificate: %w", err)
	}

	servers, err := rproxy.LoadServersFile(serversPath)
	if err != nil {
		return fmt.Errorf("loading %s: %w", serversPath, err)
	}

	registry := prometheus.NewRegistry()
	metrics := rproxy.NewMetrics(registry)

	var accessLog *rproxy.AccessLog
	if opt.syslogNetwork != "" {
		accessLog = rproxy.NewAccessLog(rproxy.AccessLogOptions{
			Network:  opt.syslogNetwork,
			Address:  opt.syslogAddress,
			Tag:      opt.syslogTag,
			Priority: 14, // LOG_INFO | LOG_USER
		})
	}

	srv := rproxy.NewServer(rproxy.ServerOptions{
		Addr:                fmt.Sprintf(":%d", opt.port),
		TLSConfig:           tlsConfig,
		Policy:              rproxy.Policy(opt.loadbal),
		Servers:             servers,
		FailureThreshold:    opt.threshold,
		MaxRetries:          opt.retries,
		IdleTimeout:         time.Duration(opt.keepalive * float64(time.Second)),
		PoolMaxSize:         opt.maxsize,
		PoolMaxLifetime:     time.Duration(opt.expire * float64(time.Second)),
		PoolCleanupInterval: time.Duration(opt.frequency * float64(time.Second)),
		Metrics:             metrics,
		AccessLog:           accessLog,
	})

	discovery := rproxy.NewDiscoveryListener(fmt.Sprintf(":%d", opt.discovery), srv.LoadBalancer)
	admin := rproxy.NewAdminListener(opt.adminAddr, srv.LoadBalancer, registry)

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		<-sig
		rproxy.Log.Info("shutting down")
		cancel()
		admin.Stop()
	}()

	printBanner(opt, servers)

	go func() {
		if err := discovery.Start(); err != nil {
			rproxy.Log.WithError(err).Error("discovery listener stopped")
		}
	}()
	go func() {
		if err := admin.Start(); err != nil {
			rproxy.Log.WithError(err).Error("admin listener stopped")
		}
	}()

	rproxy.Log.WithField("port", opt.port).Info("starting reverse proxy")
	return srv.Serve(ctx)
}

func applyFileConfig(opt *options) {
	cfg, err := loadFileConfig(opt.config)
	if err != nil {
		rproxy.Log.WithError(err).Fatal("failed to load config file")
	}
	if cfg.Port != 0 {
		opt.port = cfg.Port
	}
	if cfg.LoadBalancer != "" {
		opt.loadbal = cfg.LoadBalancer
	}
	if cfg.Discovery != 0 {
		opt.discovery = cfg.Discovery
	}
	if cfg.Threshold != 0 {
		opt.threshold = cfg.Threshold
	}
	if cfg.Retries != 0 {
		opt.retries = cfg.Retries
	}
	if cfg.KeepAlive != 0 {
		opt.keepalive = cfg.KeepAlive
	}
	if cfg.MaxSize != 0 {
		opt.maxsize = cfg.MaxSize
	}
	if cfg.Expiration != 0 {
		opt.expire = cfg.Expiration
	}
	if cfg.Frequency != 0 {
		opt.frequency = cfg.Frequency
	}
	if cfg.Verbose {
		opt.verbose = true
	}
	if cfg.CertFile != "" {
		opt.certFile = cfg.CertFile
	}
	if cfg.KeyFile != "" {
		opt.keyFile = cfg.KeyFile
	}
	if cfg.CAFile != "" {
		opt.caFile = cfg.CAFile
	}
	if cfg.AdminAddr != "" {
		opt.adminAddr = cfg.AdminAddr
	}
	if cfg.SyslogNetwork != "" {
		opt.syslogNetwork = cfg.SyslogNetwork
	}
	if cfg.SyslogAddress != "" {
		opt.syslogAddress = cfg.SyslogAddress
	}
	if cfg.SyslogTag != "" {
		opt.syslogTag = cfg.SyslogTag
	}
}

func printBanner(opt options, servers []string) {
	bold := color.New(color.FgCyan, color.Bold)
	bold.Printf("reverseproxy")
	fmt.Printf(" listening on :%d (discovery :%d), load balancer %s, %d backend(s)\n",
		opt.port, opt.discovery, opt.loadbal, len(servers))
}
