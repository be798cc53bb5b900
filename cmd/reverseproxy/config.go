package main

import (
	"github.com/BurntSushi/toml"
)

// fileConfig is the optional extended configuration file (-c/--config).
// Non-zero values from the file are applied over the parsed flag defaults,
// so an explicit flag matching its own zero value can still be shadowed by
// the file; this mirrors the flag/file precedence quirk of the config
// loaders elsewhere in this pack rather than attempting to track which
// flags were explicitly set.
type fileConfig struct {
	Port         int     `toml:"port"`
	LoadBalancer string  `toml:"loadbal"`
	Discovery    int     `toml:"discovery"`
	Threshold    int     `toml:"threshold"`
	Retries      int     `toml:"retries"`
	KeepAlive    float64 `toml:"keepalive"`
	MaxSize      int     `toml:"maxsize"`
	Expiration   float64 `toml:"expiration"`
	Frequency    float64 `toml:"frequency"`
	Verbose      bool    `toml:"verbose"`

	CertFile string `toml:"cert-file"`
	KeyFile  string `toml:"key-file"`
	CAFile   string `toml:"ca-file"`

	AdminAddr string `toml:"admin-addr"`

	SyslogNetwork string `toml:"syslog-network"`
	SyslogAddress string `toml:"syslog-address"`
	SyslogTag     string `toml:"syslog-tag"`
}

func loadFileConfig(path string) (*fileConfig, error) {
	var cfg fileConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
