package rproxy

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
)

// serversFile mirrors the exact servers.json wire shape: a fixed list of
// {ip, port} objects. The structure is pinned by the deployment format, not
// a design choice, so there's no third-party schema library to reach for
// here — encoding/json maps the literal shape directly.
type serversFile struct {
	Servers []struct {
		IP   string `json:"ip"`
		Port int    `json:"port"`
	} `json:"servers"`
}

// LoadServersFile reads a servers.json file and returns its entries as
// "host:port" addresses, validating each one.
func LoadServersFile(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var data serversFile
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	addrs := make([]string, 0, len(data.Servers))
	for _, s := range data.Servers {
		addr := net.JoinHostPort(s.IP, fmt.Sprint(s.Port))
		if err := validEndpoint(addr); err != nil {
			return nil, fmt.Errorf("invalid server entry %q: %w", addr, err)
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}
