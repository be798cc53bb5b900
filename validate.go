package rproxy

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the shared struct-tag validator instance used for CLI options
// and config file values.
var validate = validator.New()

// validEndpoint returns nil if addr, in "<host>:<port>" form, is valid.
// Used when loading servers.json; discovery messages only have their port
// checked for being numeric.
func validEndpoint(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return fmt.Errorf("invalid port: %w", err)
	}
	if ip := net.ParseIP(host); ip != nil {
		return nil
	}
	return validHostname(host)
}

// validHostname returns nil if name is a valid hostname as per
// https://tools.ietf.org/html/rfc3696#section-2 and
// https://tools.ietf.org/html/rfc1123#page-13.
func validHostname(name string) error {
	if name == "" {
		return errors.New("hostname empty")
	}
	if len(name) > 255 {
		return fmt.Errorf("invalid hostname %q: too long", name)
	}
	name = strings.TrimSuffix(name, ".")
	labels := strings.Split(name, ".")
	for _, label := range labels {
		if label == "" {
			return fmt.Errorf("invalid hostname %q: empty label", name)
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return fmt.Errorf("invalid hostname %q: label can not start or end with -", name)
		}
		for _, c := range label {
			switch {
			case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '-':
			default:
				return fmt.Errorf("invalid hostname %q: invalid character %q", name, string(c))
			}
		}
	}
	for _, c := range labels[len(labels)-1] {
		if c < '0' || c > '9' {
			return nil
		}
	}
	return fmt.Errorf("invalid hostname %q: last label can not be all numeric", name)
}

// Options holds the command-line/config-file settings that are checked before
// startup (admin, syslog and CA settings are not among them), with validator
// struct tags for the checks that are expressible declaratively. Checks
// that cross fields (e.g. port != discovery port) are done separately in
// Options.Validate.
type Options struct {
	Port         int    `validate:"min=0,max=65535"`
	Discovery    int    `validate:"min=0,max=65535"`
	LoadBalancer string `validate:"oneof=ROUND_ROBIN RANDOM LEAST_CONNECTIONS IP_HASH"`
	Threshold    int    `validate:"min=1"`
	Retries      int    `validate:"min=0"`
	KeepAlive    float64 `validate:"min=0"`
	MaxSize      int    `validate:"min=0"`
	Expiration   float64 `validate:"min=0"`
	Frequency    float64 `validate:"min=0"`
	CertFile     string `validate:"required"`
	KeyFile      string `validate:"required"`
}

// Validate checks struct tags first, then the cross-field constraints the
// tags can't express.
func (o Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		return err
	}
	if o.Port == o.Discovery {
		return fmt.Errorf("server port and discovery port cannot be the same (both %d)", o.Port)
	}
	return nil
}
