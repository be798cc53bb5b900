package rproxy

import (
	"fmt"
	"time"

	syslog "github.com/RackSec/srslog"
)

// AccessLog forwards a one-line summary of every completed request to
// syslog. It's optional: a Server whose AccessLog is nil records nothing.
type AccessLog struct {
	writer *syslog.Writer
	opt    AccessLogOptions
}

// AccessLogOptions configures the syslog destination.
type AccessLogOptions struct {
	// "udp", "tcp", "unix". Passed to the syslog dialer unchanged; no
	// default is filled in here.
	Network string
	// Address of the syslog server.
	Address string
	// Priority as per https://pkg.go.dev/log/syslog#Priority.
	Priority int
	// Tag identifies this proxy instance in the syslog stream.
	Tag string
}

// NewAccessLog dials the configured syslog destination. A dial failure is
// logged but does not block startup: Record silently no-ops if writer is nil.
func NewAccessLog(opt AccessLogOptions) *AccessLog {
	writer, err := syslog.Dial(opt.Network, opt.Address, syslog.Priority(opt.Priority), opt.Tag)
	if err != nil {
		Log.WithError(err).Error("failed to initialize syslog access log")
		return &AccessLog{opt: opt}
	}
	return &AccessLog{writer: writer, opt: opt}
}

// Record writes one summary line for a completed request.
func (a *AccessLog) Record(clientAddr, method, path, backend string, statusCode, bytes int, duration time.Duration) {
	if a.writer == nil {
		return
	}
	msg := fmt.Sprintf(
		"client=%s method=%s path=%q backend=%s status=%d bytes=%d duration=%s",
		clientAddr, method, path, backend, statusCode, bytes, duration,
	)
	if _, err := a.writer.Write([]byte(msg)); err != nil {
		Log.WithError(err).Error("failed to send syslog access log")
	}
}
