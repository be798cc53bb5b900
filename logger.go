package rproxy

import "github.com/sirupsen/logrus"

// Log is the package-wide logger. Applications embedding the proxy can
// replace it or reconfigure its level/formatter before starting a Server.
var Log = logrus.New()

func init() {
	Log.SetLevel(logrus.WarnLevel)
}

// connLog returns a per-connection logger entry carrying the client
// address, so related log lines can be grepped together.
func connLog(clientAddr string) *logrus.Entry {
	return Log.WithField("client", clientAddr)
}
