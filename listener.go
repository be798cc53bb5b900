package rproxy

import "fmt"

// Listener is a component that accepts connections on some port until it
// is stopped: the TLS/HTTP server, the discovery listener, and the admin
// listener.
type Listener interface {
	Start() error
	fmt.Stringer
}
