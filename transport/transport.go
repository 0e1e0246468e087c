// Package transport defines the collaborator interfaces the connection pool
// drives: establishing raw byte-channel sessions, arming idle watchdogs and
// close listeners on them, and forced teardown.
package transport

import (
	"context"
	"fmt"
	"time"
)

// Handle is an opaque reference to one physical transport session. Handles
// are comparable and a session keeps the same Handle for its whole lifetime,
// so a Handle can serve as an identity for the session.
type Handle interface {
	fmt.Stringer
}

// RawConn is a freshly established session: the application-facing byte
// channels plus the Handle all session operations go through.
type RawConn struct {
	Handle Handle

	// Read delivers byte chunks read from the peer. It is closed when the
	// session is torn down.
	Read <-chan []byte

	// Write accepts byte chunks for the peer. A full channel stalls the
	// producer. Closing it tears the session down (local close).
	Write chan<- []byte

	// Done is closed when the session is torn down for any reason.
	// Writers select on it to observe the close instead of blocking on a
	// dead session.
	Done <-chan struct{}
}

// Transport is the engine the pool creates connections on.
type Transport interface {
	// Connect establishes a new session to host:port. The context only
	// covers connection establishment.
	Connect(ctx context.Context, host string, port int) (RawConn, error)

	// InstallIdleWatchdog arms an idle-only timeout on h: f may fire each
	// time timeout elapses without a successful read or write on the
	// session. There are no separate read/write direction timeouts.
	InstallIdleWatchdog(h Handle, timeout time.Duration, f func())

	// InstallCloseListener registers f to run exactly once when the
	// session is torn down for any reason (forced close, remote close,
	// error). Registering on an already dead session runs f immediately.
	InstallCloseListener(h Handle, f func())

	// ForceClose tears the session down immediately.
	ForceClose(h Handle) error
}
