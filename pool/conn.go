package pool

import (
	"fmt"

	"github.com/PlumpMath/async-connect/transport"
)

// AddrKey identifies one logical destination. Multiple physical connections
// may share a key.
type AddrKey struct {
	Host string
	Port int
}

func (k AddrKey) String() string {
	return fmt.Sprintf("%s:%d", k.Host, k.Port)
}

// Conn is one physical transport session. While checked out it is owned by
// the application; while idle it is owned by its pool stack. Ownership
// changes hands exactly at the Checkout/Return boundaries.
type Conn struct {
	// Read delivers byte chunks from the peer and is closed on transport
	// teardown.
	Read <-chan []byte

	// Write accepts byte chunks for the peer. Writers select on Done to
	// avoid blocking on a dead session.
	Write chan<- []byte

	// Done is closed when the transport is torn down for any reason.
	Done <-chan struct{}

	key    AddrKey
	handle transport.Handle

	// owner is only set while the connection is checked out. It locates
	// the stack to return to; the pool strips it before storing the
	// connection and re-attaches it on the next checkout.
	owner *Pool
}

// NewConn tags a raw transport session with its address key and the pool it
// will be returned to.
func NewConn(key AddrKey, raw transport.RawConn, p *Pool) *Conn {
	return &Conn{
		Read:   raw.Read,
		Write:  raw.Write,
		Done:   raw.Done,
		key:    key,
		handle: raw.Handle,
		owner:  p,
	}
}

// Release returns a checked-out connection to the pool it was checked out
// from, making it the next reuse candidate for its key. Releasing a
// connection that is not attached to a pool is a no-op. Only the current
// holder of the connection may call Release.
func (c *Conn) Release() {
	if p := c.owner; p != nil {
		p.Return(c)
	}
}

// Key returns the (host, port) key the connection was created for.
func (c *Conn) Key() AddrKey { return c.key }

// Handle returns the opaque transport session reference.
func (c *Conn) Handle() transport.Handle { return c.handle }

// identity is the value compared for pool membership: address key plus
// transport handle. It deliberately excludes the owner back-reference, so
// two Conn values for the same session compare equal no matter which pool
// they are attached to.
type identity struct {
	key    AddrKey
	handle transport.Handle
}

func (c *Conn) identity() identity { return identity{key: c.key, handle: c.handle} }
