// Package tcp implements the transport interfaces on plain TCP: it dials
// sessions and pumps bytes between each socket and the per-connection
// channels handed to the application.
package tcp

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/One-com/gone/log"

	"github.com/PlumpMath/async-connect/transport"
)

const (
	defaultChanBuffer = 16
	defaultChunkSize  = 32 * 1024
)

var (
	// ErrClosed is returned by Connect after the transport has been shut
	// down.
	ErrClosed = errors.New("tcp: transport is closed")

	// ErrUnknownHandle is returned when a handle was not created by this
	// transport.
	ErrUnknownHandle = errors.New("tcp: unknown transport handle")
)

// Option configures a Transport.
type Option func(*Transport)

// Dialer sets the net.Dialer used for outbound sessions.
func Dialer(d *net.Dialer) Option { return func(t *Transport) { t.dialer = d } }

// ChanBuffer sets the capacity of the per-connection read and write
// channels. A full channel stalls the producing side.
func ChanBuffer(n int) Option { return func(t *Transport) { t.buffer = n } }

// ChunkSize sets the maximum byte chunk read from a socket in one go.
func ChunkSize(n int) Option { return func(t *Transport) { t.chunk = n } }

// Logger directs transport logging somewhere else than log.Default().
func Logger(l *log.Logger) Option { return func(t *Transport) { t.log = l } }

// Transport dials TCP sessions and owns their pump go-routines. It keeps a
// registry of live sessions so Close can tear all of them down.
type Transport struct {
	dialer *net.Dialer
	buffer int
	chunk  int
	log    *log.Logger

	mu     sync.Mutex
	live   map[*conn]struct{}
	closed bool
}

// New returns a ready to use Transport.
func New(opts ...Option) *Transport {
	t := &Transport{
		dialer: &net.Dialer{},
		buffer: defaultChanBuffer,
		chunk:  defaultChunkSize,
		log:    log.Default(),
		live:   make(map[*conn]struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Connect establishes a new TCP session to host:port and starts its pumps.
func (t *Transport) Connect(ctx context.Context, host string, port int) (transport.RawConn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	nc, err := t.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return transport.RawConn{}, err
	}

	c := &conn{
		Conn:   nc,
		remote: nc.RemoteAddr().String(),
		readC:  make(chan []byte, t.buffer),
		writeC: make(chan []byte, t.buffer),
		done:   make(chan struct{}),
	}

	// Registration decides whether the session races a transport shutdown:
	// a session never registered is closed here, a registered one is swept
	// by Close.
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		nc.Close()
		return transport.RawConn{}, ErrClosed
	}
	t.live[c] = struct{}{}
	t.mu.Unlock()
	c.addListener(func() {
		t.mu.Lock()
		delete(t.live, c)
		t.mu.Unlock()
	})

	go c.readLoop(t.chunk)
	go c.writeLoop()

	t.log.DEBUG("tcp: connected", "remote", c.remote)

	return transport.RawConn{
		Handle: c,
		Read:   c.readC,
		Write:  c.writeC,
		Done:   c.done,
	}, nil
}

// InstallIdleWatchdog arms an idle-only timeout on h. f may fire each time
// timeout elapses without successful I/O on the session. A non-positive
// timeout arms nothing.
func (t *Transport) InstallIdleWatchdog(h transport.Handle, timeout time.Duration, f func()) {
	c, ok := h.(*conn)
	if !ok || timeout <= 0 {
		return
	}
	go watch(c, timeout, f)
}

// InstallCloseListener registers f to run exactly once when h is torn down.
func (t *Transport) InstallCloseListener(h transport.Handle, f func()) {
	if c, ok := h.(*conn); ok {
		c.addListener(f)
	}
}

// ForceClose tears the session down immediately, bypassing any pooling.
func (t *Transport) ForceClose(h transport.Handle) error {
	c, ok := h.(*conn)
	if !ok {
		return ErrUnknownHandle
	}
	return c.Close()
}

// Close tears down every live session and marks the transport unusable.
func (t *Transport) Close() {
	t.mu.Lock()
	t.closed = true
	conns := make([]*conn, 0, len(t.live))
	for c := range t.live {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
