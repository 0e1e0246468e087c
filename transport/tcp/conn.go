package tcp

import (
	"net"
	"sync"
	"sync/atomic"
)

// conn wraps a net.Conn with the bookkeeping the idle watchdog and the
// close listeners need.
//
// activeCount is atomic; the low bit is the closed flag and the remaining
// bits count successful Read/Write calls on the socket. Keeping the flag
// and the counter in one word lets the watchdog observe "closed" and
// "activity since last sample" in a single load.
type conn struct {
	net.Conn

	activeCount uint64

	remote string

	readC  chan []byte
	writeC chan []byte
	done   chan struct{}

	mu        sync.Mutex
	listeners []func()

	closeErr error
}

func (c *conn) String() string { return c.remote }

func (c *conn) Read(b []byte) (n int, err error) {
	n, err = c.Conn.Read(b)
	if err == nil {
		atomic.AddUint64(&c.activeCount, 2)
	}
	return
}

func (c *conn) Write(b []byte) (n int, err error) {
	n, err = c.Conn.Write(b)
	if err == nil {
		atomic.AddUint64(&c.activeCount, 2)
	}
	return
}

// Close tears the session down once, whichever path gets there first, and
// fires the registered close listeners. Subsequent calls return the error
// of the first teardown.
func (c *conn) Close() error {
	for {
		active := atomic.LoadUint64(&c.activeCount)
		if active&1 != 0 {
			c.mu.Lock()
			err := c.closeErr
			c.mu.Unlock()
			return err
		}
		if atomic.CompareAndSwapUint64(&c.activeCount, active, active|1) {
			break
		}
	}

	err := c.Conn.Close()
	close(c.done)

	c.mu.Lock()
	c.closeErr = err
	listeners := c.listeners
	c.listeners = nil
	c.mu.Unlock()

	for _, f := range listeners {
		f()
	}
	return err
}

func (c *conn) isClosed() bool {
	return atomic.LoadUint64(&c.activeCount)&1 != 0
}

// addListener registers f to run on teardown, or runs it right away if the
// session is already dead.
func (c *conn) addListener(f func()) {
	c.mu.Lock()
	if c.isClosed() {
		c.mu.Unlock()
		f()
		return
	}
	c.listeners = append(c.listeners, f)
	c.mu.Unlock()
}

// readLoop pumps socket reads into the read channel. It owns closing the
// read channel: every teardown path errors the pending Read, so the loop
// always gets to run its exit.
func (c *conn) readLoop(chunk int) {
	for {
		buf := make([]byte, chunk)
		n, err := c.Read(buf)
		if n > 0 {
			select {
			case c.readC <- buf[:n]:
			case <-c.done:
			}
		}
		if err != nil {
			c.Close()
			close(c.readC)
			return
		}
	}
}

// writeLoop pumps the write channel onto the socket. The application
// closing its write channel is a local close of the session.
func (c *conn) writeLoop() {
	for {
		select {
		case b, ok := <-c.writeC:
			if !ok {
				c.Close()
				return
			}
			if _, err := c.Write(b); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
