package main

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/PlumpMath/async-connect/connect"
	"github.com/PlumpMath/async-connect/pool"
	"github.com/PlumpMath/async-connect/transport/tcp"
)

func startEchoBackend(t *testing.T) (port int, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				io.Copy(c, c)
				c.Close()
			}(c)
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port, func() { ln.Close() }
}

// startStreamBackend answers the first read and then keeps pushing
// unsolicited chunks until the connection dies.
func startStreamBackend(t *testing.T) (port int, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 4)
				if _, err := io.ReadFull(c, buf); err != nil {
					return
				}
				for {
					if _, err := c.Write([]byte("more")); err != nil {
						return
					}
					time.Sleep(20 * time.Millisecond)
				}
			}(c)
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port, func() { ln.Close() }
}

// A clean exchange ends with the backend connection back in the pool.
func TestForwardReturnsCleanBackendConn(t *testing.T) {
	port, stop := startEchoBackend(t)
	defer stop()

	tr := tcp.New()
	defer tr.Close()
	key := pool.AddrKey{Host: "127.0.0.1", Port: port}
	f := connect.New(tr, connect.IdleTimeout(time.Minute))
	s := newProxyServer("", key, f)

	client, driver := net.Pipe()
	s.wg.Add(1)
	go s.forward(client)

	if _, err := driver.Write([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(driver, buf); err != nil {
		t.Fatal(err)
	}
	driver.Close()
	s.wg.Wait()

	if got := f.Pool().Idle(key); got != 1 {
		t.Fatalf("expected clean backend connection pooled, idle=%d", got)
	}
}

// A backend still streaming when the client goes away must not reach the
// pool: the next checkout would observe the predecessor's bytes.
func TestForwardDiscardsBackendMidStream(t *testing.T) {
	port, stop := startStreamBackend(t)
	defer stop()

	tr := tcp.New()
	defer tr.Close()
	key := pool.AddrKey{Host: "127.0.0.1", Port: port}
	f := connect.New(tr, connect.IdleTimeout(time.Minute))
	s := newProxyServer("", key, f)

	client, driver := net.Pipe()
	s.wg.Add(1)
	go s.forward(client)

	if _, err := driver.Write([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(driver, buf); err != nil {
		t.Fatal(err)
	}
	// let more backend chunks pile up, then walk away mid-stream
	time.Sleep(100 * time.Millisecond)
	driver.Close()
	s.wg.Wait()

	if got := f.Pool().Len(); got != 0 {
		t.Fatalf("dirty backend connection was pooled, idle=%d", got)
	}
}
