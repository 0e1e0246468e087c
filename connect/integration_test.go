package connect_test

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PlumpMath/async-connect/connect"
	"github.com/PlumpMath/async-connect/pool"
	"github.com/PlumpMath/async-connect/transport/tcp"
)

func startEcho(t *testing.T) (port int, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
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

// A pooled, unused connection disappears within the idle window; the next
// connect dials a fresh one.
func TestIdleEvictionEndToEnd(t *testing.T) {
	port, stop := startEcho(t)
	defer stop()

	tr := tcp.New()
	defer tr.Close()
	f := connect.New(tr, connect.IdleTimeout(200*time.Millisecond))

	c1, err := f.Connect("127.0.0.1", port)
	require.NoError(t, err)
	require.NoError(t, f.Close(c1, false))

	key := pool.AddrKey{Host: "127.0.0.1", Port: port}
	require.Eventually(t, func() bool {
		return f.Pool().Idle(key) == 0
	}, 2*time.Second, 20*time.Millisecond, "pooled connection not evicted")

	select {
	case <-c1.Done:
	case <-time.After(time.Second):
		t.Fatal("evicted connection not torn down")
	}

	c2, err := f.Connect("127.0.0.1", port)
	require.NoError(t, err)
	assert.NotEqual(t, c1.Handle(), c2.Handle())
}

// A quiet checked-out connection survives the idle window and stays usable.
func TestCheckedOutSurvivesIdleWindow(t *testing.T) {
	port, stop := startEcho(t)
	defer stop()

	tr := tcp.New()
	defer tr.Close()
	f := connect.New(tr, connect.IdleTimeout(150*time.Millisecond))

	c, err := f.Connect("127.0.0.1", port)
	require.NoError(t, err)

	time.Sleep(500 * time.Millisecond)

	select {
	case <-c.Done:
		t.Fatal("checked-out connection was torn down by the idle watchdog")
	default:
	}

	c.Write <- []byte("still alive")
	select {
	case b, ok := <-c.Read:
		require.True(t, ok, "read channel closed on a live connection")
		assert.NotEmpty(t, b)
	case <-time.After(2 * time.Second):
		t.Fatal("no echo on a connection that should be open")
	}

	require.NoError(t, f.Close(c, true))
}
