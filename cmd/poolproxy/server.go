package main

import (
	"net"
	"sync"

	"github.com/One-com/gone/log"

	"github.com/PlumpMath/async-connect/connect"
	"github.com/PlumpMath/async-connect/pool"
)

// proxyServer accepts client connections and forwards their byte stream to
// the backend over pooled connections.
type proxyServer struct {
	addr    string
	backend pool.AddrKey
	factory *connect.Factory

	ln   net.Listener
	quit chan struct{}
	wg   sync.WaitGroup
}

func newProxyServer(addr string, backend pool.AddrKey, f *connect.Factory) *proxyServer {
	return &proxyServer{
		addr:    addr,
		backend: backend,
		factory: f,
		quit:    make(chan struct{}),
	}
}

// Listen is called by the daemon master before Serve.
func (s *proxyServer) Listen() (err error) {
	s.ln, err = net.Listen("tcp", s.addr)
	return
}

func (s *proxyServer) Serve() error {
	log.INFO("proxy: serving", "listen", s.addr, "backend", s.backend)
	for {
		c, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.quit:
				s.wg.Wait()
				return nil
			default:
				return err
			}
		}
		s.wg.Add(1)
		go s.forward(c)
	}
}

func (s *proxyServer) Shutdown() {
	close(s.quit)
	s.ln.Close()
}

// forward pipes client bytes to a pooled backend connection and backend
// bytes back. A clean client exit returns the backend connection for
// reuse; a failing client tears it down so no half-written stream can be
// handed to the next checkout.
func (s *proxyServer) forward(client net.Conn) {
	defer s.wg.Done()
	defer client.Close()

	bc, err := s.factory.Connect(s.backend.Host, s.backend.Port)
	if err != nil {
		log.ERROR("proxy: backend connect failed", "backend", s.backend, "error", err)
		return
	}

	clientDone := make(chan struct{})
	go func() {
		defer close(clientDone)
		buf := make([]byte, 32*1024)
		for {
			n, err := client.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case bc.Write <- chunk:
				case <-bc.Done:
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case b, ok := <-bc.Read:
			if !ok {
				// Backend went away. The factory's close listener has
				// already purged it from the pool.
				return
			}
			if _, err := client.Write(b); err != nil {
				s.factory.Close(bc, true)
				return
			}
		case <-clientDone:
			// Hand the backend connection back only if no residual
			// bytes from this exchange are pending; a dirty stream must
			// not reach the next checkout.
			select {
			case _, ok := <-bc.Read:
				if ok {
					s.factory.Close(bc, true)
				}
			default:
				s.factory.Close(bc, false)
			}
			return
		}
	}
}
