// Package connect hands out reusable outbound connections: an idle pooled
// connection when one exists for the destination, a freshly dialed one
// otherwise. Returned connections go back into the pool; an idle watchdog
// evicts pooled connections nobody picked up within the idle timeout.
package connect

import (
	"context"
	"time"

	"github.com/One-com/gone/log"
	"github.com/One-com/gone/metric"

	"github.com/PlumpMath/async-connect/pool"
	"github.com/PlumpMath/async-connect/transport"
)

// DefaultIdleTimeout is how long a pooled, unused connection is kept when
// no IdleTimeout option is given.
const DefaultIdleTimeout = 60 * time.Second

// Option configures a Factory.
type Option func(*Factory)

// IdleTimeout sets for how long a pooled, unused connection is kept before
// the watchdog evicts it. Zero or negative disables eviction.
func IdleTimeout(d time.Duration) Option {
	return func(f *Factory) { f.idleTimeout = d }
}

// Logger directs factory logging somewhere else than log.Default().
func Logger(l *log.Logger) Option {
	return func(f *Factory) { f.log = l }
}

// Metrics registers checkout/return/eviction counters with c.
func Metrics(c *metric.Client) Option {
	return func(f *Factory) {
		f.hits = c.RegisterCounter("pool.checkout.hit")
		f.misses = c.RegisterCounter("pool.checkout.miss")
		f.returns = c.RegisterCounter("pool.return")
		f.evictions = c.RegisterCounter("pool.evict")
		f.removed = c.RegisterCounter("pool.remove.dead")
	}
}

// Factory composes a transport, an idle-connection pool and the idle
// watchdog into the checkout/close protocol. It is safe for concurrent use.
type Factory struct {
	tr          transport.Transport
	pool        *pool.Pool
	idleTimeout time.Duration
	log         *log.Logger

	hits, misses, returns, evictions, removed *metric.Counter
}

// New returns a Factory creating connections on tr.
func New(tr transport.Transport, opts ...Option) *Factory {
	f := &Factory{
		tr:          tr,
		pool:        pool.New(),
		idleTimeout: DefaultIdleTimeout,
		log:         log.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Connect is ConnectContext without cancellation.
func (f *Factory) Connect(host string, port int) (*pool.Conn, error) {
	return f.ConnectContext(context.Background(), host, port)
}

// ConnectContext returns a connection to host:port - a pooled idle one when
// available (no network I/O happens), a freshly dialed one otherwise. A
// dial failure is propagated unchanged; the pool never masks it. The
// context only covers the dial.
func (f *Factory) ConnectContext(ctx context.Context, host string, port int) (*pool.Conn, error) {
	key := pool.AddrKey{Host: host, Port: port}

	if c := f.pool.Checkout(key); c != nil {
		f.count(f.hits)
		f.log.DEBUG("connect: reusing pooled connection", "key", key, "handle", c.Handle())
		return c, nil
	}
	f.count(f.misses)

	raw, err := f.tr.Connect(ctx, host, port)
	if err != nil {
		return nil, err
	}
	c := pool.NewConn(key, raw, f.pool)

	// A transport that dies for any reason may never stay visible in the
	// pool.
	f.tr.InstallCloseListener(raw.Handle, func() {
		if f.pool.RemoveByIdentity(c) {
			f.count(f.removed)
			f.log.DEBUG("connect: removed dead pooled connection", "key", key, "handle", c.Handle())
		}
	})
	if f.idleTimeout > 0 {
		f.tr.InstallIdleWatchdog(raw.Handle, f.idleTimeout, func() {
			f.evictIfIdle(c)
		})
	}

	f.log.DEBUG("connect: dialed new connection", "key", key, "handle", raw.Handle)
	return c, nil
}

// Close releases a connection. With force the transport is torn down
// immediately, bypassing the pool entirely; a forced-close failure is
// returned to the caller. Without force the connection is returned to the
// pool for reuse and its I/O channels stay live - this is the only path
// that makes a connection reusable.
func (f *Factory) Close(c *pool.Conn, force bool) error {
	if force {
		return f.tr.ForceClose(c.Handle())
	}

	// A transport that died while checked out has already had its close
	// listener run as a no-op. Pooling the carcass would hand it to the
	// next checkout, so a dead connection is dropped here instead.
	select {
	case <-c.Done:
		return nil
	default:
	}

	f.pool.Return(c)

	// Teardown may have raced the return; the transport closes Done before
	// running its listeners, so a purge here or in the listener - whichever
	// runs last - leaves no stale entry.
	select {
	case <-c.Done:
		f.pool.RemoveByIdentity(c)
		return nil
	default:
	}

	f.count(f.returns)
	return nil
}

// Pool exposes the factory's pool for inspection.
func (f *Factory) Pool() *pool.Pool { return f.pool }

// evictIfIdle runs on watchdog fire. Only a connection sitting unused in
// the pool is evicted; a quiet checked-out connection is left alone, since
// silence between requests is expected there. Eviction never surfaces an
// error to the application.
func (f *Factory) evictIfIdle(c *pool.Conn) {
	if !f.pool.EvictIfPooled(c) {
		return
	}
	f.count(f.evictions)
	f.log.DEBUG("connect: evicting idle connection", "key", c.Key(), "handle", c.Handle())
	if err := f.tr.ForceClose(c.Handle()); err != nil {
		f.log.WARN("connect: eviction close failed", "key", c.Key(), "error", err)
	}
}

func (f *Factory) count(ctr *metric.Counter) {
	if ctr != nil {
		ctr.Inc(1)
	}
}
