// Package pool implements a keyed stash of idle connections with LIFO
// reuse. It never creates connections itself; it only stores and hands back
// what callers put in.
package pool

import "sync"

// Pool maps address keys to stacks of idle connections. The most recently
// returned connection is reused first. A single mutex covers all keys,
// favoring invariant simplicity over per-key concurrency.
//
// Invariant: a connection identity is present in at most one stack slot at
// any instant, and never in a stack while checked out.
type Pool struct {
	mu   sync.Mutex
	idle map[AddrKey][]*Conn
}

// New returns an empty pool.
func New() *Pool {
	return &Pool{idle: make(map[AddrKey][]*Conn)}
}

// Checkout pops the most recently returned idle connection for key, or nil
// if none is pooled. The pool back-reference is re-attached before the
// connection is handed out.
func (p *Pool) Checkout(key AddrKey) *Conn {
	p.mu.Lock()
	defer p.mu.Unlock()

	stack := p.idle[key]
	if len(stack) == 0 {
		return nil
	}
	c := stack[len(stack)-1]
	stack[len(stack)-1] = nil
	if len(stack) == 1 {
		delete(p.idle, key)
	} else {
		p.idle[key] = stack[:len(stack)-1]
	}
	c.owner = p
	return c
}

// Return puts a checked-out connection back as the first reuse candidate
// for its key. The back-reference is stripped while the pool owns the
// connection. Returning an identity that is already pooled is a no-op, so
// the single-slot invariant holds even against a double return.
func (p *Pool) Return(c *Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := c.identity()
	for _, pc := range p.idle[c.key] {
		if pc.identity() == id {
			return
		}
	}
	c.owner = nil
	p.idle[c.key] = append(p.idle[c.key], c)
}

// EvictIfPooled removes c from its stack if this exact connection identity
// is currently pooled, and reports whether it did. On true the caller owns
// the transport teardown. A checked-out connection is left alone.
func (p *Pool) EvictIfPooled(c *Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removeLocked(c)
}

// RemoveByIdentity unconditionally filters c out of its key's stack, so a
// transport that died out-of-band can never be handed out again. It reports
// whether an entry was actually removed.
func (p *Pool) RemoveByIdentity(c *Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removeLocked(c)
}

func (p *Pool) removeLocked(c *Conn) bool {
	id := c.identity()
	stack := p.idle[c.key]
	for i, pc := range stack {
		if pc.identity() != id {
			continue
		}
		copy(stack[i:], stack[i+1:])
		stack[len(stack)-1] = nil
		if len(stack) == 1 {
			delete(p.idle, c.key)
		} else {
			p.idle[c.key] = stack[:len(stack)-1]
		}
		return true
	}
	return false
}

// Idle reports the number of pooled connections for key.
func (p *Pool) Idle(key AddrKey) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle[key])
}

// Len reports the total number of pooled connections across all keys.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var n int
	for _, stack := range p.idle {
		n += len(stack)
	}
	return n
}
