package registry

import (
	"context"
	"errors"
	"sync"

	"github.com/dreamware/polystore/internal/store"
)

// ErrNotRegistered is returned when no connection exists for an address.
var ErrNotRegistered = errors.New("shard not registered")

// ErrConnectionLost is returned when a pooled handle failed. The pool
// never silently re-dials; recovery is the registry's job (re-register
// the shard).
var ErrConnectionLost = errors.New("shard connection lost")

// DialFunc opens a document-store handle for a shard address.
type DialFunc func(ctx context.Context, addr string) (store.DocumentStore, error)

// Pool owns exactly one live document-store handle per registered shard
// address. Handles are created when a shard registers and reused for the
// process lifetime. One logical handle per shard is sufficient at this
// scale; the drivers multiplex underneath.
type Pool struct {
	mu    sync.RWMutex
	conns map[string]store.DocumentStore
	dial  DialFunc
}

// NewPool creates a pool that opens connections with the given dial
// function.
func NewPool(dial DialFunc) *Pool {
	return &Pool{
		conns: make(map[string]store.DocumentStore),
		dial:  dial,
	}
}

// Open dials the address and stores the handle. If a handle already
// exists it is left untouched and no new connection is opened.
func (p *Pool) Open(ctx context.Context, addr string) error {
	p.mu.RLock()
	_, exists := p.conns[addr]
	p.mu.RUnlock()
	if exists {
		return nil
	}

	// Dial outside the lock; a slow shard must not block pool lookups.
	conn, err := p.dial(ctx, addr)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.conns[addr]; exists {
		// Lost the race with a concurrent Open; keep the first handle.
		go conn.Close(context.Background())
		return nil
	}
	p.conns[addr] = conn
	return nil
}

// Get returns the handle for addr, or ErrNotRegistered.
func (p *Pool) Get(addr string) (store.DocumentStore, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	conn, exists := p.conns[addr]
	if !exists {
		return nil, ErrNotRegistered
	}
	return conn, nil
}

// Has reports whether a handle exists for addr.
func (p *Pool) Has(addr string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, exists := p.conns[addr]
	return exists
}

// Drop closes and removes the handle for addr. No error if absent.
func (p *Pool) Drop(ctx context.Context, addr string) {
	p.mu.Lock()
	conn, exists := p.conns[addr]
	delete(p.conns, addr)
	p.mu.Unlock()

	if exists {
		_ = conn.Close(ctx)
	}
}

// Close drops every handle.
func (p *Pool) Close(ctx context.Context) {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]store.DocumentStore)
	p.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close(ctx)
	}
}
