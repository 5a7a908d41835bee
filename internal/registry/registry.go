// Package registry tracks the document-store shards known to a polystore
// process: which addresses exist, how full each one approximately is,
// and one pooled connection per address. It decides where new entities
// land (least-loaded placement) and is the recovery point when a pooled
// connection fails.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/exp/slices"
)

// ErrNoShardAvailable is returned when a write needs a shard but none is
// registered.
var ErrNoShardAvailable = errors.New("no shard available")

// ErrUnknownShard is returned when an operation names an address that was
// never registered.
var ErrUnknownShard = errors.New("unknown shard")

// ErrShardUnreachable is returned when registration fails because the
// shard could not be dialed. No partial entry is left behind.
var ErrShardUnreachable = errors.New("shard unreachable")

// shardEntry pairs a shard address with its advisory load counter. The
// counter counts placements since registration; it is not reconciled
// against actual document counts.
type shardEntry struct {
	addr string
	load int64
}

// Registry holds the set of known shard addresses for the document store
// plus a per-shard saturation counter, and selects a target shard for new
// writes. Every address in the registry has exactly one live handle in
// the pool; Register keeps that invariant by dialing before adding the
// entry.
//
// All methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries []shardEntry // first-seen order, ties broken by position
	pool    *Pool
}

// New creates a registry whose connections are opened with dial.
func New(dial DialFunc) *Registry {
	return &Registry{pool: NewPool(dial)}
}

// Pool exposes the connection pool for lookups by address.
func (r *Registry) Pool() *Pool {
	return r.pool
}

func (r *Registry) index(addr string) int {
	return slices.IndexFunc(r.entries, func(e shardEntry) bool { return e.addr == addr })
}

// Register adds a shard. Idempotent: if the address already has a live
// connection this is a no-op. Otherwise the shard is dialed first and a
// zero-initialized entry is added only on success, so a failed dial
// leaves no partial state.
func (r *Registry) Register(ctx context.Context, addr string) error {
	if addr == "" {
		return fmt.Errorf("%w: empty address", ErrShardUnreachable)
	}

	r.mu.RLock()
	exists := r.index(addr) >= 0 && r.pool.Has(addr)
	r.mu.RUnlock()
	if exists {
		return nil
	}

	if err := r.pool.Open(ctx, addr); err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrShardUnreachable, addr, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index(addr) < 0 {
		r.entries = append(r.entries, shardEntry{addr: addr})
	}
	return nil
}

// Deregister removes a shard and drops its pooled connection.
// Returns ErrUnknownShard if the address was never registered.
func (r *Registry) Deregister(ctx context.Context, addr string) error {
	r.mu.Lock()
	idx := r.index(addr)
	if idx < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownShard, addr)
	}
	r.entries = slices.Delete(r.entries, idx, idx+1)
	r.mu.Unlock()

	r.pool.Drop(ctx, addr)
	return nil
}

// Reregister drops the (presumed dead) connection for addr and dials it
// again, keeping the entry and its load counter. Used to recover from
// ErrConnectionLost before a bounded retry.
func (r *Registry) Reregister(ctx context.Context, addr string) error {
	r.mu.RLock()
	known := r.index(addr) >= 0
	r.mu.RUnlock()
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownShard, addr)
	}

	r.pool.Drop(ctx, addr)
	if err := r.pool.Open(ctx, addr); err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrShardUnreachable, addr, err)
	}
	return nil
}

// ChooseShardForWrite returns the address with the smallest load counter,
// ties broken by registration order, and increments that counter as a
// reservation. Returns ErrNoShardAvailable if the registry is empty.
func (r *Registry) ChooseShardForWrite() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) == 0 {
		return "", ErrNoShardAvailable
	}

	best := 0
	for i := 1; i < len(r.entries); i++ {
		if r.entries[i].load < r.entries[best].load {
			best = i
		}
	}
	r.entries[best].load++
	return r.entries[best].addr, nil
}

// List returns all registered addresses in first-seen order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	addrs := make([]string, len(r.entries))
	for i, e := range r.entries {
		addrs[i] = e.addr
	}
	return addrs
}

// Load returns the advisory load counter for addr.
// Returns ErrUnknownShard if the address was never registered.
func (r *Registry) Load(addr string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx := r.index(addr)
	if idx < 0 {
		return 0, fmt.Errorf("%w: %s", ErrUnknownShard, addr)
	}
	return r.entries[idx].load, nil
}

// SetLoad overwrites the load counter for addr, for operators seeding a
// registry from known shard sizes. Returns ErrUnknownShard if absent.
func (r *Registry) SetLoad(addr string, load int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.index(addr)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownShard, addr)
	}
	r.entries[idx].load = load
	return nil
}

// Close deregisters everything and drops all pooled connections.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	r.entries = nil
	r.mu.Unlock()
	r.pool.Close(ctx)
}
