// Package locator implements the location index: the persistent
// key-to-shard-address map that records where each entity physically
// lives. It is the only sanctioned way to resolve an entity to its shard;
// a miss means the entity does not exist, and callers must not fall back
// to scanning every shard, which would only mask a broken write path.
package locator

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/dreamware/polystore/internal/store"
)

// ErrNotFound is returned when no location is recorded for an entity key.
var ErrNotFound = errors.New("entity location not found")

// Key namespaces. A one-character prefix keeps usernames and product ids
// from colliding in the shared key-value store.
const (
	userPrefix    = "u"
	productPrefix = "p"
)

// UserKey builds the composite index key for a username.
func UserKey(username string) string {
	return userPrefix + username
}

// ProductKey builds the composite index key for a product id.
func ProductKey(productID int) string {
	return productPrefix + strconv.Itoa(productID)
}

// Locator is the location index over a fast key-value backend.
type Locator struct {
	kv store.KV
}

// New creates a locator over the given key-value store.
func New(kv store.KV) *Locator {
	return &Locator{kv: kv}
}

// Record registers that the entity behind key lives at addr. Called
// exactly once, immediately after the entity's first durable write.
// Entities never migrate, so the mapping is never rewritten afterward.
func (l *Locator) Record(ctx context.Context, key, addr string) error {
	if err := l.kv.Set(ctx, key, addr); err != nil {
		return fmt.Errorf("record location %s: %w", key, err)
	}
	return nil
}

// Resolve returns the shard address holding the entity behind key, or
// ErrNotFound if the entity was never written.
func (l *Locator) Resolve(ctx context.Context, key string) (string, error) {
	addr, err := l.kv.Get(ctx, key)
	if errors.Is(err, store.ErrKeyNotFound) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("resolve location %s: %w", key, err)
	}
	if addr == "" {
		// Forget leaves an empty value behind; treat it as absence.
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return addr, nil
}

// Usernames lists every username with a recorded location. Used by the
// demo-data generators, not by any point-lookup path.
func (l *Locator) Usernames(ctx context.Context) ([]string, error) {
	keys, err := l.kv.Keys(ctx, userPrefix)
	if err != nil {
		return nil, fmt.Errorf("list user locations: %w", err)
	}
	usernames := make([]string, 0, len(keys))
	for _, key := range keys {
		mapped, err := l.mapped(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("list user locations: %w", err)
		}
		if mapped {
			usernames = append(usernames, key[len(userPrefix):])
		}
	}
	return usernames, nil
}

// ProductIDs lists every product id with a recorded location.
func (l *Locator) ProductIDs(ctx context.Context) ([]int, error) {
	keys, err := l.kv.Keys(ctx, productPrefix)
	if err != nil {
		return nil, fmt.Errorf("list product locations: %w", err)
	}
	ids := make([]int, 0, len(keys))
	for _, key := range keys {
		id, err := strconv.Atoi(key[len(productPrefix):])
		if err != nil {
			// Cache entries and counters share the backend; anything
			// that doesn't parse as "p<number>" isn't a location key.
			continue
		}
		mapped, err := l.mapped(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("list product locations: %w", err)
		}
		if mapped {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// mapped reports whether key still carries a live mapping. Forget leaves
// an empty tombstone behind, and a key can expire between the Keys sweep
// and this read; neither may surface in a listing.
func (l *Locator) mapped(ctx context.Context, key string) (bool, error) {
	value, err := l.kv.Get(ctx, key)
	if errors.Is(err, store.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return value != "", nil
}

// Forget removes the mapping for key. Only shard deregistration cleanup
// calls this; entities themselves are never unmapped.
func (l *Locator) Forget(ctx context.Context, key string) error {
	// The KV contract has no delete; Resolve treats an empty value as
	// absence.
	return l.kv.Set(ctx, key, "")
}
