// Package store defines the narrow contracts polystore has with its
// external backends (key-value, document, relational and graph stores)
// together with in-memory and driver-backed implementations. The core
// routing and caching layers depend only on the interfaces in this
// package; which implementation sits behind them is a wiring decision
// made at process startup.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned when a key doesn't exist in a KV store.
var ErrKeyNotFound = errors.New("key not found")

// KV is the contract for the fast key-value backend used by both the
// location index and the product cache. All implementations must be safe
// for concurrent use.
type KV interface {
	// Get retrieves a value by key.
	// Returns ErrKeyNotFound if the key doesn't exist or has expired.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value with no expiry, overwriting any existing value.
	Set(ctx context.Context, key, value string) error

	// SetEx stores a value that expires after ttl.
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error

	// Incr atomically increments the integer value at key by one and
	// returns the new value. Missing keys count as zero.
	Incr(ctx context.Context, key string) (int64, error)

	// Decr atomically decrements the integer value at key by one and
	// returns the new value. Missing keys count as zero.
	Decr(ctx context.Context, key string) (int64, error)

	// Keys returns all live keys with the given prefix.
	// Order is not guaranteed.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close releases the underlying connection, if any.
	Close() error
}
