package store

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

// entry is a stored value with an optional expiry deadline.
type entry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// MemoryKV implements KV with an in-process map. Expiry is checked lazily
// on access, which is sufficient for the cache and location-index
// workloads it backs in tests and single-box deployments.
type MemoryKV struct {
	mu   sync.RWMutex     // Protects concurrent access
	data map[string]entry // Key-value storage
	now  func() time.Time // Clock, replaceable in tests
}

// NewMemoryKV creates a new in-memory key-value store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		data: make(map[string]entry),
		now:  time.Now,
	}
}

// SetClock overrides the clock used for expiry checks.
// Intended for TTL tests only.
func (m *MemoryKV) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryKV) expired(e entry) bool {
	return !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt)
}

// Get retrieves a value by key, honoring expiry.
func (m *MemoryKV) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, exists := m.data[key]
	if !exists {
		return "", ErrKeyNotFound
	}
	if m.expired(e) {
		delete(m.data, key)
		return "", ErrKeyNotFound
	}
	return e.value, nil
}

// Set stores a value with no expiry.
func (m *MemoryKV) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = entry{value: value}
	return nil
}

// SetEx stores a value that expires after ttl.
func (m *MemoryKV) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = entry{value: value, expiresAt: m.now().Add(ttl)}
	return nil
}

// TTL reports the remaining lifetime of a key. Returns zero for keys
// without an expiry and ErrKeyNotFound for missing keys. Not part of the
// KV interface; tests use it to assert cache population policy.
func (m *MemoryKV) TTL(ctx context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, exists := m.data[key]
	if !exists || m.expired(e) {
		return 0, ErrKeyNotFound
	}
	if e.expiresAt.IsZero() {
		return 0, nil
	}
	return e.expiresAt.Sub(m.now()), nil
}

// Incr atomically increments the integer at key, treating a missing key
// as zero.
func (m *MemoryKV) Incr(ctx context.Context, key string) (int64, error) {
	return m.add(key, 1)
}

// Decr atomically decrements the integer at key, treating a missing key
// as zero.
func (m *MemoryKV) Decr(ctx context.Context, key string) (int64, error) {
	return m.add(key, -1)
}

func (m *MemoryKV) add(key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current int64
	if e, exists := m.data[key]; exists && !m.expired(e) {
		parsed, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, err
		}
		current = parsed
	}
	current += delta
	m.data[key] = entry{value: strconv.FormatInt(current, 10)}
	return current, nil
}

// Keys returns all live keys with the given prefix.
func (m *MemoryKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.data))
	for key, e := range m.data {
		if m.expired(e) {
			delete(m.data, key)
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryKV) Close() error {
	return nil
}
