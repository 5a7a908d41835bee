package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKV implements KV against a Redis server. The location index and
// the product cache share one server under different key namespaces, so
// a single client is enough.
type RedisKV struct {
	client *redis.Client
}

// NewRedisKV connects to the Redis server at addr and verifies the
// connection with a ping before returning.
func NewRedisKV(ctx context.Context, addr, password string) (*RedisKV, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisKV{client: client}, nil
}

// Get retrieves a value by key.
func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrKeyNotFound
	}
	return value, err
}

// Set stores a value with no expiry.
func (r *RedisKV) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

// SetEx stores a value that expires after ttl.
func (r *RedisKV) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Incr atomically increments the integer at key. Redis INCR is a single
// round-trip increment-and-fetch, which is what keeps two concurrent
// creates from racing to the same identifier.
func (r *RedisKV) Incr(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, key).Result()
}

// Decr atomically decrements the integer at key.
func (r *RedisKV) Decr(ctx context.Context, key string) (int64, error) {
	return r.client.Decr(ctx, key).Result()
}

// Keys returns all keys with the given prefix.
func (r *RedisKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	return r.client.Keys(ctx, prefix+"*").Result()
}

// Close releases the client connection.
func (r *RedisKV) Close() error {
	return r.client.Close()
}
