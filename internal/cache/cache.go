// Package cache implements the product cache: a key-value front for
// single-product reads with proactive warming of a product's recommended
// neighbors. Entries are idempotent derived data, so concurrent warms for
// the same id simply last-write-win, and nothing here is ever invalidated
// early; staleness is bounded by the TTLs plus the explicit re-warm that
// rating and review writes trigger.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/dreamware/polystore/internal/locator"
	"github.com/dreamware/polystore/internal/model"
	"github.com/dreamware/polystore/internal/registry"
	"github.com/dreamware/polystore/internal/store"
)

// Cache TTLs. The directly requested product stays longer than its
// recommendation neighbors: neighbors are a secondary-interest cache with
// lower hit value than the primary lookup.
const (
	PrimaryTTL  = 300 * time.Second
	NeighborTTL = 45 * time.Second
)

// warmTimeout bounds a whole background warm pass.
const warmTimeout = 10 * time.Second

// ProductCache fronts the document store for product reads.
type ProductCache struct {
	kv          store.KV
	locator     *locator.Locator
	registry    *registry.Registry
	recommender store.Recommender

	// warmAsync lets tests run the warm pass synchronously.
	warmAsync bool
}

// New creates a product cache. Warms after a miss run on their own
// goroutine.
func New(kv store.KV, loc *locator.Locator, reg *registry.Registry, rec store.Recommender) *ProductCache {
	return &ProductCache{
		kv:          kv,
		locator:     loc,
		registry:    reg,
		recommender: rec,
		warmAsync:   true,
	}
}

// SetSynchronousWarm makes GetProduct run its post-miss warm inline.
// Tests use this to assert on cache contents without sleeping.
func (c *ProductCache) SetSynchronousWarm() {
	c.warmAsync = false
}

// GetProduct returns the product with the given id. On a cache hit the
// value is served directly with no shard resolution at all. On a miss the
// product is fetched from its owning shard, returned, and a warm of the
// product and its recommended neighbors is kicked off in the background;
// warm failures are logged, never surfaced to this caller.
func (c *ProductCache) GetProduct(ctx context.Context, productID int) (*model.Product, error) {
	key := strconv.Itoa(productID)

	if raw, err := c.kv.Get(ctx, key); err == nil {
		var p model.Product
		if err := json.Unmarshal([]byte(raw), &p); err == nil {
			return &p, nil
		}
		// Undecodable entry: fall through to the store and let the warm
		// overwrite it.
		log.Printf("cache: discarding undecodable entry for product %d", productID)
	}

	p, err := c.fetchFromShard(ctx, productID)
	if err != nil {
		return nil, err
	}

	if c.warmAsync {
		go c.warmWithTimeout(productID)
	} else {
		c.warmWithTimeout(productID)
	}
	return p, nil
}

func (c *ProductCache) warmWithTimeout(productID int) {
	ctx, cancel := context.WithTimeout(context.Background(), warmTimeout)
	defer cancel()
	if err := c.Warm(ctx, productID); err != nil {
		log.Printf("cache: warm of product %d failed: %v", productID, err)
	}
}

// Warm fetches the product from its owning shard and caches it with
// PrimaryTTL, then asks the recommender for its neighbors and caches each
// of those, from their own shards, with NeighborTTL. A neighbor that
// fails to fetch is skipped; the remaining neighbors still land.
func (c *ProductCache) Warm(ctx context.Context, productID int) error {
	p, err := c.fetchFromShard(ctx, productID)
	if err != nil {
		return fmt.Errorf("warm product %d: %w", productID, err)
	}
	if err := c.put(ctx, p, PrimaryTTL); err != nil {
		return fmt.Errorf("warm product %d: %w", productID, err)
	}

	neighbors, err := c.recommender.Recommend(ctx, productID)
	if err != nil {
		return fmt.Errorf("warm product %d: recommend: %w", productID, err)
	}
	for _, n := range neighbors {
		np, err := c.fetchFromShard(ctx, n.ProductID)
		if err != nil {
			log.Printf("cache: skipping neighbor %d of product %d: %v", n.ProductID, productID, err)
			continue
		}
		if err := c.put(ctx, np, NeighborTTL); err != nil {
			log.Printf("cache: caching neighbor %d of product %d: %v", n.ProductID, productID, err)
		}
	}
	return nil
}

func (c *ProductCache) put(ctx context.Context, p *model.Product, ttl time.Duration) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.kv.SetEx(ctx, strconv.Itoa(p.ProductID), string(raw), ttl)
}

// fetchFromShard resolves the product's owning shard through the location
// index and reads the document through the pooled connection.
func (c *ProductCache) fetchFromShard(ctx context.Context, productID int) (*model.Product, error) {
	addr, err := c.locator.Resolve(ctx, locator.ProductKey(productID))
	if err != nil {
		return nil, err
	}
	conn, err := c.registry.Pool().Get(addr)
	if err != nil {
		return nil, err
	}
	return conn.FindProduct(ctx, productID)
}
