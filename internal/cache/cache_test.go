package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/polystore/internal/locator"
	"github.com/dreamware/polystore/internal/model"
	"github.com/dreamware/polystore/internal/registry"
	"github.com/dreamware/polystore/internal/store"
)

// cacheHarness bundles one in-memory shard behind a registry, a locator
// and a graph so tests can drive the full miss-fetch-warm path.
type cacheHarness struct {
	kv    *store.MemoryKV
	loc   *locator.Locator
	reg   *registry.Registry
	graph *store.MemoryGraph
	shard *store.MemoryDocumentStore
	cache *ProductCache
}

const testShardAddr = "shard-1:27017"

func newCacheHarness(t *testing.T) *cacheHarness {
	t.Helper()

	shard := store.NewMemoryDocumentStore()
	reg := registry.New(func(ctx context.Context, addr string) (store.DocumentStore, error) {
		return shard, nil
	})
	t.Cleanup(func() { reg.Close(context.Background()) })
	require.NoError(t, reg.Register(context.Background(), testShardAddr))

	kv := store.NewMemoryKV()
	// Freeze the clock so TTL assertions see the exact stored values.
	frozen := time.Now()
	kv.SetClock(func() time.Time { return frozen })
	loc := locator.New(kv)
	graph := store.NewMemoryGraph()

	c := New(kv, loc, reg, graph)
	c.SetSynchronousWarm()

	return &cacheHarness{kv: kv, loc: loc, reg: reg, graph: graph, shard: shard, cache: c}
}

// addProduct writes a product to the shard and records its location.
func (h *cacheHarness) addProduct(t *testing.T, id int, name string) {
	t.Helper()
	p := &model.Product{ProductID: id, Name: name, Price: 9.99}
	require.NoError(t, h.shard.InsertProduct(context.Background(), p))
	require.NoError(t, h.loc.Record(context.Background(), locator.ProductKey(id), testShardAddr))
}

// addPurchase books a BOUGHT edge so the recommender links products.
func (h *cacheHarness) addPurchase(t *testing.T, username string, ids ...int) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, h.graph.AddPurchase(context.Background(), username, id))
	}
}

// TestGetProductHitSkipsResolution verifies that a cache hit is served
// straight from the key-value store: no location lookup, no shard read.
// The harness proves it by serving a hit out of a cache whose registry
// has no shards at all.
func TestGetProductHitSkipsResolution(t *testing.T) {
	kv := store.NewMemoryKV()
	reg := registry.New(func(ctx context.Context, addr string) (store.DocumentStore, error) {
		t.Fatal("a cache hit must not dial a shard")
		return nil, nil
	})
	defer reg.Close(context.Background())
	c := New(kv, locator.New(kv), reg, store.NewMemoryGraph())
	c.SetSynchronousWarm()

	cached := model.Product{ProductID: 1, Name: "widget", Price: 4.20}
	raw, err := json.Marshal(cached)
	require.NoError(t, err)
	require.NoError(t, kv.Set(context.Background(), "1", string(raw)))

	got, err := c.GetProduct(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "widget", got.Name)
	assert.Equal(t, 4.20, got.Price)
}

// TestGetProductMissFetchesAndWarms verifies the miss path: the product
// comes back from its shard, lands in the cache with the primary TTL, and
// each recommended neighbor lands with the shorter neighbor TTL.
func TestGetProductMissFetchesAndWarms(t *testing.T) {
	h := newCacheHarness(t)
	h.addProduct(t, 1, "widget")
	h.addProduct(t, 2, "gadget")
	h.addProduct(t, 3, "gizmo")
	// Two users bought 1 together with 2 and 3, so both are neighbors.
	h.addPurchase(t, "alice", 1, 2, 3)
	h.addPurchase(t, "bob", 1, 2)

	got, err := h.cache.GetProduct(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "widget", got.Name)

	ttl, err := h.kv.TTL(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, PrimaryTTL, ttl, "the requested product gets the primary TTL")

	for _, neighbor := range []int{2, 3} {
		ttl, err := h.kv.TTL(context.Background(), strconv.Itoa(neighbor))
		require.NoError(t, err, "neighbor %d must be cached", neighbor)
		assert.Equal(t, NeighborTTL, ttl, "neighbor %d gets the neighbor TTL", neighbor)
	}
}

// TestWarmSkipsFailingNeighbor verifies that one unfetchable neighbor
// does not abort the warm: the rest of the neighbors still land.
func TestWarmSkipsFailingNeighbor(t *testing.T) {
	h := newCacheHarness(t)
	h.addProduct(t, 1, "widget")
	h.addProduct(t, 2, "gadget")
	// Product 3 is in the graph but has no location record, so its fetch
	// fails with a location miss.
	require.NoError(t, h.shard.InsertProduct(context.Background(), &model.Product{ProductID: 3, Name: "ghost"}))
	h.addPurchase(t, "alice", 1, 2, 3)
	h.addPurchase(t, "bob", 1, 2, 3)

	require.NoError(t, h.cache.Warm(context.Background(), 1))

	_, err := h.kv.TTL(context.Background(), "2")
	assert.NoError(t, err, "the healthy neighbor must still be cached")

	_, err = h.kv.TTL(context.Background(), "3")
	assert.ErrorIs(t, err, store.ErrKeyNotFound, "the failing neighbor is skipped")
}

// TestWarmRefreshesExpiredEntry verifies that entries expire on schedule
// and that a later read re-warms them.
func TestWarmRefreshesExpiredEntry(t *testing.T) {
	h := newCacheHarness(t)
	h.addProduct(t, 1, "widget")

	now := time.Now()
	h.kv.SetClock(func() time.Time { return now })

	_, err := h.cache.GetProduct(context.Background(), 1)
	require.NoError(t, err)

	// Advance past the primary TTL; the entry must be gone.
	now = now.Add(PrimaryTTL + time.Second)
	_, err = h.kv.Get(context.Background(), "1")
	require.ErrorIs(t, err, store.ErrKeyNotFound)

	// The next read misses, hits the shard and re-warms.
	got, err := h.cache.GetProduct(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "widget", got.Name)

	ttl, err := h.kv.TTL(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, PrimaryTTL, ttl)
}

// TestGetProductUnknown verifies that a product with no location record
// surfaces the location miss instead of inventing an empty product.
func TestGetProductUnknown(t *testing.T) {
	h := newCacheHarness(t)

	_, err := h.cache.GetProduct(context.Background(), 404)
	assert.ErrorIs(t, err, locator.ErrNotFound)
}

// TestGetProductDiscardsUndecodableEntry verifies that a corrupt cache
// entry falls through to the shard instead of failing the read.
func TestGetProductDiscardsUndecodableEntry(t *testing.T) {
	h := newCacheHarness(t)
	h.addProduct(t, 1, "widget")
	require.NoError(t, h.kv.Set(context.Background(), "1", "{not json"))

	got, err := h.cache.GetProduct(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "widget", got.Name)

	// The warm overwrote the corrupt entry.
	raw, err := h.kv.Get(context.Background(), "1")
	require.NoError(t, err)
	var p model.Product
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	assert.Equal(t, 1, p.ProductID)
}
