package service

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/polystore/internal/cache"
	"github.com/dreamware/polystore/internal/locator"
	"github.com/dreamware/polystore/internal/model"
	"github.com/dreamware/polystore/internal/registry"
	"github.com/dreamware/polystore/internal/store"
)

// harness wires a full service over in-memory backends: one document
// store per shard address (kept across re-registration, like a real
// external server), a shared key-value store, and memory relational and
// graph stores.
type harness struct {
	svc        *Service
	kv         *store.MemoryKV
	loc        *locator.Locator
	reg        *registry.Registry
	relational store.RelationalStore
	graph      *store.MemoryGraph
	cache      *cache.ProductCache

	mu     sync.Mutex
	shards map[string]*store.MemoryDocumentStore
}

// shard returns the backing document store for an address, creating it
// on first use, exactly like the dial function does.
func (h *harness) shard(addr string) *store.MemoryDocumentStore {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, exists := h.shards[addr]
	if !exists {
		s = store.NewMemoryDocumentStore()
		h.shards[addr] = s
	}
	return s
}

func newHarness(t *testing.T, shardAddrs ...string) *harness {
	t.Helper()

	h := &harness{
		kv:         store.NewMemoryKV(),
		relational: store.NewMemoryRelationalStore(),
		graph:      store.NewMemoryGraph(),
		shards:     make(map[string]*store.MemoryDocumentStore),
	}
	h.reg = registry.New(func(ctx context.Context, addr string) (store.DocumentStore, error) {
		return h.shard(addr), nil
	})
	t.Cleanup(func() { h.reg.Close(context.Background()) })

	for _, addr := range shardAddrs {
		require.NoError(t, h.reg.Register(context.Background(), addr))
	}

	h.loc = locator.New(h.kv)
	h.cache = cache.New(h.kv, h.loc, h.reg, h.graph)
	h.cache.SetSynchronousWarm()
	h.svc = New(h.reg, h.loc, h.cache, NewCounters(h.kv), h.relational, h.graph, h.graph)
	return h
}

// TestCreateUserRoundTrip verifies the full create path: the user lands
// on a shard, the location index routes reads back to it, and the
// secondary stores got their copies.
func TestCreateUserRoundTrip(t *testing.T) {
	h := newHarness(t, "s1:27017")

	user, err := h.svc.CreateUser(context.Background(), NewUserInput{
		Username: "alovelace1", FirstName: "Ada", LastName: "Lovelace",
	})
	require.NoError(t, err)
	assert.Equal(t, "alovelace1", user.Username)

	addr, err := h.loc.Resolve(context.Background(), locator.UserKey("alovelace1"))
	require.NoError(t, err)
	assert.Equal(t, "s1:27017", addr)

	got, err := h.svc.GetUser(context.Background(), "alovelace1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.FirstName)
	assert.Empty(t, got.Transactions)
}

// TestCreateUserDuplicate verifies that a username collision is caught by
// the location-index probe before any write happens.
func TestCreateUserDuplicate(t *testing.T) {
	h := newHarness(t, "s1:27017")

	_, err := h.svc.CreateUser(context.Background(), NewUserInput{Username: "bob", FirstName: "Bob"})
	require.NoError(t, err)

	_, err = h.svc.CreateUser(context.Background(), NewUserInput{Username: "bob", FirstName: "Robert"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

// TestCreateUserValidation verifies the input constraints reject bad
// usernames before any placement happens.
func TestCreateUserValidation(t *testing.T) {
	h := newHarness(t, "s1:27017")

	tests := []struct {
		name  string
		input NewUserInput
	}{
		{"empty username", NewUserInput{Username: "", FirstName: "Ada"}},
		{"whitespace username", NewUserInput{Username: "   ", FirstName: "Ada"}},
		{"overlong username", NewUserInput{Username: strings.Repeat("x", 51)}},
		{"control characters", NewUserInput{Username: "ada\x00lovelace"}},
		{"overlong first name", NewUserInput{Username: "ada", FirstName: strings.Repeat("x", 51)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.CreateUser(context.Background(), tc.input)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

// TestCreateProductPlacement verifies sequential id assignment and
// least-loaded placement across two shards.
func TestCreateProductPlacement(t *testing.T) {
	h := newHarness(t, "s1:27017", "s2:27017")

	first, err := h.svc.CreateProduct(context.Background(), NewProductInput{Name: "widget", Price: 9.99})
	require.NoError(t, err)
	assert.Equal(t, 1, first.ProductID)

	second, err := h.svc.CreateProduct(context.Background(), NewProductInput{Name: "gadget", Price: 19.99})
	require.NoError(t, err)
	assert.Equal(t, 2, second.ProductID)

	// With equal starting loads the two creates land on different shards.
	addr1, err := h.loc.Resolve(context.Background(), locator.ProductKey(1))
	require.NoError(t, err)
	addr2, err := h.loc.Resolve(context.Background(), locator.ProductKey(2))
	require.NoError(t, err)
	assert.NotEqual(t, addr1, addr2)

	for _, addr := range []string{"s1:27017", "s2:27017"} {
		load, err := h.reg.Load(addr)
		require.NoError(t, err)
		assert.Equal(t, int64(1), load)
	}
}

// TestCreateProductNoShard verifies that a create with an empty registry
// fails before reserving an id.
func TestCreateProductNoShard(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.CreateProduct(context.Background(), NewProductInput{Name: "widget", Price: 1})
	assert.ErrorIs(t, err, registry.ErrNoShardAvailable)

	_, err = h.kv.Get(context.Background(), "curr_pid")
	assert.ErrorIs(t, err, store.ErrKeyNotFound, "no id may be reserved when placement fails")
}

// TestCreateProductRollsBackIDOnFailedWrite verifies the compensation:
// when the primary write fails, the reserved id is handed back.
func TestCreateProductRollsBackIDOnFailedWrite(t *testing.T) {
	h := newHarness(t, "s1:27017")

	// Occupy id 1 on the shard directly so the insert collides.
	require.NoError(t, h.shard("s1:27017").InsertProduct(context.Background(),
		&model.Product{ProductID: 1, Name: "squatter"}))

	_, err := h.svc.CreateProduct(context.Background(), NewProductInput{Name: "widget", Price: 1})
	assert.ErrorIs(t, err, ErrDuplicate)

	raw, err := h.kv.Get(context.Background(), "curr_pid")
	require.NoError(t, err)
	assert.Equal(t, "0", raw, "the failed create must return its reserved id")
}

// TestCreateTransactionFlow verifies the transaction path end to end:
// the relational row is written, the buying user's document carries the
// bookkeeping, and the graph gained the purchase edge.
func TestCreateTransactionFlow(t *testing.T) {
	h := newHarness(t, "s1:27017")

	_, err := h.svc.CreateUser(context.Background(), NewUserInput{Username: "alice", FirstName: "Alice"})
	require.NoError(t, err)
	product, err := h.svc.CreateProduct(context.Background(), NewProductInput{Name: "widget", Price: 9.99})
	require.NoError(t, err)

	record, err := h.svc.CreateTransaction(context.Background(), NewTransactionInput{
		Username:  "alice",
		ProductID: product.ProductID,
		CardNum:   4000_0000_0000_0002,
		Address:   "1 Main St",
		City:      "Springfield",
		State:     "PA",
		Zip:       19000,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, record.TransactionID)

	got, err := h.svc.GetTransaction(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, product.ProductID, got.ProductID)

	user, err := h.svc.GetUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, user.Transactions)
	require.Len(t, user.Addresses, 1)
	assert.Equal(t, "Springfield", user.Addresses[0].City)
	require.Len(t, user.Payments, 1)
	assert.Equal(t, int64(4000_0000_0000_0002), user.Payments[0].CardNum)
}

// TestCreateTransactionUnknownEntities verifies that a transaction
// requires both parties to exist before an id is reserved.
func TestCreateTransactionUnknownEntities(t *testing.T) {
	h := newHarness(t, "s1:27017")

	_, err := h.svc.CreateTransaction(context.Background(), NewTransactionInput{
		Username: "ghost", ProductID: 1,
	})
	assert.ErrorIs(t, err, ErrEntityNotFound)

	_, err = h.svc.CreateUser(context.Background(), NewUserInput{Username: "alice"})
	require.NoError(t, err)
	_, err = h.svc.CreateTransaction(context.Background(), NewTransactionInput{
		Username: "alice", ProductID: 404,
	})
	assert.ErrorIs(t, err, ErrEntityNotFound)

	_, err = h.kv.Get(context.Background(), "curr_tid")
	assert.ErrorIs(t, err, store.ErrKeyNotFound, "no id may be reserved for a rejected transaction")
}

// failingRelational fails every insert, standing in for an unreachable
// relational backend.
type failingRelational struct {
	*store.MemoryRelationalStore
}

func (f *failingRelational) InsertUserRecord(ctx context.Context, r model.UserRecord) error {
	return errors.New("relational backend down")
}

// TestSecondaryWriteFailureKeepsPrimary verifies the partial-success
// contract: when only the secondary write fails, the created entity is
// returned alongside ErrSecondaryWrite and stays readable.
func TestSecondaryWriteFailureKeepsPrimary(t *testing.T) {
	h := newHarness(t, "s1:27017")
	h.svc.relational = &failingRelational{MemoryRelationalStore: store.NewMemoryRelationalStore()}

	user, err := h.svc.CreateUser(context.Background(), NewUserInput{Username: "alice", FirstName: "Alice"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSecondaryWrite)
	require.NotNil(t, user, "the primary write stands, so the entity is returned")

	got, err := h.svc.GetUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.FirstName)
}

// flakyDocumentStore wraps a real store and fails a fixed number of
// reads with a timeout, simulating a dead pooled handle.
type flakyDocumentStore struct {
	*store.MemoryDocumentStore
	mu       sync.Mutex
	failures int
}

func (f *flakyDocumentStore) FindUser(ctx context.Context, username string) (*model.User, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, context.DeadlineExceeded
	}
	f.mu.Unlock()
	return f.MemoryDocumentStore.FindUser(ctx, username)
}

// TestConnectionLostRetriesOnce verifies the recovery contract: a dead
// handle triggers exactly one re-register and one retry, and the retry's
// success is the caller's success.
func TestConnectionLostRetriesOnce(t *testing.T) {
	backing := store.NewMemoryDocumentStore()
	flaky := &flakyDocumentStore{MemoryDocumentStore: backing}

	dials := 0
	reg := registry.New(func(ctx context.Context, addr string) (store.DocumentStore, error) {
		dials++
		return flaky, nil
	})
	defer reg.Close(context.Background())
	require.NoError(t, reg.Register(context.Background(), "s1:27017"))

	kv := store.NewMemoryKV()
	loc := locator.New(kv)
	graph := store.NewMemoryGraph()
	productCache := cache.New(kv, loc, reg, graph)
	svc := New(reg, loc, productCache, NewCounters(kv), store.NewMemoryRelationalStore(), graph, graph)

	user, err := svc.CreateUser(context.Background(), NewUserInput{Username: "alice", FirstName: "Alice"})
	require.NoError(t, err)
	require.NotNil(t, user)

	// Kill the handle for the next read only.
	flaky.mu.Lock()
	flaky.failures = 1
	flaky.mu.Unlock()

	got, err := svc.GetUser(context.Background(), "alice")
	require.NoError(t, err, "one lost connection must be recovered transparently")
	assert.Equal(t, "Alice", got.FirstName)
	assert.Equal(t, 2, dials, "recovery re-registers the shard exactly once")
}

// TestConnectionLostSecondFailureSurfaces verifies that when the retry
// also fails, the error reaches the caller instead of looping.
func TestConnectionLostSecondFailureSurfaces(t *testing.T) {
	backing := store.NewMemoryDocumentStore()
	flaky := &flakyDocumentStore{MemoryDocumentStore: backing}

	reg := registry.New(func(ctx context.Context, addr string) (store.DocumentStore, error) {
		return flaky, nil
	})
	defer reg.Close(context.Background())
	require.NoError(t, reg.Register(context.Background(), "s1:27017"))

	kv := store.NewMemoryKV()
	loc := locator.New(kv)
	graph := store.NewMemoryGraph()
	productCache := cache.New(kv, loc, reg, graph)
	svc := New(reg, loc, productCache, NewCounters(kv), store.NewMemoryRelationalStore(), graph, graph)

	_, err := svc.CreateUser(context.Background(), NewUserInput{Username: "alice"})
	require.NoError(t, err)

	flaky.mu.Lock()
	flaky.failures = 2
	flaky.mu.Unlock()

	_, err = svc.GetUser(context.Background(), "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, registry.ErrConnectionLost)
}

// TestRetryRecoversFromExpiredCallContext verifies the recovery leg runs
// on a fresh deadline. A caller context that expired during the first
// attempt must not also kill the re-register and retry, or the one-shot
// recovery could never succeed.
func TestRetryRecoversFromExpiredCallContext(t *testing.T) {
	h := newHarness(t, "s1:27017")

	expired, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	attempts := 0
	err := h.svc.withAddrRetry(expired, "s1:27017", func(ctx context.Context, conn store.DocumentStore) error {
		attempts++
		return ctx.Err()
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

// TestAddRatingAppendsToBothDocuments verifies the dual append: the
// rating lands on the product and on the rating user, each on its own
// shard.
func TestAddRatingAppendsToBothDocuments(t *testing.T) {
	h := newHarness(t, "s1:27017", "s2:27017")

	_, err := h.svc.CreateUser(context.Background(), NewUserInput{Username: "alice"})
	require.NoError(t, err)
	product, err := h.svc.CreateProduct(context.Background(), NewProductInput{Name: "widget", Price: 5})
	require.NoError(t, err)

	require.NoError(t, h.svc.AddRating(context.Background(), "alice", product.ProductID, 4))
	require.NoError(t, h.svc.AddRating(context.Background(), "alice", product.ProductID, 5))

	user, err := h.svc.GetUser(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, user.Ratings, 2)

	// Read the product from its owning shard; the cached copy may still
	// be mid-rewarm.
	addr, err := h.loc.Resolve(context.Background(), locator.ProductKey(product.ProductID))
	require.NoError(t, err)
	got, err := h.shard(addr).FindProduct(context.Background(), product.ProductID)
	require.NoError(t, err)
	require.Len(t, got.Ratings, 2)
	assert.Equal(t, 4.5, got.AverageRating())
}

// TestAddRatingValidation verifies range checks and the unknown-user
// mapping.
func TestAddRatingValidation(t *testing.T) {
	h := newHarness(t, "s1:27017")

	product, err := h.svc.CreateProduct(context.Background(), NewProductInput{Name: "widget", Price: 5})
	require.NoError(t, err)

	assert.ErrorIs(t, h.svc.AddRating(context.Background(), "alice", product.ProductID, 6), ErrValidation)
	assert.ErrorIs(t, h.svc.AddRating(context.Background(), "alice", product.ProductID, -1), ErrValidation)
	assert.ErrorIs(t, h.svc.AddRating(context.Background(), "ghost", product.ProductID, 3), ErrEntityNotFound)
}

// TestAddReview verifies the dual review append and the empty-review
// rejection.
func TestAddReview(t *testing.T) {
	h := newHarness(t, "s1:27017")

	_, err := h.svc.CreateUser(context.Background(), NewUserInput{Username: "alice"})
	require.NoError(t, err)
	product, err := h.svc.CreateProduct(context.Background(), NewProductInput{Name: "widget", Price: 5})
	require.NoError(t, err)

	assert.ErrorIs(t, h.svc.AddReview(context.Background(), "alice", product.ProductID, "   "), ErrValidation)

	require.NoError(t, h.svc.AddReview(context.Background(), "alice", product.ProductID, "does the job"))

	user, err := h.svc.GetUser(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, user.Reviews, 1)
	assert.Equal(t, "does the job", user.Reviews[0].Review)
}

// TestUpdateUser verifies partial updates against the owning shard and
// the unknown-user mapping.
func TestUpdateUser(t *testing.T) {
	h := newHarness(t, "s1:27017")

	_, err := h.svc.CreateUser(context.Background(), NewUserInput{Username: "alice", FirstName: "Alice"})
	require.NoError(t, err)

	require.NoError(t, h.svc.UpdateUser(context.Background(), "alice", map[string]any{"firstName": "Alicia"}))

	got, err := h.svc.GetUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alicia", got.FirstName)

	err = h.svc.UpdateUser(context.Background(), "ghost", map[string]any{"firstName": "Nobody"})
	assert.ErrorIs(t, err, ErrEntityNotFound)
}

// TestUpdateProduct verifies partial updates and validation of the
// updated fields.
func TestUpdateProduct(t *testing.T) {
	h := newHarness(t, "s1:27017")

	product, err := h.svc.CreateProduct(context.Background(), NewProductInput{Name: "widget", Price: 5})
	require.NoError(t, err)

	err = h.svc.UpdateProduct(context.Background(), product.ProductID, map[string]any{"price": -3.0})
	assert.ErrorIs(t, err, ErrValidation)

	require.NoError(t, h.svc.UpdateProduct(context.Background(), product.ProductID, map[string]any{"price": 7.5}))

	got, err := h.shard("s1:27017").FindProduct(context.Background(), product.ProductID)
	require.NoError(t, err)
	assert.Equal(t, 7.5, got.Price)

	err = h.svc.UpdateProduct(context.Background(), 404, map[string]any{"price": 1.0})
	assert.ErrorIs(t, err, ErrEntityNotFound)
}

// TestUpdateRejectsNonUpdatableFields verifies a partial update cannot
// reach past the whitelisted fields: the arrays that only grow through
// their own operations must not be overwritable through a field map.
func TestUpdateRejectsNonUpdatableFields(t *testing.T) {
	h := newHarness(t, "s1:27017")

	_, err := h.svc.CreateUser(context.Background(), NewUserInput{Username: "alice"})
	require.NoError(t, err)
	product, err := h.svc.CreateProduct(context.Background(), NewProductInput{Name: "widget", Price: 5})
	require.NoError(t, err)
	require.NoError(t, h.svc.AddRating(context.Background(), "alice", product.ProductID, 4))

	err = h.svc.UpdateProduct(context.Background(), product.ProductID, map[string]any{"ratings": []any{}})
	assert.ErrorIs(t, err, ErrValidation)
	err = h.svc.UpdateUser(context.Background(), "alice", map[string]any{"transactions": []any{}})
	assert.ErrorIs(t, err, ErrValidation)
	err = h.svc.UpdateProduct(context.Background(), product.ProductID, map[string]any{"price": "cheap"})
	assert.ErrorIs(t, err, ErrValidation)

	got, err := h.shard("s1:27017").FindProduct(context.Background(), product.ProductID)
	require.NoError(t, err)
	assert.Len(t, got.Ratings, 1)
}

// TestListProducts verifies the registry-wide fan-out and its limit.
func TestListProducts(t *testing.T) {
	h := newHarness(t, "s1:27017", "s2:27017")

	for _, name := range []string{"widget", "gadget", "gizmo"} {
		_, err := h.svc.CreateProduct(context.Background(), NewProductInput{Name: name, Price: 1})
		require.NoError(t, err)
	}

	all, err := h.svc.ListProducts(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	limited, err := h.svc.ListProducts(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

// TestDeregisterShardUnmapsEntities verifies deregistration cleanup:
// entities that lived on the removed shard lose their index entries,
// while entities on surviving shards keep theirs.
func TestDeregisterShardUnmapsEntities(t *testing.T) {
	h := newHarness(t, "s1:27017", "s2:27017")

	// Creates alternate shards, so the user and the product land apart.
	_, err := h.svc.CreateUser(context.Background(), NewUserInput{Username: "alice"})
	require.NoError(t, err)
	product, err := h.svc.CreateProduct(context.Background(), NewProductInput{Name: "widget", Price: 1})
	require.NoError(t, err)

	userAddr, err := h.loc.Resolve(context.Background(), locator.UserKey("alice"))
	require.NoError(t, err)

	require.NoError(t, h.svc.DeregisterShard(context.Background(), userAddr))

	_, err = h.loc.Resolve(context.Background(), locator.UserKey("alice"))
	assert.ErrorIs(t, err, locator.ErrNotFound, "entities on the removed shard are unmapped")

	_, err = h.loc.Resolve(context.Background(), locator.ProductKey(product.ProductID))
	assert.NoError(t, err, "entities on surviving shards keep their mapping")

	assert.ErrorIs(t, h.svc.DeregisterShard(context.Background(), userAddr), registry.ErrUnknownShard)
}

// TestGenerateAfterDeregisterSkipsUnmappedEntities verifies that the
// generators only draw from entities that still resolve: after a shard
// is deregistered, its unmapped users and products must not be picked,
// or every generated transaction referencing them would abort the run.
func TestGenerateAfterDeregisterSkipsUnmappedEntities(t *testing.T) {
	h := newHarness(t, "s1:27017", "s2:27017")
	rng := rand.New(rand.NewSource(3))

	// Creates alternate shards: alice/s1, bob/s2, product 1/s1,
	// product 2/s2.
	_, err := h.svc.CreateUser(context.Background(), NewUserInput{Username: "alice"})
	require.NoError(t, err)
	_, err = h.svc.CreateUser(context.Background(), NewUserInput{Username: "bob"})
	require.NoError(t, err)
	_, err = h.svc.CreateProduct(context.Background(), NewProductInput{Name: "widget", Price: 1})
	require.NoError(t, err)
	_, err = h.svc.CreateProduct(context.Background(), NewProductInput{Name: "gadget", Price: 2})
	require.NoError(t, err)

	aliceAddr, err := h.loc.Resolve(context.Background(), locator.UserKey("alice"))
	require.NoError(t, err)
	require.NoError(t, h.svc.DeregisterShard(context.Background(), aliceAddr))

	usernames, err := h.loc.Usernames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, usernames, "unmapped users must leave the listing")

	// Every generated transaction draws from the surviving entities.
	n, err := h.svc.GenerateTransactions(context.Background(), rng, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

// TestRecommendations verifies the co-purchase ranking surfaced by the
// service.
func TestRecommendations(t *testing.T) {
	h := newHarness(t, "s1:27017")

	// alice and bob both bought 1 and 2; only alice also bought 3.
	for _, purchase := range []struct {
		user string
		id   int
	}{
		{"alice", 1}, {"alice", 2}, {"alice", 3},
		{"bob", 1}, {"bob", 2},
	} {
		require.NoError(t, h.graph.AddPurchase(context.Background(), purchase.user, purchase.id))
	}

	recs, err := h.svc.Recommendations(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 2, recs[0].ProductID, "the more frequent co-purchase ranks first")
	assert.Equal(t, 3, recs[1].ProductID)
}
