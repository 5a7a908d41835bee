package store

import (
	"context"
	"sort"
	"sync"

	"github.com/dreamware/polystore/internal/model"
)

// maxRecommendations caps how many ranked neighbors a recommender returns.
const maxRecommendations = 5

// GraphStore is the contract with the graph backend holding User and
// Product nodes and BOUGHT edges. The core only ever writes to it; reads
// happen through the Recommender.
type GraphStore interface {
	// AddUser creates a User node.
	AddUser(ctx context.Context, username string) error

	// AddProduct creates a Product node.
	AddProduct(ctx context.Context, p model.ProductRecord) error

	// AddPurchase creates a BOUGHT edge from user to product.
	AddPurchase(ctx context.Context, username string, productID int) error

	// Close releases the underlying connection, if any.
	Close(ctx context.Context) error
}

// Recommender returns up to five products ranked by how often they were
// bought by users who also bought the given product. The core treats the
// ranking as opaque.
type Recommender interface {
	Recommend(ctx context.Context, productID int) ([]model.ProductSummary, error)
}

// MemoryGraph implements GraphStore and Recommender with in-process maps.
type MemoryGraph struct {
	mu       sync.RWMutex
	users    map[string]bool
	products map[int]model.ProductRecord
	bought   map[string]map[int]bool // username -> set of product ids
}

// NewMemoryGraph creates an empty in-memory graph.
func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{
		users:    make(map[string]bool),
		products: make(map[int]model.ProductRecord),
		bought:   make(map[string]map[int]bool),
	}
}

// AddUser creates a User node.
func (g *MemoryGraph) AddUser(ctx context.Context, username string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.users[username] = true
	return nil
}

// AddProduct creates a Product node.
func (g *MemoryGraph) AddProduct(ctx context.Context, p model.ProductRecord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.products[p.ProductID] = p
	return nil
}

// AddPurchase creates a BOUGHT edge from user to product.
func (g *MemoryGraph) AddPurchase(ctx context.Context, username string, productID int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	set, exists := g.bought[username]
	if !exists {
		set = make(map[int]bool)
		g.bought[username] = set
	}
	set[productID] = true
	return nil
}

// Recommend ranks products co-purchased with productID by frequency,
// highest first, and returns at most five.
func (g *MemoryGraph) Recommend(ctx context.Context, productID int) ([]model.ProductSummary, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	counts := make(map[int]int)
	for _, set := range g.bought {
		if !set[productID] {
			continue
		}
		for other := range set {
			if other != productID {
				counts[other]++
			}
		}
	}

	ids := make([]int, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	// Stable ranking: frequency descending, then id ascending.
	sort.Slice(ids, func(i, j int) bool {
		if counts[ids[i]] != counts[ids[j]] {
			return counts[ids[i]] > counts[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if len(ids) > maxRecommendations {
		ids = ids[:maxRecommendations]
	}

	out := make([]model.ProductSummary, 0, len(ids))
	for _, id := range ids {
		p := g.products[id]
		out = append(out, model.ProductSummary{
			ProductID: id,
			Name:      p.Name,
			Price:     p.Price,
		})
	}
	return out, nil
}

// Close is a no-op for the in-memory graph.
func (g *MemoryGraph) Close(ctx context.Context) error {
	return nil
}
