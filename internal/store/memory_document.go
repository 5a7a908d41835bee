package store

import (
	"context"
	"slices"
	"sync"

	"github.com/dreamware/polystore/internal/model"
)

// MemoryDocumentStore implements DocumentStore with in-process maps.
// One instance stands in for one shard in tests and memory-backend runs.
type MemoryDocumentStore struct {
	mu       sync.RWMutex
	products map[int]*model.Product
	users    map[string]*model.User

	// failPing, when set, makes Ping fail so tests can drive the
	// unreachable-shard paths.
	failPing bool
}

// NewMemoryDocumentStore creates an empty in-memory shard.
func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{
		products: make(map[int]*model.Product),
		users:    make(map[string]*model.User),
	}
}

// SetFailPing toggles simulated unreachability.
func (m *MemoryDocumentStore) SetFailPing(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPing = fail
}

func copyProduct(p *model.Product) *model.Product {
	cp := *p
	cp.Ratings = slices.Clone(p.Ratings)
	cp.Reviews = slices.Clone(p.Reviews)
	return &cp
}

func copyUser(u *model.User) *model.User {
	cp := *u
	cp.Addresses = slices.Clone(u.Addresses)
	cp.Payments = slices.Clone(u.Payments)
	cp.Transactions = slices.Clone(u.Transactions)
	cp.Ratings = slices.Clone(u.Ratings)
	cp.Reviews = slices.Clone(u.Reviews)
	return &cp
}

// InsertProduct stores a new product document.
func (m *MemoryDocumentStore) InsertProduct(ctx context.Context, p *model.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.products[p.ProductID]; exists {
		return ErrDuplicateKey
	}
	m.products[p.ProductID] = copyProduct(p)
	return nil
}

// FindProduct fetches a product by id.
// Returns a copy to prevent external modification.
func (m *MemoryDocumentStore) FindProduct(ctx context.Context, productID int) (*model.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, exists := m.products[productID]
	if !exists {
		return nil, ErrNoDocument
	}
	return copyProduct(p), nil
}

// UpdateProduct applies a partial update to the product document.
func (m *MemoryDocumentStore) UpdateProduct(ctx context.Context, productID int, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, exists := m.products[productID]
	if !exists {
		return ErrNoDocument
	}
	for field, value := range fields {
		switch field {
		case "name":
			if s, ok := value.(string); ok {
				p.Name = s
			}
		case "price":
			if f, ok := value.(float64); ok {
				p.Price = f
			}
		}
	}
	return nil
}

// AppendProductRating appends one rating to the product's ratings array.
func (m *MemoryDocumentStore) AppendProductRating(ctx context.Context, productID int, r model.ProductRating) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, exists := m.products[productID]
	if !exists {
		return ErrNoDocument
	}
	p.Ratings = append(p.Ratings, r)
	return nil
}

// AppendProductReview appends one review to the product's reviews array.
func (m *MemoryDocumentStore) AppendProductReview(ctx context.Context, productID int, r model.ProductReview) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, exists := m.products[productID]
	if !exists {
		return ErrNoDocument
	}
	p.Reviews = append(p.Reviews, r)
	return nil
}

// ListProducts returns up to limit products from this shard.
func (m *MemoryDocumentStore) ListProducts(ctx context.Context, limit int) ([]*model.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*model.Product, 0, len(m.products))
	for _, p := range m.products {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, copyProduct(p))
	}
	return out, nil
}

// InsertUser stores a new user document.
func (m *MemoryDocumentStore) InsertUser(ctx context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.users[u.Username]; exists {
		return ErrDuplicateKey
	}
	m.users[u.Username] = copyUser(u)
	return nil
}

// FindUser fetches a user by username.
// Returns a copy to prevent external modification.
func (m *MemoryDocumentStore) FindUser(ctx context.Context, username string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, exists := m.users[username]
	if !exists {
		return nil, ErrNoDocument
	}
	return copyUser(u), nil
}

// UpdateUser applies a partial update to the user document.
func (m *MemoryDocumentStore) UpdateUser(ctx context.Context, username string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, exists := m.users[username]
	if !exists {
		return ErrNoDocument
	}
	for field, value := range fields {
		s, ok := value.(string)
		if !ok {
			continue
		}
		switch field {
		case "firstName":
			u.FirstName = s
		case "lastName":
			u.LastName = s
		case "middleName":
			u.MiddleName = s
		}
	}
	return nil
}

// AppendUserRating appends one rating to the user's ratings array.
func (m *MemoryDocumentStore) AppendUserRating(ctx context.Context, username string, r model.ProductRating) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, exists := m.users[username]
	if !exists {
		return ErrNoDocument
	}
	u.Ratings = append(u.Ratings, r)
	return nil
}

// AppendUserReview appends one review to the user's reviews array.
func (m *MemoryDocumentStore) AppendUserReview(ctx context.Context, username string, r model.ProductReview) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, exists := m.users[username]
	if !exists {
		return ErrNoDocument
	}
	u.Reviews = append(u.Reviews, r)
	return nil
}

// RecordUserTransaction adds transaction bookkeeping to the user,
// deduplicating the id, address and payment method like an add-to-set.
func (m *MemoryDocumentStore) RecordUserTransaction(ctx context.Context, username string, transactionID int, addr model.Address, pay model.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, exists := m.users[username]
	if !exists {
		return ErrNoDocument
	}
	if !slices.Contains(u.Transactions, transactionID) {
		u.Transactions = append(u.Transactions, transactionID)
	}
	if !slices.Contains(u.Addresses, addr) {
		u.Addresses = append(u.Addresses, addr)
	}
	if !slices.Contains(u.Payments, pay) {
		u.Payments = append(u.Payments, pay)
	}
	return nil
}

// Ping verifies the handle is still usable.
func (m *MemoryDocumentStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failPing {
		return context.DeadlineExceeded
	}
	return nil
}

// Close is a no-op: the instance stands in for an external server whose
// data outlives any one handle, so a re-registered shard keeps its
// documents.
func (m *MemoryDocumentStore) Close(ctx context.Context) error {
	return nil
}
