package store

import (
	"context"
	"sync"

	"github.com/dreamware/polystore/internal/model"
)

// RelationalStore is the contract with the relational backend holding the
// USERS, PRODUCTS and TRANSACTIONS tables used for joins and reporting.
// The core writes through to it on every create; transactions are the one
// entity for which it is also the primary read path.
type RelationalStore interface {
	// InsertUserRecord inserts one USERS row.
	// Returns ErrDuplicateKey on a username collision.
	InsertUserRecord(ctx context.Context, r model.UserRecord) error

	// InsertProductRecord inserts one PRODUCTS row.
	// Returns ErrDuplicateKey on a product id collision.
	InsertProductRecord(ctx context.Context, r model.ProductRecord) error

	// InsertTransactionRecord inserts one TRANSACTIONS row.
	// Returns ErrDuplicateKey on a transaction id collision.
	InsertTransactionRecord(ctx context.Context, r model.TransactionRecord) error

	// FindTransaction fetches a transaction row by id.
	// Returns ErrNoDocument if absent.
	FindTransaction(ctx context.Context, transactionID int) (*model.TransactionRecord, error)

	// Close releases the underlying connection, if any.
	Close() error
}

// MemoryRelationalStore implements RelationalStore with in-process maps.
type MemoryRelationalStore struct {
	mu           sync.RWMutex
	users        map[string]model.UserRecord
	products     map[int]model.ProductRecord
	transactions map[int]model.TransactionRecord
}

// NewMemoryRelationalStore creates an empty in-memory relational store.
func NewMemoryRelationalStore() *MemoryRelationalStore {
	return &MemoryRelationalStore{
		users:        make(map[string]model.UserRecord),
		products:     make(map[int]model.ProductRecord),
		transactions: make(map[int]model.TransactionRecord),
	}
}

// InsertUserRecord inserts one user row.
func (m *MemoryRelationalStore) InsertUserRecord(ctx context.Context, r model.UserRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.users[r.Username]; exists {
		return ErrDuplicateKey
	}
	m.users[r.Username] = r
	return nil
}

// InsertProductRecord inserts one product row.
func (m *MemoryRelationalStore) InsertProductRecord(ctx context.Context, r model.ProductRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.products[r.ProductID]; exists {
		return ErrDuplicateKey
	}
	m.products[r.ProductID] = r
	return nil
}

// InsertTransactionRecord inserts one transaction row.
func (m *MemoryRelationalStore) InsertTransactionRecord(ctx context.Context, r model.TransactionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.transactions[r.TransactionID]; exists {
		return ErrDuplicateKey
	}
	m.transactions[r.TransactionID] = r
	return nil
}

// FindTransaction fetches a transaction row by id.
func (m *MemoryRelationalStore) FindTransaction(ctx context.Context, transactionID int) (*model.TransactionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, exists := m.transactions[transactionID]
	if !exists {
		return nil, ErrNoDocument
	}
	return &r, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryRelationalStore) Close() error {
	return nil
}
