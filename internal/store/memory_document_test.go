package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/polystore/internal/model"
)

// TestInsertProductDuplicate verifies the key collision error.
func TestInsertProductDuplicate(t *testing.T) {
	s := NewMemoryDocumentStore()

	require.NoError(t, s.InsertProduct(context.Background(), &model.Product{ProductID: 1, Name: "widget"}))
	err := s.InsertProduct(context.Background(), &model.Product{ProductID: 1, Name: "other"})
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

// TestFindProductReturnsCopy verifies that a caller mutating the result
// cannot corrupt the stored document.
func TestFindProductReturnsCopy(t *testing.T) {
	s := NewMemoryDocumentStore()
	require.NoError(t, s.InsertProduct(context.Background(), &model.Product{
		ProductID: 1, Name: "widget",
		Ratings: []model.ProductRating{{Username: "alice", Rating: 4}},
	}))

	got, err := s.FindProduct(context.Background(), 1)
	require.NoError(t, err)
	got.Name = "tampered"
	got.Ratings[0].Rating = 0

	again, err := s.FindProduct(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "widget", again.Name)
	assert.Equal(t, 4.0, again.Ratings[0].Rating)
}

// TestRecordUserTransactionDeduplicates verifies the add-to-set
// semantics: repeating a transaction's address and card adds each only
// once, while distinct transaction ids accumulate.
func TestRecordUserTransactionDeduplicates(t *testing.T) {
	s := NewMemoryDocumentStore()
	require.NoError(t, s.InsertUser(context.Background(), &model.User{Username: "alice"}))

	addr := model.Address{Address: "1 Main St", City: "Springfield", State: "PA", Zip: 19000}
	pay := model.Payment{CardNum: 4000_0000_0000_0002}

	require.NoError(t, s.RecordUserTransaction(context.Background(), "alice", 1, addr, pay))
	require.NoError(t, s.RecordUserTransaction(context.Background(), "alice", 2, addr, pay))
	require.NoError(t, s.RecordUserTransaction(context.Background(), "alice", 2, addr, pay))

	u, err := s.FindUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, u.Transactions)
	assert.Len(t, u.Addresses, 1)
	assert.Len(t, u.Payments, 1)
}

// TestRecordUserTransactionUnknownUser verifies the missing-document
// error.
func TestRecordUserTransactionUnknownUser(t *testing.T) {
	s := NewMemoryDocumentStore()
	err := s.RecordUserTransaction(context.Background(), "ghost", 1, model.Address{}, model.Payment{})
	assert.ErrorIs(t, err, ErrNoDocument)
}

// TestCloseKeepsData verifies that dropping a handle does not wipe the
// shard: the instance stands in for an external server, so a re-opened
// handle sees the same documents.
func TestCloseKeepsData(t *testing.T) {
	s := NewMemoryDocumentStore()
	require.NoError(t, s.InsertUser(context.Background(), &model.User{Username: "alice"}))

	require.NoError(t, s.Close(context.Background()))

	_, err := s.FindUser(context.Background(), "alice")
	assert.NoError(t, err)
}
