package store

import (
	"context"
	"errors"

	"github.com/dreamware/polystore/internal/model"
)

// ErrNoDocument is returned when a lookup matches no document on a shard.
var ErrNoDocument = errors.New("no such document")

// ErrDuplicateKey is returned when an insert collides with an existing
// document or row on its natural key.
var ErrDuplicateKey = errors.New("duplicate key")

// DocumentStore is one live handle to a single document-store shard.
// Every entity lives on exactly one shard, so callers are expected to
// resolve the owning shard first and then operate through its handle.
//
// Updates use the store's atomic per-document operators (set on named
// fields, append to arrays) rather than read-modify-write, so two
// concurrent appends to the same product both land.
type DocumentStore interface {
	// InsertProduct stores a new product document.
	// Returns ErrDuplicateKey if the product_id already exists.
	InsertProduct(ctx context.Context, p *model.Product) error

	// FindProduct fetches a product by id.
	// Returns ErrNoDocument if absent.
	FindProduct(ctx context.Context, productID int) (*model.Product, error)

	// UpdateProduct applies a partial update (field name -> new value)
	// to the product document. Returns ErrNoDocument if absent.
	UpdateProduct(ctx context.Context, productID int, fields map[string]any) error

	// AppendProductRating appends one rating to the product's ratings array.
	AppendProductRating(ctx context.Context, productID int, r model.ProductRating) error

	// AppendProductReview appends one review to the product's reviews array.
	AppendProductReview(ctx context.Context, productID int, r model.ProductReview) error

	// ListProducts returns up to limit products from this shard.
	// A limit <= 0 means no limit. Order is not guaranteed.
	ListProducts(ctx context.Context, limit int) ([]*model.Product, error)

	// InsertUser stores a new user document.
	// Returns ErrDuplicateKey if the username already exists.
	InsertUser(ctx context.Context, u *model.User) error

	// FindUser fetches a user by username.
	// Returns ErrNoDocument if absent.
	FindUser(ctx context.Context, username string) (*model.User, error)

	// UpdateUser applies a partial update to the user document.
	// Returns ErrNoDocument if absent.
	UpdateUser(ctx context.Context, username string, fields map[string]any) error

	// AppendUserRating appends one rating to the user's ratings array.
	AppendUserRating(ctx context.Context, username string, r model.ProductRating) error

	// AppendUserReview appends one review to the user's reviews array.
	AppendUserReview(ctx context.Context, username string, r model.ProductReview) error

	// RecordUserTransaction adds the transaction id, shipping address and
	// payment method to the user's document, deduplicating each.
	RecordUserTransaction(ctx context.Context, username string, transactionID int, addr model.Address, pay model.Payment) error

	// Ping verifies the handle is still usable.
	Ping(ctx context.Context) error

	// Close releases the handle.
	Close(ctx context.Context) error
}
