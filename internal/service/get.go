package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/dreamware/polystore/internal/locator"
	"github.com/dreamware/polystore/internal/model"
	"github.com/dreamware/polystore/internal/store"
)

// GetUser fetches a user from its owning shard.
func (s *Service) GetUser(ctx context.Context, username string) (*model.User, error) {
	var user *model.User

	callCtx, cancel := bounded(ctx)
	defer cancel()
	err := s.withConnRetry(callCtx, locator.UserKey(username), func(ctx context.Context, conn store.DocumentStore) error {
		found, err := conn.FindUser(ctx, username)
		if err != nil {
			return err
		}
		user = found
		return nil
	})
	if errors.Is(err, locator.ErrNotFound) || errors.Is(err, store.ErrNoDocument) {
		return nil, fmt.Errorf("%w: user %s", ErrEntityNotFound, username)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", username, err)
	}
	return user, nil
}

// GetProduct fetches a product, serving from the cache when possible.
// A miss falls through to the owning shard and warms the cache for this
// product and its recommended neighbors in the background.
func (s *Service) GetProduct(ctx context.Context, productID int) (*model.Product, error) {
	callCtx, cancel := bounded(ctx)
	defer cancel()

	p, err := s.cache.GetProduct(callCtx, productID)
	if errors.Is(err, locator.ErrNotFound) || errors.Is(err, store.ErrNoDocument) {
		return nil, fmt.Errorf("%w: product %d", ErrEntityNotFound, productID)
	}
	if err != nil {
		return nil, fmt.Errorf("get product %d: %w", productID, err)
	}
	return p, nil
}

// GetTransaction fetches a transaction row from the relational store,
// which is authoritative for transactions.
func (s *Service) GetTransaction(ctx context.Context, transactionID int) (*model.TransactionRecord, error) {
	callCtx, cancel := bounded(ctx)
	defer cancel()

	r, err := s.relational.FindTransaction(callCtx, transactionID)
	if errors.Is(err, store.ErrNoDocument) {
		return nil, fmt.Errorf("%w: transaction %d", ErrEntityNotFound, transactionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %d: %w", transactionID, err)
	}
	return r, nil
}

// ListProducts returns up to limit products gathered from every
// registered shard. This is the one sanctioned registry-wide fan-out;
// point lookups must go through the location index instead. A shard that
// fails mid-fan-out fails the whole listing rather than silently
// returning a partial catalog.
func (s *Service) ListProducts(ctx context.Context, limit int) ([]*model.Product, error) {
	var out []*model.Product
	for _, addr := range s.registry.List() {
		if limit > 0 && len(out) >= limit {
			break
		}
		remaining := 0
		if limit > 0 {
			remaining = limit - len(out)
		}

		callCtx, cancel := bounded(ctx)
		var products []*model.Product
		err := s.withAddrRetry(callCtx, addr, func(ctx context.Context, conn store.DocumentStore) error {
			found, err := conn.ListProducts(ctx, remaining)
			if err != nil {
				return err
			}
			products = found
			return nil
		})
		cancel()
		if err != nil {
			return nil, fmt.Errorf("list products: shard %s: %w", addr, err)
		}
		out = append(out, products...)
	}
	return out, nil
}

// Recommendations returns up to five products ranked by co-purchase
// frequency with the given product.
func (s *Service) Recommendations(ctx context.Context, productID int) ([]model.ProductSummary, error) {
	callCtx, cancel := bounded(ctx)
	defer cancel()

	out, err := s.recommend.Recommend(callCtx, productID)
	if err != nil {
		return nil, fmt.Errorf("recommendations for product %d: %w", productID, err)
	}
	return out, nil
}
