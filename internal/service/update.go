package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/dreamware/polystore/internal/locator"
	"github.com/dreamware/polystore/internal/model"
	"github.com/dreamware/polystore/internal/store"
)

// UpdateUser applies a partial update (field name -> new value) to an
// existing user on its owning shard. Only the name fields are mutable
// this way; arrays grow through their dedicated operations.
func (s *Service) UpdateUser(ctx context.Context, username string, fields map[string]any) error {
	username, err := validateUsername(username)
	if err != nil {
		return err
	}
	// Only the name fields pass through to the store. Anything else in
	// the caller's map would go straight into a $set on a live document
	// store and could clobber the bookkeeping arrays.
	updates := make(map[string]any, len(fields))
	for field, value := range fields {
		switch field {
		case "firstName", "lastName", "middleName":
			v, ok := value.(string)
			if !ok {
				return validationError("%s must be a string", field)
			}
			cleaned, err := validatePersonName(field, v)
			if err != nil {
				return err
			}
			updates[field] = cleaned
		default:
			return validationError("field %s is not updatable", field)
		}
	}
	if len(updates) == 0 {
		return validationError("no updatable fields given")
	}

	callCtx, cancel := bounded(ctx)
	defer cancel()
	err = s.withConnRetry(callCtx, locator.UserKey(username), func(ctx context.Context, conn store.DocumentStore) error {
		return conn.UpdateUser(ctx, username, updates)
	})
	if errors.Is(err, locator.ErrNotFound) || errors.Is(err, store.ErrNoDocument) {
		return fmt.Errorf("%w: user %s", ErrEntityNotFound, username)
	}
	if err != nil {
		return fmt.Errorf("update user %s: %w", username, err)
	}
	return nil
}

// UpdateProduct applies a partial update to an existing product on its
// owning shard, then re-warms the cache so a cached copy does not serve
// the old fields for its whole TTL.
func (s *Service) UpdateProduct(ctx context.Context, productID int, fields map[string]any) error {
	// Same whitelist rule as UpdateUser: ratings and reviews only ever
	// grow through their append operations, never through a $set.
	updates := make(map[string]any, len(fields))
	for field, value := range fields {
		switch field {
		case "name":
			v, ok := value.(string)
			if !ok {
				return validationError("name must be a string")
			}
			cleaned, err := validateProductName(v)
			if err != nil {
				return err
			}
			updates[field] = cleaned
		case "price":
			v, ok := value.(float64)
			if !ok {
				return validationError("price must be a number")
			}
			if err := validatePrice(v); err != nil {
				return err
			}
			updates[field] = v
		default:
			return validationError("field %s is not updatable", field)
		}
	}
	if len(updates) == 0 {
		return validationError("no updatable fields given")
	}

	callCtx, cancel := bounded(ctx)
	err := s.withConnRetry(callCtx, locator.ProductKey(productID), func(ctx context.Context, conn store.DocumentStore) error {
		return conn.UpdateProduct(ctx, productID, updates)
	})
	cancel()
	if errors.Is(err, locator.ErrNotFound) || errors.Is(err, store.ErrNoDocument) {
		return fmt.Errorf("%w: product %d", ErrEntityNotFound, productID)
	}
	if err != nil {
		return fmt.Errorf("update product %d: %w", productID, err)
	}

	s.rewarm(ctx, productID)
	return nil
}

// AddRating appends a rating to both the product and the rating user,
// each on its own shard, then re-warms the product's cache entry so the
// cached aggregate does not stay stale for its full TTL.
func (s *Service) AddRating(ctx context.Context, username string, productID int, rating float64) error {
	username, err := validateUsername(username)
	if err != nil {
		return err
	}
	if err := validateRating(rating); err != nil {
		return err
	}

	userCtx, cancel := bounded(ctx)
	err = s.withConnRetry(userCtx, locator.UserKey(username), func(ctx context.Context, conn store.DocumentStore) error {
		return conn.AppendUserRating(ctx, username, model.ProductRating{Username: username, Rating: rating})
	})
	cancel()
	if err != nil {
		return s.appendError("rating", "user", username, err)
	}

	prodCtx, cancel := bounded(ctx)
	err = s.withConnRetry(prodCtx, locator.ProductKey(productID), func(ctx context.Context, conn store.DocumentStore) error {
		return conn.AppendProductRating(ctx, productID, model.ProductRating{Username: username, Rating: rating})
	})
	cancel()
	if err != nil {
		return s.appendError("rating", "product", fmt.Sprint(productID), err)
	}

	s.rewarm(ctx, productID)
	return nil
}

// AddReview appends a review to both the product and the reviewing user,
// then re-warms the product's cache entry.
func (s *Service) AddReview(ctx context.Context, username string, productID int, review string) error {
	username, err := validateUsername(username)
	if err != nil {
		return err
	}
	review, err = cleanString("review", review)
	if err != nil {
		return err
	}
	if review == "" {
		return validationError("review text is required")
	}

	userCtx, cancel := bounded(ctx)
	err = s.withConnRetry(userCtx, locator.UserKey(username), func(ctx context.Context, conn store.DocumentStore) error {
		return conn.AppendUserReview(ctx, username, model.ProductReview{Username: username, Review: review})
	})
	cancel()
	if err != nil {
		return s.appendError("review", "user", username, err)
	}

	prodCtx, cancel := bounded(ctx)
	err = s.withConnRetry(prodCtx, locator.ProductKey(productID), func(ctx context.Context, conn store.DocumentStore) error {
		return conn.AppendProductReview(ctx, productID, model.ProductReview{Username: username, Review: review})
	})
	cancel()
	if err != nil {
		return s.appendError("review", "product", fmt.Sprint(productID), err)
	}

	s.rewarm(ctx, productID)
	return nil
}

func (s *Service) appendError(what, entity, id string, err error) error {
	if errors.Is(err, locator.ErrNotFound) || errors.Is(err, store.ErrNoDocument) {
		return fmt.Errorf("%w: %s %s", ErrEntityNotFound, entity, id)
	}
	return fmt.Errorf("add %s to %s %s: %w", what, entity, id, err)
}

// rewarm refreshes the cached copy of a product after a write touched
// it. Fire-and-forget: the write already succeeded, and the TTL bounds
// staleness even if the warm fails.
func (s *Service) rewarm(ctx context.Context, productID int) {
	warmCtx, cancel := bounded(context.WithoutCancel(ctx))
	go func() {
		defer cancel()
		if err := s.cache.Warm(warmCtx, productID); err != nil {
			log.Printf("service: re-warm of product %d failed: %v", productID, err)
		}
	}()
}
