package service

import (
	"context"
	"fmt"
	"log"

	"github.com/dreamware/polystore/internal/locator"
)

// DeregisterShard removes a shard from the registry and unmaps every
// entity the location index routed to it. The documents leave with the
// shard; a mapping left behind would route reads at nothing.
func (s *Service) DeregisterShard(ctx context.Context, addr string) error {
	if err := s.registry.Deregister(ctx, addr); err != nil {
		return err
	}

	callCtx, cancel := bounded(ctx)
	defer cancel()

	usernames, err := s.locator.Usernames(callCtx)
	if err != nil {
		return fmt.Errorf("deregister %s: index sweep: %w", addr, err)
	}
	for _, username := range usernames {
		s.forgetIfOn(callCtx, locator.UserKey(username), addr)
	}

	productIDs, err := s.locator.ProductIDs(callCtx)
	if err != nil {
		return fmt.Errorf("deregister %s: index sweep: %w", addr, err)
	}
	for _, id := range productIDs {
		s.forgetIfOn(callCtx, locator.ProductKey(id), addr)
	}
	return nil
}

// forgetIfOn drops the mapping for key when it points at addr. Cleanup
// is best-effort: the shard itself is already gone, and a leftover
// mapping only costs the reader a not-registered error.
func (s *Service) forgetIfOn(ctx context.Context, key, addr string) {
	mapped, err := s.locator.Resolve(ctx, key)
	if err != nil || mapped != addr {
		return
	}
	if err := s.locator.Forget(ctx, key); err != nil {
		log.Printf("service: unmapping %s from deregistered shard %s failed: %v", key, addr, err)
	}
}
