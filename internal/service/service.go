// Package service implements the entity services: creating, reading and
// updating users, products and transactions across the document,
// relational and graph stores. Every write follows the same shape:
// validate, place or resolve the owning shard, reserve an identifier if
// one is needed, write the primary store, record the placement, then
// write through to the secondary stores. The three stores are not atomic
// with each other; a secondary failure is surfaced as ErrSecondaryWrite
// while the primary entity stays valid and queryable.
package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/dreamware/polystore/internal/cache"
	"github.com/dreamware/polystore/internal/locator"
	"github.com/dreamware/polystore/internal/registry"
	"github.com/dreamware/polystore/internal/store"
)

// ErrValidation is returned when caller input violates a documented
// constraint. Detected before any side effect.
var ErrValidation = errors.New("validation failed")

// ErrEntityNotFound is returned when the location index has no entry for
// the requested entity.
var ErrEntityNotFound = errors.New("entity not found")

// ErrDuplicate is returned when a create collides with an existing entity
// on its natural key.
var ErrDuplicate = errors.New("entity already exists")

// ErrSecondaryWrite is returned when the relational or graph write-through
// failed after the primary write succeeded. The primary entity is kept;
// there is no coordinator to roll back across three stores.
var ErrSecondaryWrite = errors.New("secondary store write failed")

// callTimeout bounds each external store call issued by the service so a
// slow shard cannot stall a request indefinitely.
const callTimeout = 5 * time.Second

// Service wires the shard registry, location index, cache and secondary
// stores into the entity operations. Construct one per process and pass
// it by reference; it holds no per-request state.
type Service struct {
	registry   *registry.Registry
	locator    *locator.Locator
	cache      *cache.ProductCache
	counters   *Counters
	relational store.RelationalStore
	graph      store.GraphStore
	recommend  store.Recommender
}

// New assembles a service from its collaborators.
func New(
	reg *registry.Registry,
	loc *locator.Locator,
	productCache *cache.ProductCache,
	counters *Counters,
	relational store.RelationalStore,
	graph store.GraphStore,
	recommend store.Recommender,
) *Service {
	return &Service{
		registry:   reg,
		locator:    loc,
		cache:      productCache,
		counters:   counters,
		relational: relational,
		graph:      graph,
		recommend:  recommend,
	}
}

// Registry exposes the shard registry for admin operations.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// bounded derives a per-call timeout context from the request context.
func bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, callTimeout)
}

// withConnRetry runs op against the shard holding key, with the same
// one-shot recovery as withAddrRetry.
func (s *Service) withConnRetry(ctx context.Context, key string, op func(ctx context.Context, conn store.DocumentStore) error) error {
	addr, err := s.locator.Resolve(ctx, key)
	if err != nil {
		return err
	}
	return s.withAddrRetry(ctx, addr, op)
}

// withAddrRetry runs op against the shard at addr. If the handle turns
// out to be dead the shard is re-registered once and the operation
// retried; a second failure is surfaced. The recovery leg runs on its
// own bounded context: a timeout that killed the first attempt must not
// doom the retry before it starts.
func (s *Service) withAddrRetry(ctx context.Context, addr string, op func(ctx context.Context, conn store.DocumentStore) error) error {
	conn, err := s.registry.Pool().Get(addr)
	if err != nil {
		return err
	}

	err = op(ctx, conn)
	if !isConnectionLost(err) {
		return err
	}

	log.Printf("service: connection to shard %s lost, re-registering and retrying once", addr)
	retryCtx, cancel := bounded(context.WithoutCancel(ctx))
	defer cancel()
	if rerr := s.registry.Reregister(retryCtx, addr); rerr != nil {
		return errors.Join(registry.ErrConnectionLost, rerr)
	}
	conn, err = s.registry.Pool().Get(addr)
	if err != nil {
		return err
	}
	if err := op(retryCtx, conn); err != nil {
		if isConnectionLost(err) {
			return errors.Join(registry.ErrConnectionLost, err)
		}
		return err
	}
	return nil
}

// isConnectionLost classifies driver failures that mean the handle is
// dead rather than the data being absent or invalid. Timeouts count:
// the pool layer treats an unresponsive shard as a lost connection.
func isConnectionLost(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, store.ErrNoDocument) || errors.Is(err, store.ErrDuplicateKey) {
		return false
	}
	return errors.Is(err, registry.ErrConnectionLost) ||
		errors.Is(err, context.DeadlineExceeded)
}
