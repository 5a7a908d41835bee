package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/polystore/internal/store"
)

// TestCountersAreSequential verifies that ids come out dense and
// monotonically increasing, per counter.
func TestCountersAreSequential(t *testing.T) {
	c := NewCounters(store.NewMemoryKV())

	for want := 1; want <= 3; want++ {
		id, err := c.NextProductID(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}

	// The transaction counter is independent.
	id, err := c.NextTransactionID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, id)
}

// TestRollbackRestoresCounter verifies the compensation path: after a
// reservation is rolled back the counter is at its pre-reservation value
// and the next reservation hands out the same id again.
func TestRollbackRestoresCounter(t *testing.T) {
	kv := store.NewMemoryKV()
	c := NewCounters(kv)

	id, err := c.NextProductID(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, id)

	c.RollbackProductID(context.Background())

	raw, err := kv.Get(context.Background(), "curr_pid")
	require.NoError(t, err)
	assert.Equal(t, "0", raw, "rollback must restore the pre-reservation value")

	id, err = c.NextProductID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, id, "the rolled-back id is handed out again")
}
