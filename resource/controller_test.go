package resource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController(t *testing.T) {
	t.Run("MemoryLimit", func(t *testing.T) {
		c := NewController(Config{DeviceMemoryBytes: 100})

		assert.True(t, c.TryAcquireMemory(60))
		assert.Equal(t, int64(60), c.MemoryUsage())

		// Exceeds the remaining budget, must not block.
		assert.False(t, c.TryAcquireMemory(50))

		c.ReleaseMemory(60)
		assert.Equal(t, int64(0), c.MemoryUsage())
		assert.True(t, c.TryAcquireMemory(100))
	})

	t.Run("UnlimitedMemoryTracksUsage", func(t *testing.T) {
		c := NewController(Config{})

		assert.True(t, c.TryAcquireMemory(1<<40))
		assert.Equal(t, int64(1<<40), c.MemoryUsage())
		c.ReleaseMemory(1 << 40)
	})

	t.Run("BatchSlots", func(t *testing.T) {
		c := NewController(Config{MaxInFlightBatches: 2})

		require.NoError(t, c.AcquireBatch(context.Background()))
		require.NoError(t, c.AcquireBatch(context.Background()))

		// The third acquisition blocks until a slot frees up.
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, c.AcquireBatch(ctx), context.DeadlineExceeded)

		c.ReleaseBatch()
		require.NoError(t, c.AcquireBatch(context.Background()))

		c.ReleaseBatch()
		c.ReleaseBatch()
	})

	t.Run("TransferChunksBeyondBurst", func(t *testing.T) {
		c := NewController(Config{TransferLimitBytesPerSec: 1 << 30})

		// Larger than the burst; must be split, not rejected.
		require.NoError(t, c.AcquireTransfer(context.Background(), (1<<30)+64))
	})

	t.Run("NilController", func(t *testing.T) {
		var c *Controller

		assert.True(t, c.TryAcquireMemory(1))
		c.ReleaseMemory(1)
		assert.Equal(t, int64(0), c.MemoryUsage())
		require.NoError(t, c.AcquireBatch(context.Background()))
		c.ReleaseBatch()
		require.NoError(t, c.AcquireTransfer(context.Background(), 1))
	})
}
