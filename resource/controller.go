// Package resource tracks device memory and host↔device transfer budgets
// shared by all components driving one virtual device.
package resource

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimit is returned when a non-blocking reservation would exceed
// the configured device memory limit.
var ErrMemoryLimit = errors.New("resource: device memory limit exceeded")

// Config holds resource limits.
type Config struct {
	// DeviceMemoryBytes is the hard limit for device buffer allocations.
	// If 0, no hard limit is enforced (only tracking).
	DeviceMemoryBytes int64

	// MaxInFlightBatches bounds how many batches may be in flight in the
	// pipeline at once. If 0, defaults to 2 (double-buffering).
	MaxInFlightBatches int64

	// TransferLimitBytesPerSec caps host→device write bandwidth.
	// If 0, unlimited.
	TransferLimitBytesPerSec int64
}

// Controller manages the shared device resources. A nil *Controller is
// valid and enforces nothing.
type Controller struct {
	cfg Config

	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64

	batchSem *semaphore.Weighted

	transferLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxInFlightBatches <= 0 {
		cfg.MaxInFlightBatches = 2
	}

	c := &Controller{
		cfg:      cfg,
		batchSem: semaphore.NewWeighted(cfg.MaxInFlightBatches),
	}

	if cfg.DeviceMemoryBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.DeviceMemoryBytes)
	}

	if cfg.TransferLimitBytesPerSec > 0 {
		c.transferLimiter = rate.NewLimiter(rate.Limit(cfg.TransferLimitBytesPerSec), int(cfg.TransferLimitBytesPerSec))
	}

	return c
}

// MaxInFlightBatches returns the configured batch slot count.
func (c *Controller) MaxInFlightBatches() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.MaxInFlightBatches
}

// TryAcquireMemory attempts to reserve device memory without blocking.
// Returns false if the limit would be exceeded; allocation failures must be
// surfaced, not queued, so buffer creation never blocks.
func (c *Controller) TryAcquireMemory(bytes int64) bool {
	if c == nil || bytes <= 0 {
		return true
	}

	if c.memSem != nil {
		if !c.memSem.TryAcquire(bytes) {
			return false
		}
	}

	c.memUsed.Add(bytes)
	return true
}

// ReleaseMemory releases reserved device memory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}

	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the currently reserved device memory in bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// AcquireBatch reserves an in-flight batch slot, blocking until one is
// available or ctx is canceled.
func (c *Controller) AcquireBatch(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.batchSem.Acquire(ctx, 1)
}

// ReleaseBatch releases an in-flight batch slot.
func (c *Controller) ReleaseBatch() {
	if c == nil {
		return
	}
	c.batchSem.Release(1)
}

// AcquireTransfer waits until the transfer budget allows the specified
// number of bytes to be written to the device.
func (c *Controller) AcquireTransfer(ctx context.Context, bytes int) error {
	if c == nil || c.transferLimiter == nil {
		return nil
	}

	// rate.Limiter rejects a single wait larger than its burst.
	burst := c.transferLimiter.Burst()
	for bytes > 0 {
		n := bytes
		if n > burst {
			n = burst
		}
		if err := c.transferLimiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}
