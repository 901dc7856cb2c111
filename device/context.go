package device

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/flashsearch/resource"
)

// Options contains configuration options for a device context.
type Options struct {
	// Name identifies the virtual device in logs and errors.
	Name string

	// MaxGroupSize is the largest allowed work-group size per launch.
	MaxGroupSize int

	// GroupParallelism bounds how many work-groups of one launch execute
	// concurrently. Defaults to GOMAXPROCS.
	GroupParallelism int

	// Resources optionally accounts buffer allocations against a shared
	// resource controller. Nil disables accounting.
	Resources *resource.Controller
}

// DefaultOptions contains the default configuration options for a context.
var DefaultOptions = Options{
	Name:         "virtual-device",
	MaxGroupSize: 1024,
}

// Context owns a virtual device and its command queues. It must be created
// explicitly and released by the owner; there is no process-wide ambient
// context.
type Context struct {
	opts Options

	mu     sync.Mutex
	queues []*Queue
	closed atomic.Bool

	allocated atomic.Int64
}

// NewContext creates a device context.
func NewContext(optFns ...func(o *Options)) (*Context, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxGroupSize <= 0 {
		opts.MaxGroupSize = DefaultOptions.MaxGroupSize
	}
	if opts.GroupParallelism <= 0 {
		opts.GroupParallelism = runtime.GOMAXPROCS(0)
	}

	return &Context{opts: opts}, nil
}

// Name returns the device name.
func (c *Context) Name() string { return c.opts.Name }

// MaxGroupSize returns the largest allowed work-group size.
func (c *Context) MaxGroupSize() int { return c.opts.MaxGroupSize }

// AllocatedBytes returns the number of currently allocated buffer bytes.
func (c *Context) AllocatedBytes() int64 { return c.allocated.Load() }

// NewQueue creates a command queue owned by this context.
func (c *Context) NewQueue(name string) (*Queue, error) {
	if c.closed.Load() {
		return nil, ErrContextClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	q := newQueue(name, c)
	c.queues = append(c.queues, q)
	return q, nil
}

// Release finishes and closes all queues and marks the context closed.
// Buffers allocated from the context become invalid for new commands.
func (c *Context) Release(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	queues := c.queues
	c.queues = nil
	c.mu.Unlock()

	var firstErr error
	for _, q := range queues {
		if err := q.Finish(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		q.Close()
	}
	return firstErr
}

func (c *Context) acquire(bytes int64) error {
	if c.closed.Load() {
		return ErrContextClosed
	}
	if r := c.opts.Resources; r != nil {
		if !r.TryAcquireMemory(bytes) {
			return &ErrAllocation{Bytes: bytes, cause: resource.ErrMemoryLimit}
		}
	}
	c.allocated.Add(bytes)
	return nil
}

func (c *Context) release(bytes int64) {
	if r := c.opts.Resources; r != nil {
		r.ReleaseMemory(bytes)
	}
	c.allocated.Add(-bytes)
}
