package device

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Element constrains the element types a device buffer can hold.
type Element interface {
	~float32 | ~uint32 | ~uint64 | ~int32
}

// Buffer is a typed device memory region. Buffers are owned by exactly one
// host-side component at a time; the device only reads or writes them
// through enqueued commands, never concurrently from two kernel launches.
type Buffer[T Element] struct {
	ctx      *Context
	data     []T
	released atomic.Bool
}

// NewBuffer allocates a device buffer of n elements, accounted against the
// context's resource controller when one is configured.
func NewBuffer[T Element](ctx *Context, n int) (*Buffer[T], error) {
	if n <= 0 {
		return nil, &ErrAllocation{Bytes: int64(n)}
	}

	var zero T
	bytes := int64(n) * int64(unsafe.Sizeof(zero))
	if err := ctx.acquire(bytes); err != nil {
		return nil, err
	}

	return &Buffer[T]{
		ctx:  ctx,
		data: make([]T, n),
	}, nil
}

// Len returns the number of elements in the buffer.
func (b *Buffer[T]) Len() int { return len(b.data) }

// Data exposes the device-side storage. It is intended for kernel code
// executing inside a launch; host code must go through EnqueueWrite and
// EnqueueRead so that queue ordering stays authoritative.
func (b *Buffer[T]) Data() []T { return b.data }

// Release returns the buffer's memory to the resource controller. The
// buffer must not be used by any in-flight command.
func (b *Buffer[T]) Release() {
	if !b.released.CompareAndSwap(false, true) {
		return
	}
	var zero T
	b.ctx.release(int64(len(b.data)) * int64(unsafe.Sizeof(zero)))
	b.data = nil
}

// EnqueueWrite enqueues a host→device copy of src into buf starting at
// element offset off. The copy happens when the command executes: the
// caller must not mutate src until the returned event completes.
func EnqueueWrite[T Element](q *Queue, buf *Buffer[T], off int, src []T, deps ...*Event) (*Event, error) {
	if err := checkRegion(buf, off, len(src), "write"); err != nil {
		return nil, err
	}
	return q.enqueue("write", deps, func() error {
		copy(buf.data[off:off+len(src)], src)
		return nil
	})
}

// EnqueueRead enqueues a device→host copy from buf starting at element
// offset off into dst. dst must not be read until the event completes.
func EnqueueRead[T Element](q *Queue, buf *Buffer[T], off int, dst []T, deps ...*Event) (*Event, error) {
	if err := checkRegion(buf, off, len(dst), "read"); err != nil {
		return nil, err
	}
	return q.enqueue("read", deps, func() error {
		copy(dst, buf.data[off:off+len(dst)])
		return nil
	})
}

// EnqueueFill enqueues filling a buffer region with a constant value.
func EnqueueFill[T Element](q *Queue, buf *Buffer[T], off, n int, v T, deps ...*Event) (*Event, error) {
	if err := checkRegion(buf, off, n, "fill"); err != nil {
		return nil, err
	}
	return q.enqueue("fill", deps, func() error {
		region := buf.data[off : off+n]
		for i := range region {
			region[i] = v
		}
		return nil
	})
}

func checkRegion[T Element](buf *Buffer[T], off, n int, op string) error {
	if buf == nil || buf.released.Load() {
		return fmt.Errorf("device: %s on released buffer", op)
	}
	if off < 0 || n < 0 || off+n > len(buf.data) {
		return fmt.Errorf("device: %s region [%d, %d) out of bounds (len %d)", op, off, off+n, len(buf.data))
	}
	return nil
}
