package device

import (
	"errors"
	"fmt"
)

var (
	// ErrContextClosed is returned when an operation is attempted on a
	// released context or one of its queues.
	ErrContextClosed = errors.New("device: context closed")

	// ErrQueueClosed is returned when enqueueing on a closed queue.
	ErrQueueClosed = errors.New("device: queue closed")
)

// ErrAllocation indicates a device buffer allocation failure.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrAllocation struct {
	Bytes int64
	cause error
}

func (e *ErrAllocation) Error() string {
	return fmt.Sprintf("device: cannot allocate buffer of %d bytes", e.Bytes)
}

func (e *ErrAllocation) Unwrap() error { return e.cause }

// ErrDependencyFailed indicates that a command was aborted because one of
// the events it waits on completed with an error.
type ErrDependencyFailed struct {
	Command string
	cause   error
}

func (e *ErrDependencyFailed) Error() string {
	return fmt.Sprintf("device: %s aborted: dependency failed: %v", e.Command, e.cause)
}

func (e *ErrDependencyFailed) Unwrap() error { return e.cause }

// ErrKernelPanic indicates that a work-item panicked during kernel
// execution. The whole launch fails; there is no partial-kernel recovery.
type ErrKernelPanic struct {
	Kernel string
	Value  any
}

func (e *ErrKernelPanic) Error() string {
	return fmt.Sprintf("device: kernel %q panicked: %v", e.Kernel, e.Value)
}
