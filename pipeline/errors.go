package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("pipeline: k must be positive")

	// ErrEmptySource is returned when the source holds no vectors.
	ErrEmptySource = errors.New("pipeline: empty source")

	// ErrClosed is returned when searching on a closed orchestrator.
	ErrClosed = errors.New("pipeline: orchestrator closed")
)

// ErrDimensionMismatch indicates that the query dimensionality does not
// match the source's.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("pipeline: dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// BatchError reports which batch failed and the dimensional parameters in
// effect. Device errors are not retried; the whole search aborts with this
// error and no partial result.
//
// The original underlying error can be accessed via errors.Unwrap.
type BatchError struct {
	Batch int
	Rows  int
	Dims  int
	cause error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("pipeline: batch %d (%d rows × %d dims) failed: %v", e.Batch, e.Rows, e.Dims, e.cause)
}

func (e *BatchError) Unwrap() error { return e.cause }
