package flashsearch

import (
	"errors"
	"fmt"

	"github.com/hupe1980/flashsearch/pipeline"
)

var (
	// ErrInvalidK is returned when k is not positive or exceeds what the
	// configured batch geometry can reduce.
	ErrInvalidK = errors.New("k must be positive and within batch capacity")

	// ErrEmptySource is returned when the source holds no vectors.
	ErrEmptySource = errors.New("empty source")

	// ErrClosed is returned when operating on a closed searcher.
	ErrClosed = errors.New("searcher closed")
)

// ErrDimensionMismatch indicates a query/database dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pipeline.ErrInvalidK) {
		return fmt.Errorf("%w: %w", ErrInvalidK, err)
	}
	if errors.Is(err, pipeline.ErrEmptySource) {
		return fmt.Errorf("%w: %w", ErrEmptySource, err)
	}
	if errors.Is(err, pipeline.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}

	var dm *pipeline.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}

	return err
}
