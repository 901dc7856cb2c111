// Package distance provides CPU reference implementations of the
// matrix-vector dot product. They serve as ground truth for the device
// kernels and as a fallback scorer when no device context is available.
package distance

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// unrollFactor is the number of independent accumulators of the unrolled
// kernel. Independent accumulators break the floating-point dependency
// chain; note that the summation order differs from the naive loop, so
// results may differ in the last bits.
const unrollFactor = 8

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// DotUnrolled calculates the dot product with unrollFactor independent
// accumulators.
func DotUnrolled(a, b []float32) float32 {
	var acc [unrollFactor]float32

	n := len(a) - len(a)%unrollFactor
	for i := 0; i < n; i += unrollFactor {
		for u := 0; u < unrollFactor; u++ {
			acc[u] += a[i+u] * b[i+u]
		}
	}

	var sum float32
	for u := 0; u < unrollFactor; u++ {
		sum += acc[u]
	}
	for i := n; i < len(a); i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// MatrixDot computes results[r] = query · data[r*dims : (r+1)*dims] for
// every row of the row-major data matrix. len(results) determines the row
// count; data must hold len(results)*dims elements and query dims elements.
func MatrixDot(query, data []float32, dims int, results []float32) {
	for r := range results {
		results[r] = Dot(query, data[r*dims:(r+1)*dims])
	}
}

// MatrixDotParallel is MatrixDot with rows fanned out across workers.
// workers <= 0 selects GOMAXPROCS.
func MatrixDotParallel(ctx context.Context, query, data []float32, dims int, results []float32, workers int) error {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	rows := len(results)
	chunk := (rows + workers - 1) / workers

	g, ctx := errgroup.WithContext(ctx)
	for start := 0; start < rows; start += chunk {
		end := start + chunk
		if end > rows {
			end = rows
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for r := start; r < end; r++ {
				results[r] = DotUnrolled(query, data[r*dims:(r+1)*dims])
			}
			return nil
		})
	}
	return g.Wait()
}
