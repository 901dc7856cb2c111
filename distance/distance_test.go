package distance

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDot(t *testing.T) {
	t.Run("Basic", func(t *testing.T) {
		assert.Equal(t, float32(4), Dot([]float32{1, 2, 3}, []float32{1, 0, 1}))
		assert.Equal(t, float32(0), Dot([]float32{1, 2}, []float32{0, 0}))
		assert.Equal(t, float32(0), Dot(nil, nil))
	})

	t.Run("UnrolledMatchesNaive", func(t *testing.T) {
		rng := rand.New(rand.NewPCG(11, 12))

		for _, n := range []int{1, 7, 8, 9, 63, 64, 100} {
			a := make([]float32, n)
			b := make([]float32, n)
			for i := range a {
				a[i] = rng.Float32()*2 - 1
				b[i] = rng.Float32()*2 - 1
			}
			assert.InDelta(t, Dot(a, b), DotUnrolled(a, b), 1e-4, "n=%d", n)
		}
	})
}

func TestMatrixDot(t *testing.T) {
	t.Run("SmallMatrix", func(t *testing.T) {
		data := []float32{
			1, 2, 3,
			4, 5, 6,
		}
		results := make([]float32, 2)
		MatrixDot([]float32{1, 0, 1}, data, 3, results)
		assert.Equal(t, []float32{4, 10}, results)
	})

	t.Run("ParallelMatchesSequential", func(t *testing.T) {
		rng := rand.New(rand.NewPCG(13, 14))

		const rows, dims = 257, 48
		data := make([]float32, rows*dims)
		query := make([]float32, dims)
		for i := range data {
			data[i] = rng.Float32()
		}
		for i := range query {
			query[i] = rng.Float32()
		}

		want := make([]float32, rows)
		MatrixDot(query, data, dims, want)

		got := make([]float32, rows)
		require.NoError(t, MatrixDotParallel(context.Background(), query, data, dims, got, 4))

		for i := range want {
			assert.InDelta(t, want[i], got[i], 1e-3, "row %d", i)
		}
	})
}
