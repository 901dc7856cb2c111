package topk

import (
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulator(t *testing.T) {
	t.Run("Offer", func(t *testing.T) {
		a := NewAccumulator(3)

		a.Offer(0, 1.0)
		a.Offer(1, 5.0)
		a.Offer(2, 3.0)
		assert.Equal(t, 3, a.Len())

		// Beats the weakest kept candidate.
		a.Offer(3, 4.0)
		// Loses against everything kept.
		a.Offer(4, 0.5)

		values, indices := a.Results()
		assert.Equal(t, []float32{5, 4, 3}, values)
		assert.Equal(t, []uint32{1, 3, 2}, indices)
	})

	t.Run("FewerThanK", func(t *testing.T) {
		a := NewAccumulator(10)
		a.Offer(7, 2.0)
		a.Offer(3, 9.0)

		values, indices := a.Results()
		assert.Equal(t, []float32{9, 2}, values)
		assert.Equal(t, []uint32{3, 7}, indices)
	})

	t.Run("SkipsInvalidIndex", func(t *testing.T) {
		a := NewAccumulator(2)
		a.Offer(InvalidIndex, 100)
		a.Offer(1, 1)

		values, _ := a.Results()
		assert.Equal(t, []float32{1}, values)
	})

	t.Run("Fold", func(t *testing.T) {
		a := NewAccumulator(2)

		// Two batches of per-group winners with batch-local indices; the
		// second batch starts at global row 100.
		a.Fold([]float32{4, 3}, []uint32{2, 0}, 0)
		a.Fold([]float32{9, 6, -1}, []uint32{5, 7, InvalidIndex}, 100)

		values, indices := a.Results()
		assert.Equal(t, []float32{9, 6}, values)
		assert.Equal(t, []uint32{105, 107}, indices)
	})

	t.Run("NegativeScores", func(t *testing.T) {
		a := NewAccumulator(2)
		a.Offer(0, -5)
		a.Offer(1, -1)
		a.Offer(2, -3)

		values, indices := a.Results()
		assert.Equal(t, []float32{-1, -3}, values)
		assert.Equal(t, []uint32{1, 2}, indices)
	})

	t.Run("RandomAgainstSort", func(t *testing.T) {
		rng := rand.New(rand.NewPCG(3, 4))

		const n, k = 5000, 25
		scores := make([]float32, n)
		for i := range scores {
			scores[i] = rng.Float32()*1000 - 500
		}

		a := NewAccumulator(k)
		for i, s := range scores {
			a.Offer(uint32(i), s)
		}

		want := append([]float32(nil), scores...)
		sort.Slice(want, func(i, j int) bool { return want[i] > want[j] })

		values, indices := a.Results()
		require.Len(t, values, k)
		assert.Equal(t, want[:k], values)
		for i, idx := range indices {
			assert.Equal(t, values[i], scores[idx])
		}
	})
}
