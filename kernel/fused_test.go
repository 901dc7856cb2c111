package kernel

import (
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/flashsearch/distance"
)

func TestFusedScoreTopK(t *testing.T) {
	t.Run("MatchesScoreThenTopK", func(t *testing.T) {
		ctx, q := testQueue(t)
		rng := rand.New(rand.NewPCG(5, 6))

		const rows, cols, k, groupSize = 300, 24, 4, 64
		matrix := randomMatrix(rng, rows, cols)
		query := randomMatrix(rng, 1, cols)

		cfg := FusedConfig{Rows: rows, Cols: cols, K: k, GroupSize: groupSize}
		a := upload(t, ctx, q, matrix)
		x := upload(t, ctx, q, query)
		outVals := alloc[float32](t, ctx, cfg.OutLen())
		outIdx := alloc[uint32](t, ctx, cfg.OutLen())

		kern, r, err := FusedScoreTopK(cfg, a, x, nil, nil, outVals, outIdx)
		require.NoError(t, err)
		_, err = q.EnqueueKernel(kern, r)
		require.NoError(t, err)

		gotVals := download(t, q, outVals, cfg.OutLen())
		gotIdx := download(t, q, outIdx, cfg.OutLen())

		// Per group, the winners must equal the sorted top-K of the rows the
		// group owns. The fused inner loop matches the sequential reference
		// order, so scores compare exactly.
		ref := make([]float32, rows)
		distance.MatrixDot(query, matrix, cols, ref)

		for g := 0; g < cfg.NumGroups(); g++ {
			lo := g * groupSize
			hi := lo + groupSize
			if hi > rows {
				hi = rows
			}

			want := append([]float32(nil), ref[lo:hi]...)
			sort.Slice(want, func(i, j int) bool { return want[i] > want[j] })

			assert.Equal(t, want[:k], gotVals[g*k:g*k+k], "group %d", g)
			for i, idx := range gotIdx[g*k : g*k+k] {
				assert.Equal(t, gotVals[g*k+i], ref[idx], "group %d slot %d", g, i)
			}
		}
	})

	t.Run("KeepScores", func(t *testing.T) {
		ctx, q := testQueue(t)
		rng := rand.New(rand.NewPCG(8, 9))

		const rows, cols, k, groupSize = 50, 8, 2, 16
		matrix := randomMatrix(rng, rows, cols)
		query := randomMatrix(rng, 1, cols)

		cfg := FusedConfig{Rows: rows, Cols: cols, K: k, GroupSize: groupSize, KeepScores: true}
		a := upload(t, ctx, q, matrix)
		x := upload(t, ctx, q, query)
		scores := alloc[float32](t, ctx, rows)
		outVals := alloc[float32](t, ctx, cfg.OutLen())
		outIdx := alloc[uint32](t, ctx, cfg.OutLen())

		kern, r, err := FusedScoreTopK(cfg, a, x, nil, scores, outVals, outIdx)
		require.NoError(t, err)
		_, err = q.EnqueueKernel(kern, r)
		require.NoError(t, err)

		want := make([]float32, rows)
		distance.MatrixDot(query, matrix, cols, want)

		assert.Equal(t, want, download(t, q, scores, rows))
	})

	t.Run("Mask", func(t *testing.T) {
		ctx, q := testQueue(t)

		matrix := []float32{
			1, 0,
			2, 0,
			3, 0,
			4, 0,
		}
		query := []float32{1, 0}

		// Admit rows 0 and 2 only; the highest-scoring rows 3 and 1 are
		// masked out and must not win.
		mask := upload(t, ctx, q, []uint64{0b0101})

		cfg := FusedConfig{Rows: 4, Cols: 2, K: 2, GroupSize: 4}
		a := upload(t, ctx, q, matrix)
		x := upload(t, ctx, q, query)
		outVals := alloc[float32](t, ctx, 2)
		outIdx := alloc[uint32](t, ctx, 2)

		kern, r, err := FusedScoreTopK(cfg, a, x, mask, nil, outVals, outIdx)
		require.NoError(t, err)
		_, err = q.EnqueueKernel(kern, r)
		require.NoError(t, err)

		assert.Equal(t, []float32{3, 1}, download(t, q, outVals, 2))
		assert.Equal(t, []uint32{2, 0}, download(t, q, outIdx, 2))
	})

	t.Run("MaskedRowsZeroScores", func(t *testing.T) {
		ctx, q := testQueue(t)

		matrix := []float32{
			1, 0,
			2, 0,
			3, 0,
			4, 0,
		}
		query := []float32{1, 0}

		mask := upload(t, ctx, q, []uint64{0b0101})

		// The score buffer carries a previous launch's values; masked-out
		// rows must be overwritten with zero, not read back stale.
		scores := upload(t, ctx, q, []float32{7, 7, 7, 7})

		cfg := FusedConfig{Rows: 4, Cols: 2, K: 2, GroupSize: 4, KeepScores: true}
		a := upload(t, ctx, q, matrix)
		x := upload(t, ctx, q, query)
		outVals := alloc[float32](t, ctx, 2)
		outIdx := alloc[uint32](t, ctx, 2)

		kern, r, err := FusedScoreTopK(cfg, a, x, mask, scores, outVals, outIdx)
		require.NoError(t, err)
		_, err = q.EnqueueKernel(kern, r)
		require.NoError(t, err)

		assert.Equal(t, []float32{1, 0, 3, 0}, download(t, q, scores, 4))
	})

	t.Run("FullyMaskedGroup", func(t *testing.T) {
		ctx, q := testQueue(t)

		matrix := make([]float32, 8*2)
		for i := range matrix {
			matrix[i] = 1
		}
		query := []float32{1, 1}

		// Second group's rows are all masked out; its winner slots must
		// carry the sentinel pair.
		mask := upload(t, ctx, q, []uint64{0b00001111})

		cfg := FusedConfig{Rows: 8, Cols: 2, K: 2, GroupSize: 4}
		a := upload(t, ctx, q, matrix)
		x := upload(t, ctx, q, query)
		outVals := alloc[float32](t, ctx, cfg.OutLen())
		outIdx := alloc[uint32](t, ctx, cfg.OutLen())

		kern, r, err := FusedScoreTopK(cfg, a, x, mask, nil, outVals, outIdx)
		require.NoError(t, err)
		_, err = q.EnqueueKernel(kern, r)
		require.NoError(t, err)

		gotIdx := download(t, q, outIdx, cfg.OutLen())
		assert.Equal(t, []uint32{sentinelIndex, sentinelIndex}, gotIdx[2:])
	})

	t.Run("RaggedRows", func(t *testing.T) {
		ctx, q := testQueue(t)
		rng := rand.New(rand.NewPCG(10, 11))

		// 10 rows with GroupSize 8: the second group holds two live rows.
		const rows, cols, k, groupSize = 10, 4, 2, 8
		matrix := randomMatrix(rng, rows, cols)
		query := randomMatrix(rng, 1, cols)

		cfg := FusedConfig{Rows: rows, Cols: cols, K: k, GroupSize: groupSize}
		a := upload(t, ctx, q, matrix)
		x := upload(t, ctx, q, query)
		outVals := alloc[float32](t, ctx, cfg.OutLen())
		outIdx := alloc[uint32](t, ctx, cfg.OutLen())

		kern, r, err := FusedScoreTopK(cfg, a, x, nil, nil, outVals, outIdx)
		require.NoError(t, err)
		_, err = q.EnqueueKernel(kern, r)
		require.NoError(t, err)

		ref := make([]float32, rows)
		distance.MatrixDot(query, matrix, cols, ref)

		gotVals := download(t, q, outVals, cfg.OutLen())
		gotIdx := download(t, q, outIdx, cfg.OutLen())

		// Group 1 owns rows 8 and 9 only.
		want := []float32{ref[8], ref[9]}
		wantIdx := []uint32{8, 9}
		if ref[9] > ref[8] {
			want = []float32{ref[9], ref[8]}
			wantIdx = []uint32{9, 8}
		}
		assert.Equal(t, want, gotVals[2:])
		assert.Equal(t, wantIdx, gotIdx[2:])
	})

	t.Run("Validation", func(t *testing.T) {
		ctx, q := testQueue(t)
		_ = q

		a := alloc[float32](t, ctx, 8)
		x := alloc[float32](t, ctx, 2)
		outVals := alloc[float32](t, ctx, 2)
		outIdx := alloc[uint32](t, ctx, 2)

		// KeepScores without a score buffer.
		_, _, err := FusedScoreTopK(FusedConfig{Rows: 4, Cols: 2, K: 2, GroupSize: 4, KeepScores: true}, a, x, nil, nil, outVals, outIdx)
		assert.Error(t, err)

		// Group smaller than K.
		_, _, err = FusedScoreTopK(FusedConfig{Rows: 4, Cols: 2, K: 4, GroupSize: 2}, a, x, nil, nil, outVals, outIdx)
		assert.Error(t, err)
	})
}

func TestGroupTopKProperties(t *testing.T) {
	// Exhaustive-ish property check of the in-group reduction through the
	// public TopK kernel: for many shapes the winners must equal the sorted
	// prefix of the candidates.
	rng := rand.New(rand.NewPCG(99, 100))

	shapes := []struct {
		n, k, groupSize int
	}{
		{1, 1, 1},
		{5, 1, 5},
		{8, 3, 8},
		{16, 5, 16},
		{31, 4, 31},
		{64, 64, 64},
		{100, 7, 100},
	}

	for _, s := range shapes {
		ctx, q := testQueue(t)

		in := make([]float32, s.n)
		for i := range in {
			in[i] = rng.Float32()*100 - 50
		}

		scores := upload(t, ctx, q, in)
		outVals := alloc[float32](t, ctx, s.k)
		outIdx := alloc[uint32](t, ctx, s.k)

		kern, r, err := TopK(TopKConfig{N: s.n, K: s.k, GroupSize: s.groupSize}, scores, nil, outVals, outIdx)
		require.NoError(t, err)
		_, err = q.EnqueueKernel(kern, r)
		require.NoError(t, err)

		want := append([]float32(nil), in...)
		sort.Slice(want, func(i, j int) bool { return want[i] > want[j] })

		assert.Equal(t, want[:s.k], download(t, q, outVals, s.k), "shape %+v", s)
	}
}
