package flashsearch

import (
	"context"
	"sort"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/flashsearch/distance"
	"github.com/hupe1980/flashsearch/resource"
	"github.com/hupe1980/flashsearch/vecdb"
)

func TestSearcher(t *testing.T) {
	t.Run("Search", func(t *testing.T) {
		s, err := New(
			WithBatchRows(128),
			WithGroupSize(32),
		)
		require.NoError(t, err)
		defer s.Close()

		src := vecdb.NewVecgen(21).Matrix(500, 16)
		query := vecdb.NewVecgen(22).Matrix(1, 16).Data

		res, err := s.Search(context.Background(), src, query, 10)
		require.NoError(t, err)
		require.Len(t, res.Values, 10)

		// Results descend and carry the right rows.
		assert.True(t, sort.SliceIsSorted(res.Values, func(i, j int) bool {
			return res.Values[i] > res.Values[j]
		}))
		for i, idx := range res.Indices {
			assert.Equal(t, res.Values[i], distance.Dot(query, src.Row(int(idx))))
		}
	})

	t.Run("Filter", func(t *testing.T) {
		s, err := New(
			WithBatchRows(64),
			WithGroupSize(16),
		)
		require.NoError(t, err)
		defer s.Close()

		src := vecdb.NewVecgen(23).Matrix(200, 8)
		query := vecdb.NewVecgen(24).Matrix(1, 8).Data

		filter := roaring.BitmapOf(3, 17, 99, 150)
		res, err := s.Search(context.Background(), src, query, 2, WithFilter(filter))
		require.NoError(t, err)
		require.Len(t, res.Values, 2)
		for _, idx := range res.Indices {
			assert.True(t, filter.Contains(idx))
		}
	})

	t.Run("ErrorTranslation", func(t *testing.T) {
		s, err := New(WithBatchRows(32), WithGroupSize(8))
		require.NoError(t, err)
		defer s.Close()

		src := vecdb.NewVecgen(25).Matrix(10, 4)

		_, err = s.Search(context.Background(), src, []float32{1, 2, 3, 4}, 0)
		assert.ErrorIs(t, err, ErrInvalidK)

		_, err = s.Search(context.Background(), src, []float32{1, 2}, 1)
		var dm *ErrDimensionMismatch
		require.ErrorAs(t, err, &dm)
		assert.Equal(t, 4, dm.Expected)
		assert.Equal(t, 2, dm.Actual)

		_, err = s.Search(context.Background(), &vecdb.Matrix{Dims: 4}, []float32{1, 2, 3, 4}, 1)
		assert.ErrorIs(t, err, ErrEmptySource)
	})

	t.Run("Metrics", func(t *testing.T) {
		mc := &BasicMetricsCollector{}

		s, err := New(
			WithBatchRows(64),
			WithGroupSize(16),
			WithMetricsCollector(mc),
		)
		require.NoError(t, err)
		defer s.Close()

		src := vecdb.NewVecgen(26).Matrix(100, 8)
		query := vecdb.NewVecgen(27).Matrix(1, 8).Data

		_, err = s.Search(context.Background(), src, query, 5)
		require.NoError(t, err)
		_, err = s.Search(context.Background(), src, query, 0)
		require.Error(t, err)

		stats := mc.GetStats()
		assert.Equal(t, int64(2), stats.SearchCount)
		assert.Equal(t, int64(1), stats.SearchErrors)
		assert.Equal(t, int64(100), stats.RowsScanned)
	})

	t.Run("WithResources", func(t *testing.T) {
		ctrl := resource.NewController(resource.Config{
			DeviceMemoryBytes:  32 << 20,
			MaxInFlightBatches: 2,
		})

		s, err := New(
			WithBatchRows(64),
			WithGroupSize(16),
			WithResources(ctrl),
		)
		require.NoError(t, err)

		src := vecdb.NewVecgen(28).Matrix(300, 8)
		query := vecdb.NewVecgen(29).Matrix(1, 8).Data

		res, err := s.Search(context.Background(), src, query, 3)
		require.NoError(t, err)
		assert.Len(t, res.Values, 3)
		assert.Same(t, ctrl, s.Resources())

		require.NoError(t, s.Close())
		assert.Equal(t, int64(0), ctrl.MemoryUsage())
	})

	t.Run("SearchAfterSearch", func(t *testing.T) {
		s, err := New(WithBatchRows(64), WithGroupSize(16))
		require.NoError(t, err)
		defer s.Close()

		src := vecdb.NewVecgen(30).Matrix(100, 8)

		// The searcher is reusable: queries differ, queues persist.
		for seed := uint64(0); seed < 3; seed++ {
			query := vecdb.NewVecgen(40 + seed).Matrix(1, 8).Data
			res, err := s.Search(context.Background(), src, query, 4)
			require.NoError(t, err)
			assert.Len(t, res.Values, 4)
		}
	})
}
