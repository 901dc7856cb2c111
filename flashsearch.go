package flashsearch

import (
	"context"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/flashsearch/device"
	"github.com/hupe1980/flashsearch/pipeline"
	"github.com/hupe1980/flashsearch/resource"
)

// Source provides row-major batches of a vector database. It is satisfied
// by vecdb.Matrix and vecdb.MmapFile.
type Source = pipeline.Source

// Result is the outcome of one search: the top-K scores and global row
// numbers in descending score order.
type Result = pipeline.Result

// Searcher owns a virtual device context and the pipelined search
// orchestrator on top of it. A Searcher is safe to reuse across searches;
// searches themselves run one at a time.
type Searcher struct {
	opts options

	ctx  *device.Context
	orch *pipeline.Orchestrator
}

// New creates a Searcher with its own device context and command queues.
// The caller owns the Searcher and must Close it.
func New(optFns ...Option) (*Searcher, error) {
	opts := applyOptions(optFns)

	ctx, err := device.NewContext(func(o *device.Options) {
		if opts.deviceName != "" {
			o.Name = opts.deviceName
		}
		if opts.maxGroupSize > 0 {
			o.MaxGroupSize = opts.maxGroupSize
		}
		if opts.groupParallelism > 0 {
			o.GroupParallelism = opts.groupParallelism
		}
		o.Resources = opts.resources
	})
	if err != nil {
		return nil, err
	}

	orch, err := pipeline.New(ctx, func(o *pipeline.Options) {
		if opts.batchRows > 0 {
			o.BatchRows = opts.batchRows
		}
		if opts.depth > 0 {
			o.Depth = opts.depth
		}
		if opts.groupSize > 0 {
			o.GroupSize = opts.groupSize
		}
		o.KeepScores = opts.keepScores
		o.Resources = opts.resources
		o.Logger = opts.logger.Logger
	})
	if err != nil {
		_ = ctx.Release(context.Background())
		return nil, err
	}

	return &Searcher{
		opts: opts,
		ctx:  ctx,
		orch: orch,
	}, nil
}

// SearchOption configures a single search.
type SearchOption func(*pipeline.SearchOptions)

// WithFilter restricts a search to rows whose global row number is set in
// the bitmap.
func WithFilter(filter *roaring.Bitmap) SearchOption {
	return func(o *pipeline.SearchOptions) {
		o.Filter = filter
	}
}

// Search scans the whole source and returns the k highest-scoring rows by
// dot product against query, in descending score order.
func (s *Searcher) Search(ctx context.Context, src Source, query []float32, k int, optFns ...SearchOption) (*Result, error) {
	var sopts pipeline.SearchOptions
	for _, fn := range optFns {
		if fn != nil {
			fn(&sopts)
		}
	}

	start := time.Now()
	result, err := s.orch.Search(ctx, src, query, k, &sopts)
	err = translateError(err)

	rows := 0
	found := 0
	if err == nil && src != nil {
		rows = src.Rows()
	}
	if result != nil {
		found = len(result.Values)
	}
	s.opts.metricsCollector.RecordSearch(k, rows, time.Since(start), err)
	s.opts.logger.LogSearch(ctx, k, rows, found, err)

	return result, err
}

// Resources returns the configured resource controller, or nil.
func (s *Searcher) Resources() *resource.Controller {
	return s.opts.resources
}

// Close drains the command queues and releases the device context.
func (s *Searcher) Close() error {
	if s == nil {
		return nil
	}
	s.orch.Close()
	err := s.ctx.Release(context.Background())
	s.opts.logger.LogDeviceRelease(context.Background(), err)
	return err
}
