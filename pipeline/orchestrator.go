package pipeline

import (
	"context"
	"log/slog"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/flashsearch/device"
	"github.com/hupe1980/flashsearch/kernel"
	"github.com/hupe1980/flashsearch/resource"
	"github.com/hupe1980/flashsearch/topk"
)

// Source provides row-major batches of a vector database.
type Source interface {
	// Dimension returns the dimensionality of every vector.
	Dimension() int

	// Rows returns the total number of vectors.
	Rows() int

	// ReadBatch copies rows [row, row+n) into dst.
	ReadBatch(row, n int, dst []float32) error
}

// Options contains configuration options for the orchestrator.
type Options struct {
	// BatchRows is the number of database rows per batch.
	BatchRows int

	// Depth is the pipeline depth: the number of independent buffer sets
	// cycling through write → execute → read. 2 is double-buffering.
	Depth int

	// GroupSize is the number of rows one work-group scores and reduces
	// in the fused kernel.
	GroupSize int

	// KeepScores additionally reads the full per-row score array back to
	// the host. Intended for verification; it forfeits the bandwidth
	// saving of the fused path.
	KeepScores bool

	// Resources optionally bounds in-flight batches and transfer
	// bandwidth.
	Resources *resource.Controller

	// Logger receives batch lifecycle logs. Nil disables logging.
	Logger *slog.Logger
}

// DefaultOptions contains the default configuration options.
var DefaultOptions = Options{
	BatchRows: 32768,
	Depth:     2,
	GroupSize: 256,
}

// SearchOptions carries per-search parameters.
type SearchOptions struct {
	// Filter restricts the search to rows whose global identifier is set
	// in the bitmap. Nil admits every row.
	Filter *roaring.Bitmap
}

// Result is the outcome of one search.
type Result struct {
	// Values and Indices are the top-K scores and global row numbers in
	// descending score order. Fewer than K entries are returned when the
	// source (or the filter) admits fewer rows.
	Values  []float32
	Indices []uint32

	// Scores is the full score array, populated only with KeepScores.
	// Rows excluded by a filter keep a zero score.
	Scores []float32

	// Batches is the number of device batches the search used.
	Batches int
}

// Orchestrator schedules batched searches on a device context.
type Orchestrator struct {
	ctx  *device.Context
	opts Options

	matrixQ *device.Queue
	vectorQ *device.Queue
	resultQ *device.Queue

	log    *slog.Logger
	closed bool
}

// New creates an orchestrator and its three command queues on ctx.
func New(ctx *device.Context, optFns ...func(o *Options)) (*Orchestrator, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.BatchRows <= 0 {
		opts.BatchRows = DefaultOptions.BatchRows
	}
	if opts.Depth <= 0 {
		opts.Depth = DefaultOptions.Depth
	}
	if opts.GroupSize <= 0 {
		opts.GroupSize = DefaultOptions.GroupSize
	}
	if opts.GroupSize > ctx.MaxGroupSize() {
		opts.GroupSize = ctx.MaxGroupSize()
	}
	// More buffer sets than batch slots would park the pump on the batch
	// semaphore with nothing left to fold.
	if m := opts.Resources.MaxInFlightBatches(); m > 0 && opts.Depth > int(m) {
		opts.Depth = int(m)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	matrixQ, err := ctx.NewQueue("matrix-write")
	if err != nil {
		return nil, err
	}
	vectorQ, err := ctx.NewQueue("vector-write")
	if err != nil {
		return nil, err
	}
	resultQ, err := ctx.NewQueue("result-read")
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		ctx:     ctx,
		opts:    opts,
		matrixQ: matrixQ,
		vectorQ: vectorQ,
		resultQ: resultQ,
		log:     opts.Logger,
	}, nil
}

// Close drains and closes the orchestrator's queues. The device context
// stays usable.
func (o *Orchestrator) Close() {
	if o.closed {
		return
	}
	o.closed = true
	o.matrixQ.Close()
	o.vectorQ.Close()
	o.resultQ.Close()
}

// slot is one buffer set of the pipeline. A slot is exclusively owned by
// one in-flight batch; it is only reused after that batch's read-back
// completed and was folded.
type slot struct {
	matrix   *device.Buffer[float32]
	query    *device.Buffer[float32]
	mask     *device.Buffer[uint64]
	scores   *device.Buffer[float32]
	candVals *device.Buffer[float32]
	candIdx  *device.Buffer[uint32]
	finVals  *device.Buffer[float32]
	finIdx   *device.Buffer[uint32]

	staging   []float32
	maskWords []uint64
	readVals  []float32
	readIdx   []uint32

	inFlight  bool
	batch     int
	rows      int
	rowOffset int
	readN     int // candidates to fold from readVals/readIdx
	readEvt   *device.Event
}

func (s *slot) release() {
	if s.matrix != nil {
		s.matrix.Release()
	}
	if s.query != nil {
		s.query.Release()
	}
	if s.mask != nil {
		s.mask.Release()
	}
	if s.scores != nil {
		s.scores.Release()
	}
	if s.candVals != nil {
		s.candVals.Release()
	}
	if s.candIdx != nil {
		s.candIdx.Release()
	}
	if s.finVals != nil {
		s.finVals.Release()
	}
	if s.finIdx != nil {
		s.finIdx.Release()
	}
}

// Search runs the full pipelined brute-force search and returns the K
// highest-scoring rows.
func (o *Orchestrator) Search(ctx context.Context, src Source, query []float32, k int, sopts *SearchOptions) (*Result, error) {
	if o.closed {
		return nil, ErrClosed
	}
	if k <= 0 {
		return nil, ErrInvalidK
	}

	dims := src.Dimension()
	totalRows := src.Rows()
	if totalRows == 0 {
		return nil, ErrEmptySource
	}
	if len(query) != dims {
		return nil, &ErrDimensionMismatch{Expected: dims, Actual: len(query)}
	}
	if k > o.opts.BatchRows || k > o.ctx.MaxGroupSize() {
		return nil, ErrInvalidK
	}

	var filter *roaring.Bitmap
	if sopts != nil {
		filter = sopts.Filter
	}

	groupSize := o.opts.GroupSize
	if groupSize < k {
		// The group reduction needs at least one full K cell per group.
		groupSize = k
	}
	if groupSize > o.opts.BatchRows {
		groupSize = o.opts.BatchRows
	}

	run := &searchRun{
		o:          o,
		src:        src,
		query:      query,
		k:          k,
		dims:       dims,
		totalRows:  totalRows,
		groupSize:  groupSize,
		filter:     filter,
		keepScores: o.opts.KeepScores,
		acc:        topk.NewAccumulator(k),
	}
	if run.keepScores {
		run.scores = make([]float32, totalRows)
	}

	defer run.cleanup()

	if err := run.allocateSlots(); err != nil {
		return nil, err
	}
	if err := run.pump(ctx); err != nil {
		return nil, err
	}

	values, indices := run.acc.Results()
	res := &Result{
		Values:  values,
		Indices: indices,
		Scores:  run.scores,
		Batches: run.batches,
	}

	o.log.InfoContext(ctx, "search completed",
		"rows", totalRows,
		"batches", run.batches,
		"k", k,
		"results", len(values),
	)
	return res, nil
}

// searchRun holds the per-search state: the slot ring, the running global
// top-K and the optional full score array.
type searchRun struct {
	o          *Orchestrator
	src        Source
	query      []float32
	k          int
	dims       int
	totalRows  int
	groupSize  int
	filter     *roaring.Bitmap
	keepScores bool

	slots   []*slot
	acc     *topk.Accumulator
	scores  []float32
	batches int

	inFlight int // batch semaphore holds
}

func (r *searchRun) maxGroups() int {
	return ceilDiv(r.o.opts.BatchRows, r.groupSize)
}

func (r *searchRun) allocateSlots() error {
	o := r.o
	maxCand := r.maxGroups() * r.k

	for i := 0; i < o.opts.Depth; i++ {
		s := &slot{
			staging:  make([]float32, o.opts.BatchRows*r.dims),
			readVals: make([]float32, maxCand),
			readIdx:  make([]uint32, maxCand),
		}
		r.slots = append(r.slots, s)

		var err error
		if s.matrix, err = device.NewBuffer[float32](o.ctx, o.opts.BatchRows*r.dims); err != nil {
			return err
		}
		if s.query, err = device.NewBuffer[float32](o.ctx, r.dims); err != nil {
			return err
		}
		if s.candVals, err = device.NewBuffer[float32](o.ctx, maxCand); err != nil {
			return err
		}
		if s.candIdx, err = device.NewBuffer[uint32](o.ctx, maxCand); err != nil {
			return err
		}
		if r.filter != nil {
			if s.mask, err = device.NewBuffer[uint64](o.ctx, ceilDiv(o.opts.BatchRows, 64)); err != nil {
				return err
			}
			s.maskWords = make([]uint64, ceilDiv(o.opts.BatchRows, 64))
		}
		if r.keepScores {
			if s.scores, err = device.NewBuffer[float32](o.ctx, o.opts.BatchRows); err != nil {
				return err
			}
		}
		if maxCand > r.k && maxCand <= o.ctx.MaxGroupSize() {
			if s.finVals, err = device.NewBuffer[float32](o.ctx, r.k); err != nil {
				return err
			}
			if s.finIdx, err = device.NewBuffer[uint32](o.ctx, r.k); err != nil {
				return err
			}
		}
	}
	return nil
}

// pump implements the overlap protocol: per batch, enqueue the writes,
// flush the write queues, enqueue the kernel with event dependencies on
// the writes, enqueue the bounded read-back, flush the read queue — and
// only block when a slot is about to be reused.
func (r *searchRun) pump(ctx context.Context) error {
	o := r.o

	batch := 0
	for row := 0; row < r.totalRows; row += o.opts.BatchRows {
		rows := o.opts.BatchRows
		if row+rows > r.totalRows {
			rows = r.totalRows - row
		}

		s := r.slots[batch%len(r.slots)]
		if s.inFlight {
			if err := r.fold(ctx, s); err != nil {
				return err
			}
		}

		if err := o.opts.Resources.AcquireBatch(ctx); err != nil {
			return err
		}
		r.inFlight++

		if err := r.submit(ctx, s, batch, row, rows); err != nil {
			return &BatchError{Batch: batch, Rows: rows, Dims: r.dims, cause: err}
		}
		batch++
	}
	r.batches = batch

	// Drain: fold remaining in-flight slots, oldest first.
	for i := max(0, batch-len(r.slots)); i < batch; i++ {
		s := r.slots[i%len(r.slots)]
		if s.inFlight {
			if err := r.fold(ctx, s); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *searchRun) submit(ctx context.Context, s *slot, batch, row, rows int) error {
	o := r.o

	if err := r.src.ReadBatch(row, rows, s.staging[:rows*r.dims]); err != nil {
		return err
	}
	if err := o.opts.Resources.AcquireTransfer(ctx, (rows*r.dims+r.dims)*4); err != nil {
		return err
	}

	matrixEvt, err := device.EnqueueWrite(o.matrixQ, s.matrix, 0, s.staging[:rows*r.dims])
	if err != nil {
		return err
	}
	queryEvt, err := device.EnqueueWrite(o.vectorQ, s.query, 0, r.query)
	if err != nil {
		return err
	}

	deps := []*device.Event{matrixEvt, queryEvt}
	if r.filter != nil {
		buildMask(r.filter, row, rows, s.maskWords)
		maskEvt, err := device.EnqueueWrite(o.matrixQ, s.mask, 0, s.maskWords)
		if err != nil {
			return err
		}
		deps = append(deps, maskEvt)
	}

	// Accepted by the device, not waited for.
	o.matrixQ.Flush()
	o.vectorQ.Flush()

	fusedKern, fusedRange, err := kernel.FusedScoreTopK(kernel.FusedConfig{
		Rows:       rows,
		Cols:       r.dims,
		K:          r.k,
		GroupSize:  r.groupSize,
		KeepScores: r.keepScores,
	}, s.matrix, s.query, s.mask, s.scores, s.candVals, s.candIdx)
	if err != nil {
		return err
	}
	kernEvt, err := o.resultQ.EnqueueKernel(fusedKern, fusedRange, deps...)
	if err != nil {
		return err
	}

	numGroups := ceilDiv(rows, r.groupSize)
	cand := numGroups * r.k

	readValsBuf, readIdxBuf, readN := s.candVals, s.candIdx, cand
	if numGroups > 1 && s.finVals != nil && cand <= o.ctx.MaxGroupSize() {
		// Reduce the per-group winners to the batch top-K in a single
		// work-group so only K pairs cross back to the host.
		finKern, finRange, err := kernel.TopK(kernel.TopKConfig{
			N:         cand,
			K:         r.k,
			GroupSize: cand,
		}, s.candVals, s.candIdx, s.finVals, s.finIdx)
		if err != nil {
			return err
		}
		if kernEvt, err = o.resultQ.EnqueueKernel(finKern, finRange, kernEvt); err != nil {
			return err
		}
		readValsBuf, readIdxBuf, readN = s.finVals, s.finIdx, r.k
	}

	if _, err = device.EnqueueRead(o.resultQ, readValsBuf, 0, s.readVals[:readN], kernEvt); err != nil {
		return err
	}
	readEvt, err := device.EnqueueRead(o.resultQ, readIdxBuf, 0, s.readIdx[:readN], kernEvt)
	if err != nil {
		return err
	}
	if r.keepScores {
		if readEvt, err = device.EnqueueRead(o.resultQ, s.scores, 0, r.scores[row:row+rows], kernEvt); err != nil {
			return err
		}
	}
	o.resultQ.Flush()

	s.inFlight = true
	s.batch = batch
	s.rows = rows
	s.rowOffset = row
	s.readN = readN
	s.readEvt = readEvt

	o.log.DebugContext(ctx, "batch submitted",
		"batch", batch,
		"rows", rows,
		"offset", row,
		"groups", numGroups,
	)
	return nil
}

// fold is the hard synchronization point: wait until the slot's read-back
// landed in host memory, then merge its candidates into the global top-K.
func (r *searchRun) fold(ctx context.Context, s *slot) error {
	if err := s.readEvt.Wait(ctx); err != nil {
		// The slot's commands may still be queued or running, a canceled
		// wait included. The slot stays in flight; cleanup drains the
		// queues before any buffer is released.
		return &BatchError{Batch: s.batch, Rows: s.rows, Dims: r.dims, cause: err}
	}

	s.inFlight = false
	s.readEvt = nil
	r.o.opts.Resources.ReleaseBatch()
	r.inFlight--

	r.acc.Fold(s.readVals[:s.readN], s.readIdx[:s.readN], uint32(s.rowOffset))

	r.o.log.DebugContext(ctx, "batch folded",
		"batch", s.batch,
		"rows", s.rows,
		"candidates", s.readN,
	)
	return nil
}

func (r *searchRun) cleanup() {
	// Let in-flight commands settle before tearing down buffers; a command
	// still running must not observe released device memory. The drain is
	// unconditional and uses a background context: commands complete in
	// bounded time and a caller cancellation must not turn into a
	// use-after-release.
	drain := context.Background()
	_ = r.o.matrixQ.Finish(drain)
	_ = r.o.vectorQ.Finish(drain)
	_ = r.o.resultQ.Finish(drain)
	for ; r.inFlight > 0; r.inFlight-- {
		r.o.opts.Resources.ReleaseBatch()
	}
	for _, s := range r.slots {
		s.release()
	}
}

func buildMask(filter *roaring.Bitmap, row, rows int, words []uint64) {
	for i := range words {
		words[i] = 0
	}

	it := filter.Iterator()
	it.AdvanceIfNeeded(uint32(row))
	end := uint32(row + rows)
	for it.HasNext() {
		v := it.Next()
		if v >= end {
			break
		}
		off := v - uint32(row)
		words[off>>6] |= 1 << (off & 63)
	}
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
