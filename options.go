package flashsearch

import (
	"log/slog"

	"github.com/hupe1980/flashsearch/resource"
)

type options struct {
	deviceName       string
	maxGroupSize     int
	groupParallelism int
	batchRows        int
	depth            int
	groupSize        int
	keepScores       bool
	resources        *resource.Controller
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures Searcher constructor behavior.
type Option func(*options)

// WithDeviceName names the virtual device in logs and errors.
func WithDeviceName(name string) Option {
	return func(o *options) {
		o.deviceName = name
	}
}

// WithMaxGroupSize caps the work-group size of kernel launches. Larger
// groups reduce per-group candidates but raise per-group synchronization
// cost.
func WithMaxGroupSize(n int) Option {
	return func(o *options) {
		o.maxGroupSize = n
	}
}

// WithGroupParallelism bounds how many work-groups of one launch execute
// concurrently. Defaults to GOMAXPROCS.
func WithGroupParallelism(n int) Option {
	return func(o *options) {
		o.groupParallelism = n
	}
}

// WithBatchRows configures how many database rows one pipelined batch
// transfers and scores. The batch size is the trade-off between device
// memory footprint and per-batch overhead.
func WithBatchRows(rows int) Option {
	return func(o *options) {
		o.batchRows = rows
	}
}

// WithPipelineDepth configures the number of buffer sets the pipeline
// cycles through. 2 is double-buffering; higher values tolerate more
// transfer/execute jitter at the cost of memory.
func WithPipelineDepth(depth int) Option {
	return func(o *options) {
		o.depth = depth
	}
}

// WithGroupSize configures the number of rows one work-group scores and
// reduces in the fused kernel.
func WithGroupSize(n int) Option {
	return func(o *options) {
		o.groupSize = n
	}
}

// WithKeepScores additionally returns the full score array from every
// search. Intended for verification; it forfeits the bandwidth saving of
// the fused kernel.
func WithKeepScores(keep bool) Option {
	return func(o *options) {
		o.keepScores = keep
	}
}

// WithResources configures a resource controller bounding device memory,
// in-flight batches and transfer bandwidth.
//
// Example:
//
//	ctrl := resource.NewController(resource.Config{
//		DeviceMemoryBytes:  512 << 20,
//		MaxInFlightBatches: 2,
//	})
//	s, _ := flashsearch.New(flashsearch.WithResources(ctrl))
func WithResources(ctrl *resource.Controller) Option {
	return func(o *options) {
		o.resources = ctrl
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
