package kernel

import (
	"fmt"

	"github.com/hupe1980/flashsearch/device"
)

// ScoreConfig describes a score kernel launch.
type ScoreConfig struct {
	// Rows and Cols are the extents of the row-major matrix.
	Rows int
	Cols int

	// RowsPerGroup is the number of matrix rows one work-group owns.
	RowsPerGroup int

	// ColLanes is the number of lanes striding the column dimension per
	// row. Must be a power of two because the partial sums are combined by
	// a halving tree reduction.
	ColLanes int
}

// DefaultScoreConfig mirrors the canonical 16×16 launch shape.
var DefaultScoreConfig = ScoreConfig{
	RowsPerGroup: 16,
	ColLanes:     16,
}

type scoreLocals struct {
	// partials holds one partial sum per (row, lane). The row stride is
	// padded by one element to keep lanes of neighboring rows apart.
	partials []float32
}

// Score builds the matrix-vector dot product kernel:
//
//	y[r] = Σ_i a[r*cols+i] * x[i]   for every row r < cfg.Rows
//
// Each work-item owns a (row, column-stripe) pair: ColLanes lanes
// accumulate strided partial sums for one row into group-local memory, a
// barrier publishes them and a tree reduction halves the contributing
// lanes per step until lane 0 of the row writes the final sum.
//
// The returned range pads the row dimension to a whole number of groups;
// out-of-range rows are guarded inside the kernel.
func Score(cfg ScoreConfig, a, x, y *device.Buffer[float32]) (*device.Kernel, device.Range, error) {
	if err := cfg.validate(a, x, y); err != nil {
		return nil, device.Range{}, err
	}

	rows, cols := cfg.Rows, cfg.Cols
	lanes := cfg.ColLanes
	stride := lanes + 1

	k := &device.Kernel{
		Name: "score",
		NewLocals: func() any {
			return &scoreLocals{partials: make([]float32, cfg.RowsPerGroup*stride)}
		},
		Func: func(wi *device.Item) {
			locals := wi.Locals().(*scoreLocals)
			row := wi.GlobalID(0)
			lr := wi.LocalID(0) // row within the group
			lc := wi.LocalID(1) // column stripe lane

			matrix := a.Data()
			vector := x.Data()

			var sum float32
			if row < rows {
				base := row * cols
				for i := lc; i < cols; i += lanes {
					sum += matrix[base+i] * vector[i]
				}
			}
			locals.partials[lr*stride+lc] = sum
			wi.Barrier()

			for s := lanes >> 1; s > 0; s >>= 1 {
				if lc < s {
					locals.partials[lr*stride+lc] += locals.partials[lr*stride+lc+s]
				}
				wi.Barrier()
			}

			if lc == 0 && row < rows {
				y.Data()[row] = locals.partials[lr*stride]
			}
		},
	}

	r := device.Range{
		Global: [2]int{ceilDiv(rows, cfg.RowsPerGroup) * cfg.RowsPerGroup, lanes},
		Local:  [2]int{cfg.RowsPerGroup, lanes},
	}
	return k, r, nil
}

func (cfg ScoreConfig) validate(a, x, y *device.Buffer[float32]) error {
	if cfg.Rows <= 0 || cfg.Cols <= 0 {
		return fmt.Errorf("kernel: score: invalid matrix extent %dx%d", cfg.Rows, cfg.Cols)
	}
	if cfg.RowsPerGroup <= 0 {
		return fmt.Errorf("kernel: score: invalid RowsPerGroup %d", cfg.RowsPerGroup)
	}
	if cfg.ColLanes <= 0 || cfg.ColLanes&(cfg.ColLanes-1) != 0 {
		return fmt.Errorf("kernel: score: ColLanes %d must be a power of two", cfg.ColLanes)
	}
	if a.Len() < cfg.Rows*cfg.Cols {
		return fmt.Errorf("kernel: score: matrix buffer too small: %d < %d", a.Len(), cfg.Rows*cfg.Cols)
	}
	if x.Len() < cfg.Cols {
		return fmt.Errorf("kernel: score: vector buffer too small: %d < %d", x.Len(), cfg.Cols)
	}
	if y.Len() < cfg.Rows {
		return fmt.Errorf("kernel: score: result buffer too small: %d < %d", y.Len(), cfg.Rows)
	}
	return nil
}
