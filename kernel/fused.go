package kernel

import (
	"fmt"

	"github.com/hupe1980/flashsearch/device"
)

// FusedConfig describes a fused score+top-K launch.
type FusedConfig struct {
	// Rows and Cols are the extents of the row-major matrix.
	Rows int
	Cols int

	// K is the number of winners to select per work-group.
	K int

	// GroupSize is the number of rows one work-group scores and reduces.
	// Must be >= K.
	GroupSize int

	// KeepScores additionally writes every row's score to the scores
	// buffer. Useful for verification; costs the full R-length write the
	// fused path otherwise avoids.
	KeepScores bool
}

// NumGroups returns how many work-groups the launch uses.
func (cfg FusedConfig) NumGroups() int { return ceilDiv(cfg.Rows, cfg.GroupSize) }

// OutLen returns the required length of the output arrays.
func (cfg FusedConfig) OutLen() int { return cfg.NumGroups() * cfg.K }

type fusedLocals struct {
	*reduceLocals
	query []float32
}

// FusedScoreTopK builds the fused kernel: each lane computes its row's dot
// product inline and immediately enters it as a (value, index) candidate of
// the group's tournament reduction. The full score array never leaves
// device-local state unless KeepScores is set.
//
// The query vector is staged into group-local memory by a cooperative
// strided load before any lane starts accumulating.
//
// mask optionally restricts candidacy to rows whose bit is set (one bit
// per row, word i holds rows [64i, 64i+64)). Masked-out rows are not
// scored and cannot win; with KeepScores their score slot is written as
// zero. A nil mask admits every row.
//
// scores may be nil when KeepScores is false. Indices in outIdx are
// batch-local row numbers; the caller adds the batch's global row offset.
func FusedScoreTopK(cfg FusedConfig, a, x *device.Buffer[float32], mask *device.Buffer[uint64], scores *device.Buffer[float32], outVals *device.Buffer[float32], outIdx *device.Buffer[uint32]) (*device.Kernel, device.Range, error) {
	if err := cfg.validate(a, x, mask, scores, outVals, outIdx); err != nil {
		return nil, device.Range{}, err
	}

	rows, cols, k := cfg.Rows, cfg.Cols, cfg.K
	groupSize := cfg.GroupSize

	kern := &device.Kernel{
		Name: "fused_score_topk",
		NewLocals: func() any {
			return &fusedLocals{
				reduceLocals: newReduceLocals(groupSize, k),
				query:        make([]float32, cols),
			}
		},
		Func: func(wi *device.Item) {
			locals := wi.Locals().(*fusedLocals)
			lid := wi.LocalID(0)
			row := wi.GlobalID(0)

			// Cooperative strided load of the query into local memory.
			vector := x.Data()
			for i := lid; i < cols; i += groupSize {
				locals.query[i] = vector[i]
			}
			wi.Barrier()

			val := sentinelScore
			idx := sentinelIndex
			if row < rows {
				if rowAllowed(mask, row) {
					matrix := a.Data()
					base := row * cols
					var sum float32
					for i := 0; i < cols; i++ {
						sum += matrix[base+i] * locals.query[i]
					}
					val = sum
					idx = uint32(row)
					if cfg.KeepScores {
						scores.Data()[row] = sum
					}
				} else if cfg.KeepScores {
					// The score buffer is reused across launches; a
					// filtered row must not read back a stale value.
					scores.Data()[row] = 0
				}
			}
			locals.vals[lid] = val
			locals.idxs[lid] = idx
			wi.Barrier()

			groupTopK(wi, locals.reduceLocals, k)

			if lid < k {
				out := wi.GroupID(0)*k + lid
				outVals.Data()[out] = locals.vals[lid]
				outIdx.Data()[out] = locals.idxs[lid]
			}
		},
	}

	r := device.Range{
		Global: [2]int{cfg.NumGroups() * groupSize, 1},
		Local:  [2]int{groupSize, 1},
	}
	return kern, r, nil
}

func rowAllowed(mask *device.Buffer[uint64], row int) bool {
	if mask == nil {
		return true
	}
	return mask.Data()[row>>6]&(1<<(uint(row)&63)) != 0
}

func (cfg FusedConfig) validate(a, x *device.Buffer[float32], mask *device.Buffer[uint64], scores *device.Buffer[float32], outVals *device.Buffer[float32], outIdx *device.Buffer[uint32]) error {
	if cfg.Rows <= 0 || cfg.Cols <= 0 {
		return fmt.Errorf("kernel: fused: invalid matrix extent %dx%d", cfg.Rows, cfg.Cols)
	}
	if cfg.K <= 0 {
		return fmt.Errorf("kernel: fused: invalid k %d", cfg.K)
	}
	if cfg.GroupSize < cfg.K {
		return fmt.Errorf("kernel: fused: group size %d smaller than k %d", cfg.GroupSize, cfg.K)
	}
	if a.Len() < cfg.Rows*cfg.Cols {
		return fmt.Errorf("kernel: fused: matrix buffer too small: %d < %d", a.Len(), cfg.Rows*cfg.Cols)
	}
	if x.Len() < cfg.Cols {
		return fmt.Errorf("kernel: fused: vector buffer too small: %d < %d", x.Len(), cfg.Cols)
	}
	if mask != nil && mask.Len() < ceilDiv(cfg.Rows, 64) {
		return fmt.Errorf("kernel: fused: mask buffer too small: %d < %d", mask.Len(), ceilDiv(cfg.Rows, 64))
	}
	if cfg.KeepScores && (scores == nil || scores.Len() < cfg.Rows) {
		return fmt.Errorf("kernel: fused: KeepScores requires a score buffer of %d", cfg.Rows)
	}
	if outVals.Len() < cfg.OutLen() || outIdx.Len() < cfg.OutLen() {
		return fmt.Errorf("kernel: fused: output buffers too small: need %d", cfg.OutLen())
	}
	return nil
}
