package kernel

import (
	"fmt"

	"github.com/hupe1980/flashsearch/device"
)

// TopKConfig describes a standalone top-K reduction launch.
type TopKConfig struct {
	// N is the number of candidates in the input score array.
	N int

	// K is the number of winners to select per work-group.
	K int

	// GroupSize is the number of candidates one work-group reduces.
	// Must be >= K.
	GroupSize int
}

// NumGroups returns how many work-groups the launch uses.
func (cfg TopKConfig) NumGroups() int { return ceilDiv(cfg.N, cfg.GroupSize) }

// OutLen returns the required length of the output arrays: K winners per
// work-group. A launch with a single group produces the final top-K.
func (cfg TopKConfig) OutLen() int { return cfg.NumGroups() * cfg.K }

// TopK builds the standalone top-K reduction kernel. Each work-group loads
// its slice of the score array as live candidates (lanes past the end hold
// a -Inf sentinel) and runs the tournament-by-halving reduction; the K
// winners of group g are written to outVals/outIdx at offset g*K in
// descending order.
//
// srcIdx optionally maps candidate positions to their original indices —
// this is how a second reduction pass over per-group winner arrays keeps
// global row identities. A nil srcIdx means position i has index i.
//
// Ties are broken by whichever candidate a merge step visits first; callers
// must not depend on tie order.
func TopK(cfg TopKConfig, scores *device.Buffer[float32], srcIdx *device.Buffer[uint32], outVals *device.Buffer[float32], outIdx *device.Buffer[uint32]) (*device.Kernel, device.Range, error) {
	if err := cfg.validate(scores, srcIdx, outVals, outIdx); err != nil {
		return nil, device.Range{}, err
	}

	n, k := cfg.N, cfg.K

	kern := &device.Kernel{
		Name: "topk",
		NewLocals: func() any {
			return newReduceLocals(cfg.GroupSize, k)
		},
		Func: func(wi *device.Item) {
			locals := wi.Locals().(*reduceLocals)
			lid := wi.LocalID(0)
			gid := wi.GlobalID(0)

			// Seed the candidate slots; every lane writes its slot before
			// the first barrier of the reduction makes them visible.
			if gid < n {
				locals.vals[lid] = scores.Data()[gid]
				if srcIdx != nil {
					locals.idxs[lid] = srcIdx.Data()[gid]
				} else {
					locals.idxs[lid] = uint32(gid)
				}
			} else {
				locals.vals[lid] = sentinelScore
				locals.idxs[lid] = sentinelIndex
			}
			wi.Barrier()

			groupTopK(wi, locals, k)

			if lid < k {
				out := wi.GroupID(0)*k + lid
				outVals.Data()[out] = locals.vals[lid]
				outIdx.Data()[out] = locals.idxs[lid]
			}
		},
	}

	r := device.Range{
		Global: [2]int{cfg.NumGroups() * cfg.GroupSize, 1},
		Local:  [2]int{cfg.GroupSize, 1},
	}
	return kern, r, nil
}

func (cfg TopKConfig) validate(scores *device.Buffer[float32], srcIdx *device.Buffer[uint32], outVals *device.Buffer[float32], outIdx *device.Buffer[uint32]) error {
	if cfg.N <= 0 {
		return fmt.Errorf("kernel: topk: invalid candidate count %d", cfg.N)
	}
	if cfg.K <= 0 {
		return fmt.Errorf("kernel: topk: invalid k %d", cfg.K)
	}
	if cfg.GroupSize < cfg.K {
		return fmt.Errorf("kernel: topk: group size %d smaller than k %d", cfg.GroupSize, cfg.K)
	}
	if scores.Len() < cfg.N {
		return fmt.Errorf("kernel: topk: score buffer too small: %d < %d", scores.Len(), cfg.N)
	}
	if srcIdx != nil && srcIdx.Len() < cfg.N {
		return fmt.Errorf("kernel: topk: index buffer too small: %d < %d", srcIdx.Len(), cfg.N)
	}
	if outVals.Len() < cfg.OutLen() || outIdx.Len() < cfg.OutLen() {
		return fmt.Errorf("kernel: topk: output buffers too small: need %d", cfg.OutLen())
	}
	return nil
}
