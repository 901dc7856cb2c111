package kernel

import (
	"math"

	"github.com/hupe1980/flashsearch/device"
)

// sentinelScore pads unused candidate slots. It loses every comparison.
var sentinelScore = float32(math.Inf(-1))

// sentinelIndex marks a padded candidate slot.
const sentinelIndex = ^uint32(0)

// reduceLocals is the group-local memory of the top-K reduction: one
// candidate per lane plus merge scratch. Arrays are padded to a whole
// number of K-sized cells.
type reduceLocals struct {
	vals []float32
	idxs []uint32

	scratchV []float32
	scratchI []uint32
}

func newReduceLocals(groupSize, k int) *reduceLocals {
	padded := ceilDiv(groupSize, k) * k
	return &reduceLocals{
		vals:     make([]float32, padded),
		idxs:     make([]uint32, padded),
		scratchV: make([]float32, padded),
		scratchI: make([]uint32, padded),
	}
}

// groupTopK reduces the group's candidates (one per lane, already stored in
// l.vals/l.idxs) to the K best, left in slots [0, K) in descending order.
//
// Every lane of the group must call groupTopK: the barriers inside are
// reached unconditionally by all lanes regardless of whether the lane owns
// a cell in the current round.
func groupTopK(wi *device.Item, l *reduceLocals, k int) {
	lid := wi.LocalID(0)
	groupSize := wi.LocalSize(0)
	cells := ceilDiv(groupSize, k)

	// Pad the owner's own cell beyond the group size and sort its run. Only
	// cell owner lanes do work; everyone reaches the barrier.
	if lid%k == 0 {
		for i := max(lid, groupSize); i < lid+k; i++ {
			l.vals[i] = sentinelScore
			l.idxs[i] = sentinelIndex
		}
		sortRunDesc(l.vals[lid:lid+k], l.idxs[lid:lid+k])
	}
	wi.Barrier()

	// Tournament by halving over cells. Ceil semantics keep odd spans
	// correct: the upper ceil(span/2) cells are merged into the lower ones,
	// a middle cell without a partner passes through untouched.
	for span := cells; span > 1; {
		next := (span + 1) / 2
		cell := lid / k
		if lid%k == 0 && cell+next < span {
			mergeRunsDesc(
				l.vals[cell*k:cell*k+k], l.idxs[cell*k:cell*k+k],
				l.vals[(cell+next)*k:(cell+next)*k+k], l.idxs[(cell+next)*k:(cell+next)*k+k],
				l.scratchV[cell*k:cell*k+k], l.scratchI[cell*k:cell*k+k],
			)
		}
		wi.Barrier()
		span = next
	}
}

// sortRunDesc sorts one K-sized run in place, descending by value.
// Insertion sort: runs are short and the owner lane sorts serially.
func sortRunDesc(vals []float32, idxs []uint32) {
	for i := 1; i < len(vals); i++ {
		v, id := vals[i], idxs[i]
		j := i - 1
		for j >= 0 && vals[j] < v {
			vals[j+1], idxs[j+1] = vals[j], idxs[j]
			j--
		}
		vals[j+1], idxs[j+1] = v, id
	}
}

// mergeRunsDesc merges two descending runs of equal length, keeping the K
// best in a. scratch must be as long as a.
func mergeRunsDesc(aV []float32, aI []uint32, bV []float32, bI []uint32, scratchV []float32, scratchI []uint32) {
	i, j := 0, 0
	for n := 0; n < len(aV); n++ {
		if i < len(aV) && (j >= len(bV) || aV[i] >= bV[j]) {
			scratchV[n], scratchI[n] = aV[i], aI[i]
			i++
		} else {
			scratchV[n], scratchI[n] = bV[j], bI[j]
			j++
		}
	}
	copy(aV, scratchV)
	copy(aI, scratchI)
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
