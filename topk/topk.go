// Package topk accumulates per-batch top-K candidate lists into a global
// top-K result on the host.
package topk

// InvalidIndex marks a padded candidate slot produced by a reduction whose
// input had fewer live candidates than K. Accumulators ignore such slots.
const InvalidIndex = ^uint32(0)

// Candidate is one (global row, score) pair.
type Candidate struct {
	Index uint32
	Score float32
}

// Accumulator keeps the K highest-scoring candidates seen so far. It is a
// value-based min-heap keyed on score: the root is the weakest kept
// candidate, so a new candidate only enters if it beats the root.
//
// Accumulator is not safe for concurrent use; the pipeline folds batches
// from a single host goroutine.
type Accumulator struct {
	k     int
	items []Candidate
}

// NewAccumulator creates an accumulator selecting the k best candidates.
func NewAccumulator(k int) *Accumulator {
	return &Accumulator{
		k:     k,
		items: make([]Candidate, 0, k),
	}
}

// Len returns the number of candidates currently held.
func (a *Accumulator) Len() int { return len(a.items) }

// Offer considers a single candidate.
func (a *Accumulator) Offer(index uint32, score float32) {
	if index == InvalidIndex {
		return
	}

	if len(a.items) < a.k {
		a.items = append(a.items, Candidate{Index: index, Score: score})
		a.siftUp(len(a.items) - 1)
		return
	}

	if score <= a.items[0].Score {
		return
	}
	a.items[0] = Candidate{Index: index, Score: score}
	a.siftDown(0)
}

// Fold merges one batch's candidate arrays, translating batch-local row
// numbers to global row identifiers via rowOffset. vals and idxs must have
// equal length; sentinel slots are skipped.
func (a *Accumulator) Fold(vals []float32, idxs []uint32, rowOffset uint32) {
	for i, idx := range idxs {
		if idx == InvalidIndex {
			continue
		}
		a.Offer(rowOffset+idx, vals[i])
	}
}

// Results drains the accumulator and returns the kept candidates in
// descending score order as parallel arrays.
func (a *Accumulator) Results() (values []float32, indices []uint32) {
	n := len(a.items)
	values = make([]float32, n)
	indices = make([]uint32, n)

	for i := n - 1; i >= 0; i-- {
		c := a.pop()
		values[i] = c.Score
		indices[i] = c.Index
	}
	return values, indices
}

func (a *Accumulator) pop() Candidate {
	root := a.items[0]
	last := len(a.items) - 1
	a.items[0] = a.items[last]
	a.items = a.items[:last]
	if last > 0 {
		a.siftDown(0)
	}
	return root
}

func (a *Accumulator) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if a.items[i].Score >= a.items[p].Score {
			return
		}
		a.items[i], a.items[p] = a.items[p], a.items[i]
		i = p
	}
}

func (a *Accumulator) siftDown(i int) {
	n := len(a.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		min := l
		if r := l + 1; r < n && a.items[r].Score < a.items[l].Score {
			min = r
		}
		if a.items[min].Score >= a.items[i].Score {
			return
		}
		a.items[i], a.items[min] = a.items[min], a.items[i]
		i = min
	}
}
