package device

import (
	"errors"
	"sync"
)

// errLaneAborted unwinds a work-item goroutine after its group was aborted.
// It is recovered by the lane runner and never escapes a launch.
var errLaneAborted = errors.New("device: lane aborted")

// groupBarrier is a reusable barrier for the work-items of one group.
type groupBarrier struct {
	mu       sync.Mutex
	cond     *sync.Cond
	size     int
	arrived  int
	gen      int
	poisoned bool
}

func newGroupBarrier(size int) *groupBarrier {
	b := &groupBarrier{size: size}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *groupBarrier) await() {
	b.mu.Lock()
	if b.poisoned {
		b.mu.Unlock()
		panic(errLaneAborted)
	}

	b.arrived++
	if b.arrived == b.size {
		b.arrived = 0
		b.gen++
		b.cond.Broadcast()
		b.mu.Unlock()
		return
	}

	gen := b.gen
	for gen == b.gen && !b.poisoned {
		b.cond.Wait()
	}
	poisoned := b.poisoned
	b.mu.Unlock()

	if poisoned {
		panic(errLaneAborted)
	}
}

// poison releases all waiting work-items and makes every further await
// unwind. Used when a work-item faults so the group cannot hang.
func (b *groupBarrier) poison() {
	b.mu.Lock()
	b.poisoned = true
	b.cond.Broadcast()
	b.mu.Unlock()
}
