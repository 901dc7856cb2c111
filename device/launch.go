package device

import (
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Range describes the global and per-group work-item grid of a launch.
// The second dimension may be left at 0 for one-dimensional kernels.
type Range struct {
	Global [2]int
	Local  [2]int
}

func (r Range) normalized() Range {
	if r.Global[1] == 0 {
		r.Global[1] = 1
	}
	if r.Local[1] == 0 {
		r.Local[1] = 1
	}
	return r
}

// Kernel is a device program entry point. Func runs once per work-item;
// NewLocals, when set, runs once per work-group and its result is shared by
// all work-items of that group (the group-local memory of the kernel).
type Kernel struct {
	Name      string
	NewLocals func() any
	Func      func(wi *Item)
}

// Item is the view a single work-item has of its launch.
type Item struct {
	group  *workGroup
	global [2]int
	local  [2]int
}

// GlobalID returns the work-item's global index in dimension d.
func (wi *Item) GlobalID(d int) int { return wi.global[d] }

// LocalID returns the work-item's index within its group in dimension d.
func (wi *Item) LocalID(d int) int { return wi.local[d] }

// GroupID returns the group index in dimension d.
func (wi *Item) GroupID(d int) int { return wi.group.id[d] }

// LocalSize returns the group extent in dimension d.
func (wi *Item) LocalSize(d int) int { return wi.group.r.Local[d] }

// GlobalSize returns the launch extent in dimension d.
func (wi *Item) GlobalSize(d int) int { return wi.group.r.Global[d] }

// Locals returns the group-local state created by Kernel.NewLocals.
func (wi *Item) Locals() any { return wi.group.locals }

// Barrier synchronizes all work-items of the group. Every work-item of the
// group must reach the barrier before any may proceed; kernels must place
// it outside divergent branches.
func (wi *Item) Barrier() { wi.group.barrier.await() }

// EnqueueKernel enqueues an NDRange launch of k on q. Global sizes must be
// divisible by the local sizes; kernels handle ragged inputs with guard
// conditions instead.
func (q *Queue) EnqueueKernel(k *Kernel, r Range, deps ...*Event) (*Event, error) {
	r = r.normalized()

	for d := 0; d < 2; d++ {
		if r.Global[d] <= 0 || r.Local[d] <= 0 {
			return nil, fmt.Errorf("device: kernel %q: invalid range %v", k.Name, r)
		}
		if r.Global[d]%r.Local[d] != 0 {
			return nil, fmt.Errorf("device: kernel %q: global size %d not divisible by local size %d",
				k.Name, r.Global[d], r.Local[d])
		}
	}
	if groupSize := r.Local[0] * r.Local[1]; groupSize > q.ctx.opts.MaxGroupSize {
		return nil, fmt.Errorf("device: kernel %q: work-group size %d exceeds device maximum %d",
			k.Name, groupSize, q.ctx.opts.MaxGroupSize)
	}

	return q.enqueue("kernel:"+k.Name, deps, func() error {
		return runLaunch(q.ctx, k, r)
	})
}

func runLaunch(ctx *Context, k *Kernel, r Range) error {
	groups := [2]int{r.Global[0] / r.Local[0], r.Global[1] / r.Local[1]}

	var g errgroup.Group
	g.SetLimit(ctx.opts.GroupParallelism)

	for gy := 0; gy < groups[1]; gy++ {
		for gx := 0; gx < groups[0]; gx++ {
			id := [2]int{gx, gy}
			g.Go(func() error {
				return runGroup(k, r, id)
			})
		}
	}
	return g.Wait()
}

type workGroup struct {
	id      [2]int
	r       Range
	locals  any
	barrier *groupBarrier

	mu    sync.Mutex
	fault error
}

func (wg *workGroup) abort(err error) {
	wg.mu.Lock()
	if wg.fault == nil {
		wg.fault = err
	}
	wg.mu.Unlock()
	wg.barrier.poison()
}

func runGroup(k *Kernel, r Range, id [2]int) error {
	size := r.Local[0] * r.Local[1]
	wg := &workGroup{
		id:      id,
		r:       r,
		barrier: newGroupBarrier(size),
	}
	if k.NewLocals != nil {
		wg.locals = k.NewLocals()
	}

	var lanes sync.WaitGroup
	lanes.Add(size)

	for ly := 0; ly < r.Local[1]; ly++ {
		for lx := 0; lx < r.Local[0]; lx++ {
			wi := &Item{
				group:  wg,
				global: [2]int{id[0]*r.Local[0] + lx, id[1]*r.Local[1] + ly},
				local:  [2]int{lx, ly},
			}
			go func() {
				defer lanes.Done()
				defer func() {
					if v := recover(); v != nil {
						if v == errLaneAborted {
							return
						}
						wg.abort(&ErrKernelPanic{Kernel: k.Name, Value: v})
					}
				}()
				k.Func(wi)
			}()
		}
	}

	lanes.Wait()
	return wg.fault
}
