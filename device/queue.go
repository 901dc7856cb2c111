package device

import (
	"context"
	"sync"
)

type command struct {
	name string
	deps []*Event
	evt  *Event
	run  func() error
}

// Queue is a FIFO command queue. Commands enqueued on the same queue execute
// in order relative to each other; commands on different queues are only
// ordered through their event dependencies.
//
// Enqueued commands are staged host-side until Flush hands them to the
// queue worker. Enqueue and Flush never block on device progress.
type Queue struct {
	name string
	ctx  *Context

	mu        sync.Mutex
	cond      *sync.Cond
	staged    []*command // enqueued, not yet flushed
	submitted []*command // flushed, waiting for the worker
	last      *Event     // most recently flushed command
	closed    bool

	workerDone chan struct{}
}

func newQueue(name string, ctx *Context) *Queue {
	q := &Queue{
		name:       name,
		ctx:        ctx,
		workerDone: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.worker()
	return q
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

func (q *Queue) enqueue(name string, deps []*Event, run func() error) (*Event, error) {
	evt := newEvent(name, q)

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	q.staged = append(q.staged, &command{
		name: name,
		deps: deps,
		evt:  evt,
		run:  run,
	})
	return evt, nil
}

// Flush submits all staged commands to the queue worker. It guarantees the
// commands have been accepted without waiting for their completion.
func (q *Queue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.flushLocked()
}

func (q *Queue) flushLocked() {
	if len(q.staged) == 0 {
		return
	}
	q.submitted = append(q.submitted, q.staged...)
	q.last = q.staged[len(q.staged)-1].evt
	q.staged = q.staged[:0]
	q.cond.Broadcast()
}

// Finish flushes the queue and blocks until every submitted command has
// completed. This is the hard synchronization point of the protocol; it
// returns the error of the last command, if any.
func (q *Queue) Finish(ctx context.Context) error {
	q.mu.Lock()
	q.flushLocked()
	last := q.last
	q.mu.Unlock()

	if last == nil {
		return nil
	}
	return last.Wait(ctx)
}

// Close flushes remaining commands, waits for the worker to drain and marks
// the queue closed. Further enqueues fail with ErrQueueClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.workerDone
		return
	}
	q.flushLocked()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()

	<-q.workerDone
}

func (q *Queue) worker() {
	defer close(q.workerDone)

	for {
		q.mu.Lock()
		for len(q.submitted) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.submitted) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		cmd := q.submitted[0]
		q.submitted = q.submitted[1:]
		q.mu.Unlock()

		if err := waitDeps(cmd.name, cmd.deps); err != nil {
			cmd.evt.complete(err)
			continue
		}
		cmd.evt.complete(cmd.run())
	}
}
