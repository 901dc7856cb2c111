package device

import (
	"context"
	"sync/atomic"
)

// Event tracks the completion of a single enqueued command. Events are the
// only mechanism for ordering commands across different queues.
type Event struct {
	name string
	q    *Queue
	done chan struct{}
	err  atomic.Pointer[error]
}

func newEvent(name string, q *Queue) *Event {
	return &Event{
		name: name,
		q:    q,
		done: make(chan struct{}),
	}
}

// Name returns the name of the command this event belongs to.
func (e *Event) Name() string { return e.name }

// Done returns a channel that is closed once the command has completed,
// successfully or not.
func (e *Event) Done() <-chan struct{} { return e.done }

// Err returns the command outcome. It must only be called after Done is
// closed; before completion it returns nil.
func (e *Event) Err() error {
	if p := e.err.Load(); p != nil {
		return *p
	}
	return nil
}

// Wait blocks until the command has completed and returns its outcome.
//
// Wait flushes the owning queue first: a command that was enqueued but
// never flushed would otherwise keep the caller blocked forever.
func (e *Event) Wait(ctx context.Context) error {
	if e.q != nil {
		e.q.Flush()
	}
	select {
	case <-e.done:
		return e.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Event) complete(err error) {
	if err != nil {
		e.err.Store(&err)
	}
	close(e.done)
}

// waitDeps blocks until all dependency events completed. The first failed
// dependency aborts the wait. Dependency queues are flushed so that a
// dependency enqueued but not yet flushed cannot deadlock the worker.
func waitDeps(cmdName string, deps []*Event) error {
	for _, dep := range deps {
		if dep == nil {
			continue
		}
		if dep.q != nil {
			dep.q.Flush()
		}
		<-dep.done
		if err := dep.Err(); err != nil {
			return &ErrDependencyFailed{Command: cmdName, cause: err}
		}
	}
	return nil
}
