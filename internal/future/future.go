// Package future implements the write-once result handle that links tasks in
// an execution graph, plus the barrier used to gate fan-in stages.
package future

import (
	"context"
	"fmt"
	"sync"
)

// State is the lifecycle position of a Future.
type State int32

const (
	// Pending means the owning task has not reached a terminal state yet.
	Pending State = iota
	// Resolved means the owning task completed and published a value.
	Resolved
	// Failed means the owning task failed and published an error.
	Failed
)

// String returns a human-readable state name for logs.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Resolved:
		return "resolved"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Future is a write-once, read-many handle to a task's eventual result.
// Exactly one writer (the owning task) resolves or fails it; any number of
// dependents may await or subscribe concurrently. Waiters are notified by
// closing the done channel and firing subscriber callbacks, so there is no
// polling anywhere in the engine.
type Future struct {
	taskID string

	mu          sync.Mutex
	state       State
	value       any
	err         error
	subscribers []func()

	done chan struct{}
}

// New creates a pending Future owned by the task with the given id.
func New(taskID string) *Future {
	return &Future{
		taskID: taskID,
		done:   make(chan struct{}),
	}
}

// TaskID returns the id of the task that owns this future.
func (f *Future) TaskID() string {
	return f.taskID
}

// State reports the current lifecycle state.
func (f *Future) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Resolve transitions the future to Resolved and wakes every waiter.
// Resolving a future twice is a graph-construction bug, not a runtime
// condition, so it panics.
func (f *Future) Resolve(value any) {
	f.settle(Resolved, value, nil)
}

// Fail transitions the future to Failed and wakes every waiter. Failing an
// already-terminal future panics for the same reason Resolve does.
func (f *Future) Fail(err error) {
	if err == nil {
		panic(fmt.Sprintf("future: Fail called with nil error for task %q", f.taskID))
	}
	f.settle(Failed, nil, err)
}

func (f *Future) settle(state State, value any, err error) {
	f.mu.Lock()
	if f.state != Pending {
		f.mu.Unlock()
		panic(fmt.Sprintf("future: double resolution of task %q (already %s)", f.taskID, f.state))
	}
	f.state = state
	f.value = value
	f.err = err
	subs := f.subscribers
	f.subscribers = nil
	f.mu.Unlock()

	close(f.done)
	for _, fn := range subs {
		fn()
	}
}

// Await blocks until the future is terminal or the context is cancelled.
// On Resolved it returns the published value; on Failed it returns the
// publishing error. It is safe for any number of goroutines to await the
// same future.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == Failed {
		return nil, f.err
	}
	return f.value, nil
}

// Subscribe registers fn to run once the future reaches a terminal state.
// If the future is already terminal, fn runs immediately on the calling
// goroutine. The engine uses this to decrement dependency counters without
// parking a goroutine per edge.
func (f *Future) Subscribe(fn func()) {
	f.mu.Lock()
	if f.state == Pending {
		f.subscribers = append(f.subscribers, fn)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	fn()
}

// Value returns the published value and error of a terminal future. Calling
// it on a pending future is an engine bug and panics.
func (f *Future) Value() (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == Pending {
		panic(fmt.Sprintf("future: Value read before resolution of task %q", f.taskID))
	}
	if f.state == Failed {
		return nil, f.err
	}
	return f.value, nil
}
