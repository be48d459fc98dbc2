package dispatch

import (
	"context"
	"sync"
)

// Task is the managed side of an asynchronous operation: a write-once
// result slot with a completion signal. The native future bridge and
// RunDeferred both complete tasks.
type Task[T any] struct {
	mu     sync.Mutex
	done   chan struct{}
	result T
	err    error
}

// NewTask creates an incomplete task.
func NewTask[T any]() *Task[T] {
	return &Task[T]{done: make(chan struct{})}
}

// Completed creates an already-completed task.
func Completed[T any](v T, err error) *Task[T] {
	t := NewTask[T]()
	t.Complete(v, err)
	return t
}

// Complete resolves the task. The first call wins; subsequent calls are
// ignored, mirroring the at-most-once completion of the native future it
// usually mirrors.
func (t *Task[T]) Complete(v T, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	select {
	case <-t.done:
		return
	default:
	}
	t.result = v
	t.err = err
	close(t.done)
}

// Done reports whether the task has completed.
func (t *Task[T]) Done() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// C returns a channel closed on completion, for select loops.
func (t *Task[T]) C() <-chan struct{} { return t.done }

// Result returns the outcome. It must only be called after completion;
// calling it early returns the zero value and nil.
func (t *Task[T]) Result() (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.err
}

// Await blocks until the task completes or ctx is cancelled.
func (t *Task[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.Result()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
