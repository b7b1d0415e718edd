package dispatch

import (
	"context"
	"sync/atomic"
)

// Handle is the one-shot completion cell returned by Submit. It is written
// exactly once by the dispatcher worker and may be read from any goroutine.
type Handle[T any] struct {
	id       string
	done     chan struct{}
	resolved atomic.Bool

	// value and err are written before done is closed and read only after.
	value T
	err   error
}

func newHandle[T any](id string) *Handle[T] {
	return &Handle[T]{id: id, done: make(chan struct{})}
}

// ID returns the identifier of the job this handle belongs to.
func (h *Handle[T]) ID() string {
	return h.id
}

// Done returns a channel that is closed once the job has finished.
func (h *Handle[T]) Done() <-chan struct{} {
	return h.done
}

// Resolved reports whether the job has finished, successfully or not.
func (h *Handle[T]) Resolved() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Result returns the outcome without blocking. It returns ErrPending while
// the job has not finished.
func (h *Handle[T]) Result() (T, error) {
	if !h.Resolved() {
		var zero T
		return zero, ErrPending
	}
	return h.value, h.err
}

// Err blocks until the job finishes and returns its error, if any.
func (h *Handle[T]) Err() error {
	<-h.done
	return h.err
}

// Wait blocks until the job finishes or ctx is done. Abandoning the wait does
// not cancel the job; it still runs and resolves the handle.
func (h *Handle[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-h.done:
		return h.value, h.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// complete fulfils the handle. A second call is a programming error and panics.
func (h *Handle[T]) complete(v T, err error) {
	if !h.resolved.CompareAndSwap(false, true) {
		panic(ErrAlreadyResolved)
	}
	h.value = v
	h.err = err
	close(h.done)
}
