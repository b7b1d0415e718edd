package dispatch

import "context"

// Kind tags the two variants of Work.
type Kind uint8

const (
	kindInvalid Kind = iota
	// KindSync is blocking work executed off the worker goroutine.
	KindSync
	// KindAsync is context-aware work executed on the worker goroutine.
	KindAsync

	// kindStop is the shutdown sentinel; it never carries work.
	kindStop
)

func (k Kind) String() string {
	switch k {
	case KindSync:
		return "sync"
	case KindAsync:
		return "async"
	case kindStop:
		return "stop"
	default:
		return "invalid"
	}
}

// Work is a unit of device logic producing a T. Build it with Sync or Async;
// the zero value is rejected by Submit.
type Work[T any] struct {
	kind  Kind
	sync  func() (T, error)
	async func(ctx context.Context) (T, error)
}

// Sync wraps a blocking call. The dispatcher runs it on the bounded executor
// and waits for it before taking the next job.
func Sync[T any](fn func() (T, error)) Work[T] {
	return Work[T]{kind: KindSync, sync: fn}
}

// Async wraps a call that honours ctx. The dispatcher runs it directly on the
// worker goroutine with the worker's context.
func Async[T any](fn func(ctx context.Context) (T, error)) Work[T] {
	return Work[T]{kind: KindAsync, async: fn}
}

// Kind reports which variant w is.
func (w Work[T]) Kind() Kind {
	return w.kind
}

func (w Work[T]) valid() bool {
	switch w.kind {
	case KindSync:
		return w.sync != nil
	case KindAsync:
		return w.async != nil
	default:
		return false
	}
}

func (w Work[T]) call(ctx context.Context) (T, error) {
	if w.kind == KindSync {
		return w.sync()
	}
	return w.async(ctx)
}
