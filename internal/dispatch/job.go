package dispatch

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

// job is the type-erased record that travels through the queue. Inputs are
// bound into call by the Work closure, so the record is immutable once built.
type job struct {
	id         string
	name       string
	kind       Kind
	enqueuedAt time.Time

	call   func(ctx context.Context) (any, error)
	settle func(v any, err error)

	settled atomic.Bool
}

func newJob[T any](name string, w Work[T]) (*job, *Handle[T]) {
	id := ulid.Make().String()
	h := newHandle[T](id)

	j := &job{
		id:   id,
		name: name,
		kind: w.kind,
		call: func(ctx context.Context) (any, error) {
			return w.call(ctx)
		},
		settle: func(v any, err error) {
			if err != nil {
				var zero T
				h.complete(zero, err)
				return
			}
			t, _ := v.(T)
			h.complete(t, nil)
		},
	}
	return j, h
}

// finish resolves the job's handle once; later calls report false.
func (j *job) finish(v any, err error) bool {
	if !j.settled.CompareAndSwap(false, true) {
		return false
	}
	j.settle(v, err)
	return true
}

func stopSentinel() *job {
	return &job{id: "stop", name: "stop", kind: kindStop}
}
