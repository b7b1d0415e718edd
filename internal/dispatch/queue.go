package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/gammazero/deque"
)

var errQueueClosed = errors.New("job queue closed")

// queue is the unbounded multi-producer, single-consumer FIFO between
// submitters and the worker. push never blocks; pop blocks while empty.
type queue struct {
	mu     sync.Mutex
	items  deque.Deque[*job]
	closed bool

	// wake holds at most one pending notification for the consumer.
	wake chan struct{}
}

func newQueue() *queue {
	return &queue{wake: make(chan struct{}, 1)}
}

func (q *queue) push(j *job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errQueueClosed
	}
	q.items.PushBack(j)
	q.mu.Unlock()

	q.notify()
	return nil
}

// seal appends the stop sentinel and rejects every later push, so nothing can
// be queued behind it.
func (q *queue) seal() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errQueueClosed
	}
	q.items.PushBack(stopSentinel())
	q.closed = true
	q.mu.Unlock()

	q.notify()
	return nil
}

func (q *queue) pop(ctx context.Context) (*job, error) {
	for {
		q.mu.Lock()
		if q.items.Len() > 0 {
			j := q.items.PopFront()
			q.mu.Unlock()
			return j, nil
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// close rejects further pushes and returns whatever was still queued.
func (q *queue) close() []*job {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	rest := make([]*job, 0, q.items.Len())
	for q.items.Len() > 0 {
		rest = append(rest, q.items.PopFront())
	}
	return rest
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

func (q *queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
