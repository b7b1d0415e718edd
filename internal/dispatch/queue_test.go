package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestQueuePushNeverBlocks(t *testing.T) {
	q := newQueue()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			if err := q.push(&job{id: fmt.Sprint(i)}); err != nil {
				t.Errorf("push %d: %v", i, err)
				break
			}
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("push blocked without a consumer")
	}
	if q.len() != 10000 {
		t.Fatalf("len = %d, want 10000", q.len())
	}

	ctx := context.Background()
	for i := 0; i < 10000; i++ {
		j, err := q.pop(ctx)
		if err != nil {
			t.Fatalf("pop %d: %v", i, err)
		}
		if j.id != fmt.Sprint(i) {
			t.Fatalf("pop %d returned job %s", i, j.id)
		}
	}
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	q := newQueue()

	got := make(chan *job, 1)
	go func() {
		j, err := q.pop(context.Background())
		if err != nil {
			t.Errorf("pop: %v", err)
			return
		}
		got <- j
	}()

	select {
	case <-got:
		t.Fatal("pop returned on an empty queue")
	case <-time.After(20 * time.Millisecond):
	}

	if err := q.push(&job{id: "a"}); err != nil {
		t.Fatalf("push: %v", err)
	}
	select {
	case j := <-got:
		if j.id != "a" {
			t.Errorf("pop = %s, want a", j.id)
		}
	case <-time.After(time.Second):
		t.Fatal("pop was not woken by push")
	}
}

func TestQueuePopHonoursContext(t *testing.T) {
	q := newQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := q.pop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("pop error = %v, want DeadlineExceeded", err)
	}
}

func TestQueueSealOrdersSentinelLast(t *testing.T) {
	q := newQueue()
	_ = q.push(&job{id: "a", kind: KindSync})
	_ = q.push(&job{id: "b", kind: KindAsync})

	if err := q.seal(); err != nil {
		t.Fatalf("seal: %v", err)
	}
	if err := q.push(&job{id: "c"}); !errors.Is(err, errQueueClosed) {
		t.Errorf("push after seal error = %v, want errQueueClosed", err)
	}
	if err := q.seal(); !errors.Is(err, errQueueClosed) {
		t.Errorf("second seal error = %v, want errQueueClosed", err)
	}

	ctx := context.Background()
	for _, want := range []string{"a", "b", "stop"} {
		j, err := q.pop(ctx)
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		if j.id != want {
			t.Errorf("pop = %s, want %s", j.id, want)
		}
	}
}

func TestQueueCloseReturnsRemaining(t *testing.T) {
	q := newQueue()
	_ = q.push(&job{id: "a"})
	_ = q.push(&job{id: "b"})

	rest := q.close()
	if len(rest) != 2 || rest[0].id != "a" || rest[1].id != "b" {
		t.Fatalf("close returned %v, want [a b]", rest)
	}
	if err := q.push(&job{id: "c"}); !errors.Is(err, errQueueClosed) {
		t.Errorf("push after close error = %v, want errQueueClosed", err)
	}
}
