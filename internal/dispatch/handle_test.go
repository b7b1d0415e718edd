package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestHandleResultPending(t *testing.T) {
	h := newHandle[int]("h1")

	if h.Resolved() {
		t.Fatal("new handle reports resolved")
	}
	if _, err := h.Result(); !errors.Is(err, ErrPending) {
		t.Errorf("Result error = %v, want ErrPending", err)
	}
	if h.ID() != "h1" {
		t.Errorf("ID = %q, want h1", h.ID())
	}
}

func TestHandleCompleteWakesWaiter(t *testing.T) {
	h := newHandle[string]("h1")

	got := make(chan string, 1)
	go func() {
		v, _ := h.Wait(context.Background())
		got <- v
	}()

	time.Sleep(5 * time.Millisecond)
	h.complete("done", nil)

	select {
	case v := <-got:
		if v != "done" {
			t.Errorf("Wait = %q, want done", v)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken")
	}
	if !h.Resolved() {
		t.Error("handle not resolved after complete")
	}
}

func TestHandleFailure(t *testing.T) {
	h := newHandle[int]("h1")
	boom := errors.New("boom")
	h.complete(0, boom)

	if err := h.Err(); !errors.Is(err, boom) {
		t.Errorf("Err = %v, want boom", err)
	}
	if _, err := h.Result(); !errors.Is(err, boom) {
		t.Errorf("Result error = %v, want boom", err)
	}
}

func TestHandleDoubleCompletePanics(t *testing.T) {
	h := newHandle[int]("h1")
	h.complete(1, nil)

	defer func() {
		r := recover()
		if r != ErrAlreadyResolved {
			t.Errorf("recover() = %v, want ErrAlreadyResolved", r)
		}
		if v, _ := h.Result(); v != 1 {
			t.Errorf("value after second complete = %d, want 1", v)
		}
	}()
	h.complete(2, nil)
}

func TestJobFinishOnce(t *testing.T) {
	j, h := newJob("once", Sync(func() (int, error) { return 0, nil }))

	if !j.finish(4, nil) {
		t.Fatal("first finish returned false")
	}
	if j.finish(5, errors.New("late")) {
		t.Error("second finish returned true")
	}
	if v, err := h.Result(); err != nil || v != 4 {
		t.Errorf("Result = (%d, %v), want (4, nil)", v, err)
	}
}

func TestJobNilInterfaceResult(t *testing.T) {
	j, h := newJob("nil-result", Sync(func() (error, error) { return nil, nil }))
	j.finish(nil, nil)

	v, err := h.Result()
	if err != nil || v != nil {
		t.Errorf("Result = (%v, %v), want (nil, nil)", v, err)
	}
}
