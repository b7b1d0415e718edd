package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/seantiz/keyturner/internal/engine"
)

type countingRefresher struct {
	calls atomic.Int32
	err   error
}

func (c *countingRefresher) ListPaired(context.Context) ([]engine.DeviceStatus, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return []engine.DeviceStatus{
		{Address: "54:D2:72:00:00:01", IsReachable: true},
		{Address: "54:D2:72:00:00:02"},
	}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestNewRejectsInvalidSchedule(t *testing.T) {
	if _, err := New("every tuesday", &countingRefresher{}, discardLogger()); err == nil {
		t.Error("New accepted an invalid schedule")
	}
}

func TestNewAcceptsDescriptors(t *testing.T) {
	for _, spec := range []string{"@every 15m", "*/5 * * * *", "@hourly"} {
		if _, err := New(spec, &countingRefresher{}, discardLogger()); err != nil {
			t.Errorf("New(%q): %v", spec, err)
		}
	}
}

func TestRefreshJobCallsRefresher(t *testing.T) {
	r := &countingRefresher{}
	j := &refreshJob{refresher: r, logger: discardLogger(), tracer: noop.NewTracerProvider().Tracer("test")}

	j.Run()
	r.err = errors.New("dispatcher unavailable")
	j.Run()

	if got := r.calls.Load(); got != 2 {
		t.Errorf("refresher calls = %d, want 2", got)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	s, err := New("@every 1h", &countingRefresher{}, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
