package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// State is the lifecycle state of a Dispatcher worker.
type State int32

const (
	StateNotStarted State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// DefaultSyncSlots is the default capacity of the executor used for Sync work.
const DefaultSyncSlots = 1

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithSyncSlots bounds the executor that runs Sync work off the worker goroutine.
func WithSyncSlots(n int64) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.syncSlots = n
		}
	}
}

// WithOnFatal registers a callback invoked once, from the worker goroutine,
// after a fatal failure has failed every pending job. fn must not wait on the
// dispatcher; calling Stop from fn deadlocks.
func WithOnFatal(fn func(error)) Option {
	return func(d *Dispatcher) { d.onFatal = fn }
}

// WithTracer overrides the tracer used for per-job spans.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// Dispatcher serializes device work onto a single worker goroutine.
//
// Stop drains: jobs queued before Stop is called still run, in order, before
// the worker exits. A Dispatcher is one-shot; it cannot be restarted.
type Dispatcher struct {
	logger    *slog.Logger
	tracer    trace.Tracer
	syncSlots int64
	onFatal   func(error)

	mu     sync.Mutex
	state  State
	queue  *queue
	exec   *semaphore.Weighted
	cancel context.CancelFunc
	done   chan struct{}
	fatal  error
}

// New creates a dispatcher in the NotStarted state.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger:    slog.New(slog.NewJSONHandler(io.Discard, nil)),
		tracer:    otel.Tracer("github.com/seantiz/keyturner/internal/dispatch"),
		syncSlots: DefaultSyncSlots,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the worker goroutine and returns once it is accepting jobs.
// Calling Start on a running dispatcher is a no-op. After a fatal failure
// Start returns that failure.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.fatal != nil {
		return d.fatal
	}
	switch d.state {
	case StateRunning:
		return nil
	case StateStopping, StateStopped:
		return ErrStopped
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.queue = newQueue()
	d.exec = semaphore.NewWeighted(d.syncSlots)
	d.cancel = cancel
	d.done = make(chan struct{})

	ready := make(chan struct{})
	go d.run(ctx, ready, d.done)
	<-ready

	d.state = StateRunning
	d.logger.Info("dispatcher started", "sync_slots", d.syncSlots)
	return nil
}

// Stop asks the worker to finish every queued job and blocks until it has
// exited. Calling Stop when the dispatcher is not running is a no-op.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	switch d.state {
	case StateNotStarted, StateStopped:
		d.mu.Unlock()
		return
	case StateStopping:
		done := d.done
		d.mu.Unlock()
		<-done
		return
	}

	d.state = StateStopping
	pending := d.queue.len()
	// A sealed queue means the worker already failed and is exiting.
	_ = d.queue.seal()
	done := d.done
	d.mu.Unlock()

	d.logger.Info("dispatcher stopping", "pending", pending)
	<-done

	d.mu.Lock()
	d.state = StateStopped
	d.cancel()
	d.mu.Unlock()
	d.logger.Info("dispatcher stopped")
}

// State returns the current lifecycle state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Err returns the fatal error that brought the worker down, if any.
func (d *Dispatcher) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fatal
}

// Pending returns the number of jobs waiting to run.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	q := d.queue
	d.mu.Unlock()
	if q == nil {
		return 0
	}
	return q.len()
}

// Submit enqueues w and returns its handle without waiting for it to run.
// It fails fast with a *SubmissionError when the dispatcher is not running.
func Submit[T any](d *Dispatcher, name string, w Work[T]) (*Handle[T], error) {
	if !w.valid() {
		return nil, &SubmissionError{Job: name, State: d.State(), Err: ErrInvalidWork}
	}
	j, h := newJob(name, w)
	if err := d.enqueue(j); err != nil {
		return nil, err
	}
	return h, nil
}

// Do submits w and waits for its result. ctx bounds the wait only.
func Do[T any](ctx context.Context, d *Dispatcher, name string, w Work[T]) (T, error) {
	h, err := Submit(d, name, w)
	if err != nil {
		var zero T
		return zero, err
	}
	return h.Wait(ctx)
}

func (d *Dispatcher) enqueue(j *job) error {
	d.mu.Lock()
	state, fatal, q := d.state, d.fatal, d.queue
	d.mu.Unlock()

	if fatal != nil {
		return &SubmissionError{Job: j.name, State: state, Err: fatal}
	}
	if state != StateRunning {
		return &SubmissionError{Job: j.name, State: state, Err: ErrNotRunning}
	}

	j.enqueuedAt = time.Now()
	// The worker may pop the job before push returns.
	queueDepth.Inc()
	if err := q.push(j); err != nil {
		queueDepth.Dec()
		return &SubmissionError{Job: j.name, State: d.State(), Err: ErrNotRunning}
	}

	jobsSubmitted.WithLabelValues(j.kind.String()).Inc()
	d.logger.Debug("job queued", "job_id", j.id, "job", j.name, "kind", j.kind.String())
	return nil
}

// run is the dispatcher loop. It only returns between jobs: on the stop
// sentinel or on a fatal failure.
func (d *Dispatcher) run(ctx context.Context, ready chan<- struct{}, done chan<- struct{}) {
	defer close(done)

	var current *job
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatcher worker panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			d.fail(current, panicError(r))
		}
	}()

	close(ready)
	for {
		j, err := d.queue.pop(ctx)
		if err != nil {
			d.fail(nil, fmt.Errorf("dequeue: %w", err))
			return
		}
		if j.kind == kindStop {
			return
		}
		queueDepth.Dec()

		current = j
		if err := d.execute(ctx, j); err != nil {
			d.fail(j, err)
			return
		}
		current = nil
	}
}

// execute runs one job to completion and resolves its handle. A non-nil
// return is a fatal failure of the dispatcher, not of the job.
func (d *Dispatcher) execute(ctx context.Context, j *job) error {
	ctx, span := d.tracer.Start(ctx, "dispatch.job", trace.WithAttributes(
		attribute.String("job.id", j.id),
		attribute.String("job.name", j.name),
		attribute.String("job.kind", j.kind.String()),
	))
	defer span.End()

	jobWait.Observe(time.Since(j.enqueuedAt).Seconds())
	start := time.Now()

	var (
		v   any
		err error
	)
	switch j.kind {
	case KindAsync:
		v, err = d.invoke(ctx, j)
	case KindSync:
		if aerr := d.exec.Acquire(ctx, 1); aerr != nil {
			return fmt.Errorf("acquire executor slot for job %s: %w", j.id, aerr)
		}
		v, err = d.offload(ctx, j)
	default:
		return fmt.Errorf("job %s (%s): unknown work kind %q", j.id, j.name, j.kind)
	}

	elapsed := time.Since(start)
	jobDuration.WithLabelValues(j.kind.String()).Observe(elapsed.Seconds())
	jobsCompleted.WithLabelValues(j.kind.String(), outcomeLabel(err)).Inc()

	if err != nil {
		err = &JobError{JobID: j.id, Job: j.name, Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.logger.Warn("job failed", "job_id", j.id, "job", j.name, "duration_ms", elapsed.Milliseconds(), "error", err)
	} else {
		d.logger.Debug("job completed", "job_id", j.id, "job", j.name, "duration_ms", elapsed.Milliseconds())
	}

	j.finish(v, err)
	return nil
}

// offload runs a Sync job on the bounded executor and waits for it. The slot
// must already be acquired; it is released when the job returns.
func (d *Dispatcher) offload(ctx context.Context, j *job) (any, error) {
	type outcome struct {
		v   any
		err error
	}
	out := make(chan outcome, 1)
	go func() {
		defer d.exec.Release(1)
		v, err := d.invoke(ctx, j)
		out <- outcome{v: v, err: err}
	}()
	o := <-out
	return o.v, o.err
}

// invoke calls the job, converting a panic into an error.
func (d *Dispatcher) invoke(ctx context.Context, j *job) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("job panicked", "job_id", j.id, "job", j.name, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			err = panicError(r)
		}
	}()
	return j.call(ctx)
}

// fail records a fatal error, fails the in-flight job and every queued job,
// and escalates through the OnFatal hook.
func (d *Dispatcher) fail(current *job, cause error) {
	fe := &FatalError{Cause: cause}

	d.mu.Lock()
	d.fatal = fe
	q := d.queue
	d.mu.Unlock()

	fatalTotal.Inc()
	d.logger.Error("dispatcher failed", "error", fe)

	failed := 0
	if current != nil && current.finish(nil, fe) {
		failed++
	}
	for _, j := range q.close() {
		if j.kind == kindStop {
			continue
		}
		queueDepth.Dec()
		if j.finish(nil, fe) {
			failed++
		}
	}
	d.logger.Error("failed pending jobs", "count", failed)

	if d.onFatal != nil {
		d.onFatal(fe)
	}
}
