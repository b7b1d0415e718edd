package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/seantiz/keyturner/internal/model"
)

// opFunc is the body of an operation. It may submit any number of dispatcher
// jobs and reports progress through rec.
type opFunc[T any] func(ctx context.Context, rec *recorder) (T, error)

type outcome[T any] struct {
	value T
	err   error
}

// start persists a pending operation and runs fn in the background. The
// returned channel yields fn's outcome once the operation record is final.
func start[T any](ctx context.Context, s *Service, address, action string, fn opFunc[T]) (*model.Operation, <-chan outcome[T], error) {
	op := &model.Operation{
		ID:        model.NewID(),
		Address:   address,
		Action:    action,
		Status:    model.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateOperation(ctx, op); err != nil {
		return nil, nil, fmt.Errorf("create operation: %w", err)
	}

	done := make(chan outcome[T], 1)
	opCopy := *op
	runCtx := context.WithoutCancel(ctx)
	s.wg.Go(func() {
		v, err := execute(runCtx, s, &opCopy, fn)
		done <- outcome[T]{value: v, err: err}
	})

	return op, done, nil
}

// await runs an operation and waits for its outcome. ctx bounds the wait only;
// an abandoned operation still runs to completion and is recorded.
func await[T any](ctx context.Context, s *Service, address, action string, fn opFunc[T]) (T, error) {
	var zero T
	_, done, err := start(ctx, s, address, action, fn)
	if err != nil {
		return zero, err
	}
	select {
	case o := <-done:
		return o.value, o.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// execute drives op through pending→running→completed/failed around fn.
func execute[T any](ctx context.Context, s *Service, op *model.Operation, fn opFunc[T]) (T, error) {
	defer s.broker.Close(op.ID)

	var zero T
	if err := s.store.UpdateOperationStatus(context.Background(), op.ID, model.StatusRunning); err != nil {
		s.logger.Error("failed to transition to running", "operation_id", op.ID, "error", err)
		s.finish(op, nil, nil, fmt.Errorf("failed to start: %w", err))
		return zero, err
	}
	started := time.Now().UTC()

	rec := &recorder{s: s, operationID: op.ID}
	if op.Address != "" {
		rec.emit("%s %s started", op.Action, op.Address)
	} else {
		rec.emit("%s started", op.Action)
	}

	v, err := fn(ctx, rec)
	if err != nil {
		rec.emit("%s failed: %s", op.Action, ErrorMessage(err))
		s.finish(op, &started, nil, err)
		return zero, err
	}

	result, mErr := json.Marshal(v)
	if mErr != nil {
		s.logger.Error("failed to encode operation result", "operation_id", op.ID, "error", mErr)
		result = nil
	}
	rec.emit("%s completed", op.Action)
	s.finish(op, &started, result, nil)
	return v, nil
}

// finish writes the final state of an operation. startedAt may be nil if the
// operation never started.
func (s *Service) finish(op *model.Operation, startedAt *time.Time, result json.RawMessage, err error) {
	now := time.Now().UTC()
	var durationMS int
	if startedAt != nil {
		durationMS = int(now.Sub(*startedAt).Milliseconds())
	}

	final := &model.Operation{
		ID:         op.ID,
		Status:     model.StatusCompleted,
		Result:     result,
		DurationMS: &durationMS,
		StartedAt:  startedAt,
		FinishedAt: &now,
	}
	if err != nil {
		final.Status = model.StatusFailed
		final.Error = ErrorMessage(err)
		s.logger.Warn("operation failed",
			"operation_id", op.ID, "action", op.Action, "address", op.Address, "error", err)
	} else {
		s.logger.Info("operation completed",
			"operation_id", op.ID, "action", op.Action, "address", op.Address, "duration_ms", durationMS)
	}

	if err := s.store.UpdateOperation(context.Background(), final); err != nil {
		s.logger.Error("failed to update operation", "operation_id", op.ID, "error", err)
	}
}

// recorder persists progress lines of one operation and publishes them to
// the broker.
type recorder struct {
	s           *Service
	operationID string
	seq         atomic.Int32
}

func (r *recorder) emit(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	seq := int(r.seq.Add(1) - 1)
	if err := r.s.store.InsertEvent(context.Background(), r.operationID, seq, line); err != nil {
		r.s.logger.Error("failed to persist operation event", "operation_id", r.operationID, "seq", seq, "error", err)
	}
	r.s.broker.Publish(model.OperationEvent{
		OperationID: r.operationID,
		Seq:         seq,
		Line:        line,
		CreatedAt:   time.Now().UTC(),
	})
}
