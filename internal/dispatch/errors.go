package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrNotRunning is returned by Submit outside the Running state.
	ErrNotRunning = errors.New("dispatcher is not running")

	// ErrStopped is returned by Start once the dispatcher has been stopped.
	ErrStopped = errors.New("dispatcher has been stopped")

	// ErrDispatcherFailed marks a systemic failure of the worker itself.
	ErrDispatcherFailed = errors.New("dispatcher failed")

	// ErrInvalidWork is returned by Submit for zero-value Work or a nil function.
	ErrInvalidWork = errors.New("invalid work")

	// ErrPending is returned by Handle.Result before the job has finished.
	ErrPending = errors.New("job still pending")

	// ErrAlreadyResolved is the panic value raised when a handle is fulfilled twice.
	ErrAlreadyResolved = errors.New("completion handle already resolved")
)

// SubmissionError reports a job that was rejected before it was enqueued.
type SubmissionError struct {
	Job   string
	State State
	Err   error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit %q (dispatcher %s): %v", e.Job, e.State, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// JobError wraps the error returned (or the panic raised) by a job's own work.
type JobError struct {
	JobID string
	Job   string
	Err   error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %q: %v", e.Job, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

// FatalError reports a failure of the dispatcher machinery. It satisfies
// errors.Is(err, ErrDispatcherFailed) and also unwraps to its cause.
type FatalError struct {
	Cause error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%v: %v", ErrDispatcherFailed, e.Cause)
}

func (e *FatalError) Unwrap() []error {
	return []error{ErrDispatcherFailed, e.Cause}
}

// panicError converts a recovered panic value into an error.
func panicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}
