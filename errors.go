package forkjoin

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrPoolShutdown is returned by Submit after Shutdown or Close has been
	// invoked, and surfaced from Join for tasks discarded by Close.
	ErrPoolShutdown = errors.New("forkjoin: pool has been shut down")

	// ErrNotWorker is returned when Fork or InvokeAll is called from a
	// context that does not belong to a pool worker.
	ErrNotWorker = errors.New("forkjoin: not called from a worker context")

	// ErrNilTask is returned when a nil task is submitted or forked.
	ErrNilTask = errors.New("forkjoin: nil task")

	// ErrTaskAlreadyScheduled is returned by Fork and Submit when the task
	// has already been forked, submitted, or executed. Task state only moves
	// forward; a task cannot be scheduled twice.
	ErrTaskAlreadyScheduled = errors.New("forkjoin: task already scheduled")

	// ErrTaskCancelled is surfaced from Join when the task was cancelled
	// before it started running.
	ErrTaskCancelled = errors.New("forkjoin: task cancelled")
)

// PanicError records a panic recovered at the task execution boundary. A
// panicking compute function fails its own task only; it never kills the
// worker, and never aborts sibling tasks.
type PanicError struct {
	// Value is the recovered panic value.
	Value any
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("forkjoin: task panicked: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is an error type,
// enabling use with [errors.Is] and [errors.As] through the cause chain.
// If the value is not an error (e.g. a string), returns nil.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
