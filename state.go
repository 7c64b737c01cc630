package forkjoin

import (
	"sync/atomic"
)

// TaskState represents the lifecycle state of a task.
//
// State Machine:
//
//	Unscheduled → Pending    [Submit]
//	Unscheduled → Forked     [Fork]
//	Unscheduled → Running    [inline execution via Join/InvokeAll]
//	Pending     → Running    [worker claims via CAS]
//	Forked      → Running    [worker claims via CAS]
//	Running     → Completed | Failed
//	Unscheduled | Pending | Forked → Cancelled  [Cancel, pool Close]
//
// Transitions are monotonic - no state is ever revisited. Claiming a task
// for execution is a CAS into Running; exactly one claimant wins, so a task
// observed by both its owner and a thief still executes exactly once.
type TaskState uint32

const (
	// TaskUnscheduled indicates the task has been created but not yet
	// forked or submitted.
	TaskUnscheduled TaskState = iota
	// TaskPending indicates the task is queued on the pool's external
	// injection queue.
	TaskPending
	// TaskForked indicates the task is queued on a worker's deque.
	TaskForked
	// TaskRunning indicates a worker has claimed the task and is executing
	// its compute function.
	TaskRunning
	// TaskCompleted indicates the compute function returned a result.
	TaskCompleted
	// TaskFailed indicates the compute function returned an error, or
	// panicked.
	TaskFailed
	// TaskCancelled indicates the task was cancelled before it started.
	TaskCancelled
)

// String returns a human-readable representation of the state.
func (s TaskState) String() string {
	switch s {
	case TaskUnscheduled:
		return "Unscheduled"
	case TaskPending:
		return "Pending"
	case TaskForked:
		return "Forked"
	case TaskRunning:
		return "Running"
	case TaskCompleted:
		return "Completed"
	case TaskFailed:
		return "Failed"
	case TaskCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Terminal returns true for Completed, Failed, and Cancelled.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// PoolState represents the lifecycle state of a pool.
type PoolState uint32

const (
	// PoolRunning indicates the pool accepts submissions.
	PoolRunning PoolState = iota
	// PoolDraining indicates Shutdown was requested; submissions are
	// rejected but queued and in-flight work runs to completion.
	PoolDraining
	// PoolClosed indicates the pool has stopped; remaining queued tasks
	// were discarded.
	PoolClosed
)

// String returns a human-readable representation of the state.
func (s PoolState) String() string {
	switch s {
	case PoolRunning:
		return "Running"
	case PoolDraining:
		return "Draining"
	case PoolClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// WorkerState represents what a worker is currently doing. It is advisory,
// exposed via WorkerStats for monitoring.
type WorkerState uint32

const (
	// WorkerIdle indicates the worker is parked, waiting for work.
	WorkerIdle WorkerState = iota
	// WorkerRunning indicates the worker is executing a task.
	WorkerRunning
	// WorkerStealing indicates the worker is scanning peers for work.
	WorkerStealing
	// WorkerTerminated indicates the worker's loop has exited.
	WorkerTerminated
)

// String returns a human-readable representation of the state.
func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "Idle"
	case WorkerRunning:
		return "Running"
	case WorkerStealing:
		return "Stealing"
	case WorkerTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// fastState is a lock-free state machine with cache-line padding, shared by
// tasks, workers, and the pool. Pure atomic CAS, no mutex, no transition
// validation - callers must only issue transitions the state machine allows.
type fastState struct { // betteralign:ignore
	_ [64]byte      //nolint:unused
	v atomic.Uint32 // state value
	_ [60]byte      //nolint:unused
}

// load returns the current state atomically.
func (s *fastState) load() uint32 {
	return s.v.Load()
}

// store atomically stores a new state. Only valid for irreversible
// transitions; use tryTransition for contended ones.
func (s *fastState) store(state uint32) {
	s.v.Store(state)
}

// tryTransition attempts to atomically transition from one state to another,
// reporting whether it succeeded.
func (s *fastState) tryTransition(from, to uint32) bool {
	return s.v.CompareAndSwap(from, to)
}

// transitionAny attempts the transition from each of validFrom in turn,
// reporting whether any succeeded.
func (s *fastState) transitionAny(validFrom []uint32, to uint32) bool {
	for _, from := range validFrom {
		if s.v.CompareAndSwap(from, to) {
			return true
		}
	}
	return false
}
