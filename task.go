package forkjoin

import (
	"context"
	"sync"
	"sync/atomic"
)

// task is the non-generic scheduling core behind every Task[T]. Deques,
// workers, and the injector traffic in *task; the typed result lives on the
// Task[T] wrapper, written before the core becomes terminal.
type task struct { // betteralign:ignore
	state fastState

	// run claims the task and executes the compute function, reporting
	// whether this call won the claim. Set once, by New.
	run func(ctx context.Context) bool

	// done is closed exactly once, after err (and the typed result) are
	// written. It is the terminal signal joiners gate on; the channel close
	// orders those writes before any joiner's reads.
	done chan struct{}
	err  error

	// cancelRequested is the cooperative cancellation flag, observed via
	// Cancelled by running compute bodies.
	cancelRequested atomic.Bool

	// eagerCancel is copied from the pool configuration when the task is
	// scheduled, before it is published to any deque.
	eagerCancel bool

	mu       sync.Mutex
	children []*task
}

var claimableStates = []uint32{uint32(TaskForked), uint32(TaskPending), uint32(TaskUnscheduled)}

// claim attempts to take exclusive ownership of execution. Exactly one
// claimant wins; a stale deque entry whose task was already claimed (or
// cancelled) loses here and is skipped by the scheduling loop.
func (t *task) claim() bool {
	return t.state.transitionAny(claimableStates, uint32(TaskRunning))
}

func (t *task) terminal() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// finalize moves the task to a terminal state. Must be called at most once,
// by the claimant (or by cancel, which excludes claimants via CAS).
func (t *task) finalize(state TaskState, err error) {
	t.err = err
	t.state.store(uint32(state))
	close(t.done)
}

func (t *task) complete() {
	t.finalize(TaskCompleted, nil)
}

func (t *task) fail(err error) {
	t.finalize(TaskFailed, err)
	if t.eagerCancel {
		t.cancelChildren()
	}
}

// cancel moves a not-yet-running task to Cancelled, reporting whether it
// did. For a task already running it only sets the cooperative flag; for a
// task already terminal it is a no-op.
func (t *task) cancel(err error) bool {
	t.cancelRequested.Store(true)
	if !t.state.transitionAny(claimableStates, uint32(TaskCancelled)) {
		return false
	}
	t.err = err
	close(t.done)
	t.cancelChildren()
	return true
}

func (t *task) addChild(c *task) {
	t.mu.Lock()
	t.children = append(t.children, c)
	t.mu.Unlock()
}

// cancelChildren cancels any forked children that have not started. Running
// children are only flagged; by default (no eager cancellation) children are
// not touched at all - they run to completion and are reaped by Join, their
// results discarded by the caller.
func (t *task) cancelChildren() {
	t.mu.Lock()
	children := t.children
	t.children = nil
	t.mu.Unlock()
	for _, c := range children {
		c.cancel(ErrTaskCancelled)
	}
}

// Task is a unit of recursively-splittable work producing a T. Create one
// with New, schedule it with Fork (from a worker) or Submit (from outside
// the pool), and collect its result with Join.
//
// A Task must not be copied, and must not be scheduled more than once.
type Task[T any] struct {
	_    [0]func() // prevent copying
	core task
	fn   func(ctx context.Context) (T, error)
	res  T
}

// New creates an unscheduled task around the given compute function. A panic
// occurs if fn is nil.
//
// The ctx passed to fn carries the executing worker: fn may Fork subtasks,
// Join them, and call InvokeAll with it. fn should check Cancelled(ctx) at
// loop back-edges if it runs long.
func New[T any](fn func(ctx context.Context) (T, error)) *Task[T] {
	if fn == nil {
		panic(`forkjoin: nil compute function`)
	}
	x := &Task[T]{fn: fn}
	x.core.done = make(chan struct{})
	x.core.run = x.execute
	return x
}

// execute claims and runs the compute function, reporting whether this call
// won the claim. A panic in fn is recovered here, at the execution boundary:
// it fails this task only, and the scheduling loop above continues.
func (x *Task[T]) execute(ctx context.Context) bool {
	if !x.core.claim() {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			x.core.fail(&PanicError{Value: r})
		}
	}()
	res, err := x.fn(contextWithTask(ctx, &x.core))
	if err != nil {
		x.core.fail(err)
		return true
	}
	x.res = res
	x.core.complete()
	return true
}

// Fork schedules the task for asynchronous execution by pushing it onto the
// calling worker's own deque, and returns immediately. It must be called
// from a compute function's ctx; from any other context it returns
// ErrNotWorker. Scheduling a task twice returns ErrTaskAlreadyScheduled.
func (x *Task[T]) Fork(ctx context.Context) error {
	w := workerFromContext(ctx)
	if w == nil {
		return ErrNotWorker
	}
	if !x.core.state.tryTransition(uint32(TaskUnscheduled), uint32(TaskForked)) {
		if TaskState(x.core.state.load()) == TaskCancelled {
			return ErrTaskCancelled
		}
		return ErrTaskAlreadyScheduled
	}
	// Safe to write: the CAS excludes claimants until pushBottom publishes.
	x.core.eagerCancel = w.pool.eagerCancel
	if parent := taskFromContext(ctx); parent != nil {
		parent.addChild(&x.core)
	}
	w.deque.pushBottom(&x.core)
	w.forked.Add(1)
	w.pool.notify()
	return nil
}

// Join waits for the task's terminal state and returns its result.
//
// From a worker context, Join never idles the worker: while the target is
// incomplete the worker keeps executing other available work - its own deque
// first, then by stealing - parking only when no work exists anywhere. From
// a non-worker context, Join blocks the calling goroutine (honouring ctx
// cancellation, which abandons the wait without affecting the task).
//
// Joining an unscheduled task computes it inline. A failed task's original
// error is returned as-is (a recovered panic surfaces as *PanicError); a
// cancelled task surfaces ErrTaskCancelled, or ErrPoolShutdown if it was
// discarded by Close.
func (x *Task[T]) Join(ctx context.Context) (T, error) {
	if TaskState(x.core.state.load()) == TaskUnscheduled {
		// Never scheduled: compute inline (the claim keeps this race-safe
		// against a concurrent Fork or Submit).
		x.execute(ctx)
	}
	if w := workerFromContext(ctx); w != nil {
		w.help(ctx, &x.core)
	} else {
		select {
		case <-x.core.done:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
	<-x.core.done
	if TaskState(x.core.state.load()) == TaskCompleted {
		return x.res, nil
	}
	var zero T
	return zero, x.core.err
}

// Cancel requests cancellation. If the task has not started running it
// becomes Cancelled and will never run; Cancel reports whether that
// transition happened. If it is already running, only the cooperative flag
// is set - the compute body must observe Cancelled(ctx). A terminal task is
// unaffected.
func (x *Task[T]) Cancel() bool {
	return x.core.cancel(ErrTaskCancelled)
}

// Done returns a channel closed when the task reaches a terminal state,
// for select-based waiting outside the pool.
func (x *Task[T]) Done() <-chan struct{} {
	return x.core.done
}

// State returns the task's current lifecycle state. Like every concurrent
// observation it may be stale by the time it returns, except that terminal
// states are final.
func (x *Task[T]) State() TaskState {
	return TaskState(x.core.state.load())
}

// TryResult returns the task's result without waiting. ok is false while
// the task is not terminal, in which case res and err are zero.
func (x *Task[T]) TryResult() (res T, err error, ok bool) {
	if !x.core.terminal() {
		return res, nil, false
	}
	if TaskState(x.core.state.load()) == TaskCompleted {
		return x.res, nil, true
	}
	return res, x.core.err, true
}

// InvokeAll forks all but the last task, computes the last inline on the
// calling worker (avoiding one scheduling hop), then joins every task in
// order. All tasks are reaped before it returns; the first error observed
// (fork or join) is returned. It must be called from a worker context.
func InvokeAll[T any](ctx context.Context, tasks ...*Task[T]) error {
	if workerFromContext(ctx) == nil {
		return ErrNotWorker
	}
	for _, t := range tasks {
		if t == nil {
			return ErrNilTask
		}
	}
	if len(tasks) == 0 {
		return nil
	}

	var firstErr error
	last := len(tasks) - 1
	for _, t := range tasks[:last] {
		if err := t.Fork(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	tasks[last].execute(ctx)
	for _, t := range tasks {
		if _, err := t.Join(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
