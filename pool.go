package forkjoin

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
)

// Pool owns a fixed set of workers and the external submission entry point.
// Instances must be created with NewPool; the zero value is not usable.
//
// Shutdown or Close should be called when the pool is no longer needed.
type Pool struct { // betteralign:ignore
	// Prevent copying
	_ [0]func()

	workers  []*worker
	injector injector

	// state is the PoolState lifecycle machine.
	state fastState

	// active counts workers currently holding (or scanning for) a task.
	// Incremented before popping, decremented after execution; the
	// termination scan is only trusted while this reads zero.
	active atomic.Int64

	submitted atomic.Uint64

	wg       sync.WaitGroup
	wakeCh   chan struct{}
	termCh   chan struct{}
	termOnce sync.Once

	// baseCtx is the root of every worker context; cancel fires on Close.
	baseCtx context.Context
	cancel  context.CancelFunc

	logger  *logiface.Logger[logiface.Event]
	metrics *Metrics

	dequeCapacity int
	stealBackoff  time.Duration
	eagerCancel   bool
}

// NewPool spawns a pool of workers, each running the scheduling loop, and
// returns a handle. See the With* options for configuration; the defaults
// give one worker per logical CPU.
func NewPool(opts ...Option) (*Pool, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	p := &Pool{
		wakeCh:        make(chan struct{}, cfg.workerCount),
		termCh:        make(chan struct{}),
		logger:        cfg.logger,
		dequeCapacity: cfg.dequeCapacity,
		stealBackoff:  cfg.stealBackoff,
		eagerCancel:   cfg.eagerCancel,
	}
	if cfg.metricsEnabled {
		p.metrics = &Metrics{}
	}
	p.baseCtx, p.cancel = context.WithCancel(context.Background())

	p.workers = make([]*worker, cfg.workerCount)
	for i := range p.workers {
		p.workers[i] = newWorker(i, p)
	}
	for _, w := range p.workers {
		p.wg.Add(1)
		go w.run(contextWithWorker(p.baseCtx, w))
	}

	if e := p.logger.Debug(); e.Enabled() {
		e.Int(`workers`, cfg.workerCount).Dur(`stealBackoff`, cfg.stealBackoff).Log(`pool started`)
	}
	return p, nil
}

// Submit schedules a root task from outside the pool, returning the task as
// its own join handle. It must not be used from inside a compute function -
// workers fork instead - and uses a separate, mutex-guarded injection queue
// rather than any worker's deque, which only its owner may push to.
//
// Returns ErrPoolShutdown after Shutdown or Close, and
// ErrTaskAlreadyScheduled if the task was already forked or submitted.
func Submit[T any](p *Pool, t *Task[T]) (*Task[T], error) {
	if t == nil {
		return nil, ErrNilTask
	}
	if PoolState(p.state.load()) != PoolRunning {
		return nil, ErrPoolShutdown
	}
	if !t.core.state.tryTransition(uint32(TaskUnscheduled), uint32(TaskPending)) {
		if TaskState(t.core.state.load()) == TaskCancelled {
			return nil, ErrTaskCancelled
		}
		return nil, ErrTaskAlreadyScheduled
	}
	t.core.eagerCancel = p.eagerCancel
	p.injector.push(&t.core)
	p.submitted.Add(1)
	p.notify()
	// A Close racing the push above may already have drained the injector;
	// cancelling the task (which only succeeds if no worker claimed it)
	// keeps the submit-after-shutdown contract exact.
	if p.closed() && t.core.cancel(ErrPoolShutdown) {
		return nil, ErrPoolShutdown
	}
	return t, nil
}

// Invoke submits the task and blocks until it completes, returning its
// result. Intended for external callers; ctx bounds the wait only, not the
// task itself.
func Invoke[T any](ctx context.Context, p *Pool, t *Task[T]) (T, error) {
	if _, err := Submit(p, t); err != nil {
		var zero T
		return zero, err
	}
	return t.Join(ctx)
}

// Shutdown gracefully stops the pool: no further submissions are accepted,
// queued and in-flight tasks run to completion, and Shutdown returns once
// every worker has exited. Calling it again (or after Close) just waits.
// If ctx expires first, the pool is forcibly closed - discarding tasks that
// have not started - and ctx's error is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	if p.state.tryTransition(uint32(PoolRunning), uint32(PoolDraining)) {
		if e := p.logger.Debug(); e.Enabled() {
			e.Log(`pool draining`)
		}
	}
	p.notifyAll()
	p.startTermWatcher()
	select {
	case <-p.termCh:
		p.state.tryTransition(uint32(PoolDraining), uint32(PoolClosed))
		return nil
	case <-ctx.Done():
		_ = p.Close()
		return ctx.Err()
	}
}

// Close immediately stops the pool. Running tasks are never aborted - the
// worker finishes its current task, and any joins that task is blocked on
// are driven to completion - but queued tasks that have not started are
// cancelled with ErrPoolShutdown, unblocking their joiners. Safe to call
// multiple times.
func (p *Pool) Close() error {
	if p.state.transitionAny([]uint32{uint32(PoolRunning), uint32(PoolDraining)}, uint32(PoolClosed)) {
		if e := p.logger.Debug(); e.Enabled() {
			e.Log(`pool closing`)
		}
	}
	p.cancel()
	p.notifyAll()
	p.startTermWatcher()
	<-p.termCh
	p.injector.drainCancel(ErrPoolShutdown)
	return nil
}

// State returns the pool's lifecycle state.
func (p *Pool) State() PoolState {
	return PoolState(p.state.load())
}

// NumWorkers returns the number of workers.
func (p *Pool) NumWorkers() int {
	return len(p.workers)
}

// Metrics returns the pool's latency metrics, or nil unless WithMetrics was
// enabled.
func (p *Pool) Metrics() *Metrics {
	return p.metrics
}

// Stats returns a snapshot of pool and per-worker counters. Queue depths
// are advisory; they may be stale the moment the call returns.
func (p *Pool) Stats() Stats {
	s := Stats{
		State:          p.State(),
		Submitted:      p.submitted.Load(),
		QueuedExternal: p.injector.len(),
		Workers:        make([]WorkerStats, len(p.workers)),
	}
	for i, w := range p.workers {
		ws := WorkerStats{
			ID:          w.id,
			State:       WorkerState(w.state.load()),
			Executed:    w.executed.Load(),
			Failed:      w.failed.Load(),
			Stolen:      w.stolen.Load(),
			Forked:      w.forked.Load(),
			StealMisses: w.stealMiss.Load(),
			QueueLen:    w.deque.len(),
		}
		s.Workers[i] = ws
		s.Executed += ws.Executed
		s.Failed += ws.Failed
		s.Steals += ws.Stolen
		s.Forked += ws.Forked
	}
	return s
}

// shutdownRequested reports whether Shutdown or Close has been invoked.
func (p *Pool) shutdownRequested() bool {
	return PoolState(p.state.load()) != PoolRunning
}

func (p *Pool) closed() bool {
	return PoolState(p.state.load()) == PoolClosed
}

// quiescent reports whether no worker is active and every queue was
// observed empty in this scan. Workers only trust it for termination when
// shutdown was requested, and the active counter covers the window between
// popping and executing, so a worker about to fork is never missed.
func (p *Pool) quiescent() bool {
	if p.active.Load() != 0 {
		return false
	}
	if p.injector.len() != 0 {
		return false
	}
	for _, w := range p.workers {
		if w.deque.len() != 0 {
			return false
		}
	}
	return true
}

// notify wakes at most one parked worker.
func (p *Pool) notify() {
	select {
	case p.wakeCh <- struct{}{}:
	default:
	}
}

// notifyAll wakes every parked worker.
func (p *Pool) notifyAll() {
	for range p.workers {
		select {
		case p.wakeCh <- struct{}{}:
		default:
			return
		}
	}
}

func (p *Pool) startTermWatcher() {
	p.termOnce.Do(func() {
		go func() {
			p.wg.Wait()
			close(p.termCh)
		}()
	})
}

// injector is the external submission queue: a multi-producer FIFO each
// worker polls after its own deque and before stealing. A plain mutex is
// deliberate - external submission is not the hot path, and multi-producer
// push is incompatible with the deques' single-owner bottom discipline.
type injector struct {
	mu   sync.Mutex
	head int
	q    []*task
}

func (in *injector) push(t *task) {
	in.mu.Lock()
	in.q = append(in.q, t)
	in.mu.Unlock()
}

func (in *injector) poll() *task {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.head >= len(in.q) {
		in.head = 0
		in.q = in.q[:0]
		return nil
	}
	t := in.q[in.head]
	in.q[in.head] = nil
	in.head++
	return t
}

func (in *injector) len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.q) - in.head
}

// drainCancel cancels everything still queued.
func (in *injector) drainCancel(err error) {
	for {
		t := in.poll()
		if t == nil {
			return
		}
		t.cancel(err)
	}
}
