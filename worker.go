package forkjoin

import (
	"context"
	"math/rand/v2"
	"runtime"
	"sync/atomic"
	"time"
)

// spinMisses is the number of empty scan rounds a worker burns through with
// a bare yield before it starts sleeping between rounds.
const spinMisses = 4

// worker owns one deque and one goroutine running the scheduling loop.
type worker struct { // betteralign:ignore
	id    int
	pool  *Pool
	deque *deque
	rnd   *rand.Rand // victim selection; owner-goroutine only
	state fastState  // WorkerState, advisory

	executed  atomic.Uint64 // tasks this worker ran to a terminal state
	failed    atomic.Uint64 // subset of executed that Failed
	stolen    atomic.Uint64 // tasks acquired from peers
	forked    atomic.Uint64 // tasks pushed via Fork on this worker
	stealMiss atomic.Uint64 // full victim rounds that found nothing
}

func newWorker(id int, p *Pool) *worker {
	return &worker{
		id:    id,
		pool:  p,
		deque: newDeque(p.dequeCapacity),
		rnd:   rand.New(rand.NewPCG(uint64(id)+1, rand.Uint64())),
	}
}

// run is the scheduling loop. It executes local tasks bottom-first, falls
// back to the external injection queue, then steals, and parks with backoff
// when a full round finds nothing. It exits when the pool context is
// cancelled (Close), or when shutdown was requested and the pool is
// quiescent: no active worker, every deque and the injector observed empty
// in the same scan.
func (w *worker) run(ctx context.Context) {
	p := w.pool
	defer p.wg.Done()
	defer w.state.store(uint32(WorkerTerminated))
	defer w.discardLocal()

	if e := p.logger.Debug(); e.Enabled() {
		e.Int(`worker`, w.id).Log(`worker started`)
	}
	defer func() {
		if e := p.logger.Debug(); e.Enabled() {
			e.Int(`worker`, w.id).Uint64(`executed`, w.executed.Load()).Uint64(`stolen`, w.stolen.Load()).Log(`worker stopped`)
		}
	}()

	miss := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t := w.acquire(); t != nil {
			w.runTask(ctx, t)
			miss = 0
			continue
		}

		if p.shutdownRequested() && p.quiescent() {
			return
		}

		w.state.store(uint32(WorkerIdle))
		miss++
		w.park(ctx, miss)
	}
}

// acquire finds the next task: own deque (LIFO), injector, then a steal
// round. The pool's active counter is incremented before the first pop and
// released only if nothing was found, so a worker holding (or about to hold)
// a task is never mistaken for idle by the termination scan.
func (w *worker) acquire() *task {
	p := w.pool
	p.active.Add(1)
	t := w.deque.popBottom()
	if t == nil {
		t = p.injector.poll()
	}
	if t == nil {
		t = w.stealRound()
	}
	if t == nil {
		p.active.Add(-1)
	}
	return t
}

// runTask executes t and releases the active count acquire took. Stale deque
// entries - tasks already claimed elsewhere, or cancelled - lose the claim
// inside run and are not counted.
func (w *worker) runTask(ctx context.Context, t *task) {
	w.state.store(uint32(WorkerRunning))
	var start time.Time
	if w.pool.metrics != nil {
		start = time.Now()
	}
	if t.run(ctx) {
		w.executed.Add(1)
		if TaskState(t.state.load()) == TaskFailed {
			w.failed.Add(1)
		}
		if w.pool.metrics != nil {
			w.pool.metrics.Latency.Record(time.Since(start))
		}
	}
	w.pool.active.Add(-1)
}

// stealRound scans every peer once, in round-robin order from a random
// start, attempting one steal each. Individual steals may spuriously fail
// under contention; that is resolved by moving to the next victim and, after
// a fully empty round, by the caller's backoff.
func (w *worker) stealRound() *task {
	peers := w.pool.workers
	n := len(peers)
	if n <= 1 {
		return nil
	}
	w.state.store(uint32(WorkerStealing))
	start := w.rnd.IntN(n)
	for i := 0; i < n; i++ {
		victim := peers[(start+i)%n]
		if victim == w {
			continue
		}
		if t := victim.deque.steal(); t != nil {
			w.stolen.Add(1)
			return t
		}
	}
	w.stealMiss.Add(1)
	return nil
}

// park waits before the next scan round: a bare yield for the first few
// misses, then exponentially growing sleeps capped by the configured steal
// backoff. A submission or shutdown wakes it early.
func (w *worker) park(ctx context.Context, miss int) {
	if miss <= spinMisses {
		runtime.Gosched()
		return
	}
	timer := time.NewTimer(parkDuration(miss-spinMisses, w.pool.stealBackoff))
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-w.pool.wakeCh:
	case <-timer.C:
	}
}

// help drives a blocked join: until target is terminal, keep executing other
// available work instead of idling. Work acquired here runs nested inside
// the active window of the task that is joining, so the termination scan
// still sees this worker as active.
//
// help deliberately ignores pool shutdown: in-flight joins must be driven to
// completion, and the bounded park below guarantees a stuck helper keeps
// retrying steals, so reachable work always makes progress.
func (w *worker) help(ctx context.Context, target *task) {
	miss := 0
	for !target.terminal() {
		t := w.deque.popBottom()
		if t == nil {
			t = w.pool.injector.poll()
		}
		if t == nil {
			t = w.stealRound()
		}
		if t != nil {
			w.runHelping(ctx, t)
			miss = 0
			continue
		}
		miss++
		w.parkOn(target.done, miss)
	}
}

// runHelping is runTask without the active accounting, which the enclosing
// runTask already holds.
func (w *worker) runHelping(ctx context.Context, t *task) {
	if t.run(ctx) {
		w.executed.Add(1)
		if TaskState(t.state.load()) == TaskFailed {
			w.failed.Add(1)
		}
	}
}

// parkOn is park bound to a join target: completion of the target wakes the
// helper immediately.
func (w *worker) parkOn(done <-chan struct{}, miss int) {
	if miss <= spinMisses {
		runtime.Gosched()
		return
	}
	timer := time.NewTimer(parkDuration(miss-spinMisses, w.pool.stealBackoff))
	defer timer.Stop()
	select {
	case <-done:
	case <-w.pool.wakeCh:
	case <-timer.C:
	}
}

// discardLocal cancels whatever is left on the worker's own deque. Only
// Close leaves anything behind - a graceful shutdown exits strictly
// quiescent - and cancelling here is what unblocks joiners of tasks that
// will now never run.
func (w *worker) discardLocal() {
	if !w.pool.closed() {
		return
	}
	for {
		t := w.deque.popBottom()
		if t == nil {
			return
		}
		t.cancel(ErrPoolShutdown)
	}
}

// parkDuration grows 50µs exponentially per miss, capped at max.
func parkDuration(miss int, max time.Duration) time.Duration {
	d := 50 * time.Microsecond
	for i := 1; i < miss && d < max; i++ {
		d <<= 1
	}
	if d > max {
		d = max
	}
	return d
}
