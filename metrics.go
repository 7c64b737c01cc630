package forkjoin

import (
	"sort"
	"sync"
	"time"
)

// Stats is a snapshot of pool-wide counters, aggregated from the workers.
// Counters are cumulative since pool creation; queue depths are advisory.
type Stats struct {
	State          PoolState
	Submitted      uint64 // external submissions accepted
	Executed       uint64 // tasks run to a terminal state
	Failed         uint64 // subset of Executed that Failed
	Steals         uint64 // tasks acquired from a peer's deque
	Forked         uint64 // tasks forked by workers
	QueuedExternal int    // injection queue depth
	Workers        []WorkerStats
}

// WorkerStats is a snapshot of one worker's counters.
type WorkerStats struct {
	ID          int
	State       WorkerState
	Executed    uint64
	Failed      uint64
	Stolen      uint64
	Forked      uint64
	StealMisses uint64 // full victim rounds that found nothing
	QueueLen    int
}

// sampleSize is the rolling buffer of task latency samples retained for
// percentile computation.
const sampleSize = 1000

// Metrics tracks execution latency for a pool, when enabled via
// WithMetrics. All methods are safe for concurrent use.
type Metrics struct {
	Latency LatencyMetrics
}

// LatencyMetrics tracks task execution latency over a rolling sample
// window, with cached percentiles.
type LatencyMetrics struct {
	mu          sync.RWMutex
	sampleIdx   int
	sampleCount int
	samples     [sampleSize]time.Duration

	// Computed percentiles, cached by Sample.
	P50 time.Duration
	P90 time.Duration
	P99 time.Duration
	Max time.Duration

	Mean time.Duration
	Sum  time.Duration
}

// Record records a latency sample. Called internally after each task
// execution.
func (l *LatencyMetrics) Record(duration time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sampleCount >= sampleSize {
		l.Sum -= l.samples[l.sampleIdx]
	}
	l.samples[l.sampleIdx] = duration
	l.Sum += duration
	l.sampleIdx++
	if l.sampleIdx >= sampleSize {
		l.sampleIdx = 0
	}
	if l.sampleCount < sampleSize {
		l.sampleCount++
	}
}

// Sample computes percentiles from the collected samples, caching them on
// the struct, and returns the number of samples used. Sorting is O(n log n)
// over at most sampleSize entries; for monitoring, call this no more than
// once per second.
func (l *LatencyMetrics) Sample() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := l.sampleCount
	if count == 0 {
		return 0
	}

	sorted := make([]time.Duration, count)
	copy(sorted, l.samples[:count])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	l.P50 = sorted[percentileIndex(count, 50)]
	l.P90 = sorted[percentileIndex(count, 90)]
	l.P99 = sorted[percentileIndex(count, 99)]
	l.Max = sorted[count-1]
	l.Mean = l.Sum / time.Duration(count)
	return count
}

// percentileIndex returns the sample index for the pth percentile of count
// samples, clamped to the valid range.
func percentileIndex(count, p int) int {
	i := count * p / 100
	if i >= count {
		i = count - 1
	}
	return i
}
