package forkjoin

import (
	"fmt"
	"sync/atomic"
)

// minDequeCapacity is the smallest ring buffer a deque will allocate.
// Capacities are always powers of two, for mask indexing.
const minDequeCapacity = 16

// deque is a dynamic circular work-stealing deque (Chase-Lev).
//
// Discipline: single owner, many thieves. The owner pushes and pops at the
// bottom (LIFO, for locality); any thief may steal from the top (FIFO, so
// thieves take the oldest, typically largest-grained work). Only top is
// contended: thieves claim elements by CAS on top, and the owner joins that
// race only when exactly one element remains.
//
// The ring buffer is replaced wholesale on growth. The owner stores a new,
// doubled buffer with every live index mapped to the same element; thieves
// holding the old buffer still read the element their CAS on top claims, and
// the old buffer stays reachable until they finish with it.
//
// Cache-line padding separates top and bottom so thief CAS traffic does not
// invalidate the owner's line.
type deque struct { // betteralign:ignore
	_      [64]byte     //nolint:unused
	top    atomic.Int64 // thief end, CAS-incremented
	_      [56]byte     //nolint:unused
	bottom atomic.Int64 // owner end, owner-written only
	_      [56]byte     //nolint:unused
	buf    atomic.Pointer[dequeBuffer]
}

// dequeBuffer is immutable once published; growth allocates a replacement.
type dequeBuffer struct {
	mask  int64 // len(slots)-1, len is a power of two
	slots []*task
}

func newDequeBuffer(capacity int64) *dequeBuffer {
	return &dequeBuffer{
		mask:  capacity - 1,
		slots: make([]*task, capacity),
	}
}

func (b *dequeBuffer) get(i int64) *task    { return b.slots[i&b.mask] }
func (b *dequeBuffer) put(i int64, t *task) { b.slots[i&b.mask] = t }
func (b *dequeBuffer) capacity() int64      { return b.mask + 1 }

// newDeque creates an empty deque. Capacity is rounded up to a power of two,
// with a floor of minDequeCapacity.
func newDeque(capacity int) *deque {
	c := int64(minDequeCapacity)
	for c < int64(capacity) {
		c <<= 1
	}
	d := &deque{}
	d.buf.Store(newDequeBuffer(c))
	return d
}

// pushBottom appends a task at the owner end. Owner-only. Amortized O(1);
// grows the ring buffer when full, preserving every queued task.
func (d *deque) pushBottom(t *task) {
	bottom := d.bottom.Load()
	top := d.top.Load()
	buf := d.buf.Load()

	if bottom-top >= buf.capacity() {
		buf = d.grow(top, bottom, buf)
	}

	buf.put(bottom, t)
	// The store of bottom publishes the slot write to thieves.
	d.bottom.Store(bottom + 1)
}

// popBottom removes and returns the most recently pushed task, or nil if
// empty. Owner-only. When exactly one element remains, a concurrent steal
// may target the same element; the CAS on top decides the winner, and the
// loser observes empty.
func (d *deque) popBottom() *task {
	bottom := d.bottom.Load() - 1
	buf := d.buf.Load()
	// Tentatively claim the slot before reading top, so a thief observing
	// the decremented bottom backs off.
	d.bottom.Store(bottom)

	top := d.top.Load()
	if top > bottom {
		// Empty; restore.
		d.bottom.Store(top)
		return nil
	}

	t := buf.get(bottom)
	if top == bottom {
		// Last element: race the thieves for it.
		if !d.top.CompareAndSwap(top, top+1) {
			t = nil // a thief won
		}
		d.bottom.Store(top + 1)
	}
	return t
}

// steal removes and returns the oldest task, or nil if the deque is empty
// or the attempt lost a race. Callable from any goroutine. Spurious nil
// under contention is intentional - callers retry or move to the next
// victim rather than spin here.
func (d *deque) steal() *task {
	top := d.top.Load()
	bottom := d.bottom.Load()
	if top >= bottom {
		return nil
	}

	buf := d.buf.Load()
	t := buf.get(top)

	// Claim by CAS; only one of the competing thieves (or the owner's
	// last-element popBottom) wins this increment.
	if !d.top.CompareAndSwap(top, top+1) {
		return nil
	}
	return t
}

// grow doubles the buffer, copying the live range. Owner-only; callers
// publish the returned buffer via pushBottom's store.
func (d *deque) grow(top, bottom int64, old *dequeBuffer) *dequeBuffer {
	buf := newDequeBuffer(old.capacity() << 1)
	for i := top; i < bottom; i++ {
		buf.put(i, old.get(i))
	}
	d.buf.Store(buf)
	if got := d.bottom.Load() - d.top.Load(); got > buf.capacity() {
		// Unreachable given the single-owner discipline; a lost or
		// duplicated task is a fatal invariant violation.
		panic(fmt.Sprintf("forkjoin: deque corrupted during grow: size %d exceeds capacity %d", got, buf.capacity()))
	}
	return buf
}

// len returns an advisory size. It may be stale the moment it returns, and
// must only inform heuristics (victim selection, stats), never correctness.
func (d *deque) len() int {
	n := d.bottom.Load() - d.top.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}
