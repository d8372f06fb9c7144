// Package ringbuf provides a lock-free, single-producer single-consumer (SPSC)
// ring buffer for float64 samples. It uses atomic operations and cache-line
// padding to stay off the hot-path lock radar: detectors push price deltas and
// the queue pushes event ages without ever blocking.
package ringbuf

import "sync/atomic"

// cacheLine is the typical x86-64 cache line size used for padding.
const cacheLine = 64

// Ring is a lock-free SPSC ring buffer for float64 samples.
// Size must be a power of two for fast bitwise modulo.
type Ring struct {
	buf  []float64
	mask uint64

	// Separate cache lines to prevent false sharing between producer and consumer.
	_pad0 [cacheLine]byte
	head  atomic.Uint64 // written by producer
	_pad1 [cacheLine]byte
	tail  atomic.Uint64 // written by consumer
	_pad2 [cacheLine]byte

	overflow atomic.Uint64
}

// New creates a ring buffer. capacity is rounded up to the next power of two.
// Minimum capacity is 2.
func New(capacity int) *Ring {
	cap := nextPow2(capacity)
	if cap < 2 {
		cap = 2
	}
	return &Ring{
		buf:  make([]float64, cap),
		mask: uint64(cap - 1),
	}
}

// Push appends a sample. Returns false if the buffer is full
// (the sample is NOT written in that case). Non-blocking.
func (r *Ring) Push(v float64) bool {
	head := r.head.Load()
	tail := r.tail.Load()

	if head-tail >= uint64(len(r.buf)) {
		r.overflow.Add(1)
		return false
	}

	r.buf[head&r.mask] = v
	r.head.Store(head + 1)
	return true
}

// PushEvict appends a sample, evicting the oldest one if the buffer is full.
// Used where the ring tracks "last N samples" rather than a strict queue.
func (r *Ring) PushEvict(v float64) {
	if !r.Push(v) {
		r.Pop()
		r.Push(v)
	}
}

// Pop retrieves the next sample. Returns false if the buffer is empty.
// Non-blocking.
func (r *Ring) Pop() (float64, bool) {
	tail := r.tail.Load()
	head := r.head.Load()

	if tail >= head {
		return 0, false
	}

	v := r.buf[tail&r.mask]
	r.tail.Store(tail + 1)
	return v, true
}

// Snapshot copies the current contents oldest-first. Only safe to call from
// the consumer side; producers may race a concurrent Push, in which case the
// newest sample may be missed.
func (r *Ring) Snapshot() []float64 {
	tail := r.tail.Load()
	head := r.head.Load()
	if tail >= head {
		return nil
	}
	out := make([]float64, 0, head-tail)
	for i := tail; i < head; i++ {
		out = append(out, r.buf[i&r.mask])
	}
	return out
}

// Len returns the current number of samples in the buffer.
func (r *Ring) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

// Cap returns the buffer capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Overflow returns the total number of dropped pushes due to full buffer.
func (r *Ring) Overflow() uint64 {
	return r.overflow.Load()
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
