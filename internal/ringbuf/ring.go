// Package ringbuf implements a lock-free single-producer/single-consumer
// ring buffer of float32 samples. The device capture callback is the sole
// producer; the segmenter is the sole consumer. Overflow policy is "drop
// newest": a push against a full buffer is silently discarded rather than
// blocking the realtime callback.
package ringbuf

import "sync/atomic"

// Ring is a fixed-capacity SPSC float32 ring buffer.
type Ring struct {
	buf  []float32
	cap  uint64
	head atomic.Uint64 // next slot to read; written only by consumer
	tail atomic.Uint64 // next slot to write; written only by producer
}

// New creates a ring sized for capacity samples.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{
		buf: make([]float32, capacity),
		cap: uint64(capacity),
	}
}

// Push appends samples to the ring. Returns the number actually written;
// fewer than len(samples) means the ring filled and the remainder was
// dropped. Safe to call only from the single producer.
func (r *Ring) Push(samples []float32) int {
	tail := r.tail.Load()
	head := r.head.Load()
	free := r.cap - (tail - head)
	n := uint64(len(samples))
	if n > free {
		n = free
	}
	for i := uint64(0); i < n; i++ {
		r.buf[(tail+i)%r.cap] = samples[i]
	}
	r.tail.Store(tail + n)
	return int(n)
}

// Drain copies all currently available samples into a freshly allocated
// slice and advances the read cursor. Returns an empty (non-nil) slice on
// underflow. Safe to call only from the single consumer.
func (r *Ring) Drain() []float32 {
	head := r.head.Load()
	tail := r.tail.Load()
	n := tail - head
	if n == 0 {
		return []float32{}
	}
	out := make([]float32, n)
	for i := uint64(0); i < n; i++ {
		out[i] = r.buf[(head+i)%r.cap]
	}
	r.head.Store(head + n)
	return out
}

// Len returns the number of samples currently available to drain.
func (r *Ring) Len() int {
	return int(r.tail.Load() - r.head.Load())
}

// Cap returns the ring's total capacity in samples.
func (r *Ring) Cap() int {
	return int(r.cap)
}
