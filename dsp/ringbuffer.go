// Package dsp holds the real-time signal path primitives: the sample
// ring buffer and the three-band biquad equalizer.
package dsp

import "sync"

// RingBuffer is a fixed-capacity circular buffer of interleaved float32
// samples decoupling the capture cadence from the render cadence.
//
// Write and Read are called from independent real-time threads. Both
// hold the mutex only for a bounded copy, never across a call into
// non-real-time code, and neither allocates.
type RingBuffer struct {
	mu       sync.Mutex
	buf      []float32
	writePos uint64 // monotonically advancing, indexed mod len(buf)
	readPos  uint64
}

// NewRingBuffer creates a buffer holding capacity samples
// (frames × channels).
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer{buf: make([]float32, capacity)}
}

// Capacity returns the fixed sample capacity.
func (rb *RingBuffer) Capacity() int {
	return len(rb.buf)
}

// Write copies samples into the buffer and advances the write cursor.
// An unbounded producer overwrites the oldest unread samples; capacity
// is sized well beyond one callback's worth, so that only happens when
// the consumer has stalled.
func (rb *RingBuffer) Write(samples []float32) {
	rb.mu.Lock()
	capacity := uint64(len(rb.buf))
	if uint64(len(samples)) > capacity {
		// Only the newest capacity's worth can survive.
		samples = samples[uint64(len(samples))-capacity:]
	}
	n := uint64(len(samples))
	pos := rb.writePos % capacity
	first := copy(rb.buf[pos:], samples)
	copy(rb.buf, samples[first:])
	rb.writePos += n
	if rb.writePos-rb.readPos > capacity {
		rb.readPos = rb.writePos - capacity
	}
	rb.mu.Unlock()
}

// Read copies up to len(out) available samples starting at the read
// cursor and advances it. Any shortfall is zero-filled, so out always
// comes back fully populated: stale samples are never repeated and the
// call never blocks. Returns the number of live samples copied.
func (rb *RingBuffer) Read(out []float32) int {
	rb.mu.Lock()
	capacity := uint64(len(rb.buf))
	n := rb.writePos - rb.readPos
	if n > uint64(len(out)) {
		n = uint64(len(out))
	}
	pos := rb.readPos % capacity
	first := copy(out[:n], rb.buf[pos:])
	copy(out[first:n], rb.buf)
	rb.readPos += n
	rb.mu.Unlock()

	for i := n; i < uint64(len(out)); i++ {
		out[i] = 0
	}
	return int(n)
}

// AvailableToRead reports the number of unread samples. Diagnostic
// only; the value is stale the moment it returns.
func (rb *RingBuffer) AvailableToRead() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return int(rb.writePos - rb.readPos)
}
