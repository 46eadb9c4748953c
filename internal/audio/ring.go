package audio

import (
	"sync"
	"time"
)

// Ring is a fixed-capacity circular buffer of mono PCM float32 samples.
// It holds the most recent window of microphone audio so every
// transcription pass sees the full current context. A single mutex guards
// all access; Snapshot returns a copy, never a live view.
type Ring struct {
	mu         sync.Mutex
	buf        []float32
	writePos   int
	held       int
	sampleRate int
}

// NewRing allocates a ring holding duration worth of samples at sampleRate.
func NewRing(duration time.Duration, sampleRate int) *Ring {
	capacity := int(duration.Seconds() * float64(sampleRate))
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{
		buf:        make([]float32, capacity),
		sampleRate: sampleRate,
	}
}

// Append writes samples into the ring, overwriting the oldest data once
// full. An input at least as large as the capacity replaces the whole
// buffer with its tail. Empty input is a no-op.
func (r *Ring) Append(samples []float32) {
	if len(samples) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	capacity := len(r.buf)
	if len(samples) >= capacity {
		copy(r.buf, samples[len(samples)-capacity:])
		r.writePos = 0
		r.held = capacity
		return
	}

	end := r.writePos + len(samples)
	if end <= capacity {
		copy(r.buf[r.writePos:end], samples)
	} else {
		// Write spans the wrap point, split into two copies.
		first := capacity - r.writePos
		copy(r.buf[r.writePos:], samples[:first])
		copy(r.buf, samples[first:])
	}
	r.writePos = end % capacity
	r.held += len(samples)
	if r.held > capacity {
		r.held = capacity
	}
}

// Snapshot returns a copy of the held samples in chronological order.
func (r *Ring) Snapshot() []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]float32, r.held)
	if r.held < len(r.buf) {
		copy(out, r.buf[:r.held])
		return out
	}
	// Buffer is full, oldest sample sits at the write cursor.
	n := copy(out, r.buf[r.writePos:])
	copy(out[n:], r.buf[:r.writePos])
	return out
}

// Duration reports how much audio the ring currently holds.
func (r *Ring) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Duration(float64(r.held) / float64(r.sampleRate) * float64(time.Second))
}

// Clear resets the cursor and sample count without reallocating.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writePos = 0
	r.held = 0
}

// Capacity returns the maximum number of samples the ring can hold.
func (r *Ring) Capacity() int {
	return len(r.buf)
}
