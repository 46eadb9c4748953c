package audio

import (
	"sync"
	"testing"
	"time"
)

func samples(n int, base float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = base + float32(i)
	}
	return out
}

func TestRingRoundTrip(t *testing.T) {
	r := NewRing(time.Second, 10) // capacity 10
	r.Append(samples(4, 0))

	got := r.Snapshot()
	if len(got) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(got))
	}
	for i, v := range got {
		if v != float32(i) {
			t.Fatalf("sample %d: expected %v, got %v", i, float32(i), v)
		}
	}
}

func TestRingWrapAroundKeepsChronologicalOrder(t *testing.T) {
	r := NewRing(time.Second, 8) // capacity 8
	r.Append(samples(6, 0))      // 0..5
	r.Append(samples(5, 100))    // 100..104, wraps

	got := r.Snapshot()
	if len(got) != 8 {
		t.Fatalf("expected full buffer of 8, got %d", len(got))
	}
	want := []float32{3, 4, 5, 100, 101, 102, 103, 104}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d: expected %v, got %v (full: %v)", i, want[i], got[i], got)
		}
	}
}

func TestRingOversizedAppendKeepsTail(t *testing.T) {
	r := NewRing(time.Second, 5)
	r.Append(samples(3, 0))
	r.Append(samples(12, 200)) // larger than capacity, prior content discarded

	got := r.Snapshot()
	if len(got) != 5 {
		t.Fatalf("expected 5 samples, got %d", len(got))
	}
	want := []float32{207, 208, 209, 210, 211}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestRingEmptyAppendIsNoop(t *testing.T) {
	r := NewRing(time.Second, 4)
	r.Append(nil)
	r.Append([]float32{})
	if got := r.Snapshot(); len(got) != 0 {
		t.Fatalf("expected empty snapshot, got %d samples", len(got))
	}
}

func TestRingDuration(t *testing.T) {
	r := NewRing(2*time.Second, 16000)
	if d := r.Duration(); d != 0 {
		t.Fatalf("expected zero duration, got %v", d)
	}
	r.Append(make([]float32, 8000))
	if d := r.Duration(); d != 500*time.Millisecond {
		t.Fatalf("expected 500ms, got %v", d)
	}
	r.Append(make([]float32, 64000)) // capped at capacity
	if d := r.Duration(); d != 2*time.Second {
		t.Fatalf("expected 2s, got %v", d)
	}
}

func TestRingClear(t *testing.T) {
	r := NewRing(time.Second, 10)
	r.Append(samples(7, 0))
	r.Clear()
	if got := r.Snapshot(); len(got) != 0 {
		t.Fatalf("expected empty after clear, got %d samples", len(got))
	}
	r.Append(samples(3, 50))
	got := r.Snapshot()
	if len(got) != 3 || got[0] != 50 {
		t.Fatalf("expected fresh content after clear, got %v", got)
	}
}

func TestRingSnapshotIsACopy(t *testing.T) {
	r := NewRing(time.Second, 4)
	r.Append(samples(4, 0))
	snap := r.Snapshot()
	snap[0] = 999
	if got := r.Snapshot(); got[0] == 999 {
		t.Fatal("snapshot must not alias the internal buffer")
	}
}

func TestRingConcurrentAppendAndSnapshot(t *testing.T) {
	r := NewRing(time.Second, 1600)
	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			r.Append(samples(160, float32(i)))
		}
		close(stop)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				snap := r.Snapshot()
				if len(snap) > r.Capacity() {
					t.Errorf("snapshot larger than capacity: %d", len(snap))
					return
				}
			}
		}
	}()

	wg.Wait()
}
