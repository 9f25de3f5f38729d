package debounce

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestScheduleCoalescesBurst(t *testing.T) {
	s := New()
	var runs int32
	var mu sync.Mutex
	last := -1

	for i := 0; i < 5; i++ {
		i := i
		s.Schedule("ticket-1", 40*time.Millisecond, func() {
			atomic.AddInt32(&runs, 1)
			mu.Lock()
			last = i
			mu.Unlock()
		})
	}

	waitFor(t, func() bool { return atomic.LoadInt32(&runs) > 0 })
	time.Sleep(80 * time.Millisecond)

	if got := atomic.LoadInt32(&runs); got != 1 {
		t.Fatalf("runs = %d, want 1", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if last != 4 {
		t.Fatalf("ran closure %d, want the last one (4)", last)
	}
	if s.Pending("ticket-1") {
		t.Fatalf("key still pending after execution")
	}
}

func TestScheduleKeysAreIndependent(t *testing.T) {
	s := New()
	var a, b int32

	s.Schedule("a", 10*time.Millisecond, func() { atomic.AddInt32(&a, 1) })
	s.Schedule("b", 10*time.Millisecond, func() { atomic.AddInt32(&b, 1) })

	waitFor(t, func() bool { return atomic.LoadInt32(&a) == 1 && atomic.LoadInt32(&b) == 1 })
}

func TestCancel(t *testing.T) {
	s := New()
	var runs int32

	s.Schedule("k", 30*time.Millisecond, func() { atomic.AddInt32(&runs, 1) })
	if !s.Cancel("k") {
		t.Fatalf("Cancel returned false for an armed key")
	}
	if s.Cancel("k") {
		t.Fatalf("Cancel returned true twice")
	}

	time.Sleep(60 * time.Millisecond)
	if got := atomic.LoadInt32(&runs); got != 0 {
		t.Fatalf("cancelled action ran %d times", got)
	}
}

func TestRescheduleAfterRun(t *testing.T) {
	s := New()
	var runs int32

	s.Schedule("k", 5*time.Millisecond, func() { atomic.AddInt32(&runs, 1) })
	waitFor(t, func() bool { return atomic.LoadInt32(&runs) == 1 })

	s.Schedule("k", 5*time.Millisecond, func() { atomic.AddInt32(&runs, 1) })
	waitFor(t, func() bool { return atomic.LoadInt32(&runs) == 2 })

	if s.Len() != 0 {
		t.Fatalf("Len = %d after all actions ran", s.Len())
	}
}
