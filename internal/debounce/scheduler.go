package debounce

import (
	"sync"
	"time"
)

// Scheduler is a keyed timer table. Scheduling under a key cancels whatever
// was pending under that key, so only the latest action of a burst runs.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*entry
	seq    uint64
}

type entry struct {
	timer *time.Timer
	gen   uint64
}

// New creates an empty scheduler
func New() *Scheduler {
	return &Scheduler{timers: make(map[string]*entry)}
}

// Schedule arms action to run once after delay of inactivity on key.
func (s *Scheduler) Schedule(key string, delay time.Duration, action func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.timers[key]; ok {
		prev.timer.Stop()
	}
	s.seq++
	gen := s.seq

	e := &entry{gen: gen}
	e.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		cur, ok := s.timers[key]
		// A timer that already fired when Stop was called must not run
		if !ok || cur.gen != gen {
			s.mu.Unlock()
			return
		}
		delete(s.timers, key)
		s.mu.Unlock()
		action()
	})
	s.timers[key] = e
}

// Cancel drops the pending action for key, if any
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.timers, key)
	return true
}

// Pending reports whether an action is armed for key
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}

// Len returns the number of armed keys
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every pending action
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.timers {
		e.timer.Stop()
		delete(s.timers, key)
	}
}
