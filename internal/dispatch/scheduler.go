package dispatch

import (
	"sync"
	"time"

	"marketstream/internal/model"
)

// Scheduler runs at most one pending one-shot timer per key. Stop cancels
// every pending timer and waits for callbacks already running.
type Scheduler struct {
	mu     sync.Mutex
	timers map[model.BufferKey]*time.Timer
	closed bool
	wg     sync.WaitGroup
}

func NewScheduler() *Scheduler {
	return &Scheduler{timers: make(map[model.BufferKey]*time.Timer)}
}

// Schedule arms fn for key after d. It returns false when a timer for key is
// already pending or the scheduler is stopped.
func (s *Scheduler) Schedule(key model.BufferKey, d time.Duration, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if _, pending := s.timers[key]; pending {
		return false
	}

	s.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		defer s.wg.Done()
		s.mu.Lock()
		if s.timers[key] != t {
			s.mu.Unlock()
			return
		}
		delete(s.timers, key)
		s.mu.Unlock()
		fn()
	})
	s.timers[key] = t
	return true
}

// Cancel stops the pending timer of key.
func (s *Scheduler) Cancel(key model.BufferKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(key)
}

func (s *Scheduler) cancelLocked(key model.BufferKey) bool {
	t, ok := s.timers[key]
	if !ok {
		return false
	}
	delete(s.timers, key)
	if t.Stop() {
		s.wg.Done()
	}
	return true
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels all timers and waits for running callbacks. It must not be
// called from a scheduled callback.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.closed = true
	for key := range s.timers {
		s.cancelLocked(key)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
