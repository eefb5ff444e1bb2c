// Package scheduler runs cancelable delayed tasks keyed by purpose.
//
// Scheduling a key replaces any pending task for that key. Each schedule
// returns a token; a task that fires checks Current before acting so a
// callback that raced with a reschedule or cancel becomes a no-op.
package scheduler

import (
	"sync"
	"time"

	"github.com/louisbranch/yesand/internal/platform/clock"
)

type pending struct {
	token uint64
	timer clock.Timer
}

// Scheduler owns the timers for one actor.
type Scheduler struct {
	clock   clock.Clock
	deliver func(func())

	mu      sync.Mutex
	next    uint64
	pending map[string]pending
	latest  map[string]uint64
	stopped bool
}

// New returns a scheduler. deliver hands fired callbacks to their owner,
// usually by posting to an actor inbox; nil runs them on the timer
// goroutine.
func New(c clock.Clock, deliver func(func())) *Scheduler {
	if c == nil {
		c = clock.Real{}
	}
	if deliver == nil {
		deliver = func(f func()) { f() }
	}
	return &Scheduler{
		clock:   c,
		deliver: deliver,
		pending: make(map[string]pending),
		latest:  make(map[string]uint64),
	}
}

// Schedule arms fn to run after d under key, replacing any pending task for
// key. It returns the new token, or 0 once the scheduler is stopped.
func (s *Scheduler) Schedule(key string, d time.Duration, fn func(token uint64)) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return 0
	}
	if prev, ok := s.pending[key]; ok {
		prev.timer.Stop()
	}
	s.next++
	token := s.next
	s.latest[key] = token
	timer := s.clock.AfterFunc(d, func() { s.fire(key, token, fn) })
	s.pending[key] = pending{token: token, timer: timer}
	return token
}

func (s *Scheduler) fire(key string, token uint64, fn func(uint64)) {
	s.mu.Lock()
	p, ok := s.pending[key]
	if !ok || p.token != token || s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.pending, key)
	s.mu.Unlock()
	s.deliver(func() { fn(token) })
}

// Cancel drops the pending task for key and invalidates its token.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.latest, key)
	p, ok := s.pending[key]
	if !ok {
		return false
	}
	delete(s.pending, key)
	return p.timer.Stop()
}

// Current reports whether token is still the latest schedule for key.
func (s *Scheduler) Current(key string, token uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return token != 0 && s.latest[key] == token
}

// Pending reports whether a task for key has not fired yet.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[key]
	return ok
}

// Stop cancels everything. Later Schedule calls are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for key, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, key)
	}
	s.latest = make(map[string]uint64)
}
