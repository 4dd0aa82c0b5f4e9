package emergency

import (
	"sort"
	"sync"
	"time"

	"github.com/dropbox/godropbox/time2"
)

// Timer is a pending callback that can be stopped before it fires.
type Timer interface {
	Stop() bool
}

// Scheduler is the only source of time for the orchestrator.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type clockScheduler struct {
	clock time2.Clock
}

// NewScheduler returns a scheduler that reads time from clock and fires
// callbacks on runtime timers.
func NewScheduler(clock time2.Clock) Scheduler {
	if clock == nil {
		clock = time2.DefaultClock
	}
	return &clockScheduler{clock: clock}
}

func (s *clockScheduler) Now() time.Time {
	return s.clock.Now()
}

func (s *clockScheduler) AfterFunc(d time.Duration, f func()) Timer {
	if d < 0 {
		d = 0
	}
	return time.AfterFunc(d, f)
}

// ManualScheduler fires callbacks only when Advance is called. Callbacks run
// on the goroutine calling Advance, in due-time order, with ties broken by
// registration order.
type ManualScheduler struct {
	mu      sync.Mutex
	clock   *time2.MockClock
	seq     int
	pending []*manualTimer
}

type manualTimer struct {
	s       *ManualScheduler
	at      time.Time
	seq     int
	f       func()
	stopped bool
	fired   bool
}

func NewManualScheduler(start time.Time) *ManualScheduler {
	return &ManualScheduler{clock: time2.NewMockClock(start)}
}

func (s *ManualScheduler) Now() time.Time {
	return s.clock.Now()
}

func (s *ManualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	if d < 0 {
		d = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	t := &manualTimer{s: s, at: s.clock.Now().Add(d), seq: s.seq, f: f}
	s.pending = append(s.pending, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	t.s.remove(t)
	return true
}

// Advance moves time forward by d, firing every timer that comes due,
// including timers registered by callbacks during the advance.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.clock.Now().Add(d)
	s.mu.Unlock()

	for {
		s.mu.Lock()
		next := s.nextDue(target)
		if next == nil {
			if now := s.clock.Now(); target.After(now) {
				s.clock.Advance(target.Sub(now))
			}
			s.mu.Unlock()
			return
		}
		if now := s.clock.Now(); next.at.After(now) {
			s.clock.Advance(next.at.Sub(now))
		}
		next.fired = true
		s.remove(next)
		s.mu.Unlock()

		next.f()
	}
}

// Pending returns the number of timers that have not fired or been stopped.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *ManualScheduler) nextDue(target time.Time) *manualTimer {
	if len(s.pending) == 0 {
		return nil
	}
	sort.SliceStable(s.pending, func(i, j int) bool {
		if s.pending[i].at.Equal(s.pending[j].at) {
			return s.pending[i].seq < s.pending[j].seq
		}
		return s.pending[i].at.Before(s.pending[j].at)
	})
	if s.pending[0].at.After(target) {
		return nil
	}
	return s.pending[0]
}

func (s *ManualScheduler) remove(t *manualTimer) {
	for i, p := range s.pending {
		if p == t {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}
