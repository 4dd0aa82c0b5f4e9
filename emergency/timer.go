package emergency

import (
	"sync"
	"time"
)

// SessionTimer counts fixed ticks since activation. Ticks are scheduled at
// absolute offsets from the start time so a paused process does not drift.
//
// Start, Tick and Stop are called by the owning orchestrator while it holds
// its own lock; Elapsed may be read from anywhere.
type SessionTimer struct {
	sched    Scheduler
	interval time.Duration

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
	ticks     int
	pending   Timer
	onTick    func()
}

func NewSessionTimer(sched Scheduler, interval time.Duration) *SessionTimer {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &SessionTimer{sched: sched, interval: interval}
}

// Start resets the counter and schedules the first tick one interval after startedAt.
func (t *SessionTimer) Start(startedAt time.Time, onTick func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.running = true
	t.startedAt = startedAt
	t.ticks = 0
	t.onTick = onTick
	t.scheduleLocked()
}

// Tick records one elapsed interval and schedules the next. It returns the
// elapsed whole seconds, or -1 if the timer is not running.
func (t *SessionTimer) Tick() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return -1
	}
	t.ticks++
	t.scheduleLocked()
	return t.elapsedLocked()
}

// Stop cancels the next tick and resets the counter to zero.
func (t *SessionTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *SessionTimer) Elapsed() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.elapsedLocked()
}

func (t *SessionTimer) Running() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

func (t *SessionTimer) scheduleLocked() {
	due := t.startedAt.Add(time.Duration(t.ticks+1) * t.interval)
	onTick := t.onTick
	t.pending = t.sched.AfterFunc(due.Sub(t.sched.Now()), func() {
		if onTick != nil {
			onTick()
		}
	})
}

func (t *SessionTimer) stopLocked() {
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
	t.running = false
	t.ticks = 0
	t.onTick = nil
}

func (t *SessionTimer) elapsedLocked() int {
	return int((time.Duration(t.ticks) * t.interval) / time.Second)
}
