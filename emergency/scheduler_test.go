package emergency

import (
	"testing"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualSchedulerFiresInOrder(t *testing.T) {
	sched := NewManualScheduler(epoch)
	var order []string

	sched.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	sched.AfterFunc(time.Second, func() { order = append(order, "a") })
	sched.AfterFunc(2*time.Second, func() { order = append(order, "c") })
	stopped := sched.AfterFunc(time.Second, func() { order = append(order, "never") })
	assert.True(t, stopped.Stop())
	assert.False(t, stopped.Stop())

	sched.Advance(1500 * time.Millisecond)
	assert.Equal(t, []string{"a"}, order)
	assert.Equal(t, epoch.Add(1500*time.Millisecond), sched.Now())

	sched.Advance(time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Zero(t, sched.Pending())
}

func TestManualSchedulerRunsTimersAddedByCallbacks(t *testing.T) {
	sched := NewManualScheduler(epoch)
	var at []time.Time

	var chain func()
	chain = func() {
		at = append(at, sched.Now())
		if len(at) < 3 {
			sched.AfterFunc(time.Second, chain)
		}
	}
	sched.AfterFunc(time.Second, chain)

	sched.Advance(10 * time.Second)
	require.Len(t, at, 3)
	assert.Equal(t, epoch.Add(time.Second), at[0])
	assert.Equal(t, epoch.Add(3*time.Second), at[2])
	assert.Equal(t, epoch.Add(10*time.Second), sched.Now())
}

func TestClockSchedulerUsesClock(t *testing.T) {
	clock := time2.NewMockClock(epoch)
	sched := NewScheduler(clock)
	assert.Equal(t, epoch, sched.Now())

	fired := make(chan struct{})
	sched.AfterFunc(-time.Second, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}
