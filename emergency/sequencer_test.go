package emergency

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safemap/models"
)

type sequencerFixture struct {
	sched *ManualScheduler
	seq   *Sequencer
	due   []string
	ids   int
}

func newSequencerFixture() *sequencerFixture {
	f := &sequencerFixture{sched: NewManualScheduler(epoch)}
	f.seq = NewSequencer(f.sched, func() string {
		f.ids++
		return fmt.Sprintf("task-%d", f.ids)
	}, func(id string) {
		f.due = append(f.due, id)
	})
	return f
}

func (f *sequencerFixture) session(id string) *models.EmergencySession {
	armedAt := f.sched.Now()
	return &models.EmergencySession{ID: id, ArmedAt: &armedAt, Status: models.SessionStatusActive}
}

func TestScheduleOrdersAuthorityFirst(t *testing.T) {
	f := newSequencerFixture()
	policy := DefaultPolicy()
	policy.BaseDelay = 10 * time.Second
	policy.ContactGap = 2 * time.Second

	tasks := f.seq.Schedule(f.session("s1"), threeContacts(), policy)
	require.Len(t, tasks, 4)

	assert.Equal(t, models.TaskTierAuthority, tasks[0].Tier)
	assert.Equal(t, float64(0), tasks[0].ScheduledOffsetSeconds)
	for i, name := range []string{"C0", "C1", "C2"} {
		assert.Equal(t, name, tasks[i+1].Recipient.Name)
		assert.Equal(t, models.TaskTierPrimary, tasks[i+1].Tier)
		assert.Equal(t, float64(10+2*i), tasks[i+1].ScheduledOffsetSeconds)
		assert.Equal(t, DefaultMaxAttempts, tasks[i+1].MaxAttempts)
	}

	f.sched.Advance(0)
	assert.Equal(t, []string{tasks[0].ID}, f.due)

	f.sched.Advance(10 * time.Second)
	assert.Equal(t, []string{tasks[0].ID, tasks[1].ID}, f.due)

	f.sched.Advance(4 * time.Second)
	assert.Equal(t, []string{tasks[0].ID, tasks[1].ID, tasks[2].ID, tasks[3].ID}, f.due)
}

func TestScheduleIsIdempotentPerSession(t *testing.T) {
	f := newSequencerFixture()
	s := f.session("s1")

	first := f.seq.Schedule(s, threeContacts(), DefaultPolicy())
	second := f.seq.Schedule(s, append(threeContacts(), models.Contact{Name: "C3"}), DefaultPolicy())

	assert.Equal(t, first, second)
	assert.Equal(t, 4, f.sched.Pending())
}

func TestScheduleMeasuresOffsetsFromArmedAt(t *testing.T) {
	f := newSequencerFixture()
	s := f.session("s1")
	f.sched.Advance(3 * time.Second)

	// Contact 0 is due 4s after armedAt, which is now 1s away.
	tasks := f.seq.Schedule(s, threeContacts()[:1], DefaultPolicy())
	f.sched.Advance(time.Second)
	assert.Equal(t, []string{tasks[0].ID, tasks[1].ID}, f.due)
}

func TestBeginRefusesDuplicatesAndSettledTasks(t *testing.T) {
	f := newSequencerFixture()
	tasks := f.seq.Schedule(f.session("s1"), nil, DefaultPolicy())
	id := tasks[0].ID

	task, ok := f.seq.Begin(id)
	require.True(t, ok)
	assert.Equal(t, 1, task.Attempts)
	assert.True(t, task.InFlight)

	_, ok = f.seq.Begin(id)
	assert.False(t, ok)

	task, ok = f.seq.Complete(id, nil)
	require.True(t, ok)
	assert.Equal(t, models.TaskStateSent, task.State)
	require.NotNil(t, task.SentAt)

	_, ok = f.seq.Begin(id)
	assert.False(t, ok)
	_, ok = f.seq.Complete(id, nil)
	assert.False(t, ok)
}

func TestCompleteRetriesWithLinearBackoff(t *testing.T) {
	f := newSequencerFixture()
	policy := DefaultPolicy()
	policy.RetryDelay = 5 * time.Second
	tasks := f.seq.Schedule(f.session("s1"), nil, policy)
	id := tasks[0].ID
	boom := errors.New("boom")

	f.sched.Advance(0)
	f.seq.Begin(id)
	task, _ := f.seq.Complete(id, boom)
	assert.Equal(t, models.TaskStatePending, task.State)
	assert.Equal(t, "boom", task.LastError)

	f.sched.Advance(4 * time.Second)
	assert.Len(t, f.due, 1)
	f.sched.Advance(time.Second)
	assert.Len(t, f.due, 2)

	f.seq.Begin(id)
	f.seq.Complete(id, boom)
	f.sched.Advance(9 * time.Second)
	assert.Len(t, f.due, 2)
	f.sched.Advance(time.Second)
	assert.Len(t, f.due, 3)

	f.seq.Begin(id)
	task, _ = f.seq.Complete(id, boom)
	assert.Equal(t, models.TaskStateFailed, task.State)
	assert.Equal(t, 3, task.Attempts)
	assert.Zero(t, f.sched.Pending())
}

func TestCancelVoidsPendingButKeepsSent(t *testing.T) {
	f := newSequencerFixture()
	s := f.session("s1")
	tasks := f.seq.Schedule(s, threeContacts(), DefaultPolicy())

	f.seq.Begin(tasks[0].ID)
	f.seq.Complete(tasks[0].ID, nil)
	f.sched.Advance(4 * time.Second)
	f.seq.Begin(tasks[1].ID)

	cancelled := f.seq.Cancel("s1")
	require.Len(t, cancelled, 4)
	assert.Equal(t, models.TaskStateSent, cancelled[0].State)
	assert.Equal(t, models.TaskStatePending, cancelled[1].State)
	assert.True(t, cancelled[1].InFlight)
	assert.Equal(t, models.TaskStateCancelled, cancelled[2].State)
	assert.Equal(t, models.TaskStateCancelled, cancelled[3].State)
	assert.True(t, f.seq.InFlight("s1"))
	assert.Zero(t, f.sched.Pending())

	_, ok := f.seq.Begin(tasks[2].ID)
	assert.False(t, ok)

	task, ok := f.seq.Complete(tasks[1].ID, nil)
	require.True(t, ok)
	assert.Equal(t, models.TaskStateSent, task.State)
	assert.False(t, f.seq.InFlight("s1"))

	// Once settled the session is forgotten and cannot be scheduled again.
	assert.Nil(t, f.seq.Tasks("s1"))
	assert.Nil(t, f.seq.Schedule(s, threeContacts(), DefaultPolicy()))
	assert.Zero(t, f.sched.Pending())
}

func TestRetiredSessionsAreBounded(t *testing.T) {
	f := newSequencerFixture()
	total := retiredLimit + 5
	for i := 0; i < total; i++ {
		f.seq.Schedule(f.session(fmt.Sprintf("s%d", i)), nil, DefaultPolicy())
		f.seq.Cancel(fmt.Sprintf("s%d", i))
	}

	assert.Len(t, f.seq.retired, retiredLimit)
	assert.Len(t, f.seq.retiredOrder, retiredLimit)
	assert.NotContains(t, f.seq.retired, "s0")
	assert.Contains(t, f.seq.retired, fmt.Sprintf("s%d", total-1))
	assert.Empty(t, f.seq.plans)
	assert.Empty(t, f.seq.entries)
}

func TestEscalateAddsSecondaryTierOnce(t *testing.T) {
	f := newSequencerFixture()
	s := f.session("s1")
	f.seq.Schedule(s, threeContacts()[:1], DefaultPolicy())

	secondary := []models.Contact{{Name: "S0"}, {Name: "S1"}}
	tasks := f.seq.Escalate(s, secondary, 30*time.Second)
	require.Len(t, tasks, 4)
	assert.Equal(t, float64(30), tasks[2].ScheduledOffsetSeconds)
	assert.Equal(t, float64(31), tasks[3].ScheduledOffsetSeconds)
	assert.Equal(t, models.TaskTierSecondary, tasks[3].Tier)

	again := f.seq.Escalate(s, secondary, 60*time.Second)
	assert.Equal(t, tasks, again)

	assert.Nil(t, f.seq.Escalate(f.session("unknown"), secondary, 0))
}
