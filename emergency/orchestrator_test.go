package emergency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safemap/models"
)

func drain(ch <-chan models.SessionSnapshot) []models.SessionSnapshot {
	var out []models.SessionSnapshot
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, s)
		default:
			return out
		}
	}
}

func eventsOf(snaps []models.SessionSnapshot, event models.SessionEvent) []models.SessionSnapshot {
	var out []models.SessionSnapshot
	for _, s := range snaps {
		if s.Event == event {
			out = append(out, s)
		}
	}
	return out
}

func TestConcurrentActivationCreatesOneSession(t *testing.T) {
	h := newHarness(t)
	ch, unsubscribe := h.orch.Subscribe()
	defer unsubscribe()

	methods := []models.TriggerMethod{models.TriggerButtonHold, models.TriggerVoice, models.TriggerHotkey, models.TriggerShake}
	var (
		wg       sync.WaitGroup
		accepted int32
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res := h.orch.RequestActivation(ActivationRequest{
				Method:   methods[i%len(methods)],
				Contacts: threeContacts(),
				Policy:   testPolicy(),
			})
			if res.Accepted {
				atomic.AddInt32(&accepted, 1)
			} else {
				assert.Equal(t, ReasonAlreadyArming, res.Reason)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), accepted)

	h.step(3 * time.Second)
	res := h.orch.RequestActivation(ActivationRequest{Method: models.TriggerVoice})
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonAlreadyActive, res.Reason)
	h.step(2 * time.Second)

	activated := eventsOf(drain(ch), models.SessionEventActivated)
	require.Len(t, activated, 1)
	assert.NotEmpty(t, activated[0].SessionID)
	assert.Equal(t, activated[0].SessionID, h.orch.Snapshot().SessionID)
}

func TestCancelDuringArmingCreatesNothing(t *testing.T) {
	h := newHarness(t)
	ch, unsubscribe := h.orch.Subscribe()
	defer unsubscribe()

	res := h.orch.RequestActivation(ActivationRequest{Method: models.TriggerHotkey, Contacts: threeContacts(), Policy: testPolicy()})
	require.True(t, res.Accepted)
	assert.Equal(t, models.SessionStatusArming, res.Snapshot.Status)
	assert.InDelta(t, 3.0, res.Snapshot.CountdownRemaining, 0.001)

	h.step(time.Second)
	assert.InDelta(t, 2.0, h.orch.Snapshot().CountdownRemaining, 0.001)

	res = h.orch.CancelActivation()
	require.True(t, res.Accepted)
	assert.Equal(t, models.SessionStatusIdle, res.Snapshot.Status)
	assert.Equal(t, models.SessionEventArmingAborted, res.Snapshot.Event)
	assert.Empty(t, res.Snapshot.SessionID)

	h.step(10 * time.Second)

	snaps := drain(ch)
	assert.Empty(t, eventsOf(snaps, models.SessionEventActivated))
	for _, s := range snaps {
		assert.Empty(t, s.SessionID)
		assert.Empty(t, s.Tasks)
		assert.Zero(t, s.ElapsedSeconds)
	}
	assert.Empty(t, h.disp.names())
	assert.Zero(t, h.exec.Len())
	assert.Zero(t, h.sched.Pending())
	assert.Equal(t, models.SessionStatusIdle, h.orch.Snapshot().Status)
}

func TestActivationSchedulesAuthorityThenContactsInOrder(t *testing.T) {
	h := newHarness(t)

	res := h.orch.RequestActivation(ActivationRequest{Method: models.TriggerButtonHold, Contacts: threeContacts(), Policy: testPolicy()})
	require.True(t, res.Accepted)

	h.step(2 * time.Second)
	assert.Equal(t, models.SessionStatusArming, h.orch.Snapshot().Status)

	h.step(time.Second)
	snap := h.orch.Snapshot()
	require.Equal(t, models.SessionStatusActive, snap.Status)
	require.NotNil(t, snap.ArmedAt)
	assert.Equal(t, epoch.Add(3*time.Second), *snap.ArmedAt)

	require.Len(t, snap.Tasks, 4)
	wantNames := []string{DefaultAuthorityName, "C0", "C1", "C2"}
	wantOffsets := []float64{0, 4, 5, 6}
	for i, task := range snap.Tasks {
		assert.Equal(t, wantNames[i], task.Recipient.Name)
		assert.Equal(t, wantOffsets[i], task.ScheduledOffsetSeconds)
		assert.Equal(t, snap.SessionID, task.SessionID)
	}
	assert.Equal(t, models.RecipientAuthority, snap.Tasks[0].Recipient.Kind)
	assert.Equal(t, models.TaskStateSent, snap.Tasks[0].State)
	assert.Equal(t, []string{DefaultAuthorityName}, h.disp.names())

	h.step(6 * time.Second)
	assert.Equal(t, []string{DefaultAuthorityName, "C0", "C1", "C2"}, h.disp.names())

	armedAt := *snap.ArmedAt
	for i, name := range []string{"C0", "C1", "C2"} {
		calls := h.disp.callsTo(name)
		require.Len(t, calls, 1)
		assert.Equal(t, armedAt.Add(4*time.Second+time.Duration(i)*time.Second), calls[0].at)
	}

	final := h.orch.Snapshot()
	for _, task := range final.Tasks {
		assert.Equal(t, models.TaskStateSent, task.State)
		assert.Equal(t, 1, task.Attempts)
	}
}

func TestCancelWhileActiveHaltsPendingTasks(t *testing.T) {
	h := newHarness(t)
	ch, unsubscribe := h.orch.Subscribe()
	defer unsubscribe()

	h.orch.RequestActivation(ActivationRequest{Method: models.TriggerVoice, Contacts: threeContacts(), Policy: testPolicy()})
	h.step(3 * time.Second)
	sessionID := h.orch.Snapshot().SessionID

	// C0 comes due and its attempt is queued but not yet run.
	h.sched.Advance(4 * time.Second)
	require.Equal(t, 1, h.exec.Len())

	res := h.orch.CancelActivation()
	require.True(t, res.Accepted)
	assert.Equal(t, models.SessionStatusCancelled, res.Snapshot.Status)
	assert.Equal(t, models.SessionEventCancelled, res.Snapshot.Event)
	assert.Equal(t, sessionID, res.Snapshot.SessionID)
	assert.Zero(t, res.Snapshot.ElapsedSeconds)

	authority, _ := taskByName(res.Snapshot.Tasks, DefaultAuthorityName)
	c0, _ := taskByName(res.Snapshot.Tasks, "C0")
	c1, _ := taskByName(res.Snapshot.Tasks, "C1")
	c2, _ := taskByName(res.Snapshot.Tasks, "C2")
	assert.Equal(t, models.TaskStateSent, authority.State)
	assert.Equal(t, models.TaskStatePending, c0.State)
	assert.True(t, c0.InFlight)
	assert.Equal(t, models.TaskStateCancelled, c1.State)
	assert.Equal(t, models.TaskStateCancelled, c2.State)

	assert.Equal(t, models.SessionStatusIdle, h.orch.Snapshot().Status)
	assert.False(t, h.orch.Idle())

	// The in-flight attempt is allowed to finish.
	h.exec.RunPending()
	h.step(10 * time.Second)
	assert.Equal(t, []string{DefaultAuthorityName, "C0"}, h.disp.names())
	assert.True(t, h.orch.Idle())

	taskEvents := eventsOf(drain(ch), models.SessionEventTask)
	require.NotEmpty(t, taskEvents)
	last := taskEvents[len(taskEvents)-1]
	assert.Equal(t, sessionID, last.SessionID)
	assert.Equal(t, models.SessionStatusCancelled, last.Status)
	c0, _ = taskByName(last.Tasks, "C0")
	assert.Equal(t, models.TaskStateSent, c0.State)
	authority, _ = taskByName(last.Tasks, DefaultAuthorityName)
	assert.Equal(t, models.TaskStateSent, authority.State)

	again := h.orch.CancelActivation()
	assert.False(t, again.Accepted)
	assert.Equal(t, ReasonNotActive, again.Reason)
}

func TestInFlightFailureAfterCancelIsNotRetried(t *testing.T) {
	h := newHarness(t)
	h.disp.failing["C0"] = true

	h.orch.RequestActivation(ActivationRequest{Method: models.TriggerVoice, Contacts: threeContacts(), Policy: testPolicy()})
	h.step(3 * time.Second)
	h.sched.Advance(4 * time.Second)
	require.Equal(t, 1, h.exec.Len())

	h.orch.CancelActivation()
	h.exec.RunPending()
	h.step(20 * time.Second)

	assert.Len(t, h.disp.callsTo("C0"), 1)
	assert.True(t, h.orch.Idle())
	assert.Zero(t, h.sched.Pending())
}

func TestCancelAtOneSecondNeverActivates(t *testing.T) {
	h := newHarness(t)
	ch, unsubscribe := h.orch.Subscribe()
	defer unsubscribe()

	policy := testPolicy()
	policy.Countdown = 3 * time.Second
	h.orch.RequestActivation(ActivationRequest{Method: models.TriggerShake, Contacts: threeContacts(), Policy: policy})
	h.step(time.Second)
	h.orch.CancelActivation()
	h.step(5 * time.Second)

	snap := h.orch.Snapshot()
	assert.Equal(t, models.SessionStatusIdle, snap.Status)
	assert.Zero(t, snap.ElapsedSeconds)
	for _, s := range drain(ch) {
		assert.NotEqual(t, models.SessionStatusActive, s.Status)
		assert.Zero(t, s.ElapsedSeconds)
	}
}

func TestPermissionDeniedDegradesButActivates(t *testing.T) {
	h := newHarness(t)
	h.loc.currentErr = ErrPermissionDenied
	h.loc.subErr = ErrPermissionDenied

	h.orch.RequestActivation(ActivationRequest{Method: models.TriggerHotkey, Contacts: threeContacts(), Policy: testPolicy()})
	h.step(3 * time.Second)

	snap := h.orch.Snapshot()
	require.Equal(t, models.SessionStatusActive, snap.Status)
	assert.Nil(t, snap.Location)
	assert.True(t, snap.LocationDegraded)

	calls := h.disp.callsTo(DefaultAuthorityName)
	require.Len(t, calls, 1)
	payload := calls[0].payload
	assert.Equal(t, snap.SessionID, payload.SessionID)
	assert.Equal(t, "user-1", payload.UserID)
	assert.Equal(t, DefaultAuthorityPhone, payload.Recipient.Phone)
	assert.True(t, payload.LocationUnavailable)
	assert.Nil(t, payload.Location)
	assert.Contains(t, payload.Message, "Location unavailable")
	assert.Contains(t, payload.Message, "Dana")

	var warned bool
	for _, e := range h.hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == "Location permission denied, session degraded" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestPayloadCarriesLocationWhenKnown(t *testing.T) {
	h := newHarness(t)

	h.orch.RequestActivation(ActivationRequest{Method: models.TriggerHotkey, Contacts: threeContacts(), Policy: testPolicy()})
	h.step(3 * time.Second)

	snap := h.orch.Snapshot()
	require.NotNil(t, snap.Location)
	assert.False(t, snap.LocationDegraded)

	h.step(4 * time.Second)
	calls := h.disp.callsTo("C0")
	require.Len(t, calls, 1)
	assert.False(t, calls[0].payload.LocationUnavailable)
	assert.Equal(t, "https://maps.google.com/?q=40.712800,-74.006000", calls[0].payload.MapsURL)
	assert.Contains(t, calls[0].payload.Message, calls[0].payload.MapsURL)
}

func TestTaskFailsAfterMaxAttempts(t *testing.T) {
	h := newHarness(t)
	h.disp.failing["C0"] = true

	h.orch.RequestActivation(ActivationRequest{Method: models.TriggerVoice, Contacts: threeContacts(), Policy: testPolicy()})
	h.step(3 * time.Second)
	armedAt := *h.orch.Snapshot().ArmedAt
	h.step(20 * time.Second)

	snap := h.orch.Snapshot()
	assert.Equal(t, models.SessionStatusActive, snap.Status)

	c0, ok := taskByName(snap.Tasks, "C0")
	require.True(t, ok)
	assert.Equal(t, models.TaskStateFailed, c0.State)
	assert.Equal(t, DefaultMaxAttempts, c0.Attempts)
	assert.Contains(t, c0.LastError, "gateway rejected")

	// Linear backoff: 2s then 4s after the first attempt at offset 4.
	calls := h.disp.callsTo("C0")
	require.Len(t, calls, 3)
	assert.Equal(t, armedAt.Add(4*time.Second), calls[0].at)
	assert.Equal(t, armedAt.Add(6*time.Second), calls[1].at)
	assert.Equal(t, armedAt.Add(10*time.Second), calls[2].at)
	for i, c := range calls {
		assert.Equal(t, i+1, c.payload.Attempt)
	}

	for _, name := range []string{DefaultAuthorityName, "C1", "C2"} {
		task, _ := taskByName(snap.Tasks, name)
		assert.Equal(t, models.TaskStateSent, task.State, name)
	}

	var logged bool
	for _, e := range h.hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			logged = true
			assert.Equal(t, "C0", e.Data["recipient"])
		}
	}
	assert.True(t, logged)
}

func TestRejectedSubmitCountsAsFailedAttempt(t *testing.T) {
	h := newHarness(t)
	h.exec.full = true

	h.orch.RequestActivation(ActivationRequest{Method: models.TriggerVoice, Policy: testPolicy()})
	h.step(3 * time.Second)
	h.step(10 * time.Second)

	snap := h.orch.Snapshot()
	require.Len(t, snap.Tasks, 1)
	assert.Equal(t, models.TaskStateFailed, snap.Tasks[0].State)
	assert.Equal(t, DefaultMaxAttempts, snap.Tasks[0].Attempts)
	assert.True(t, snap.LocationDegraded)
	assert.Empty(t, h.disp.names())
}

func TestPanickingDispatcherCountsAsFailedAttempt(t *testing.T) {
	h := newHarness(t)
	h.loc.panics = true
	var calls int32
	h.withDispatcher(t, DispatcherFunc(func(context.Context, models.Recipient, models.NotificationPayload) error {
		atomic.AddInt32(&calls, 1)
		panic("sms gateway bug")
	}))

	h.orch.RequestActivation(ActivationRequest{Method: models.TriggerVoice, Policy: testPolicy()})
	h.step(3 * time.Second)
	h.step(time.Minute)

	snap := h.orch.Snapshot()
	require.Len(t, snap.Tasks, 1)
	assert.Equal(t, models.TaskStateFailed, snap.Tasks[0].State)
	assert.False(t, snap.Tasks[0].InFlight)
	assert.Equal(t, DefaultMaxAttempts, snap.Tasks[0].Attempts)
	assert.Contains(t, snap.Tasks[0].LastError, "dispatch panicked")
	assert.Equal(t, int32(DefaultMaxAttempts), atomic.LoadInt32(&calls))
	assert.True(t, snap.LocationDegraded)

	require.True(t, h.orch.CancelActivation().Accepted)
	assert.True(t, h.orch.Idle())
}

func TestCloseIfIdleLeavesLiveEpisodes(t *testing.T) {
	h := newHarness(t)

	h.orch.RequestActivation(ActivationRequest{Method: models.TriggerHotkey, Policy: testPolicy()})
	assert.False(t, h.orch.CloseIfIdle())
	assert.Equal(t, models.SessionStatusArming, h.orch.Snapshot().Status)

	h.step(3 * time.Second)
	assert.False(t, h.orch.CloseIfIdle())
	assert.True(t, h.orch.Active())

	require.True(t, h.orch.CancelActivation().Accepted)
	h.exec.RunPending()
	assert.True(t, h.orch.CloseIfIdle())

	res := h.orch.RequestActivation(ActivationRequest{Method: models.TriggerHotkey, Policy: testPolicy()})
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonClosed, res.Reason)
}

func TestRearmAfterCancelGetsNewSessionID(t *testing.T) {
	h := newHarness(t)
	seen := map[string]bool{}

	for i := 0; i < 3; i++ {
		res := h.orch.RequestActivation(ActivationRequest{Method: models.TriggerButtonHold, Contacts: threeContacts(), Policy: testPolicy()})
		require.True(t, res.Accepted)
		h.step(3 * time.Second)

		id := h.orch.Snapshot().SessionID
		require.NotEmpty(t, id)
		assert.False(t, seen[id], "session id reused: %s", id)
		seen[id] = true

		h.step(2 * time.Second)
		require.True(t, h.orch.CancelActivation().Accepted)
		assert.Equal(t, models.SessionStatusIdle, h.orch.Snapshot().Status)
	}
	assert.Len(t, seen, 3)
}

func TestActivationReleased(t *testing.T) {
	h := newHarness(t)

	res := h.orch.ActivationReleased()
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonNotActive, res.Reason)

	h.orch.RequestActivation(ActivationRequest{Method: models.TriggerButtonHold, Policy: testPolicy()})
	h.step(time.Second)
	res = h.orch.ActivationReleased()
	require.True(t, res.Accepted)
	assert.Equal(t, models.SessionEventArmingAborted, res.Snapshot.Event)
	h.step(5 * time.Second)
	assert.Equal(t, models.SessionStatusIdle, h.orch.Snapshot().Status)

	h.orch.RequestActivation(ActivationRequest{Method: models.TriggerVoice, Policy: testPolicy()})
	res = h.orch.ActivationReleased()
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonNotHolding, res.Reason)
	assert.Equal(t, models.SessionStatusArming, h.orch.Snapshot().Status)

	h.step(3 * time.Second)
	res = h.orch.ActivationReleased()
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonNotHolding, res.Reason)
	assert.Equal(t, models.SessionStatusActive, h.orch.Snapshot().Status)
}

func TestInvalidMethodRejected(t *testing.T) {
	h := newHarness(t)
	res := h.orch.RequestActivation(ActivationRequest{Method: "telepathy"})
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonInvalidMethod, res.Reason)
	assert.Equal(t, models.SessionStatusIdle, h.orch.Snapshot().Status)
}

func TestLocationStreamFollowsSession(t *testing.T) {
	h := newHarness(t)

	h.orch.RequestActivation(ActivationRequest{Method: models.TriggerVoice, Policy: testPolicy()})
	h.step(3 * time.Second)
	require.Equal(t, 1, h.loc.openSubscriptions())

	h.loc.push(models.Position{Latitude: 51.5, Longitude: -0.12, Accuracy: 5, CapturedAt: epoch.Add(5 * time.Second)})
	snap := h.orch.Snapshot()
	require.NotNil(t, snap.Location)
	assert.Equal(t, 51.5, snap.Location.Latitude)

	// A stale one-shot fix does not replace the streamed one.
	h.orch.handleLocationResult(h.orch.gen, models.Position{Latitude: 1, CapturedAt: epoch}, nil)
	assert.Equal(t, 51.5, h.orch.Snapshot().Location.Latitude)

	h.orch.CancelActivation()
	assert.Zero(t, h.loc.openSubscriptions())
	assert.Nil(t, h.orch.Snapshot().Location)
}

func TestSessionTimerStopsWithSession(t *testing.T) {
	h := newHarness(t)

	h.orch.RequestActivation(ActivationRequest{Method: models.TriggerVoice, Policy: testPolicy()})
	h.step(3 * time.Second)
	assert.Zero(t, h.orch.Snapshot().ElapsedSeconds)

	h.step(5 * time.Second)
	assert.Equal(t, 5, h.orch.Snapshot().ElapsedSeconds)

	res := h.orch.CancelActivation()
	assert.Zero(t, res.Snapshot.ElapsedSeconds)
	assert.Zero(t, h.sched.Pending())

	h.step(5 * time.Second)
	snap := h.orch.Snapshot()
	assert.Equal(t, models.SessionStatusIdle, snap.Status)
	assert.Zero(t, snap.ElapsedSeconds)
}

func TestEscalationSchedulesSecondaryTier(t *testing.T) {
	h := newHarness(t)
	policy := testPolicy()
	policy.EscalateAfter = 10 * time.Second
	contacts := []models.Contact{
		{Name: "C0", Phone: "+15550000000"},
		{Name: "S0", Phone: "+15550000009", Secondary: true},
		{Name: "S1", Phone: "+15550000008", Secondary: true},
	}

	h.orch.RequestActivation(ActivationRequest{Method: models.TriggerVoice, Contacts: contacts, Policy: policy})
	h.step(3 * time.Second)
	armedAt := *h.orch.Snapshot().ArmedAt
	require.Len(t, h.orch.Snapshot().Tasks, 2)

	h.step(9 * time.Second)
	assert.False(t, h.orch.Snapshot().Escalated)
	assert.Empty(t, h.disp.callsTo("S0"))

	h.step(2 * time.Second)
	snap := h.orch.Snapshot()
	assert.True(t, snap.Escalated)
	require.Len(t, snap.Tasks, 4)

	s0, _ := taskByName(snap.Tasks, "S0")
	assert.Equal(t, models.TaskTierSecondary, s0.Tier)
	assert.Equal(t, float64(10), s0.ScheduledOffsetSeconds)
	calls := h.disp.callsTo("S0")
	require.Len(t, calls, 1)
	assert.Equal(t, armedAt.Add(10*time.Second), calls[0].at)

	h.step(time.Second)
	calls = h.disp.callsTo("S1")
	require.Len(t, calls, 1)
	assert.Equal(t, armedAt.Add(11*time.Second), calls[0].at)
}

func TestResolveEndsActiveSession(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, ReasonNotActive, h.orch.Resolve().Reason)

	h.orch.RequestActivation(ActivationRequest{Method: models.TriggerVoice, Contacts: threeContacts(), Policy: testPolicy()})
	h.step(3 * time.Second)

	res := h.orch.Resolve()
	require.True(t, res.Accepted)
	assert.Equal(t, models.SessionStatusResolved, res.Snapshot.Status)
	assert.Equal(t, EndReasonResolved, res.Snapshot.EndReason)
	require.NotNil(t, res.Snapshot.EndedAt)
	assert.Equal(t, models.SessionStatusIdle, h.orch.Snapshot().Status)
}

func TestSlowSubscriberKeepsLatestSnapshot(t *testing.T) {
	h := newHarness(t)
	ch, unsubscribe := h.orch.Subscribe()

	h.orch.RequestActivation(ActivationRequest{Method: models.TriggerVoice, Policy: testPolicy()})
	h.step(3 * time.Second)
	h.step(60 * time.Second)

	snaps := drain(ch)
	require.Len(t, snaps, subscriberBuffer)
	assert.Equal(t, 60, snaps[len(snaps)-1].ElapsedSeconds)

	unsubscribe()
	unsubscribe()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestCloseEndsSessionAndRejectsCommands(t *testing.T) {
	h := newHarness(t)
	ch, _ := h.orch.Subscribe()

	h.orch.RequestActivation(ActivationRequest{Method: models.TriggerVoice, Contacts: threeContacts(), Policy: testPolicy()})
	h.step(3 * time.Second)
	h.orch.Close()

	snaps := drain(ch)
	require.NotEmpty(t, snaps)
	last := snaps[len(snaps)-1]
	assert.Equal(t, models.SessionStatusCancelled, last.Status)
	assert.Equal(t, EndReasonShutdown, last.EndReason)

	assert.Equal(t, ReasonClosed, h.orch.RequestActivation(ActivationRequest{Method: models.TriggerVoice}).Reason)
	assert.Equal(t, ReasonClosed, h.orch.CancelActivation().Reason)
	assert.Zero(t, h.sched.Pending())
	assert.Zero(t, h.loc.openSubscriptions())
}
