package emergency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"safemap/models"
)

// End reasons recorded on finished sessions.
const (
	EndReasonUserCancelled = "user_cancelled"
	EndReasonResolved      = "operator_resolved"
	EndReasonShutdown      = "shutdown"
)

const subscriberBuffer = 32

// Dependencies are the collaborators an Orchestrator calls into. Only
// Dispatcher is required.
type Dependencies struct {
	Scheduler  Scheduler
	Location   LocationProvider
	Dispatcher Dispatcher
	Executor   Executor
	NewID      func() string
	Logger     *logrus.Entry
}

// ActivationRequest carries everything frozen at arming time.
type ActivationRequest struct {
	Method   models.TriggerMethod
	Contacts []models.Contact
	Policy   Policy
}

// CommandResult reports whether a command changed state. A rejected command
// carries a reason and leaves state untouched.
type CommandResult struct {
	Accepted bool
	Reason   string
	Snapshot models.SessionSnapshot
}

type arming struct {
	method    models.TriggerMethod
	startedAt time.Time
	deadline  time.Time
	policy    Policy
	contacts  []models.Contact
	timer     Timer
}

type effects []func()

func (e effects) run() {
	for _, f := range e {
		f()
	}
}

// Orchestrator owns the single emergency slot of one user. All transitions
// happen under one lock, in arrival order. Blocking work (location lookups,
// dispatch I/O, subscriber callbacks into providers) runs after the lock is
// released, and every callback that re-enters carries the generation it was
// created under so stale timers and results are ignored.
type Orchestrator struct {
	owner string
	sched Scheduler
	loc   LocationProvider
	disp  Dispatcher
	exec  Executor
	newID func() string
	log   *logrus.Entry

	mu     sync.Mutex
	closed bool
	gen    uint64
	status models.SessionStatus

	arming    *arming
	session   *models.EmergencySession
	policy    Policy
	secondary []models.Contact
	timer     *SessionTimer
	seq       *Sequencer
	locSub    Subscription

	// ended keeps finished sessions until their in-flight attempts report back.
	ended map[string]*models.EmergencySession

	subs    map[int]chan models.SessionSnapshot
	nextSub int
}

func NewOrchestrator(owner string, deps Dependencies) *Orchestrator {
	if deps.Scheduler == nil {
		deps.Scheduler = NewScheduler(nil)
	}
	if deps.Location == nil {
		deps.Location = unavailableLocation{}
	}
	if deps.Executor == nil {
		deps.Executor = GoExecutor()
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	if deps.Logger == nil {
		deps.Logger = logrus.NewEntry(logrus.StandardLogger())
	}

	o := &Orchestrator{
		owner:  owner,
		sched:  deps.Scheduler,
		loc:    deps.Location,
		disp:   deps.Dispatcher,
		exec:   deps.Executor,
		newID:  deps.NewID,
		log:    deps.Logger.WithField("userId", owner),
		status: models.SessionStatusIdle,
		ended:  make(map[string]*models.EmergencySession),
		subs:   make(map[int]chan models.SessionSnapshot),
	}
	o.timer = NewSessionTimer(o.sched, DefaultTickInterval)
	o.seq = NewSequencer(o.sched, o.newID, o.handleTaskDue)
	return o
}

// RequestActivation starts the countdown. It is a no-op unless the slot is idle.
func (o *Orchestrator) RequestActivation(req ActivationRequest) CommandResult {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch {
	case o.closed:
		return o.rejectLocked(ReasonClosed)
	case !req.Method.Valid():
		return o.rejectLocked(ReasonInvalidMethod)
	case o.status == models.SessionStatusArming:
		return o.rejectLocked(ReasonAlreadyArming)
	case o.status == models.SessionStatusActive:
		return o.rejectLocked(ReasonAlreadyActive)
	}

	policy := req.Policy.withDefaults()
	now := o.sched.Now()
	o.gen++
	gen := o.gen
	o.status = models.SessionStatusArming
	o.arming = &arming{
		method:    req.Method,
		startedAt: now,
		deadline:  now.Add(policy.Countdown),
		policy:    policy,
		contacts:  append([]models.Contact(nil), req.Contacts...),
	}
	o.arming.timer = o.sched.AfterFunc(policy.Countdown, func() {
		o.handleCountdownDone(gen)
	})

	o.log.WithFields(logrus.Fields{
		"method":    req.Method,
		"countdown": policy.Countdown.String(),
	}).Info("Emergency arming started")

	snap := o.snapshotLocked(models.SessionEventArming)
	o.publishLocked(snap)
	return CommandResult{Accepted: true, Snapshot: snap}
}

// ActivationReleased aborts a press-and-hold countdown. Other trigger
// methods cannot be released.
func (o *Orchestrator) ActivationReleased() CommandResult {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return o.rejectLocked(ReasonClosed)
	}
	if o.status != models.SessionStatusArming {
		if o.status == models.SessionStatusIdle {
			return o.rejectLocked(ReasonNotActive)
		}
		return o.rejectLocked(ReasonNotHolding)
	}
	if o.arming.method != models.TriggerButtonHold {
		return o.rejectLocked(ReasonNotHolding)
	}
	return o.abortArmingLocked("released")
}

// CancelActivation aborts the countdown or ends the active session.
func (o *Orchestrator) CancelActivation() CommandResult {
	var (
		res  CommandResult
		effs effects
	)

	o.mu.Lock()
	switch {
	case o.closed:
		res = o.rejectLocked(ReasonClosed)
	case o.status == models.SessionStatusArming:
		res = o.abortArmingLocked("cancelled")
	case o.status == models.SessionStatusActive:
		res, effs = o.endSessionLocked(models.SessionStatusCancelled, models.SessionEventCancelled, EndReasonUserCancelled)
	default:
		res = o.rejectLocked(ReasonNotActive)
	}
	o.mu.Unlock()

	effs.run()
	return res
}

// Resolve ends the active session on behalf of an operator.
func (o *Orchestrator) Resolve() CommandResult {
	var (
		res  CommandResult
		effs effects
	)

	o.mu.Lock()
	switch {
	case o.closed:
		res = o.rejectLocked(ReasonClosed)
	case o.status == models.SessionStatusActive:
		res, effs = o.endSessionLocked(models.SessionStatusResolved, models.SessionEventResolved, EndReasonResolved)
	default:
		res = o.rejectLocked(ReasonNotActive)
	}
	o.mu.Unlock()

	effs.run()
	return res
}

// Snapshot returns the current state.
func (o *Orchestrator) Snapshot() models.SessionSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked(models.SessionEventState)
}

// Active reports whether a session is currently armed.
func (o *Orchestrator) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status == models.SessionStatusActive
}

// Idle reports whether the slot is empty and no attempt is still in flight.
func (o *Orchestrator) Idle() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.idleLocked()
}

func (o *Orchestrator) idleLocked() bool {
	return o.status == models.SessionStatusIdle && len(o.ended) == 0
}

// Subscribe registers an observer. Slow observers lose intermediate
// snapshots, never the latest one. The returned func unregisters.
func (o *Orchestrator) Subscribe() (<-chan models.SessionSnapshot, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ch := make(chan models.SessionSnapshot, subscriberBuffer)
	if o.closed {
		close(ch)
		return ch, func() {}
	}
	id := o.nextSub
	o.nextSub++
	o.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			if c, ok := o.subs[id]; ok {
				delete(o.subs, id)
				close(c)
			}
		})
	}
}

// Close ends any episode, stops every timer, and closes all observers.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}

	var effs effects
	switch o.status {
	case models.SessionStatusArming:
		o.abortArmingLocked(EndReasonShutdown)
	case models.SessionStatusActive:
		_, effs = o.endSessionLocked(models.SessionStatusCancelled, models.SessionEventCancelled, EndReasonShutdown)
	}
	o.closeLocked()
	o.mu.Unlock()
	effs.run()
}

// CloseIfIdle closes the orchestrator only if it is idle, checked under the
// same lock, so an activation can never be accepted and then aborted.
func (o *Orchestrator) CloseIfIdle() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return true
	}
	if !o.idleLocked() {
		return false
	}
	o.closeLocked()
	return true
}

func (o *Orchestrator) closeLocked() {
	o.closed = true
	o.gen++
	for id, ch := range o.subs {
		delete(o.subs, id)
		close(ch)
	}
}

func (o *Orchestrator) abortArmingLocked(reason string) CommandResult {
	if o.arming.timer != nil {
		o.arming.timer.Stop()
	}
	o.log.WithFields(logrus.Fields{
		"method": o.arming.method,
		"reason": reason,
	}).Info("Emergency arming aborted")

	o.gen++
	o.arming = nil
	o.status = models.SessionStatusIdle

	snap := o.snapshotLocked(models.SessionEventArmingAborted)
	o.publishLocked(snap)
	return CommandResult{Accepted: true, Snapshot: snap}
}

func (o *Orchestrator) handleCountdownDone(gen uint64) {
	o.mu.Lock()
	if gen != o.gen || o.status != models.SessionStatusArming {
		o.mu.Unlock()
		return
	}
	effs := o.activateLocked()
	o.mu.Unlock()
	effs.run()
}

func (o *Orchestrator) activateLocked() effects {
	a := o.arming
	now := o.sched.Now()
	armedAt := now

	o.gen++
	gen := o.gen
	o.status = models.SessionStatusActive
	o.arming = nil
	o.policy = a.policy

	var primary []models.Contact
	o.secondary = nil
	for _, c := range a.contacts {
		if c.Secondary {
			o.secondary = append(o.secondary, c)
		} else {
			primary = append(primary, c)
		}
	}

	o.session = &models.EmergencySession{
		ID:              o.newID(),
		UserID:          o.owner,
		Status:          models.SessionStatusActive,
		TriggerMethod:   a.method,
		ArmingStartedAt: a.startedAt,
		ArmedAt:         &armedAt,
		Contacts:        a.contacts,
		Silent:          a.policy.Silent,
		UpdatedAt:       now,
	}

	o.timer = NewSessionTimer(o.sched, a.policy.TickInterval)
	o.timer.Start(armedAt, func() {
		o.handleTick(gen)
	})

	o.log.WithFields(logrus.Fields{
		"sessionId": o.session.ID,
		"method":    a.method,
		"contacts":  len(primary),
		"secondary": len(o.secondary),
	}).Info("Emergency session activated")

	// The authority task is due immediately; scheduling goes last so its
	// callback observes a fully built session.
	o.session.Tasks = o.seq.Schedule(o.session, primary, a.policy)
	o.publishLocked(o.snapshotLocked(models.SessionEventActivated))

	timeout := a.policy.LocationTimeout
	return effects{
		func() {
			err := o.exec.Submit(func() {
				defer func() {
					if r := recover(); r != nil {
						o.handleLocationError(gen, fmt.Errorf("location lookup panicked: %v", r))
					}
				}()
				ctx, cancel := context.WithTimeout(context.Background(), timeout)
				defer cancel()
				pos, err := o.loc.CurrentPosition(ctx)
				o.handleLocationResult(gen, pos, err)
			})
			if err != nil {
				o.handleLocationError(gen, err)
			}
		},
		func() {
			sub, err := o.loc.Subscribe(
				func(p models.Position) { o.handleLocationResult(gen, p, nil) },
				func(err error) { o.handleLocationError(gen, err) },
			)
			o.attachSubscription(gen, sub, err)
		},
	}
}

func (o *Orchestrator) attachSubscription(gen uint64, sub Subscription, err error) {
	if err != nil {
		o.handleLocationError(gen, err)
		return
	}

	o.mu.Lock()
	if gen != o.gen || o.status != models.SessionStatusActive {
		o.mu.Unlock()
		if sub != nil {
			sub.Unsubscribe()
		}
		return
	}
	o.locSub = sub
	o.mu.Unlock()
}

func (o *Orchestrator) handleLocationResult(gen uint64, pos models.Position, err error) {
	if err != nil {
		o.handleLocationError(gen, err)
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen || o.status != models.SessionStatusActive {
		return
	}
	// An older one-shot fix must not overwrite a newer streamed one.
	if cur := o.session.Location; cur != nil && pos.CapturedAt.Before(cur.CapturedAt) {
		return
	}
	o.session.Location = &pos
	o.session.LocationDegraded = false
	o.session.UpdatedAt = o.sched.Now()
	o.publishLocked(o.snapshotLocked(models.SessionEventLocation))
}

func (o *Orchestrator) handleLocationError(gen uint64, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen || o.status != models.SessionStatusActive {
		return
	}

	entry := o.log.WithField("sessionId", o.session.ID).WithError(err)
	if errors.Is(err, ErrPermissionDenied) {
		entry.Warn("Location permission denied, session degraded")
	} else {
		entry.Warn("Location unavailable, session degraded")
	}
	if o.session.LocationDegraded {
		return
	}
	o.session.LocationDegraded = true
	o.session.UpdatedAt = o.sched.Now()
	o.publishLocked(o.snapshotLocked(models.SessionEventLocation))
}

func (o *Orchestrator) handleTick(gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen || o.status != models.SessionStatusActive {
		return
	}
	elapsed := o.timer.Tick()
	if elapsed < 0 {
		return
	}
	o.session.ElapsedSeconds = elapsed
	o.session.UpdatedAt = o.sched.Now()

	after := o.policy.EscalateAfter
	if after > 0 && !o.session.Escalated && time.Duration(elapsed)*time.Second >= after {
		o.session.Escalated = true
		o.session.Tasks = o.seq.Escalate(o.session, o.secondary, after)
		o.log.WithFields(logrus.Fields{
			"sessionId": o.session.ID,
			"secondary": len(o.secondary),
		}).Warn("Emergency escalated to secondary contacts")
		o.publishLocked(o.snapshotLocked(models.SessionEventEscalated))
		return
	}
	o.publishLocked(o.snapshotLocked(models.SessionEventTick))
}

func (o *Orchestrator) handleTaskDue(taskID string) {
	o.mu.Lock()
	task, ok := o.seq.Begin(taskID)
	if !ok {
		o.mu.Unlock()
		return
	}
	timeout := o.policy.DispatchTimeout
	o.syncTaskLocked(task)
	o.mu.Unlock()

	job := func() {
		// A panic is a failed attempt; the task must not stay in flight.
		reported := false
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if reported {
				panic(r)
			}
			o.handleDispatchResult(task, &DispatchError{TaskID: task.ID, Recipient: task.Recipient.Name, Attempt: task.Attempts, Err: fmt.Errorf("dispatch panicked: %v", r)})
		}()

		payload, ok := o.payloadFor(task)
		if !ok {
			reported = true
			o.handleDispatchResult(task, errors.New("session record missing"))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var err error
		if o.disp == nil {
			err = errors.New("no dispatcher configured")
		} else {
			err = o.disp.Dispatch(ctx, task.Recipient, payload)
		}
		if err != nil {
			err = &DispatchError{TaskID: task.ID, Recipient: task.Recipient.Name, Attempt: task.Attempts, Err: err}
		}
		reported = true
		o.handleDispatchResult(task, err)
	}
	if err := o.exec.Submit(job); err != nil {
		o.handleDispatchResult(task, &DispatchError{TaskID: task.ID, Recipient: task.Recipient.Name, Attempt: task.Attempts, Err: err})
	}
}

func (o *Orchestrator) handleDispatchResult(attempt models.NotificationTask, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	task, ok := o.seq.Complete(attempt.ID, err)
	if !ok {
		return
	}

	entry := o.log.WithFields(logrus.Fields{
		"sessionId": task.SessionID,
		"taskId":    task.ID,
		"recipient": task.Recipient.Name,
		"attempt":   task.Attempts,
	})
	switch task.State {
	case models.TaskStateSent:
		entry.Info("Emergency notification sent")
	case models.TaskStateFailed:
		entry.WithError(err).Error("Emergency notification failed, retries exhausted")
	case models.TaskStateCancelled:
		entry.WithError(err).Info("Emergency notification dropped after session end")
	default:
		entry.WithError(err).Warn("Emergency notification attempt failed, retrying")
	}

	o.syncTaskLocked(task)
	if rec, ok := o.ended[task.SessionID]; ok && !o.seq.InFlight(task.SessionID) {
		delete(o.ended, rec.ID)
	}
}

// syncTaskLocked copies a task into whichever record owns it and publishes.
func (o *Orchestrator) syncTaskLocked(task models.NotificationTask) {
	if o.session != nil && o.session.ID == task.SessionID {
		o.session.Tasks = o.seq.Tasks(task.SessionID)
		o.session.UpdatedAt = o.sched.Now()
		o.publishLocked(o.snapshotLocked(models.SessionEventTask))
		return
	}
	rec, ok := o.ended[task.SessionID]
	if !ok {
		return
	}
	for i := range rec.Tasks {
		if rec.Tasks[i].ID == task.ID {
			rec.Tasks[i] = task
		}
	}
	rec.UpdatedAt = o.sched.Now()
	o.publishLocked(o.recordSnapshot(rec, models.SessionEventTask))
}

func (o *Orchestrator) payloadFor(task models.NotificationTask) (models.NotificationPayload, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec := o.ended[task.SessionID]
	if o.session != nil && o.session.ID == task.SessionID {
		rec = o.session
	}
	if rec == nil {
		return models.NotificationPayload{}, false
	}
	return buildPayload(rec, o.policy, task), true
}

func (o *Orchestrator) endSessionLocked(status models.SessionStatus, event models.SessionEvent, reason string) (CommandResult, effects) {
	now := o.sched.Now()
	rec := o.session

	o.gen++
	o.timer.Stop()
	rec.Tasks = o.seq.Cancel(rec.ID)
	rec.Status = status
	rec.EndedAt = &now
	rec.EndReason = reason
	rec.UpdatedAt = now

	var effs effects
	if sub := o.locSub; sub != nil {
		effs = append(effs, sub.Unsubscribe)
	}
	o.locSub = nil
	o.session = nil
	o.status = models.SessionStatusIdle

	if o.seq.InFlight(rec.ID) {
		o.ended[rec.ID] = rec
	}

	o.log.WithFields(logrus.Fields{
		"sessionId": rec.ID,
		"status":    status,
		"reason":    reason,
		"elapsed":   rec.ElapsedSeconds,
	}).Info("Emergency session ended")

	snap := o.recordSnapshot(rec, event)
	o.publishLocked(snap)
	return CommandResult{Accepted: true, Snapshot: snap}, effs
}

func (o *Orchestrator) rejectLocked(reason string) CommandResult {
	return CommandResult{Reason: reason, Snapshot: o.snapshotLocked(models.SessionEventState)}
}

func (o *Orchestrator) snapshotLocked(event models.SessionEvent) models.SessionSnapshot {
	now := o.sched.Now()
	switch o.status {
	case models.SessionStatusArming:
		remaining := o.arming.deadline.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		return models.SessionSnapshot{
			UserID:             o.owner,
			Status:             o.status,
			Event:              event,
			TriggerMethod:      o.arming.method,
			CountdownRemaining: remaining.Seconds(),
			Silent:             o.arming.policy.Silent,
			Timestamp:          now,
		}
	case models.SessionStatusActive:
		return o.recordSnapshot(o.session, event)
	}
	return models.SessionSnapshot{
		UserID:    o.owner,
		Status:    models.SessionStatusIdle,
		Event:     event,
		Timestamp: now,
	}
}

// recordSnapshot renders a session record. Ended records report zero elapsed
// seconds: the counter resets with the slot.
func (o *Orchestrator) recordSnapshot(rec *models.EmergencySession, event models.SessionEvent) models.SessionSnapshot {
	snap := models.SessionSnapshot{
		UserID:           o.owner,
		SessionID:        rec.ID,
		Status:           rec.Status,
		Event:            event,
		TriggerMethod:    rec.TriggerMethod,
		ArmedAt:          rec.ArmedAt,
		ElapsedSeconds:   rec.ElapsedSeconds,
		LocationDegraded: rec.LocationDegraded,
		Tasks:            append([]models.NotificationTask(nil), rec.Tasks...),
		Escalated:        rec.Escalated,
		Silent:           rec.Silent,
		EndedAt:          rec.EndedAt,
		EndReason:        rec.EndReason,
		Timestamp:        o.sched.Now(),
	}
	if rec.Location != nil {
		loc := *rec.Location
		snap.Location = &loc
	}
	if rec.Status.IsTerminal() {
		snap.ElapsedSeconds = 0
	}
	return snap
}

func (o *Orchestrator) publishLocked(snap models.SessionSnapshot) {
	for _, ch := range o.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		// Drop the oldest queued snapshot to make room for the newest.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
