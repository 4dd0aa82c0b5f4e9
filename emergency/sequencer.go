package emergency

import (
	"time"

	"safemap/models"
)

// retiredLimit bounds how many finished session ids are remembered.
const retiredLimit = 32

// Sequencer turns the contact list frozen at arming time into a staggered
// delivery plan and tracks every task through its attempts.
//
// The authority task is due at offset 0; contact i of a tier starting at s is
// due at s + i*gap. Offsets are measured from armedAt.
//
// A Sequencer is owned by one Orchestrator and is only touched while the
// orchestrator holds its lock. Timer callbacks re-enter through onDue.
type Sequencer struct {
	sched Scheduler
	newID func() string
	onDue func(taskID string)

	plans   map[string]*plan
	entries map[string]*taskEntry
	retired map[string]struct{}
	// retiredOrder holds retired ids oldest first.
	retiredOrder []string
}

type plan struct {
	sessionID string
	armedAt   time.Time
	policy    Policy
	tiers     map[models.TaskTier]bool
	order     []string
	void      bool
}

type taskEntry struct {
	task     models.NotificationTask
	plan     *plan
	timer    Timer
	inFlight bool
}

func NewSequencer(sched Scheduler, newID func() string, onDue func(taskID string)) *Sequencer {
	return &Sequencer{
		sched:   sched,
		newID:   newID,
		onDue:   onDue,
		plans:   make(map[string]*plan),
		entries: make(map[string]*taskEntry),
		retired: make(map[string]struct{}),
	}
}

// Schedule creates the authority task and one task per primary contact. A
// repeated call for the same session returns the existing tasks unchanged.
func (s *Sequencer) Schedule(session *models.EmergencySession, contacts []models.Contact, policy Policy) []models.NotificationTask {
	if _, done := s.retired[session.ID]; done {
		return nil
	}
	p := s.planFor(session, policy)
	if p.tiers[models.TaskTierPrimary] || p.void {
		return s.Tasks(session.ID)
	}
	p.tiers[models.TaskTierAuthority] = true
	p.tiers[models.TaskTierPrimary] = true

	s.add(p, policy.Authority, models.TaskTierAuthority, 0)
	for i, c := range contacts {
		s.add(p, models.RecipientFromContact(c), models.TaskTierPrimary, p.policy.BaseDelay+time.Duration(i)*p.policy.ContactGap)
	}
	return s.Tasks(session.ID)
}

// Escalate schedules the secondary tier starting at the given offset from
// armedAt. It is a no-op after the first call for a session.
func (s *Sequencer) Escalate(session *models.EmergencySession, contacts []models.Contact, start time.Duration) []models.NotificationTask {
	p, ok := s.plans[session.ID]
	if !ok || p.void || p.tiers[models.TaskTierSecondary] {
		return s.Tasks(session.ID)
	}
	p.tiers[models.TaskTierSecondary] = true

	for i, c := range contacts {
		s.add(p, models.RecipientFromContact(c), models.TaskTierSecondary, start+time.Duration(i)*p.policy.ContactGap)
	}
	return s.Tasks(session.ID)
}

// Begin marks a task as in flight and returns a copy carrying the new attempt
// number. It refuses tasks that are settled, already in flight, or void.
func (s *Sequencer) Begin(taskID string) (models.NotificationTask, bool) {
	e, ok := s.entries[taskID]
	if !ok || e.plan.void || e.inFlight || e.task.State != models.TaskStatePending {
		return models.NotificationTask{}, false
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.inFlight = true
	e.task.InFlight = true
	e.task.Attempts++
	e.task.UpdatedAt = s.sched.Now()
	return e.task, true
}

// Complete records the outcome of an in-flight attempt. A failure is retried
// after attempts*RetryDelay until MaxAttempts is reached; a failure on a void
// plan is never retried.
func (s *Sequencer) Complete(taskID string, err error) (models.NotificationTask, bool) {
	e, ok := s.entries[taskID]
	if !ok || !e.inFlight {
		return models.NotificationTask{}, false
	}
	now := s.sched.Now()
	e.inFlight = false
	e.task.InFlight = false
	e.task.UpdatedAt = now

	switch {
	case err == nil:
		e.task.State = models.TaskStateSent
		e.task.SentAt = &now
		e.task.LastError = ""
	case e.plan.void:
		e.task.State = models.TaskStateCancelled
		e.task.LastError = err.Error()
	case e.task.Attempts >= e.task.MaxAttempts:
		e.task.State = models.TaskStateFailed
		e.task.LastError = err.Error()
	default:
		e.task.LastError = err.Error()
		delay := time.Duration(e.task.Attempts) * e.plan.policy.RetryDelay
		s.arm(e, delay)
	}

	task := e.task
	s.prune()
	return task, true
}

// Cancel voids the session's plan: pending tasks are cancelled, in-flight
// tasks are left to finish, sent tasks stay sent.
func (s *Sequencer) Cancel(sessionID string) []models.NotificationTask {
	p, ok := s.plans[sessionID]
	if !ok {
		return nil
	}
	p.void = true
	now := s.sched.Now()
	for _, id := range p.order {
		e := s.entries[id]
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		if !e.inFlight && e.task.State == models.TaskStatePending {
			e.task.State = models.TaskStateCancelled
			e.task.UpdatedAt = now
		}
	}
	tasks := s.Tasks(sessionID)
	s.prune()
	return tasks
}

// Tasks returns the session's tasks in schedule order.
func (s *Sequencer) Tasks(sessionID string) []models.NotificationTask {
	p, ok := s.plans[sessionID]
	if !ok {
		return nil
	}
	tasks := make([]models.NotificationTask, 0, len(p.order))
	for _, id := range p.order {
		tasks = append(tasks, s.entries[id].task)
	}
	return tasks
}

// Task returns a single task by id.
func (s *Sequencer) Task(taskID string) (models.NotificationTask, bool) {
	e, ok := s.entries[taskID]
	if !ok {
		return models.NotificationTask{}, false
	}
	return e.task, true
}

// InFlight reports whether any attempt for the session is still running.
func (s *Sequencer) InFlight(sessionID string) bool {
	p, ok := s.plans[sessionID]
	if !ok {
		return false
	}
	for _, id := range p.order {
		if s.entries[id].inFlight {
			return true
		}
	}
	return false
}

func (s *Sequencer) planFor(session *models.EmergencySession, policy Policy) *plan {
	if p, ok := s.plans[session.ID]; ok {
		return p
	}
	armedAt := s.sched.Now()
	if session.ArmedAt != nil {
		armedAt = *session.ArmedAt
	}
	p := &plan{
		sessionID: session.ID,
		armedAt:   armedAt,
		policy:    policy.withDefaults(),
		tiers:     make(map[models.TaskTier]bool),
	}
	s.plans[session.ID] = p
	return p
}

func (s *Sequencer) add(p *plan, recipient models.Recipient, tier models.TaskTier, offset time.Duration) {
	e := &taskEntry{
		plan: p,
		task: models.NotificationTask{
			ID:                     s.newID(),
			SessionID:              p.sessionID,
			Recipient:              recipient,
			Tier:                   tier,
			ScheduledOffsetSeconds: offset.Seconds(),
			State:                  models.TaskStatePending,
			MaxAttempts:            p.policy.MaxAttempts,
			UpdatedAt:              s.sched.Now(),
		},
	}
	s.entries[e.task.ID] = e
	p.order = append(p.order, e.task.ID)

	due := p.armedAt.Add(offset)
	s.arm(e, due.Sub(s.sched.Now()))
}

func (s *Sequencer) arm(e *taskEntry, delay time.Duration) {
	id := e.task.ID
	e.timer = s.sched.AfterFunc(delay, func() {
		s.onDue(id)
	})
}

// prune forgets void plans whose tasks have all settled.
func (s *Sequencer) prune() {
	for id, p := range s.plans {
		if !p.void || s.InFlight(id) {
			continue
		}
		for _, tid := range p.order {
			delete(s.entries, tid)
		}
		delete(s.plans, id)
		s.retire(id)
	}
}

func (s *Sequencer) retire(id string) {
	s.retired[id] = struct{}{}
	s.retiredOrder = append(s.retiredOrder, id)
	if len(s.retiredOrder) > retiredLimit {
		delete(s.retired, s.retiredOrder[0])
		s.retiredOrder = s.retiredOrder[1:]
	}
}
