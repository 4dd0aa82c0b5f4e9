package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"safemap/emergency"
	"safemap/models"
	"safemap/repositories"
	"safemap/utils"
)

const persistTimeout = 5 * time.Second

type EmergencyDeps struct {
	Sessions   SessionStore
	Contacts   ContactStore
	Settings   SettingsStore
	Cache      ActiveSessionCache
	Locations  LocationFeed
	Dispatcher emergency.Dispatcher
	Notifier   UserNotifier
	Executor   emergency.Executor
	Scheduler  emergency.Scheduler
	Defaults   emergency.Policy
	NewID      func() string
}

// EmergencyService owns one orchestrator per user, created on first use.
// Every snapshot an orchestrator publishes is pushed to the user's live
// connections, mirrored into the active-session cache, and persisted as the
// session record.
type EmergencyService struct {
	deps EmergencyDeps

	mu     sync.Mutex
	users  map[string]*userSlot
	closed bool
	wg     sync.WaitGroup
}

type userSlot struct {
	orch        *emergency.Orchestrator
	unsubscribe func()

	mu      sync.Mutex
	pending *armingContext
}

// armingContext is what the record of the next session needs but snapshots
// do not carry.
type armingContext struct {
	contacts  []models.Contact
	startedAt time.Time
}

func NewEmergencyService(deps EmergencyDeps) *EmergencyService {
	if deps.Scheduler == nil {
		deps.Scheduler = emergency.NewScheduler(nil)
	}
	if deps.Executor == nil {
		deps.Executor = emergency.GoExecutor()
	}
	return &EmergencyService{
		deps:  deps,
		users: make(map[string]*userSlot),
	}
}

// SetNotifier attaches the live connection hub once it exists.
func (es *EmergencyService) SetNotifier(n UserNotifier) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.deps.Notifier = n
}

func (es *EmergencyService) notifier() UserNotifier {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.deps.Notifier
}

// slot returns the user's orchestrator, creating it when create is set.
func (es *EmergencyService) slot(userID string, create bool) (*userSlot, error) {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.closed {
		return nil, emergency.ErrOrchestratorClosed
	}
	if s, ok := es.users[userID]; ok {
		return s, nil
	}
	if !create {
		return nil, nil
	}

	var location emergency.LocationProvider
	if es.deps.Locations != nil {
		location = es.deps.Locations.ForUser(userID)
	}
	orch := emergency.NewOrchestrator(userID, emergency.Dependencies{
		Scheduler:  es.deps.Scheduler,
		Location:   location,
		Dispatcher: es.deps.Dispatcher,
		Executor:   es.deps.Executor,
		NewID:      es.deps.NewID,
		Logger:     logrus.WithField("component", "emergency"),
	})
	ch, unsubscribe := orch.Subscribe()
	s := &userSlot{orch: orch, unsubscribe: unsubscribe}
	es.users[userID] = s

	es.wg.Add(1)
	go es.watch(userID, s, ch)
	return s, nil
}

// Activate implements triggers.Sink. Contacts and settings are read once
// here and frozen into the episode. A failed read never blocks activation:
// the authority is still alerted.
func (es *EmergencyService) Activate(ctx context.Context, userID string, method models.TriggerMethod) (emergency.CommandResult, error) {
	for attempt := 0; attempt < 2; attempt++ {
		s, err := es.slot(userID, true)
		if err != nil {
			return emergency.CommandResult{}, errShuttingDown()
		}

		if !method.Valid() {
			return s.orch.RequestActivation(emergency.ActivationRequest{Method: method}), nil
		}
		// Skip the store reads when the slot is already taken.
		switch snap := s.orch.Snapshot(); snap.Status {
		case models.SessionStatusArming:
			return emergency.CommandResult{Reason: emergency.ReasonAlreadyArming, Snapshot: snap}, nil
		case models.SessionStatusActive:
			return emergency.CommandResult{Reason: emergency.ReasonAlreadyActive, Snapshot: snap}, nil
		}

		req := emergency.ActivationRequest{
			Method:   method,
			Contacts: es.loadContacts(ctx, userID),
			Policy:   es.PolicyFor(es.loadSettings(ctx, userID)),
		}

		s.mu.Lock()
		res := s.orch.RequestActivation(req)
		if res.Accepted {
			s.pending = &armingContext{contacts: req.Contacts, startedAt: res.Snapshot.Timestamp}
		}
		s.mu.Unlock()

		// The slot was reaped between lookup and use; retry on a fresh one.
		if res.Reason == emergency.ReasonClosed {
			continue
		}
		return res, nil
	}
	return emergency.CommandResult{Reason: emergency.ReasonClosed}, nil
}

// Release implements triggers.Sink.
func (es *EmergencyService) Release(ctx context.Context, userID string) (emergency.CommandResult, error) {
	s, err := es.slot(userID, false)
	if err != nil {
		return emergency.CommandResult{}, errShuttingDown()
	}
	if s == nil {
		return idleResult(userID), nil
	}
	return s.orch.ActivationReleased(), nil
}

// Cancel implements triggers.Sink.
func (es *EmergencyService) Cancel(ctx context.Context, userID string) (emergency.CommandResult, error) {
	s, err := es.slot(userID, false)
	if err != nil {
		return emergency.CommandResult{}, errShuttingDown()
	}
	if s == nil {
		return idleResult(userID), nil
	}
	return s.orch.CancelActivation(), nil
}

// Resolve ends a user's active session on behalf of an operator.
func (es *EmergencyService) Resolve(ctx context.Context, userID string) (emergency.CommandResult, error) {
	s, err := es.slot(userID, false)
	if err != nil {
		return emergency.CommandResult{}, errShuttingDown()
	}
	if s == nil {
		return idleResult(userID), nil
	}
	res := s.orch.Resolve()
	if res.Accepted {
		logrus.WithFields(logrus.Fields{
			"userId":    userID,
			"sessionId": res.Snapshot.SessionID,
		}).Info("Emergency session resolved by operator")
	}
	return res, nil
}

func (es *EmergencyService) Status(userID string) models.SessionSnapshot {
	s, err := es.slot(userID, false)
	if err != nil || s == nil {
		return idleResult(userID).Snapshot
	}
	return s.orch.Snapshot()
}

func (es *EmergencyService) Sessions(ctx context.Context, userID string, page, pageSize int) ([]models.EmergencySession, int64, error) {
	sessions, total, err := es.deps.Sessions.GetUserSessions(ctx, userID, page, pageSize)
	if err != nil {
		return nil, 0, utils.WrapDatabaseError(err, "list emergency sessions")
	}
	return sessions, total, nil
}

func (es *EmergencyService) Session(ctx context.Context, userID, sessionID string) (*models.EmergencySession, error) {
	session, err := es.deps.Sessions.GetSession(ctx, userID, sessionID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, utils.NewSessionNotFoundError()
	}
	if err != nil {
		return nil, utils.WrapDatabaseError(err, "get emergency session")
	}
	return session, nil
}

func (es *EmergencyService) ActiveSessions(ctx context.Context) ([]models.SessionSnapshot, error) {
	if es.deps.Cache == nil {
		return []models.SessionSnapshot{}, nil
	}
	snapshots, err := es.deps.Cache.ListActive(ctx)
	if err != nil {
		return nil, utils.NewCacheError("list active sessions", err)
	}
	return snapshots, nil
}

// PolicyFor merges a user's saved settings over the configured defaults.
func (es *EmergencyService) PolicyFor(settings *models.EmergencySettings) emergency.Policy {
	p := es.deps.Defaults
	if settings == nil {
		return p
	}
	if settings.CountdownSeconds > 0 {
		p.Countdown = seconds(settings.CountdownSeconds)
	}
	if settings.BaseDelaySeconds >= 0 {
		p.BaseDelay = seconds(settings.BaseDelaySeconds)
	}
	if settings.ContactGapSeconds >= 0 {
		p.ContactGap = seconds(settings.ContactGapSeconds)
	}
	if settings.MaxDispatchAttempts > 0 {
		p.MaxAttempts = settings.MaxDispatchAttempts
	}
	if settings.EscalateAfterSeconds >= 0 {
		p.EscalateAfter = seconds(settings.EscalateAfterSeconds)
	}
	if settings.DisplayName != "" {
		p.SenderName = settings.DisplayName
	}
	p.Silent = settings.StealthMode
	return p
}

// ReapIdle drops orchestrators with nothing armed and nothing in flight.
func (es *EmergencyService) ReapIdle() int {
	es.mu.Lock()
	defer es.mu.Unlock()

	reaped := 0
	for userID, s := range es.users {
		// Check and close atomically; an Activate holding this slot then
		// sees ReasonClosed and retries on a fresh one.
		if s.orch.CloseIfIdle() {
			delete(es.users, userID)
			reaped++
		}
	}
	return reaped
}

// Shutdown ends every episode and waits for the final records to be written.
func (es *EmergencyService) Shutdown(ctx context.Context) error {
	es.mu.Lock()
	es.closed = true
	slots := make([]*userSlot, 0, len(es.users))
	for userID, s := range es.users {
		slots = append(slots, s)
		delete(es.users, userID)
	}
	es.mu.Unlock()

	for _, s := range slots {
		s.orch.Close()
	}

	done := make(chan struct{})
	go func() {
		es.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (es *EmergencyService) loadContacts(ctx context.Context, userID string) []models.Contact {
	if es.deps.Contacts == nil {
		return nil
	}
	contacts, err := es.deps.Contacts.GetUserContacts(ctx, userID)
	if err != nil {
		logrus.WithError(err).WithField("userId", userID).Error("Failed to load emergency contacts, alerting authority only")
		return nil
	}
	return contacts
}

func (es *EmergencyService) loadSettings(ctx context.Context, userID string) *models.EmergencySettings {
	if es.deps.Settings == nil {
		return nil
	}
	settings, err := es.deps.Settings.GetUserSettings(ctx, userID)
	if err != nil {
		logrus.WithError(err).WithField("userId", userID).Warn("Failed to load emergency settings, using defaults")
		return nil
	}
	return settings
}

// watch consumes one orchestrator's snapshots until it is closed.
func (es *EmergencyService) watch(userID string, s *userSlot, ch <-chan models.SessionSnapshot) {
	defer es.wg.Done()
	defer s.unsubscribe()

	records := make(map[string]*models.EmergencySession)
	for snap := range ch {
		es.broadcast(userID, snap)
		es.mirror(snap)

		if snap.SessionID == "" {
			continue
		}
		rec, seen := records[snap.SessionID]
		if !seen {
			rec = es.newRecord(s, snap)
			records[snap.SessionID] = rec
		}
		applySnapshot(rec, snap)

		if !seen || snap.Event != models.SessionEventTick {
			es.persist(rec)
		}
		if snap.Status.IsTerminal() && !anyInFlight(snap.Tasks) {
			delete(records, snap.SessionID)
		}
	}
}

func (es *EmergencyService) newRecord(s *userSlot, snap models.SessionSnapshot) *models.EmergencySession {
	rec := &models.EmergencySession{
		ID:            snap.SessionID,
		UserID:        snap.UserID,
		TriggerMethod: snap.TriggerMethod,
	}

	s.mu.Lock()
	if p := s.pending; p != nil {
		rec.Contacts = p.contacts
		rec.ArmingStartedAt = p.startedAt
		s.pending = nil
	}
	s.mu.Unlock()

	if rec.ArmingStartedAt.IsZero() && snap.ArmedAt != nil {
		rec.ArmingStartedAt = *snap.ArmedAt
	}
	return rec
}

func applySnapshot(rec *models.EmergencySession, snap models.SessionSnapshot) {
	rec.Status = snap.Status
	rec.ArmedAt = snap.ArmedAt
	rec.LocationDegraded = snap.LocationDegraded
	rec.Escalated = snap.Escalated
	rec.Silent = snap.Silent
	rec.EndedAt = snap.EndedAt
	rec.EndReason = snap.EndReason
	if snap.Location != nil {
		rec.Location = snap.Location
	}
	if snap.Tasks != nil {
		rec.Tasks = snap.Tasks
	}
	// Ended snapshots report zero; the record keeps the final count.
	if snap.ElapsedSeconds > rec.ElapsedSeconds {
		rec.ElapsedSeconds = snap.ElapsedSeconds
	}
}

func (es *EmergencyService) persist(rec *models.EmergencySession) {
	if es.deps.Sessions == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	cp := *rec
	if err := es.deps.Sessions.UpsertSession(ctx, &cp); err != nil {
		logrus.WithError(err).WithField("sessionId", rec.ID).Error("Failed to persist emergency session")
	}
}

func (es *EmergencyService) mirror(snap models.SessionSnapshot) {
	if es.deps.Cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	var err error
	switch {
	case snap.Status == models.SessionStatusActive:
		err = es.deps.Cache.Put(ctx, snap)
	case snap.Event == models.SessionEventCancelled, snap.Event == models.SessionEventResolved:
		err = es.deps.Cache.Remove(ctx, snap.UserID)
	default:
		return
	}
	if err != nil {
		logrus.WithError(err).WithField("userId", snap.UserID).Warn("Failed to update active session cache")
	}
}

func (es *EmergencyService) broadcast(userID string, snap models.SessionSnapshot) {
	n := es.notifier()
	if n == nil {
		return
	}
	msg := models.WSMessage{
		Type:      models.WSTypeSession,
		Data:      snap,
		UserID:    userID,
		Timestamp: snap.Timestamp,
	}
	n.SendToUser(userID, msg)

	if ob, ok := n.(operatorBroadcaster); ok && operatorEvent(snap.Event) {
		ob.BroadcastToOperators(msg)
	}
}

// operatorEvent reports whether operators follow an event. Arming and ticks
// stay with the user.
func operatorEvent(e models.SessionEvent) bool {
	switch e {
	case models.SessionEventActivated, models.SessionEventEscalated, models.SessionEventTask,
		models.SessionEventLocation, models.SessionEventCancelled, models.SessionEventResolved:
		return true
	}
	return false
}

type operatorBroadcaster interface {
	BroadcastToOperators(msg models.WSMessage) int
}

func idleResult(userID string) emergency.CommandResult {
	return emergency.CommandResult{
		Reason: emergency.ReasonNotActive,
		Snapshot: models.SessionSnapshot{
			UserID:    userID,
			Status:    models.SessionStatusIdle,
			Event:     models.SessionEventState,
			Timestamp: time.Now(),
		},
	}
}

func errShuttingDown() error {
	return utils.NewServiceErrorWithStatus(utils.ErrCodeInternal, "Emergency service is shutting down", http.StatusServiceUnavailable)
}

func anyInFlight(tasks []models.NotificationTask) bool {
	for _, t := range tasks {
		if t.InFlight {
			return true
		}
	}
	return false
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
