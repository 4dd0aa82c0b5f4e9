package emergency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"safemap/models"
)

var epoch = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// manualExecutor queues jobs until RunPending is called.
type manualExecutor struct {
	mu   sync.Mutex
	jobs []func()
	full bool
}

func (e *manualExecutor) Submit(job func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.full {
		return errors.New("queue full")
	}
	e.jobs = append(e.jobs, job)
	return nil
}

func (e *manualExecutor) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.jobs)
}

func (e *manualExecutor) RunPending() {
	for {
		e.mu.Lock()
		if len(e.jobs) == 0 {
			e.mu.Unlock()
			return
		}
		job := e.jobs[0]
		e.jobs = e.jobs[1:]
		e.mu.Unlock()
		job()
	}
}

type fakeSubscription struct {
	loc      *fakeLocation
	onUpdate func(models.Position)
	onError  func(error)
	closed   bool
}

func (s *fakeSubscription) Unsubscribe() {
	s.loc.mu.Lock()
	defer s.loc.mu.Unlock()
	s.closed = true
}

type fakeLocation struct {
	mu         sync.Mutex
	current    models.Position
	currentErr error
	subErr     error
	panics     bool
	subs       []*fakeSubscription
}

func (l *fakeLocation) CurrentPosition(context.Context) (models.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.panics {
		panic("gps driver crashed")
	}
	return l.current, l.currentErr
}

func (l *fakeLocation) Subscribe(onUpdate func(models.Position), onError func(error)) (Subscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.subErr != nil {
		return nil, l.subErr
	}
	s := &fakeSubscription{loc: l, onUpdate: onUpdate, onError: onError}
	l.subs = append(l.subs, s)
	return s, nil
}

func (l *fakeLocation) push(p models.Position) {
	l.mu.Lock()
	var open []*fakeSubscription
	for _, s := range l.subs {
		if !s.closed {
			open = append(open, s)
		}
	}
	l.mu.Unlock()
	for _, s := range open {
		s.onUpdate(p)
	}
}

func (l *fakeLocation) openSubscriptions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, s := range l.subs {
		if !s.closed {
			n++
		}
	}
	return n
}

type dispatchCall struct {
	recipient models.Recipient
	payload   models.NotificationPayload
	at        time.Time
}

// recordingDispatcher records every attempt and fails recipients listed in failing.
type recordingDispatcher struct {
	mu      sync.Mutex
	sched   Scheduler
	calls   []dispatchCall
	failing map[string]bool
}

func (d *recordingDispatcher) Dispatch(_ context.Context, r models.Recipient, p models.NotificationPayload) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, dispatchCall{recipient: r, payload: p, at: d.sched.Now()})
	if d.failing[r.Name] {
		return fmt.Errorf("gateway rejected %s", r.Phone)
	}
	return nil
}

func (d *recordingDispatcher) names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.calls))
	for _, c := range d.calls {
		out = append(out, c.recipient.Name)
	}
	return out
}

func (d *recordingDispatcher) callsTo(name string) []dispatchCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []dispatchCall
	for _, c := range d.calls {
		if c.recipient.Name == name {
			out = append(out, c)
		}
	}
	return out
}

type harness struct {
	sched *ManualScheduler
	exec  *manualExecutor
	loc   *fakeLocation
	disp  *recordingDispatcher
	hook  *test.Hook
	deps  Dependencies
	orch  *Orchestrator
	ids   int
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	h := &harness{
		sched: NewManualScheduler(epoch),
		exec:  &manualExecutor{},
		loc:   &fakeLocation{current: models.Position{Latitude: 40.7128, Longitude: -74.006, Accuracy: 12, CapturedAt: epoch}},
		hook:  hook,
	}
	h.disp = &recordingDispatcher{sched: h.sched, failing: map[string]bool{}}
	h.deps = Dependencies{
		Scheduler:  h.sched,
		Location:   h.loc,
		Dispatcher: h.disp,
		Executor:   h.exec,
		NewID:      h.nextID,
		Logger:     logrus.NewEntry(logger),
	}
	h.orch = NewOrchestrator("user-1", h.deps)
	t.Cleanup(h.orch.Close)
	return h
}

// withDispatcher replaces the orchestrator with one using d.
func (h *harness) withDispatcher(t *testing.T, d Dispatcher) {
	t.Helper()
	h.orch.Close()
	h.deps.Dispatcher = d
	h.orch = NewOrchestrator("user-1", h.deps)
	t.Cleanup(h.orch.Close)
}

func (h *harness) nextID() string {
	h.ids++
	return fmt.Sprintf("id-%03d", h.ids)
}

// step advances time one second at a time, draining the executor after each.
func (h *harness) step(d time.Duration) {
	for d > 0 {
		inc := time.Second
		if d < inc {
			inc = d
		}
		h.sched.Advance(inc)
		h.exec.RunPending()
		d -= inc
	}
}

func threeContacts() []models.Contact {
	return []models.Contact{
		{Name: "C0", Phone: "+15550000000", Relationship: "sister"},
		{Name: "C1", Phone: "+15550000001", Relationship: "friend"},
		{Name: "C2", Phone: "+15550000002", Relationship: "father"},
	}
}

func testPolicy() Policy {
	p := DefaultPolicy()
	p.SenderName = "Dana"
	return p
}

func taskByName(tasks []models.NotificationTask, name string) (models.NotificationTask, bool) {
	for _, t := range tasks {
		if t.Recipient.Name == name {
			return t, true
		}
	}
	return models.NotificationTask{}, false
}
