package emergency

import (
	"context"

	"safemap/models"
)

// LocationProvider supplies the owner's position. CurrentPosition may block
// and is never called while orchestrator state is locked. Subscribe must not
// invoke its callbacks before it returns.
type LocationProvider interface {
	CurrentPosition(ctx context.Context) (models.Position, error)
	Subscribe(onUpdate func(models.Position), onError func(error)) (Subscription, error)
}

type Subscription interface {
	Unsubscribe()
}

// Dispatcher attempts one delivery. A nil error means delivered.
type Dispatcher interface {
	Dispatch(ctx context.Context, recipient models.Recipient, payload models.NotificationPayload) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, recipient models.Recipient, payload models.NotificationPayload) error

func (f DispatcherFunc) Dispatch(ctx context.Context, recipient models.Recipient, payload models.NotificationPayload) error {
	return f(ctx, recipient, payload)
}

// Executor runs blocking work (dispatch I/O, position lookups) off the
// orchestrator. Submit returns an error when the job was not accepted.
type Executor interface {
	Submit(job func()) error
}

type goExecutor struct{}

func (goExecutor) Submit(job func()) error {
	go job()
	return nil
}

// GoExecutor runs every job on its own goroutine.
func GoExecutor() Executor {
	return goExecutor{}
}

type unavailableLocation struct{}

func (unavailableLocation) CurrentPosition(context.Context) (models.Position, error) {
	return models.Position{}, ErrLocationUnavailable
}

func (unavailableLocation) Subscribe(func(models.Position), func(error)) (Subscription, error) {
	return nil, ErrLocationUnavailable
}
