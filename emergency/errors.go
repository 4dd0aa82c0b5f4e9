package emergency

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is returned by location providers when the device
	// has refused location access. It degrades the session, never aborts it.
	ErrPermissionDenied = errors.New("location permission denied")

	// ErrLocationUnavailable means no fix is known yet.
	ErrLocationUnavailable = errors.New("location unavailable")

	ErrOrchestratorClosed = errors.New("orchestrator closed")
)

// Command rejection reasons. None of them is a failure: every rejected
// command leaves state untouched.
const (
	ReasonAlreadyArming = "already_arming"
	ReasonAlreadyActive = "already_active"
	ReasonNotActive     = "not_active"
	ReasonNotHolding    = "not_button_hold"
	ReasonInvalidMethod = "invalid_method"
	ReasonClosed        = "closed"
)

// DispatchError is a single failed delivery attempt.
type DispatchError struct {
	TaskID    string
	Recipient string
	Attempt   int
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to %s failed (attempt %d): %v", e.Recipient, e.Attempt, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
