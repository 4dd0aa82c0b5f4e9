package emergency

import (
	"time"

	"safemap/models"
)

// Default policy values.
const (
	DefaultCountdown       = 3 * time.Second
	DefaultBaseDelay       = 4 * time.Second
	DefaultContactGap      = 1 * time.Second
	DefaultMaxAttempts     = 3
	DefaultRetryDelay      = 2 * time.Second
	DefaultTickInterval    = 1 * time.Second
	DefaultDispatchTimeout = 30 * time.Second
	DefaultLocationTimeout = 10 * time.Second
	DefaultAuthorityName   = "Emergency Services"
	DefaultAuthorityPhone  = "112"
)

// Policy is captured when activation is requested and never changes for the
// lifetime of the episode it governs.
type Policy struct {
	Countdown       time.Duration
	BaseDelay       time.Duration
	ContactGap      time.Duration
	MaxAttempts     int
	RetryDelay      time.Duration
	TickInterval    time.Duration
	DispatchTimeout time.Duration
	LocationTimeout time.Duration

	// EscalateAfter schedules the secondary contact tier once the session has
	// been active this long. Zero disables escalation.
	EscalateAfter time.Duration

	Authority  models.Recipient
	SenderName string
	Silent     bool
}

func DefaultPolicy() Policy {
	return Policy{
		Countdown:       DefaultCountdown,
		BaseDelay:       DefaultBaseDelay,
		ContactGap:      DefaultContactGap,
		MaxAttempts:     DefaultMaxAttempts,
		RetryDelay:      DefaultRetryDelay,
		TickInterval:    DefaultTickInterval,
		DispatchTimeout: DefaultDispatchTimeout,
		LocationTimeout: DefaultLocationTimeout,
		Authority: models.Recipient{
			Kind:  models.RecipientAuthority,
			Name:  DefaultAuthorityName,
			Phone: DefaultAuthorityPhone,
		},
	}
}

// withDefaults fills unset fields. BaseDelay, ContactGap and EscalateAfter
// may legitimately be zero and are only corrected when negative.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.Countdown <= 0 {
		p.Countdown = d.Countdown
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.ContactGap < 0 {
		p.ContactGap = d.ContactGap
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.RetryDelay <= 0 {
		p.RetryDelay = d.RetryDelay
	}
	if p.TickInterval <= 0 {
		p.TickInterval = d.TickInterval
	}
	if p.DispatchTimeout <= 0 {
		p.DispatchTimeout = d.DispatchTimeout
	}
	if p.LocationTimeout <= 0 {
		p.LocationTimeout = d.LocationTimeout
	}
	if p.EscalateAfter < 0 {
		p.EscalateAfter = 0
	}
	if p.Authority.Name == "" {
		p.Authority = d.Authority
	}
	p.Authority.Kind = models.RecipientAuthority
	return p
}
