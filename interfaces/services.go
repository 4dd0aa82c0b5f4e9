package interfaces

import (
	"context"

	"safemap/models"
	"safemap/triggers"
	"safemap/utils"
)

// Service interfaces that the websocket layer needs.

type TokenValidator interface {
	ValidateToken(token string) (*utils.Claims, error)
}

// TriggerService is satisfied by *triggers.Router.
type TriggerService interface {
	Press(ctx context.Context, userID string) (triggers.Outcome, error)
	Release(ctx context.Context, userID string) (triggers.Outcome, error)
	Cancel(ctx context.Context, userID string) (triggers.Outcome, error)
	Voice(ctx context.Context, userID string, req models.VoiceTriggerRequest) (triggers.Outcome, error)
	Hotkey(ctx context.Context, userID string, req models.HotkeyTriggerRequest) (triggers.Outcome, error)
	Shake(ctx context.Context, userID string, req models.ShakeTriggerRequest) (triggers.Outcome, error)
}

type EmergencyService interface {
	Status(userID string) models.SessionSnapshot
}

type LocationService interface {
	UpdateLocation(ctx context.Context, userID string, req models.LocationUpdateRequest) (*models.Position, error)
	SetPermission(ctx context.Context, userID string, req models.LocationPermissionRequest) error
}
