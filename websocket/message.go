package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"safemap/emergency"
	"safemap/interfaces"
	"safemap/models"
	"safemap/triggers"
	"safemap/utils"
)

const handleTimeout = 10 * time.Second

var (
	errMissingType = errors.New("message type is required")
	errMissingData = errors.New("data is required")
)

// MessageHandler turns inbound frames into service calls and builds the reply.
// Frames from one connection are handled in arrival order, so a release can
// never overtake the press it belongs to.
type MessageHandler struct {
	triggers  interfaces.TriggerService
	emergency interfaces.EmergencyService
	locations interfaces.LocationService
	validator *utils.ValidationService
}

func NewMessageHandler(
	triggerService interfaces.TriggerService,
	emergencyService interfaces.EmergencyService,
	locationService interfaces.LocationService,
) *MessageHandler {
	return &MessageHandler{
		triggers:  triggerService,
		emergency: emergencyService,
		locations: locationService,
		validator: utils.NewValidationService(),
	}
}

// Handle processes one decoded frame for userID and returns the reply frame.
func (h *MessageHandler) Handle(ctx context.Context, userID string, req models.WSRequest) models.WSResponse {
	if err := validateWebSocketMessage(req); err != nil {
		return utils.WSErrorResponse(req.RequestID, models.WSErrorInvalidMessage, err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	switch req.Type {
	case models.WSRequestTrigger:
		out, err := h.triggers.Press(ctx, userID)
		return h.outcome(req, out, err)

	case models.WSRequestRelease:
		out, err := h.triggers.Release(ctx, userID)
		return h.outcome(req, out, err)

	case models.WSRequestCancel:
		out, err := h.triggers.Cancel(ctx, userID)
		return h.outcome(req, out, err)

	case models.WSRequestVoice:
		var body models.VoiceTriggerRequest
		if resp, ok := h.decode(req, &body); !ok {
			return resp
		}
		out, err := h.triggers.Voice(ctx, userID, body)
		return h.outcome(req, out, err)

	case models.WSRequestHotkey:
		var body models.HotkeyTriggerRequest
		if resp, ok := h.decode(req, &body); !ok {
			return resp
		}
		out, err := h.triggers.Hotkey(ctx, userID, body)
		return h.outcome(req, out, err)

	case models.WSRequestShake:
		var body models.ShakeTriggerRequest
		if resp, ok := h.decode(req, &body); !ok {
			return resp
		}
		out, err := h.triggers.Shake(ctx, userID, body)
		return h.outcome(req, out, err)

	case models.WSRequestLocationUpdate:
		var body models.LocationUpdateRequest
		if resp, ok := h.decode(req, &body); !ok {
			return resp
		}
		pos, err := h.locations.UpdateLocation(ctx, userID, body)
		if err != nil {
			return serviceErrorResponse(req.RequestID, models.WSErrorInvalidLocation, err)
		}
		return utils.WSSuccessResponse(req.RequestID, pos)

	case models.WSRequestLocationDenied, models.WSRequestLocationAllow:
		var body models.LocationPermissionRequest
		if len(req.Data) > 0 {
			if resp, ok := h.decode(req, &body); !ok {
				return resp
			}
		}
		body.Granted = req.Type == models.WSRequestLocationAllow
		if err := h.locations.SetPermission(ctx, userID, body); err != nil {
			return serviceErrorResponse(req.RequestID, models.WSErrorInvalidMessage, err)
		}
		return utils.WSSuccessResponse(req.RequestID, body)

	case models.WSRequestStatus:
		return utils.WSSuccessResponse(req.RequestID, h.emergency.Status(userID))

	case models.WSRequestPing:
		resp := utils.WSSuccessResponse(req.RequestID, nil)
		resp.Type = models.WSTypePong
		return resp
	}

	return utils.WSErrorResponse(req.RequestID, models.WSErrorUnknownType, "Unknown message type")
}

func (h *MessageHandler) decode(req models.WSRequest, target interface{}) (models.WSResponse, bool) {
	if err := json.Unmarshal(req.Data, target); err != nil {
		return utils.WSErrorResponse(req.RequestID, models.WSErrorInvalidMessage, "Invalid "+req.Type+" data"), false
	}
	if errs := h.validator.ValidateStruct(target); len(errs) > 0 {
		return utils.WSErrorResponse(req.RequestID, models.WSErrorInvalidMessage, errs[0].Message), false
	}
	return models.WSResponse{}, true
}

func (h *MessageHandler) outcome(req models.WSRequest, out triggers.Outcome, err error) models.WSResponse {
	if err != nil {
		return serviceErrorResponse(req.RequestID, models.WSErrorInvalidMessage, err)
	}
	return utils.WSSuccessResponse(req.RequestID, commandResult(out))
}

func commandResult(out triggers.Outcome) models.WSCommandResult {
	return models.WSCommandResult{
		Matched:  out.Matched,
		Detail:   out.Detail,
		Accepted: out.Result.Accepted,
		Reason:   out.Result.Reason,
		Session:  out.Result.Snapshot,
	}
}

// serviceErrorResponse exposes ServiceError messages and hides anything else.
func serviceErrorResponse(requestID, code string, err error) models.WSResponse {
	if serviceErr, ok := utils.GetServiceError(err); ok {
		return utils.WSErrorResponse(requestID, code, serviceErr.Message)
	}
	if errors.Is(err, emergency.ErrOrchestratorClosed) {
		return utils.WSErrorResponse(requestID, code, "Service is shutting down")
	}
	logrus.WithError(err).Error("WebSocket request failed")
	return utils.WSErrorResponse(requestID, code, "Internal error")
}
