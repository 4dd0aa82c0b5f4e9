package controllers

import (
	"context"

	"github.com/gin-gonic/gin"

	"safemap/emergency"
	"safemap/models"
	"safemap/triggers"
	"safemap/utils"
)

// EmergencyCommands is the part of services.EmergencyService the HTTP API drives.
type EmergencyCommands interface {
	Activate(ctx context.Context, userID string, method models.TriggerMethod) (emergency.CommandResult, error)
	Release(ctx context.Context, userID string) (emergency.CommandResult, error)
	Resolve(ctx context.Context, userID string) (emergency.CommandResult, error)
	Status(userID string) models.SessionSnapshot
	Sessions(ctx context.Context, userID string, page, pageSize int) ([]models.EmergencySession, int64, error)
	Session(ctx context.Context, userID, sessionID string) (*models.EmergencySession, error)
	ActiveSessions(ctx context.Context) ([]models.SessionSnapshot, error)
}

// TriggerInputs is satisfied by *triggers.Router.
type TriggerInputs interface {
	Cancel(ctx context.Context, userID string) (triggers.Outcome, error)
	Voice(ctx context.Context, userID string, req models.VoiceTriggerRequest) (triggers.Outcome, error)
	Hotkey(ctx context.Context, userID string, req models.HotkeyTriggerRequest) (triggers.Outcome, error)
	Shake(ctx context.Context, userID string, req models.ShakeTriggerRequest) (triggers.Outcome, error)
}

type EmergencyController struct {
	emergencyService EmergencyCommands
	triggerRouter    TriggerInputs
	validator        *utils.ValidationService
}

func NewEmergencyController(emergencyService EmergencyCommands, triggerRouter TriggerInputs) *EmergencyController {
	return &EmergencyController{
		emergencyService: emergencyService,
		triggerRouter:    triggerRouter,
		validator:        utils.NewValidationService(),
	}
}

// =================== COMMANDS ===================

// Activate starts arming with the given trigger method
// @Summary Request activation
// @Tags Emergency
// @Security BearerAuth
// @Param request body models.ActivateRequest true "Trigger method"
// @Success 202 {object} models.APIResponse{data=models.CommandResponse}
// @Success 200 {object} models.APIResponse{data=models.CommandResponse} "Rejected, state unchanged"
// @Router /emergency/activate [post]
func (ec *EmergencyController) Activate(c *gin.Context) {
	userID := utils.GetUserID(c)

	var req models.ActivateRequest
	if !bindAndValidate(c, ec.validator, &req) {
		return
	}

	res, err := ec.emergencyService.Activate(c.Request.Context(), userID, req.Method)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	commandResponse(c, res, "Activation requested")
}

// Release ends a press-and-hold before the countdown completes.
func (ec *EmergencyController) Release(c *gin.Context) {
	res, err := ec.emergencyService.Release(c.Request.Context(), utils.GetUserID(c))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	commandResponse(c, res, "Activation released")
}

func (ec *EmergencyController) Cancel(c *gin.Context) {
	out, err := ec.triggerRouter.Cancel(c.Request.Context(), utils.GetUserID(c))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	commandResponse(c, out.Result, "Emergency cancelled")
}

func (ec *EmergencyController) Status(c *gin.Context) {
	utils.SuccessResponse(c, "Emergency status retrieved", ec.emergencyService.Status(utils.GetUserID(c)))
}

// GetSessions lists the caller's past sessions, newest first
// @Summary Session history
// @Tags Emergency
// @Security BearerAuth
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Router /emergency/sessions [get]
func (ec *EmergencyController) GetSessions(c *gin.Context) {
	page, pageSize := utils.ParsePagination(c, 20, 100)

	sessions, total, err := ec.emergencyService.Sessions(c.Request.Context(), utils.GetUserID(c), page, pageSize)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.SuccessResponseWithMeta(c, "Emergency sessions retrieved", sessions, utils.CreatePaginationMeta(page, pageSize, total))
}

func (ec *EmergencyController) GetSession(c *gin.Context) {
	session, err := ec.emergencyService.Session(c.Request.Context(), utils.GetUserID(c), c.Param("id"))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.SuccessResponse(c, "Emergency session retrieved", session)
}

// =================== TRIGGER INPUTS ===================

func (ec *EmergencyController) VoiceTrigger(c *gin.Context) {
	var req models.VoiceTriggerRequest
	if !bindAndValidate(c, ec.validator, &req) {
		return
	}
	out, err := ec.triggerRouter.Voice(c.Request.Context(), utils.GetUserID(c), req)
	triggerResponse(c, out, err)
}

func (ec *EmergencyController) HotkeyTrigger(c *gin.Context) {
	var req models.HotkeyTriggerRequest
	if !bindAndValidate(c, ec.validator, &req) {
		return
	}
	out, err := ec.triggerRouter.Hotkey(c.Request.Context(), utils.GetUserID(c), req)
	triggerResponse(c, out, err)
}

func (ec *EmergencyController) ShakeTrigger(c *gin.Context) {
	var req models.ShakeTriggerRequest
	if !bindAndValidate(c, ec.validator, &req) {
		return
	}
	out, err := ec.triggerRouter.Shake(c.Request.Context(), utils.GetUserID(c), req)
	triggerResponse(c, out, err)
}

// =================== OPERATOR ===================

// GetActiveSessions lists every armed session from the snapshot cache
// @Summary Active sessions
// @Tags Admin
// @Security BearerAuth
// @Router /admin/sessions/active [get]
func (ec *EmergencyController) GetActiveSessions(c *gin.Context) {
	sessions, err := ec.emergencyService.ActiveSessions(c.Request.Context())
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.SuccessResponse(c, "Active sessions retrieved", sessions)
}

// ResolveSession closes a user's active session on their behalf.
func (ec *EmergencyController) ResolveSession(c *gin.Context) {
	target := c.Param("userId")
	if target == "" {
		utils.BadRequestResponse(c, "User ID is required")
		return
	}

	res, err := ec.emergencyService.Resolve(c.Request.Context(), target)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	commandResponse(c, res, "Emergency resolved")
}

// =================== HELPERS ===================

// commandResponse answers 202 for an accepted command and 200 for a rejected
// one. A rejection is not an error: state is unchanged and the reason says why.
func commandResponse(c *gin.Context, res emergency.CommandResult, message string) {
	body := models.CommandResponse{
		Accepted: res.Accepted,
		Reason:   res.Reason,
		Session:  res.Snapshot,
	}
	if res.Accepted {
		utils.AcceptedResponse(c, message, body)
		return
	}
	utils.SuccessResponse(c, "Command rejected: "+res.Reason, body)
}

func triggerResponse(c *gin.Context, out triggers.Outcome, err error) {
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	if !out.Matched {
		utils.SuccessResponse(c, "Input did not match a trigger", models.WSCommandResult{})
		return
	}

	body := models.WSCommandResult{
		Matched:  true,
		Detail:   out.Detail,
		Accepted: out.Result.Accepted,
		Reason:   out.Result.Reason,
		Session:  out.Result.Snapshot,
	}
	if out.Result.Accepted {
		utils.AcceptedResponse(c, "Trigger matched", body)
		return
	}
	utils.SuccessResponse(c, "Trigger matched, command rejected: "+out.Result.Reason, body)
}

// bindAndValidate decodes the JSON body and runs struct validation, writing
// the error response itself when either fails.
func bindAndValidate(c *gin.Context, v *utils.ValidationService, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body")
		return false
	}
	if errs := v.ValidateStruct(req); len(errs) > 0 {
		utils.ValidationErrorResponse(c, errs)
		return false
	}
	return true
}
