package services

import (
	"context"
	"strings"
	"time"

	"safemap/emergency"
	"safemap/models"
	"safemap/utils"
)

// SettingsService stores per-user overrides of the arming policy. Saved
// settings are always complete: the first update starts from the defaults.
type SettingsService struct {
	settings  SettingsStore
	defaults  emergency.Policy
	validator *utils.ValidationService
}

func NewSettingsService(settings SettingsStore, defaults emergency.Policy) *SettingsService {
	return &SettingsService{
		settings:  settings,
		defaults:  defaults,
		validator: utils.NewValidationService(),
	}
}

// Get returns the user's settings, or the defaults when none were saved.
func (ss *SettingsService) Get(ctx context.Context, userID string) (*models.EmergencySettings, error) {
	settings, err := ss.settings.GetUserSettings(ctx, userID)
	if err != nil {
		return nil, utils.WrapDatabaseError(err, "get settings")
	}
	if settings == nil {
		settings = SettingsFromPolicy(userID, ss.defaults)
	}
	return settings, nil
}

func (ss *SettingsService) Update(ctx context.Context, userID string, req models.UpdateSettingsRequest) (*models.EmergencySettings, error) {
	if errs := ss.validator.ValidateStruct(req); len(errs) > 0 {
		return nil, utils.NewValidationError(errs[0].Message)
	}

	settings, err := ss.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if req.CountdownSeconds != nil {
		settings.CountdownSeconds = *req.CountdownSeconds
	}
	if req.BaseDelaySeconds != nil {
		settings.BaseDelaySeconds = *req.BaseDelaySeconds
	}
	if req.ContactGapSeconds != nil {
		settings.ContactGapSeconds = *req.ContactGapSeconds
	}
	if req.MaxDispatchAttempts != nil {
		settings.MaxDispatchAttempts = *req.MaxDispatchAttempts
	}
	if req.EscalateAfterSeconds != nil {
		settings.EscalateAfterSeconds = *req.EscalateAfterSeconds
	}
	if req.StealthMode != nil {
		settings.StealthMode = *req.StealthMode
	}
	if req.DisplayName != nil {
		settings.DisplayName = strings.TrimSpace(*req.DisplayName)
	}

	if err := ss.settings.UpdateUserSettings(ctx, settings); err != nil {
		return nil, utils.WrapDatabaseError(err, "update settings")
	}
	return settings, nil
}

func SettingsFromPolicy(userID string, p emergency.Policy) *models.EmergencySettings {
	return &models.EmergencySettings{
		UserID:               userID,
		CountdownSeconds:     wholeSeconds(p.Countdown),
		BaseDelaySeconds:     wholeSeconds(p.BaseDelay),
		ContactGapSeconds:    wholeSeconds(p.ContactGap),
		MaxDispatchAttempts:  p.MaxAttempts,
		EscalateAfterSeconds: wholeSeconds(p.EscalateAfter),
		StealthMode:          p.Silent,
		DisplayName:          p.SenderName,
	}
}

func wholeSeconds(d time.Duration) int {
	return int(d / time.Second)
}
