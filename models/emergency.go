package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type SessionStatus string

// Session Status Constants
const (
	SessionStatusIdle      SessionStatus = "idle"
	SessionStatusArming    SessionStatus = "arming"
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCancelled SessionStatus = "cancelled"
	SessionStatusResolved  SessionStatus = "resolved"
)

// IsTerminal reports whether the status only appears on ended session records.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCancelled || s == SessionStatusResolved
}

type TriggerMethod string

// Trigger Method Constants
const (
	TriggerButtonHold TriggerMethod = "button_hold"
	TriggerVoice      TriggerMethod = "voice"
	TriggerHotkey     TriggerMethod = "hotkey"
	TriggerShake      TriggerMethod = "shake"
)

func (m TriggerMethod) Valid() bool {
	switch m {
	case TriggerButtonHold, TriggerVoice, TriggerHotkey, TriggerShake:
		return true
	}
	return false
}

// Position is a single fix reported by the device.
type Position struct {
	Latitude   float64   `json:"latitude" bson:"latitude"`
	Longitude  float64   `json:"longitude" bson:"longitude"`
	Accuracy   float64   `json:"accuracy" bson:"accuracy"`
	CapturedAt time.Time `json:"capturedAt" bson:"capturedAt"`
}

// Contact is one entry of a user's ordered emergency contact list.
type Contact struct {
	ID           primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	UserID       string             `json:"userId" bson:"userId"`
	Name         string             `json:"name" bson:"name"`
	Phone        string             `json:"phone" bson:"phone"`
	Relationship string             `json:"relationship" bson:"relationship"`
	DeviceToken  string             `json:"deviceToken,omitempty" bson:"deviceToken,omitempty"` // FCM token if the contact has the app
	AppUserID    string             `json:"appUserId,omitempty" bson:"appUserId,omitempty"`
	Position     int                `json:"position" bson:"position"`
	Secondary    bool               `json:"secondary" bson:"secondary"` // escalation tier
	CreatedAt    time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// EmergencySession is the record of one armed-to-resolved episode.
type EmergencySession struct {
	ID               string             `json:"id" bson:"_id"`
	UserID           string             `json:"userId" bson:"userId"`
	Status           SessionStatus      `json:"status" bson:"status"`
	TriggerMethod    TriggerMethod      `json:"triggerMethod" bson:"triggerMethod"`
	ArmingStartedAt  time.Time          `json:"armingStartedAt" bson:"armingStartedAt"`
	ArmedAt          *time.Time         `json:"armedAt" bson:"armedAt"`
	ElapsedSeconds   int                `json:"elapsedSeconds" bson:"elapsedSeconds"`
	Location         *Position          `json:"location" bson:"location"`
	LocationDegraded bool               `json:"locationDegraded" bson:"locationDegraded"`
	Contacts         []Contact          `json:"contacts" bson:"contacts"`
	Tasks            []NotificationTask `json:"tasks" bson:"tasks"`
	Escalated        bool               `json:"escalated" bson:"escalated"`
	Silent           bool               `json:"silent" bson:"silent"`
	EndedAt          *time.Time         `json:"endedAt,omitempty" bson:"endedAt,omitempty"`
	EndReason        string             `json:"endReason,omitempty" bson:"endReason,omitempty"`
	UpdatedAt        time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// EmergencySettings are per-user overrides of the arming policy.
type EmergencySettings struct {
	UserID               string    `json:"userId" bson:"_id"`
	CountdownSeconds     int       `json:"countdownSeconds" bson:"countdownSeconds"`
	BaseDelaySeconds     int       `json:"baseDelaySeconds" bson:"baseDelaySeconds"`
	ContactGapSeconds    int       `json:"contactGapSeconds" bson:"contactGapSeconds"`
	MaxDispatchAttempts  int       `json:"maxDispatchAttempts" bson:"maxDispatchAttempts"`
	EscalateAfterSeconds int       `json:"escalateAfterSeconds" bson:"escalateAfterSeconds"`
	StealthMode          bool      `json:"stealthMode" bson:"stealthMode"`
	DisplayName          string    `json:"displayName,omitempty" bson:"displayName,omitempty"`
	UpdatedAt            time.Time `json:"updatedAt" bson:"updatedAt"`
}

type SessionEvent string

// Session Event Constants
const (
	SessionEventState         SessionEvent = "state"
	SessionEventArming        SessionEvent = "arming"
	SessionEventArmingAborted SessionEvent = "arming_aborted"
	SessionEventActivated     SessionEvent = "activated"
	SessionEventCancelled     SessionEvent = "cancelled"
	SessionEventResolved      SessionEvent = "resolved"
	SessionEventTick          SessionEvent = "tick"
	SessionEventLocation      SessionEvent = "location"
	SessionEventTask          SessionEvent = "task"
	SessionEventEscalated     SessionEvent = "escalated"
)

// SessionSnapshot is the read-only view pushed to observers after every handled event.
type SessionSnapshot struct {
	UserID             string             `json:"userId"`
	SessionID          string             `json:"sessionId,omitempty"`
	Status             SessionStatus      `json:"status"`
	Event              SessionEvent       `json:"event"`
	TriggerMethod      TriggerMethod      `json:"triggerMethod,omitempty"`
	CountdownRemaining float64            `json:"countdownRemaining,omitempty"`
	ArmedAt            *time.Time         `json:"armedAt,omitempty"`
	ElapsedSeconds     int                `json:"elapsedSeconds"`
	Location           *Position          `json:"location"`
	LocationDegraded   bool               `json:"locationDegraded"`
	Tasks              []NotificationTask `json:"tasks,omitempty"`
	Escalated          bool               `json:"escalated"`
	Silent             bool               `json:"silent"`
	EndedAt            *time.Time         `json:"endedAt,omitempty"`
	EndReason          string             `json:"endReason,omitempty"`
	Timestamp          time.Time          `json:"timestamp"`
}

// =================== REQUEST/RESPONSE MODELS ===================

type ActivateRequest struct {
	Method TriggerMethod `json:"method" validate:"required,trigger_method"`
}

type VoiceTriggerRequest struct {
	Transcript string `json:"transcript" validate:"required,max=1000"`
	Language   string `json:"language,omitempty"`
}

type HotkeyTriggerRequest struct {
	Key   string `json:"key" validate:"required"`
	Ctrl  bool   `json:"ctrl"`
	Shift bool   `json:"shift"`
	Alt   bool   `json:"alt"`
	Meta  bool   `json:"meta"`
}

type AccelerationSample struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	RecordedAt int64   `json:"recordedAt" validate:"required"` // unix millis
}

type ShakeTriggerRequest struct {
	Samples []AccelerationSample `json:"samples" validate:"required,min=1,max=500,dive"`
}

type UpdateSettingsRequest struct {
	CountdownSeconds     *int    `json:"countdownSeconds,omitempty" validate:"omitempty,min=1,max=60"`
	BaseDelaySeconds     *int    `json:"baseDelaySeconds,omitempty" validate:"omitempty,min=0,max=600"`
	ContactGapSeconds    *int    `json:"contactGapSeconds,omitempty" validate:"omitempty,min=0,max=600"`
	MaxDispatchAttempts  *int    `json:"maxDispatchAttempts,omitempty" validate:"omitempty,min=1,max=10"`
	EscalateAfterSeconds *int    `json:"escalateAfterSeconds,omitempty" validate:"omitempty,min=0,max=86400"`
	StealthMode          *bool   `json:"stealthMode,omitempty"`
	DisplayName          *string `json:"displayName,omitempty" validate:"omitempty,max=100"`
}

type AddContactRequest struct {
	Name         string `json:"name" validate:"required,max=100"`
	Phone        string `json:"phone" validate:"required,phone"`
	Relationship string `json:"relationship" validate:"required,max=50"`
	DeviceToken  string `json:"deviceToken,omitempty"`
	AppUserID    string `json:"appUserId,omitempty"`
	Position     *int   `json:"position,omitempty" validate:"omitempty,min=0"`
	Secondary    bool   `json:"secondary"`
}

type UpdateContactRequest struct {
	Name         *string `json:"name,omitempty" validate:"omitempty,max=100"`
	Phone        *string `json:"phone,omitempty" validate:"omitempty,phone"`
	Relationship *string `json:"relationship,omitempty" validate:"omitempty,max=50"`
	DeviceToken  *string `json:"deviceToken,omitempty"`
	AppUserID    *string `json:"appUserId,omitempty"`
	Position     *int    `json:"position,omitempty" validate:"omitempty,min=0"`
	Secondary    *bool   `json:"secondary,omitempty"`
}

type CommandResponse struct {
	Accepted bool            `json:"accepted"`
	Reason   string          `json:"reason,omitempty"`
	Session  SessionSnapshot `json:"session"`
}
