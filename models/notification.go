package models

import (
	"time"
)

type RecipientKind string

const (
	RecipientAuthority RecipientKind = "authority"
	RecipientContact   RecipientKind = "contact"
)

// Recipient is either a contact from the user's list or the fixed authority endpoint.
type Recipient struct {
	Kind         RecipientKind `json:"kind" bson:"kind"`
	Name         string        `json:"name" bson:"name"`
	Phone        string        `json:"phone,omitempty" bson:"phone,omitempty"`
	Relationship string        `json:"relationship,omitempty" bson:"relationship,omitempty"`
	DeviceToken  string        `json:"-" bson:"deviceToken,omitempty"`
	AppUserID    string        `json:"appUserId,omitempty" bson:"appUserId,omitempty"`
	ContactID    string        `json:"contactId,omitempty" bson:"contactId,omitempty"`
}

func RecipientFromContact(c Contact) Recipient {
	r := Recipient{
		Kind:         RecipientContact,
		Name:         c.Name,
		Phone:        c.Phone,
		Relationship: c.Relationship,
		DeviceToken:  c.DeviceToken,
		AppUserID:    c.AppUserID,
	}
	if !c.ID.IsZero() {
		r.ContactID = c.ID.Hex()
	}
	return r
}

type TaskState string

// Task State Constants
const (
	TaskStatePending   TaskState = "pending"
	TaskStateSent      TaskState = "sent"
	TaskStateFailed    TaskState = "failed"
	TaskStateCancelled TaskState = "cancelled"
)

type TaskTier string

const (
	TaskTierAuthority TaskTier = "authority"
	TaskTierPrimary   TaskTier = "primary"
	TaskTierSecondary TaskTier = "secondary"
)

// NotificationTask tracks delivery to one recipient of one session.
type NotificationTask struct {
	ID                     string     `json:"id" bson:"id"`
	SessionID              string     `json:"sessionId" bson:"sessionId"`
	Recipient              Recipient  `json:"recipient" bson:"recipient"`
	Tier                   TaskTier   `json:"tier" bson:"tier"`
	ScheduledOffsetSeconds float64    `json:"scheduledOffsetSeconds" bson:"scheduledOffsetSeconds"`
	State                  TaskState  `json:"state" bson:"state"`
	Attempts               int        `json:"attempts" bson:"attempts"`
	MaxAttempts            int        `json:"maxAttempts" bson:"maxAttempts"`
	InFlight               bool       `json:"inFlight" bson:"-"`
	LastError              string     `json:"lastError,omitempty" bson:"lastError,omitempty"`
	SentAt                 *time.Time `json:"sentAt,omitempty" bson:"sentAt,omitempty"`
	UpdatedAt              time.Time  `json:"updatedAt" bson:"updatedAt"`
}

// NotificationPayload is what a dispatcher receives for a single attempt.
type NotificationPayload struct {
	SessionID           string        `json:"sessionId"`
	UserID              string        `json:"userId"`
	SenderName          string        `json:"senderName"`
	TriggerMethod       TriggerMethod `json:"triggerMethod"`
	Recipient           Recipient     `json:"recipient"`
	Title               string        `json:"title"`
	Message             string        `json:"message"`
	Location            *Position     `json:"location"`
	LocationUnavailable bool          `json:"locationUnavailable"`
	MapsURL             string        `json:"mapsUrl,omitempty"`
	ArmedAt             time.Time     `json:"armedAt"`
	Attempt             int           `json:"attempt"`
	Silent              bool          `json:"silent"`
}

// Data flattens the payload into the string map used by push providers.
func (p NotificationPayload) Data() map[string]string {
	data := map[string]string{
		"type":                "emergency",
		"sessionId":           p.SessionID,
		"userId":              p.UserID,
		"triggerMethod":       string(p.TriggerMethod),
		"locationUnavailable": "false",
		"priority":            "high",
	}
	if p.LocationUnavailable {
		data["locationUnavailable"] = "true"
	}
	if p.Location != nil {
		data["latitude"] = formatCoordinate(p.Location.Latitude)
		data["longitude"] = formatCoordinate(p.Location.Longitude)
	}
	if p.MapsURL != "" {
		data["mapsUrl"] = p.MapsURL
	}
	return data
}
