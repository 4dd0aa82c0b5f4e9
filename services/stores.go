package services

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"safemap/emergency"
	"safemap/models"
)

// The persistence seams below are satisfied by repositories.EmergencyRepository,
// repositories.SessionCache and location.Store.

type SessionStore interface {
	UpsertSession(ctx context.Context, session *models.EmergencySession) error
	GetSession(ctx context.Context, userID, sessionID string) (*models.EmergencySession, error)
	GetUserSessions(ctx context.Context, userID string, page, pageSize int) ([]models.EmergencySession, int64, error)
	DeleteEndedSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type ContactStore interface {
	GetUserContacts(ctx context.Context, userID string) ([]models.Contact, error)
	CountUserContacts(ctx context.Context, userID string) (int64, error)
	GetContact(ctx context.Context, userID, contactID string) (*models.Contact, error)
	AddContact(ctx context.Context, contact *models.Contact) error
	UpdateContact(ctx context.Context, userID, contactID string, updateFields bson.M) error
	DeleteContact(ctx context.Context, userID, contactID string) error
}

type SettingsStore interface {
	GetUserSettings(ctx context.Context, userID string) (*models.EmergencySettings, error)
	UpdateUserSettings(ctx context.Context, settings *models.EmergencySettings) error
}

type ActiveSessionCache interface {
	Put(ctx context.Context, snapshot models.SessionSnapshot) error
	Remove(ctx context.Context, userID string) error
	ListActive(ctx context.Context) ([]models.SessionSnapshot, error)
}

type LocationFeed interface {
	Publish(ctx context.Context, userID string, pos models.Position) error
	Deny(ctx context.Context, userID, reason string) error
	Grant(ctx context.Context, userID string) error
	Last(ctx context.Context, userID string) (*models.Position, error)
	ForUser(userID string) emergency.LocationProvider
}
