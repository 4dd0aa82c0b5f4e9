package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"safemap/models"
	"safemap/utils"
)

const (
	SessionsCollection = "emergency_sessions"
	ContactsCollection = "emergency_contacts"
	SettingsCollection = "emergency_settings"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidContactID = errors.New("invalid contact ID")
)

type EmergencyRepository struct {
	database           *mongo.Database
	sessionCollection  *mongo.Collection
	contactsCollection *mongo.Collection
	settingsCollection *mongo.Collection
}

func NewEmergencyRepository(database *mongo.Database) *EmergencyRepository {
	return &EmergencyRepository{
		database:           database,
		sessionCollection:  database.Collection(SessionsCollection),
		contactsCollection: database.Collection(ContactsCollection),
		settingsCollection: database.Collection(SettingsCollection),
	}
}

// =================== SESSION OPERATIONS ===================

// UpsertSession replaces the stored record of a session. Records are written
// on every state change so the last write reflects the final outcome.
func (er *EmergencyRepository) UpsertSession(ctx context.Context, session *models.EmergencySession) error {
	session.UpdatedAt = time.Now()

	opts := options.Replace().SetUpsert(true)
	_, err := er.sessionCollection.ReplaceOne(ctx, bson.M{"_id": session.ID}, session, opts)
	if err != nil {
		logrus.Errorf("Failed to upsert emergency session: %v", err)
		return err
	}

	return nil
}

// GetSession returns one of the user's session records.
func (er *EmergencyRepository) GetSession(ctx context.Context, userID, sessionID string) (*models.EmergencySession, error) {
	var session models.EmergencySession
	err := er.sessionCollection.FindOne(ctx, bson.M{"_id": sessionID, "userId": userID}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		logrus.Errorf("Failed to get emergency session: %v", err)
		return nil, err
	}

	return &session, nil
}

// GetUserSessions returns a user's session records, newest first.
func (er *EmergencyRepository) GetUserSessions(ctx context.Context, userID string, page, pageSize int) ([]models.EmergencySession, int64, error) {
	filter := bson.M{"userId": userID}

	total, err := er.sessionCollection.CountDocuments(ctx, filter)
	if err != nil {
		logrus.Errorf("Failed to count emergency sessions: %v", err)
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "armingStartedAt", Value: -1}}).
		SetSkip(int64(utils.CalculateOffset(page, pageSize))).
		SetLimit(int64(pageSize))

	cursor, err := er.sessionCollection.Find(ctx, filter, opts)
	if err != nil {
		logrus.Errorf("Failed to get user emergency sessions: %v", err)
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	sessions := []models.EmergencySession{}
	if err = cursor.All(ctx, &sessions); err != nil {
		logrus.Errorf("Failed to decode emergency sessions: %v", err)
		return nil, 0, err
	}

	return sessions, total, nil
}

// DeleteEndedSessionsBefore removes terminal records that ended before cutoff.
func (er *EmergencyRepository) DeleteEndedSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	filter := bson.M{
		"status": bson.M{"$in": []models.SessionStatus{
			models.SessionStatusCancelled,
			models.SessionStatusResolved,
		}},
		"endedAt": bson.M{"$lt": cutoff},
	}

	result, err := er.sessionCollection.DeleteMany(ctx, filter)
	if err != nil {
		logrus.Errorf("Failed to delete old emergency sessions: %v", err)
		return 0, err
	}

	return result.DeletedCount, nil
}

// =================== CONTACT OPERATIONS ===================

// GetUserContacts returns the contact list in notification order.
func (er *EmergencyRepository) GetUserContacts(ctx context.Context, userID string) ([]models.Contact, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "position", Value: 1},
		{Key: "createdAt", Value: 1},
	})

	cursor, err := er.contactsCollection.Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		logrus.Errorf("Failed to get emergency contacts: %v", err)
		return nil, err
	}
	defer cursor.Close(ctx)

	contacts := []models.Contact{}
	if err = cursor.All(ctx, &contacts); err != nil {
		logrus.Errorf("Failed to decode emergency contacts: %v", err)
		return nil, err
	}

	return contacts, nil
}

func (er *EmergencyRepository) CountUserContacts(ctx context.Context, userID string) (int64, error) {
	return er.contactsCollection.CountDocuments(ctx, bson.M{"userId": userID})
}

func (er *EmergencyRepository) GetContact(ctx context.Context, userID, contactID string) (*models.Contact, error) {
	objectID, err := primitive.ObjectIDFromHex(contactID)
	if err != nil {
		return nil, ErrInvalidContactID
	}

	var contact models.Contact
	err = er.contactsCollection.FindOne(ctx, bson.M{"_id": objectID, "userId": userID}).Decode(&contact)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		logrus.Errorf("Failed to get emergency contact: %v", err)
		return nil, err
	}

	return &contact, nil
}

func (er *EmergencyRepository) AddContact(ctx context.Context, contact *models.Contact) error {
	contact.ID = primitive.NewObjectID()
	contact.CreatedAt = time.Now()
	contact.UpdatedAt = contact.CreatedAt

	_, err := er.contactsCollection.InsertOne(ctx, contact)
	if err != nil {
		logrus.Errorf("Failed to add emergency contact: %v", err)
		return err
	}

	return nil
}

func (er *EmergencyRepository) UpdateContact(ctx context.Context, userID, contactID string, updateFields bson.M) error {
	objectID, err := primitive.ObjectIDFromHex(contactID)
	if err != nil {
		return ErrInvalidContactID
	}

	updateFields["updatedAt"] = time.Now()

	result, err := er.contactsCollection.UpdateOne(
		ctx,
		bson.M{"_id": objectID, "userId": userID},
		bson.M{"$set": updateFields},
	)
	if err != nil {
		logrus.Errorf("Failed to update emergency contact: %v", err)
		return err
	}

	if result.MatchedCount == 0 {
		return ErrNotFound
	}

	return nil
}

func (er *EmergencyRepository) DeleteContact(ctx context.Context, userID, contactID string) error {
	objectID, err := primitive.ObjectIDFromHex(contactID)
	if err != nil {
		return ErrInvalidContactID
	}

	result, err := er.contactsCollection.DeleteOne(ctx, bson.M{"_id": objectID, "userId": userID})
	if err != nil {
		logrus.Errorf("Failed to delete emergency contact: %v", err)
		return err
	}

	if result.DeletedCount == 0 {
		return ErrNotFound
	}

	return nil
}

// =================== SETTINGS OPERATIONS ===================

// GetUserSettings returns nil, nil when the user never saved settings.
func (er *EmergencyRepository) GetUserSettings(ctx context.Context, userID string) (*models.EmergencySettings, error) {
	var settings models.EmergencySettings
	err := er.settingsCollection.FindOne(ctx, bson.M{"_id": userID}).Decode(&settings)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		logrus.Errorf("Failed to get user settings: %v", err)
		return nil, err
	}

	return &settings, nil
}

func (er *EmergencyRepository) UpdateUserSettings(ctx context.Context, settings *models.EmergencySettings) error {
	settings.UpdatedAt = time.Now()

	opts := options.Replace().SetUpsert(true)
	_, err := er.settingsCollection.ReplaceOne(ctx, bson.M{"_id": settings.UserID}, settings, opts)
	if err != nil {
		logrus.Errorf("Failed to update user settings: %v", err)
		return err
	}

	return nil
}

// =================== INDEXES ===================

func (er *EmergencyRepository) CreateIndexes(ctx context.Context) error {
	sessionIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "userId", Value: 1}, {Key: "armingStartedAt", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "endedAt", Value: 1}},
		},
	}

	_, err := er.sessionCollection.Indexes().CreateMany(ctx, sessionIndexes)
	if err != nil {
		logrus.Errorf("Failed to create emergency session indexes: %v", err)
		return err
	}

	contactsIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "userId", Value: 1}, {Key: "position", Value: 1}},
		},
	}

	_, err = er.contactsCollection.Indexes().CreateMany(ctx, contactsIndexes)
	if err != nil {
		logrus.Errorf("Failed to create contacts indexes: %v", err)
		return err
	}

	logrus.Info("Emergency repository indexes created successfully")
	return nil
}
