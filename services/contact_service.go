package services

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"safemap/models"
	"safemap/repositories"
	"safemap/utils"
)

const DefaultMaxContacts = 10

// ContactService manages the ordered contact list that is frozen into each
// emergency session when it is armed.
type ContactService struct {
	contacts    ContactStore
	maxContacts int
	validator   *utils.ValidationService
}

func NewContactService(contacts ContactStore, maxContacts int) *ContactService {
	if maxContacts <= 0 {
		maxContacts = DefaultMaxContacts
	}
	return &ContactService{
		contacts:    contacts,
		maxContacts: maxContacts,
		validator:   utils.NewValidationService(),
	}
}

func (cs *ContactService) List(ctx context.Context, userID string) ([]models.Contact, error) {
	contacts, err := cs.contacts.GetUserContacts(ctx, userID)
	if err != nil {
		return nil, utils.WrapDatabaseError(err, "list contacts")
	}
	return contacts, nil
}

func (cs *ContactService) Add(ctx context.Context, userID string, req models.AddContactRequest) (*models.Contact, error) {
	if errs := cs.validator.ValidateStruct(req); len(errs) > 0 {
		return nil, utils.NewValidationError(errs[0].Message)
	}

	count, err := cs.contacts.CountUserContacts(ctx, userID)
	if err != nil {
		return nil, utils.WrapDatabaseError(err, "count contacts")
	}
	if count >= int64(cs.maxContacts) {
		return nil, utils.NewContactLimitError(cs.maxContacts)
	}

	position := int(count)
	if req.Position != nil {
		position = *req.Position
	}

	contact := &models.Contact{
		UserID:       userID,
		Name:         strings.TrimSpace(req.Name),
		Phone:        utils.NormalizePhone(req.Phone),
		Relationship: strings.TrimSpace(req.Relationship),
		DeviceToken:  req.DeviceToken,
		AppUserID:    req.AppUserID,
		Position:     position,
		Secondary:    req.Secondary,
	}
	if err := cs.contacts.AddContact(ctx, contact); err != nil {
		return nil, utils.WrapDatabaseError(err, "add contact")
	}
	return contact, nil
}

func (cs *ContactService) Update(ctx context.Context, userID, contactID string, req models.UpdateContactRequest) (*models.Contact, error) {
	if errs := cs.validator.ValidateStruct(req); len(errs) > 0 {
		return nil, utils.NewValidationError(errs[0].Message)
	}

	updateFields := bson.M{}
	if req.Name != nil {
		updateFields["name"] = strings.TrimSpace(*req.Name)
	}
	if req.Phone != nil {
		updateFields["phone"] = utils.NormalizePhone(*req.Phone)
	}
	if req.Relationship != nil {
		updateFields["relationship"] = strings.TrimSpace(*req.Relationship)
	}
	if req.DeviceToken != nil {
		updateFields["deviceToken"] = *req.DeviceToken
	}
	if req.AppUserID != nil {
		updateFields["appUserId"] = *req.AppUserID
	}
	if req.Position != nil {
		updateFields["position"] = *req.Position
	}
	if req.Secondary != nil {
		updateFields["secondary"] = *req.Secondary
	}

	if len(updateFields) > 0 {
		if err := cs.contacts.UpdateContact(ctx, userID, contactID, updateFields); err != nil {
			return nil, mapContactError(err, "update contact")
		}
	}

	contact, err := cs.contacts.GetContact(ctx, userID, contactID)
	if err != nil {
		return nil, mapContactError(err, "get contact")
	}
	return contact, nil
}

func (cs *ContactService) Delete(ctx context.Context, userID, contactID string) error {
	if err := cs.contacts.DeleteContact(ctx, userID, contactID); err != nil {
		return mapContactError(err, "delete contact")
	}
	return nil
}

func mapContactError(err error, operation string) error {
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return utils.NewContactNotFoundError()
	case errors.Is(err, repositories.ErrInvalidContactID):
		return utils.NewBadRequestError("Invalid contact ID")
	default:
		return utils.WrapDatabaseError(err, operation)
	}
}
