package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"safemap/models"
	"safemap/utils"
)

// LocationService accepts device fixes and permission changes and publishes
// them on the per-user feed that active sessions subscribe to.
type LocationService struct {
	feed      LocationFeed
	validator *utils.ValidationService
}

func NewLocationService(feed LocationFeed) *LocationService {
	return &LocationService{
		feed:      feed,
		validator: utils.NewValidationService(),
	}
}

func (ls *LocationService) UpdateLocation(ctx context.Context, userID string, req models.LocationUpdateRequest) (*models.Position, error) {
	if errs := ls.validator.ValidateStruct(req); len(errs) > 0 {
		return nil, utils.NewValidationError(errs[0].Message)
	}
	if !utils.IsValidCoordinate(req.Latitude, req.Longitude) {
		return nil, utils.NewBadRequestError("Invalid coordinates")
	}

	pos := req.ToPosition(time.Now())

	previous, err := ls.feed.Last(ctx, userID)
	if err != nil {
		logrus.Debug("No previous location found for user: ", userID)
	}

	if err := ls.feed.Publish(ctx, userID, pos); err != nil {
		return nil, utils.NewLocationServiceError("Failed to publish location", err)
	}

	if previous != nil {
		logrus.WithFields(logrus.Fields{
			"userId": userID,
			"moved":  utils.CalculateDistance(previous.Latitude, previous.Longitude, pos.Latitude, pos.Longitude),
		}).Debug("Location updated")
	}
	return &pos, nil
}

// SetPermission records whether the device currently allows location access.
func (ls *LocationService) SetPermission(ctx context.Context, userID string, req models.LocationPermissionRequest) error {
	var err error
	if req.Granted {
		err = ls.feed.Grant(ctx, userID)
	} else {
		err = ls.feed.Deny(ctx, userID, req.Reason)
	}
	if err != nil {
		return utils.NewLocationServiceError("Failed to update location permission", err)
	}
	return nil
}

func (ls *LocationService) LastKnown(ctx context.Context, userID string) (*models.Position, error) {
	pos, err := ls.feed.Last(ctx, userID)
	if err != nil {
		return nil, utils.NewLocationServiceError("Failed to read location", err)
	}
	return pos, nil
}
