package controllers

import (
	"context"

	"github.com/gin-gonic/gin"

	"safemap/interfaces"
	"safemap/models"
	"safemap/utils"
)

// LocationReader adds the read side to the feed used by the WebSocket handler.
type LocationReader interface {
	interfaces.LocationService
	LastKnown(ctx context.Context, userID string) (*models.Position, error)
}

type LocationController struct {
	locationService LocationReader
}

func NewLocationController(locationService LocationReader) *LocationController {
	return &LocationController{
		locationService: locationService,
	}
}

// UpdateLocation publishes a device fix to the user's feed
// @Summary Push device location
// @Tags Location
// @Security BearerAuth
// @Param request body models.LocationUpdateRequest true "Position"
// @Success 200 {object} models.APIResponse{data=models.Position}
// @Router /location [post]
func (lc *LocationController) UpdateLocation(c *gin.Context) {
	var req models.LocationUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid location data")
		return
	}

	pos, err := lc.locationService.UpdateLocation(c.Request.Context(), utils.GetUserID(c), req)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.SuccessResponse(c, "Location updated", pos)
}

func (lc *LocationController) SetPermission(c *gin.Context) {
	var req models.LocationPermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body")
		return
	}

	if err := lc.locationService.SetPermission(c.Request.Context(), utils.GetUserID(c), req); err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.SuccessResponse(c, "Location permission updated", req)
}

func (lc *LocationController) GetLastLocation(c *gin.Context) {
	pos, err := lc.locationService.LastKnown(c.Request.Context(), utils.GetUserID(c))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	if pos == nil {
		utils.NotFoundResponse(c, "Location")
		return
	}
	utils.SuccessResponse(c, "Location retrieved", pos)
}
