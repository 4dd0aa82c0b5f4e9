package controllers

import (
	"context"

	"github.com/gin-gonic/gin"

	"safemap/models"
	"safemap/utils"
)

type ContactManager interface {
	List(ctx context.Context, userID string) ([]models.Contact, error)
	Add(ctx context.Context, userID string, req models.AddContactRequest) (*models.Contact, error)
	Update(ctx context.Context, userID, contactID string, req models.UpdateContactRequest) (*models.Contact, error)
	Delete(ctx context.Context, userID, contactID string) error
}

type SettingsManager interface {
	Get(ctx context.Context, userID string) (*models.EmergencySettings, error)
	Update(ctx context.Context, userID string, req models.UpdateSettingsRequest) (*models.EmergencySettings, error)
}

// ContactController serves the emergency contact list and the per-user
// arming settings. Changes apply from the next activation on; a running
// session keeps the snapshot it armed with.
type ContactController struct {
	contactService  ContactManager
	settingsService SettingsManager
}

func NewContactController(contactService ContactManager, settingsService SettingsManager) *ContactController {
	return &ContactController{
		contactService:  contactService,
		settingsService: settingsService,
	}
}

func (cc *ContactController) GetContacts(c *gin.Context) {
	contacts, err := cc.contactService.List(c.Request.Context(), utils.GetUserID(c))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.SuccessResponse(c, "Emergency contacts retrieved", contacts)
}

// AddContact appends a contact to the caller's list
// @Summary Add emergency contact
// @Tags Contacts
// @Security BearerAuth
// @Param request body models.AddContactRequest true "Contact"
// @Success 201 {object} models.APIResponse{data=models.Contact}
// @Failure 409 {object} models.APIResponse "Contact limit reached"
// @Router /emergency/contacts [post]
func (cc *ContactController) AddContact(c *gin.Context) {
	var req models.AddContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body")
		return
	}

	contact, err := cc.contactService.Add(c.Request.Context(), utils.GetUserID(c), req)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.CreatedResponse(c, "Emergency contact added", contact)
}

func (cc *ContactController) UpdateContact(c *gin.Context) {
	var req models.UpdateContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body")
		return
	}

	contact, err := cc.contactService.Update(c.Request.Context(), utils.GetUserID(c), c.Param("id"), req)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.SuccessResponse(c, "Emergency contact updated", contact)
}

func (cc *ContactController) DeleteContact(c *gin.Context) {
	if err := cc.contactService.Delete(c.Request.Context(), utils.GetUserID(c), c.Param("id")); err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.SuccessResponse(c, "Emergency contact deleted", nil)
}

func (cc *ContactController) GetSettings(c *gin.Context) {
	settings, err := cc.settingsService.Get(c.Request.Context(), utils.GetUserID(c))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.SuccessResponse(c, "Emergency settings retrieved", settings)
}

func (cc *ContactController) UpdateSettings(c *gin.Context) {
	var req models.UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body")
		return
	}

	settings, err := cc.settingsService.Update(c.Request.Context(), utils.GetUserID(c), req)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.SuccessResponse(c, "Emergency settings updated", settings)
}
