package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"safemap/controllers"
	"safemap/middleware"
)

// SetupEmergencyRoutes mounts commands, trigger inputs, contacts and settings.
// Release and cancel are never rate limited.
func SetupEmergencyRoutes(router *gin.RouterGroup, emergencyController *controllers.EmergencyController, contactController *controllers.ContactController, rdb *redis.Client) {
	emergency := router.Group("/emergency")
	triggerLimit := middleware.TriggerRateLimit(rdb)

	emergency.POST("/activate", triggerLimit, emergencyController.Activate)
	emergency.POST("/release", emergencyController.Release)
	emergency.POST("/cancel", emergencyController.Cancel)
	emergency.GET("/status", emergencyController.Status)
	emergency.GET("/sessions", emergencyController.GetSessions)
	emergency.GET("/sessions/:id", emergencyController.GetSession)

	inputs := emergency.Group("/triggers")
	inputs.Use(triggerLimit)
	{
		inputs.POST("/voice", emergencyController.VoiceTrigger)
		inputs.POST("/hotkey", emergencyController.HotkeyTrigger)
		inputs.POST("/shake", emergencyController.ShakeTrigger)
	}

	contacts := emergency.Group("/contacts")
	{
		contacts.GET("", contactController.GetContacts)
		contacts.POST("", contactController.AddContact)
		contacts.PUT("/:id", contactController.UpdateContact)
		contacts.DELETE("/:id", contactController.DeleteContact)
	}

	emergency.GET("/settings", contactController.GetSettings)
	emergency.PUT("/settings", contactController.UpdateSettings)
}
