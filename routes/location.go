package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"safemap/controllers"
	"safemap/middleware"
)

func SetupLocationRoutes(router *gin.RouterGroup, locationController *controllers.LocationController, rdb *redis.Client) {
	location := router.Group("/location")
	location.Use(middleware.LocationRateLimit(rdb))
	{
		location.POST("", locationController.UpdateLocation)
		location.GET("", locationController.GetLastLocation)
		location.POST("/permission", locationController.SetPermission)
	}
}
