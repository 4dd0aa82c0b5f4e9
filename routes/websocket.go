package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"safemap/controllers"
	"safemap/middleware"
)

// SetupWebSocketRoutes mounts the upgrade endpoint. The token travels in the
// query string, so authentication happens inside the handler.
func SetupWebSocketRoutes(router *gin.Engine, wsController *controllers.WebSocketController, rdb *redis.Client) {
	wsLimit := middleware.WebSocketRateLimit(rdb)
	router.GET("/ws", wsLimit, wsController.HandleWebSocket)
	router.GET("/api/v1/ws", wsLimit, wsController.HandleWebSocket)
}
