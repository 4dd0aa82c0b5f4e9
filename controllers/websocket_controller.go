package controllers

import (
	"github.com/gin-gonic/gin"
	gws "github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"safemap/utils"
	"safemap/websocket"
)

type TokenAuthenticator interface {
	Authenticate(token string) (*utils.Claims, error)
}

type WebSocketController struct {
	hub      *websocket.Hub
	handler  *websocket.MessageHandler
	auth     TokenAuthenticator
	upgrader gws.Upgrader
}

func NewWebSocketController(hub *websocket.Hub, handler *websocket.MessageHandler, auth TokenAuthenticator, allowedOrigins []string) *WebSocketController {
	return &WebSocketController{
		hub:      hub,
		handler:  handler,
		auth:     auth,
		upgrader: websocket.NewUpgrader(allowedOrigins),
	}
}

// HandleWebSocket upgrades an authenticated request to a live channel
// @Summary WebSocket endpoint
// @Description Trigger inputs, location fixes and session pushes over one connection
// @Tags WebSocket
// @Param token query string true "Access token"
// @Success 101 "Switching Protocols"
// @Failure 401 {object} models.APIResponse
// @Router /ws [get]
func (wsc *WebSocketController) HandleWebSocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		utils.UnauthorizedResponse(c, "Authentication token is required")
		return
	}

	claims, err := wsc.auth.Authenticate(token)
	if err != nil {
		logrus.WithError(err).Warn("WebSocket authentication failed")
		utils.UnauthorizedResponse(c, "Invalid authentication token")
		return
	}

	// Upgrade writes its own error response on failure.
	conn, err := wsc.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).WithField("userId", claims.UserID).Warn("WebSocket upgrade failed")
		return
	}

	websocket.NewClient(conn, wsc.hub, wsc.handler, claims, c.Request).Serve()
}

func (wsc *WebSocketController) GetConnectionStats(c *gin.Context) {
	utils.SuccessResponse(c, "Connection statistics retrieved", wsc.hub.GetStats())
}

func (wsc *WebSocketController) GetConnectedUsers(c *gin.Context) {
	users := wsc.hub.GetConnectedUsers()
	utils.SuccessResponse(c, "Connected users retrieved", gin.H{
		"users": users,
		"count": len(users),
	})
}

func (wsc *WebSocketController) GetUserConnection(c *gin.Context) {
	userID := c.Param("userId")
	utils.SuccessResponse(c, "User connection status retrieved", gin.H{
		"userId": userID,
		"online": wsc.hub.IsUserOnline(userID),
	})
}
