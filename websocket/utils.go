package websocket

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"safemap/models"
)

// NewUpgrader builds the upgrader for the /ws endpoint. An empty or "*"
// origin list accepts every origin.
func NewUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || originAllowed(origin, allowedOrigins) {
				return true
			}
			logrus.Warnf("Rejected WebSocket connection from origin: %s", origin)
			return false
		},
	}
}

func originAllowed(origin string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, o := range allowed {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// validateWebSocketMessage checks the envelope before any payload is decoded.
func validateWebSocketMessage(msg models.WSRequest) error {
	if msg.Type == "" {
		return errMissingType
	}

	switch msg.Type {
	case models.WSRequestVoice, models.WSRequestHotkey, models.WSRequestShake, models.WSRequestLocationUpdate:
		if len(msg.Data) == 0 || string(msg.Data) == "null" {
			return errMissingData
		}
	}
	return nil
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

func logWebSocketError(client *Client, operation string, err error) {
	logrus.WithFields(logrus.Fields{
		"userId":       client.userID,
		"connectionId": client.connectionID,
		"operation":    operation,
		"error":        err.Error(),
	}).Error("WebSocket operation failed")
}

func logWebSocketEvent(client *Client, eventType string) {
	if logrus.IsLevelEnabled(logrus.DebugLevel) {
		logrus.WithFields(logrus.Fields{
			"userId":       client.userID,
			"connectionId": client.connectionID,
			"eventType":    eventType,
		}).Debug("WebSocket event processed")
	}
}
