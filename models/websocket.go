// models/websocket.go
package models

import (
	"encoding/json"
	"time"
)

// WebSocket Message Types
type WSMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	UserID    string      `json:"userId,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"requestId,omitempty"`
}

// WebSocket Response Types
type WSResponse struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Success   bool        `json:"success"`
	Error     string      `json:"error,omitempty"`
	RequestID string      `json:"requestId,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type WSError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// WSCommandResult answers trigger and cancel frames. Matched is false when a
// raw input (voice, hotkey, shake) did not amount to a trigger.
type WSCommandResult struct {
	Matched  bool            `json:"matched"`
	Detail   string          `json:"detail,omitempty"`
	Accepted bool            `json:"accepted"`
	Reason   string          `json:"reason,omitempty"`
	Session  SessionSnapshot `json:"session"`
}

type WSConnectionStatus struct {
	UserID       string    `json:"userId"`
	ConnectionID string    `json:"connectionId"`
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
}

type WSRoomStats struct {
	RoomID        string    `json:"roomId"`
	ActiveUsers   int       `json:"activeUsers"`
	LastActivity  time.Time `json:"lastActivity"`
	TotalMessages int64     `json:"totalMessages"`
}

type WSHubStats struct {
	TotalConnections  int64                  `json:"totalConnections"`
	ActiveConnections int                    `json:"activeConnections"`
	ConnectedUsers    int                    `json:"connectedUsers"`
	MessagesSent      int64                  `json:"messagesSent"`
	MessagesDropped   int64                  `json:"messagesDropped"`
	RoomStats         map[string]WSRoomStats `json:"roomStats"`
	Uptime            time.Duration          `json:"uptime"`
	LastUpdate        time.Time              `json:"lastUpdate"`
}

// WSRequest is an inbound frame; Data is decoded according to Type.
type WSRequest struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

// WebSocket Event Constants
const (
	// outbound
	WSTypeSession    = "session"
	WSTypeNotice     = "notice"
	WSTypeAlert      = "emergency_alert"
	WSTypePong       = "pong"
	WSTypeError      = "error"
	WSTypeSuccess    = "success"
	WSTypeConnection = "connection_status"

	// inbound
	WSRequestTrigger        = "trigger"
	WSRequestRelease        = "release"
	WSRequestCancel         = "cancel"
	WSRequestVoice          = "voice"
	WSRequestHotkey         = "hotkey"
	WSRequestShake          = "shake"
	WSRequestLocationUpdate = "location_update"
	WSRequestLocationDenied = "location_denied"
	WSRequestLocationAllow  = "location_granted"
	WSRequestStatus         = "status"
	WSRequestPing           = "ping"

	// Connection states
	WSStatusConnected    = "connected"
	WSStatusDisconnected = "disconnected"

	// Error codes
	WSErrorInvalidMessage  = "INVALID_MESSAGE"
	WSErrorUnauthorized    = "UNAUTHORIZED"
	WSErrorRateLimit       = "RATE_LIMIT"
	WSErrorInvalidLocation = "INVALID_LOCATION"
	WSErrorUnknownType     = "UNKNOWN_TYPE"
)
