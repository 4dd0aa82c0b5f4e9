package models

import "time"

// ErrorResponse is the body written by middleware that aborts a request
// before it reaches a controller.
type ErrorResponse struct {
	Error     string                 `json:"error"`
	Message   string                 `json:"message"`
	Code      string                 `json:"code"`
	RequestID string                 `json:"request_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func NewErrorResponse(errorType, message, code, requestID string) *ErrorResponse {
	return &ErrorResponse{
		Error:     errorType,
		Message:   message,
		Code:      code,
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
	}
}

func (e *ErrorResponse) WithDetails(key string, value interface{}) *ErrorResponse {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Common error types
const (
	ErrorTypeAuthentication = "UNAUTHORIZED"
	ErrorTypeAuthorization  = "FORBIDDEN"
	ErrorTypeRateLimit      = "RATE_LIMIT_EXCEEDED"
	ErrorTypeInternal       = "INTERNAL_SERVER_ERROR"
	ErrorTypeNotFound       = "NOT_FOUND"
)

// Common error codes
const (
	CodeTokenRequired       = "AUTH_TOKEN_REQUIRED"
	CodeTokenInvalid        = "AUTH_TOKEN_INVALID"
	CodeInsufficientRole    = "AUTH_INSUFFICIENT_PERMISSIONS"
	CodeTooManyRequests     = "TOO_MANY_REQUESTS"
	CodeInternalServerError = "INTERNAL_SERVER_ERROR"
	CodeRouteNotFound       = "ROUTE_NOT_FOUND"
)
