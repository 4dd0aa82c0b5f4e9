package utils

import (
	"errors"
	"fmt"
	"net/http"
)

// ServiceError represents a service-level error with context
type ServiceError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode,omitempty"`
	Details    string `json:"details,omitempty"`
	Cause      error  `json:"-"` // Original error, not exposed in JSON
}

func (e ServiceError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e ServiceError) Unwrap() error {
	return e.Cause
}

// GetServiceError finds a ServiceError anywhere in the chain.
func GetServiceError(err error) (ServiceError, bool) {
	var serviceErr ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr, true
	}
	return ServiceError{}, false
}

func IsServiceError(err error) bool {
	_, ok := GetServiceError(err)
	return ok
}

func NewServiceErrorWithStatus(code, message string, statusCode int) error {
	return ServiceError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

func NewUnauthorizedError(message string) error {
	return NewServiceErrorWithStatus(ErrCodeAuthentication, message, http.StatusUnauthorized)
}

func NewNotFoundError(resource string) error {
	return NewServiceErrorWithStatus(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewBadRequestError(message string) error {
	return NewServiceErrorWithStatus(ErrCodeValidation, message, http.StatusBadRequest)
}

func NewConflictError(message string) error {
	return NewServiceErrorWithStatus(ErrCodeConflict, message, http.StatusConflict)
}

func NewDatabaseError(operation string, cause error) error {
	return ServiceError{
		Code:       ErrCodeDatabase,
		Message:    fmt.Sprintf("Database operation failed: %s", operation),
		Cause:      cause,
		StatusCode: http.StatusInternalServerError,
	}
}

func NewCacheError(operation string, cause error) error {
	return ServiceError{
		Code:       ErrCodeCache,
		Message:    fmt.Sprintf("Cache operation failed: %s", operation),
		Cause:      cause,
		StatusCode: http.StatusServiceUnavailable,
	}
}

func NewValidationError(details string) error {
	return ServiceError{
		Code:       ErrCodeValidation,
		Message:    "Validation failed",
		Details:    details,
		StatusCode: http.StatusBadRequest,
	}
}

// Domain errors
func NewContactNotFoundError() error {
	return NewNotFoundError("Contact")
}

func NewSessionNotFoundError() error {
	return NewNotFoundError("Emergency session")
}

func NewContactLimitError(limit int) error {
	return NewConflictError(fmt.Sprintf("Contact list is limited to %d entries", limit))
}

func NewLocationServiceError(message string, cause error) error {
	return ServiceError{
		Code:       ErrCodeLocationService,
		Message:    message,
		Cause:      cause,
		StatusCode: http.StatusServiceUnavailable,
	}
}

func WrapDatabaseError(err error, operation string) error {
	return NewDatabaseError(operation, err)
}

// Error code constants
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeAuthentication      = "AUTHENTICATION_ERROR"
	ErrCodeAuthorization       = "AUTHORIZATION_ERROR"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeConflict            = "CONFLICT"
	ErrCodeRateLimit           = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal            = "INTERNAL_ERROR"
	ErrCodeDatabase            = "DATABASE_ERROR"
	ErrCodeCache               = "CACHE_ERROR"
	ErrCodeLocationService     = "LOCATION_SERVICE_ERROR"
	ErrCodeNotificationService = "NOTIFICATION_SERVICE_ERROR"
)
