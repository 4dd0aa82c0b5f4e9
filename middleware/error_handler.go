package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"

	"safemap/models"
	"safemap/utils"
)

// ErrorHandler recovers panics and renders errors that handlers attached
// with c.Error instead of writing a response themselves.
type ErrorHandler struct {
	environment string
	logger      *logrus.Logger
}

func NewErrorHandler(environment string, logger *logrus.Logger) *ErrorHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ErrorHandler{
		environment: environment,
		logger:      logger,
	}
}

func (eh *ErrorHandler) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				eh.handlePanic(c, err)
			}
		}()

		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			eh.processError(c, c.Errors.Last().Err)
		}
	}
}

func (eh *ErrorHandler) handlePanic(c *gin.Context, err interface{}) {
	stack := string(debug.Stack())
	eh.logger.WithFields(logrus.Fields{
		"panic":      err,
		"stack":      stack,
		"request_id": c.GetString(ContextRequestID),
		"path":       c.Request.URL.Path,
		"method":     c.Request.Method,
		"userId":     c.GetString(ContextUserID),
	}).Error("Panic recovered")

	response := models.NewErrorResponse(models.ErrorTypeInternal, "Internal server error", "PANIC_RECOVERED", c.GetString(ContextRequestID))
	if eh.environment == "development" {
		response.WithDetails("panic", err).WithDetails("stack", stack)
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, response)
}

func (eh *ErrorHandler) processError(c *gin.Context, err error) {
	switch {
	case utils.IsServiceError(err):
		utils.HandleServiceError(c, err)
	case errors.Is(err, mongo.ErrNoDocuments):
		utils.NotFoundResponse(c, "Resource")
	case mongo.IsTimeout(err) || mongo.IsNetworkError(err):
		eh.logger.WithError(err).WithField("path", c.FullPath()).Error("Database unavailable")
		utils.ErrorResponse(c, http.StatusServiceUnavailable, "Database unavailable", nil)
	default:
		var details interface{}
		if eh.environment == "development" {
			details = map[string]string{"original_error": err.Error()}
		}
		eh.logger.WithError(err).WithField("path", c.FullPath()).Error("Unhandled error")
		utils.ErrorResponse(c, http.StatusInternalServerError, "An unexpected error occurred", details)
	}
}

// NoRoute answers unknown paths in the same envelope as every other error.
func NoRoute(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusNotFound, models.NewErrorResponse(
		models.ErrorTypeNotFound, "Route not found", models.CodeRouteNotFound, c.GetString(ContextRequestID)))
}
