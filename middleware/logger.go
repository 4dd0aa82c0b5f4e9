package middleware

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const ContextRequestID = "request_id"

type LoggerConfig struct {
	Logger            *logrus.Logger
	EnableRequestBody bool
	MaxBodySize       int64
	SkipPaths         []string
	SkipUserAgents    []string
}

// LoggerMiddleware tags every request with an id and logs it once it completes.
func LoggerMiddleware(config LoggerConfig) gin.HandlerFunc {
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	if config.MaxBodySize == 0 {
		config.MaxBodySize = 4096
	}

	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set(ContextRequestID, requestID)
		c.Header("X-Request-ID", requestID)

		if shouldSkipPath(c.Request.URL.Path, config.SkipPaths) ||
			shouldSkipUserAgent(c.GetHeader("User-Agent"), config.SkipUserAgents) {
			c.Next()
			return
		}

		startTime := time.Now()

		var requestBody []byte
		if config.EnableRequestBody && c.Request.Body != nil {
			requestBody = captureRequestBody(c, config.MaxBodySize)
		}

		c.Next()

		duration := time.Since(startTime)
		fields := createLogFields(c, duration, requestID, requestBody)
		logRequest(config.Logger, c.Writer.Status(), duration, fields)
	}
}

func DefaultLoggerMiddleware() gin.HandlerFunc {
	return LoggerMiddleware(LoggerConfig{
		Logger:         logrus.StandardLogger(),
		SkipPaths:      []string{"/health", "/favicon.ico"},
		SkipUserAgents: []string{"kube-probe", "GoogleHC"},
	})
}

// DevelopmentLoggerMiddleware also logs request bodies. Bodies carry phone
// numbers and positions, so this is never used in production.
func DevelopmentLoggerMiddleware() gin.HandlerFunc {
	return LoggerMiddleware(LoggerConfig{
		Logger:            logrus.StandardLogger(),
		EnableRequestBody: true,
		MaxBodySize:       8192,
		SkipPaths:         []string{"/health"},
	})
}

func captureRequestBody(c *gin.Context, maxSize int64) []byte {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSize))
	if err != nil {
		return nil
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	return body
}

func createLogFields(c *gin.Context, duration time.Duration, requestID string, requestBody []byte) logrus.Fields {
	fields := logrus.Fields{
		"request_id":    requestID,
		"method":        c.Request.Method,
		"path":          c.Request.URL.Path,
		"status":        c.Writer.Status(),
		"latency":       duration.String(),
		"latency_ms":    float64(duration.Nanoseconds()) / 1000000.0,
		"ip":            c.ClientIP(),
		"user_agent":    c.GetHeader("User-Agent"),
		"response_size": c.Writer.Size(),
	}

	if userID := c.GetString(ContextUserID); userID != "" {
		fields["userId"] = userID
	}

	if len(requestBody) > 0 {
		if strings.Contains(strings.ToLower(c.GetHeader("Content-Type")), "application/json") {
			fields["request_body"] = string(requestBody)
		} else {
			fields["request_body_size"] = len(requestBody)
		}
	}

	if len(c.Errors) > 0 {
		errs := make([]string, len(c.Errors))
		for i, err := range c.Errors {
			errs[i] = err.Error()
		}
		fields["errors"] = errs
	}
	return fields
}

func logRequest(logger *logrus.Logger, statusCode int, duration time.Duration, fields logrus.Fields) {
	message := fmt.Sprintf("%s %s %d %s", fields["method"], fields["path"], statusCode, duration)

	switch {
	case statusCode >= 500:
		logger.WithFields(fields).Error(message)
	case statusCode >= 400:
		logger.WithFields(fields).Warn(message)
	case duration > 5*time.Second:
		logger.WithFields(fields).Warn(message + " (slow request)")
	default:
		logger.WithFields(fields).Info(message)
	}
}

func shouldSkipPath(path string, skipPaths []string) bool {
	for _, skipPath := range skipPaths {
		if strings.HasPrefix(path, skipPath) {
			return true
		}
	}
	return false
}

func shouldSkipUserAgent(userAgent string, skipUserAgents []string) bool {
	for _, skipUA := range skipUserAgents {
		if strings.Contains(userAgent, skipUA) {
			return true
		}
	}
	return false
}
