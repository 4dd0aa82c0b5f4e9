package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type CORSConfig struct {
	AllowAllOrigins  bool
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           time.Duration
}

func DefaultCORSConfig(origins []string) CORSConfig {
	return CORSConfig{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept", "X-Request-ID", "X-Device-Type", "X-App-Version"},
		ExposeHeaders:    []string{"Content-Length", "Content-Type", "X-Request-ID", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
}

func CORS(config CORSConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if c.Request.Method == http.MethodOptions {
			handlePreflightRequest(c, config, origin)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		handleActualRequest(c, config, origin)
		c.Next()
	}
}

func handlePreflightRequest(c *gin.Context, config CORSConfig, origin string) {
	if !setAllowOrigin(c, config, origin) {
		logrus.Warnf("CORS: Origin not allowed: %s", origin)
		return
	}

	requestMethod := c.Request.Header.Get("Access-Control-Request-Method")
	if requestMethod != "" && containsFold(config.AllowMethods, requestMethod) {
		c.Header("Access-Control-Allow-Methods", strings.Join(config.AllowMethods, ", "))
	}
	if len(config.AllowHeaders) > 0 {
		c.Header("Access-Control-Allow-Headers", strings.Join(config.AllowHeaders, ", "))
	}
	if config.MaxAge > 0 {
		c.Header("Access-Control-Max-Age", strconv.Itoa(int(config.MaxAge.Seconds())))
	}
}

func handleActualRequest(c *gin.Context, config CORSConfig, origin string) {
	if !setAllowOrigin(c, config, origin) {
		return
	}
	if len(config.ExposeHeaders) > 0 {
		c.Header("Access-Control-Expose-Headers", strings.Join(config.ExposeHeaders, ", "))
	}
	c.Header("Vary", "Origin")
}

func setAllowOrigin(c *gin.Context, config CORSConfig, origin string) bool {
	if !isOriginAllowed(config, origin) {
		return false
	}
	// Credentials forbid the "*" wildcard, so echo the origin back.
	if config.AllowCredentials || !config.AllowAllOrigins {
		c.Header("Access-Control-Allow-Origin", origin)
	} else {
		c.Header("Access-Control-Allow-Origin", "*")
	}
	if config.AllowCredentials {
		c.Header("Access-Control-Allow-Credentials", "true")
	}
	return true
}

func isOriginAllowed(config CORSConfig, origin string) bool {
	if origin == "" {
		return false
	}
	if config.AllowAllOrigins {
		return true
	}

	for _, allowedOrigin := range config.AllowOrigins {
		if allowedOrigin == "*" || allowedOrigin == origin {
			return true
		}
		// *.example.com
		if strings.HasPrefix(allowedOrigin, "*.") {
			domain := allowedOrigin[2:]
			if strings.HasSuffix(origin, "."+domain) {
				return true
			}
		}
	}
	return false
}

func containsFold(values []string, v string) bool {
	for _, x := range values {
		if strings.EqualFold(x, v) {
			return true
		}
	}
	return false
}

// CORSMiddleware allows every origin in development and only the configured
// ones elsewhere.
func CORSMiddleware(environment string, origins []string) gin.HandlerFunc {
	config := DefaultCORSConfig(origins)
	if environment == "development" {
		config.AllowAllOrigins = true
		logrus.Info("Using development CORS configuration")
	}
	return CORS(config)
}
