package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"safemap/models"
)

type RateLimitConfig struct {
	Redis          *redis.Client
	Requests       int
	Window         time.Duration
	KeyPrefix      string
	SkipPaths      []string
	SkipUserAgents []string
	ErrorMessage   string
}

type RateLimitStrategy string

const (
	StrategyIP       RateLimitStrategy = "ip"
	StrategyUser     RateLimitStrategy = "user"
	StrategyUserOrIP RateLimitStrategy = "user_or_ip"
)

// RateLimiter is a Redis sliding-window log limiter. A Redis failure lets
// the request through: losing the limiter must never block an emergency.
type RateLimiter struct {
	config   RateLimitConfig
	strategy RateLimitStrategy
}

func NewRateLimiter(config RateLimitConfig, strategy RateLimitStrategy) *RateLimiter {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "rate_limit"
	}
	if config.ErrorMessage == "" {
		config.ErrorMessage = "Rate limit exceeded"
	}
	return &RateLimiter{
		config:   config,
		strategy: strategy,
	}
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if shouldSkipPath(c.Request.URL.Path, rl.config.SkipPaths) ||
			shouldSkipUserAgent(c.GetHeader("User-Agent"), rl.config.SkipUserAgents) {
			c.Next()
			return
		}

		key := rl.getKey(c)
		if key == "" {
			c.Next()
			return
		}

		allowed, resetTime, remaining, err := rl.checkRateLimit(c.Request.Context(), key)
		if err != nil {
			logrus.Errorf("Rate limit check failed: %v", err)
			c.Next()
			return
		}

		rl.setRateLimitHeaders(c, remaining, resetTime)

		if !allowed {
			rl.handleRateLimitExceeded(c, resetTime)
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) checkRateLimit(ctx context.Context, key string) (allowed bool, resetTime time.Time, remaining int, err error) {
	now := time.Now()
	window := rl.config.Window
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString()[:8]

	pipe := rl.config.Redis.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(now.Add(-window).UnixNano(), 10))
	count := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, &redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.Expire(ctx, key, window+time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, time.Time{}, 0, err
	}

	current := count.Val()
	remaining = rl.config.Requests - int(current) - 1
	if remaining < 0 {
		remaining = 0
	}
	resetTime = now.Add(window)
	allowed = current < int64(rl.config.Requests)

	if !allowed {
		rl.config.Redis.ZRem(ctx, key, member)
	}
	return allowed, resetTime, remaining, nil
}

func (rl *RateLimiter) getKey(c *gin.Context) string {
	prefix := rl.config.KeyPrefix

	switch rl.strategy {
	case StrategyUser:
		userID := c.GetString(ContextUserID)
		if userID == "" {
			return ""
		}
		return fmt.Sprintf("%s:user:%s", prefix, userID)

	case StrategyUserOrIP:
		if userID := c.GetString(ContextUserID); userID != "" {
			return fmt.Sprintf("%s:user:%s", prefix, userID)
		}
		return fmt.Sprintf("%s:ip:%s", prefix, clientIP(c))

	default:
		return fmt.Sprintf("%s:ip:%s", prefix, clientIP(c))
	}
}

func clientIP(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xri := c.GetHeader("X-Real-IP"); xri != "" {
		return xri
	}
	return c.ClientIP()
}

func (rl *RateLimiter) setRateLimitHeaders(c *gin.Context, remaining int, resetTime time.Time) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(rl.config.Requests))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))
}

func (rl *RateLimiter) handleRateLimitExceeded(c *gin.Context, resetTime time.Time) {
	retryAfter := int(time.Until(resetTime).Seconds())
	if retryAfter < 0 {
		retryAfter = 0
	}
	c.Header("Retry-After", strconv.Itoa(retryAfter))

	logrus.WithFields(logrus.Fields{
		"client_ip":   clientIP(c),
		"userId":      c.GetString(ContextUserID),
		"path":        c.Request.URL.Path,
		"retry_after": retryAfter,
	}).Warn("Rate limit exceeded")

	response := models.NewErrorResponse(models.ErrorTypeRateLimit, rl.config.ErrorMessage,
		models.CodeTooManyRequests, c.GetString(ContextRequestID)).
		WithDetails("retry_after", retryAfter).
		WithDetails("reset_time", resetTime.Unix())
	c.AbortWithStatusJSON(http.StatusTooManyRequests, response)
}

// DefaultRateLimit applies 100 requests per minute per IP to the whole API.
func DefaultRateLimit(rdb *redis.Client) gin.HandlerFunc {
	return NewRateLimiter(RateLimitConfig{
		Redis:          rdb,
		Requests:       100,
		Window:         time.Minute,
		KeyPrefix:      "rate_limit",
		ErrorMessage:   "Too many requests. Please try again later.",
		SkipPaths:      []string{"/health"},
		SkipUserAgents: []string{"kube-probe", "GoogleHC"},
	}, StrategyIP).Middleware()
}

// TriggerRateLimit bounds activation attempts per user. It is only mounted
// on activation and trigger routes; release and cancel are never limited.
func TriggerRateLimit(rdb *redis.Client) gin.HandlerFunc {
	return NewRateLimiter(RateLimitConfig{
		Redis:        rdb,
		Requests:     30,
		Window:       time.Minute,
		KeyPrefix:    "trigger_rate_limit",
		ErrorMessage: "Too many trigger attempts.",
	}, StrategyUser).Middleware()
}

// LocationRateLimit allows roughly two fixes per second per user.
func LocationRateLimit(rdb *redis.Client) gin.HandlerFunc {
	return NewRateLimiter(RateLimitConfig{
		Redis:        rdb,
		Requests:     120,
		Window:       time.Minute,
		KeyPrefix:    "location_rate_limit",
		ErrorMessage: "Location update rate limit exceeded.",
	}, StrategyUser).Middleware()
}

func WebSocketRateLimit(rdb *redis.Client) gin.HandlerFunc {
	return NewRateLimiter(RateLimitConfig{
		Redis:        rdb,
		Requests:     10,
		Window:       time.Minute,
		KeyPrefix:    "ws_rate_limit",
		ErrorMessage: "WebSocket connection rate limit exceeded.",
	}, StrategyIP).Middleware()
}

// RateLimitMiddleware picks the global limiter for the environment.
func RateLimitMiddleware(rdb *redis.Client, environment string) gin.HandlerFunc {
	if environment == "development" {
		return NewRateLimiter(RateLimitConfig{
			Redis:     rdb,
			Requests:  10000,
			Window:    time.Hour,
			KeyPrefix: "dev_rate_limit",
		}, StrategyIP).Middleware()
	}
	return DefaultRateLimit(rdb)
}
