package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"safemap/emergency"
	"safemap/models"
	"safemap/triggers"
	"safemap/workers"
)

type Config struct {
	Environment    string
	Port           string
	DatabaseURL    string
	DatabaseName   string
	RedisURL       string
	JWTSecret      string
	AccessTokenTTL time.Duration
	AllowedOrigins []string

	// Twilio
	TwilioAccountSID   string
	TwilioAuthToken    string
	TwilioPhoneNumber  string
	DefaultCountryCode string

	// Firebase
	FirebaseCredentialsPath string
	FirebaseProjectID       string

	// Emergency defaults, overridable per user through emergency settings
	Countdown       time.Duration
	BaseDelay       time.Duration
	ContactGap      time.Duration
	MaxAttempts     int
	RetryDelay      time.Duration
	TickInterval    time.Duration
	DispatchTimeout time.Duration
	EscalateAfter   time.Duration
	AuthorityName   string
	AuthorityPhone  string
	SenderName      string

	// Trigger sources
	VoicePhrases   []string
	Hotkey         string
	ShakeThreshold float64
	ShakeCount     int
	ShakeWindow    time.Duration

	// App settings
	MaxContacts          int
	DispatchWorkers      int
	DispatchQueueSize    int
	SessionRetentionDays int
	LocationTTL          time.Duration
	ActiveSessionTTL     time.Duration
}

func Load() *Config {
	return &Config{
		Environment:    getEnv("ENVIRONMENT", "development"),
		Port:           getEnv("PORT", "8080"),
		DatabaseURL:    getEnv("DATABASE_URL", "mongodb://localhost:27017/safemap"),
		DatabaseName:   getEnv("DATABASE_NAME", "safemap"),
		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379"),
		JWTSecret:      getEnv("JWT_SECRET", "safemap-dev-secret"),
		AccessTokenTTL: getEnvAsDuration("ACCESS_TOKEN_TTL", 24*time.Hour),
		AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		TwilioAccountSID:   getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:    getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioPhoneNumber:  getEnv("TWILIO_PHONE_NUMBER", ""),
		DefaultCountryCode: getEnv("SMS_DEFAULT_COUNTRY_CODE", "1"),

		FirebaseCredentialsPath: getEnv("FIREBASE_CREDENTIALS_PATH", ""),
		FirebaseProjectID:       getEnv("FIREBASE_PROJECT_ID", ""),

		Countdown:       getEnvAsSeconds("SOS_COUNTDOWN_SECONDS", emergency.DefaultCountdown),
		BaseDelay:       getEnvAsSeconds("SOS_BASE_DELAY_SECONDS", emergency.DefaultBaseDelay),
		ContactGap:      getEnvAsSeconds("SOS_CONTACT_GAP_SECONDS", emergency.DefaultContactGap),
		MaxAttempts:     getEnvAsInt("SOS_MAX_DISPATCH_ATTEMPTS", emergency.DefaultMaxAttempts),
		RetryDelay:      getEnvAsSeconds("SOS_RETRY_DELAY_SECONDS", emergency.DefaultRetryDelay),
		TickInterval:    getEnvAsSeconds("SOS_TICK_SECONDS", emergency.DefaultTickInterval),
		DispatchTimeout: getEnvAsSeconds("SOS_DISPATCH_TIMEOUT_SECONDS", emergency.DefaultDispatchTimeout),
		EscalateAfter:   getEnvAsSeconds("SOS_ESCALATE_AFTER_SECONDS", 0),
		AuthorityName:   getEnv("SOS_AUTHORITY_NAME", emergency.DefaultAuthorityName),
		AuthorityPhone:  getEnv("SOS_AUTHORITY_PHONE", emergency.DefaultAuthorityPhone),
		SenderName:      getEnv("SOS_SENDER_NAME", "SafeMap"),

		VoicePhrases:   getEnvAsList("SOS_VOICE_PHRASES", triggers.DefaultVoicePhrases),
		Hotkey:         getEnv("SOS_HOTKEY", triggers.DefaultHotkey),
		ShakeThreshold: getEnvAsFloat("SOS_SHAKE_THRESHOLD", triggers.DefaultShakeThreshold),
		ShakeCount:     getEnvAsInt("SOS_SHAKE_COUNT", triggers.DefaultShakeCount),
		ShakeWindow:    time.Duration(getEnvAsInt("SOS_SHAKE_WINDOW_MS", int(triggers.DefaultShakeWindow/time.Millisecond))) * time.Millisecond,

		MaxContacts:          getEnvAsInt("MAX_CONTACTS", 10),
		DispatchWorkers:      getEnvAsInt("DISPATCH_WORKERS", 4),
		DispatchQueueSize:    getEnvAsInt("DISPATCH_QUEUE_SIZE", 256),
		SessionRetentionDays: getEnvAsInt("SESSION_RETENTION_DAYS", 30),
		LocationTTL:          getEnvAsDuration("LOCATION_TTL", 15*time.Minute),
		ActiveSessionTTL:     getEnvAsDuration("ACTIVE_SESSION_TTL", 24*time.Hour),
	}
}

// Policy is the server-wide emergency policy that per-user settings are
// merged over at arming time.
func (c *Config) Policy() emergency.Policy {
	p := emergency.DefaultPolicy()
	p.Countdown = c.Countdown
	p.BaseDelay = c.BaseDelay
	p.ContactGap = c.ContactGap
	p.MaxAttempts = c.MaxAttempts
	p.RetryDelay = c.RetryDelay
	p.TickInterval = c.TickInterval
	p.DispatchTimeout = c.DispatchTimeout
	p.EscalateAfter = c.EscalateAfter
	p.SenderName = c.SenderName
	p.Authority = models.Recipient{
		Kind:  models.RecipientAuthority,
		Name:  c.AuthorityName,
		Phone: c.AuthorityPhone,
	}
	return p
}

func (c *Config) Triggers() triggers.Config {
	return triggers.Config{
		VoicePhrases:   c.VoicePhrases,
		Hotkey:         c.Hotkey,
		ShakeThreshold: c.ShakeThreshold,
		ShakeCount:     c.ShakeCount,
		ShakeWindow:    c.ShakeWindow,
	}
}

func (c *Config) DispatchPool() workers.NotificationWorkerConfig {
	return workers.NotificationWorkerConfig{
		WorkerCount: c.DispatchWorkers,
		QueueSize:   c.DispatchQueueSize,
	}
}

func (c *Config) Cleanup() workers.CleanupWorkerConfig {
	cfg := workers.DefaultCleanupWorkerConfig()
	cfg.SessionRetentionDays = c.SessionRetentionDays
	return cfg
}

func InitRedis(cfg *Config) *redis.Client {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logrus.WithError(err).Warn("Invalid REDIS_URL, falling back to localhost:6379")
		opt = &redis.Options{
			Addr: "localhost:6379",
			DB:   0,
		}
	}
	return redis.NewClient(opt)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		logrus.Warnf("Ignoring invalid integer for %s: %q", key, value)
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		logrus.Warnf("Ignoring invalid number for %s: %q", key, value)
	}
	return defaultValue
}

// getEnvAsSeconds reads a whole number of seconds.
func getEnvAsSeconds(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n >= 0 {
			return time.Duration(n) * time.Second
		}
		logrus.Warnf("Ignoring invalid seconds for %s: %q", key, value)
	}
	return defaultValue
}

// getEnvAsDuration reads a Go duration string such as "15m".
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		logrus.Warnf("Ignoring invalid duration for %s: %q", key, value)
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
