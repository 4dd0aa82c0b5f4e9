package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"safemap/emergency"
	"safemap/models"
	"safemap/triggers"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, emergency.DefaultCountdown, cfg.Countdown)
	assert.Equal(t, triggers.DefaultVoicePhrases, cfg.VoicePhrases)
	assert.Equal(t, 10, cfg.MaxContacts)

	p := cfg.Policy()
	assert.Equal(t, models.RecipientAuthority, p.Authority.Kind)
	assert.Equal(t, emergency.DefaultAuthorityPhone, p.Authority.Phone)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SOS_COUNTDOWN_SECONDS", "5")
	t.Setenv("SOS_BASE_DELAY_SECONDS", "0")
	t.Setenv("SOS_MAX_DISPATCH_ATTEMPTS", "5")
	t.Setenv("SOS_AUTHORITY_PHONE", "911")
	t.Setenv("SOS_VOICE_PHRASES", "help me, mayday ,,")
	t.Setenv("SOS_SHAKE_THRESHOLD", "30.5")
	t.Setenv("SOS_SHAKE_WINDOW_MS", "2000")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("LOCATION_TTL", "5m")
	t.Setenv("SESSION_RETENTION_DAYS", "90")

	cfg := Load()

	assert.Equal(t, 5*time.Second, cfg.Countdown)
	assert.Equal(t, time.Duration(0), cfg.BaseDelay)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, []string{"help me", "mayday"}, cfg.VoicePhrases)
	assert.Equal(t, 30.5, cfg.ShakeThreshold)
	assert.Equal(t, 2000*time.Millisecond, cfg.ShakeWindow)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 5*time.Minute, cfg.LocationTTL)

	assert.Equal(t, "911", cfg.Policy().Authority.Phone)
	assert.Equal(t, 2000*time.Millisecond, cfg.Triggers().ShakeWindow)
	assert.Equal(t, 90, cfg.Cleanup().SessionRetentionDays)
}

func TestLoadIgnoresInvalidValues(t *testing.T) {
	t.Setenv("SOS_COUNTDOWN_SECONDS", "-3")
	t.Setenv("DISPATCH_WORKERS", "many")
	t.Setenv("ACCESS_TOKEN_TTL", "1 day")
	t.Setenv("SOS_VOICE_PHRASES", " , ")

	cfg := Load()

	assert.Equal(t, emergency.DefaultCountdown, cfg.Countdown)
	assert.Equal(t, 4, cfg.DispatchWorkers)
	assert.Equal(t, 24*time.Hour, cfg.AccessTokenTTL)
	assert.Equal(t, triggers.DefaultVoicePhrases, cfg.VoicePhrases)
}

func TestInitRedisFallsBack(t *testing.T) {
	cfg := &Config{RedisURL: "::not a url"}
	rdb := InitRedis(cfg)
	defer rdb.Close()
	assert.Equal(t, "localhost:6379", rdb.Options().Addr)
}
