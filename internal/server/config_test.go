package server

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, []string{"http://localhost:8080"}, cfg.AllowedOrigins)
	assert.Equal(t, "Login to Relay", cfg.LoginMessage)
	assert.Equal(t, 256, cfg.SendBufferSize)
	assert.Equal(t, 5*time.Second, cfg.VerifyTimeout)
	assert.False(t, cfg.RequireSignedRelogin)
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9090")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example, https://b.example")
	t.Setenv("MAX_MESSAGE_SIZE", "1024")
	t.Setenv("RATE_LIMIT_BURST", "7")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "3")
	t.Setenv("SEND_BUFFER_SIZE", "16")
	t.Setenv("PENDING_EVENT_LIMIT", "4")
	t.Setenv("VERIFY_TIMEOUT", "750ms")
	t.Setenv("LOGIN_MESSAGE", "Sign in")
	t.Setenv("LOGIN_MAX_SKEW", "2m")
	t.Setenv("REQUIRE_SIGNED_RELOGIN", "true")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("SHUTDOWN_TIMEOUT", "30")

	cfg := NewConfigFromEnv()

	assert.Equal(t, ":9090", cfg.Port)
	assert.Equal(t, []string{"http://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(1024), cfg.MaxMessageSize)
	assert.Equal(t, RateLimitConfig{Burst: 7, RefillInterval: 3 * time.Second}, cfg.RateLimit)
	assert.Equal(t, 16, cfg.SendBufferSize)
	assert.Equal(t, 4, cfg.PendingEventLimit)
	assert.Equal(t, 750*time.Millisecond, cfg.VerifyTimeout)
	assert.Equal(t, "Sign in", cfg.LoginMessage)
	assert.Equal(t, 2*time.Minute, cfg.LoginMaxSkew)
	assert.True(t, cfg.RequireSignedRelogin)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestNewConfigFromEnvIgnoresInvalidValues(t *testing.T) {
	t.Setenv("MAX_MESSAGE_SIZE", "-5")
	t.Setenv("RATE_LIMIT_BURST", "many")
	t.Setenv("VERIFY_TIMEOUT", "soon")
	t.Setenv("REQUIRE_SIGNED_RELOGIN", "maybe")

	cfg := NewConfigFromEnv()
	def := NewConfig()

	assert.Equal(t, def.MaxMessageSize, cfg.MaxMessageSize)
	assert.Equal(t, def.RateLimit.Burst, cfg.RateLimit.Burst)
	assert.Equal(t, def.VerifyTimeout, cfg.VerifyTimeout)
	assert.False(t, cfg.RequireSignedRelogin)
}

func TestSanitizeFillsZeroValues(t *testing.T) {
	cfg := Config{LoginMaxSkew: -time.Second}.sanitize()
	def := defaultConfig()

	assert.Equal(t, def.Port, cfg.Port)
	assert.Equal(t, def.MaxMessageSize, cfg.MaxMessageSize)
	assert.Equal(t, def.RateLimit, cfg.RateLimit)
	assert.Equal(t, def.SendBufferSize, cfg.SendBufferSize)
	assert.Equal(t, def.PendingEventLimit, cfg.PendingEventLimit)
	assert.Equal(t, def.LoginMessage, cfg.LoginMessage)
	assert.Zero(t, cfg.LoginMaxSkew)
	assert.Empty(t, cfg.AllowedOrigins)
}

func TestOriginPolicy(t *testing.T) {
	policy := newOriginPolicy([]string{"HTTP://Example.com", "not a url", " ", "https://app.example:8443"})

	tests := []struct {
		origin string
		want   bool
	}{
		{"http://example.com", true},
		{"http://EXAMPLE.com", true},
		{"https://app.example:8443", true},
		{"https://example.com", false},
		{"http://evil.example", false},
		{"", false},
		{"example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, policy.allows(req))
		})
	}
}

func TestOriginPolicyWildcard(t *testing.T) {
	policy := newOriginPolicy([]string{"*"})

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "https://anything.example")
	assert.True(t, policy.checkOrigin(req))

	req.Header.Del("Origin")
	assert.False(t, policy.checkOrigin(req), "a missing Origin header is never allowed")
}

func TestRateLimiterBurstThenRefill(t *testing.T) {
	rl := newRateLimiter(3, 30*time.Millisecond)

	for i := 0; i < 3; i++ {
		require.True(t, rl.allow(), "burst token %d", i)
	}
	assert.False(t, rl.allow())

	assert.Eventually(t, rl.allow, time.Second, 5*time.Millisecond)
}

func TestConfigureLogging(t *testing.T) {
	prevLevel, prevFormatter := logrus.GetLevel(), logrus.StandardLogger().Formatter
	t.Cleanup(func() {
		logrus.SetLevel(prevLevel)
		logrus.SetFormatter(prevFormatter)
	})

	require.NoError(t, ConfigureLogging("debug", "json"))
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logrus.StandardLogger().Formatter)

	require.NoError(t, ConfigureLogging("warn", "text"))
	assert.IsType(t, &logrus.TextFormatter{}, logrus.StandardLogger().Formatter)

	assert.Error(t, ConfigureLogging("loud", "text"))
	assert.Error(t, ConfigureLogging("info", "xml"))
}
