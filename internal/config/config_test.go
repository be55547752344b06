package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoad_MissingSecret_FailsFast(t *testing.T) {
	t.Setenv("SESSION_SECRET", "")
	_, err := Load()
	assert.ErrorContains(t, err, "SESSION_SECRET is required")
}

func TestLoad_ShortSecret_FailsFast(t *testing.T) {
	t.Setenv("SESSION_SECRET", "short")
	_, err := Load()
	assert.ErrorContains(t, err, "at least 32 bytes")
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", testSecret)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.OTPTTL)
	assert.Equal(t, 30*time.Minute, cfg.TokenTTL)
	assert.Equal(t, Limit{Max: 5, Window: 15 * time.Minute}, cfg.RateLimits.OTPPerEmail)
	assert.Equal(t, Limit{Max: 10, Window: time.Hour}, cfg.RateLimits.SignPerIP)
	assert.Equal(t, Limit{Max: 10, Window: 15 * time.Minute}, cfg.RateLimits.OTPVerifyPerEmail)
	assert.Equal(t, "dynamo", cfg.StoreBackend)
	assert.Empty(t, cfg.TrustedProxies)
}

func TestLoad_TrustedProxies(t *testing.T) {
	t.Setenv("SESSION_SECRET", testSecret)
	t.Setenv("TRUSTED_PROXIES", " 10.0.0.0/8, ,127.0.0.1 ")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "127.0.0.1"}, cfg.TrustedProxies)
}

func TestLoad_InvalidTrustedProxy(t *testing.T) {
	t.Setenv("SESSION_SECRET", testSecret)
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,proxy.internal")
	_, err := Load()
	assert.ErrorContains(t, err, "TRUSTED_PROXIES")
}

func TestLoad_PostgresRequiresDatabaseURL(t *testing.T) {
	t.Setenv("SESSION_SECRET", testSecret)
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "")
	_, err := Load()
	assert.ErrorContains(t, err, "DATABASE_URL")
}

func TestLoad_UnknownBackend(t *testing.T) {
	t.Setenv("SESSION_SECRET", testSecret)
	t.Setenv("RATE_LIMIT_BACKEND", "redis")
	_, err := Load()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "RATE_LIMIT_BACKEND"))
}

func TestGetEnvLimit(t *testing.T) {
	fallback := Limit{Max: 1, Window: time.Minute}

	t.Setenv("X_LIMIT", "7/2h")
	assert.Equal(t, Limit{Max: 7, Window: 2 * time.Hour}, getEnvLimit("X_LIMIT", fallback))

	t.Setenv("X_LIMIT", "garbage")
	assert.Equal(t, fallback, getEnvLimit("X_LIMIT", fallback))

	t.Setenv("X_LIMIT", "0/1m")
	assert.Equal(t, fallback, getEnvLimit("X_LIMIT", fallback))
}
