package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "auto", cfg.Mode)
	assert.False(t, cfg.DisableKeyring)
	assert.True(t, cfg.Watch)
	assert.Equal(t, "127.0.0.1:9880", cfg.HTTPAddr)
	assert.Equal(t, 30*time.Minute, cfg.Cache.MemoryTTL)
	assert.Equal(t, 60*time.Second, cfg.Cache.FingerprintInterval)
	assert.Equal(t, 30*time.Second, cfg.Refresh.Timeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Refresh.BackoffBase)
	assert.Equal(t, 4*time.Second, cfg.Refresh.BackoffCap)
	assert.Equal(t, 6*time.Hour, cfg.Prompt.Cooldown)
}

func TestNewFromEnvironment(t *testing.T) {
	t.Setenv("QUOTABAR_MODE", "pinned")
	t.Setenv("QUOTABAR_NO_KEYRING", "true")
	t.Setenv("QUOTABAR_WATCH", "false")
	t.Setenv("QUOTABAR_STATE_DIR", "/tmp/quotabar-test")
	t.Setenv("QUOTABAR_CACHE_MEMORY_TTL", "5m")
	t.Setenv("QUOTABAR_REFRESH_BACKOFF_CAP", "10s")
	t.Setenv("QUOTABAR_PROMPT_COOLDOWN", "1h")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "pinned", cfg.Mode)
	assert.True(t, cfg.DisableKeyring)
	assert.False(t, cfg.Watch)
	assert.Equal(t, "/tmp/quotabar-test", cfg.StateDir)
	assert.Equal(t, 5*time.Minute, cfg.Cache.MemoryTTL)
	assert.Equal(t, 10*time.Second, cfg.Refresh.BackoffCap)
	assert.Equal(t, time.Hour, cfg.Prompt.Cooldown)
}

func TestNewRejectsMalformedDuration(t *testing.T) {
	t.Setenv("QUOTABAR_CACHE_MEMORY_TTL", "not-a-duration")

	_, err := New()
	assert.Error(t, err)
}
