package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://bsky.social", cfg.BlueskyService)
	assert.Equal(t, "gemini-2.0-flash", cfg.GeminiModel)
	assert.Equal(t, "last_sync.json", cfg.StateFile)
	assert.Equal(t, 15*time.Minute, cfg.PageCacheTTL)
	assert.False(t, cfg.UseBrowser)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("BLUESKY_HANDLE", "someone.bsky.social")
	t.Setenv("BLUESKY_PASSWORD", "app-password")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("PAGE_CACHE_TTL", "1h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.HasBlueskyCredentials())
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, time.Hour, cfg.PageCacheTTL)
}

func TestHasBlueskyCredentials(t *testing.T) {
	cfg := &Config{}
	assert.False(t, cfg.HasBlueskyCredentials())

	cfg.BlueskyHandle = "someone.bsky.social"
	assert.False(t, cfg.HasBlueskyCredentials())

	cfg.BlueskyPassword = "app-password"
	assert.True(t, cfg.HasBlueskyCredentials())
}

func TestValidate(t *testing.T) {
	cfg := &Config{StateFile: "last_sync.json"}
	assert.NoError(t, cfg.Validate())

	cfg.PageCacheTTL = -time.Minute
	assert.Error(t, cfg.Validate())

	cfg.PageCacheTTL = 0
	cfg.StateFile = ""
	assert.Error(t, cfg.Validate())
}
