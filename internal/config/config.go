// Package config loads the aggregator configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds everything the CLI needs, populated from environment
// variables (a .env file is loaded by main before parsing).
type Config struct {
	// Bluesky credentials. Required unless the source is disabled.
	BlueskyHandle   string `env:"BLUESKY_HANDLE"`
	BlueskyPassword string `env:"BLUESKY_PASSWORD"`
	BlueskyService  string `env:"BLUESKY_SERVICE" envDefault:"https://bsky.social"`

	// GeminiAPIKey enables oracle classification and mid-band dedup
	// verification. Empty disables both.
	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	GeminiModel  string `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash"`

	// DatabaseURL selects the Postgres backend when the CLI is run with
	// --storage postgres.
	DatabaseURL string `env:"DATABASE_URL"`

	// RedisURL enables the Redis sync-state store and the listing page
	// cache. Empty keeps both on their local fallbacks.
	RedisURL string `env:"REDIS_URL"`

	// StateFile is where the file-based sync state lives.
	StateFile string `env:"SYNC_STATE_FILE" envDefault:"last_sync.json"`

	// UseBrowser turns on the headless-browser fallback for listing pages
	// that render client side.
	UseBrowser bool `env:"USE_BROWSER" envDefault:"false"`

	// PageCacheTTL bounds how long fetched listing pages are reused.
	PageCacheTTL time.Duration `env:"PAGE_CACHE_TTL" envDefault:"15m"`

	Verbose bool `env:"VERBOSE" envDefault:"false"`
}

// Load parses the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// HasBlueskyCredentials reports whether the Bluesky source can log in.
func (c *Config) HasBlueskyCredentials() bool {
	return c.BlueskyHandle != "" && c.BlueskyPassword != ""
}

// Validate applies guardrails to values loaded from the environment.
func (c *Config) Validate() error {
	if c.PageCacheTTL < 0 {
		return fmt.Errorf("config error: PAGE_CACHE_TTL must not be negative")
	}
	if c.StateFile == "" {
		return fmt.Errorf("config error: SYNC_STATE_FILE must not be empty")
	}
	return nil
}
