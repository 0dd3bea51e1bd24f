// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config contains quotabar's runtime parameters.
type Config struct {
	// Mode selects pipeline fallback behavior: "auto" or "pinned".
	Mode string `env:"MODE" envDefault:"auto"`

	// StateDir overrides where the encrypted cache and gate state live.
	StateDir string `env:"STATE_DIR"`

	// DisableKeyring skips the secure OS store entirely.
	DisableKeyring bool `env:"NO_KEYRING" envDefault:"false"`

	// Watch enables the credential-file watcher.
	Watch bool `env:"WATCH" envDefault:"true"`

	// HTTPAddr is the listen address for the local usage API.
	HTTPAddr string `env:"HTTP_ADDR" envDefault:"127.0.0.1:9880"`

	Cache   CacheConfig   `envPrefix:"CACHE_"`
	Refresh RefreshConfig `envPrefix:"REFRESH_"`
	Prompt  PromptConfig  `envPrefix:"PROMPT_"`
}

// CacheConfig tunes the credential store caches.
type CacheConfig struct {
	MemoryTTL           time.Duration `env:"MEMORY_TTL" envDefault:"30m"`
	FingerprintInterval time.Duration `env:"FINGERPRINT_INTERVAL" envDefault:"60s"`
}

// RefreshConfig tunes token refreshes.
type RefreshConfig struct {
	Timeout     time.Duration `env:"TIMEOUT" envDefault:"30s"`
	BackoffBase time.Duration `env:"BACKOFF_BASE" envDefault:"500ms"`
	BackoffCap  time.Duration `env:"BACKOFF_CAP" envDefault:"4s"`
}

// PromptConfig tunes the secure-store prompt gate.
type PromptConfig struct {
	Cooldown time.Duration `env:"COOLDOWN" envDefault:"6h"`
}

// New loads configuration from QUOTABAR_-prefixed environment variables.
func New() (*Config, error) {
	cfg := Config{}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "QUOTABAR_"}); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
