package token

import (
	"fmt"
	"time"

	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

const devSecret = "your_secret_key"

type Config struct {
	Secret     string        `env:"JWT_SECRET"`
	AccessTTL  time.Duration `env:"JWT_EXPIRES_IN" envDefault:"7d"`
	RefreshTTL time.Duration `env:"REFRESH_TOKEN_EXPIRES_IN" envDefault:"30d"`
}

// ConfigFromEnv reads token settings. An unset JWT_SECRET falls back to a
// development secret; cmd/api refuses to start with it in production.
// Durations accept Go syntax (`15m`) or whole days (`7d`).
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := utilities.ParseEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("token config: %w", err)
	}
	if cfg.Secret == "" {
		cfg.Secret = devSecret
	}
	if cfg.AccessTTL <= 0 {
		return cfg, fmt.Errorf("token config: JWT_EXPIRES_IN must be positive, got %s", cfg.AccessTTL)
	}
	if cfg.RefreshTTL <= 0 {
		return cfg, fmt.Errorf("token config: REFRESH_TOKEN_EXPIRES_IN must be positive, got %s", cfg.RefreshTTL)
	}
	return cfg, nil
}

// UsesDevSecret reports whether the development fallback secret is in use.
func (c Config) UsesDevSecret() bool {
	return c.Secret == devSecret
}
