// Package config loads process settings from the environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"golang.org/x/crypto/bcrypt"

	"taskhub.org/internal/auth"
)

type Config struct {
	DSN string `env:"TASKHUB_DB_DSN, default=taskhub.db"`

	Log     LogConfig
	Auth    AuthConfig
	Session SessionConfig
}

type LogConfig struct {
	Level  string `env:"TASKHUB_LOG_LEVEL, default=info"`
	Pretty bool   `env:"TASKHUB_LOG_PRETTY, default=false"`
}

type AuthConfig struct {
	HashAlgorithm string  `env:"TASKHUB_HASH_ALGORITHM, default=bcrypt"`
	BcryptCost    int     `env:"TASKHUB_BCRYPT_COST, default=12"`
	// Login attempts per second per email; zero disables throttling.
	LoginRate     float64 `env:"TASKHUB_LOGIN_RATE, default=0.2"`
	LoginBurst    int     `env:"TASKHUB_LOGIN_BURST, default=5"`
	RoleCacheSize int     `env:"TASKHUB_ROLE_CACHE_SIZE, default=64"`
}

type SessionConfig struct {
	Timeout         time.Duration `env:"TASKHUB_SESSION_TIMEOUT, default=8h"`
	Sweep           string        `env:"TASKHUB_SESSION_SWEEP, default=@every 1m"`
	RejectOverwrite bool          `env:"TASKHUB_SESSION_REJECT_OVERWRITE, default=false"`
}

// Load reads the process environment.
func Load(ctx context.Context) (Config, error) {
	return LoadFrom(ctx, envconfig.OsLookuper())
}

// LoadFrom reads settings through l and validates them.
func LoadFrom(ctx context.Context, l envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: l,
	}); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.Auth.HashAlgorithm = strings.ToLower(strings.TrimSpace(cfg.Auth.HashAlgorithm))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DSN) == "" {
		errs = append(errs, errors.New("TASKHUB_DB_DSN is required"))
	}
	switch c.Auth.HashAlgorithm {
	case auth.HashBcrypt:
		if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
			errs = append(errs, fmt.Errorf("TASKHUB_BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
		}
	case auth.HashArgon2id:
	default:
		errs = append(errs, fmt.Errorf("unsupported TASKHUB_HASH_ALGORITHM %q", c.Auth.HashAlgorithm))
	}
	if c.Auth.LoginRate < 0 {
		errs = append(errs, errors.New("TASKHUB_LOGIN_RATE must not be negative"))
	}
	if c.Auth.LoginRate > 0 && c.Auth.LoginBurst < 1 {
		errs = append(errs, errors.New("TASKHUB_LOGIN_BURST must be at least 1"))
	}
	if c.Auth.RoleCacheSize < 1 {
		errs = append(errs, errors.New("TASKHUB_ROLE_CACHE_SIZE must be positive"))
	}
	if c.Session.Timeout <= 0 {
		errs = append(errs, errors.New("TASKHUB_SESSION_TIMEOUT must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
