package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"regdesk.org/internal/auth"
	"regdesk.org/internal/obs"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// DevSecret signs tokens when no secret is configured outside production.
	// Tokens signed with it must never be trusted by a production deployment.
	DevSecret = "regdesk-development-secret"

	DefaultCookieName = "auth-token"
)

// ErrMissingSecret is fatal at startup: production requires an explicit secret.
var ErrMissingSecret = errors.New("config: auth secret is required in production")

// ErrDevSecretInProduction rejects the published development secret.
var ErrDevSecretInProduction = errors.New("config: development auth secret is not allowed in production")

// Config is the full process configuration.
type Config struct {
	Env       string          `yaml:"env"`
	HTTP      HTTPConfig      `yaml:"http"`
	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Log       obs.LogConfig   `yaml:"log"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	SeedFile  string          `yaml:"seed_file"`
}

// HTTPConfig configures the listener.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig configures tokens and the session cookie.
type AuthConfig struct {
	Secret      string        `yaml:"secret"`
	Issuer      string        `yaml:"issuer"`
	SessionTTL  time.Duration `yaml:"session_ttl"`
	RememberTTL time.Duration `yaml:"remember_ttl"`
	CookieName  string        `yaml:"cookie_name"`
	// CookieSecure defaults to true in production and false elsewhere.
	CookieSecure *bool `yaml:"cookie_secure"`
}

// DatabaseConfig configures the PostgreSQL pool. An empty DSN selects the
// in-memory store.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RateLimitConfig bounds login attempts per client IP.
type RateLimitConfig struct {
	Burst     int `yaml:"burst"`
	PerSecond int `yaml:"per_second"`
}

// Default returns the development defaults.
func Default() Config {
	return Config{
		Env: EnvDevelopment,
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			Issuer:      auth.DefaultIssuer,
			SessionTTL:  auth.DefaultSessionTTL,
			RememberTTL: auth.DefaultRememberTTL,
			CookieName:  DefaultCookieName,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Log:       obs.LogConfig{Level: "info", Format: "json"},
		RateLimit: RateLimitConfig{Burst: 5, PerSecond: 1},
	}
}

// Load reads path (optional) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path = strings.TrimSpace(path); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("REGDESK_ENV", &c.Env)
	str("REGDESK_AUTH_SECRET", &c.Auth.Secret)
	str("REGDESK_PG_DSN", &c.Database.DSN)
	str("REGDESK_HTTP_ADDR", &c.HTTP.Addr)
	str("REGDESK_LOG_LEVEL", &c.Log.Level)
	str("REGDESK_SEED_FILE", &c.SeedFile)
	if v, ok := lookup("REGDESK_COOKIE_SECURE"); ok && strings.TrimSpace(v) != "" {
		secure, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("REGDESK_COOKIE_SECURE: %w", err)
		}
		c.Auth.CookieSecure = &secure
	}
	return nil
}

// Validate checks invariants and fills derived defaults. Outside production a
// missing secret falls back to DevSecret.
func (c *Config) Validate() error {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	if c.Env == "" {
		c.Env = EnvDevelopment
	}
	if strings.TrimSpace(c.Auth.Secret) == "" {
		if c.IsProduction() {
			return ErrMissingSecret
		}
		c.Auth.Secret = DevSecret
	}
	if c.IsProduction() && c.UsingDevSecret() {
		return ErrDevSecretInProduction
	}
	if c.Auth.SessionTTL <= 0 || c.Auth.RememberTTL <= 0 {
		return errors.New("config: auth session_ttl and remember_ttl must be positive")
	}
	if strings.TrimSpace(c.Auth.CookieName) == "" {
		c.Auth.CookieName = DefaultCookieName
	}
	if c.Auth.CookieSecure == nil {
		secure := c.IsProduction()
		c.Auth.CookieSecure = &secure
	}
	if c.RateLimit.Burst <= 0 || c.RateLimit.PerSecond <= 0 {
		return errors.New("config: rate_limit burst and per_second must be positive")
	}
	return nil
}

// IsProduction reports whether the deployment is production.
func (c Config) IsProduction() bool { return c.Env == EnvProduction }

// UsingDevSecret reports whether tokens are signed with the documented default.
func (c Config) UsingDevSecret() bool { return c.Auth.Secret == DevSecret }

// SecureCookies returns the effective Secure flag for the session cookie.
func (c Config) SecureCookies() bool {
	return c.Auth.CookieSecure != nil && *c.Auth.CookieSecure
}
