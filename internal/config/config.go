package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Token     TokenConfig     `yaml:"token"`
	OAuth     OAuthConfig     `yaml:"oauth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Admin     AdminConfig     `yaml:"admin"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host            string        `yaml:"host" env:"HOST" env-default:"0.0.0.0"`
	Port            string        `yaml:"port" env:"PORT" env-default:"8080"`
	BaseURL         string        `yaml:"base_url" env:"BASE_URL" env-default:"http://localhost:8080"`
	TrustProxy      bool          `yaml:"trust_proxy" env:"TRUST_PROXY" env-default:"false"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT" env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT" env-default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" env-default:"15s"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, s.Port)
}

// DatabaseConfig holds database connection configuration. An empty URL
// selects the in-memory repositories.
type DatabaseConfig struct {
	URL            string `yaml:"url" env:"DATABASE_URL"`
	SkipMigrations bool   `yaml:"skip_migrations" env:"DB_SKIP_MIGRATIONS"`
}

// TokenConfig holds bearer token configuration
type TokenConfig struct {
	SigningKeyPath string        `yaml:"signing_key_path" env:"SIGNING_KEY_PATH" env-default:"keys/signing.key"`
	SigningKeyEnv  string        `yaml:"signing_key_env" env:"SIGNING_KEY_ENV" env-default:"GIM_SIGNING_KEY"`
	Audience       string        `yaml:"audience" env:"TOKEN_AUDIENCE" env-default:"gim-api"`
	BearerTTL      time.Duration `yaml:"bearer_ttl" env:"BEARER_TOKEN_TTL" env-default:"24h"`
}

// OAuthConfig holds OAuth-specific configuration
type OAuthConfig struct {
	AccessTokenTTL       time.Duration `yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL" env-default:"1h"`
	RefreshTokenTTL      time.Duration `yaml:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL" env-default:"720h"`
	AuthorizationCodeTTL time.Duration `yaml:"authorization_code_ttl" env:"AUTHORIZATION_CODE_TTL" env-default:"5m"`
	Scopes               []string      `yaml:"scopes" env:"OAUTH_SCOPES" env-default:"search,submit"`
	BcryptCost           int           `yaml:"bcrypt_cost" env:"BCRYPT_COST" env-default:"10"`
}

// RateLimitConfig holds the per-IP budgets of the three limiters
type RateLimitConfig struct {
	IdentityLimit      int           `yaml:"identity_limit" env:"RATE_IDENTITY_LIMIT" env-default:"5"`
	IdentityWindow     time.Duration `yaml:"identity_window" env:"RATE_IDENTITY_WINDOW" env-default:"1h"`
	SubmissionLimit    int           `yaml:"submission_limit" env:"RATE_SUBMISSION_LIMIT" env-default:"60"`
	SubmissionWindow   time.Duration `yaml:"submission_window" env:"RATE_SUBMISSION_WINDOW" env-default:"1h"`
	RegistrationLimit  int           `yaml:"registration_limit" env:"RATE_REGISTRATION_LIMIT" env-default:"20"`
	RegistrationWindow time.Duration `yaml:"registration_window" env:"RATE_REGISTRATION_WINDOW" env-default:"1h"`
}

// AdminConfig holds the credential for the identity administration routes.
// An empty token leaves them unmounted.
type AdminConfig struct {
	Token string `yaml:"token" env:"ADMIN_TOKEN"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level       string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Development bool   `yaml:"development" env:"LOG_DEVELOPMENT" env-default:"false"`
}

// Load reads configuration from the YAML file at path, or CONFIG_PATH when
// path is empty, and overlays environment variables. Without a file only the
// environment and defaults are used.
func Load(path string) (*Config, error) {
	var cfg Config

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %q: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the server cannot run with
func (c *Config) Validate() error {
	var errs []error

	positive := map[string]time.Duration{
		"token.bearer_ttl":               c.Token.BearerTTL,
		"oauth.access_token_ttl":         c.OAuth.AccessTokenTTL,
		"oauth.refresh_token_ttl":        c.OAuth.RefreshTokenTTL,
		"oauth.authorization_code_ttl":   c.OAuth.AuthorizationCodeTTL,
		"rate_limit.identity_window":     c.RateLimit.IdentityWindow,
		"rate_limit.submission_window":   c.RateLimit.SubmissionWindow,
		"rate_limit.registration_window": c.RateLimit.RegistrationWindow,
	}
	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	budgets := map[string]int{
		"rate_limit.identity_limit":     c.RateLimit.IdentityLimit,
		"rate_limit.submission_limit":   c.RateLimit.SubmissionLimit,
		"rate_limit.registration_limit": c.RateLimit.RegistrationLimit,
	}
	for name, n := range budgets {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	if c.Server.BaseURL == "" {
		errs = append(errs, errors.New("server.base_url is required"))
	}
	if c.Token.Audience == "" {
		errs = append(errs, errors.New("token.audience is required"))
	}
	if c.Admin.Token != "" && len(c.Admin.Token) < 32 {
		errs = append(errs, errors.New("admin.token must be at least 32 characters"))
	}
	if len(c.OAuth.Scopes) == 0 {
		errs = append(errs, errors.New("oauth.scopes must not be empty"))
	}

	return errors.Join(errs...)
}
