package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("should apply defaults without a file", func(t *testing.T) {
		t.Setenv("CONFIG_PATH", "")

		cfg, err := Load("")
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
		assert.Equal(t, 5*time.Minute, cfg.OAuth.AuthorizationCodeTTL)
		assert.Equal(t, []string{"search", "submit"}, cfg.OAuth.Scopes)
		assert.Equal(t, 5, cfg.RateLimit.IdentityLimit)
		assert.Equal(t, time.Hour, cfg.RateLimit.IdentityWindow)
		assert.Empty(t, cfg.Database.URL)
	})

	t.Run("should read yaml and overlay env", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.yaml")
		yaml := `
server:
  port: "9090"
  base_url: "https://auth.example.com"
oauth:
  access_token_ttl: 30m
rate_limit:
  submission_limit: 10
`
		require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
		t.Setenv("RATE_SUBMISSION_LIMIT", "7")

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "9090", cfg.Server.Port)
		assert.Equal(t, "https://auth.example.com", cfg.Server.BaseURL)
		assert.Equal(t, 30*time.Minute, cfg.OAuth.AccessTokenTTL)
		assert.Equal(t, 7, cfg.RateLimit.SubmissionLimit)
	})

	t.Run("should use CONFIG_PATH when no path is given", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server:\n  port: \"7070\"\n"), 0o600))
		t.Setenv("CONFIG_PATH", path)

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "7070", cfg.Server.Port)
	})

	t.Run("should fail on missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})

	t.Run("should reject non-positive budgets", func(t *testing.T) {
		t.Setenv("CONFIG_PATH", "")
		t.Setenv("RATE_IDENTITY_LIMIT", "0")

		_, err := Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rate_limit.identity_limit")
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server: ServerConfig{BaseURL: "http://localhost:8080"},
			Token:  TokenConfig{Audience: "gim-api", BearerTTL: time.Hour},
			OAuth: OAuthConfig{
				AccessTokenTTL:       time.Hour,
				RefreshTokenTTL:      time.Hour,
				AuthorizationCodeTTL: time.Minute,
				Scopes:               []string{"search"},
			},
			RateLimit: RateLimitConfig{
				IdentityLimit: 5, IdentityWindow: time.Hour,
				SubmissionLimit: 60, SubmissionWindow: time.Hour,
				RegistrationLimit: 20, RegistrationWindow: time.Hour,
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "should accept a valid config", mutate: func(*Config) {}},
		{name: "should reject zero code TTL", mutate: func(c *Config) { c.OAuth.AuthorizationCodeTTL = 0 }, wantErr: "oauth.authorization_code_ttl"},
		{name: "should reject negative refresh TTL", mutate: func(c *Config) { c.OAuth.RefreshTokenTTL = -time.Second }, wantErr: "oauth.refresh_token_ttl"},
		{name: "should reject empty scopes", mutate: func(c *Config) { c.OAuth.Scopes = nil }, wantErr: "oauth.scopes"},
		{name: "should reject empty audience", mutate: func(c *Config) { c.Token.Audience = "" }, wantErr: "token.audience"},
		{name: "should reject zero registration window", mutate: func(c *Config) { c.RateLimit.RegistrationWindow = 0 }, wantErr: "rate_limit.registration_window"},
		{name: "should reject a short admin token", mutate: func(c *Config) { c.Admin.Token = "short" }, wantErr: "admin.token"},
		{name: "should accept a long admin token", mutate: func(c *Config) { c.Admin.Token = strings.Repeat("a", 32) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
