package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portalgate/portalgate/pkg/observability"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PORTALGATE_ISSUER_URL", "https://id.example.com/realms/portal")
	t.Setenv("PORTALGATE_CLIENT_ID", "portal-frontend")
	t.Setenv("PORTALGATE_REDIRECT_URL", "http://127.0.0.1:4200/callback")
	t.Setenv("PORTALGATE_API_BASE_URL", "http://127.0.0.1:8080/api")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "4200", cfg.Server.Port)
	assert.Equal(t, []string{"openid", "profile", "email"}, cfg.Identity.Scopes)
	assert.Equal(t, 30*time.Second, cfg.Identity.RefreshInterval)
	assert.Equal(t, 5*time.Minute, cfg.Identity.MinTokenValidity)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
	assert.True(t, cfg.Observability.MetricsEnabled)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORTALGATE_PORT", "9000")
	t.Setenv("PORTALGATE_SCOPES", "openid,roles")
	t.Setenv("PORTALGATE_REFRESH_INTERVAL", "10s")
	t.Setenv("PORTALGATE_MIN_TOKEN_VALIDITY", "1m")
	t.Setenv("PORTALGATE_LOG_LEVEL", "debug")
	t.Setenv("PORTALGATE_METRICS_ENABLED", "false")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, []string{"openid", "roles"}, cfg.Identity.Scopes)
	assert.Equal(t, 10*time.Second, cfg.Identity.RefreshInterval)
	assert.Equal(t, time.Minute, cfg.Identity.MinTokenValidity)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
	assert.False(t, cfg.Observability.MetricsEnabled)
}

func TestLoadConfigFromFile(t *testing.T) {
	setRequiredEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  port: "8443"
identity:
  refresh_interval: 20s
  min_token_validity: 2m
api:
  timeout: 5s
observability:
  log_level: warn
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	// Env vars were not set for these, the file values stand.
	assert.Equal(t, "8443", cfg.Server.Port)
	assert.Equal(t, 20*time.Second, cfg.Identity.RefreshInterval)
	assert.Equal(t, 2*time.Minute, cfg.Identity.MinTokenValidity)
	assert.Equal(t, 5*time.Second, cfg.API.Timeout)
	assert.Equal(t, observability.WarnLevel, cfg.Observability.LogLevel)
}

func TestLoadConfigMissingFile(t *testing.T) {
	setRequiredEnv(t)
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:    "missing issuer",
			modify:  func(c *Config) { c.Identity.IssuerURL = "" },
			wantErr: "issuer_url is required",
		},
		{
			name:    "missing client id",
			modify:  func(c *Config) { c.Identity.ClientID = "" },
			wantErr: "client_id is required",
		},
		{
			name:    "missing redirect url",
			modify:  func(c *Config) { c.Identity.RedirectURL = "" },
			wantErr: "redirect_url is required",
		},
		{
			name:    "missing openid scope",
			modify:  func(c *Config) { c.Identity.Scopes = []string{"profile"} },
			wantErr: "'openid' scope is required",
		},
		{
			name: "refresh interval too long",
			modify: func(c *Config) {
				c.Identity.RefreshInterval = 10 * time.Minute
			},
			wantErr: "refresh_interval must be shorter than min_token_validity",
		},
		{
			name:    "missing API base url",
			modify:  func(c *Config) { c.API.BaseURL = "" },
			wantErr: "API base_url is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Identity.IssuerURL = "https://id.example.com/realms/portal"
			cfg.Identity.ClientID = "portal-frontend"
			cfg.Identity.RedirectURL = "http://127.0.0.1:4200/callback"
			cfg.API.BaseURL = "http://127.0.0.1:8080/api"
			tt.modify(cfg)

			assert.EqualError(t, cfg.Validate(), tt.wantErr)
		})
	}
}
