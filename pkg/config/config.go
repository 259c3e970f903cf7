package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/portalgate/portalgate/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration (local page surface)
	Server ServerConfig `yaml:"server"`

	// Identity provider configuration
	Identity IdentityConfig `yaml:"identity"`

	// Backend API configuration
	API APIConfig `yaml:"api"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// IdentityConfig holds identity provider client configuration
type IdentityConfig struct {
	IssuerURL    string   `yaml:"issuer_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes"`

	// RefreshInterval is how often the background refresher runs. It should
	// be shorter than MinTokenValidity so a token is refreshed before the
	// validity margin is consumed.
	RefreshInterval  time.Duration `yaml:"refresh_interval"`
	MinTokenValidity time.Duration `yaml:"min_token_validity"`
}

// APIConfig holds backend REST API configuration
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel `yaml:"-"`
	LogLevelName   string                 `yaml:"log_level"`
	MetricsEnabled bool                   `yaml:"metrics_enabled"`
}

// LoadConfig loads configuration from an optional YAML file path and
// environment variables. Pass an empty path to use environment only.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)
	cfg.Observability.LogLevel = parseLogLevel(cfg.Observability.LogLevelName)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            "4200",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Identity: IdentityConfig{
			Scopes:           []string{"openid", "profile", "email"},
			RefreshInterval:  30 * time.Second,
			MinTokenValidity: 5 * time.Minute,
		},
		API: APIConfig{
			Timeout: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevelName:   "info",
			MetricsEnabled: true,
		},
	}
}

// applyEnv overrides configuration from environment variables
func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("PORTALGATE_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnv("PORTALGATE_PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = getEnvDuration("PORTALGATE_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvDuration("PORTALGATE_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.IdleTimeout = getEnvDuration("PORTALGATE_IDLE_TIMEOUT", cfg.Server.IdleTimeout)
	cfg.Server.ShutdownTimeout = getEnvDuration("PORTALGATE_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)

	cfg.Identity.IssuerURL = getEnv("PORTALGATE_ISSUER_URL", cfg.Identity.IssuerURL)
	cfg.Identity.ClientID = getEnv("PORTALGATE_CLIENT_ID", cfg.Identity.ClientID)
	cfg.Identity.ClientSecret = getEnv("PORTALGATE_CLIENT_SECRET", cfg.Identity.ClientSecret)
	cfg.Identity.RedirectURL = getEnv("PORTALGATE_REDIRECT_URL", cfg.Identity.RedirectURL)
	if scopes := getEnv("PORTALGATE_SCOPES", ""); scopes != "" {
		cfg.Identity.Scopes = strings.Split(scopes, ",")
	}
	cfg.Identity.RefreshInterval = getEnvDuration("PORTALGATE_REFRESH_INTERVAL", cfg.Identity.RefreshInterval)
	cfg.Identity.MinTokenValidity = getEnvDuration("PORTALGATE_MIN_TOKEN_VALIDITY", cfg.Identity.MinTokenValidity)

	cfg.API.BaseURL = getEnv("PORTALGATE_API_BASE_URL", cfg.API.BaseURL)
	cfg.API.Timeout = getEnvDuration("PORTALGATE_API_TIMEOUT", cfg.API.Timeout)

	cfg.Observability.LogLevelName = getEnv("PORTALGATE_LOG_LEVEL", cfg.Observability.LogLevelName)
	if enabled := getEnv("PORTALGATE_METRICS_ENABLED", ""); enabled != "" {
		cfg.Observability.MetricsEnabled = strings.ToLower(enabled) == "true" || enabled == "1"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Identity.IssuerURL == "" {
		return fmt.Errorf("issuer_url is required")
	}
	if c.Identity.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if c.Identity.RedirectURL == "" {
		return fmt.Errorf("redirect_url is required")
	}
	if len(c.Identity.Scopes) == 0 {
		return fmt.Errorf("scopes are required")
	}
	hasOpenID := false
	for _, scope := range c.Identity.Scopes {
		if scope == "openid" {
			hasOpenID = true
			break
		}
	}
	if !hasOpenID {
		return fmt.Errorf("'openid' scope is required")
	}
	if c.Identity.RefreshInterval <= 0 {
		return fmt.Errorf("refresh_interval must be positive")
	}
	if c.Identity.MinTokenValidity <= 0 {
		return fmt.Errorf("min_token_validity must be positive")
	}
	if c.Identity.RefreshInterval >= c.Identity.MinTokenValidity {
		return fmt.Errorf("refresh_interval must be shorter than min_token_validity")
	}

	if c.API.BaseURL == "" {
		return fmt.Errorf("API base_url is required")
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
