// Package config handles loading and validation of service configuration.
// Supports both development (file + env vars) and production (Secret Manager) modes.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"gopkg.in/yaml.v3"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config holds all service configuration.
// Environment determines whether secrets load from env vars (development) or Secret Manager (production).
type Config struct {
	// Server settings
	Port        string `yaml:"port"`
	Environment string `yaml:"environment"` // "development" or "production"
	LogLevel    string `yaml:"log_level"`   // "debug", "info", "warn", "error"
	// PublicURL is the externally reachable base URL, used for webhook and
	// OAuth callback addresses.
	PublicURL string `yaml:"public_url"`

	// GCP settings (required in production)
	GCPProject string `yaml:"gcp_project"`
	SecretName string `yaml:"secret_name"`

	Database DatabaseConfig `yaml:"database"`
	// RedisURL enables Redis order locks; empty uses in-process locks.
	RedisURL string `yaml:"redis_url"`
	// StateSecret signs OAuth state tokens.
	StateSecret string `yaml:"state_secret"`

	AdapterTimeout time.Duration `yaml:"adapter_timeout"`
	// PlacementConcurrency bounds orders placed in parallel by one batch.
	PlacementConcurrency int `yaml:"placement_concurrency"`
	// RateLimit applies per API key.
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	// AdapterRateLimit is requests/second per remote adapter URL; 0 disables it.
	AdapterRateLimit float64 `yaml:"adapter_rate_limit"`
	// ChromeTLS selects the Chrome TLS fingerprint for platform API clients.
	ChromeTLS bool `yaml:"chrome_tls"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	URL    string `yaml:"url"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// secrets is the Secret Manager payload.
type secrets struct {
	DatabaseURL string `json:"database_url"`
	RedisURL    string `json:"redis_url"`
	StateSecret string `json:"state_secret"`
}

// accessSecret reads a secret version. Replaced in tests.
var accessSecret = func(ctx context.Context, name string) ([]byte, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: name,
	})
	if err != nil {
		return nil, fmt.Errorf("accessing secret %s: %w", name, err)
	}
	return result.Payload.Data, nil
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Port:                 "8080",
		Environment:          "development",
		LogLevel:             "info",
		SecretName:           "openship",
		Database:             DatabaseConfig{Driver: DriverMemory},
		AdapterTimeout:       30 * time.Second,
		PlacementConcurrency: 1,
		RateLimit:            RateLimitConfig{RPS: 20, Burst: 40},
	}
}

// Load reads configuration from file, environment, and Secret Manager.
// Priority (later wins): defaults → CONFIG_FILE → ENV vars → Secret Manager (production).
// Validates all required fields and returns an error if any are missing.
func Load(ctx context.Context) (*Config, error) {
	cfg := Defaults()

	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if cfg.Environment == "production" {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		if err := cfg.loadFromSecretManager(ctx); err != nil {
			return nil, fmt.Errorf("loading secrets: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile reads a YAML file. JSON files parse too, since JSON is YAML.
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// loadFromEnv overrides fields from environment variables.
func (c *Config) loadFromEnv() error {
	setString(&c.Port, "PORT")
	setString(&c.Environment, "ENVIRONMENT")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.PublicURL, "PUBLIC_URL")
	setString(&c.GCPProject, "GCP_PROJECT")
	setString(&c.SecretName, "SECRET_NAME")
	setString(&c.Database.Driver, "DATABASE_DRIVER")
	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.RedisURL, "REDIS_URL")
	setString(&c.StateSecret, "STATE_SECRET")

	if v := os.Getenv("ADAPTER_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing ADAPTER_TIMEOUT: %w", err)
		}
		c.AdapterTimeout = d
	}
	if v := os.Getenv("PLACEMENT_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing PLACEMENT_CONCURRENCY: %w", err)
		}
		c.PlacementConcurrency = n
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parsing RATE_LIMIT_RPS: %w", err)
		}
		c.RateLimit.RPS = f
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing RATE_LIMIT_BURST: %w", err)
		}
		c.RateLimit.Burst = n
	}
	if v := os.Getenv("ADAPTER_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parsing ADAPTER_RATE_LIMIT: %w", err)
		}
		c.AdapterRateLimit = f
	}
	if v := os.Getenv("CHROME_TLS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parsing CHROME_TLS: %w", err)
		}
		c.ChromeTLS = b
	}
	return nil
}

// loadFromSecretManager fetches credentials from GCP Secret Manager.
// Secret name format: projects/{project}/secrets/{secret_name}/versions/latest
func (c *Config) loadFromSecretManager(ctx context.Context) error {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", c.GCPProject, c.SecretName)
	data, err := accessSecret(ctx, name)
	if err != nil {
		return err
	}

	var s secrets
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("parsing secret JSON: %w", err)
	}
	if s.DatabaseURL != "" {
		c.Database.URL = s.DatabaseURL
	}
	if s.RedisURL != "" {
		c.RedisURL = s.RedisURL
	}
	if s.StateSecret != "" {
		c.StateSecret = s.StateSecret
	}
	return nil
}

// validate checks that all required configuration fields are present.
func (c *Config) validate() error {
	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres, DriverSQLite:
		if c.Database.URL == "" {
			return fmt.Errorf("database url is required for driver %s", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unknown database driver %q (postgres, sqlite or memory)", c.Database.Driver)
	}

	if c.Environment == "production" {
		if c.StateSecret == "" {
			return fmt.Errorf("state_secret is required in production")
		}
		if c.Database.Driver == DriverMemory {
			return fmt.Errorf("memory database is not allowed in production")
		}
	}

	if c.PublicURL != "" {
		u, err := url.Parse(c.PublicURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid public_url %q", c.PublicURL)
		}
		c.PublicURL = strings.TrimSuffix(c.PublicURL, "/")
	}
	if c.RedisURL != "" && !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
		return fmt.Errorf("invalid redis_url: must use redis:// or rediss://")
	}

	if c.AdapterTimeout <= 0 {
		return fmt.Errorf("adapter_timeout must be positive")
	}
	if c.PlacementConcurrency < 1 {
		return fmt.Errorf("placement_concurrency must be at least 1")
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 || c.AdapterRateLimit < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	return nil
}

// BaseURL is PublicURL, or the local listen address when unset.
func (c *Config) BaseURL() string {
	if c.PublicURL != "" {
		return c.PublicURL
	}
	return "http://localhost:" + c.Port
}

// setString overwrites *dst with the environment variable when it is set.
func setString(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}
