package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
)

var configEnv = []string{
	"CONFIG_FILE", "PORT", "ENVIRONMENT", "LOG_LEVEL", "PUBLIC_URL",
	"GCP_PROJECT", "SECRET_NAME", "DATABASE_DRIVER", "DATABASE_URL",
	"REDIS_URL", "STATE_SECRET", "ADAPTER_TIMEOUT", "PLACEMENT_CONCURRENCY",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "ADAPTER_RATE_LIMIT", "CHROME_TLS",
}

// cleanEnv unsets every config variable and restores them after the test.
func cleanEnv(t *testing.T) {
	t.Helper()
	saved := make(map[string]string)
	for _, k := range configEnv {
		saved[k] = os.Getenv(k)
		os.Unsetenv(k)
	}
	t.Cleanup(func() {
		for k, v := range saved {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	})
}

func TestLoadDefaults(t *testing.T) {
	cleanEnv(t)

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %s, want 8080", cfg.Port)
	}
	if cfg.Database.Driver != DriverMemory {
		t.Errorf("Database.Driver = %s, want memory", cfg.Database.Driver)
	}
	if cfg.AdapterTimeout != 30*time.Second {
		t.Errorf("AdapterTimeout = %v, want 30s", cfg.AdapterTimeout)
	}
	if cfg.PlacementConcurrency != 1 {
		t.Errorf("PlacementConcurrency = %d, want 1", cfg.PlacementConcurrency)
	}
	if got := cfg.BaseURL(); got != "http://localhost:8080" {
		t.Errorf("BaseURL() = %s, want http://localhost:8080", got)
	}
}

func TestLoadFromEnv(t *testing.T) {
	cleanEnv(t)

	os.Setenv("PORT", "9090")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("PUBLIC_URL", "https://openship.example.com/")
	os.Setenv("DATABASE_DRIVER", "postgres")
	os.Setenv("DATABASE_URL", "postgres://localhost/openship")
	os.Setenv("REDIS_URL", "redis://localhost:6379/0")
	os.Setenv("ADAPTER_TIMEOUT", "5s")
	os.Setenv("PLACEMENT_CONCURRENCY", "4")
	os.Setenv("RATE_LIMIT_RPS", "2.5")
	os.Setenv("RATE_LIMIT_BURST", "5")
	os.Setenv("ADAPTER_RATE_LIMIT", "10")
	os.Setenv("CHROME_TLS", "true")

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Port = %s, want 9090", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug", cfg.LogLevel)
	}
	if cfg.BaseURL() != "https://openship.example.com" {
		t.Errorf("BaseURL() = %s, want trailing slash trimmed", cfg.BaseURL())
	}
	if cfg.Database.Driver != DriverPostgres || cfg.Database.URL != "postgres://localhost/openship" {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("RedisURL = %s", cfg.RedisURL)
	}
	if cfg.AdapterTimeout != 5*time.Second {
		t.Errorf("AdapterTimeout = %v, want 5s", cfg.AdapterTimeout)
	}
	if cfg.PlacementConcurrency != 4 {
		t.Errorf("PlacementConcurrency = %d, want 4", cfg.PlacementConcurrency)
	}
	if cfg.RateLimit.RPS != 2.5 || cfg.RateLimit.Burst != 5 {
		t.Errorf("RateLimit = %+v, want {2.5 5}", cfg.RateLimit)
	}
	if cfg.AdapterRateLimit != 10 {
		t.Errorf("AdapterRateLimit = %v, want 10", cfg.AdapterRateLimit)
	}
	if !cfg.ChromeTLS {
		t.Error("ChromeTLS = false, want true")
	}
}

func TestLoadFromEnvParseErrors(t *testing.T) {
	tests := []struct {
		key, val string
	}{
		{"ADAPTER_TIMEOUT", "soon"},
		{"PLACEMENT_CONCURRENCY", "many"},
		{"RATE_LIMIT_RPS", "fast"},
		{"RATE_LIMIT_BURST", "1.5"},
		{"ADAPTER_RATE_LIMIT", "x"},
		{"CHROME_TLS", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			cleanEnv(t)
			os.Setenv(tt.key, tt.val)

			_, err := Load(context.Background())
			if err == nil || !strings.Contains(err.Error(), tt.key) {
				t.Errorf("Load() error = %v, want mention of %s", err, tt.key)
			}
		})
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "unknown driver",
			env:     map[string]string{"DATABASE_DRIVER": "mongo"},
			wantErr: "unknown database driver",
		},
		{
			name:    "sqlite without url",
			env:     map[string]string{"DATABASE_DRIVER": "sqlite"},
			wantErr: "database url is required",
		},
		{
			name:    "bad redis scheme",
			env:     map[string]string{"REDIS_URL": "http://localhost:6379"},
			wantErr: "invalid redis_url",
		},
		{
			name:    "relative public url",
			env:     map[string]string{"PUBLIC_URL": "openship.example.com"},
			wantErr: "invalid public_url",
		},
		{
			name:    "zero concurrency",
			env:     map[string]string{"PLACEMENT_CONCURRENCY": "0"},
			wantErr: "placement_concurrency",
		},
		{
			name:    "negative timeout",
			env:     map[string]string{"ADAPTER_TIMEOUT": "-1s"},
			wantErr: "adapter_timeout",
		},
		{
			name:    "production without project",
			env:     map[string]string{"ENVIRONMENT": "production"},
			wantErr: "GCP_PROJECT required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleanEnv(t)
			for k, v := range tt.env {
				os.Setenv(k, v)
			}

			_, err := Load(context.Background())
			if err == nil {
				t.Fatal("Load() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	cleanEnv(t)

	content := `
port: "7070"
log_level: warn
database:
  driver: sqlite
  url: file:openship.db
adapter_timeout: 45s
placement_concurrency: 3
rate_limit:
  rps: 1
  burst: 2
`
	path := filepath.Join(t.TempDir(), "openship.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	os.Setenv("CONFIG_FILE", path)
	// env wins over file
	os.Setenv("PORT", "9191")

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != "9191" {
		t.Errorf("Port = %s, want 9191", cfg.Port)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %s, want warn", cfg.LogLevel)
	}
	if cfg.Database.Driver != DriverSQLite || cfg.Database.URL != "file:openship.db" {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.AdapterTimeout != 45*time.Second {
		t.Errorf("AdapterTimeout = %v, want 45s", cfg.AdapterTimeout)
	}
	if cfg.PlacementConcurrency != 3 {
		t.Errorf("PlacementConcurrency = %d, want 3", cfg.PlacementConcurrency)
	}
	if cfg.RateLimit.Burst != 2 {
		t.Errorf("RateLimit.Burst = %d, want 2", cfg.RateLimit.Burst)
	}
}

func TestLoadFromJSONFile(t *testing.T) {
	cleanEnv(t)

	path := filepath.Join(t.TempDir(), "openship.json")
	content := `{"port": "6060", "database": {"driver": "memory"}, "chrome_tls": true}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	os.Setenv("CONFIG_FILE", path)

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != "6060" || !cfg.ChromeTLS {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		cleanEnv(t)
		os.Setenv("CONFIG_FILE", "/nonexistent/openship.yaml")

		_, err := Load(context.Background())
		if err == nil || !strings.Contains(err.Error(), "reading config file") {
			t.Errorf("error = %v, want reading config file", err)
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		cleanEnv(t)
		path := filepath.Join(t.TempDir(), "bad.yaml")
		os.WriteFile(path, []byte("port: [unclosed"), 0o600)
		os.Setenv("CONFIG_FILE", path)

		_, err := Load(context.Background())
		if err == nil || !strings.Contains(err.Error(), "parsing config file") {
			t.Errorf("error = %v, want parsing config file", err)
		}
	})
}

func TestLoadFromSecretManager(t *testing.T) {
	cleanEnv(t)

	var gotName string
	orig := accessSecret
	accessSecret = func(ctx context.Context, name string) ([]byte, error) {
		gotName = name
		return []byte(`{"database_url":"postgres://prod/openship","redis_url":"rediss://cache:6380","state_secret":"s3cret"}`), nil
	}
	t.Cleanup(func() { accessSecret = orig })

	os.Setenv("ENVIRONMENT", "production")
	os.Setenv("GCP_PROJECT", "openship-prod")
	os.Setenv("DATABASE_DRIVER", "postgres")

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if gotName != "projects/openship-prod/secrets/openship/versions/latest" {
		t.Errorf("secret name = %s", gotName)
	}
	if cfg.Database.URL != "postgres://prod/openship" {
		t.Errorf("Database.URL = %s", cfg.Database.URL)
	}
	if cfg.RedisURL != "rediss://cache:6380" {
		t.Errorf("RedisURL = %s", cfg.RedisURL)
	}
	if cfg.StateSecret != "s3cret" {
		t.Errorf("StateSecret = %s", cfg.StateSecret)
	}
}

func TestLoadFromSecretManagerErrors(t *testing.T) {
	orig := accessSecret
	t.Cleanup(func() { accessSecret = orig })

	t.Run("access failure", func(t *testing.T) {
		cleanEnv(t)
		accessSecret = func(ctx context.Context, name string) ([]byte, error) {
			return nil, errors.New("permission denied")
		}
		os.Setenv("ENVIRONMENT", "production")
		os.Setenv("GCP_PROJECT", "p")

		_, err := Load(context.Background())
		if err == nil || !strings.Contains(err.Error(), "loading secrets") {
			t.Errorf("error = %v, want loading secrets", err)
		}
	})

	t.Run("memory store in production", func(t *testing.T) {
		cleanEnv(t)
		accessSecret = func(ctx context.Context, name string) ([]byte, error) {
			return []byte(`{"state_secret":"x"}`), nil
		}
		os.Setenv("ENVIRONMENT", "production")
		os.Setenv("GCP_PROJECT", "p")

		_, err := Load(context.Background())
		if err == nil || !strings.Contains(err.Error(), "memory database") {
			t.Errorf("error = %v, want memory database rejection", err)
		}
	})
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		env, level string
		wantErr    bool
	}{
		{"development", "debug", false},
		{"production", "info", false},
		{"development", "loud", true},
	}
	for _, tt := range tests {
		cfg := Defaults()
		cfg.Environment = tt.env
		cfg.LogLevel = tt.level

		logger, err := cfg.NewLogger()
		if (err != nil) != tt.wantErr {
			t.Errorf("NewLogger(%s, %s) error = %v, wantErr %v", tt.env, tt.level, err, tt.wantErr)
			continue
		}
		if logger == nil {
			continue
		}
		if lvl, _ := zapcore.ParseLevel(tt.level); !logger.Core().Enabled(lvl) {
			t.Errorf("logger does not enable %s", tt.level)
		}
	}
}
