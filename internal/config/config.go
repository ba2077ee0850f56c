// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the top-level gateway configuration, loaded once at startup
// from the YAML file named by cmd/gproxy's -config flag.
type Config struct {
	Server          ServerConfig    `yaml:"server"`
	Database        DatabaseConfig  `yaml:"database"`
	Auth            AuthConfig      `yaml:"auth"`
	ForwardProxyURL string          `yaml:"forward_proxy_url"`
	Cache           CacheConfig     `yaml:"cache"`
	Telemetry       TelemetryConfig `yaml:"telemetry"`
	Providers       []ProviderEntry `yaml:"providers"`
	Keys            []KeyEntry      `yaml:"keys"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	MaxSize    int           `yaml:"max_size"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// ServerConfig holds the HTTP bind address, split into Host/Port since the
// admin hot-reconfig path (PUT /config) rebinds a watch channel on either
// changing independently.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the host:port pair the server binds to.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	AdminKey string `yaml:"admin_key"` // bootstrap admin key, hashed on seed
}

// ProviderEntry is a provider catalog entry in the config file, seeding one
// storage.ProviderRecord plus its nested credentials.
type ProviderEntry struct {
	Name        string            `yaml:"name"`
	Dialect     string            `yaml:"dialect"` // "claude", "gemini", "openai-chat", "openai-responses"
	BaseURL     string            `yaml:"base_url"`
	Config      map[string]any    `yaml:"config"` // e.g. {"force_http2": true}
	Credentials []CredentialEntry `yaml:"credentials"`
}

// CredentialEntry is one credential seed nested under a ProviderEntry,
// seeding one storage.CredentialRecord. Secret's shape is dialect- and
// hosting-specific (API key, GCP OAuth refresh token, AWS SigV4 pair, ...);
// it is passed through as raw JSON, same as the admin API's credentialDTO.
type CredentialEntry struct {
	Label   string         `yaml:"label"`
	Secret  map[string]any `yaml:"secret"`
	Meta    map[string]any `yaml:"meta"` // e.g. {"base_url": "..."}, overrides the provider's default
	Weight  int            `yaml:"weight"`
	Enabled *bool          `yaml:"enabled"`
}

// IsEnabled reports whether the credential is enabled (defaults to true when nil).
func (c CredentialEntry) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// SecretJSON marshals Secret to the raw form storage.CredentialRecord wants.
func (c CredentialEntry) SecretJSON() (json.RawMessage, error) {
	if c.Secret == nil {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(c.Secret)
}

// MetaJSON marshals Meta to the raw form storage.CredentialRecord wants. Nil
// stays nil rather than "{}" since an empty override object is meaningless
// and would otherwise shadow the provider's base_url with "".
func (c CredentialEntry) MetaJSON() (json.RawMessage, error) {
	if c.Meta == nil {
		return nil, nil
	}
	return json.Marshal(c.Meta)
}

// ConfigJSON marshals Config to the raw form storage.ProviderRecord wants.
func (p ProviderEntry) ConfigJSON() (json.RawMessage, error) {
	if p.Config == nil {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(p.Config)
}

// KeyEntry is an API key seed in the config file.
type KeyEntry struct {
	Key    string `yaml:"key"` // plaintext, hashed on bootstrap
	UserID string `yaml:"user_id"`
	OrgID  string `yaml:"org_id"`
	Role   string `yaml:"role"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "gproxy.db",
		},
		Cache: CacheConfig{
			Enabled:    true,
			MaxSize:    10_000,
			DefaultTTL: 5 * time.Minute,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
