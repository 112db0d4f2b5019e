// ABOUTME: Configuration loading and parsing for the relay
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete relay configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Auth       AuthConfig       `yaml:"auth"`
	Model      ModelConfig      `yaml:"model"`
	Escalation EscalationConfig `yaml:"escalation"`
	Delivery   DeliveryConfig   `yaml:"delivery"`
	Outbound   OutboundConfig   `yaml:"outbound"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds the HTTP listen address.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig selects the store backend. A postgres URL takes priority;
// otherwise the sqlite path is used.
type DatabaseConfig struct {
	PostgresURL string `yaml:"postgres_url"`
	SQLitePath  string `yaml:"sqlite_path"`
}

// RedisConfig holds the shared queue and event channel backend. An empty
// URL runs the relay single-process with in-memory equivalents.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// AuthConfig holds dashboard authentication configuration.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// ModelConfig holds the model provider configuration.
type ModelConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	AgentMode  bool   `yaml:"agent_mode"`  // enable the tool-using strategy
	DeepTriage bool   `yaml:"deep_triage"` // enable model-based escalation
}

// EscalationConfig overrides the per-language keyword lists. An empty map
// keeps the built-in defaults.
type EscalationConfig struct {
	Keywords map[string][]string `yaml:"keywords"`
}

// DeliveryConfig holds the delivery retry policy.
type DeliveryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"-"`

	BaseDelayRaw string `yaml:"base_delay"`
}

// OutboundConfig holds the outbound HTTP client and breaker tuning.
type OutboundConfig struct {
	Timeout          time.Duration `yaml:"-"`
	RecoveryTimeout  time.Duration `yaml:"-"`
	FailureThreshold int           `yaml:"failure_threshold"`

	TimeoutRaw         string `yaml:"timeout"`
	RecoveryTimeoutRaw string `yaml:"recovery_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Delivery.MaxAttempts <= 0 {
		c.Delivery.MaxAttempts = 5
	}
	if c.Delivery.BaseDelay <= 0 {
		c.Delivery.BaseDelay = 2 * time.Second
	}
	if c.Outbound.Timeout <= 0 {
		c.Outbound.Timeout = 15 * time.Second
	}
	if c.Outbound.RecoveryTimeout <= 0 {
		c.Outbound.RecoveryTimeout = 30 * time.Second
	}
	if c.Outbound.FailureThreshold <= 0 {
		c.Outbound.FailureThreshold = 5
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	if c.Database.PostgresURL == "" && c.Database.SQLitePath == "" {
		return fmt.Errorf("one of database.postgres_url or database.sqlite_path is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Model.APIKey == "" {
		return fmt.Errorf("model.api_key is required")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Delivery.BaseDelayRaw != "" {
		cfg.Delivery.BaseDelay, err = time.ParseDuration(cfg.Delivery.BaseDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing delivery.base_delay %q: %w", cfg.Delivery.BaseDelayRaw, err)
		}
	}

	if cfg.Outbound.TimeoutRaw != "" {
		cfg.Outbound.Timeout, err = time.ParseDuration(cfg.Outbound.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing outbound.timeout %q: %w", cfg.Outbound.TimeoutRaw, err)
		}
	}

	if cfg.Outbound.RecoveryTimeoutRaw != "" {
		cfg.Outbound.RecoveryTimeout, err = time.ParseDuration(cfg.Outbound.RecoveryTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing outbound.recovery_timeout %q: %w", cfg.Outbound.RecoveryTimeoutRaw, err)
		}
	}

	return nil
}
