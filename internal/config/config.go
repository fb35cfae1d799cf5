// ABOUTME: Configuration loading and parsing for cortexd.
// ABOUTME: YAML files with environment variable expansion, duration parsing and env secret overrides.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the complete cortexd configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Bus      BusConfig      `yaml:"bus"`
	Services ServicesConfig `yaml:"services"`
	Memory   MemoryConfig   `yaml:"memory"`
	Model    ModelConfig    `yaml:"model"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the HTTP ingress/egress address.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds message store configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// BusConfig holds event bus tuning.
type BusConfig struct {
	// QueueCapacity bounds each subscription's delivery queue.
	QueueCapacity int `yaml:"queue_capacity"`
}

// ServicesConfig holds MCP service timing configuration.
type ServicesConfig struct {
	HealthInterval    time.Duration `yaml:"-"`
	ProbeTimeout      time.Duration `yaml:"-"`
	CallTimeout       time.Duration `yaml:"-"`
	GenerationTimeout time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	HealthIntervalRaw    string `yaml:"health_interval"`
	ProbeTimeoutRaw      string `yaml:"probe_timeout"`
	CallTimeoutRaw       string `yaml:"call_timeout"`
	GenerationTimeoutRaw string `yaml:"generation_timeout"`
}

// MemoryConfig holds memory service tuning.
type MemoryConfig struct {
	// HistoryLimit bounds the history resource.
	HistoryLimit int `yaml:"history_limit"`
}

// ModelConfig selects and tunes the response generator. API keys come from
// the environment, never from the config file.
type ModelConfig struct {
	// Provider is one of "anthropic", "openai" or "echo".
	Provider    string  `yaml:"provider"`
	Name        string  `yaml:"name"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int64   `yaml:"max_tokens"`

	AnthropicAPIKey string `yaml:"-" env:"ANTHROPIC_API_KEY"`
	OpenAIAPIKey    string `yaml:"-" env:"OPENAI_API_KEY"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a runnable configuration: echo generator, in-process
// services, conservative timeouts.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{HTTPAddr: "127.0.0.1:8080"},
		Database: DatabaseConfig{Path: "./cortex.db"},
		Bus:      BusConfig{QueueCapacity: 256},
		Services: ServicesConfig{
			HealthInterval:    10 * time.Second,
			ProbeTimeout:      2 * time.Second,
			CallTimeout:       10 * time.Second,
			GenerationTimeout: 60 * time.Second,
		},
		Memory:  MemoryConfig{HistoryLimit: 50},
		Model:   ModelConfig{Provider: "echo", Temperature: 0.7, MaxTokens: 4096},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file from the given path and returns a parsed
// Config layered over the defaults. Environment variables in the format
// ${VAR_NAME} are expanded, duration strings are parsed, and API keys are
// read from the environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := env.Parse(&cfg.Model); err != nil {
		return nil, fmt.Errorf("reading environment secrets: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with environment variable
// values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// parseDurations converts raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Services.HealthIntervalRaw, &cfg.Services.HealthInterval, "health_interval"},
		{cfg.Services.ProbeTimeoutRaw, &cfg.Services.ProbeTimeout, "probe_timeout"},
		{cfg.Services.CallTimeoutRaw, &cfg.Services.CallTimeout, "call_timeout"},
		{cfg.Services.GenerationTimeoutRaw, &cfg.Services.GenerationTimeout, "generation_timeout"},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Bus.QueueCapacity < 0 {
		return fmt.Errorf("bus.queue_capacity must not be negative")
	}

	switch c.Model.Provider {
	case "echo":
	case "anthropic":
		if c.Model.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required for model.provider anthropic")
		}
	case "openai":
		if c.Model.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for model.provider openai")
		}
	default:
		return fmt.Errorf("model.provider must be one of echo, anthropic, openai (got %q)", c.Model.Provider)
	}

	return nil
}
