// Package config loads Helmsman's YAML configuration with environment
// variable expansion and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for Helmsman.
type Config struct {
	LLM        LLMConfig        `yaml:"llm"`
	Registry   RegistryConfig   `yaml:"registry"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Run        RunConfig        `yaml:"run"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// LLMConfig selects the model backend.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// RegistryConfig points at the tool registry.
type RegistryConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout"`
}

// CheckpointConfig selects run state persistence.
type CheckpointConfig struct {
	PostgresURL string `yaml:"postgres_url"`
}

// RunConfig bounds orchestrator behavior.
type RunConfig struct {
	MaxIterations    int `yaml:"max_iterations"`
	MaxRetries       int `yaml:"max_retries"`
	AutoContinueMax  int `yaml:"auto_continue_max"`
	StopPollInterval int `yaml:"stop_poll_interval"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads and parses the configuration file. Environment variables
// referenced as ${VAR} in the file are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given. The
// API key is taken from the provider's conventional environment
// variable at construction time.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("llm.provider: unsupported provider %q", c.LLM.Provider)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature: %v out of range [0, 2]", c.LLM.Temperature)
	}
	if c.Run.MaxIterations <= 0 {
		return fmt.Errorf("run.max_iterations: must be positive")
	}
	if c.Run.AutoContinueMax < 0 {
		return fmt.Errorf("run.auto_continue_max: must not be negative")
	}
	return nil
}

// ResolveAPIKey returns the configured key, falling back to the
// provider's conventional environment variable.
func (c *Config) ResolveAPIKey() string {
	if c.LLM.APIKey != "" {
		return c.LLM.APIKey
	}
	switch c.LLM.Provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	default:
		return os.Getenv("OPENAI_API_KEY")
	}
}

func applyDefaults(cfg *Config) {
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o"
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.2
	}
	if cfg.Registry.URL == "" {
		cfg.Registry.URL = "http://localhost:8811"
	}
	if cfg.Registry.Timeout == 0 {
		cfg.Registry.Timeout = 2 * time.Minute
	}
	if cfg.Run.MaxIterations == 0 {
		cfg.Run.MaxIterations = 25
	}
	if cfg.Run.MaxRetries == 0 {
		cfg.Run.MaxRetries = 3
	}
	if cfg.Run.AutoContinueMax == 0 {
		cfg.Run.AutoContinueMax = 2
	}
	if cfg.Run.StopPollInterval == 0 {
		cfg.Run.StopPollInterval = 25
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
}
