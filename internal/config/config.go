package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the main configuration structure for strand.
type Config struct {
	Version    int              `yaml:"version"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Model      ModelConfig      `yaml:"model"`
	Run        RunConfig        `yaml:"run"`
	Compaction CompactionConfig `yaml:"compaction"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// DatabaseConfig selects the thread store backend.
type DatabaseConfig struct {
	// Driver is "memory", "sqlite", or "postgres".
	Driver string `yaml:"driver"`

	// Path is the database file for the sqlite driver.
	Path string `yaml:"path"`

	// URL is the connection string for the postgres driver.
	URL string `yaml:"url"`

	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// ModelConfig configures the model provider used for runs.
type ModelConfig struct {
	// Provider is "anthropic", "openai", or "ollama".
	Provider string `yaml:"provider"`

	// Model overrides the provider's default model.
	Model string `yaml:"model"`

	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`

	// MaxTokens caps completion length per request.
	MaxTokens int `yaml:"max_tokens"`

	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig controls retry behavior for transient model failures.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int `yaml:"max_retries"`

	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	BackoffFactor  float64       `yaml:"backoff_factor"`

	// Jitter is the random fraction (0..1) added to each delay.
	Jitter float64 `yaml:"jitter"`
}

// RunConfig bounds a single run's execution.
type RunConfig struct {
	// MaxIterations caps model-call iterations per run.
	MaxIterations int `yaml:"max_iterations"`

	ToolTimeout        time.Duration `yaml:"tool_timeout"`
	MaxConcurrentTools int           `yaml:"max_concurrent_tools"`

	// MaxConcurrentRuns bounds active runs across all threads.
	MaxConcurrentRuns int `yaml:"max_concurrent_runs"`

	// SystemPrompt is prepended to every model request.
	SystemPrompt string `yaml:"system_prompt"`

	// WorkspaceRoot confines the file tools. Empty disables them.
	WorkspaceRoot string `yaml:"workspace_root"`
}

// CompactionConfig controls context summarization for long threads.
type CompactionConfig struct {
	// TokenThreshold triggers compaction when the estimated token count
	// of messages since the last summary reaches it.
	TokenThreshold int `yaml:"token_threshold"`

	// MinMessages is the minimum number of messages since the last
	// summary before compaction will run.
	MinMessages int `yaml:"min_messages"`

	// SummaryMaxTokens caps the summary completion.
	SummaryMaxTokens int `yaml:"summary_max_tokens"`

	// Model overrides the run model for summary requests.
	Model string `yaml:"model"`
}

type AuthConfig struct {
	Enabled     bool          `yaml:"enabled"`
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TracingConfig struct {
	// Endpoint is the OTLP collector address; empty disables tracing.
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Environment  string  `yaml:"environment"`
	Insecure     bool    `yaml:"insecure"`
}

// Load reads a configuration file, resolves $include directives, expands
// environment variables, applies defaults, and validates the result.
// Unknown fields are rejected.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a configuration with defaults applied and no file input.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "memory"
	}
	if cfg.Database.Driver == "sqlite" && cfg.Database.Path == "" {
		cfg.Database.Path = "strand.db"
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 25
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Model.Provider == "" {
		cfg.Model.Provider = "anthropic"
	}
	if cfg.Model.MaxTokens == 0 {
		cfg.Model.MaxTokens = 4096
	}
	if cfg.Model.Retry.MaxRetries == 0 {
		cfg.Model.Retry.MaxRetries = 3
	}
	if cfg.Model.Retry.InitialBackoff == 0 {
		cfg.Model.Retry.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.Model.Retry.MaxBackoff == 0 {
		cfg.Model.Retry.MaxBackoff = 30 * time.Second
	}
	if cfg.Model.Retry.BackoffFactor == 0 {
		cfg.Model.Retry.BackoffFactor = 2.0
	}
	if cfg.Model.Retry.Jitter == 0 {
		cfg.Model.Retry.Jitter = 0.1
	}
	if cfg.Run.MaxIterations == 0 {
		cfg.Run.MaxIterations = 16
	}
	if cfg.Run.ToolTimeout == 0 {
		cfg.Run.ToolTimeout = 60 * time.Second
	}
	if cfg.Run.MaxConcurrentTools == 0 {
		cfg.Run.MaxConcurrentTools = 4
	}
	if cfg.Run.MaxConcurrentRuns == 0 {
		cfg.Run.MaxConcurrentRuns = 8
	}
	if cfg.Compaction.TokenThreshold == 0 {
		cfg.Compaction.TokenThreshold = 48000
	}
	if cfg.Compaction.MinMessages == 0 {
		cfg.Compaction.MinMessages = 12
	}
	if cfg.Compaction.SummaryMaxTokens == 0 {
		cfg.Compaction.SummaryMaxTokens = 1024
	}
	if cfg.Auth.TokenExpiry == 0 {
		cfg.Auth.TokenExpiry = 24 * time.Hour
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
}

// Validate checks cross-field constraints after defaults are applied.
func (c *Config) Validate() error {
	if err := ValidateVersion(c.Version); err != nil {
		return err
	}

	switch c.Database.Driver {
	case "memory", "sqlite":
	case "postgres":
		if strings.TrimSpace(c.Database.URL) == "" {
			return fmt.Errorf("database.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be one of memory, sqlite, postgres (got %q)", c.Database.Driver)
	}

	switch c.Model.Provider {
	case "anthropic", "openai", "ollama":
	default:
		return fmt.Errorf("model.provider must be one of anthropic, openai, ollama (got %q)", c.Model.Provider)
	}

	if c.Model.Retry.MaxRetries < 0 {
		return fmt.Errorf("model.retry.max_retries must not be negative")
	}
	if c.Model.Retry.BackoffFactor < 1 {
		return fmt.Errorf("model.retry.backoff_factor must be at least 1")
	}
	if c.Model.Retry.Jitter < 0 || c.Model.Retry.Jitter > 1 {
		return fmt.Errorf("model.retry.jitter must be between 0 and 1")
	}

	if c.Run.MaxIterations < 1 {
		return fmt.Errorf("run.max_iterations must be at least 1")
	}
	if c.Run.ToolTimeout <= 0 {
		return fmt.Errorf("run.tool_timeout must be positive")
	}
	if c.Run.MaxConcurrentTools < 1 {
		return fmt.Errorf("run.max_concurrent_tools must be at least 1")
	}
	if c.Run.MaxConcurrentRuns < 1 {
		return fmt.Errorf("run.max_concurrent_runs must be at least 1")
	}

	if c.Compaction.TokenThreshold < 1 {
		return fmt.Errorf("compaction.token_threshold must be positive")
	}
	if c.Compaction.MinMessages < 2 {
		return fmt.Errorf("compaction.min_messages must be at least 2")
	}

	if c.Auth.Enabled && strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
	}

	return nil
}
