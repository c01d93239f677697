// Package config loads and validates application configuration. Defaults are
// overridden first by an optional YAML file, then by DEVFLOW_* environment
// variables. Mode execution policies live here as well, seeded from the
// built-in baselines.
package config

import (
	"fmt"
	"time"

	"github.com/devflow-ai/devflow/pkg/models"
)

// Config is the umbrella configuration object used throughout the application.
type Config struct {
	Environment string          `yaml:"environment"`
	DefaultMode models.Mode     `yaml:"default_mode"`
	Server      ServerConfig    `yaml:"server"`
	Database    DatabaseConfig  `yaml:"database"`
	Redis       RedisConfig     `yaml:"redis"`
	Anthropic   AnthropicConfig `yaml:"anthropic"`
	Ollama      OllamaConfig    `yaml:"ollama"`
	Queue       QueueConfig     `yaml:"queue"`
	Retention   RetentionConfig `yaml:"retention"`
	Events      EventsConfig    `yaml:"events"`
	Logging     LoggingConfig   `yaml:"logging"`

	// Modes holds the per-mode execution policies, baselines merged with any
	// file overrides.
	Modes map[models.Mode]*models.ModeConfig `yaml:"-"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	ShutdownTimeout time.Duration `yaml:"-"`
}

// Addr returns the host:port listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig controls the PostgreSQL connection. An empty URL disables
// persistence and the event store runs in memory.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"-"`
	MigrateOnStart  bool          `yaml:"migrate_on_start"`
}

// Enabled reports whether a database is configured.
func (c DatabaseConfig) Enabled() bool { return c.URL != "" }

// RedisConfig controls the response cache backend. Losing Redis degrades to
// the in-memory cache, so Addr is optional.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	CacheTTL time.Duration `yaml:"-"`
}

// Enabled reports whether Redis is configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// AnthropicConfig controls the Anthropic provider.
type AnthropicConfig struct {
	APIKey       string  `yaml:"api_key"`
	DefaultModel string  `yaml:"default_model"`
	Temperature  float64 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
}

// Enabled reports whether an API key is configured.
func (c AnthropicConfig) Enabled() bool { return c.APIKey != "" }

// OllamaConfig controls the local Ollama provider.
type OllamaConfig struct {
	BaseURL      string        `yaml:"base_url"`
	DefaultModel string        `yaml:"default_model"`
	MaxTokens    int           `yaml:"max_tokens"`
	Timeout      time.Duration `yaml:"-"`
}

// QueueConfig controls the subtask worker pool.
type QueueConfig struct {
	// Workers is the number of concurrent subtask executors.
	Workers int `yaml:"workers"`
	// QueueSize bounds the pending-job buffer.
	QueueSize int `yaml:"queue_size"`
	// ShutdownGrace is how long Stop waits for in-flight jobs.
	ShutdownGrace time.Duration `yaml:"-"`
}

// RetentionConfig controls cleanup of finished tasks and their events.
type RetentionConfig struct {
	TaskRetentionDays int           `yaml:"task_retention_days"`
	CleanupInterval   time.Duration `yaml:"-"`
	Enabled           bool          `yaml:"enabled"`
}

// EventsConfig controls the event bus and fan-out.
type EventsConfig struct {
	// MaxListeners caps subscribers per event type on the bus.
	MaxListeners int `yaml:"max_listeners"`
	// SubscriberBuffer is the channel depth per fan-out subscriber; a full
	// buffer drops events for that subscriber only.
	SubscriberBuffer int `yaml:"subscriber_buffer"`
	// SnapshotInterval is how many events accumulate between task snapshots.
	SnapshotInterval int `yaml:"snapshot_interval"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if !c.DefaultMode.IsValid() {
		return models.Ef(models.ErrorValidation, "invalid default mode %q", c.DefaultMode)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return models.Ef(models.ErrorValidation, "invalid server port %d", c.Server.Port)
	}
	if c.Queue.Workers <= 0 {
		return models.Ef(models.ErrorValidation, "queue workers must be positive, got %d", c.Queue.Workers)
	}
	if c.Events.MaxListeners <= 0 {
		return models.E(models.ErrorValidation, "events max listeners must be positive")
	}
	if c.Events.SnapshotInterval <= 0 {
		return models.E(models.ErrorValidation, "events snapshot interval must be positive")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return models.Ef(models.ErrorValidation, "invalid log format %q", c.Logging.Format)
	}
	for mode, mc := range c.Modes {
		if !mode.IsValid() {
			return models.Ef(models.ErrorValidation, "invalid mode %q in mode configs", mode)
		}
		if err := mc.Validate(); err != nil {
			return models.WrapError(models.ErrorValidation, err, fmt.Sprintf("mode %s config", mode))
		}
	}
	return nil
}

// Redacted returns a copy safe for logging, with secrets masked.
func (c *Config) Redacted() *Config {
	cp := *c
	cp.Anthropic.APIKey = maskSecret(c.Anthropic.APIKey)
	cp.Redis.Password = maskSecret(c.Redis.Password)
	return &cp
}

// maskSecret keeps the first four characters for identification.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}
