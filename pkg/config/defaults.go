package config

import (
	"time"

	"github.com/devflow-ai/devflow/pkg/models"
)

// Default returns a configuration with built-in defaults applied to every
// section. The result is valid on its own; Load layers file and environment
// overrides on top of it.
func Default() *Config {
	return &Config{
		Environment: "development",
		DefaultMode: models.ModeQuality,
		Server:      DefaultServerConfig(),
		Database:    DefaultDatabaseConfig(),
		Redis:       DefaultRedisConfig(),
		Anthropic:   DefaultAnthropicConfig(),
		Ollama:      DefaultOllamaConfig(),
		Queue:       DefaultQueueConfig(),
		Retention:   DefaultRetentionConfig(),
		Events:      DefaultEventsConfig(),
		Logging:     DefaultLoggingConfig(),
		Modes:       DefaultModeConfigs(),
	}
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "127.0.0.1",
		Port:            8000,
		CORSOrigins:     []string{"*"},
		ShutdownTimeout: 10 * time.Second,
	}
}

func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             "",
		MaxOpenConns:    15,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		MigrateOnStart:  true,
	}
}

func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:     "",
		Password: "",
		DB:       0,
		CacheTTL: time.Hour,
	}
}

func DefaultAnthropicConfig() AnthropicConfig {
	return AnthropicConfig{
		APIKey:       "",
		DefaultModel: "claude-3-5-sonnet-20241022",
		Temperature:  0.7,
		MaxTokens:    4096,
	}
}

func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		BaseURL:      "http://localhost:11434",
		DefaultModel: "codellama:7b",
		MaxTokens:    2048,
		Timeout:      5 * time.Minute,
	}
}

func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Workers:       4,
		QueueSize:     100,
		ShutdownGrace: 5 * time.Second,
	}
}

func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		TaskRetentionDays: 90,
		CleanupInterval:   12 * time.Hour,
		Enabled:           true,
	}
}

func DefaultEventsConfig() EventsConfig {
	return EventsConfig{
		MaxListeners:     100,
		SubscriberBuffer: 256,
		SnapshotInterval: 20,
	}
}

func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  "info",
		Format: "json",
	}
}
