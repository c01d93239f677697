package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/devflow-ai/devflow/pkg/models"
)

// fileConfig mirrors Config for YAML parsing. Durations travel as strings so
// "30s" style values work, and booleans are pointers so an explicit false in
// the file overrides a true default.
type fileConfig struct {
	Environment string                  `yaml:"environment"`
	DefaultMode string                  `yaml:"default_mode"`
	Server      *serverFile             `yaml:"server"`
	Database    *databaseFile           `yaml:"database"`
	Redis       *redisFile              `yaml:"redis"`
	Anthropic   *anthropicFile          `yaml:"anthropic"`
	Ollama      *ollamaFile             `yaml:"ollama"`
	Queue       *queueFile              `yaml:"queue"`
	Retention   *retentionFile          `yaml:"retention"`
	Events      *EventsConfig           `yaml:"events"`
	Logging     *LoggingConfig          `yaml:"logging"`
	Modes       map[string]ModeOverride `yaml:"modes"`
}

type serverFile struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	CORSOrigins     []string `yaml:"cors_origins"`
	ShutdownTimeout string   `yaml:"shutdown_timeout"`
}

type databaseFile struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime"`
	MigrateOnStart  *bool  `yaml:"migrate_on_start"`
}

type redisFile struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	CacheTTL string `yaml:"cache_ttl"`
}

type anthropicFile struct {
	APIKey       string   `yaml:"api_key"`
	DefaultModel string   `yaml:"default_model"`
	Temperature  *float64 `yaml:"temperature"`
	MaxTokens    int      `yaml:"max_tokens"`
}

type ollamaFile struct {
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
	MaxTokens    int    `yaml:"max_tokens"`
	Timeout      string `yaml:"timeout"`
}

type queueFile struct {
	Workers       int    `yaml:"workers"`
	QueueSize     int    `yaml:"queue_size"`
	ShutdownGrace string `yaml:"shutdown_grace"`
}

type retentionFile struct {
	TaskRetentionDays int    `yaml:"task_retention_days"`
	CleanupInterval   string `yaml:"cleanup_interval"`
	Enabled           *bool  `yaml:"enabled"`
}

// Load builds the runtime configuration in three layers: built-in defaults,
// an optional YAML file, then environment variables. The result is validated
// before it is returned. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return models.Ef(models.ErrorNotFound, "config file %s not found", path)
		}
		return models.WrapError(models.ErrorInternal, err, "read config file")
	}

	data = ExpandEnv(data)

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return models.WrapError(models.ErrorValidation, err, "parse config file")
	}

	if fc.Environment != "" {
		cfg.Environment = fc.Environment
	}
	if fc.DefaultMode != "" {
		cfg.DefaultMode = models.Mode(strings.ToUpper(fc.DefaultMode))
	}

	if s := fc.Server; s != nil {
		if s.Host != "" {
			cfg.Server.Host = s.Host
		}
		if s.Port > 0 {
			cfg.Server.Port = s.Port
		}
		if s.CORSOrigins != nil {
			cfg.Server.CORSOrigins = s.CORSOrigins
		}
		applyDuration(&cfg.Server.ShutdownTimeout, s.ShutdownTimeout, "server.shutdown_timeout")
	}

	if d := fc.Database; d != nil {
		if d.URL != "" {
			cfg.Database.URL = d.URL
		}
		if d.MaxOpenConns > 0 {
			cfg.Database.MaxOpenConns = d.MaxOpenConns
		}
		if d.MaxIdleConns > 0 {
			cfg.Database.MaxIdleConns = d.MaxIdleConns
		}
		applyDuration(&cfg.Database.ConnMaxLifetime, d.ConnMaxLifetime, "database.conn_max_lifetime")
		if d.MigrateOnStart != nil {
			cfg.Database.MigrateOnStart = *d.MigrateOnStart
		}
	}

	if r := fc.Redis; r != nil {
		if r.Addr != "" {
			cfg.Redis.Addr = r.Addr
		}
		if r.Password != "" {
			cfg.Redis.Password = r.Password
		}
		if r.DB > 0 {
			cfg.Redis.DB = r.DB
		}
		applyDuration(&cfg.Redis.CacheTTL, r.CacheTTL, "redis.cache_ttl")
	}

	if a := fc.Anthropic; a != nil {
		if a.APIKey != "" {
			cfg.Anthropic.APIKey = a.APIKey
		}
		if a.DefaultModel != "" {
			cfg.Anthropic.DefaultModel = a.DefaultModel
		}
		if a.Temperature != nil {
			cfg.Anthropic.Temperature = *a.Temperature
		}
		if a.MaxTokens > 0 {
			cfg.Anthropic.MaxTokens = a.MaxTokens
		}
	}

	if o := fc.Ollama; o != nil {
		if o.BaseURL != "" {
			cfg.Ollama.BaseURL = o.BaseURL
		}
		if o.DefaultModel != "" {
			cfg.Ollama.DefaultModel = o.DefaultModel
		}
		if o.MaxTokens > 0 {
			cfg.Ollama.MaxTokens = o.MaxTokens
		}
		applyDuration(&cfg.Ollama.Timeout, o.Timeout, "ollama.timeout")
	}

	if q := fc.Queue; q != nil {
		patch := QueueConfig{Workers: q.Workers, QueueSize: q.QueueSize}
		applyDuration(&patch.ShutdownGrace, q.ShutdownGrace, "queue.shutdown_grace")
		if err := mergo.Merge(&cfg.Queue, patch, mergo.WithOverride); err != nil {
			return models.WrapError(models.ErrorInternal, err, "merge queue config")
		}
	}

	if r := fc.Retention; r != nil {
		if r.TaskRetentionDays > 0 {
			cfg.Retention.TaskRetentionDays = r.TaskRetentionDays
		}
		applyDuration(&cfg.Retention.CleanupInterval, r.CleanupInterval, "retention.cleanup_interval")
		if r.Enabled != nil {
			cfg.Retention.Enabled = *r.Enabled
		}
	}

	if e := fc.Events; e != nil {
		if err := mergo.Merge(&cfg.Events, *e, mergo.WithOverride); err != nil {
			return models.WrapError(models.ErrorInternal, err, "merge events config")
		}
	}

	if l := fc.Logging; l != nil {
		if l.Level != "" {
			cfg.Logging.Level = l.Level
		}
		if l.Format != "" {
			cfg.Logging.Format = l.Format
		}
	}

	for name, override := range fc.Modes {
		mode := models.Mode(strings.ToUpper(name))
		base, ok := cfg.Modes[mode]
		if !ok {
			return models.Ef(models.ErrorValidation, "unknown mode %q in config file", name)
		}
		merged, err := override.ApplyTo(base)
		if err != nil {
			return models.Ef(models.ErrorValidation, "mode %s: %v", mode, err)
		}
		cfg.Modes[mode] = merged
	}

	return nil
}

// applyEnv overlays well-known environment variables. File values lose to
// the environment so deployments can override a shared config file.
func applyEnv(cfg *Config) {
	envString(&cfg.Environment, "DEVFLOW_ENV")
	if v := os.Getenv("DEVFLOW_DEFAULT_MODE"); v != "" {
		cfg.DefaultMode = models.Mode(strings.ToUpper(v))
	}

	envString(&cfg.Server.Host, "DEVFLOW_HOST")
	envInt(&cfg.Server.Port, "DEVFLOW_PORT")
	if v := os.Getenv("DEVFLOW_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitAndTrim(v)
	}

	envString(&cfg.Database.URL, "DATABASE_URL")
	envString(&cfg.Redis.Addr, "REDIS_ADDR")
	envString(&cfg.Redis.Password, "REDIS_PASSWORD")

	envString(&cfg.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	envString(&cfg.Anthropic.DefaultModel, "ANTHROPIC_DEFAULT_MODEL")
	envString(&cfg.Ollama.BaseURL, "OLLAMA_BASE_URL")
	envString(&cfg.Ollama.DefaultModel, "OLLAMA_DEFAULT_MODEL")

	envInt(&cfg.Queue.Workers, "DEVFLOW_WORKERS")
	envString(&cfg.Logging.Level, "DEVFLOW_LOG_LEVEL")
	envString(&cfg.Logging.Format, "DEVFLOW_LOG_FORMAT")
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Ignoring non-integer environment variable", "key", key, "value", v)
		return
	}
	*dst = n
}

// applyDuration parses a duration string into dst. Empty strings are
// skipped; unparseable values are logged and the current value kept.
func applyDuration(dst *time.Duration, value, field string) {
	if value == "" {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("Invalid duration in config, using default", "field", field, "value", value, "error", err)
		return
	}
	*dst = d
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
