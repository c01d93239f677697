// Package cache provides response caching backed by Redis with a graceful
// in-memory fallback. Providers use it to skip repeat generations; losing the
// cache must never fail a caller, so failures degrade to a miss.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/devflow-ai/devflow/pkg/models"
)

// DefaultTTL is applied when Set is called with a zero TTL.
const DefaultTTL = time.Hour

// Config holds constructor parameters. A nil Client means memory-only mode.
type Config struct {
	Client *redis.Client
	TTL    time.Duration
	Logger *slog.Logger
}

// Health reports which backend is serving the cache.
type Health struct {
	Healthy bool   `json:"healthy"`
	Backend string `json:"backend"`
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// Cache is a JSON value cache. All operations are safe for concurrent use.
type Cache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	memory map[string]memoryEntry
}

// New creates a cache. The Redis client, when given, should already be
// connected; operations fall back to the in-memory map when it errors.
func New(cfg Config) *Cache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		rdb:    cfg.Client,
		ttl:    ttl,
		logger: logger.With("component", "cache"),
		memory: make(map[string]memoryEntry),
	}
}

// Key builds a cache key from parts: the first part as a readable prefix plus
// a truncated SHA-256 of the joined parts.
func Key(parts ...string) string {
	if len(parts) == 0 {
		return ""
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return parts[0] + ":" + hex.EncodeToString(sum[:])[:16]
}

// Get unmarshals the cached value for key into dest and reports whether it was
// found. Backend errors are logged and count as a miss.
func (c *Cache) Get(ctx context.Context, key string, dest any) bool {
	if key == "" {
		return false
	}
	if c.rdb != nil {
		data, err := c.rdb.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			if err := json.Unmarshal(data, dest); err != nil {
				c.logger.Warn("Cache entry is not valid JSON", "key", key, "error", err)
				return false
			}
			return true
		case err == redis.Nil:
			return false
		default:
			c.logger.Warn("Redis get failed, trying memory", "key", key, "error", err)
		}
	}

	c.mu.Lock()
	entry, ok := c.memory[key]
	if ok && time.Now().After(entry.expiresAt) {
		delete(c.memory, key)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	if err := json.Unmarshal(entry.data, dest); err != nil {
		c.logger.Warn("Cache entry is not valid JSON", "key", key, "error", err)
		return false
	}
	return true
}

// Set stores value under key for ttl (DefaultTTL when zero). Redis failures
// degrade to the in-memory map.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if key == "" {
		return models.E(models.ErrorValidation, "cache key must not be empty")
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	data, err := json.Marshal(value)
	if err != nil {
		return models.WrapError(models.ErrorValidation, err, "cache value is not serializable")
	}
	if c.rdb != nil {
		err := c.rdb.Set(ctx, key, data, ttl).Err()
		if err == nil {
			return nil
		}
		c.logger.Warn("Redis set failed, using memory", "key", key, "error", err)
	}
	c.mu.Lock()
	c.memory[key] = memoryEntry{data: data, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

// Delete removes key from every backend.
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.memory, key)
	c.mu.Unlock()
	if c.rdb == nil {
		return nil
	}
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return models.WrapError(models.ErrorInternal, err, "redis delete")
	}
	return nil
}

// HealthCheck reports the active backend. Memory-only mode is healthy; it is
// the designed degradation, not a failure.
func (c *Cache) HealthCheck(ctx context.Context) Health {
	if c.rdb == nil {
		return Health{Healthy: true, Backend: "memory"}
	}
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		c.logger.Warn("Redis ping failed", "error", err)
		return Health{Healthy: true, Backend: "memory"}
	}
	return Health{Healthy: true, Backend: "redis"}
}

// Close releases the Redis connection if one was configured.
func (c *Cache) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
