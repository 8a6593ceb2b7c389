// Package cache is a best-effort gateway over redis. Every failure, including
// timeouts and an unreachable server, degrades to a miss or a no-op and is
// only visible through logs and metrics.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"shortlink/internal/config"
	"shortlink/internal/metrics"
	"shortlink/internal/model"
)

const (
	mappingPrefix = "url:"
	clicksPrefix  = "clicks:"
)

// ErrDisabled is returned by Ping when no redis client was configured.
var ErrDisabled = errors.New("cache disabled")

// Client is the subset of *redis.Client the gateway uses.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

type Cache struct {
	client    Client
	ttl       time.Duration
	opTimeout time.Duration
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// New wraps client. A nil client gives a disabled cache where every read misses.
func New(client Client, ttl, opTimeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *Cache {
	return &Cache{
		client:    client,
		ttl:       ttl,
		opTimeout: opTimeout,
		logger:    logger.Named("cache"),
		metrics:   m,
	}
}

// NewClient builds the shared redis client with bounded dial and I/O timeouts.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  cfg.OpTimeout,
		WriteTimeout: cfg.OpTimeout,
		PoolSize:     20,
		MinIdleConns: 2,
	})
}

func MappingKey(code string) string { return mappingPrefix + code }

func ClicksKey(code string) string { return clicksPrefix + code }

func (c *Cache) Enabled() bool {
	return c.client != nil
}

func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	if c.client == nil {
		c.observe("get", "miss")
		return "", false
	}
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	val, err := c.client.Get(ctx, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		c.observe("get", "miss")
		c.logger.Debug("cache miss", zap.String("key", key))
		return "", false
	case err != nil:
		c.fail("get", key, err)
		return "", false
	}
	c.observe("get", "hit")
	c.logger.Debug("cache hit", zap.String("key", key))
	return val, true
}

// Set stores value under key. A ttl of zero means the configured default.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) bool {
	if c.client == nil {
		c.observe("set", "disabled")
		return false
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.fail("set", key, err)
		return false
	}
	c.observe("set", "ok")
	return true
}

func (c *Cache) Del(ctx context.Context, key string) bool {
	if c.client == nil {
		c.observe("del", "disabled")
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.fail("del", key, err)
		return false
	}
	c.observe("del", "ok")
	return true
}

// Incr increments key, creating it at 1. ok is false when the cache could not be reached.
func (c *Cache) Incr(ctx context.Context, key string) (n int64, ok bool) {
	if c.client == nil {
		c.observe("incr", "disabled")
		return 0, false
	}
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		c.fail("incr", key, err)
		return 0, false
	}
	c.observe("incr", "ok")
	return n, true
}

func (c *Cache) Exists(ctx context.Context, key string) bool {
	if c.client == nil {
		c.observe("exists", "miss")
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		c.fail("exists", key, err)
		return false
	}
	if n == 0 {
		c.observe("exists", "miss")
		return false
	}
	c.observe("exists", "hit")
	return true
}

// GetMapping reads "url:<code>". An undecodable value counts as a miss.
func (c *Cache) GetMapping(ctx context.Context, code string) (*model.CachedMapping, bool) {
	raw, ok := c.Get(ctx, MappingKey(code))
	if !ok {
		return nil, false
	}
	var m model.CachedMapping
	if err := json.Unmarshal([]byte(raw), &m); err != nil || m.OriginalURL == "" {
		c.logger.Warn("discarding malformed cache entry", zap.String("code", code), zap.Error(err))
		return nil, false
	}
	return &m, true
}

func (c *Cache) SetMapping(ctx context.Context, m model.CachedMapping) bool {
	raw, err := json.Marshal(m)
	if err != nil {
		c.logger.Warn("encode cache entry", zap.String("code", m.ShortCode), zap.Error(err))
		return false
	}
	return c.Set(ctx, MappingKey(m.ShortCode), string(raw), c.ttl)
}

// DeleteMapping removes the mapping key and then the ephemeral click counter.
func (c *Cache) DeleteMapping(ctx context.Context, code string) {
	c.Del(ctx, MappingKey(code))
	c.Del(ctx, ClicksKey(code))
}

func (c *Cache) IncrClicks(ctx context.Context, code string) (int64, bool) {
	return c.Incr(ctx, ClicksKey(code))
}

func (c *Cache) Ping(ctx context.Context) error {
	if c.client == nil {
		return ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Cache) observe(op, result string) {
	c.metrics.CacheOps.WithLabelValues(op, result).Inc()
}

func (c *Cache) fail(op, key string, err error) {
	c.observe(op, "error")
	c.logger.Warn("cache operation failed", zap.String("op", op), zap.String("key", key), zap.Error(err))
}
