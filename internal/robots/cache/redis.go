package cache

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultRedisPrefix  = "robots-gate:robots"
	defaultRedisTimeout = 2 * time.Second
)

// RedisCache stores entries in Redis so several processes share fetched
// robots.txt files. Keys are namespaced with a prefix and never expire.
type RedisCache struct {
	rdb     redis.UniversalClient
	prefix  string
	timeout time.Duration
}

type RedisOption func(*RedisCache)

// WithRedisPrefix replaces DefaultRedisPrefix. Surrounding colons are trimmed.
func WithRedisPrefix(prefix string) RedisOption {
	return func(c *RedisCache) {
		if p := strings.Trim(prefix, ":"); p != "" {
			c.prefix = p
		}
	}
}

// WithRedisTimeout bounds every Redis round trip.
func WithRedisTimeout(d time.Duration) RedisOption {
	return func(c *RedisCache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func NewRedisCache(rdb redis.UniversalClient, opts ...RedisOption) *RedisCache {
	c := &RedisCache{
		rdb:     rdb,
		prefix:  DefaultRedisPrefix,
		timeout: defaultRedisTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewRedisCacheFromURL connects using a redis:// URL.
func NewRedisCacheFromURL(rawURL string, opts ...RedisOption) (*RedisCache, error) {
	options, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	return NewRedisCache(redis.NewClient(options), opts...), nil
}

func (c *RedisCache) key(key string) string {
	return c.prefix + ":" + key
}

// Get returns false on a missing key and on any Redis error.
func (c *RedisCache) Get(key string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	value, err := c.rdb.Get(ctx, c.key(key)).Result()
	if err != nil {
		return "", false
	}
	return value, true
}

// Put drops the value when Redis is unavailable.
func (c *RedisCache) Put(key string, value string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	_ = c.rdb.Set(ctx, c.key(key), value, 0).Err()
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
