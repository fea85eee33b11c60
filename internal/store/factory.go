package store

import (
	"time"

	"github.com/redis/go-redis/v9"
)

// KVType selects a KV driver.
type KVType string

const (
	KVTypeSQLite KVType = "sqlite"
	KVTypeRedis  KVType = "redis"
	KVTypeMemory KVType = "memory"
)

// KVOption is a functional option for configuring a KV driver.
type KVOption func(*kvConfig)

type kvConfig struct {
	sqlite      *SQLiteStore
	redisClient *redis.Client
	redisPrefix string
	redisTTL    time.Duration
}

// WithSQLite supplies the SQLite store backing the sqlite driver.
func WithSQLite(s *SQLiteStore) KVOption {
	return func(c *kvConfig) {
		c.sqlite = s
	}
}

// WithRedisClient sets the Redis client for the redis driver.
func WithRedisClient(client *redis.Client) KVOption {
	return func(c *kvConfig) {
		c.redisClient = client
	}
}

// WithRedisPrefix sets the key prefix for the redis driver.
func WithRedisPrefix(prefix string) KVOption {
	return func(c *kvConfig) {
		c.redisPrefix = prefix
	}
}

// WithRedisTTL sets the expiry applied to every Redis write.
func WithRedisTTL(ttl time.Duration) KVOption {
	return func(c *kvConfig) {
		c.redisTTL = ttl
	}
}

// NewKV creates a KV for the given driver type.
func NewKV(kvType KVType, opts ...KVOption) (KV, error) {
	cfg := &kvConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	switch kvType {
	case KVTypeSQLite:
		if cfg.sqlite == nil {
			return nil, ErrInvalidConfig
		}
		return cfg.sqlite, nil
	case KVTypeRedis:
		if cfg.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return NewRedisKV(cfg.redisClient, cfg.redisPrefix, cfg.redisTTL), nil
	case KVTypeMemory:
		return NewMemoryKV(), nil
	default:
		return nil, ErrInvalidStoreType
	}
}
