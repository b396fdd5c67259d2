package cache

import (
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Type represents the cache backend type
type Type string

const (
	TypeMemory  Type = "memory"
	TypeRedis   Type = "redis"
	TypeTwoTier Type = "two_tier"
)

// Config holds cache configuration
type Config struct {
	Type            Type          `json:"type"`
	L1TTL           time.Duration `json:"l1_ttl,omitempty"`
	CleanupInterval time.Duration `json:"cleanup_interval,omitempty"`
	KeyPrefix       string        `json:"key_prefix,omitempty"`
	RedisClient     *redis.Client `json:"-"`
}

// DefaultConfig returns default cache configuration
func DefaultConfig() Config {
	return Config{
		Type:            TypeMemory,
		L1TTL:           5 * time.Minute,
		CleanupInterval: 10 * time.Minute,
		KeyPrefix:       "kumascript:",
	}
}

// New creates a cache client based on configuration
func New(config Config) (Client, error) {
	switch config.Type {
	case TypeMemory, "":
		return NewMemory(), nil

	case TypeRedis:
		if config.RedisClient == nil {
			return nil, fmt.Errorf("redis client required for redis cache")
		}
		return NewRedis(config.RedisClient, config.KeyPrefix), nil

	case TypeTwoTier:
		if config.RedisClient == nil {
			return nil, fmt.Errorf("redis client required for two-tier cache")
		}
		return NewTwoTier(
			config.L1TTL,
			config.CleanupInterval,
			config.RedisClient,
			config.KeyPrefix,
		), nil

	default:
		return nil, fmt.Errorf("unknown cache type: %s", config.Type)
	}
}
