package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"

	"kumascript/internal/common/errors"
)

// Client is a key/value store with TTL semantics. A miss is reported as
// found == false with a nil error; err is reserved for backend failures.
type Client interface {
	Get(ctx context.Context, key string) (value interface{}, found bool, err error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Health(ctx context.Context) error
}

// MemoryClient keeps values in process memory
type MemoryClient struct {
	cache      *gocache.Cache
	enforceTTL bool
}

// NewMemory creates the fallback cache. Entries never expire.
func NewMemory() *MemoryClient {
	return &MemoryClient{cache: gocache.New(gocache.NoExpiration, 0)}
}

// NewLocal creates an in-memory cache that honours TTLs, cleaning up
// expired entries every cleanupInterval.
func NewLocal(cleanupInterval time.Duration) *MemoryClient {
	return &MemoryClient{
		cache:      gocache.New(gocache.NoExpiration, cleanupInterval),
		enforceTTL: true,
	}
}

// Get retrieves a value from memory
func (m *MemoryClient) Get(ctx context.Context, key string) (interface{}, bool, error) {
	value, found := m.cache.Get(key)
	return value, found, nil
}

// Set stores a value in memory
func (m *MemoryClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !m.enforceTTL || ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	m.cache.Set(key, value, ttl)
	return nil
}

// Delete removes a value from memory
func (m *MemoryClient) Delete(ctx context.Context, key string) error {
	m.cache.Delete(key)
	return nil
}

// Health always succeeds for the in-memory cache
func (m *MemoryClient) Health(ctx context.Context) error {
	return nil
}

// Len returns the number of stored entries
func (m *MemoryClient) Len() int {
	return m.cache.ItemCount()
}

// RedisClient stores JSON-encoded values in Redis
type RedisClient struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedis creates a Redis-backed cache. Every key is prefixed with keyPrefix.
func NewRedis(client *redis.Client, keyPrefix string) *RedisClient {
	return &RedisClient{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Get retrieves and decodes a value from Redis
func (r *RedisClient) Get(ctx context.Context, key string) (interface{}, bool, error) {
	val, err := r.client.Get(ctx, r.keyPrefix+key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.CacheError("get", err).WithContext("key", key)
	}

	var result interface{}
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		// Written by something other than this package
		return val, true, nil
	}
	return result, true, nil
}

// Set encodes value as JSON and stores it in Redis. ttl <= 0 stores without expiry.
func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.CacheError("encode", err).WithContext("key", key)
	}

	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.keyPrefix+key, data, ttl).Err(); err != nil {
		return errors.CacheError("set", err).WithContext("key", key)
	}
	return nil
}

// Delete removes a value from Redis
func (r *RedisClient) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.keyPrefix+key).Err(); err != nil {
		return errors.CacheError("delete", err).WithContext("key", key)
	}
	return nil
}

// Health pings Redis
func (r *RedisClient) Health(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return errors.ConnectionError("redis cache unreachable", err)
	}
	return nil
}

// TwoTierClient combines a local L1 with Redis as L2
type TwoTierClient struct {
	l1    *MemoryClient
	l2    *RedisClient
	l1TTL time.Duration
}

// NewTwoTier creates a cache whose L1 entries live at most l1TTL.
func NewTwoTier(l1TTL, cleanupInterval time.Duration, redisClient *redis.Client, keyPrefix string) *TwoTierClient {
	return &TwoTierClient{
		l1:    NewLocal(cleanupInterval),
		l2:    NewRedis(redisClient, keyPrefix),
		l1TTL: l1TTL,
	}
}

// Get checks L1 first, then L2
func (t *TwoTierClient) Get(ctx context.Context, key string) (interface{}, bool, error) {
	if val, found, _ := t.l1.Get(ctx, key); found {
		return val, true, nil
	}

	val, found, err := t.l2.Get(ctx, key)
	if err != nil || !found {
		return nil, false, err
	}

	t.l1.Set(ctx, key, val, t.l1TTL)
	return val, true, nil
}

// Set stores in L2 first, then in L1 with the shorter of the two TTLs
func (t *TwoTierClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := t.l2.Set(ctx, key, value, ttl); err != nil {
		return err
	}

	l1TTL := t.l1TTL
	if ttl > 0 && ttl < l1TTL {
		l1TTL = ttl
	}
	return t.l1.Set(ctx, key, value, l1TTL)
}

// Delete removes from both tiers
func (t *TwoTierClient) Delete(ctx context.Context, key string) error {
	t.l1.Delete(ctx, key)
	return t.l2.Delete(ctx, key)
}

// Health reports the health of L2
func (t *TwoTierClient) Health(ctx context.Context) error {
	return t.l2.Health(ctx)
}

// Snapshot returns a copy of value that shares no maps or slices with it.
// Composite values are copied through JSON, the form the Redis backend
// stores, so every backend hands out the same shapes.
func Snapshot(value interface{}) (interface{}, error) {
	switch value.(type) {
	case nil, string, bool, float64, float32,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return value, nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return nil, errors.ValidationError("cached value is not serializable: " + err.Error())
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errors.InternalError("failed to copy cached value", err)
	}
	return out, nil
}
