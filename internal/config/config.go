// Package config provides configuration management for the kumascript
// service. It loads configuration from environment variables with sensible
// defaults and validates it so the service starts safely.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FILE: Log file path (default: stdout)
//
// Templates:
//   - TEMPLATE_DIR: Directory of .js and .tmpl macros
//   - TEMPLATE_URL: Base URL macros are fetched from as <url>/<name>
//   - TEMPLATE_CACHE_TTL: How long fetched sources and compiled units are kept (default: 5m)
//   - AUTOREQUIRE_FILE: YAML file mapping install names to macros required before every rendering
//
// Execution:
//   - CALL_TIMEOUT: Deadline of each template, require and cacheFn call (default: 10s)
//   - MAX_PARALLEL_REQUIRES: Concurrency of auto-require (default: 4)
//   - STRICT_ERRORS: Treat any recorded error as a failed rendering (default: false)
//
// Rate Limiting:
//   - RATE_LIMIT_RPS: Render requests per second per client, 0 disables (default: 0)
//   - RATE_LIMIT_BURST: Requests a client may make at once (default: 20)
//
// Cache:
//   - CACHE_TYPE: "memory", "redis" or "two_tier" (default: memory)
//   - CACHE_KEY_PREFIX: Prefix of every Redis key (default: kumascript:)
//   - DISTRIBUTED_LOCKS: Serialize cacheFn computation across instances through Redis (default: false)
//
// Redis Configuration:
//   - REDIS_ADDRESS: Redis server address
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//
// Example usage:
//
//	cfg := config.Load()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid configuration: %v", err)
//	}
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values of the service. String fields are
// kept as read and parsed by the accessors once Validate has passed.
type Config struct {
	// Application settings
	Port     string // Server port number
	LogLevel string // Logging level (debug, info, warn, error)
	LogFile  string // Log file path, stdout when empty

	// Template sources
	TemplateDir      string // Local macro directory
	TemplateURL      string // Remote macro base URL
	TemplateCacheTTL string // Source and compiled unit lifetime
	AutoRequireFile  string // YAML auto-require mapping

	// Execution
	CallTimeout         string // Per-call deadline
	MaxParallelRequires string // Auto-require concurrency
	StrictErrors        bool   // Fail renderings with any recorded error

	// Rate limiting of render routes, per client address
	RateLimitRPS   string // Requests per second, 0 disables
	RateLimitBurst string // Bucket size

	// Cache
	CacheType        string // memory, redis or two_tier
	CacheKeyPrefix   string // Redis key prefix
	DistributedLocks bool   // Redis locks around cacheFn computation

	// Redis configuration
	RedisAddress  string // Redis server address (host:port)
	RedisPassword string // Redis authentication password
	RedisDB       string // Redis database number (0-15)
	RedisPoolSize string // Redis connection pool size
}

// Load creates a Config from environment variables. It does not validate;
// call Validate on the result.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),

		TemplateDir:      getEnv("TEMPLATE_DIR", ""),
		TemplateURL:      getEnv("TEMPLATE_URL", ""),
		TemplateCacheTTL: getEnv("TEMPLATE_CACHE_TTL", "5m"),
		AutoRequireFile:  getEnv("AUTOREQUIRE_FILE", ""),

		CallTimeout:         getEnv("CALL_TIMEOUT", "10s"),
		MaxParallelRequires: getEnv("MAX_PARALLEL_REQUIRES", "4"),
		StrictErrors:        getBoolEnv("STRICT_ERRORS", false),

		RateLimitRPS:   getEnv("RATE_LIMIT_RPS", "0"),
		RateLimitBurst: getEnv("RATE_LIMIT_BURST", "20"),

		CacheType:        getEnv("CACHE_TYPE", "memory"),
		CacheKeyPrefix:   getEnv("CACHE_KEY_PREFIX", "kumascript:"),
		DistributedLocks: getBoolEnv("DISTRIBUTED_LOCKS", false),

		RedisAddress:  getEnv("REDIS_ADDRESS", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),
		RedisPoolSize: getEnv("REDIS_POOL_SIZE", "10"),
	}
}

// getEnv retrieves an environment variable value or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv retrieves a boolean environment variable value or returns a default value.
// Unparseable values fall back to the default.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate checks that every value parses and that cross-field requirements
// hold: at least one template source, and Redis for the Redis-backed cache
// types and distributed locks.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	if c.TemplateDir == "" && c.TemplateURL == "" {
		return fmt.Errorf("one of TEMPLATE_DIR or TEMPLATE_URL is required")
	}

	if d, err := time.ParseDuration(c.TemplateCacheTTL); err != nil || d < 0 {
		return fmt.Errorf("TEMPLATE_CACHE_TTL must be a valid duration (e.g., '5m', '30s')")
	}
	if d, err := time.ParseDuration(c.CallTimeout); err != nil || d < 0 {
		return fmt.Errorf("CALL_TIMEOUT must be a valid duration (e.g., '10s')")
	}
	if n, err := strconv.Atoi(c.MaxParallelRequires); err != nil || n < 1 {
		return fmt.Errorf("MAX_PARALLEL_REQUIRES must be a positive number")
	}

	if rps, err := strconv.ParseFloat(c.RateLimitRPS, 64); err != nil || rps < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be a non-negative number")
	}
	if burst, err := strconv.Atoi(c.RateLimitBurst); err != nil || burst < 1 {
		return fmt.Errorf("RATE_LIMIT_BURST must be a positive number")
	}

	switch c.CacheType {
	case "memory":
	case "redis", "two_tier":
		if c.RedisAddress == "" {
			return fmt.Errorf("REDIS_ADDRESS is required when CACHE_TYPE is %s", c.CacheType)
		}
	default:
		return fmt.Errorf("CACHE_TYPE must be 'memory', 'redis' or 'two_tier'")
	}

	if c.DistributedLocks && c.RedisAddress == "" {
		return fmt.Errorf("REDIS_ADDRESS is required when DISTRIBUTED_LOCKS is enabled")
	}

	if c.RedisAddress != "" {
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
		if poolSize, err := strconv.Atoi(c.RedisPoolSize); err != nil || poolSize < 1 {
			return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
		}
	}

	return nil
}

// TemplateCacheTTLDuration returns TEMPLATE_CACHE_TTL, zero if invalid
func (c *Config) TemplateCacheTTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.TemplateCacheTTL)
	return d
}

// CallTimeoutDuration returns CALL_TIMEOUT, zero if invalid
func (c *Config) CallTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.CallTimeout)
	return d
}

// MaxParallelRequiresInt returns MAX_PARALLEL_REQUIRES, zero if invalid
func (c *Config) MaxParallelRequiresInt() int {
	n, _ := strconv.Atoi(c.MaxParallelRequires)
	return n
}

// RedisDBInt returns REDIS_DB
func (c *Config) RedisDBInt() int {
	n, _ := strconv.Atoi(c.RedisDB)
	return n
}

// RedisPoolSizeInt returns REDIS_POOL_SIZE
func (c *Config) RedisPoolSizeInt() int {
	n, _ := strconv.Atoi(c.RedisPoolSize)
	return n
}

// RateLimitRPSFloat returns RATE_LIMIT_RPS, zero if invalid
func (c *Config) RateLimitRPSFloat() float64 {
	rps, _ := strconv.ParseFloat(c.RateLimitRPS, 64)
	return rps
}

// RateLimitBurstInt returns RATE_LIMIT_BURST
func (c *Config) RateLimitBurstInt() int {
	n, _ := strconv.Atoi(c.RateLimitBurst)
	return n
}
