package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	Server  ServerConfig  `json:"server"`
	Store   StoreConfig   `json:"store"`
	Cache   CacheConfig   `json:"cache"`
	Breaker BreakerConfig `json:"breaker"`
	Retry   RetryConfig   `json:"retry"`
	Invoker InvokerConfig `json:"invoker"`
	Health  HealthConfig  `json:"health"`
	Logging LoggingConfig `json:"logging"`
	Metrics MetricsConfig `json:"metrics"`
}

// ServerConfig contains the operational HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// StoreConfig selects and configures the persistent key-value store
type StoreConfig struct {
	// Backend is "redis" or "memory"
	Backend   string `json:"backend"`
	Prefix    string `json:"prefix"`
	LimitMB   int    `json:"limit_mb"`
	RedisHost string `json:"redis_host"`
	RedisPort int    `json:"redis_port"`
	RedisPass string `json:"redis_pass"`
	RedisDB   int    `json:"redis_db"`
	PoolSize  int    `json:"pool_size"`
}

// CacheConfig contains cache behavior configuration
type CacheConfig struct {
	DefaultTTL          time.Duration `json:"default_ttl"`
	EnableCompression   bool          `json:"enable_compression"`
	CompressionMinBytes int           `json:"compression_min_bytes"`
	PressureRatio       float64       `json:"pressure_ratio"`
	EvictFraction       float64       `json:"evict_fraction"`
}

// BreakerConfig contains circuit breaker defaults
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	Cooldown         time.Duration `json:"cooldown"`
}

// RetryConfig contains retry/backoff defaults
type RetryConfig struct {
	MaxRetries int           `json:"max_retries"`
	BaseDelay  time.Duration `json:"base_delay"`
	MaxDelay   time.Duration `json:"max_delay"`
	Jitter     bool          `json:"jitter"`
}

// InvokerConfig contains per-invocation defaults
type InvokerConfig struct {
	Timeout      time.Duration `json:"timeout"`
	CacheEnabled bool          `json:"cache_enabled"`
	CacheTTL     time.Duration `json:"cache_ttl"`
	SingleFlight bool          `json:"single_flight"`
}

// HealthConfig contains the health evaluation loop configuration
type HealthConfig struct {
	Enabled             bool          `json:"enabled"`
	Interval            time.Duration `json:"interval"`
	HitRateWarning      float64       `json:"hit_rate_warning"`
	HitRateCritical     float64       `json:"hit_rate_critical"`
	AvgDurationWarning  time.Duration `json:"avg_duration_warning"`
	AvgDurationCritical time.Duration `json:"avg_duration_critical"`
	TripSuspension      time.Duration `json:"trip_suspension"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Namespace string `json:"namespace"`
	Enabled   bool   `json:"enabled"`
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("SERVER_HOST", "127.0.0.1"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Store: StoreConfig{
			Backend:   getEnvString("STORE_BACKEND", "memory"),
			Prefix:    getEnvString("STORE_PREFIX", "bulwark"),
			LimitMB:   getEnvInt("STORE_LIMIT_MB", 16),
			RedisHost: getEnvString("REDIS_HOST", "localhost"),
			RedisPort: getEnvInt("REDIS_PORT", 6379),
			RedisPass: getEnvString("REDIS_PASSWORD", ""),
			RedisDB:   getEnvInt("REDIS_DB", 0),
			PoolSize:  getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Cache: CacheConfig{
			DefaultTTL:          getEnvDuration("CACHE_DEFAULT_TTL", 5*time.Minute),
			EnableCompression:   getEnvBool("CACHE_ENABLE_COMPRESSION", true),
			CompressionMinBytes: getEnvInt("CACHE_COMPRESSION_MIN_BYTES", 1024),
			PressureRatio:       getEnvFloat("CACHE_PRESSURE_RATIO", 0.8),
			EvictFraction:       getEnvFloat("CACHE_EVICT_FRACTION", 0.3),
		},
		Breaker: BreakerConfig{
			FailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
			Cooldown:         getEnvDuration("BREAKER_COOLDOWN", 60*time.Second),
		},
		Retry: RetryConfig{
			MaxRetries: getEnvInt("RETRY_MAX_RETRIES", 3),
			BaseDelay:  getEnvDuration("RETRY_BASE_DELAY", 100*time.Millisecond),
			MaxDelay:   getEnvDuration("RETRY_MAX_DELAY", 10*time.Second),
			Jitter:     getEnvBool("RETRY_JITTER", true),
		},
		Invoker: InvokerConfig{
			Timeout:      getEnvDuration("INVOKER_TIMEOUT", 5*time.Second),
			CacheEnabled: getEnvBool("INVOKER_CACHE_ENABLED", true),
			CacheTTL:     getEnvDuration("INVOKER_CACHE_TTL", 5*time.Minute),
			SingleFlight: getEnvBool("INVOKER_SINGLE_FLIGHT", true),
		},
		Health: HealthConfig{
			Enabled:             getEnvBool("HEALTH_ENABLED", true),
			Interval:            getEnvDuration("HEALTH_INTERVAL", 30*time.Second),
			HitRateWarning:      getEnvFloat("HEALTH_HIT_RATE_WARNING", 0.5),
			HitRateCritical:     getEnvFloat("HEALTH_HIT_RATE_CRITICAL", 0.3),
			AvgDurationWarning:  getEnvDuration("HEALTH_AVG_DURATION_WARNING", 3*time.Second),
			AvgDurationCritical: getEnvDuration("HEALTH_AVG_DURATION_CRITICAL", 5*time.Second),
			TripSuspension:      getEnvDuration("HEALTH_TRIP_SUSPENSION", 2*time.Minute),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
		Metrics: MetricsConfig{
			Namespace: getEnvString("METRICS_NAMESPACE", "bulwark"),
			Enabled:   getEnvBool("METRICS_ENABLED", true),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("unsupported store backend: %s", c.Store.Backend)
	}

	if c.Store.LimitMB <= 0 {
		return fmt.Errorf("store limit must be positive")
	}

	if c.Cache.PressureRatio <= 0 || c.Cache.PressureRatio > 1 {
		return fmt.Errorf("cache pressure ratio must be in (0, 1]")
	}

	if c.Cache.EvictFraction <= 0 || c.Cache.EvictFraction >= 1 {
		return fmt.Errorf("cache evict fraction must be in (0, 1)")
	}

	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker failure threshold must be positive")
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry count must not be negative")
	}

	return nil
}

// RedisAddr returns the Redis host:port address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Store.RedisHost, c.Store.RedisPort)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
