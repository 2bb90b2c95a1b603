// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	Port     int
	LogLevel string
	DevMode  bool

	Cache     CacheConfig
	Scheduler SchedulerConfig
	Redis     RedisConfig
	Snapshot  SnapshotConfig
}

// CacheConfig holds cache store tuning parameters
type CacheConfig struct {
	DefaultTTL         time.Duration // Default entry lifetime
	MaxSizeBytes       int64         // Hard budget for stored (possibly compressed) payloads
	RefreshThreshold   float64       // Fraction of TTL remaining that triggers async refresh
	CompressionEnabled bool
	SweepInterval      time.Duration // Expiry sweep cadence
}

// SchedulerConfig holds background job scheduler tuning parameters
type SchedulerConfig struct {
	PollInterval time.Duration // Dispatch loop cadence
	JobTimeout   time.Duration // Per-job wall clock limit
	MaxRetries   int           // Default retry budget per job
}

// RedisConfig holds the optional Redis cache mirror settings.
// An empty Addr disables the Redis tier entirely.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// SnapshotConfig holds the optional S3-compatible snapshot export settings.
// An empty Bucket disables snapshot export.
type SnapshotConfig struct {
	Bucket        string
	Endpoint      string // Custom endpoint for S3-compatible stores (R2, MinIO)
	Region        string
	AccessKey     string
	SecretKey     string
	RetentionDays int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Determine data directory with fallback logic:
	// 1. Check PULSE_DATA_DIR environment variable
	// 2. If not set, default to ./data
	// 3. Always resolve to absolute path and ensure it exists
	dataDir := getEnv("PULSE_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("PULSE_PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		Cache: CacheConfig{
			DefaultTTL:         getEnvAsDuration("CACHE_DEFAULT_TTL", 5*time.Minute),
			MaxSizeBytes:       getEnvAsInt64("CACHE_MAX_SIZE_BYTES", 64*1024*1024),
			RefreshThreshold:   getEnvAsFloat("CACHE_REFRESH_THRESHOLD", 0.2),
			CompressionEnabled: getEnvAsBool("CACHE_COMPRESSION", true),
			SweepInterval:      getEnvAsDuration("CACHE_SWEEP_INTERVAL", time.Minute),
		},
		Scheduler: SchedulerConfig{
			PollInterval: getEnvAsDuration("SCHEDULER_POLL_INTERVAL", 5*time.Second),
			JobTimeout:   getEnvAsDuration("SCHEDULER_JOB_TIMEOUT", 5*time.Minute),
			MaxRetries:   getEnvAsInt("SCHEDULER_MAX_RETRIES", 3),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Snapshot: SnapshotConfig{
			Bucket:        getEnv("SNAPSHOT_BUCKET", ""),
			Endpoint:      getEnv("SNAPSHOT_ENDPOINT", ""),
			Region:        getEnv("SNAPSHOT_REGION", "auto"),
			AccessKey:     getEnv("SNAPSHOT_ACCESS_KEY", ""),
			SecretKey:     getEnv("SNAPSHOT_SECRET_KEY", ""),
			RetentionDays: getEnvAsInt("SNAPSHOT_RETENTION_DAYS", 30),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present and consistent
func (c *Config) Validate() error {
	if c.Cache.MaxSizeBytes <= 0 {
		return fmt.Errorf("cache max size must be positive, got %d", c.Cache.MaxSizeBytes)
	}
	if c.Cache.RefreshThreshold < 0 || c.Cache.RefreshThreshold >= 1 {
		return fmt.Errorf("cache refresh threshold must be in [0,1), got %f", c.Cache.RefreshThreshold)
	}
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler poll interval must be positive, got %s", c.Scheduler.PollInterval)
	}
	if c.Scheduler.MaxRetries < 0 {
		return fmt.Errorf("scheduler max retries must be non-negative, got %d", c.Scheduler.MaxRetries)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
