package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PULSE_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 5*time.Minute, cfg.Cache.DefaultTTL)
	assert.Equal(t, int64(64*1024*1024), cfg.Cache.MaxSizeBytes)
	assert.Equal(t, 0.2, cfg.Cache.RefreshThreshold)
	assert.True(t, cfg.Cache.CompressionEnabled)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.PollInterval)
	assert.Equal(t, 3, cfg.Scheduler.MaxRetries)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Empty(t, cfg.Snapshot.Bucket)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PULSE_DATA_DIR", t.TempDir())
	t.Setenv("PULSE_PORT", "9090")
	t.Setenv("CACHE_DEFAULT_TTL", "30s")
	t.Setenv("CACHE_MAX_SIZE_BYTES", "1048576")
	t.Setenv("SCHEDULER_POLL_INTERVAL", "1s")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.Cache.DefaultTTL)
	assert.Equal(t, int64(1048576), cfg.Cache.MaxSizeBytes)
	assert.Equal(t, time.Second, cfg.Scheduler.PollInterval)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Cache: CacheConfig{
				MaxSizeBytes:     1024,
				RefreshThreshold: 0.2,
			},
			Scheduler: SchedulerConfig{
				PollInterval: time.Second,
				MaxRetries:   3,
			},
		}
	}

	t.Run("valid config passes", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("rejects non-positive cache budget", func(t *testing.T) {
		cfg := base()
		cfg.Cache.MaxSizeBytes = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects refresh threshold out of range", func(t *testing.T) {
		cfg := base()
		cfg.Cache.RefreshThreshold = 1.0
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects non-positive poll interval", func(t *testing.T) {
		cfg := base()
		cfg.Scheduler.PollInterval = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects negative retries", func(t *testing.T) {
		cfg := base()
		cfg.Scheduler.MaxRetries = -1
		assert.Error(t, cfg.Validate())
	})
}
