// Package main is the entry point for the Pulseboard analytics backend. It
// wires the cache store, background job queue, analytics pipeline, snapshot
// export, and HTTP API, then runs until interrupted.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulseboard/pulseboard/internal/cache"
	"github.com/pulseboard/pulseboard/internal/config"
	"github.com/pulseboard/pulseboard/internal/database"
	"github.com/pulseboard/pulseboard/internal/events"
	"github.com/pulseboard/pulseboard/internal/pipeline"
	"github.com/pulseboard/pulseboard/internal/queue"
	"github.com/pulseboard/pulseboard/internal/reliability"
	"github.com/pulseboard/pulseboard/internal/server"
	"github.com/pulseboard/pulseboard/internal/survey"
	"github.com/pulseboard/pulseboard/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting Pulseboard")

	// Three databases: analytics holds survey data and derived aggregates,
	// jobs holds the durable queue, cache holds the persistent cache tier.
	analyticsDB := mustOpen(log, database.Config{
		Path: filepath.Join(cfg.DataDir, "analytics.db"),
		Name: "analytics",
	})
	defer analyticsDB.Close()

	jobsDB := mustOpen(log, database.Config{
		Path: filepath.Join(cfg.DataDir, "jobs.db"),
		Name: "jobs",
	})
	defer jobsDB.Close()

	cacheDB := mustOpen(log, database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Name:    "cache",
		Profile: database.ProfileCache,
	})
	defer cacheDB.Close()

	databases := map[string]*database.DB{
		"analytics": analyticsDB,
		"jobs":      jobsDB,
		"cache":     cacheDB,
	}

	responses := survey.NewRepository(analyticsDB.Conn())
	aggregates := survey.NewAggregateRepository(analyticsDB.Conn())

	// Persistent cache tier: Redis when configured, sqlite otherwise.
	var persistent cache.PersistentCache = cache.NewSQLiteCache(cacheDB.Conn())
	if cfg.Redis.Addr != "" {
		redisCache := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, "pulseboard:")
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisCache.Ping(pingCtx)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unreachable, falling back to sqlite cache tier")
		} else {
			log.Info().Str("addr", cfg.Redis.Addr).Msg("Using Redis cache tier")
			persistent = redisCache
		}
	}

	cacheStore := cache.NewStore(cache.Config{
		DefaultTTL:       cfg.Cache.DefaultTTL,
		MaxSizeBytes:     cfg.Cache.MaxSizeBytes,
		RefreshThreshold: cfg.Cache.RefreshThreshold,
		Compression:      cfg.Cache.CompressionEnabled,
		SweepInterval:    cfg.Cache.SweepInterval,
	}, persistent)
	cacheStore.Start()
	defer cacheStore.Stop()

	bus := events.NewBus()

	jobStore := queue.NewSQLiteJobStore(jobsDB.Conn())
	manager := queue.NewManager(jobStore, bus, cfg.Scheduler.MaxRetries)
	executor := pipeline.NewExecutor(responses, aggregates, cacheStore)

	scheduler := queue.NewScheduler(queue.SchedulerConfig{
		PollInterval: cfg.Scheduler.PollInterval,
		JobTimeout:   cfg.Scheduler.JobTimeout,
	}, manager, executor, func() ([]string, error) {
		orgs, err := responses.ListOrganizations()
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(orgs))
		for _, org := range orgs {
			ids = append(ids, org.ID)
		}
		return ids, nil
	})

	if err := scheduler.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}
	defer scheduler.Stop()

	var snapshots *reliability.SnapshotService
	if cfg.Snapshot.Bucket != "" {
		s3Client, err := reliability.NewS3Client(context.Background(), reliability.S3Config{
			Bucket:    cfg.Snapshot.Bucket,
			Endpoint:  cfg.Snapshot.Endpoint,
			Region:    cfg.Snapshot.Region,
			AccessKey: cfg.Snapshot.AccessKey,
			SecretKey: cfg.Snapshot.SecretKey,
		})
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize snapshot storage, snapshots disabled")
		} else {
			snapshots = reliability.NewSnapshotService(s3Client, databases, cfg.DataDir, cfg.Snapshot.RetentionDays)
			if err := snapshots.Start(); err != nil {
				log.Error().Err(err).Msg("Failed to start snapshot service")
				snapshots = nil
			} else {
				defer snapshots.Stop()
			}
		}
	}

	srv := server.New(server.Config{
		Port:       cfg.Port,
		DevMode:    cfg.DevMode,
		DataDir:    cfg.DataDir,
		Cache:      cacheStore,
		Queue:      manager,
		Responses:  responses,
		Aggregates: aggregates,
		Bus:        bus,
		Databases:  databases,
		Snapshots:  snapshots,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Pulseboard stopped")
}

// mustOpen opens and migrates a database, exiting on failure.
func mustOpen(log zerolog.Logger, cfg database.Config) *database.DB {
	db, err := database.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("database", cfg.Name).Msg("Failed to open database")
	}
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Str("database", cfg.Name).Msg("Failed to migrate database")
	}
	return db
}
