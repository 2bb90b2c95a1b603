// Package server exposes the analytics subsystem over HTTP: cached analytics
// reads, job scheduling and inspection, cache administration, system health,
// and a websocket event stream.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pulseboard/pulseboard/internal/cache"
	"github.com/pulseboard/pulseboard/internal/database"
	"github.com/pulseboard/pulseboard/internal/events"
	"github.com/pulseboard/pulseboard/internal/queue"
	"github.com/pulseboard/pulseboard/internal/reliability"
	"github.com/pulseboard/pulseboard/internal/survey"
)

// Config carries the wired services the server exposes.
type Config struct {
	Port    int
	DevMode bool
	DataDir string

	Cache      *cache.Store
	Queue      *queue.Manager
	Responses  *survey.Repository
	Aggregates *survey.AggregateRepository
	Bus        *events.Bus
	Databases  map[string]*database.DB
	Snapshots  *reliability.SnapshotService
}

// Server is the HTTP server.
type Server struct {
	router     *chi.Mux
	server     *http.Server
	cache      *cache.Store
	queue      *queue.Manager
	responses  *survey.Repository
	aggregates *survey.AggregateRepository
	bus        *events.Bus
	databases  map[string]*database.DB
	snapshots  *reliability.SnapshotService
	dataDir    string
	logger     zerolog.Logger
}

// New creates the HTTP server with middleware and routes configured.
func New(cfg Config) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		cache:      cfg.Cache,
		queue:      cfg.Queue,
		responses:  cfg.Responses,
		aggregates: cfg.Aggregates,
		bus:        cfg.Bus,
		databases:  cfg.Databases,
		snapshots:  cfg.Snapshots,
		dataDir:    cfg.DataDir,
		logger:     log.With().Str("component", "server").Logger(),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/events/stream", s.handleEventsStream)

		r.Route("/organizations", func(r chi.Router) {
			r.Get("/", s.handleListOrganizations)
			r.Post("/", s.handleUpsertOrganization)
			r.Route("/{orgID}", func(r chi.Router) {
				r.Get("/summary", s.handleOrgSummary)
				r.Get("/trends", s.handleOrgTrends)
				r.Get("/forecasts/{metric}", s.handleOrgForecast)
			})
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Post("/", s.handleScheduleJob)
			r.Get("/stats", s.handleJobStats)
			r.Get("/{jobID}", s.handleGetJob)
		})

		r.Route("/cache", func(r chi.Router) {
			r.Get("/stats", s.handleCacheStats)
			r.Post("/invalidate", s.handleCacheInvalidate)
			r.Post("/warm", s.handleCacheWarm)
		})

		r.Route("/system", func(r chi.Router) {
			r.Get("/health", s.handleSystemHealth)
			r.Get("/database/stats", s.handleDatabaseStats)
		})

		r.Route("/snapshots", func(r chi.Router) {
			r.Get("/", s.handleListSnapshots)
			r.Post("/", s.handleTriggerSnapshot)
		})
	})
}

// loggingMiddleware logs each request with duration and status.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request")
	})
}

// Router returns the chi router, used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("HTTP server shutting down")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
