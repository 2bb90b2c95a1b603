package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pulseboard/pulseboard/internal/cache"
	"github.com/pulseboard/pulseboard/internal/events"
	"github.com/pulseboard/pulseboard/internal/pipeline"
	"github.com/pulseboard/pulseboard/internal/queue"
	"github.com/pulseboard/pulseboard/internal/survey"
)

// errNotFound marks loader results that must become a 404 instead of being
// cached.
var errNotFound = errors.New("not found")

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeRaw writes an already-serialized JSON payload.
func (s *Server) writeRaw(w http.ResponseWriter, status int, payload json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// Organizations

func (s *Server) handleListOrganizations(w http.ResponseWriter, r *http.Request) {
	orgs, err := s.responses.ListOrganizations()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list organizations")
		s.writeError(w, http.StatusInternalServerError, "failed to list organizations")
		return
	}
	if orgs == nil {
		orgs = []survey.Organization{}
	}
	s.writeJSON(w, http.StatusOK, orgs)
}

func (s *Server) handleUpsertOrganization(w http.ResponseWriter, r *http.Request) {
	var org survey.Organization
	if err := json.NewDecoder(r.Body).Decode(&org); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid organization payload")
		return
	}
	if org.ID == "" || org.Name == "" {
		s.writeError(w, http.StatusBadRequest, "organization id and name are required")
		return
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now()
	}

	if err := s.responses.UpsertOrganization(org); err != nil {
		s.logger.Error().Err(err).Str("organization", org.ID).Msg("Failed to upsert organization")
		s.writeError(w, http.StatusInternalServerError, "failed to store organization")
		return
	}
	s.writeJSON(w, http.StatusOK, org)
}

// Cached analytics reads. Responses are served from the cache and tagged by
// organization so pipeline runs can invalidate them.

// readThrough serves a key from the cache, degrading to a direct load when
// the cache itself fails, so a broken cache costs latency instead of
// correctness.
func (s *Server) readThrough(ctx context.Context, key string, loader cache.LoaderFunc, tags ...string) (json.RawMessage, error) {
	payload, err := s.cache.Get(ctx, key, loader, cache.WithTags(tags...))
	if err == nil {
		return payload, nil
	}
	if errors.Is(err, errNotFound) {
		return nil, err
	}

	s.logger.Warn().Err(err).Str("key", key).Msg("Cache read failed, loading directly")
	value, loadErr := loader(ctx)
	if loadErr != nil {
		return nil, loadErr
	}
	return json.Marshal(value)
}

func (s *Server) handleOrgSummary(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")

	loader := func(ctx context.Context) (interface{}, error) {
		return s.aggregates.LatestAggregates(orgID)
	}

	payload, err := s.readThrough(r.Context(), pipeline.SummaryKey(orgID), loader,
		pipeline.OrgTag(orgID), "summary")
	if err != nil {
		s.logger.Error().Err(err).Str("organization", orgID).Msg("Failed to load summary")
		s.writeError(w, http.StatusInternalServerError, "failed to load summary")
		return
	}
	s.writeRaw(w, http.StatusOK, payload)
}

func (s *Server) handleOrgTrends(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")

	loader := func(ctx context.Context) (interface{}, error) {
		reports, err := s.aggregates.ListTrendReports(orgID)
		if err != nil {
			return nil, err
		}
		if reports == nil {
			reports = []survey.TrendReport{}
		}
		return reports, nil
	}

	payload, err := s.readThrough(r.Context(), "org:"+orgID+":trends", loader,
		pipeline.OrgTag(orgID), "trends")
	if err != nil {
		s.logger.Error().Err(err).Str("organization", orgID).Msg("Failed to load trends")
		s.writeError(w, http.StatusInternalServerError, "failed to load trends")
		return
	}
	s.writeRaw(w, http.StatusOK, payload)
}

func (s *Server) handleOrgForecast(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	metric := chi.URLParam(r, "metric")

	loader := func(ctx context.Context) (interface{}, error) {
		forecast, err := s.aggregates.GetForecast(orgID, metric)
		if err != nil {
			return nil, err
		}
		if forecast == nil {
			return nil, errNotFound
		}
		return forecast, nil
	}

	payload, err := s.readThrough(r.Context(), "org:"+orgID+":forecast:"+metric, loader,
		pipeline.OrgTag(orgID), "forecasts")
	if errors.Is(err, errNotFound) {
		s.writeError(w, http.StatusNotFound, "no forecast for metric "+metric)
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("organization", orgID).Msg("Failed to load forecast")
		s.writeError(w, http.StatusInternalServerError, "failed to load forecast")
		return
	}
	s.writeRaw(w, http.StatusOK, payload)
}

// Jobs

type scheduleJobRequest struct {
	Type           string `json:"type"`
	OrganizationID string `json:"organization_id"`
	Priority       string `json:"priority"`
	ScheduledAt    string `json:"scheduled_at"`
}

func (s *Server) handleScheduleJob(w http.ResponseWriter, r *http.Request) {
	var req scheduleJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid job payload")
		return
	}

	priority, err := queue.ParsePriority(req.Priority)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	scheduledAt := time.Now()
	if req.ScheduledAt != "" {
		scheduledAt, err = time.Parse(time.RFC3339, req.ScheduledAt)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "scheduled_at must be RFC3339")
			return
		}
	}

	id, err := s.queue.Schedule(queue.JobType(req.Type), req.OrganizationID, priority, scheduledAt)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.Get(chi.URLParam(r, "jobID"))
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to get job")
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}
	if job == nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := queue.Status(r.URL.Query().Get("status"))
	if status == "" {
		status = queue.StatusPending
	}

	jobs, err := s.queue.ListByStatus(status)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list jobs")
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []queue.Job{}
	}
	s.writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Stats()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to get queue stats")
		s.writeError(w, http.StatusInternalServerError, "failed to get queue stats")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// Cache administration

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cache.Stats())
}

type invalidateRequest struct {
	Key     string `json:"key"`
	Pattern string `json:"pattern"`
	Tag     string `json:"tag"`
}

func (s *Server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid invalidation payload")
		return
	}
	if req.Key == "" && req.Pattern == "" && req.Tag == "" {
		s.writeError(w, http.StatusBadRequest, "one of key, pattern, or tag is required")
		return
	}

	removed := 0
	if req.Key != "" {
		removed += s.cache.Delete(req.Key)
	}
	if req.Pattern != "" {
		n, err := s.cache.InvalidatePattern(req.Pattern)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		removed += n
	}
	if req.Tag != "" {
		removed += s.cache.InvalidateByTag(req.Tag)
	}

	if s.bus != nil {
		s.bus.Emit(events.CacheInvalidated, "server", map[string]interface{}{
			"key":     req.Key,
			"pattern": req.Pattern,
			"tag":     req.Tag,
			"removed": removed,
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

type warmRequest struct {
	Organizations []string `json:"organizations"`
}

// handleCacheWarm pre-populates summary entries, for every organization when
// none are named.
func (s *Server) handleCacheWarm(w http.ResponseWriter, r *http.Request) {
	var req warmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid warm payload")
		return
	}

	orgIDs := req.Organizations
	if len(orgIDs) == 0 {
		orgs, err := s.responses.ListOrganizations()
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to list organizations for cache warm")
			s.writeError(w, http.StatusInternalServerError, "failed to list organizations")
			return
		}
		for _, org := range orgs {
			orgIDs = append(orgIDs, org.ID)
		}
	}

	strategies := make([]cache.WarmStrategy, 0, len(orgIDs))
	for _, orgID := range orgIDs {
		strategies = append(strategies, pipeline.SummaryWarmStrategy(orgID, s.aggregates))
	}

	if err := s.cache.WarmCache(r.Context(), strategies); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]int{"warmed": len(strategies)})
}

// Snapshots

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		s.writeError(w, http.StatusServiceUnavailable, "snapshots not configured")
		return
	}

	snapshots, err := s.snapshots.ListSnapshots(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list snapshots")
		s.writeError(w, http.StatusInternalServerError, "failed to list snapshots")
		return
	}
	s.writeJSON(w, http.StatusOK, snapshots)
}

func (s *Server) handleTriggerSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		s.writeError(w, http.StatusServiceUnavailable, "snapshots not configured")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
		defer cancel()
		if err := s.snapshots.CreateAndUploadSnapshot(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Manual snapshot failed")
		}
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "snapshot started"})
}
