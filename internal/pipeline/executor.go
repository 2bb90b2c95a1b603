// Package pipeline runs the staged analytics routines behind the background
// job queue: period rollups, trend analysis, anomaly detection, and
// forecasting. Each routine is an ordered stage sequence with per-stage
// progress tracking; the first stage failure aborts the rest.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pulseboard/pulseboard/internal/cache"
	"github.com/pulseboard/pulseboard/internal/queue"
	"github.com/pulseboard/pulseboard/internal/survey"
	"github.com/pulseboard/pulseboard/internal/utils"
)

// ErrValidation marks malformed input that retrying cannot fix.
var ErrValidation = errors.New("validation error")

// StageStatus is the lifecycle state of one pipeline stage.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// StageFunc performs one stage's unit of work and reports how many records it
// touched.
type StageFunc func(ctx context.Context) (int, error)

// Stage is one named step of a pipeline.
type Stage struct {
	Name             string      `json:"name"`
	Status           StageStatus `json:"status"`
	StartedAt        time.Time   `json:"started_at,omitempty"`
	EndedAt          time.Time   `json:"ended_at,omitempty"`
	RecordsProcessed int         `json:"records_processed"`
	ErrorCount       int         `json:"error_count"`

	run StageFunc
}

// Pipeline is an ordered stage sequence for one job.
type Pipeline struct {
	Name           string   `json:"name"`
	OrganizationID string   `json:"organization_id"`
	Stages         []*Stage `json:"stages"`
}

func newPipeline(name, orgID string) *Pipeline {
	return &Pipeline{Name: name, OrganizationID: orgID}
}

func (p *Pipeline) addStage(name string, run StageFunc) {
	p.Stages = append(p.Stages, &Stage{Name: name, Status: StagePending, run: run})
}

// Executor dispatches queue jobs to the analytics routines.
type Executor struct {
	responses  *survey.Repository
	aggregates *survey.AggregateRepository
	cache      *cache.Store
	logger     zerolog.Logger
}

// NewExecutor creates a pipeline executor.
func NewExecutor(responses *survey.Repository, aggregates *survey.AggregateRepository, cacheStore *cache.Store) *Executor {
	return &Executor{
		responses:  responses,
		aggregates: aggregates,
		cache:      cacheStore,
		logger:     log.With().Str("component", "pipeline").Logger(),
	}
}

// Execute runs the routine for the job's type. The returned error becomes the
// job's lastError and drives its retry path.
func (e *Executor) Execute(ctx context.Context, job *queue.Job) error {
	if job.OrganizationID == "" {
		return fmt.Errorf("%w: job %s has no organization", ErrValidation, job.ID)
	}

	switch job.Type {
	case queue.JobDailyAggregation:
		return e.runRollup(ctx, job.OrganizationID, survey.PeriodDaily)
	case queue.JobWeeklyAggregation:
		return e.runRollup(ctx, job.OrganizationID, survey.PeriodWeekly)
	case queue.JobMonthlyAggregation:
		return e.runRollup(ctx, job.OrganizationID, survey.PeriodMonthly)
	case queue.JobTrendAnalysis:
		return e.runTrendAnalysis(ctx, job.OrganizationID)
	case queue.JobAnomalyDetection:
		return e.runAnomalyDetection(ctx, job.OrganizationID)
	case queue.JobForecastGeneration:
		return e.runForecastGeneration(ctx, job.OrganizationID)
	default:
		return fmt.Errorf("%w: unknown job type %q", ErrValidation, job.Type)
	}
}

// run executes the pipeline's stages strictly in order. A stage failure marks
// the remaining stages skipped and propagates.
func (e *Executor) run(ctx context.Context, p *Pipeline) error {
	e.logger.Debug().
		Str("pipeline", p.Name).
		Str("organization", p.OrganizationID).
		Msg("Pipeline started")

	for i, stage := range p.Stages {
		if err := ctx.Err(); err != nil {
			stage.Status = StageSkipped
			return fmt.Errorf("pipeline %s aborted before stage %s: %w", p.Name, stage.Name, err)
		}

		stage.Status = StageRunning
		stage.StartedAt = time.Now()
		timer := utils.NewTimer(p.Name+"/"+stage.Name, e.logger)

		records, err := stage.run(ctx)
		timer.Stop()
		stage.EndedAt = time.Now()
		stage.RecordsProcessed = records

		if err != nil {
			stage.Status = StageFailed
			stage.ErrorCount++
			for _, rest := range p.Stages[i+1:] {
				rest.Status = StageSkipped
			}
			e.logger.Error().
				Str("pipeline", p.Name).
				Str("stage", stage.Name).
				Str("organization", p.OrganizationID).
				Err(err).
				Msg("Pipeline stage failed")
			return fmt.Errorf("pipeline %s stage %s: %w", p.Name, stage.Name, err)
		}

		stage.Status = StageCompleted
	}

	e.logger.Info().
		Str("pipeline", p.Name).
		Str("organization", p.OrganizationID).
		Int("stages", len(p.Stages)).
		Msg("Pipeline completed")
	return nil
}

// refreshOrgCache drops the organization's cached analytics after a successful
// pipeline and re-warms the summary key from the fresh aggregates so the next
// dashboard read is a hit.
func (e *Executor) refreshOrgCache(ctx context.Context, orgID string) {
	if e.cache == nil {
		return
	}
	removed := e.cache.InvalidateByTag(OrgTag(orgID))
	if removed > 0 {
		e.logger.Debug().
			Str("organization", orgID).
			Int("removed", removed).
			Msg("Invalidated cached analytics")
	}

	err := e.cache.WarmCache(ctx, []cache.WarmStrategy{SummaryWarmStrategy(orgID, e.aggregates)})
	if err != nil {
		e.logger.Warn().Err(err).Str("organization", orgID).Msg("Failed to re-warm summary cache")
	}
}

// SummaryKey is the cache key for an organization's latest-aggregates summary.
func SummaryKey(orgID string) string {
	return "org:" + orgID + ":summary"
}

// SummaryWarmStrategy pre-populates an organization's summary from the
// aggregates repository. Shared by the pipeline refresh and the cache warm
// endpoint.
func SummaryWarmStrategy(orgID string, aggregates *survey.AggregateRepository) cache.WarmStrategy {
	return cache.WarmStrategy{
		Key:  SummaryKey(orgID),
		Tags: []string{OrgTag(orgID), "summary"},
		Loader: func(ctx context.Context) (interface{}, error) {
			return aggregates.LatestAggregates(orgID)
		},
	}
}

// OrgTag is the cache tag under which all of an organization's analytics
// entries are grouped.
func OrgTag(orgID string) string {
	return "org:" + orgID
}
