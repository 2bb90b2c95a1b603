package queue

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Executor runs one job to completion. Implemented by the pipeline executor.
type Executor interface {
	Execute(ctx context.Context, job *Job) error
}

// OrgLister returns the organization ids that recurring jobs fan out over.
type OrgLister func() ([]string, error)

// SchedulerConfig tunes the dispatch loop.
type SchedulerConfig struct {
	PollInterval time.Duration
	JobTimeout   time.Duration
}

// Scheduler polls the queue on a fixed interval and dispatches at most one
// job at a time. Recurring analytics jobs are enqueued by cron entries, one
// job per organization.
type Scheduler struct {
	cfg      SchedulerConfig
	manager  *Manager
	executor Executor
	listOrgs OrgLister
	cron     *cron.Cron

	processing bool
	mu         sync.Mutex
	stop       chan struct{}
	wg         sync.WaitGroup
	started    bool

	logger zerolog.Logger
}

// NewScheduler creates a scheduler.
func NewScheduler(cfg SchedulerConfig, manager *Manager, executor Executor, listOrgs OrgLister) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	return &Scheduler{
		cfg:      cfg,
		manager:  manager,
		executor: executor,
		listOrgs: listOrgs,
		cron:     cron.New(),
		stop:     make(chan struct{}),
		logger:   log.With().Str("component", "scheduler").Logger(),
	}
}

// Start requeues interrupted jobs, registers the recurring entries, and
// launches the polling loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	if err := s.manager.RecoverInterrupted(); err != nil {
		return err
	}

	if err := s.registerRecurring(); err != nil {
		return err
	}
	s.cron.Start()

	s.wg.Add(1)
	go s.pollLoop()

	s.logger.Info().
		Dur("poll_interval", s.cfg.PollInterval).
		Dur("job_timeout", s.cfg.JobTimeout).
		Msg("Scheduler started")
	return nil
}

// Stop halts dispatch and waits for the in-flight job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	s.cron.Stop()
	close(s.stop)
	s.wg.Wait()
	s.logger.Info().Msg("Scheduler stopped")
}

// registerRecurring installs the cron entries that keep each organization's
// analytics fresh without manual scheduling.
func (s *Scheduler) registerRecurring() error {
	entries := []struct {
		spec     string
		jobType  JobType
		priority Priority
	}{
		{"10 0 * * *", JobDailyAggregation, PriorityMedium},
		{"30 0 * * 0", JobWeeklyAggregation, PriorityMedium},
		{"0 1 1 * *", JobMonthlyAggregation, PriorityMedium},
		{"0 2 * * *", JobTrendAnalysis, PriorityLow},
		{"0 */6 * * *", JobAnomalyDetection, PriorityHigh},
		{"0 3 * * *", JobForecastGeneration, PriorityLow},
	}

	for _, entry := range entries {
		jobType, priority := entry.jobType, entry.priority
		if _, err := s.cron.AddFunc(entry.spec, func() {
			s.enqueueForAllOrgs(jobType, priority)
		}); err != nil {
			return err
		}
	}
	return nil
}

// enqueueForAllOrgs schedules one job per organization, due immediately.
func (s *Scheduler) enqueueForAllOrgs(jobType JobType, priority Priority) {
	orgs, err := s.listOrgs()
	if err != nil {
		s.logger.Error().Err(err).Str("type", string(jobType)).Msg("Failed to list organizations for recurring job")
		return
	}

	now := time.Now()
	for _, orgID := range orgs {
		if _, err := s.manager.Schedule(jobType, orgID, priority, now); err != nil {
			s.logger.Error().Err(err).
				Str("type", string(jobType)).
				Str("organization", orgID).
				Msg("Failed to enqueue recurring job")
		}
	}

	s.logger.Info().
		Str("type", string(jobType)).
		Int("organizations", len(orgs)).
		Msg("Recurring jobs enqueued")
}

func (s *Scheduler) pollLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.dispatchNext()
		case <-s.stop:
			return
		}
	}
}

// dispatchNext picks the highest-priority due job, unless one is already in
// flight. Errors never escape the loop.
func (s *Scheduler) dispatchNext() {
	s.mu.Lock()
	if s.processing {
		s.mu.Unlock()
		return
	}

	job, err := s.manager.NextDue()
	if err != nil {
		s.mu.Unlock()
		s.logger.Error().Err(err).Msg("Failed to query due jobs")
		return
	}
	if job == nil {
		s.mu.Unlock()
		return
	}

	s.processing = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.processing = false
			s.mu.Unlock()
		}()
		s.runJob(job)
	}()
}

// runJob executes one job under the wall-clock timeout. A timeout follows the
// normal retry path like any other failure.
func (s *Scheduler) runJob(job *Job) {
	if err := s.manager.MarkRunning(job); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to mark job running")
		return
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("type", string(job.Type)).
		Str("organization", job.OrganizationID).
		Msg("Job started")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	start := time.Now()
	err := s.executor.Execute(ctx, job)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	if err != nil {
		if failErr := s.manager.Fail(job, err); failErr != nil {
			s.logger.Error().Err(failErr).Str("job_id", job.ID).Msg("Failed to record job failure")
		}
		return
	}

	if err := s.manager.Complete(job); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to mark job completed")
		return
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("type", string(job.Type)).
		Dur("duration", time.Since(start)).
		Msg("Job completed")
}
