package queue

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pulseboard/pulseboard/internal/events"
)

// maxBackoff caps the retry delay so a repeatedly failing job keeps getting
// rescheduled at a bounded cadence.
const maxBackoff = 30 * time.Minute

// Manager owns job lifecycle transitions. Every transition is persisted
// through the JobStore before it is visible to callers.
type Manager struct {
	store      JobStore
	bus        *events.Bus
	maxRetries int

	executed atomic.Int64
	errors   atomic.Int64

	logger zerolog.Logger
}

// NewManager creates a job manager. maxRetries applies to newly scheduled
// jobs; a non-positive value falls back to 3.
func NewManager(store JobStore, bus *events.Bus, maxRetries int) *Manager {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Manager{
		store:      store,
		bus:        bus,
		maxRetries: maxRetries,
		logger:     log.With().Str("component", "queue").Logger(),
	}
}

// Schedule persists a new pending job and returns its id. The job is durable
// by the time this returns.
func (m *Manager) Schedule(jobType JobType, orgID string, priority Priority, scheduledAt time.Time) (string, error) {
	if !jobType.Valid() {
		return "", fmt.Errorf("unknown job type %q", jobType)
	}
	if orgID == "" {
		return "", fmt.Errorf("organization id is required")
	}

	now := time.Now()
	job := &Job{
		ID:             uuid.New().String(),
		Type:           jobType,
		OrganizationID: orgID,
		Status:         StatusPending,
		Priority:       priority,
		ScheduledAt:    scheduledAt,
		MaxRetries:     m.maxRetries,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := m.store.Save(job); err != nil {
		return "", fmt.Errorf("failed to schedule %s job: %w", jobType, err)
	}

	m.logger.Debug().
		Str("job_id", job.ID).
		Str("type", string(jobType)).
		Str("organization", orgID).
		Str("priority", priority.String()).
		Time("scheduled_at", scheduledAt).
		Msg("Job scheduled")

	m.emit(events.JobScheduled, job)
	return job.ID, nil
}

// NextDue returns the highest-priority due job, or nil when the queue is idle.
func (m *Manager) NextDue() (*Job, error) {
	due, err := m.store.DueJobs(time.Now())
	if err != nil {
		return nil, err
	}
	if len(due) == 0 {
		return nil, nil
	}
	return &due[0], nil
}

// MarkRunning transitions a pending job to running.
func (m *Manager) MarkRunning(job *Job) error {
	now := time.Now()
	job.Status = StatusRunning
	job.StartedAt = &now

	if err := m.store.Update(job); err != nil {
		return fmt.Errorf("failed to mark job %s running: %w", job.ID, err)
	}
	m.emit(events.JobStarted, job)
	return nil
}

// Complete transitions a running job to completed.
func (m *Manager) Complete(job *Job) error {
	now := time.Now()
	job.Status = StatusCompleted
	job.CompletedAt = &now
	job.LastError = ""

	if err := m.store.Update(job); err != nil {
		return fmt.Errorf("failed to mark job %s completed: %w", job.ID, err)
	}

	m.executed.Add(1)
	m.emit(events.JobCompleted, job)
	return nil
}

// Fail records a job failure: requeued with backoff while retries remain,
// terminally failed once they are exhausted.
func (m *Manager) Fail(job *Job, jobErr error) error {
	job.LastError = jobErr.Error()

	if job.RetryCount < job.MaxRetries {
		job.RetryCount++
		job.Status = StatusPending
		job.StartedAt = nil
		delay := Backoff(job.RetryCount)
		job.ScheduledAt = time.Now().Add(delay)

		if err := m.store.Update(job); err != nil {
			return fmt.Errorf("failed to requeue job %s: %w", job.ID, err)
		}

		m.logger.Warn().
			Str("job_id", job.ID).
			Str("type", string(job.Type)).
			Int("retry", job.RetryCount).
			Dur("backoff", delay).
			Err(jobErr).
			Msg("Job failed, retrying")

		m.emit(events.JobRetrying, job)
		return nil
	}

	now := time.Now()
	job.Status = StatusFailed
	job.CompletedAt = &now

	if err := m.store.Update(job); err != nil {
		return fmt.Errorf("failed to mark job %s failed: %w", job.ID, err)
	}

	m.errors.Add(1)
	m.logger.Error().
		Str("job_id", job.ID).
		Str("type", string(job.Type)).
		Int("retries", job.RetryCount).
		Err(jobErr).
		Msg("Job failed permanently")

	m.emit(events.JobFailed, job)
	return nil
}

// RecoverInterrupted requeues jobs left running by a previous process.
func (m *Manager) RecoverInterrupted() error {
	reset, err := m.store.ResetRunning()
	if err != nil {
		return err
	}
	if reset > 0 {
		m.logger.Info().Int64("jobs", reset).Msg("Requeued interrupted jobs")
	}
	return nil
}

// Get returns a job by id, or nil if absent.
func (m *Manager) Get(id string) (*Job, error) {
	return m.store.Get(id)
}

// ListByStatus returns jobs in a status.
func (m *Manager) ListByStatus(status Status) ([]Job, error) {
	return m.store.ListByStatus(status)
}

// Stats returns queue counters by status plus lifetime executed/error totals.
func (m *Manager) Stats() (Stats, error) {
	counts, err := m.store.CountByStatus()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Pending:   counts[StatusPending],
		Running:   counts[StatusRunning],
		Completed: counts[StatusCompleted],
		Failed:    counts[StatusFailed],
		Executed:  m.executed.Load(),
		Errors:    m.errors.Load(),
	}, nil
}

// Backoff returns the retry delay for the given retry attempt:
// 2^retryCount minutes, capped at maxBackoff.
func Backoff(retryCount int) time.Duration {
	delay := time.Duration(1<<uint(retryCount)) * time.Minute
	if delay > maxBackoff || delay <= 0 {
		return maxBackoff
	}
	return delay
}

func (m *Manager) emit(eventType events.EventType, job *Job) {
	if m.bus == nil {
		return
	}
	m.bus.Emit(eventType, "queue", map[string]interface{}{
		"job_id":       job.ID,
		"type":         string(job.Type),
		"organization": job.OrganizationID,
		"status":       string(job.Status),
		"retry_count":  job.RetryCount,
	})
}
