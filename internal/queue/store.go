package queue

import (
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"
)

// JobStore persists jobs. The sqlite implementation backs production; the
// in-memory one backs tests.
type JobStore interface {
	Save(job *Job) error
	Update(job *Job) error
	Get(id string) (*Job, error)
	ListByStatus(status Status) ([]Job, error)
	// DueJobs returns pending jobs with scheduledAt <= now, highest priority
	// first, ties broken by earliest scheduledAt.
	DueJobs(now time.Time) ([]Job, error)
	// ResetRunning moves interrupted running jobs back to pending. Called once
	// at startup for crash recovery.
	ResetRunning() (int64, error)
	CountByStatus() (map[Status]int, error)
}

// SQLiteJobStore stores jobs in the background_jobs table of jobs.db.
type SQLiteJobStore struct {
	db *sql.DB
}

// NewSQLiteJobStore creates a sqlite-backed job store.
func NewSQLiteJobStore(db *sql.DB) *SQLiteJobStore {
	return &SQLiteJobStore{db: db}
}

// Save inserts a new job row.
func (s *SQLiteJobStore) Save(job *Job) error {
	_, err := s.db.Exec(`
		INSERT INTO background_jobs
			(id, job_type, organization_id, status, priority, scheduled_at,
			 started_at, completed_at, retry_count, max_retries, last_error,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Type, job.OrganizationID, job.Status, int(job.Priority),
		job.ScheduledAt.Unix(), unixOrNil(job.StartedAt), unixOrNil(job.CompletedAt),
		job.RetryCount, job.MaxRetries, job.LastError,
		job.CreatedAt.Unix(), job.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

// Update rewrites the mutable columns of an existing job.
func (s *SQLiteJobStore) Update(job *Job) error {
	job.UpdatedAt = time.Now()
	result, err := s.db.Exec(`
		UPDATE background_jobs
		SET status = ?, priority = ?, scheduled_at = ?, started_at = ?,
		    completed_at = ?, retry_count = ?, last_error = ?, updated_at = ?
		WHERE id = ?`,
		job.Status, int(job.Priority), job.ScheduledAt.Unix(),
		unixOrNil(job.StartedAt), unixOrNil(job.CompletedAt),
		job.RetryCount, job.LastError, job.UpdatedAt.Unix(), job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("job %s not found", job.ID)
	}
	return nil
}

// Get returns a job by id, or nil if absent.
func (s *SQLiteJobStore) Get(id string) (*Job, error) {
	row := s.db.QueryRow(selectJobColumns+` WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return job, nil
}

// ListByStatus returns jobs in a status, most recently updated first.
func (s *SQLiteJobStore) ListByStatus(status Status) ([]Job, error) {
	rows, err := s.db.Query(selectJobColumns+` WHERE status = ? ORDER BY updated_at DESC`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s jobs: %w", status, err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// DueJobs returns dispatchable pending jobs in dispatch order.
func (s *SQLiteJobStore) DueJobs(now time.Time) ([]Job, error) {
	rows, err := s.db.Query(selectJobColumns+`
		WHERE status = ? AND scheduled_at <= ?
		ORDER BY priority DESC, scheduled_at ASC`,
		StatusPending, now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query due jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ResetRunning requeues jobs that were mid-flight when the process died.
func (s *SQLiteJobStore) ResetRunning() (int64, error) {
	result, err := s.db.Exec(`
		UPDATE background_jobs
		SET status = ?, started_at = NULL, updated_at = ?
		WHERE status = ?`,
		StatusPending, time.Now().Unix(), StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reset interrupted jobs: %w", err)
	}
	return result.RowsAffected()
}

// CountByStatus returns job counts grouped by status.
func (s *SQLiteJobStore) CountByStatus() (map[Status]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM background_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

const selectJobColumns = `
	SELECT id, job_type, organization_id, status, priority, scheduled_at,
	       started_at, completed_at, retry_count, max_retries, last_error,
	       created_at, updated_at
	FROM background_jobs`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var priority int
	var scheduledAt, createdAt, updatedAt int64
	var startedAt, completedAt sql.NullInt64
	var lastError sql.NullString

	if err := row.Scan(
		&job.ID, &job.Type, &job.OrganizationID, &job.Status, &priority,
		&scheduledAt, &startedAt, &completedAt, &job.RetryCount, &job.MaxRetries,
		&lastError, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	job.Priority = Priority(priority)
	job.ScheduledAt = time.Unix(scheduledAt, 0)
	job.CreatedAt = time.Unix(createdAt, 0)
	job.UpdatedAt = time.Unix(updatedAt, 0)
	if startedAt.Valid {
		t := time.Unix(startedAt.Int64, 0)
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0)
		job.CompletedAt = &t
	}
	job.LastError = lastError.String

	return &job, nil
}

func collectJobs(rows *sql.Rows) ([]Job, error) {
	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func unixOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

// MemoryJobStore is an in-memory JobStore for tests.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

// NewMemoryJobStore creates an empty in-memory job store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*Job)}
}

// Save stores a copy of the job.
func (s *MemoryJobStore) Save(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

// Update replaces a stored job.
func (s *MemoryJobStore) Update(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; !ok {
		return fmt.Errorf("job %s not found", job.ID)
	}
	job.UpdatedAt = time.Now()
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

// Get returns a copy of the job, or nil if absent.
func (s *MemoryJobStore) Get(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	copied := *job
	return &copied, nil
}

// ListByStatus returns jobs in a status.
func (s *MemoryJobStore) ListByStatus(status Status) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []Job
	for _, job := range s.jobs {
		if job.Status == status {
			jobs = append(jobs, *job)
		}
	}
	return jobs, nil
}

// DueJobs returns dispatchable pending jobs in dispatch order.
func (s *MemoryJobStore) DueJobs(now time.Time) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []Job
	for _, job := range s.jobs {
		if job.Status == StatusPending && !job.ScheduledAt.After(now) {
			jobs = append(jobs, *job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].Priority != jobs[j].Priority {
			return jobs[i].Priority > jobs[j].Priority
		}
		return jobs[i].ScheduledAt.Before(jobs[j].ScheduledAt)
	})
	return jobs, nil
}

// ResetRunning requeues running jobs.
func (s *MemoryJobStore) ResetRunning() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reset int64
	for _, job := range s.jobs {
		if job.Status == StatusRunning {
			job.Status = StatusPending
			job.StartedAt = nil
			job.UpdatedAt = time.Now()
			reset++
		}
	}
	return reset, nil
}

// CountByStatus returns job counts grouped by status.
func (s *MemoryJobStore) CountByStatus() (map[Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[Status]int)
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts, nil
}
