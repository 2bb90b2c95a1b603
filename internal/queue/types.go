// Package queue implements the durable background job queue: typed analytics
// jobs with priorities, retry with exponential backoff, and a polling
// scheduler that dispatches one job at a time to the pipeline executor.
package queue

import (
	"fmt"
	"time"
)

// JobType identifies which analytics pipeline a job runs.
type JobType string

const (
	JobDailyAggregation   JobType = "daily_aggregation"
	JobWeeklyAggregation  JobType = "weekly_aggregation"
	JobMonthlyAggregation JobType = "monthly_aggregation"
	JobTrendAnalysis      JobType = "trend_analysis"
	JobAnomalyDetection   JobType = "anomaly_detection"
	JobForecastGeneration JobType = "forecast_generation"
)

// AllJobTypes lists every schedulable job type.
var AllJobTypes = []JobType{
	JobDailyAggregation,
	JobWeeklyAggregation,
	JobMonthlyAggregation,
	JobTrendAnalysis,
	JobAnomalyDetection,
	JobForecastGeneration,
}

// Valid reports whether the job type is one of the known pipelines.
func (t JobType) Valid() bool {
	for _, known := range AllJobTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Priority orders pending jobs; higher values dispatch first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// ParsePriority maps a priority name to its value. An empty name means
// medium.
func ParsePriority(name string) (Priority, error) {
	switch name {
	case "low":
		return PriorityLow, nil
	case "medium", "":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return PriorityLow, fmt.Errorf("unknown priority %q", name)
	}
}

// String returns a human-readable priority name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Job is one unit of background analytics work. Completed and failed jobs are
// kept as audit records.
type Job struct {
	ID             string     `json:"id"`
	Type           JobType    `json:"type"`
	OrganizationID string     `json:"organization_id"`
	Status         Status     `json:"status"`
	Priority       Priority   `json:"priority"`
	ScheduledAt    time.Time  `json:"scheduled_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	RetryCount     int        `json:"retry_count"`
	MaxRetries     int        `json:"max_retries"`
	LastError      string     `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Stats summarizes queue state for the API and for operator logs.
type Stats struct {
	Pending   int   `json:"pending"`
	Running   int   `json:"running"`
	Completed int   `json:"completed"`
	Failed    int   `json:"failed"`
	Executed  int64 `json:"executed"`
	Errors    int64 `json:"errors"`
}
