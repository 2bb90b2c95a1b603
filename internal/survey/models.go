// Package survey holds the survey analytics domain model and the repositories
// for response rows and pre-aggregated summary rows.
package survey

import "time"

// Rollup period identifiers, also used as cache tag components.
const (
	PeriodDaily   = "daily"
	PeriodWeekly  = "weekly"
	PeriodMonthly = "monthly"
)

// Metric names tracked by trend analysis and forecasting.
const (
	MetricResponseCount  = "response_count"
	MetricAvgScore       = "avg_score"
	MetricCompletionRate = "completion_rate"
	MetricAvgDuration    = "avg_duration_seconds"
	MetricForcePush      = "force_push"
	MetricForcePull      = "force_pull"
)

// TrackedMetrics lists the metrics the trend and forecast pipelines cover.
var TrackedMetrics = []string{
	MetricResponseCount,
	MetricAvgScore,
	MetricCompletionRate,
	MetricAvgDuration,
	MetricForcePush,
	MetricForcePull,
}

// Organization is a tenant whose survey responses are aggregated.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// ForceScores are the JTBD force dimensions scored per response and averaged
// per aggregate window.
type ForceScores struct {
	Push    float64 `json:"push"`
	Pull    float64 `json:"pull"`
	Habit   float64 `json:"habit"`
	Anxiety float64 `json:"anxiety"`
}

// Response is a single survey submission. Voice metrics are optional; they are
// only present for responses recorded with the voice channel.
type Response struct {
	ID              string    `json:"id"`
	OrganizationID  string    `json:"organization_id"`
	SurveyID        string    `json:"survey_id"`
	SubmittedAt     time.Time `json:"submitted_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	Completed       bool      `json:"completed"`
	Score           float64   `json:"score"`
	Forces          ForceScores
	VoiceClarity    *float64 `json:"voice_clarity,omitempty"`
	VoiceSentiment  *float64 `json:"voice_sentiment,omitempty"`
}

// VoiceQuality summarizes voice metrics over a window. SampleCount is the
// number of responses that actually carried voice data.
type VoiceQuality struct {
	AvgClarity   float64 `json:"avg_clarity"`
	AvgSentiment float64 `json:"avg_sentiment"`
	SampleCount  int     `json:"sample_count"`
}

// PeriodAggregate is one pre-aggregated summary row for an organization and
// time window.
type PeriodAggregate struct {
	OrganizationID     string       `json:"organization_id"`
	Period             string       `json:"period"`
	WindowStart        time.Time    `json:"window_start"`
	WindowEnd          time.Time    `json:"window_end"`
	ResponseCount      int          `json:"response_count"`
	CompletionRate     float64      `json:"completion_rate"`
	AvgDurationSeconds float64      `json:"avg_duration_seconds"`
	AvgScore           float64      `json:"avg_score"`
	Forces             ForceScores  `json:"forces"`
	Voice              VoiceQuality `json:"voice"`
	ComputedAt         time.Time    `json:"computed_at"`
}

// MetricValue extracts a tracked metric from the aggregate by name.
func (a *PeriodAggregate) MetricValue(metric string) (float64, bool) {
	switch metric {
	case MetricResponseCount:
		return float64(a.ResponseCount), true
	case MetricAvgScore:
		return a.AvgScore, true
	case MetricCompletionRate:
		return a.CompletionRate, true
	case MetricAvgDuration:
		return a.AvgDurationSeconds, true
	case MetricForcePush:
		return a.Forces.Push, true
	case MetricForcePull:
		return a.Forces.Pull, true
	default:
		return 0, false
	}
}

// Trend direction classifications.
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
	TrendVolatile   = "volatile"
)

// TrendReport describes the behavior of one metric over the lookback window.
type TrendReport struct {
	OrganizationID string    `json:"organization_id"`
	Metric         string    `json:"metric"`
	Trend          string    `json:"trend"`
	Strength       float64   `json:"strength"`   // [0,1]
	Confidence     float64   `json:"confidence"` // [0,1]
	ChangeRate     float64   `json:"change_rate"`
	AnomalyCount   int       `json:"anomaly_count"`
	Seasonality    bool      `json:"seasonality"`
	ComputedAt     time.Time `json:"computed_at"`
}

// Forecast model identifiers, declared on the result so consumers can reason
// about accuracy.
const (
	ModelLinear      = "linear"
	ModelExponential = "exponential"
	ModelSeasonal    = "seasonal"
)

// ForecastPoint is one future period estimate with a 95% confidence interval.
type ForecastPoint struct {
	Period int     `json:"period"`
	Value  float64 `json:"value"`
	Lower  float64 `json:"lower"`
	Upper  float64 `json:"upper"`
}

// Forecast is a trend-projection for a metric. Accuracy is a self-reported
// historical backtest score, not a guarantee.
type Forecast struct {
	OrganizationID string          `json:"organization_id"`
	Metric         string          `json:"metric"`
	Model          string          `json:"model"`
	Accuracy       float64         `json:"accuracy"`
	Points         []ForecastPoint `json:"points"`
	ComputedAt     time.Time       `json:"computed_at"`
}
