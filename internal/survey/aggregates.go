package survey

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// AggregateRepository stores the pre-aggregated summary rows the pipelines
// produce and the API loaders read. Rows are JSON payloads keyed by
// (organization, period, window start), matching the clientdata blob pattern.
type AggregateRepository struct {
	db *sql.DB
}

// NewAggregateRepository creates a new aggregate repository.
func NewAggregateRepository(db *sql.DB) *AggregateRepository {
	return &AggregateRepository{db: db}
}

// UpsertAggregate inserts or replaces a period aggregate row.
func (r *AggregateRepository) UpsertAggregate(agg PeriodAggregate) error {
	payload, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("failed to marshal aggregate: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT OR REPLACE INTO aggregates
			(organization_id, period, window_start, window_end, payload, computed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		agg.OrganizationID, agg.Period, agg.WindowStart.Unix(), agg.WindowEnd.Unix(),
		string(payload), agg.ComputedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert %s aggregate for %s: %w", agg.Period, agg.OrganizationID, err)
	}
	return nil
}

// GetAggregate returns the aggregate for an exact window start, or nil if absent.
func (r *AggregateRepository) GetAggregate(orgID, period string, windowStart time.Time) (*PeriodAggregate, error) {
	var payload string
	err := r.db.QueryRow(`
		SELECT payload FROM aggregates
		WHERE organization_id = ? AND period = ? AND window_start = ?`,
		orgID, period, windowStart.Unix(),
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get aggregate: %w", err)
	}

	var agg PeriodAggregate
	if err := json.Unmarshal([]byte(payload), &agg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal aggregate payload: %w", err)
	}
	return &agg, nil
}

// LatestAggregates returns the most recent aggregate per period for an
// organization, keyed by period.
func (r *AggregateRepository) LatestAggregates(orgID string) (map[string]PeriodAggregate, error) {
	rows, err := r.db.Query(`
		SELECT period, payload, MAX(window_start)
		FROM aggregates
		WHERE organization_id = ?
		GROUP BY period`,
		orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest aggregates: %w", err)
	}
	defer rows.Close()

	result := make(map[string]PeriodAggregate)
	for rows.Next() {
		var period, payload string
		var windowStart int64
		if err := rows.Scan(&period, &payload, &windowStart); err != nil {
			return nil, fmt.Errorf("failed to scan latest aggregate: %w", err)
		}

		var agg PeriodAggregate
		if err := json.Unmarshal([]byte(payload), &agg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal aggregate payload: %w", err)
		}
		result[period] = agg
	}

	return result, rows.Err()
}

// DailySeries extracts one metric as an ordered series from the daily
// aggregates of the last lookbackDays, oldest first. Windows without an
// aggregate row are simply absent; callers treat the series as sampled.
func (r *AggregateRepository) DailySeries(orgID, metric string, lookbackDays int) ([]float64, error) {
	cutoff := time.Now().AddDate(0, 0, -lookbackDays).Unix()

	rows, err := r.db.Query(`
		SELECT payload FROM aggregates
		WHERE organization_id = ? AND period = ? AND window_start >= ?
		ORDER BY window_start`,
		orgID, PeriodDaily, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily series: %w", err)
	}
	defer rows.Close()

	var series []float64
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan daily aggregate: %w", err)
		}

		var agg PeriodAggregate
		if err := json.Unmarshal([]byte(payload), &agg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal aggregate payload: %w", err)
		}

		if value, ok := agg.MetricValue(metric); ok {
			series = append(series, value)
		}
	}

	return series, rows.Err()
}

// UpsertTrendReport stores a trend report for an organization and metric.
func (r *AggregateRepository) UpsertTrendReport(report TrendReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal trend report: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT OR REPLACE INTO trend_reports (organization_id, metric, payload, computed_at)
		VALUES (?, ?, ?, ?)`,
		report.OrganizationID, report.Metric, string(payload), report.ComputedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert trend report: %w", err)
	}
	return nil
}

// ListTrendReports returns all trend reports for an organization.
func (r *AggregateRepository) ListTrendReports(orgID string) ([]TrendReport, error) {
	rows, err := r.db.Query(
		`SELECT payload FROM trend_reports WHERE organization_id = ? ORDER BY metric`,
		orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query trend reports: %w", err)
	}
	defer rows.Close()

	var reports []TrendReport
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan trend report: %w", err)
		}

		var report TrendReport
		if err := json.Unmarshal([]byte(payload), &report); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trend report: %w", err)
		}
		reports = append(reports, report)
	}

	return reports, rows.Err()
}

// UpsertForecast stores a forecast for an organization and metric.
func (r *AggregateRepository) UpsertForecast(forecast Forecast) error {
	payload, err := json.Marshal(forecast)
	if err != nil {
		return fmt.Errorf("failed to marshal forecast: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT OR REPLACE INTO forecasts (organization_id, metric, payload, computed_at)
		VALUES (?, ?, ?, ?)`,
		forecast.OrganizationID, forecast.Metric, string(payload), forecast.ComputedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert forecast: %w", err)
	}
	return nil
}

// GetForecast returns the forecast for a metric, or nil if none exists.
func (r *AggregateRepository) GetForecast(orgID, metric string) (*Forecast, error) {
	var payload string
	err := r.db.QueryRow(
		`SELECT payload FROM forecasts WHERE organization_id = ? AND metric = ?`,
		orgID, metric,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get forecast: %w", err)
	}

	var forecast Forecast
	if err := json.Unmarshal([]byte(payload), &forecast); err != nil {
		return nil, fmt.Errorf("failed to unmarshal forecast payload: %w", err)
	}
	return &forecast, nil
}
