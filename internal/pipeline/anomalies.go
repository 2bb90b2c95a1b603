package pipeline

import (
	"context"
	"math"
	"time"

	"github.com/pulseboard/pulseboard/internal/survey"
	"github.com/pulseboard/pulseboard/pkg/formulas"
)

// anomalyThreshold is the absolute z-score above which a daily point counts
// as anomalous.
const anomalyThreshold = 2.5

// DetectAnomalies returns the indices of anomalous points in a daily series.
func DetectAnomalies(series []float64) []int {
	if len(series) < minTrendSamples {
		return nil
	}

	var anomalies []int
	for i, z := range formulas.ZScores(series) {
		if math.Abs(z) > anomalyThreshold {
			anomalies = append(anomalies, i)
		}
	}
	return anomalies
}

// runAnomalyDetection refreshes the per-metric anomaly counts for one
// organization. Metrics without an existing trend report get a full analysis
// so the count has somewhere to live.
func (e *Executor) runAnomalyDetection(ctx context.Context, orgID string) error {
	series := make(map[string][]float64)
	existing := make(map[string]survey.TrendReport)
	var updated []survey.TrendReport

	p := newPipeline("anomaly_detection", orgID)

	p.addStage("fetch-series", func(ctx context.Context) (int, error) {
		reports, err := e.aggregates.ListTrendReports(orgID)
		if err != nil {
			return 0, err
		}
		for _, report := range reports {
			existing[report.Metric] = report
		}

		points := 0
		for _, metric := range survey.TrackedMetrics {
			values, err := e.aggregates.DailySeries(orgID, metric, trendLookbackDays)
			if err != nil {
				return points, err
			}
			series[metric] = values
			points += len(values)
		}
		return points, nil
	})

	p.addStage("detect", func(ctx context.Context) (int, error) {
		now := time.Now()
		total := 0
		for _, metric := range survey.TrackedMetrics {
			anomalies := DetectAnomalies(series[metric])
			total += len(anomalies)

			report, ok := existing[metric]
			if !ok {
				report = AnalyzeTrend(metric, series[metric])
			}
			report.OrganizationID = orgID
			report.Metric = metric
			report.AnomalyCount = len(anomalies)
			report.ComputedAt = now
			updated = append(updated, report)
		}
		return total, nil
	})

	p.addStage("persist", func(ctx context.Context) (int, error) {
		for _, report := range updated {
			if err := e.aggregates.UpsertTrendReport(report); err != nil {
				return 0, err
			}
		}
		return len(updated), nil
	})

	if err := e.run(ctx, p); err != nil {
		return err
	}

	e.refreshOrgCache(ctx, orgID)
	return nil
}
