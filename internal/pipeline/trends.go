package pipeline

import (
	"context"
	"math"
	"time"

	"github.com/pulseboard/pulseboard/internal/survey"
	"github.com/pulseboard/pulseboard/pkg/formulas"
)

const (
	// trendLookbackDays bounds the daily series feeding trend analysis.
	trendLookbackDays = 90
	// minTrendSamples is the fewest daily points worth classifying.
	minTrendSamples = 7
	// smoothingPeriod is the EMA window applied before fitting.
	smoothingPeriod = 7
	// seasonalLag is the weekly autocorrelation lag.
	seasonalLag = 7
	// seasonalMinCorr marks a series seasonal above this autocorrelation.
	seasonalMinCorr = 0.3
	// stableChangeRate is the per-day fractional change below which a series
	// counts as stable.
	stableChangeRate = 0.005
	// volatileCov classifies a series volatile above this coefficient of
	// variation when no clean slope explains the spread.
	volatileCov = 0.5
	// volatileMaxR2: above this fit quality the spread is the trend itself,
	// not volatility.
	volatileMaxR2 = 0.5
)

// runTrendAnalysis classifies each tracked metric's daily series for one
// organization and persists a report per metric.
func (e *Executor) runTrendAnalysis(ctx context.Context, orgID string) error {
	series := make(map[string][]float64)
	var reports []survey.TrendReport

	p := newPipeline("trend_analysis", orgID)

	p.addStage("fetch-series", func(ctx context.Context) (int, error) {
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

	p.addStage("analyze", func(ctx context.Context) (int, error) {
		now := time.Now()
		for _, metric := range survey.TrackedMetrics {
			report := AnalyzeTrend(metric, series[metric])
			report.OrganizationID = orgID
			report.ComputedAt = now
			reports = append(reports, report)
		}
		return len(reports), nil
	})

	p.addStage("persist", func(ctx context.Context) (int, error) {
		for _, report := range reports {
			if err := e.aggregates.UpsertTrendReport(report); err != nil {
				return 0, err
			}
		}
		return len(reports), nil
	})

	if err := e.run(ctx, p); err != nil {
		return err
	}

	e.refreshOrgCache(ctx, orgID)
	return nil
}

// AnalyzeTrend classifies one metric series. Short series come back stable
// with zero confidence rather than guessing.
func AnalyzeTrend(metric string, series []float64) survey.TrendReport {
	report := survey.TrendReport{
		Metric: metric,
		Trend:  survey.TrendStable,
	}
	if len(series) < minTrendSamples {
		return report
	}

	smoothed := formulas.SmoothEMA(series, smoothingPeriod)
	fit := formulas.FitLinear(smoothed)
	mean := formulas.Mean(smoothed)

	changeRate := 0.0
	if mean != 0 {
		changeRate = fit.Slope / math.Abs(mean)
	}
	report.ChangeRate = changeRate
	report.AnomalyCount = len(DetectAnomalies(series))
	report.Seasonality = weeklySeasonality(series) > seasonalMinCorr

	cov := formulas.CoefficientOfVariation(series)

	switch {
	case cov > volatileCov && fit.R2 < volatileMaxR2:
		report.Trend = survey.TrendVolatile
		report.Strength = clamp01(cov)
		report.Confidence = clamp01(1 - fit.R2)
	case math.Abs(changeRate) < stableChangeRate:
		report.Trend = survey.TrendStable
		report.Strength = clamp01(math.Abs(changeRate) / stableChangeRate)
		report.Confidence = clamp01(1 - math.Abs(changeRate)/stableChangeRate)
	case fit.Slope > 0:
		report.Trend = survey.TrendIncreasing
		report.Strength = clamp01(math.Abs(changeRate) * 20)
		report.Confidence = clamp01(fit.R2)
	default:
		report.Trend = survey.TrendDecreasing
		report.Strength = clamp01(math.Abs(changeRate) * 20)
		report.Confidence = clamp01(fit.R2)
	}

	return report
}

// weeklySeasonality measures the lag-7 autocorrelation of the detrended
// series; without detrending any plain trend would read as seasonal.
func weeklySeasonality(series []float64) float64 {
	if len(series) <= seasonalLag+1 {
		return 0
	}

	fit := formulas.FitLinear(series)
	residuals := make([]float64, len(series))
	for i, value := range series {
		residuals[i] = value - (fit.Intercept + fit.Slope*float64(i))
	}
	return formulas.Autocorrelation(residuals, seasonalLag)
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
