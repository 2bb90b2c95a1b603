package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pulseboard/pulseboard/internal/survey"
)

func rampSeries(n int, start, step float64) []float64 {
	series := make([]float64, n)
	for i := range series {
		series[i] = start + step*float64(i)
	}
	return series
}

func TestAnalyzeTrend(t *testing.T) {
	t.Run("short series is stable with zero confidence", func(t *testing.T) {
		report := AnalyzeTrend(survey.MetricAvgScore, []float64{1, 2, 3})
		assert.Equal(t, survey.TrendStable, report.Trend)
		assert.Zero(t, report.Confidence)
	})

	t.Run("increasing", func(t *testing.T) {
		report := AnalyzeTrend(survey.MetricAvgScore, rampSeries(30, 2, 0.2))
		assert.Equal(t, survey.TrendIncreasing, report.Trend)
		assert.Greater(t, report.Strength, 0.3)
		assert.Greater(t, report.Confidence, 0.5)
		assert.Greater(t, report.ChangeRate, 0.0)
	})

	t.Run("decreasing", func(t *testing.T) {
		report := AnalyzeTrend(survey.MetricAvgScore, rampSeries(30, 10, -0.2))
		assert.Equal(t, survey.TrendDecreasing, report.Trend)
		assert.Less(t, report.ChangeRate, 0.0)
	})

	t.Run("flat series is stable", func(t *testing.T) {
		report := AnalyzeTrend(survey.MetricResponseCount, rampSeries(30, 10, 0))
		assert.Equal(t, survey.TrendStable, report.Trend)
		assert.Zero(t, report.ChangeRate)
	})

	t.Run("noisy trendless series is volatile", func(t *testing.T) {
		series := []float64{10, 1, 13, 2, 11, 3, 14, 1, 12, 2, 15, 1, 13, 3, 11, 2, 14, 1, 12, 3}
		report := AnalyzeTrend(survey.MetricAvgDuration, series)
		assert.Equal(t, survey.TrendVolatile, report.Trend)
	})

	t.Run("weekly pattern sets seasonality", func(t *testing.T) {
		pattern := []float64{0, 1, 3, 6, 3, 1, 0}
		series := make([]float64, 0, 35)
		for week := 0; week < 5; week++ {
			for _, offset := range pattern {
				series = append(series, 10+offset)
			}
		}
		report := AnalyzeTrend(survey.MetricResponseCount, series)
		assert.True(t, report.Seasonality)
	})

	t.Run("plain trend is not seasonal", func(t *testing.T) {
		report := AnalyzeTrend(survey.MetricAvgScore, rampSeries(35, 1, 0.5))
		assert.False(t, report.Seasonality)
	})
}

func TestDetectAnomalies(t *testing.T) {
	t.Run("spike is flagged", func(t *testing.T) {
		series := rampSeries(30, 10, 0)
		series[12] = 100

		anomalies := DetectAnomalies(series)
		assert.Equal(t, []int{12}, anomalies)
	})

	t.Run("constant series has none", func(t *testing.T) {
		assert.Empty(t, DetectAnomalies(rampSeries(30, 10, 0)))
	})

	t.Run("short series has none", func(t *testing.T) {
		assert.Empty(t, DetectAnomalies([]float64{1, 100}))
	})
}
