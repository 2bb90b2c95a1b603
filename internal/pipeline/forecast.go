package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/pulseboard/pulseboard/internal/survey"
	"github.com/pulseboard/pulseboard/pkg/formulas"
)

const (
	// forecastMinSamples is the shortest daily series worth projecting.
	forecastMinSamples = 14
	// defaultForecastPeriods is the horizon when the caller does not choose one.
	defaultForecastPeriods = 7
	// ciZ is the z value for a 95% confidence interval.
	ciZ = 1.96
	// exponentialMargin is how much better the log-space fit must be before
	// the exponential model wins over linear.
	exponentialMargin = 0.05
)

// runForecastGeneration projects each tracked metric forward and persists the
// forecasts. Metrics with too little history are skipped, not failed.
func (e *Executor) runForecastGeneration(ctx context.Context, orgID string) error {
	series := make(map[string][]float64)
	var forecasts []survey.Forecast

	p := newPipeline("forecast_generation", orgID)

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

	p.addStage("model", func(ctx context.Context) (int, error) {
		now := time.Now()
		for _, metric := range survey.TrackedMetrics {
			forecast, err := BuildForecast(metric, series[metric], defaultForecastPeriods)
			if err != nil {
				e.logger.Debug().
					Str("organization", orgID).
					Str("metric", metric).
					Err(err).
					Msg("Skipping forecast")
				continue
			}
			forecast.OrganizationID = orgID
			forecast.ComputedAt = now
			forecasts = append(forecasts, forecast)
		}
		return len(forecasts), nil
	})

	p.addStage("persist", func(ctx context.Context) (int, error) {
		for _, forecast := range forecasts {
			if err := e.aggregates.UpsertForecast(forecast); err != nil {
				return 0, err
			}
		}
		return len(forecasts), nil
	})

	if err := e.run(ctx, p); err != nil {
		return err
	}

	e.refreshOrgCache(ctx, orgID)
	return nil
}

// BuildForecast projects a daily series `periods` steps forward. The chosen
// model is declared on the result, and Accuracy is a holdout backtest score.
func BuildForecast(metric string, series []float64, periods int) (survey.Forecast, error) {
	if periods <= 0 {
		periods = defaultForecastPeriods
	}
	if len(series) < forecastMinSamples {
		return survey.Forecast{}, fmt.Errorf("%w: %d samples for %s, need %d",
			ErrValidation, len(series), metric, forecastMinSamples)
	}

	model := chooseModel(series)
	fitted := fitModel(model, series)

	points := make([]survey.ForecastPoint, 0, periods)
	for h := 1; h <= periods; h++ {
		value := fitted.predict(len(series) - 1 + h)
		margin := ciZ * fitted.sigma
		points = append(points, survey.ForecastPoint{
			Period: h,
			Value:  value,
			Lower:  value - margin,
			Upper:  value + margin,
		})
	}

	return survey.Forecast{
		Metric:   metric,
		Model:    model,
		Accuracy: backtest(model, series),
		Points:   points,
	}, nil
}

// chooseModel picks the projection model from the series shape: exponential
// when the log-space fit is clearly better, seasonal when the detrended
// weekly autocorrelation is strong, linear otherwise. The exponential check
// runs first because an unmodeled growth curve leaves smooth residuals that
// mimic seasonality.
func chooseModel(series []float64) string {
	if allPositive(series) {
		linear := formulas.FitLinear(series)
		logFit := formulas.FitLinear(logSeries(series))
		if logFit.R2 > linear.R2+exponentialMargin {
			return survey.ModelExponential
		}
	}

	if weeklySeasonality(series) > seasonalMinCorr {
		return survey.ModelSeasonal
	}
	return survey.ModelLinear
}

// fittedModel predicts values at absolute series indices; indices past
// len(series)-1 are forecasts.
type fittedModel struct {
	predict func(idx int) float64
	sigma   float64
}

func fitModel(model string, series []float64) fittedModel {
	switch model {
	case survey.ModelExponential:
		logFit := formulas.FitLinear(logSeries(series))
		predict := func(idx int) float64 {
			return math.Exp(logFit.Intercept + logFit.Slope*float64(idx))
		}
		return fittedModel{predict: predict, sigma: residualStdDev(series, predict)}

	case survey.ModelSeasonal:
		fit := formulas.FitLinear(series)
		offsets := seasonalOffsets(series, fit)
		predict := func(idx int) float64 {
			return fit.Intercept + fit.Slope*float64(idx) + offsets[idx%seasonalLag]
		}
		return fittedModel{predict: predict, sigma: residualStdDev(series, predict)}

	default:
		fit := formulas.FitLinear(series)
		predict := func(idx int) float64 {
			return fit.Intercept + fit.Slope*float64(idx)
		}
		return fittedModel{predict: predict, sigma: residualStdDev(series, predict)}
	}
}

// seasonalOffsets averages the detrended residual per weekly position.
func seasonalOffsets(series []float64, fit formulas.LinearFit) [seasonalLag]float64 {
	var sums [seasonalLag]float64
	var counts [seasonalLag]int
	for i, value := range series {
		pos := i % seasonalLag
		sums[pos] += value - (fit.Intercept + fit.Slope*float64(i))
		counts[pos]++
	}

	var offsets [seasonalLag]float64
	for pos := range offsets {
		if counts[pos] > 0 {
			offsets[pos] = sums[pos] / float64(counts[pos])
		}
	}
	return offsets
}

func residualStdDev(series []float64, predict func(idx int) float64) float64 {
	residuals := make([]float64, len(series))
	for i, value := range series {
		residuals[i] = value - predict(i)
	}
	return formulas.StdDev(residuals)
}

// backtest holds out the series tail, refits on the head, and scores the
// predictions as 1 minus the normalized mean absolute error.
func backtest(model string, series []float64) float64 {
	holdout := len(series) / 5
	if holdout < 3 {
		holdout = 3
	}
	train := series[:len(series)-holdout]
	if len(train) < minTrendSamples {
		return 0
	}

	fitted := fitModel(model, train)

	var absErr, absActual float64
	for i, actual := range series[len(train):] {
		absErr += math.Abs(actual - fitted.predict(len(train)+i))
		absActual += math.Abs(actual)
	}
	if absActual == 0 {
		return 0
	}
	return clamp01(1 - absErr/absActual)
}

func allPositive(series []float64) bool {
	for _, value := range series {
		if value <= 0 {
			return false
		}
	}
	return true
}

func logSeries(series []float64) []float64 {
	logs := make([]float64, len(series))
	for i, value := range series {
		logs[i] = math.Log(value)
	}
	return logs
}
