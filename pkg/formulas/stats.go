// Package formulas provides the statistical building blocks used by the
// analytics pipelines: descriptive statistics, regression fits, smoothing,
// and anomaly scoring over daily metric series.
package formulas

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the standard deviation of a slice of float64 values
func StdDev(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// Variance calculates the variance of a slice of float64 values
func Variance(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Variance(data, nil)
}

// Correlation calculates the Pearson correlation coefficient between two datasets
func Correlation(x, y []float64) float64 {
	if len(x) == 0 || len(y) == 0 || len(x) != len(y) {
		return 0
	}
	return stat.Correlation(x, y, nil)
}

// LinearFit holds the result of an ordinary least squares fit over a series
// indexed 0..n-1.
type LinearFit struct {
	Intercept float64
	Slope     float64
	R2        float64 // Coefficient of determination in [0,1]
}

// FitLinear fits y = intercept + slope*x over the series using its index as x.
// Returns a zero fit for series shorter than 2 points.
func FitLinear(series []float64) LinearFit {
	if len(series) < 2 {
		return LinearFit{}
	}

	xs := make([]float64, len(series))
	for i := range xs {
		xs[i] = float64(i)
	}

	intercept, slope := stat.LinearRegression(xs, series, nil, false)
	r := stat.Correlation(xs, series, nil)

	r2 := r * r
	if math.IsNaN(r2) {
		r2 = 0
	}

	return LinearFit{Intercept: intercept, Slope: slope, R2: r2}
}

// ZScores converts a series into standard scores. A zero-variance series
// yields all-zero scores.
func ZScores(series []float64) []float64 {
	if len(series) == 0 {
		return nil
	}

	mean := Mean(series)
	sd := StdDev(series)

	scores := make([]float64, len(series))
	if sd == 0 {
		return scores
	}

	for i, v := range series {
		scores[i] = (v - mean) / sd
	}
	return scores
}

// CoefficientOfVariation returns stddev/|mean|, a scale-free volatility
// measure. Returns 0 for empty or zero-mean series.
func CoefficientOfVariation(series []float64) float64 {
	mean := Mean(series)
	if mean == 0 {
		return 0
	}
	return StdDev(series) / math.Abs(mean)
}

// Autocorrelation calculates the autocorrelation of a series at the given lag.
// Returns 0 when the series is too short for the lag.
func Autocorrelation(series []float64, lag int) float64 {
	if lag <= 0 || len(series) <= lag+1 {
		return 0
	}
	return Correlation(series[:len(series)-lag], series[lag:])
}

// isNaN checks if a float64 is NaN
func isNaN(f float64) bool {
	return f != f
}
