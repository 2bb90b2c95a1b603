package formulas

import (
	"github.com/markcheno/go-talib"
)

// CalculateEMA calculates the Exponential Moving Average over the series.
//
// EMA Formula:
//
//	EMA_today = (Value_today × multiplier) + (EMA_yesterday × (1 - multiplier))
//	where multiplier = 2 / (period + 1)
//
// Returns the current EMA value, falling back to the plain mean when the
// series is shorter than the period, or nil for an empty series.
func CalculateEMA(series []float64, period int) *float64 {
	if len(series) == 0 {
		return nil
	}

	if len(series) < period {
		sma := Mean(series)
		return &sma
	}

	ema := talib.Ema(series, period)
	if len(ema) > 0 && !isNaN(ema[len(ema)-1]) {
		result := ema[len(ema)-1]
		return &result
	}

	sma := Mean(series[len(series)-period:])
	return &sma
}

// SmoothEMA returns the full EMA-smoothed series, used to suppress day-to-day
// noise before trend classification. Series shorter than the period are
// returned unchanged.
func SmoothEMA(series []float64, period int) []float64 {
	if len(series) < period || period < 2 {
		return series
	}

	smoothed := talib.Ema(series, period)

	// talib leaves the warm-up window as zeros; keep raw values there so the
	// series length and early shape are preserved.
	out := make([]float64, len(series))
	copy(out, series)
	for i := period - 1; i < len(smoothed); i++ {
		if !isNaN(smoothed[i]) {
			out[i] = smoothed[i]
		}
	}
	return out
}

// CalculateSMA calculates the Simple Moving Average over the last period values.
// Returns nil if the series is shorter than the period.
func CalculateSMA(series []float64, period int) *float64 {
	if len(series) < period {
		return nil
	}

	sma := talib.Sma(series, period)
	if len(sma) > 0 && !isNaN(sma[len(sma)-1]) {
		result := sma[len(sma)-1]
		return &result
	}

	return nil
}
