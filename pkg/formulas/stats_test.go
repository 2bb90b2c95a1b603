package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMean(t *testing.T) {
	assert.Equal(t, 0.0, Mean(nil))
	assert.Equal(t, 2.0, Mean([]float64{1, 2, 3}))
}

func TestStdDev(t *testing.T) {
	assert.Equal(t, 0.0, StdDev(nil))
	// Sample stddev of {2,4,4,4,5,5,7,9} is ~2.138
	assert.InDelta(t, 2.138, StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 0.01)
}

func TestCorrelation(t *testing.T) {
	t.Run("perfect positive", func(t *testing.T) {
		x := []float64{1, 2, 3, 4}
		y := []float64{2, 4, 6, 8}
		assert.InDelta(t, 1.0, Correlation(x, y), 1e-9)
	})

	t.Run("mismatched lengths return zero", func(t *testing.T) {
		assert.Equal(t, 0.0, Correlation([]float64{1, 2}, []float64{1}))
	})
}

func TestFitLinear(t *testing.T) {
	t.Run("recovers exact line", func(t *testing.T) {
		// y = 3 + 2x
		fit := FitLinear([]float64{3, 5, 7, 9, 11})
		assert.InDelta(t, 3.0, fit.Intercept, 1e-9)
		assert.InDelta(t, 2.0, fit.Slope, 1e-9)
		assert.InDelta(t, 1.0, fit.R2, 1e-9)
	})

	t.Run("flat series has zero slope", func(t *testing.T) {
		fit := FitLinear([]float64{5, 5, 5, 5})
		assert.InDelta(t, 0.0, fit.Slope, 1e-9)
		assert.Equal(t, 0.0, fit.R2)
	})

	t.Run("short series returns zero fit", func(t *testing.T) {
		assert.Equal(t, LinearFit{}, FitLinear([]float64{1}))
	})
}

func TestZScores(t *testing.T) {
	t.Run("standardizes series", func(t *testing.T) {
		scores := ZScores([]float64{10, 20, 30})
		require.Len(t, scores, 3)
		assert.InDelta(t, -1.0, scores[0], 1e-9)
		assert.InDelta(t, 0.0, scores[1], 1e-9)
		assert.InDelta(t, 1.0, scores[2], 1e-9)
	})

	t.Run("zero variance yields zero scores", func(t *testing.T) {
		scores := ZScores([]float64{4, 4, 4})
		assert.Equal(t, []float64{0, 0, 0}, scores)
	})
}

func TestCoefficientOfVariation(t *testing.T) {
	assert.Equal(t, 0.0, CoefficientOfVariation(nil))
	assert.Equal(t, 0.0, CoefficientOfVariation([]float64{-1, 1}))
	assert.Greater(t, CoefficientOfVariation([]float64{10, 30, 10, 30}), 0.0)
}

func TestAutocorrelation(t *testing.T) {
	t.Run("periodic series correlates at its period", func(t *testing.T) {
		series := make([]float64, 28)
		for i := range series {
			series[i] = float64(i % 7)
		}
		assert.InDelta(t, 1.0, Autocorrelation(series, 7), 1e-9)
	})

	t.Run("too short series returns zero", func(t *testing.T) {
		assert.Equal(t, 0.0, Autocorrelation([]float64{1, 2, 3}, 7))
	})
}

func TestCalculateEMA(t *testing.T) {
	t.Run("empty series returns nil", func(t *testing.T) {
		assert.Nil(t, CalculateEMA(nil, 10))
	})

	t.Run("short series falls back to mean", func(t *testing.T) {
		ema := CalculateEMA([]float64{1, 2, 3}, 10)
		require.NotNil(t, ema)
		assert.InDelta(t, 2.0, *ema, 1e-9)
	})

	t.Run("constant series converges to constant", func(t *testing.T) {
		series := make([]float64, 50)
		for i := range series {
			series[i] = 7.5
		}
		ema := CalculateEMA(series, 10)
		require.NotNil(t, ema)
		assert.InDelta(t, 7.5, *ema, 1e-9)
	})
}

func TestSmoothEMA(t *testing.T) {
	t.Run("preserves length", func(t *testing.T) {
		series := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
		smoothed := SmoothEMA(series, 3)
		assert.Len(t, smoothed, len(series))
	})

	t.Run("short series returned unchanged", func(t *testing.T) {
		series := []float64{1, 2}
		assert.Equal(t, series, SmoothEMA(series, 5))
	})
}

func TestCalculateSMA(t *testing.T) {
	t.Run("insufficient data returns nil", func(t *testing.T) {
		assert.Nil(t, CalculateSMA([]float64{1, 2}, 5))
	})

	t.Run("averages last period values", func(t *testing.T) {
		sma := CalculateSMA([]float64{1, 2, 3, 4, 5, 6}, 3)
		require.NotNil(t, sma)
		assert.InDelta(t, 5.0, *sma, 1e-9)
	})
}
