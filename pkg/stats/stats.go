// Package stats holds the numeric routines behind the spread model: population
// correlation, orthogonal regression, the ADF stationarity test and z-scores.
package stats

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidInput is returned for nil, mismatched or too-short series.
var ErrInvalidInput = errors.New("stats: invalid input series")

func checkPair(x, y []float64, min int) error {
	if len(x) != len(y) {
		return fmt.Errorf("%w: length %d vs %d", ErrInvalidInput, len(x), len(y))
	}
	if len(x) < min {
		return fmt.Errorf("%w: need at least %d points, got %d", ErrInvalidInput, min, len(x))
	}
	return nil
}

// Mean returns the arithmetic mean, or NaN for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, v := range xs {
		sum += v
	}
	return sum / float64(len(xs))
}

// PopulationStd is the standard deviation around mean using n, not n-1.
func PopulationStd(xs []float64, mean float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	var ss float64
	for _, v := range xs {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}

// Correlation is the population Pearson coefficient, matching charting
// platform correlation functions. It is NaN when either series is constant.
func Correlation(x, y []float64) (float64, error) {
	if err := checkPair(x, y, 2); err != nil {
		return math.NaN(), err
	}
	n := float64(len(x))
	var sumX, sumY, sumXY, sumX2, sumY2 float64
	for i := range x {
		sumX += x[i]
		sumY += y[i]
		sumXY += x[i] * y[i]
		sumX2 += x[i] * x[i]
		sumY2 += y[i] * y[i]
	}
	meanX, meanY := sumX/n, sumY/n
	cov := sumXY/n - meanX*meanY
	varX := sumX2/n - meanX*meanX
	varY := sumY2/n - meanY*meanY
	if varX <= 0 || varY <= 0 {
		return math.NaN(), nil
	}
	r := cov / math.Sqrt(varX*varY)
	// Rounding can push perfectly correlated series just past the bound.
	return math.Max(-1, math.Min(1, r)), nil
}
