package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultSignificance is the p-value cut-off used by ADFTest.
const DefaultSignificance = 0.05

type ADFResult struct {
	Slope      float64
	TStat      float64
	PValue     float64
	Stationary bool
}

// ADF regresses Δy_t on y_{t-1} with an intercept and compares the one-sided
// Student-t p-value of the slope against significance. Fewer than four points
// leave no degrees of freedom and are reported as non-stationary.
func ADF(series []float64, significance float64) ADFResult {
	n := len(series)
	res := ADFResult{Slope: math.NaN(), TStat: math.NaN(), PValue: math.NaN()}
	if n < 3 {
		return res
	}

	lagged := make([]float64, n-1)
	diffs := make([]float64, n-1)
	for i := 1; i < n; i++ {
		lagged[i-1] = series[i-1]
		diffs[i-1] = series[i] - series[i-1]
	}

	alpha, beta := stat.LinearRegression(lagged, diffs, nil, false)
	res.Slope = beta

	meanLag := Mean(lagged)
	var sxx, sse float64
	for i := range lagged {
		d := lagged[i] - meanLag
		sxx += d * d
		e := diffs[i] - (alpha + beta*lagged[i])
		sse += e * e
	}
	m := float64(len(lagged))
	if sxx == 0 || m <= 2 {
		return res
	}
	se := math.Sqrt(sse/(m-2)) / math.Sqrt(sxx)
	if se == 0 {
		return res
	}
	res.TStat = beta / se

	df := float64(n - 3)
	if df <= 0 {
		return res
	}
	res.PValue = distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}.CDF(res.TStat)
	res.Stationary = res.PValue < significance
	return res
}

// ADFTest reports stationarity at DefaultSignificance.
func ADFTest(series []float64) bool {
	return ADF(series, DefaultSignificance).Stationary
}
