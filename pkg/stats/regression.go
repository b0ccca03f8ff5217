package stats

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Regression is an orthogonal (total least squares) fit y = Alpha + Beta*x.
type Regression struct {
	Alpha     float64
	Beta      float64
	Residuals []float64
	Mean      float64
	Std       float64
}

// OrthogonalRegression fits the line minimising perpendicular distance. The
// direction is the dominant eigenvector of the centered scatter matrix and the
// residuals are signed perpendicular distances to the fitted line.
func OrthogonalRegression(x, y []float64) (*Regression, error) {
	if err := checkPair(x, y, 2); err != nil {
		return nil, err
	}
	meanX, meanY := Mean(x), Mean(y)

	var sxx, sxy, syy float64
	for i := range x {
		dx, dy := x[i]-meanX, y[i]-meanY
		sxx += dx * dx
		sxy += dx * dy
		syy += dy * dy
	}
	scatter := mat.NewSymDense(2, []float64{sxx, sxy, sxy, syy})

	var eig mat.EigenSym
	if ok := eig.Factorize(scatter, true); !ok {
		return nil, fmt.Errorf("%w: eigendecomposition did not converge", ErrInvalidInput)
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	dominant := 0
	for i := range values {
		if values[i] > values[dominant] {
			dominant = i
		}
	}
	vx, vy := vectors.At(0, dominant), vectors.At(1, dominant)
	if vx == 0 {
		return nil, fmt.Errorf("%w: fitted line is vertical", ErrInvalidInput)
	}

	beta := vy / vx
	alpha := meanY - beta*meanX
	norm := math.Sqrt(1 + beta*beta)

	residuals := make([]float64, len(x))
	for i := range x {
		residuals[i] = (y[i] - (alpha + beta*x[i])) / norm
	}
	mean := Mean(residuals)

	return &Regression{
		Alpha:     alpha,
		Beta:      beta,
		Residuals: residuals,
		Mean:      mean,
		Std:       PopulationStd(residuals, mean),
	}, nil
}

// Residual is the signed perpendicular distance of (x, y) from the fitted line.
func (r *Regression) Residual(x, y float64) float64 {
	return (y - (r.Alpha + r.Beta*x)) / math.Sqrt(1+r.Beta*r.Beta)
}
