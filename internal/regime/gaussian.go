package regime

import (
	"fmt"
	"math"
)

// Covariance families supported by the statistical detector. All families
// are materialized as dense per-state matrices; the family constrains the
// M-step update and the AIC/BIC parameter count.
const (
	CovFull      = "full"
	CovDiagonal  = "diagonal"
	CovTied      = "tied"
	CovSpherical = "spherical"
)

func validCovariance(kind string) bool {
	switch kind {
	case CovFull, CovDiagonal, CovTied, CovSpherical:
		return true
	}
	return false
}

const log2Pi = 1.8378770664093453

// cholesky returns the lower-triangular factor L with m = L·Lᵀ, or an
// error when m is not positive definite.
func cholesky(m [][]float64) ([][]float64, error) {
	n := len(m)
	l := newMatrix(n, n)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			sum := m[i][j]
			for k := 0; k < j; k++ {
				sum -= l[i][k] * l[j][k]
			}
			if i == j {
				if sum <= 0 {
					return nil, fmt.Errorf("matrix not positive definite at row %d", i)
				}
				l[i][j] = math.Sqrt(sum)
			} else {
				l[i][j] = sum / l[j][j]
			}
		}
	}
	return l, nil
}

// logGaussian evaluates the multivariate normal log-density of x under
// (mean, Σ) where chol is the lower Cholesky factor of Σ.
func logGaussian(x, mean []float64, chol [][]float64) float64 {
	d := len(x)

	logDet := 0.0
	for i := 0; i < d; i++ {
		logDet += math.Log(chol[i][i])
	}
	logDet *= 2

	// Solve L·y = x-mean by forward substitution; the quadratic form
	// (x-μ)ᵀΣ⁻¹(x-μ) is then |y|².
	y := make([]float64, d)
	for i := 0; i < d; i++ {
		sum := x[i] - mean[i]
		for k := 0; k < i; k++ {
			sum -= chol[i][k] * y[k]
		}
		y[i] = sum / chol[i][i]
	}

	quad := 0.0
	for i := 0; i < d; i++ {
		quad += y[i] * y[i]
	}

	return -0.5 * (float64(d)*log2Pi + logDet + quad)
}

func newMatrix(rows, cols int) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
	}
	return m
}

func copyMatrix(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// covarianceParams returns the free-parameter count of the emission
// covariances for a given family, used by the information criteria.
func covarianceParams(kind string, states, features int) int {
	switch kind {
	case CovFull:
		return states * features * (features + 1) / 2
	case CovDiagonal:
		return states * features
	case CovTied:
		return features * (features + 1) / 2
	case CovSpherical:
		return states
	default:
		return 0
	}
}
