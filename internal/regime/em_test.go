package regime

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoStateParams builds a hand-set model with well-separated emissions
// and sticky transitions.
func twoStateParams() *hmmParams {
	return &hmmParams{
		States:     2,
		Features:   1,
		Covariance: CovDiagonal,
		Start:      []float64{0.5, 0.5},
		Trans:      [][]float64{{0.9, 0.1}, {0.1, 0.9}},
		Means:      [][]float64{{-1.0}, {1.0}},
		Covars:     [][][]float64{{{0.1}}, {{0.1}}},
	}
}

func TestCholesky(t *testing.T) {
	l, err := cholesky([][]float64{{4, 2}, {2, 3}})
	require.NoError(t, err)

	assert.InDelta(t, 2.0, l[0][0], 1e-12)
	assert.InDelta(t, 1.0, l[1][0], 1e-12)
	assert.InDelta(t, math.Sqrt(2), l[1][1], 1e-12)
	assert.Equal(t, 0.0, l[0][1])
}

func TestCholesky_NotPositiveDefinite(t *testing.T) {
	_, err := cholesky([][]float64{{1, 2}, {2, 1}})
	assert.Error(t, err)
}

func TestLogGaussian_StandardNormal(t *testing.T) {
	chol, err := cholesky([][]float64{{1}})
	require.NoError(t, err)

	// Standard normal density at the mean: -0.5 ln(2π)
	got := logGaussian([]float64{0}, []float64{0}, chol)
	assert.InDelta(t, -0.5*log2Pi, got, 1e-12)

	// One standard deviation out: subtract 0.5
	got = logGaussian([]float64{1}, []float64{0}, chol)
	assert.InDelta(t, -0.5*log2Pi-0.5, got, 1e-12)
}

func TestForwardBackward_PosteriorsNormalized(t *testing.T) {
	p := twoStateParams()
	obs := [][]float64{{-1.1}, {-0.9}, {1.0}, {1.05}, {0.95}}

	logB, err := p.emissionLogProbs(obs)
	require.NoError(t, err)

	gamma, _, logLik, err := forwardBackward(p, logB)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(logLik))
	assert.False(t, math.IsInf(logLik, 0))

	for tStep, row := range gamma {
		sum := 0.0
		for _, g := range row {
			assert.GreaterOrEqual(t, g, 0.0)
			sum += g
		}
		assert.InDeltaf(t, 1.0, sum, 1e-9, "gamma row %d", tStep)
	}

	// Clear separation: early steps belong to state 0, late to state 1
	assert.Greater(t, gamma[0][0], 0.9)
	assert.Greater(t, gamma[4][1], 0.9)
}

func TestViterbi_RecoversBlockPath(t *testing.T) {
	p := twoStateParams()
	obs := [][]float64{{-1.0}, {-1.1}, {-0.9}, {1.0}, {1.1}, {0.9}}

	path, err := viterbi(p, obs)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0, 1, 1, 1}, path)
}

func TestStatePosterior_SingleObservation(t *testing.T) {
	p := twoStateParams()

	posterior, err := statePosterior(p, [][]float64{{1.0}})
	require.NoError(t, err)
	require.Len(t, posterior, 2)

	assert.InDelta(t, 1.0, posterior[0]+posterior[1], 1e-12)
	assert.Greater(t, posterior[1], 0.99)
}

func TestStatePosterior_SequenceContextMatters(t *testing.T) {
	p := twoStateParams()

	// An ambiguous final observation leans toward the state the history
	// was in, because transitions are sticky.
	lone, err := statePosterior(p, [][]float64{{0.0}})
	require.NoError(t, err)
	afterNegatives, err := statePosterior(p, [][]float64{{-1.0}, {-1.0}, {0.0}})
	require.NoError(t, err)

	assert.Greater(t, afterNegatives[0], lone[0])
}

func TestBaumWelch_ImprovesLikelihoodAndConverges(t *testing.T) {
	obs := syntheticHistory(40, 2)
	scaler := fitScaler(obs)
	scaled := scaler.transformAll(obs)

	p := initParams(scaled, 4, CovDiagonal, 42, 1e-6)

	logB, err := p.emissionLogProbs(scaled)
	require.NoError(t, err)
	_, _, initialLL, err := forwardBackward(p, logB)
	require.NoError(t, err)

	res, err := baumWelch(p, scaled, 100, 1e-4, 1e-6)
	require.NoError(t, err)

	assert.True(t, res.converged)
	assert.Greater(t, res.logLikelihood, initialLL)
}

func TestMapStatesToLabels(t *testing.T) {
	// Means laid out as [return, volatility]
	p := &hmmParams{
		States:   4,
		Features: 2,
		Means: [][]float64{
			{0.5, 0.1},  // highest return among the calm states
			{-0.5, 0.1}, // lowest return
			{0.0, 0.2},  // middle return
			{0.0, 2.0},  // highest volatility
		},
	}

	mapping := mapStatesToLabels(p, 1, 0)
	assert.Equal(t, []Label{TrendingUp, TrendingDown, Flat, Unstable}, mapping)
}

func TestMapStatesToLabels_TwoStatesFallBackToIndexDefaults(t *testing.T) {
	p := &hmmParams{
		States:   2,
		Features: 2,
		Means: [][]float64{
			{0.1, 0.5}, // higher volatility
			{0.2, 0.1},
		},
	}

	mapping := mapStatesToLabels(p, 1, 0)
	assert.Equal(t, Unstable, mapping[0])
	assert.Equal(t, TrendingDown, mapping[1]) // index default for state 1
}

func TestCovarianceParams(t *testing.T) {
	testCases := []struct {
		family   string
		expected int
	}{
		{CovFull, 40},
		{CovDiagonal, 16},
		{CovTied, 10},
		{CovSpherical, 4},
	}

	for _, tc := range testCases {
		t.Run(tc.family, func(t *testing.T) {
			assert.Equal(t, tc.expected, covarianceParams(tc.family, 4, 4))
		})
	}
}

func TestInformationCriteria(t *testing.T) {
	// diagonal, 4 states, 4 features: 16 covar + 3 start + 12 trans + 16 means = 47
	aic, bic := informationCriteria(CovDiagonal, 4, 4, 600, -1000)

	assert.InDelta(t, 2*47+2000, aic, 1e-9)
	assert.InDelta(t, 47*math.Log(600)+2000, bic, 1e-9)
}

func TestFeatureScaler(t *testing.T) {
	obs := [][]float64{{1, 5}, {3, 5}, {5, 5}}
	s := fitScaler(obs)

	assert.InDelta(t, 3.0, s.Mean[0], 1e-12)
	// Constant column: std forced to 1 to avoid division blow-up
	assert.Equal(t, 1.0, s.Std[1])

	z := s.transform([]float64{3, 5})
	assert.InDelta(t, 0.0, z[0], 1e-12)
	assert.InDelta(t, 0.0, z[1], 1e-12)
}
