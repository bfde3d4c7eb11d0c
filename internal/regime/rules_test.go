package regime

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// features builds a vector in the default layout:
// return, volatility, trend strength, volume ratio.
func features(ret, vol, trend, volRatio float64) []float64 {
	return []float64{ret, vol, trend, volRatio}
}

func TestRuleBasedDetector_Cascade(t *testing.T) {
	detector := NewRuleBasedDetector(DefaultThresholds())

	testCases := []struct {
		name           string
		features       []float64
		expectedLabel  Label
		expectedConf   float64
		reasonContains string
	}{
		{
			name:           "clear_uptrend",
			features:       features(0.03, 0.15, 28, 1.1),
			expectedLabel:  TrendingUp,
			expectedConf:   0.8,
			reasonContains: "uptrend",
		},
		{
			name:           "clear_downtrend",
			features:       features(-0.03, 0.15, 28, 1.1),
			expectedLabel:  TrendingDown,
			expectedConf:   0.8,
			reasonContains: "downtrend",
		},
		{
			name:           "high_volatility_alone_is_unstable",
			features:       features(0.0, 0.30, 10, 1.0),
			expectedLabel:  Unstable,
			expectedConf:   0.85,
			reasonContains: "unstable",
		},
		{
			name:          "unstable_beats_uptrend",
			features:      features(0.30, 0.30, 22, 1.0),
			expectedLabel: Unstable,
			expectedConf:  0.85,
		},
		{
			name:          "runaway_trend_with_secondary_volatility",
			features:      features(0.005, 0.22, 45, 1.0),
			expectedLabel: Unstable,
			expectedConf:  0.85,
		},
		{
			name:           "flat_market",
			features:       features(0.002, 0.08, 10, 0.9),
			expectedLabel:  Flat,
			expectedConf:   0.7,
			reasonContains: "flat",
		},
		{
			name:          "weak_positive_default",
			features:      features(0.015, 0.18, 22, 1.0),
			expectedLabel: TrendingUp,
			expectedConf:  0.4,
		},
		{
			name:          "weak_negative_default",
			features:      features(-0.015, 0.18, 22, 1.0),
			expectedLabel: TrendingDown,
			expectedConf:  0.4,
		},
		{
			name:          "exactly_zero_return_default_flat",
			features:      features(0.0, 0.18, 22, 1.0),
			expectedLabel: Flat,
			expectedConf:  0.4,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pred, err := detector.Predict(tc.features)
			require.NoError(t, err)

			assert.Equal(t, tc.expectedLabel, pred.Label)
			assert.Equal(t, tc.expectedConf, pred.Confidence)
			if tc.reasonContains != "" {
				reason, _ := pred.Extra["reasoning"].(string)
				assert.Contains(t, reason, tc.reasonContains)
			}
		})
	}
}

func TestRuleBasedDetector_ProbabilitiesNormalized(t *testing.T) {
	detector := NewRuleBasedDetector(DefaultThresholds())

	inputs := [][]float64{
		features(0.03, 0.15, 28, 1.1),
		features(-0.05, 0.10, 30, 1.0),
		features(0.0, 0.40, 5, 2.0),
		features(0.001, 0.05, 8, 0.8),
		features(0.012, 0.18, 15, 1.0),
	}

	for _, in := range inputs {
		dist, err := detector.PredictProba(in)
		require.NoError(t, err)

		sum := 0.0
		for _, l := range AllLabels() {
			p, ok := dist[l]
			require.True(t, ok, "label %s missing from distribution", l)
			assert.GreaterOrEqual(t, p, 0.0)
			assert.LessOrEqual(t, p, 1.0)
			sum += p
		}
		assert.InDelta(t, 1.0, sum, DistributionTolerance)
	}
}

func TestRuleBasedDetector_DirectionalSplitAvoidsOpposite(t *testing.T) {
	detector := NewRuleBasedDetector(DefaultThresholds())

	dist, err := detector.PredictProba(features(0.03, 0.15, 28, 1.1))
	require.NoError(t, err)

	// The heuristic split sends remainder mass to FLAT and UNSTABLE, not
	// the opposite direction. Pseudo-probabilities, not calibrated ones.
	assert.Greater(t, dist[Flat], dist[TrendingDown])
	assert.Greater(t, dist[Unstable], dist[TrendingDown])
}

func TestRuleBasedDetector_InvalidInput(t *testing.T) {
	detector := NewRuleBasedDetector(DefaultThresholds())

	testCases := []struct {
		name  string
		input []float64
	}{
		{"nil_vector", nil},
		{"wrong_arity", []float64{0.03, 0.15}},
		{"nan_value", features(math.NaN(), 0.15, 28, 1.1)},
		{"infinite_value", features(0.03, math.Inf(1), 28, 1.1)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := detector.Predict(tc.input)
			assert.ErrorIs(t, err, ErrInvalidFeatures)
		})
	}
}

func TestRuleBasedDetector_AlwaysFitted(t *testing.T) {
	detector := NewRuleBasedDetector(DefaultThresholds())

	assert.True(t, detector.IsFitted())
	require.NoError(t, detector.Fit(nil))
	assert.True(t, detector.IsFitted())
}

func TestRuleBasedDetector_PredictIdempotent(t *testing.T) {
	detector := NewRuleBasedDetector(DefaultThresholds())
	in := features(0.03, 0.15, 28, 1.1)

	first, err := detector.Predict(in)
	require.NoError(t, err)
	second, err := detector.Predict(in)
	require.NoError(t, err)

	assert.Equal(t, first.Label, second.Label)
	assert.Equal(t, first.Confidence, second.Confidence)
	assert.Equal(t, first.Distribution, second.Distribution)
}

func TestRuleBasedDetector_SaveLoad(t *testing.T) {
	dir := t.TempDir() + "/rules_artifact"

	original := NewRuleBasedDetector(DefaultThresholds())
	require.NoError(t, original.Save(dir))

	restored := NewRuleBasedDetector(ThresholdConfig{})
	require.NoError(t, restored.Load(dir))

	assert.Equal(t, original.ModelID(), restored.ModelID())

	in := features(0.03, 0.15, 28, 1.1)
	a, err := original.Predict(in)
	require.NoError(t, err)
	b, err := restored.Predict(in)
	require.NoError(t, err)
	assert.Equal(t, a.Label, b.Label)
	assert.Equal(t, a.Confidence, b.Confidence)
}
