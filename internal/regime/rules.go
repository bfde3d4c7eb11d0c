package regime

import (
	"fmt"
	"math"
	"time"
)

// ThresholdConfig holds the fixed cutoffs for the rule-based detector.
// Values are expressed in raw feature units: returns as fractions,
// volatility annualized, trend strength on the ADX-style 0-100 scale.
type ThresholdConfig struct {
	// Directional regimes
	TrendReturnMin     float64 `yaml:"trend_return_min" json:"trend_return_min"`
	TrendVolatilityMax float64 `yaml:"trend_volatility_max" json:"trend_volatility_max"`
	TrendStrengthMin   float64 `yaml:"trend_strength_min" json:"trend_strength_min"`

	// Flat regime
	FlatReturnBand    float64 `yaml:"flat_return_band" json:"flat_return_band"`
	FlatVolatilityMax float64 `yaml:"flat_volatility_max" json:"flat_volatility_max"`
	FlatTrendMax      float64 `yaml:"flat_trend_max" json:"flat_trend_max"`

	// Unstable regime: volatility alone above UnstableVolatility, or a
	// runaway trend combined with the secondary volatility floor.
	UnstableVolatility          float64 `yaml:"unstable_volatility" json:"unstable_volatility"`
	UnstableTrend               float64 `yaml:"unstable_trend" json:"unstable_trend"`
	UnstableVolatilitySecondary float64 `yaml:"unstable_volatility_secondary" json:"unstable_volatility_secondary"`
}

// DefaultThresholds returns the production cutoffs.
func DefaultThresholds() ThresholdConfig {
	return ThresholdConfig{
		TrendReturnMin:              0.02,
		TrendVolatilityMax:          0.25,
		TrendStrengthMin:            25.0,
		FlatReturnBand:              0.01,
		FlatVolatilityMax:           0.15,
		FlatTrendMax:                20.0,
		UnstableVolatility:          0.25,
		UnstableTrend:               40.0,
		UnstableVolatilitySecondary: 0.20,
	}
}

// Branch confidences are fixed, not computed.
const (
	unstableConfidence = 0.85
	trendConfidence    = 0.80
	flatConfidence     = 0.70
	defaultConfidence  = 0.40
)

// remainderSplits distributes 1-confidence across the labels that were not
// chosen. The ratios are a hand-tuned heuristic, not a calibrated
// probability: directional labels redistribute toward FLAT and UNSTABLE
// rather than the opposite direction.
var remainderSplits = map[Label]map[Label]float64{
	TrendingUp:   {Flat: 0.45, Unstable: 0.30, TrendingDown: 0.15, Unknown: 0.10},
	TrendingDown: {Flat: 0.45, Unstable: 0.30, TrendingUp: 0.15, Unknown: 0.10},
	Flat:         {TrendingUp: 0.30, TrendingDown: 0.30, Unstable: 0.30, Unknown: 0.10},
	Unstable:     {Flat: 0.40, TrendingUp: 0.25, TrendingDown: 0.25, Unknown: 0.10},
	Unknown:      {TrendingUp: 0.25, TrendingDown: 0.25, Flat: 0.25, Unstable: 0.25},
}

// RuleBasedDetector classifies with a fixed threshold cascade. It is
// stateless, deterministic, and needs no training: Fit is a no-op and
// IsFitted is always true.
type RuleBasedDetector struct {
	thresholds ThresholdConfig
	features   []string
	metrics    *ModelMetrics
}

// NewRuleBasedDetector builds a detector around the given thresholds.
func NewRuleBasedDetector(thresholds ThresholdConfig) *RuleBasedDetector {
	id := fmt.Sprintf("rules-v1-%s", shortHash(thresholds))
	return &RuleBasedDetector{
		thresholds: thresholds,
		features:   DefaultFeatures(),
		metrics: &ModelMetrics{
			ModelID:   id,
			Version:   "v1",
			Converged: true,
		},
	}
}

func (d *RuleBasedDetector) RequiredFeatures() []string {
	out := make([]string, len(d.features))
	copy(out, d.features)
	return out
}

func (d *RuleBasedDetector) IsFitted() bool { return true }

func (d *RuleBasedDetector) ModelID() string { return d.metrics.ModelID }

// Fit is a no-op: the rule cascade carries no trainable state.
func (d *RuleBasedDetector) Fit(observations [][]float64) error {
	if observations != nil {
		if err := validateObservations(observations, d.features); err != nil {
			return err
		}
	}
	return nil
}

// Predict walks the threshold cascade in priority order and returns the
// first matching regime with its fixed confidence and reasoning.
func (d *RuleBasedDetector) Predict(features []float64) (*Prediction, error) {
	start := time.Now()

	if err := validateFeatures(features, d.features); err != nil {
		return nil, err
	}

	ret, vol, trend := features[0], features[1], features[2]
	label, confidence, reason := d.classify(ret, vol, trend)
	dist := d.pseudoProbabilities(label, confidence)

	latency := time.Since(start)
	pred, err := NewPrediction(label, confidence, dist, d.metrics.ModelID, latency,
		featuresUsed(d.features, features),
		map[string]any{"reasoning": reason})
	if err != nil {
		return nil, err
	}

	d.metrics.RecordPrediction(latency)
	return pred, nil
}

func (d *RuleBasedDetector) PredictProba(features []float64) (map[Label]float64, error) {
	if err := validateFeatures(features, d.features); err != nil {
		return nil, err
	}
	ret, vol, trend := features[0], features[1], features[2]
	label, confidence, _ := d.classify(ret, vol, trend)
	return d.pseudoProbabilities(label, confidence), nil
}

// classify applies the ordered, short-circuiting cascade. Unstable takes
// precedence over everything else.
func (d *RuleBasedDetector) classify(ret, vol, trend float64) (Label, float64, string) {
	t := d.thresholds

	switch {
	case vol > t.UnstableVolatility:
		return Unstable, unstableConfidence,
			fmt.Sprintf("unstable: volatility %.3f above %.3f", vol, t.UnstableVolatility)

	case trend > t.UnstableTrend && vol > t.UnstableVolatilitySecondary:
		return Unstable, unstableConfidence,
			fmt.Sprintf("unstable: runaway trend %.1f with volatility %.3f", trend, vol)

	case ret > t.TrendReturnMin && vol < t.TrendVolatilityMax && trend > t.TrendStrengthMin:
		return TrendingUp, trendConfidence,
			fmt.Sprintf("uptrend: return %.3f with trend strength %.1f and contained volatility %.3f", ret, trend, vol)

	case ret < -t.TrendReturnMin && vol < t.TrendVolatilityMax && trend > t.TrendStrengthMin:
		return TrendingDown, trendConfidence,
			fmt.Sprintf("downtrend: return %.3f with trend strength %.1f and contained volatility %.3f", ret, trend, vol)

	case math.Abs(ret) < t.FlatReturnBand && vol < t.FlatVolatilityMax && trend < t.FlatTrendMax:
		return Flat, flatConfidence,
			fmt.Sprintf("flat: return within ±%.3f band, volatility %.3f and trend %.1f both low", t.FlatReturnBand, vol, trend)

	case ret > 0:
		return TrendingUp, defaultConfidence,
			fmt.Sprintf("weak uptrend: positive return %.3f without confirming indicators", ret)

	case ret < 0:
		return TrendingDown, defaultConfidence,
			fmt.Sprintf("weak downtrend: negative return %.3f without confirming indicators", ret)

	default:
		return Flat, defaultConfidence, "flat: zero return with no confirming indicators"
	}
}

// pseudoProbabilities assigns the fixed confidence to the chosen label,
// splits the remainder per remainderSplits, and renormalizes to sum to 1.
func (d *RuleBasedDetector) pseudoProbabilities(label Label, confidence float64) map[Label]float64 {
	dist := make(map[Label]float64, len(AllLabels()))
	dist[label] = confidence

	remainder := 1.0 - confidence
	for other, share := range remainderSplits[label] {
		dist[other] = remainder * share
	}
	for _, l := range AllLabels() {
		if _, ok := dist[l]; !ok {
			dist[l] = 0
		}
	}

	sum := 0.0
	for _, p := range dist {
		sum += p
	}
	if sum > 0 {
		for l := range dist {
			dist[l] /= sum
		}
	}
	return dist
}

// Save writes the threshold configuration so a reloaded detector
// reproduces the same cascade and model identifier.
func (d *RuleBasedDetector) Save(dir string) error {
	return writeArtifact(dir, map[string]any{
		thresholdsFile: d.thresholds,
		metricsFile:    d.metrics.Snapshot(),
	})
}

// Load restores thresholds from a saved artifact directory.
func (d *RuleBasedDetector) Load(dir string) error {
	var thresholds ThresholdConfig
	if err := readArtifactFile(dir, thresholdsFile, &thresholds); err != nil {
		return err
	}
	d.thresholds = thresholds
	d.metrics.ModelID = fmt.Sprintf("rules-v1-%s", shortHash(thresholds))
	return nil
}

func (d *RuleBasedDetector) Metrics() ModelMetrics { return d.metrics.Snapshot() }
