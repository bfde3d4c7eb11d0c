package regime

import (
	"fmt"
	"math"
	"time"
)

// DistributionTolerance is how far a probability distribution may drift
// from summing to exactly 1 before construction is rejected.
const DistributionTolerance = 0.01

// HighConfidenceThreshold separates high-confidence predictions from the
// rest. Fixed, not configurable.
const HighConfidenceThreshold = 0.6

// Prediction is the immutable result of one classification. Construct it
// with NewPrediction so confidence and distribution are validated up front.
type Prediction struct {
	Label        Label              `json:"label"`
	Confidence   float64            `json:"confidence"`
	Distribution map[Label]float64  `json:"distribution"`
	ModelID      string             `json:"model_id"`
	Latency      time.Duration      `json:"latency_ns"`
	CreatedAt    time.Time          `json:"created_at"`
	FeaturesUsed map[string]float64 `json:"features_used"`
	Extra        map[string]any     `json:"extra,omitempty"`
}

// NewPrediction builds a Prediction and validates its invariants: the
// confidence must lie in [0,1] and the distribution must cover every label
// with probabilities summing to 1 within DistributionTolerance. Violations
// are construction errors, never silent clamps.
func NewPrediction(label Label, confidence float64, distribution map[Label]float64, modelID string, latency time.Duration, featuresUsed map[string]float64, extra map[string]any) (*Prediction, error) {
	if !label.Valid() {
		return nil, fmt.Errorf("unknown label %q", label)
	}
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("confidence %v outside [0,1]", confidence)
	}
	if latency < 0 {
		return nil, fmt.Errorf("negative latency %v", latency)
	}

	sum := 0.0
	dist := make(map[Label]float64, len(AllLabels()))
	for _, l := range AllLabels() {
		p, ok := distribution[l]
		if !ok {
			return nil, fmt.Errorf("distribution missing label %s", l)
		}
		if math.IsNaN(p) || p < 0 || p > 1 {
			return nil, fmt.Errorf("distribution[%s] = %v outside [0,1]", l, p)
		}
		dist[l] = p
		sum += p
	}
	if math.Abs(sum-1.0) > DistributionTolerance {
		return nil, fmt.Errorf("distribution sums to %.4f, want 1.0 ±%.2f", sum, DistributionTolerance)
	}

	features := make(map[string]float64, len(featuresUsed))
	for k, v := range featuresUsed {
		features[k] = v
	}

	return &Prediction{
		Label:        label,
		Confidence:   confidence,
		Distribution: dist,
		ModelID:      modelID,
		Latency:      latency,
		CreatedAt:    time.Now().UTC(),
		FeaturesUsed: features,
		Extra:        extra,
	}, nil
}

// Tradeable reports whether the predicted regime is one downstream
// strategy logic may act on.
func (p *Prediction) Tradeable() bool {
	return p.Label.Tradeable()
}

// HighConfidence reports whether the prediction clears the fixed
// confidence threshold.
func (p *Prediction) HighConfidence() bool {
	return p.Confidence >= HighConfidenceThreshold
}

func (p *Prediction) String() string {
	return fmt.Sprintf("%s (%.1f%% confidence, model %s)", p.Label, p.Confidence*100, p.ModelID)
}
