package regime

import (
	"sync"
	"time"
)

// ModelMetrics tracks per-model quality and serving statistics. Training
// fields are written once by Fit/Load; the serving counters are updated on
// every Predict and guarded for concurrent callers.
type ModelMetrics struct {
	mu sync.Mutex

	ModelID         string            `json:"model_id"`
	Version         string            `json:"version"`
	TrainedAt       time.Time         `json:"trained_at,omitempty"`
	TrainingSamples int               `json:"training_samples"`
	Converged       bool              `json:"converged"`

	// Statistical detector only; nil for the rule-based detector.
	LogLikelihood *float64 `json:"log_likelihood,omitempty"`
	AIC           *float64 `json:"aic,omitempty"`
	BIC           *float64 `json:"bic,omitempty"`

	// Empirical label distribution over the decoded training sequence.
	LabelDistribution map[Label]float64 `json:"label_distribution,omitempty"`

	MeanLatency      time.Duration `json:"mean_latency_ns"`
	TotalPredictions int64         `json:"total_predictions"`
	LastPredictionAt time.Time     `json:"last_prediction_at,omitempty"`
}

// RecordPrediction folds one served prediction into the running counters.
func (m *ModelMetrics) RecordPrediction(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalPredictions++
	// Incremental mean keeps the update O(1) regardless of history
	m.MeanLatency += (latency - m.MeanLatency) / time.Duration(m.TotalPredictions)
	m.LastPredictionAt = time.Now().UTC()
}

// Snapshot returns a copy safe to read and marshal while Predict calls
// keep mutating the counters.
func (m *ModelMetrics) Snapshot() ModelMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := ModelMetrics{
		ModelID:          m.ModelID,
		Version:          m.Version,
		TrainedAt:        m.TrainedAt,
		TrainingSamples:  m.TrainingSamples,
		Converged:        m.Converged,
		MeanLatency:      m.MeanLatency,
		TotalPredictions: m.TotalPredictions,
		LastPredictionAt: m.LastPredictionAt,
	}
	if m.LogLikelihood != nil {
		v := *m.LogLikelihood
		out.LogLikelihood = &v
	}
	if m.AIC != nil {
		v := *m.AIC
		out.AIC = &v
	}
	if m.BIC != nil {
		v := *m.BIC
		out.BIC = &v
	}
	if m.LabelDistribution != nil {
		out.LabelDistribution = make(map[Label]float64, len(m.LabelDistribution))
		for k, v := range m.LabelDistribution {
			out.LabelDistribution[k] = v
		}
	}
	return out
}
