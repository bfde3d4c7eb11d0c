// Package telemetry exposes Prometheus metrics for the serving layer.
// The detector core stays metrics-free; recording happens at the edges.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every Prometheus collector the serving layer records.
type Registry struct {
	Predictions      *prometheus.CounterVec
	PredictionErrors *prometheus.CounterVec
	InferenceSeconds *prometheus.HistogramVec
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	ModelConverged   prometheus.Gauge
	ModelTrainedAt   prometheus.Gauge
}

// NewRegistry creates the collectors and registers them with reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		Predictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regime_predictions_total",
				Help: "Predictions served, by model type and predicted label",
			},
			[]string{"model", "label"},
		),
		PredictionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regime_prediction_errors_total",
				Help: "Failed predict calls, by error kind",
			},
			[]string{"kind"},
		),
		InferenceSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "regime_inference_seconds",
				Help:    "Inference latency in seconds",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"model"},
		),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "regime_cache_hits_total",
			Help: "Prediction cache hits",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "regime_cache_misses_total",
			Help: "Prediction cache misses",
		}),
		ModelConverged: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "regime_model_converged",
			Help: "1 when the active statistical model converged during training",
		}),
		ModelTrainedAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "regime_model_trained_at_seconds",
			Help: "Unix timestamp of the active model's training run",
		}),
	}

	reg.MustRegister(
		r.Predictions,
		r.PredictionErrors,
		r.InferenceSeconds,
		r.CacheHits,
		r.CacheMisses,
		r.ModelConverged,
		r.ModelTrainedAt,
	)
	return r
}

// ObservePrediction records one served prediction.
func (r *Registry) ObservePrediction(model, label string, latency time.Duration) {
	r.Predictions.WithLabelValues(model, label).Inc()
	r.InferenceSeconds.WithLabelValues(model).Observe(latency.Seconds())
}
