package regime

import (
	"fmt"
	"math"
)

// Detector is the contract both detector variants satisfy. Feature vectors
// are positional: index i carries the value for RequiredFeatures()[i].
//
// Fit and Predict run to completion synchronously. Predict on a fitted
// detector is read-only apart from the ModelMetrics counters and is safe
// for concurrent callers; Fit mutates state in place and must not race
// with Predict on the same instance.
type Detector interface {
	// RequiredFeatures returns the exact feature names, in the order the
	// detector expects them.
	RequiredFeatures() []string

	// IsFitted reports whether the detector is ready to predict.
	IsFitted() bool

	// ModelID identifies the trained artifact: type, version, config hash.
	ModelID() string

	// Fit trains the detector on a sequence of observations (one feature
	// vector per time step). Returns ErrTraining when the numerical fit
	// does not reach a usable state.
	Fit(observations [][]float64) error

	// Predict classifies a single feature vector. Returns
	// ErrModelNotFitted before Fit/Load and ErrInvalidFeatures for
	// malformed input.
	Predict(features []float64) (*Prediction, error)

	// PredictProba returns the probability of every label for one
	// feature vector.
	PredictProba(features []float64) (map[Label]float64, error)

	// Save persists full detector state into dir. Load restores it.
	// Load returns ErrModelLoad when a required artifact is missing.
	Save(dir string) error
	Load(dir string) error

	// Metrics returns a snapshot of the model's quality and serving
	// statistics.
	Metrics() ModelMetrics
}

// validateFeatures runs the shared input checks before any
// detector-specific logic: non-nil, correct arity, finite values.
func validateFeatures(features []float64, required []string) error {
	if features == nil {
		return fmt.Errorf("%w: nil feature vector", ErrInvalidFeatures)
	}
	if len(features) != len(required) {
		return fmt.Errorf("%w: got %d features, want %d (%v)", ErrInvalidFeatures, len(features), len(required), required)
	}
	for i, v := range features {
		if math.IsNaN(v) {
			return fmt.Errorf("%w: feature %s is NaN", ErrInvalidFeatures, required[i])
		}
		if math.IsInf(v, 0) {
			return fmt.Errorf("%w: feature %s is infinite", ErrInvalidFeatures, required[i])
		}
	}
	return nil
}

// validateObservations applies validateFeatures to every row of a
// training or decoding sequence.
func validateObservations(observations [][]float64, required []string) error {
	if len(observations) == 0 {
		return fmt.Errorf("%w: empty observation sequence", ErrInvalidFeatures)
	}
	for t, row := range observations {
		if err := validateFeatures(row, required); err != nil {
			return fmt.Errorf("observation %d: %w", t, err)
		}
	}
	return nil
}

// featuresUsed pairs feature names with the values actually consumed, for
// the Prediction audit trail.
func featuresUsed(names []string, values []float64) map[string]float64 {
	out := make(map[string]float64, len(names))
	for i, name := range names {
		out[name] = values[i]
	}
	return out
}
