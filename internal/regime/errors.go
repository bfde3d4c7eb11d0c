package regime

import "errors"

// Error taxonomy for the detector core. Callers distinguish cases with
// errors.Is; wrapping sites add context via fmt.Errorf and %w.
var (
	// ErrModelNotFitted is returned when predict is called before a
	// successful Fit or Load. Recoverable by the caller, never retried
	// internally.
	ErrModelNotFitted = errors.New("model not fitted")

	// ErrInvalidFeatures is returned for malformed input: nil vector,
	// wrong arity, NaN or infinite values.
	ErrInvalidFeatures = errors.New("invalid features")

	// ErrTraining is returned when the numerical fit fails to reach a
	// usable state. Retrying with identical data will not help.
	ErrTraining = errors.New("training failed")

	// ErrModelLoad is returned when a persisted artifact is missing or
	// unreadable.
	ErrModelLoad = errors.New("model load failed")

	// ErrModelSave is returned when persisting an artifact fails.
	ErrModelSave = errors.New("model save failed")

	// ErrConfiguration is returned for an unknown detector type or a
	// malformed configuration document. Fatal to factory construction.
	ErrConfiguration = errors.New("invalid configuration")
)
