package ml

import "errors"

var (
	// ErrModelUnavailable is returned when no usable model artifact is
	// loaded: the file is absent, unreadable, truncated or inconsistent.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrFeatureMismatch is returned when an inference record holds a value
	// that cannot be interpreted as a feature at all (an array or object).
	ErrFeatureMismatch = errors.New("feature mismatch")
	// ErrNotFitted is returned by estimators used before Fit.
	ErrNotFitted = errors.New("model not trained")
)
