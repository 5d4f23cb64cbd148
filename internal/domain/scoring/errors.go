package scoring

import "errors"

// Sentinel kinds for scorer errors.
var (
	ErrEmptyFeatures  = errors.New("feature vectors must not be empty")
	ErrUnavailable    = errors.New("ml scorer unavailable")
	ErrBadStatus      = errors.New("ml scorer returned an error status")
	ErrLimiterTimeout = errors.New("ml scorer concurrency limit reached")
)
