package api

import "errors"

// Sentinel kinds for API errors.
var (
	ErrBadRequest        = errors.New("malformed request body")
	ErrHijackUnsupported = errors.New("response writer does not support hijacking")
)
