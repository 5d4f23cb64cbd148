package repository

import "errors"

// Sentinel kinds for repository errors.
var (
	ErrNotFound      = errors.New("record not found")
	ErrInvalidLimit  = errors.New("invalid attempt limit")
	ErrUnknownDriver = errors.New("unknown storage driver")
	ErrClosed        = errors.New("store is closed")
)
