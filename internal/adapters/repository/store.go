// Package repository persists enrollment baselines and audit attempts.
package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/okian/strokeauth/internal/domain/enrollment"
	"github.com/okian/strokeauth/internal/domain/model"
)

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Store provides read/write access to baselines and the attempt log.
type Store interface {
	enrollment.Store

	// RecordAttempt appends an audit attempt.
	RecordAttempt(ctx context.Context, a model.Attempt) error

	// RecentAttempts returns up to n attempts of userID, newest first.
	RecentAttempts(ctx context.Context, userID string, n int) ([]model.Attempt, error)

	// AttemptStats aggregates attempts per biometric type, ordered by type.
	AttemptStats(ctx context.Context) ([]model.AttemptStats, error)

	// Baselines returns the number of stored baselines.
	Baselines(ctx context.Context) (int, error)

	Close() error
}

// Open builds the store selected by driver. path is ignored by the memory
// driver.
func Open(ctx context.Context, driver, path string, opts ...Option) (Store, error) {
	switch strings.ToLower(driver) {
	case "", DriverMemory:
		return NewMemoryStore(opts...), nil
	case DriverSQLite:
		return OpenSQLite(ctx, path, opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}
