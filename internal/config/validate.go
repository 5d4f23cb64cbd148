package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/okian/strokeauth/internal/adapters/repository"
	"github.com/okian/strokeauth/internal/domain/apperr"
)

// Validate reports the first invalid setting as a configuration error.
func (c *Config) Validate() error {
	checks := []func() error{
		c.validateLog,
		c.validateServer,
		c.validateSignature,
		c.validateFeatures,
		c.validateQuality,
		c.validateEnrollment,
		func() error { return c.ComparisonConfig().Validate() },
		c.validateML,
		c.validateStorage,
		c.validateAudit,
		c.validateMetrics,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateLog() error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return apperr.Configuration("log.level", fmt.Sprintf("unknown level %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
		return nil
	}
	return apperr.Configuration("log.format", fmt.Sprintf("unknown format %q", c.Log.Format))
}

func (c *Config) validateServer() error {
	if c.Server.Addr == "" {
		return apperr.Configuration("server.addr", "addr must not be empty")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return apperr.Configuration("server.max_body_bytes", "must be positive")
	}
	if c.Server.StreamIdleTimeout <= 0 {
		return apperr.Configuration("server.stream_idle_timeout", "must be positive")
	}
	return nil
}

func (c *Config) validateSignature() error {
	s := c.Signature
	switch {
	case s.MinPoints < 1:
		return apperr.Configuration("signature.min_points", "must be at least 1")
	case s.MinPoints > s.MaxPoints:
		return apperr.Configuration("signature.min_points", "must not exceed max_points")
	case s.MinStrokes < 1:
		return apperr.Configuration("signature.min_strokes", "must be at least 1")
	case s.MinStrokes > s.MaxStrokes:
		return apperr.Configuration("signature.min_strokes", "must not exceed max_strokes")
	case s.MinDurationMS > s.MaxDurationMS:
		return apperr.Configuration("signature.min_duration_ms", "must not exceed max_duration_ms")
	}
	return nil
}

func (c *Config) validateFeatures() error {
	if c.Features.PressureDeadband < 0 {
		return apperr.Configuration("features.pressure_deadband", "must not be negative")
	}
	if c.Features.SymmetryGrid < 1 {
		return apperr.Configuration("features.symmetry_grid", "must be at least 1")
	}
	return nil
}

func (c *Config) validateQuality() error {
	q := c.Quality
	if q.DensityWeight < 0 || q.PressureWeight < 0 || q.ComplexityWeight < 0 {
		return apperr.Configuration("quality.weights", "weights must not be negative")
	}
	if q.DensityWeight+q.PressureWeight+q.ComplexityWeight <= 0 {
		return apperr.Configuration("quality.weights", "at least one weight must be positive")
	}
	if q.ExpectedPoints < 1 {
		return apperr.Configuration("quality.expected_points", "must be at least 1")
	}
	if q.TargetVariance <= 0 {
		return apperr.Configuration("quality.target_variance", "must be positive")
	}
	if q.Threshold < 0 || q.Threshold > 1 {
		return apperr.Configuration("quality.threshold", "threshold must be within [0,1]")
	}
	return nil
}

func (c *Config) validateEnrollment() error {
	if c.Enrollment.RequiredSamples < 1 {
		return apperr.Configuration("enrollment.required_samples", "must be at least 1")
	}
	if c.Enrollment.DivergenceBound <= 0 || c.Enrollment.DivergenceBound > 1 {
		return apperr.Configuration("enrollment.divergence_bound", "must be within (0,1]")
	}
	return nil
}

func (c *Config) validateML() error {
	m := c.ML
	switch m.Mode {
	case MLModeOff, MLModeSimulated:
	case MLModeHTTP:
		if m.URL == "" {
			return apperr.Configuration("ml.url", "required when ml.mode is http")
		}
	default:
		return apperr.Configuration("ml.mode", fmt.Sprintf("unknown mode %q", m.Mode))
	}
	if m.Timeout <= 0 {
		return apperr.Configuration("ml.timeout", "must be positive")
	}
	if m.MaxConcurrent < 1 {
		return apperr.Configuration("ml.max_concurrent", "must be at least 1")
	}
	if m.SimulatedLatencyMinMS < 0 || m.SimulatedLatencyMinMS > m.SimulatedLatencyMaxMS {
		return apperr.Configuration("ml.simulated_latency_min_ms", "must be within [0, simulated_latency_max_ms]")
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch strings.ToLower(c.Storage.Driver) {
	case repository.DriverMemory:
		return nil
	case repository.DriverSQLite:
		if c.Storage.Path == "" {
			return apperr.Configuration("storage.path", "required for the sqlite driver")
		}
		return nil
	}
	return apperr.Configuration("storage.driver", fmt.Sprintf("unknown driver %q", c.Storage.Driver))
}

func (c *Config) validateAudit() error {
	if c.Audit.QueueSize < 1 {
		return apperr.Configuration("audit.queue_size", "must be at least 1")
	}
	if c.Audit.WorkerCount < 1 {
		return apperr.Configuration("audit.worker_count", "must be at least 1")
	}
	return nil
}

func (c *Config) validateMetrics() error {
	if c.Metrics.Namespace == "" {
		return apperr.Configuration("metrics.namespace", "must not be empty")
	}
	b := c.Metrics.LatencyBucketsMS
	for i := 1; i < len(b); i++ {
		if b[i] <= b[i-1] {
			return apperr.Configuration("metrics.latency_buckets_ms", "buckets must be strictly increasing")
		}
	}
	return nil
}
