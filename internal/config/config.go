// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - Sections mirror the components they configure; components receive derived
//     values (capture.Limits, comparison.Config, ...) rather than the Config itself.
//   - Validate reports the first invalid setting as an apperr configuration_error.
package config

import (
	"runtime"
	"time"

	"github.com/okian/strokeauth/internal/domain/capture"
	"github.com/okian/strokeauth/internal/domain/comparison"
	"github.com/okian/strokeauth/internal/domain/enrollment"
	"github.com/okian/strokeauth/internal/domain/features"
	"github.com/okian/strokeauth/internal/domain/quality"
	"github.com/okian/strokeauth/internal/domain/replay"
	"github.com/okian/strokeauth/internal/domain/scoring"
	"github.com/okian/strokeauth/internal/domain/similarity"
	"github.com/okian/strokeauth/pkg/metrics"
)

// ML scorer modes.
const (
	MLModeOff       = "off"
	MLModeSimulated = "simulated"
	MLModeHTTP      = "http"
)

// Config contains process configuration.
type Config struct {
	Log        LogConfig        `koanf:"log"`
	Server     ServerConfig     `koanf:"server"`
	Signature  SignatureConfig  `koanf:"signature"`
	Features   FeaturesConfig   `koanf:"features"`
	Quality    QualityConfig    `koanf:"quality"`
	Enrollment EnrollmentConfig `koanf:"enrollment"`
	Comparison ComparisonConfig `koanf:"comparison"`
	ML         MLConfig         `koanf:"ml"`
	Storage    StorageConfig    `koanf:"storage"`
	Replay     ReplayConfig     `koanf:"replay"`
	Audit      AuditConfig      `koanf:"audit"`
	Metrics    MetricsConfig    `koanf:"metrics"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`
	// Format is text or json.
	Format string `koanf:"format"`
}

// MetricsConfig names the exported Prometheus series.
type MetricsConfig struct {
	Namespace string            `koanf:"namespace"`
	Subsystem string            `koanf:"subsystem"`
	Labels    map[string]string `koanf:"labels"` // constant labels on every series

	// LatencyBucketsMS replaces the default latency histogram buckets.
	LatencyBucketsMS []float64 `koanf:"latency_buckets_ms"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr         string `koanf:"addr"`
	MaxBodyBytes int64  `koanf:"max_body_bytes"`

	// StreamIdleTimeout closes a capture stream that sends nothing for this long.
	StreamIdleTimeout time.Duration `koanf:"stream_idle_timeout"`
}

// SignatureConfig holds the structural bounds of a capture.
type SignatureConfig struct {
	MinPoints     int    `koanf:"min_points"`
	MaxPoints     int    `koanf:"max_points"`
	MinStrokes    int    `koanf:"min_strokes"`
	MaxStrokes    int    `koanf:"max_strokes"`
	MinDurationMS uint64 `koanf:"min_duration_ms"`
	MaxDurationMS uint64 `koanf:"max_duration_ms"`
}

// FeaturesConfig tunes extraction.
type FeaturesConfig struct {
	PressureDeadband float64 `koanf:"pressure_deadband"`
	SymmetryGrid     int     `koanf:"symmetry_grid"`
}

// QualityConfig weights the quality score.
type QualityConfig struct {
	DensityWeight    float64 `koanf:"density_weight"`
	PressureWeight   float64 `koanf:"pressure_weight"`
	ComplexityWeight float64 `koanf:"complexity_weight"`
	ExpectedPoints   int     `koanf:"expected_points"`
	TargetVariance   float64 `koanf:"target_variance"`
	Threshold        float64 `koanf:"threshold"`
}

// EnrollmentConfig controls baseline aggregation.
type EnrollmentConfig struct {
	RequiredSamples int     `koanf:"required_samples"`
	StrictMode      bool    `koanf:"strict_mode"`
	DivergenceBound float64 `koanf:"divergence_bound"`
}

// ComparisonConfig drives scoring and decisions.
type ComparisonConfig struct {
	Algorithm   string                `koanf:"algorithm"`
	Weights     comparison.Weights    `koanf:"weights"`
	Thresholds  comparison.Thresholds `koanf:"thresholds"`
	Band        float64               `koanf:"band"`
	BlendWeight float64               `koanf:"blend_weight"`
	WeakAxis    float64               `koanf:"weak_axis"`
	Scales      ScalesConfig          `koanf:"scales"`
}

// ScalesConfig are the similarity normalization floors.
type ScalesConfig struct {
	Rhythm float64 `koanf:"rhythm"`
	Speed  float64 `koanf:"speed"`
	Length float64 `koanf:"length"`
}

// MLConfig selects and bounds the external scorer.
type MLConfig struct {
	Mode          string        `koanf:"mode"`
	URL           string        `koanf:"url"`
	Timeout       time.Duration `koanf:"timeout"`
	Retry         bool          `koanf:"retry"`
	MaxConcurrent int           `koanf:"max_concurrent"`

	// SimulatedLatencyMinMS and SimulatedLatencyMaxMS bound the simulated scorer.
	SimulatedLatencyMinMS int `koanf:"simulated_latency_min_ms"`
	SimulatedLatencyMaxMS int `koanf:"simulated_latency_max_ms"`
}

// StorageConfig selects the baseline and attempt store.
type StorageConfig struct {
	Driver string `koanf:"driver"`
	Path   string `koanf:"path"`
}

// ReplayConfig bounds the replay guard.
type ReplayConfig struct {
	MaxSessions int `koanf:"max_sessions"`
}

// AuditConfig sizes the asynchronous attempt log.
type AuditConfig struct {
	QueueSize   int `koanf:"queue_size"`
	WorkerCount int `koanf:"worker_count"`
}

// New creates a Config with defaults.
func New() *Config {
	limits := capture.DefaultLimits()
	q := quality.DefaultConfig()
	e := enrollment.DefaultConfig()
	c := comparison.DefaultConfig()
	return &Config{
		Log:    LogConfig{Level: "info", Format: "text"},
		Server: ServerConfig{Addr: ":9080", MaxBodyBytes: 4 << 20, StreamIdleTimeout: 30 * time.Second},
		Signature: SignatureConfig{
			MinPoints:     limits.MinPoints,
			MaxPoints:     limits.MaxPoints,
			MinStrokes:    limits.MinStrokes,
			MaxStrokes:    limits.MaxStrokes,
			MinDurationMS: limits.MinDurationMS,
			MaxDurationMS: limits.MaxDurationMS,
		},
		Features: FeaturesConfig{
			PressureDeadband: features.DefaultDeadband,
			SymmetryGrid:     features.DefaultSymmetryGrid,
		},
		Quality: QualityConfig{
			DensityWeight:    q.DensityWeight,
			PressureWeight:   q.PressureWeight,
			ComplexityWeight: q.ComplexityWeight,
			ExpectedPoints:   q.ExpectedPoints,
			TargetVariance:   q.TargetVariance,
			Threshold:        q.Threshold,
		},
		Enrollment: EnrollmentConfig{
			RequiredSamples: e.RequiredSamples,
			StrictMode:      e.StrictMode,
			DivergenceBound: e.DivergenceBound,
		},
		Comparison: ComparisonConfig{
			Algorithm:   string(c.Algorithm),
			Weights:     c.Weights,
			Thresholds:  c.Thresholds,
			Band:        c.Band,
			BlendWeight: c.BlendWeight,
			WeakAxis:    c.WeakAxis,
			Scales:      ScalesConfig{Rhythm: c.Scales.Rhythm, Speed: c.Scales.Speed, Length: c.Scales.Length},
		},
		ML: MLConfig{
			Mode:                  MLModeOff,
			Timeout:               scoring.DefaultTimeout,
			Retry:                 true,
			MaxConcurrent:         scoring.DefaultMaxConcurrent,
			SimulatedLatencyMinMS: 80,
			SimulatedLatencyMaxMS: 150,
		},
		Storage: StorageConfig{Driver: "memory", Path: "strokeauth.db"},
		Replay:  ReplayConfig{MaxSessions: replay.DefaultMaxSize},
		Audit:   AuditConfig{QueueSize: 10_000, WorkerCount: runtime.NumCPU()},
		Metrics: MetricsConfig{Namespace: "strokeauth", Subsystem: "core"},
	}
}

// MetricsOptions derives the metrics manager options.
func (c *Config) MetricsOptions() []metrics.Option {
	m := c.Metrics
	return []metrics.Option{
		metrics.WithNamespace(m.Namespace),
		metrics.WithSubsystem(m.Subsystem),
		metrics.WithCustomLabels(m.Labels),
		metrics.WithHistogramBuckets(m.LatencyBucketsMS),
	}
}

// CaptureLimits derives the validator bounds.
func (c *Config) CaptureLimits() capture.Limits {
	s := c.Signature
	return capture.Limits{
		MinPoints:     s.MinPoints,
		MaxPoints:     s.MaxPoints,
		MinStrokes:    s.MinStrokes,
		MaxStrokes:    s.MaxStrokes,
		MinDurationMS: s.MinDurationMS,
		MaxDurationMS: s.MaxDurationMS,
	}
}

// ExtractorOptions derives the extractor options.
func (c *Config) ExtractorOptions() []features.Option {
	return []features.Option{
		features.WithDeadband(c.Features.PressureDeadband),
		features.WithSymmetryGrid(c.Features.SymmetryGrid),
	}
}

// QualityConfig derives the assessor settings.
func (c *Config) QualityConfig() quality.Config {
	q := c.Quality
	return quality.Config{
		DensityWeight:    q.DensityWeight,
		PressureWeight:   q.PressureWeight,
		ComplexityWeight: q.ComplexityWeight,
		ExpectedPoints:   q.ExpectedPoints,
		TargetVariance:   q.TargetVariance,
		Threshold:        q.Threshold,
	}
}

// EnrollmentConfig derives the aggregator settings. Enrollment shares the
// comparison algorithm and scales so templates fold the way they are compared.
func (c *Config) EnrollmentConfig() enrollment.Config {
	return enrollment.Config{
		RequiredSamples: c.Enrollment.RequiredSamples,
		StrictMode:      c.Enrollment.StrictMode,
		DivergenceBound: c.Enrollment.DivergenceBound,
		Algorithm:       similarity.Algorithm(c.Comparison.Algorithm),
		Scales:          c.scales(),
	}
}

// ComparisonConfig derives the comparator settings.
func (c *Config) ComparisonConfig() comparison.Config {
	cc := c.Comparison
	blend := cc.BlendWeight
	if c.ML.Mode == MLModeOff {
		blend = 0
	}
	return comparison.Config{
		Algorithm:   similarity.Algorithm(cc.Algorithm),
		Weights:     cc.Weights,
		Thresholds:  cc.Thresholds,
		Band:        cc.Band,
		BlendWeight: blend,
		Scales:      c.scales(),
		WeakAxis:    cc.WeakAxis,
	}
}

func (c *Config) scales() similarity.Scales {
	s := c.Comparison.Scales
	return similarity.Scales{Rhythm: s.Rhythm, Speed: s.Speed, Length: s.Length}
}
