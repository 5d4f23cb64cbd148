package comparison

import (
	"fmt"
	"strings"

	"github.com/okian/strokeauth/internal/domain/apperr"
	"github.com/okian/strokeauth/internal/domain/features"
	"github.com/okian/strokeauth/internal/domain/similarity"
)

// Mode selects the decision threshold.
type Mode string

// Comparison modes.
const (
	ModeEnrollment     Mode = "enrollment"
	ModeVerification   Mode = "verification"
	ModeAuthentication Mode = "authentication"
)

// ParseMode accepts a mode name in any case; empty means authentication.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuthentication, nil
	case ModeEnrollment, ModeVerification, ModeAuthentication:
		return m, nil
	default:
		return "", apperr.Invalid("comparison.mode", "mode", fmt.Sprintf("unknown mode %q", s))
	}
}

// Weights are the per-axis contributions before renormalization.
type Weights struct {
	Pressure float64 `koanf:"pressure" json:"pressure"`
	Timing   float64 `koanf:"timing" json:"timing"`
	Geometry float64 `koanf:"geometry" json:"geometry"`
	Velocity float64 `koanf:"velocity" json:"velocity"`
}

// Of returns the weight of axis.
func (w Weights) Of(axis features.Axis) float64 {
	switch axis {
	case features.AxisPressure:
		return w.Pressure
	case features.AxisTiming:
		return w.Timing
	case features.AxisGeometry:
		return w.Geometry
	case features.AxisVelocity:
		return w.Velocity
	}
	return 0
}

// Thresholds are the accept thresholds per mode.
type Thresholds struct {
	Authentication float64 `koanf:"authentication" json:"authentication"`
	Verification   float64 `koanf:"verification" json:"verification"`
	Enrollment     float64 `koanf:"enrollment" json:"enrollment"`
}

// For returns the threshold of mode.
func (t Thresholds) For(mode Mode) float64 {
	switch mode {
	case ModeEnrollment:
		return t.Enrollment
	case ModeVerification:
		return t.Verification
	default:
		return t.Authentication
	}
}

// Config drives the comparator.
type Config struct {
	Algorithm   similarity.Algorithm
	Weights     Weights
	Thresholds  Thresholds
	Band        float64
	BlendWeight float64
	Scales      similarity.Scales
	// WeakAxis is the score under which an active axis is reported as weak.
	WeakAxis float64
}

// DefaultConfig returns the default comparator settings.
func DefaultConfig() Config {
	return Config{
		Algorithm:   similarity.Euclidean,
		Weights:     Weights{Pressure: 0.3, Timing: 0.3, Geometry: 0.3, Velocity: 0.1},
		Thresholds:  Thresholds{Authentication: 0.80, Verification: 0.85, Enrollment: 0.70},
		Band:        0.05,
		BlendWeight: 0.3,
		Scales:      similarity.DefaultScales(),
		WeakAxis:    0.5,
	}
}

// Validate reports the first invalid setting as a configuration error.
func (c Config) Validate() error {
	if _, err := similarity.ParseAlgorithm(string(c.Algorithm)); err != nil {
		return apperr.Configuration("comparison.algorithm", err.Error())
	}
	var sum float64
	for _, axis := range features.Axes() {
		w := c.Weights.Of(axis)
		if w < 0 {
			return apperr.Configuration("comparison.weights."+string(axis), "weight must not be negative")
		}
		sum += w
	}
	if sum <= 0 {
		return apperr.Configuration("comparison.weights", "at least one weight must be positive")
	}
	for _, mode := range []Mode{ModeAuthentication, ModeVerification, ModeEnrollment} {
		if t := c.Thresholds.For(mode); t < 0 || t > 1 {
			return apperr.Configuration("comparison.thresholds."+string(mode), "threshold must be within [0,1]")
		}
	}
	if c.Band < 0 || c.Band >= 0.5 {
		return apperr.Configuration("comparison.band", "band must be within [0,0.5)")
	}
	if c.BlendWeight < 0 || c.BlendWeight > 1 {
		return apperr.Configuration("comparison.blend_weight", "blend weight must be within [0,1]")
	}
	if c.WeakAxis < 0 || c.WeakAxis > 1 {
		return apperr.Configuration("comparison.weak_axis", "weak axis score must be within [0,1]")
	}
	return nil
}
