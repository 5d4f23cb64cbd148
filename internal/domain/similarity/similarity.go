// Package similarity computes per-axis similarity between two feature sets.
//
// Every axis score is 1 - normalized distance, clipped to [0,1], and every
// distance is symmetric in its arguments.
package similarity

import (
	"fmt"
	"math"

	"github.com/okian/strokeauth/internal/domain/features"
)

// Algorithm selects how the geometry axis is compared.
type Algorithm string

// Supported algorithms.
const (
	Euclidean Algorithm = "euclidean"
	DTW       Algorithm = "dtw"
	Hybrid    Algorithm = "hybrid"
)

// ParseAlgorithm validates an algorithm name.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(s); a {
	case Euclidean, DTW, Hybrid:
		return a, nil
	default:
		return "", fmt.Errorf("unknown comparison algorithm %q", s)
	}
}

// Scales are the floors used to normalize relative distances.
type Scales struct {
	Rhythm float64 // rhythm difference counted as fully different
	Speed  float64 // px/ms, floor of the speed denominator
	Length float64 // canvas diagonals, floor of the length denominator
}

// DefaultScales returns the default normalization constants.
func DefaultScales() Scales {
	return Scales{Rhythm: 0.5, Speed: 0.05, Length: 0.1}
}

// Pressure compares (mean, variance). A nil side scores 0.
func Pressure(a, b *features.PressureDynamics) float64 {
	if a == nil || b == nil {
		return 0
	}
	return score(math.Hypot(a.Mean-b.Mean, a.Variance-b.Variance))
}

// Timing compares rhythm and average speed.
func Timing(a, b features.TimingPatterns, sc Scales) float64 {
	dr := capped(math.Abs(a.Rhythm-b.Rhythm), sc.Rhythm)
	ds := relative(a.AverageSpeed, b.AverageSpeed, sc.Speed)
	return score(rms(dr, ds))
}

// Geometry compares aspect ratio, canvas-normalized length and symmetry.
func Geometry(a, b features.GeometricProperties, sc Scales) float64 {
	da := math.Abs(math.Atan(a.AspectRatio)-math.Atan(b.AspectRatio)) / (math.Pi / 2)
	dl := relative(a.NormalizedLength, b.NormalizedLength, sc.Length)
	dsym := rms(
		math.Abs(a.Symmetry.Horizontal-b.Symmetry.Horizontal)/2,
		math.Abs(a.Symmetry.Vertical-b.Symmetry.Vertical)/2,
	)
	return score(rms(da, dl, dsym))
}

// GeometryDTW compares turning-angle sequences by dynamic time warping.
func GeometryDTW(a, b features.GeometricProperties) float64 {
	return score(AngleDTW(a.Angles, b.Angles))
}

// Velocity compares velocity consistency.
func Velocity(a, b features.SecurityIndicators) float64 {
	return score(math.Abs(a.VelocityConsistency - b.VelocityConsistency))
}

// Axis scores one axis of a against b under alg. Excluded axes score 0.
func Axis(axis features.Axis, a, b features.FeatureSet, alg Algorithm, sc Scales) float64 {
	if a.Excluded(axis) || b.Excluded(axis) {
		return 0
	}
	switch axis {
	case features.AxisPressure:
		return Pressure(a.Pressure, b.Pressure)
	case features.AxisTiming:
		return Timing(a.Timing, b.Timing, sc)
	case features.AxisGeometry:
		switch alg {
		case DTW:
			return GeometryDTW(a.Geometry, b.Geometry)
		case Hybrid:
			return (Geometry(a.Geometry, b.Geometry, sc) + GeometryDTW(a.Geometry, b.Geometry)) / 2
		default:
			return Geometry(a.Geometry, b.Geometry, sc)
		}
	case features.AxisVelocity:
		return Velocity(a.Security, b.Security)
	default:
		return 0
	}
}

// Scores returns Axis for every axis.
func Scores(a, b features.FeatureSet, alg Algorithm, sc Scales) map[features.Axis]float64 {
	out := make(map[features.Axis]float64, 4)
	for _, axis := range features.Axes() {
		out[axis] = Axis(axis, a, b, alg, sc)
	}
	return out
}

func score(distance float64) float64 {
	if math.IsNaN(distance) {
		return 0
	}
	return math.Max(0, math.Min(1, 1-distance))
}

// relative is |a-b| / max(|a|, |b|, floor), capped at 1.
func relative(a, b, floor float64) float64 {
	den := math.Max(math.Max(math.Abs(a), math.Abs(b)), floor)
	if den <= 0 {
		return 0
	}
	return math.Min(1, math.Abs(a-b)/den)
}

func capped(d, scale float64) float64 {
	if scale <= 0 {
		return math.Min(1, d)
	}
	return math.Min(1, d/scale)
}

func rms(v ...float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	return math.Sqrt(s / float64(len(v)))
}
