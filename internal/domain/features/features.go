// Package features turns a validated capture into a normalized FeatureSet.
//
// A FeatureSet holds four comparison axes (pressure, timing, geometry,
// velocity) plus security indicators. Axes the device cannot measure are
// listed in ExcludedAxes with a reason instead of being filled with zeros.
// Every FeatureSet is tagged with AlgorithmVersion; sets produced by a
// different version must not be mixed.
package features

import (
	"slices"

	"github.com/okian/strokeauth/internal/domain/apperr"
)

// AlgorithmVersion identifies the extraction formulas in this package.
const AlgorithmVersion = "stroke-features/1.0"

// Axis is one comparison dimension.
type Axis string

// Comparison axes.
const (
	AxisPressure Axis = "pressure"
	AxisTiming   Axis = "timing"
	AxisGeometry Axis = "geometry"
	AxisVelocity Axis = "velocity"
)

// Axes returns every axis in canonical order.
func Axes() []Axis {
	return []Axis{AxisPressure, AxisTiming, AxisGeometry, AxisVelocity}
}

// Exclusion reasons.
const (
	ReasonNoPressureSupport = "no_pressure_support"
	ReasonNoMotionSamples   = "no_motion_samples"
)

// PressureDynamics summarizes point pressures.
type PressureDynamics struct {
	Min      float64   `json:"min"`
	Max      float64   `json:"max"`
	Mean     float64   `json:"mean"`
	Variance float64   `json:"variance"`
	Changes  []float64 `json:"changes"`
	Peaks    int       `json:"peaks"`
	Valleys  int       `json:"valleys"`
}

// TimingPatterns summarizes stroke timing. Durations are in ms, speed in px/ms.
type TimingPatterns struct {
	TotalDuration   float64   `json:"totalDuration"`
	StrokeDurations []float64 `json:"strokeDurations"`
	PauseDurations  []float64 `json:"pauseDurations"`
	AverageSpeed    float64   `json:"averageSpeed"`
	Rhythm          float64   `json:"rhythm"`
	Consistency     float64   `json:"consistency"`
}

// BoundingBox is the axis-aligned extent of all points.
type BoundingBox struct {
	MinX   float64 `json:"minX"`
	MinY   float64 `json:"minY"`
	MaxX   float64 `json:"maxX"`
	MaxY   float64 `json:"maxY"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns Width*Height.
func (b BoundingBox) Area() float64 { return b.Width * b.Height }

// Vec2 is a 2D point or vector.
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Symmetry holds mirror correlations in [-1,1]; 1 is perfectly symmetric.
type Symmetry struct {
	Horizontal float64 `json:"horizontal"`
	Vertical   float64 `json:"vertical"`
}

// GeometricProperties summarizes the drawn shape.
type GeometricProperties struct {
	BoundingBox      BoundingBox `json:"boundingBox"`
	Centroid         Vec2        `json:"centroid"`
	AspectRatio      float64     `json:"aspectRatio"`
	TotalLength      float64     `json:"totalLength"`
	NormalizedLength float64     `json:"normalizedLength"`
	StrokeLengths    []float64   `json:"strokeLengths"`
	Angles           []float64   `json:"angles"`
	Curvature        []float64   `json:"curvature"`
	Symmetry         Symmetry    `json:"symmetry"`
	StrokeCount      int         `json:"strokeCount"`
	PointCount       int         `json:"pointCount"`
}

// VelocityProfile summarizes instantaneous speeds in px/ms.
type VelocityProfile struct {
	Mean    float64 `json:"mean"`
	Max     float64 `json:"max"`
	Min     float64 `json:"min"`
	StdDev  float64 `json:"stdDev"`
	Samples int     `json:"samples"`
}

// SecurityIndicators carry consistency measures and, after a comparison,
// the anomaly and authenticity scores. Extraction leaves the latter neutral.
type SecurityIndicators struct {
	VelocityConsistency float64 `json:"velocityConsistency"`
	PressureConsistency float64 `json:"pressureConsistency"`
	AnomalyScore        float64 `json:"anomalyScore"`
	AuthenticityScore   float64 `json:"authenticityScore"`
}

// NeutralScore is the anomaly/authenticity value before any comparison.
const NeutralScore = 0.5

// FeatureSet is the full feature representation of one capture.
type FeatureSet struct {
	AlgorithmVersion string              `json:"algorithmVersion"`
	Pressure         *PressureDynamics   `json:"pressure,omitempty"`
	Timing           TimingPatterns      `json:"timing"`
	Geometry         GeometricProperties `json:"geometry"`
	Velocity         VelocityProfile     `json:"velocity"`
	Security         SecurityIndicators  `json:"security"`
	ExcludedAxes     []Axis              `json:"excludedAxes"`
	ExclusionReasons map[Axis]string     `json:"exclusionReasons"`
}

// Excluded reports whether axis could not be computed.
func (f FeatureSet) Excluded(axis Axis) bool {
	return slices.Contains(f.ExcludedAxes, axis)
}

// exclude records axis as excluded, keeping ExcludedAxes sorted.
func (f *FeatureSet) exclude(axis Axis, reason string) {
	if f.ExclusionReasons == nil {
		f.ExclusionReasons = map[Axis]string{}
	}
	if !f.Excluded(axis) {
		f.ExcludedAxes = append(f.ExcludedAxes, axis)
		slices.Sort(f.ExcludedAxes)
	}
	f.ExclusionReasons[axis] = reason
}

// Clone returns a deep copy.
func (f FeatureSet) Clone() FeatureSet {
	out := f
	if f.Pressure != nil {
		p := *f.Pressure
		p.Changes = slices.Clone(f.Pressure.Changes)
		out.Pressure = &p
	}
	out.Timing.StrokeDurations = slices.Clone(f.Timing.StrokeDurations)
	out.Timing.PauseDurations = slices.Clone(f.Timing.PauseDurations)
	out.Geometry.StrokeLengths = slices.Clone(f.Geometry.StrokeLengths)
	out.Geometry.Angles = slices.Clone(f.Geometry.Angles)
	out.Geometry.Curvature = slices.Clone(f.Geometry.Curvature)
	out.ExcludedAxes = slices.Clone(f.ExcludedAxes)
	if f.ExclusionReasons != nil {
		out.ExclusionReasons = make(map[Axis]string, len(f.ExclusionReasons))
		for k, v := range f.ExclusionReasons {
			out.ExclusionReasons[k] = v
		}
	}
	return out
}

// CheckVersion rejects feature sets produced by another algorithm version.
func CheckVersion(op string, sets ...FeatureSet) error {
	for _, f := range sets {
		if f.AlgorithmVersion != AlgorithmVersion {
			return apperr.Invalid(op, "algorithmVersion",
				"feature set version "+quote(f.AlgorithmVersion)+" does not match "+AlgorithmVersion)
		}
	}
	return nil
}

func quote(s string) string {
	if s == "" {
		return `""`
	}
	return `"` + s + `"`
}
