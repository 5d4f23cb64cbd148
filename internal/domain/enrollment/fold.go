package enrollment

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/okian/strokeauth/internal/domain/features"
	"github.com/okian/strokeauth/internal/domain/similarity"
)

// distance is the mean per-axis distance over axes active on both sides.
func distance(a, b features.FeatureSet, alg similarity.Algorithm, sc similarity.Scales) float64 {
	var sum float64
	n := 0
	for _, axis := range features.Axes() {
		if a.Excluded(axis) || b.Excluded(axis) {
			continue
		}
		sum += 1 - similarity.Axis(axis, a, b, alg, sc)
		n++
	}
	if n == 0 {
		return 1
	}
	return sum / float64(n)
}

// medoid returns the index of the sample with the smallest total distance to
// all others. Ties keep the earliest sample.
func medoid(samples []features.FeatureSet, alg similarity.Algorithm, sc similarity.Scales) int {
	best, bestSum := 0, math.Inf(1)
	for i := range samples {
		var sum float64
		for j := range samples {
			if i != j {
				sum += distance(samples[i], samples[j], alg, sc)
			}
		}
		if sum < bestSum {
			best, bestSum = i, sum
		}
	}
	return best
}

// median of x; x is not modified.
func median(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	s := slices.Clone(x)
	slices.Sort(s)
	m := len(s) / 2
	if len(s)%2 == 1 {
		return s[m]
	}
	return (s[m-1] + s[m]) / 2
}

func medianOf(samples []features.FeatureSet, get func(features.FeatureSet) float64) float64 {
	x := make([]float64, len(samples))
	for i, s := range samples {
		x[i] = get(s)
	}
	return median(x)
}

func medianInt(samples []features.FeatureSet, get func(features.FeatureSet) int) int {
	return int(math.Round(medianOf(samples, func(f features.FeatureSet) float64 { return float64(get(f)) })))
}

// fold builds the template: every scalar is the per-field median over all
// samples, sequences come from the medoid, and an axis excluded by any sample
// stays excluded.
func fold(samples []features.FeatureSet, alg similarity.Algorithm, sc similarity.Scales) features.FeatureSet {
	t := samples[medoid(samples, alg, sc)].Clone()
	for _, s := range samples {
		for _, axis := range s.ExcludedAxes {
			if !t.Excluded(axis) {
				t.ExcludedAxes = append(t.ExcludedAxes, axis)
				t.ExclusionReasons[axis] = s.ExclusionReasons[axis]
			}
		}
	}
	slices.Sort(t.ExcludedAxes)

	if t.Excluded(features.AxisPressure) {
		t.Pressure = nil
		t.Security.PressureConsistency = 0
	} else if t.Pressure != nil {
		p := func(get func(*features.PressureDynamics) float64) float64 {
			return medianOf(samples, func(f features.FeatureSet) float64 { return get(f.Pressure) })
		}
		t.Pressure.Min = p(func(d *features.PressureDynamics) float64 { return d.Min })
		t.Pressure.Max = p(func(d *features.PressureDynamics) float64 { return d.Max })
		t.Pressure.Mean = p(func(d *features.PressureDynamics) float64 { return d.Mean })
		t.Pressure.Variance = p(func(d *features.PressureDynamics) float64 { return d.Variance })
		t.Pressure.Peaks = medianInt(samples, func(f features.FeatureSet) int { return f.Pressure.Peaks })
		t.Pressure.Valleys = medianInt(samples, func(f features.FeatureSet) int { return f.Pressure.Valleys })
		t.Security.PressureConsistency = medianOf(samples, func(f features.FeatureSet) float64 { return f.Security.PressureConsistency })
	}

	t.Timing.TotalDuration = medianOf(samples, func(f features.FeatureSet) float64 { return f.Timing.TotalDuration })
	t.Timing.AverageSpeed = medianOf(samples, func(f features.FeatureSet) float64 { return f.Timing.AverageSpeed })
	t.Timing.Rhythm = medianOf(samples, func(f features.FeatureSet) float64 { return f.Timing.Rhythm })
	t.Timing.Consistency = medianOf(samples, func(f features.FeatureSet) float64 { return f.Timing.Consistency })

	g := &t.Geometry
	g.BoundingBox.MinX = medianOf(samples, func(f features.FeatureSet) float64 { return f.Geometry.BoundingBox.MinX })
	g.BoundingBox.MinY = medianOf(samples, func(f features.FeatureSet) float64 { return f.Geometry.BoundingBox.MinY })
	g.BoundingBox.MaxX = medianOf(samples, func(f features.FeatureSet) float64 { return f.Geometry.BoundingBox.MaxX })
	g.BoundingBox.MaxY = medianOf(samples, func(f features.FeatureSet) float64 { return f.Geometry.BoundingBox.MaxY })
	g.BoundingBox.Width = medianOf(samples, func(f features.FeatureSet) float64 { return f.Geometry.BoundingBox.Width })
	g.BoundingBox.Height = medianOf(samples, func(f features.FeatureSet) float64 { return f.Geometry.BoundingBox.Height })
	g.Centroid.X = medianOf(samples, func(f features.FeatureSet) float64 { return f.Geometry.Centroid.X })
	g.Centroid.Y = medianOf(samples, func(f features.FeatureSet) float64 { return f.Geometry.Centroid.Y })
	g.AspectRatio = medianOf(samples, func(f features.FeatureSet) float64 { return f.Geometry.AspectRatio })
	g.TotalLength = medianOf(samples, func(f features.FeatureSet) float64 { return f.Geometry.TotalLength })
	g.NormalizedLength = medianOf(samples, func(f features.FeatureSet) float64 { return f.Geometry.NormalizedLength })
	g.Symmetry.Horizontal = medianOf(samples, func(f features.FeatureSet) float64 { return f.Geometry.Symmetry.Horizontal })
	g.Symmetry.Vertical = medianOf(samples, func(f features.FeatureSet) float64 { return f.Geometry.Symmetry.Vertical })
	g.StrokeCount = medianInt(samples, func(f features.FeatureSet) int { return f.Geometry.StrokeCount })
	g.PointCount = medianInt(samples, func(f features.FeatureSet) int { return f.Geometry.PointCount })

	v := &t.Velocity
	v.Mean = medianOf(samples, func(f features.FeatureSet) float64 { return f.Velocity.Mean })
	v.Max = medianOf(samples, func(f features.FeatureSet) float64 { return f.Velocity.Max })
	v.Min = medianOf(samples, func(f features.FeatureSet) float64 { return f.Velocity.Min })
	v.StdDev = medianOf(samples, func(f features.FeatureSet) float64 { return f.Velocity.StdDev })
	v.Samples = medianInt(samples, func(f features.FeatureSet) int { return f.Velocity.Samples })

	t.Security.VelocityConsistency = medianOf(samples, func(f features.FeatureSet) float64 { return f.Security.VelocityConsistency })
	t.Security.AnomalyScore = features.NeutralScore
	t.Security.AuthenticityScore = features.NeutralScore
	return t
}

// variance is the mean squared per-axis distance of the samples to the template.
func variance(template features.FeatureSet, samples []features.FeatureSet, alg similarity.Algorithm, sc similarity.Scales) map[features.Axis]float64 {
	out := make(map[features.Axis]float64, 4)
	for _, axis := range features.Axes() {
		if template.Excluded(axis) {
			continue
		}
		var sum float64
		for _, s := range samples {
			d := 1 - similarity.Axis(axis, s, template, alg, sc)
			sum += d * d
		}
		out[axis] = sum / float64(len(samples))
	}
	return out
}

func consistencyReport(samples []features.FeatureSet) Consistency {
	vel := make([]float64, len(samples))
	strokes := make([]float64, len(samples))
	area := make([]float64, len(samples))
	for i, s := range samples {
		vel[i] = s.Velocity.Mean
		strokes[i] = float64(s.Geometry.StrokeCount)
		area[i] = s.Geometry.BoundingBox.Area()
	}
	return Consistency{Velocity: oneMinusCV(vel), StrokeCount: oneMinusCV(strokes), Area: oneMinusCV(area)}
}

func oneMinusCV(x []float64) float64 {
	if len(x) < 2 {
		return 1
	}
	mean, v := stat.PopMeanVariance(x, nil)
	if mean <= 0 {
		return 0
	}
	return math.Max(0, math.Min(1, 1-math.Sqrt(math.Max(0, v))/mean))
}
