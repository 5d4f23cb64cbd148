package features

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Vector flattens f into the named scalar features understood by the ensemble
// scorer. Pressure statistics are present only when the axis was computed.
func Vector(f FeatureSet) map[string]float64 {
	g, t, v := f.Geometry, f.Timing, f.Velocity
	out := map[string]float64{
		"stroke_count":              float64(g.StrokeCount),
		"total_points":              float64(g.PointCount),
		"total_duration_ms":         t.TotalDuration,
		"average_points_per_stroke": perStroke(float64(g.PointCount), g.StrokeCount),
		"average_velocity":          v.Mean,
		"max_velocity":              v.Max,
		"min_velocity":              v.Min,
		"velocity_std":              v.StdDev,
		"width":                     g.BoundingBox.Width,
		"height":                    g.BoundingBox.Height,
		"area":                      g.BoundingBox.Area(),
		"aspect_ratio":              g.AspectRatio,
		"center_x":                  g.Centroid.X,
		"center_y":                  g.Centroid.Y,
		"total_length":              g.TotalLength,
		"average_stroke_length":     perStroke(g.TotalLength, g.StrokeCount),
		"length_variation":          popStd(g.StrokeLengths),
		"average_stroke_duration":   perStroke(t.TotalDuration, len(t.StrokeDurations)),
		"duration_variation":        popStd(t.StrokeDurations),
	}
	if p := f.Pressure; p != nil && !f.Excluded(AxisPressure) {
		out["avg_pressure"] = p.Mean
		out["max_pressure"] = p.Max
		out["min_pressure"] = p.Min
		out["pressure_std"] = sqrt(p.Variance)
	}
	return out
}

// VectorNames returns the keys of Vector(f) in sorted order.
func VectorNames(f FeatureSet) []string {
	v := Vector(f)
	names := make([]string, 0, len(v))
	for k := range v {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func perStroke(total float64, strokes int) float64 {
	if strokes == 0 {
		return 0
	}
	return total / float64(strokes)
}

func popStd(x []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	return stat.PopStdDev(x, nil)
}

func sqrt(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}
