package features

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/okian/strokeauth/internal/domain/capture"
)

// Extraction defaults.
const (
	DefaultDeadband     = 0.05
	DefaultSymmetryGrid = 15

	epsilon = 1e-6
)

// Option configures an Extractor.
type Option func(*Extractor)

// WithDeadband sets the pressure change required to confirm a peak or valley.
func WithDeadband(d float64) Option {
	return func(e *Extractor) {
		if d >= 0 {
			e.deadband = d
		}
	}
}

// WithSymmetryGrid sets the side of the density grid used for symmetry.
func WithSymmetryGrid(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.grid = n
		}
	}
}

// Extractor computes FeatureSets. It holds no mutable state.
type Extractor struct {
	deadband float64
	grid     int
}

// NewExtractor creates an extractor with defaults overridden by opts.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{deadband: DefaultDeadband, grid: DefaultSymmetryGrid}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract computes the FeatureSet of a validated session. It is deterministic
// and defined for degenerate input: empty or single-point strokes and zero
// durations produce zero-valued features instead of NaN.
func (e *Extractor) Extract(s capture.Session) FeatureSet {
	fs := FeatureSet{
		AlgorithmVersion: AlgorithmVersion,
		ExcludedAxes:     []Axis{},
		ExclusionReasons: map[Axis]string{},
	}

	fs.Geometry = e.geometry(s)
	fs.Timing = timing(s, fs.Geometry.TotalLength)
	speeds := instantSpeeds(s)
	fs.Velocity = velocityProfile(speeds)

	fs.Security = SecurityIndicators{
		VelocityConsistency: consistency(speeds),
		AnomalyScore:        NeutralScore,
		AuthenticityScore:   NeutralScore,
	}
	if len(speeds) == 0 {
		fs.exclude(AxisVelocity, ReasonNoMotionSamples)
	}

	if s.DeviceCapabilities.SupportsPressure {
		pressures := allPressures(s)
		fs.Pressure = e.pressure(pressures)
		fs.Security.PressureConsistency = consistency(pressures)
	} else {
		fs.exclude(AxisPressure, ReasonNoPressureSupport)
	}
	return fs
}

func allPressures(s capture.Session) []float64 {
	out := make([]float64, 0, s.PointCount())
	for _, st := range s.Strokes {
		for _, p := range st.Points {
			out = append(out, p.Pressure)
		}
	}
	return out
}

func (e *Extractor) pressure(ps []float64) *PressureDynamics {
	pd := &PressureDynamics{Changes: []float64{}}
	if len(ps) == 0 {
		return pd
	}
	pd.Min = floats.Min(ps)
	pd.Max = floats.Max(ps)
	pd.Mean, pd.Variance = stat.PopMeanVariance(ps, nil)
	pd.Variance = math.Max(0, pd.Variance)
	// Rounding can push the mean a hair past a bound on constant input.
	pd.Mean = math.Max(pd.Min, math.Min(pd.Max, pd.Mean))
	if len(ps) > 1 {
		pd.Changes = make([]float64, len(ps)-1)
		floats.SubTo(pd.Changes, ps[1:], ps[:len(ps)-1])
	}
	pd.Peaks, pd.Valleys = turningPoints(ps, e.deadband)
	return pd
}

// turningPoints counts local maxima and minima that are confirmed by a
// reversal of at least deadband.
func turningPoints(x []float64, deadband float64) (peaks, valleys int) {
	if len(x) < 3 {
		return 0, 0
	}
	dir := 0
	lo, hi := x[0], x[0]
	ext := x[0]
	for _, v := range x[1:] {
		switch dir {
		case 0:
			lo, hi = math.Min(lo, v), math.Max(hi, v)
			if v-lo >= deadband && v-lo > 0 {
				dir, ext = 1, v
			} else if hi-v >= deadband && hi-v > 0 {
				dir, ext = -1, v
			}
		case 1:
			if v > ext {
				ext = v
			} else if ext-v >= deadband && ext-v > 0 {
				peaks++
				dir, ext = -1, v
			}
		case -1:
			if v < ext {
				ext = v
			} else if v-ext >= deadband && v-ext > 0 {
				valleys++
				dir, ext = 1, v
			}
		}
	}
	return peaks, valleys
}

func timing(s capture.Session, totalLength float64) TimingPatterns {
	t := TimingPatterns{
		StrokeDurations: make([]float64, len(s.Strokes)),
		PauseDurations:  []float64{},
	}
	for i, st := range s.Strokes {
		t.StrokeDurations[i] = float64(st.Duration())
		if i > 0 {
			gap := int64(st.StartTime) - int64(s.Strokes[i-1].EndTime)
			t.PauseDurations = append(t.PauseDurations, float64(max(gap, 0)))
		}
	}
	t.TotalDuration = floats.Sum(t.StrokeDurations)
	if t.TotalDuration > 0 {
		t.AverageSpeed = totalLength / t.TotalDuration
	}
	if len(t.StrokeDurations) >= 2 {
		mean, std := meanStd(t.StrokeDurations)
		if mean > 0 {
			t.Rhythm = std / mean
		}
	}
	t.Consistency = clamp01(1 - t.Rhythm)
	return t
}

// instantSpeeds returns segment speeds within strokes, skipping zero time steps.
func instantSpeeds(s capture.Session) []float64 {
	var out []float64
	for _, st := range s.Strokes {
		for j := 1; j < len(st.Points); j++ {
			a, b := st.Points[j-1], st.Points[j]
			if b.Timestamp <= a.Timestamp {
				continue
			}
			out = append(out, math.Hypot(b.X-a.X, b.Y-a.Y)/float64(b.Timestamp-a.Timestamp))
		}
	}
	return out
}

func velocityProfile(speeds []float64) VelocityProfile {
	if len(speeds) == 0 {
		return VelocityProfile{}
	}
	mean, std := meanStd(speeds)
	return VelocityProfile{
		Mean:    mean,
		Max:     floats.Max(speeds),
		Min:     floats.Min(speeds),
		StdDev:  std,
		Samples: len(speeds),
	}
}

// consistency is 1 - coefficient of variation, clamped to [0,1]; 0 when undefined.
func consistency(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	mean, std := meanStd(x)
	if mean <= 0 {
		return 0
	}
	return clamp01(1 - std/mean)
}

// meanStd returns the mean and population standard deviation of x.
func meanStd(x []float64) (float64, float64) {
	mean, variance := stat.PopMeanVariance(x, nil)
	return mean, math.Sqrt(math.Max(0, variance))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
