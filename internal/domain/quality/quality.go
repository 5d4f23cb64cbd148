// Package quality scores how usable a single sample is for enrollment.
package quality

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/okian/strokeauth/internal/domain/features"
)

// Defaults for the quality score.
const (
	DefaultDensityWeight    = 0.4
	DefaultPressureWeight   = 0.2
	DefaultComplexityWeight = 0.4
	DefaultExpectedPoints   = 50
	DefaultTargetVariance   = 4e-4
	DefaultThreshold        = 0.7

	// pressureMissingCredit is the pressure component when the axis is excluded.
	pressureMissingCredit = 0.6
)

// Issue codes.
const (
	IssueLowPointDensity   = "low_point_density"
	IssueNoPressureData    = "no_pressure_data"
	IssueLowComplexity     = "low_geometric_complexity"
	IssueBelowThreshold    = "below_quality_threshold"
	IssueInconsistentPrior = "inconsistent_with_prior_samples"
)

var recommendations = map[string]string{
	IssueLowPointDensity: "draw more slowly or use a larger signature so more points are captured",
	IssueNoPressureData:  "use a pressure-sensitive stylus if one is available",
	IssueLowComplexity:   "use your full signature rather than a short mark",
	IssueBelowThreshold:  "please provide the sample again",
}

// Recommendation returns the user-facing advice for an issue code.
func Recommendation(issue string) string { return recommendations[issue] }

// Config holds the score weights and threshold.
type Config struct {
	DensityWeight    float64
	PressureWeight   float64
	ComplexityWeight float64
	ExpectedPoints   int
	TargetVariance   float64
	Threshold        float64
}

// DefaultConfig returns the default weights and threshold.
func DefaultConfig() Config {
	return Config{
		DensityWeight:    DefaultDensityWeight,
		PressureWeight:   DefaultPressureWeight,
		ComplexityWeight: DefaultComplexityWeight,
		ExpectedPoints:   DefaultExpectedPoints,
		TargetVariance:   DefaultTargetVariance,
		Threshold:        DefaultThreshold,
	}
}

// Components are the individual terms of the score, each in [0,1].
type Components struct {
	Density    float64 `json:"density"`
	Pressure   float64 `json:"pressure"`
	Complexity float64 `json:"complexity"`
}

// Assessment is the outcome of Assess.
type Assessment struct {
	Quality         float64    `json:"quality"`
	Passed          bool       `json:"passed"`
	Issues          []string   `json:"issues"`
	Recommendations []string   `json:"recommendations"`
	Components      Components `json:"components"`
}

// Assessor scores feature sets. It is stateless.
type Assessor struct {
	cfg Config
}

// NewAssessor creates an assessor. Weights are normalized to sum to 1.
func NewAssessor(cfg Config) *Assessor {
	sum := cfg.DensityWeight + cfg.PressureWeight + cfg.ComplexityWeight
	if sum <= 0 {
		d := DefaultConfig()
		cfg.DensityWeight, cfg.PressureWeight, cfg.ComplexityWeight = d.DensityWeight, d.PressureWeight, d.ComplexityWeight
		sum = 1
	}
	cfg.DensityWeight /= sum
	cfg.PressureWeight /= sum
	cfg.ComplexityWeight /= sum
	if cfg.ExpectedPoints <= 0 {
		cfg.ExpectedPoints = DefaultExpectedPoints
	}
	if cfg.TargetVariance <= 0 {
		cfg.TargetVariance = DefaultTargetVariance
	}
	return &Assessor{cfg: cfg}
}

// Threshold returns the pass threshold.
func (a *Assessor) Threshold() float64 { return a.cfg.Threshold }

// Assess scores f. A sample below the threshold is flagged, never dropped.
func (a *Assessor) Assess(f features.FeatureSet) Assessment {
	c := Components{
		Density:  math.Min(1, float64(f.Geometry.PointCount)/float64(a.cfg.ExpectedPoints)),
		Pressure: 1,
	}
	if f.Excluded(features.AxisPressure) {
		c.Pressure = pressureMissingCredit
	}
	if len(f.Geometry.Curvature) > 1 {
		v := stat.PopVariance(f.Geometry.Curvature, nil)
		c.Complexity = math.Max(0, math.Min(1, v/a.cfg.TargetVariance))
	}

	q := a.cfg.DensityWeight*c.Density + a.cfg.PressureWeight*c.Pressure + a.cfg.ComplexityWeight*c.Complexity
	q = math.Max(0, math.Min(1, q))

	out := Assessment{
		Quality:         q,
		Passed:          q >= a.cfg.Threshold,
		Issues:          []string{},
		Recommendations: []string{},
		Components:      c,
	}
	if c.Density < 1 {
		out.add(IssueLowPointDensity)
	}
	if f.Excluded(features.AxisPressure) {
		out.add(IssueNoPressureData)
	}
	if c.Complexity < 0.5 {
		out.add(IssueLowComplexity)
	}
	if !out.Passed {
		out.add(IssueBelowThreshold)
	}
	return out
}

func (a *Assessment) add(issue string) {
	a.Issues = append(a.Issues, issue)
	if r := Recommendation(issue); r != "" {
		a.Recommendations = append(a.Recommendations, r)
	}
}
