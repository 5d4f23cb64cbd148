// Package comparison scores a challenge FeatureSet against an enrollment
// baseline and turns the score into an accept, reject or review decision.
package comparison

import (
	"context"
	"math"

	"github.com/okian/strokeauth/internal/domain/apperr"
	"github.com/okian/strokeauth/internal/domain/enrollment"
	"github.com/okian/strokeauth/internal/domain/features"
	"github.com/okian/strokeauth/internal/domain/scoring"
	"github.com/okian/strokeauth/internal/domain/similarity"
)

// Recommendation is the decision returned to the caller.
type Recommendation string

// Decisions.
const (
	Accept Recommendation = "accept"
	Reject Recommendation = "reject"
	Review Recommendation = "review"
)

// Reason prefixes and notices.
const (
	ReasonDominantAxis = "dominant_axis"
	ReasonWeakAxis     = "weak_axis"
	ReasonExcludedAxis = "excluded_axis"
	ReasonMLDegraded   = "ml_degraded"
	ReasonMLBlended    = "ml_blended"
	ReasonReviewBand   = "within_review_band"
	ReasonNoActiveAxes = "no_active_axes"
)

const decisionEpsilon = 1e-12

// MatchDetails holds the per-axis scores and the rule-based overall.
type MatchDetails struct {
	Pressure float64 `json:"pressure"`
	Timing   float64 `json:"timing"`
	Geometry float64 `json:"geometry"`
	Velocity float64 `json:"velocity"`
	Overall  float64 `json:"overall"`
}

// Result of one comparison. Not persisted by the comparator.
type Result struct {
	Score          float64                     `json:"score"`
	Confidence     float64                     `json:"confidence"`
	MatchDetails   MatchDetails                `json:"matchDetails"`
	Recommendation Recommendation              `json:"recommendation"`
	Reasons        []string                    `json:"reasons"`
	Weights        map[features.Axis]float64   `json:"weights"`
	RuleScore      float64                     `json:"ruleScore"`
	MLScore        *float64                    `json:"mlScore,omitempty"`
	MLDegraded     bool                        `json:"mlDegraded"`
	Mode           Mode                        `json:"mode"`
	Threshold      float64                     `json:"threshold"`
	Security       features.SecurityIndicators `json:"security"`
	ExcludedAxes   []features.Axis             `json:"excludedAxes"`
}

// Options carry per-call context.
type Options struct {
	// ChallengeQuality is the quality assessment of the challenge in [0,1].
	ChallengeQuality float64
	UserID           string
	BiometricType    string
}

// Option configures a Comparator.
type Option func(*Comparator)

// WithScorer enables the ML blend. The scorer is expected to bound its own
// latency, see scoring.Guarded.
func WithScorer(s scoring.Scorer) Option {
	return func(c *Comparator) {
		c.scorer = s
	}
}

// Comparator is stateless apart from its configuration and is safe for
// concurrent use.
type Comparator struct {
	cfg    Config
	scorer scoring.Scorer
}

// NewComparator validates cfg and builds a comparator.
func NewComparator(cfg Config, opts ...Option) (*Comparator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Comparator{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the comparator configuration.
func (c *Comparator) Config() Config { return c.cfg }

// Compare scores challenge against baseline under mode. ML failures never
// surface as errors; they degrade to the rule-based score.
func (c *Comparator) Compare(ctx context.Context, baseline *enrollment.Baseline, challenge features.FeatureSet, mode Mode, opts Options) (Result, error) {
	const op = "comparison.compare"
	if baseline == nil {
		return Result{}, apperr.New(op, apperr.KindBaselineNotFound, "no baseline to compare against")
	}
	if mode != ModeEnrollment && !baseline.Complete() {
		return Result{}, apperr.New(op, apperr.KindBaselineIncomplete, "baseline is still collecting samples")
	}
	if err := features.CheckVersion(op, baseline.Template, challenge); err != nil {
		return Result{}, err
	}

	template := baseline.Template
	scores := similarity.Scores(template, challenge, c.cfg.Algorithm, c.cfg.Scales)
	excluded := func(axis features.Axis) bool {
		return template.Excluded(axis) || challenge.Excluded(axis)
	}
	weights := Renormalize(c.cfg.Weights, excluded)

	var overall float64
	for _, axis := range features.Axes() {
		overall += weights[axis] * scores[axis]
	}
	overall = clamp01(overall)

	res := Result{
		MatchDetails: MatchDetails{
			Pressure: scores[features.AxisPressure],
			Timing:   scores[features.AxisTiming],
			Geometry: scores[features.AxisGeometry],
			Velocity: scores[features.AxisVelocity],
			Overall:  overall,
		},
		Reasons:      []string{},
		Weights:      weights,
		RuleScore:    overall,
		Score:        overall,
		Mode:         mode,
		Threshold:    c.cfg.Thresholds.For(mode),
		ExcludedAxes: []features.Axis{},
	}

	for _, axis := range features.Axes() {
		if !excluded(axis) {
			continue
		}
		res.ExcludedAxes = append(res.ExcludedAxes, axis)
		res.Reasons = append(res.Reasons, ReasonExcludedAxis+":"+string(axis)+":"+exclusionReason(axis, challenge, template))
	}
	res.Reasons = append(res.Reasons, axisReasons(scores, weights, c.cfg.WeakAxis)...)

	if c.scorer != nil && c.cfg.BlendWeight > 0 {
		resp, err := c.scorer.Predict(ctx, scoring.Request{
			Username:        opts.UserID,
			BiometricType:   opts.BiometricType,
			StoredFeatures:  features.Vector(template),
			CurrentFeatures: features.Vector(challenge),
		})
		if err != nil {
			res.MLDegraded = true
			res.Reasons = append(res.Reasons, ReasonMLDegraded)
		} else {
			ml := resp.Score()
			res.MLScore = &ml
			res.Score = clamp01(c.cfg.BlendWeight*ml + (1-c.cfg.BlendWeight)*overall)
			res.Reasons = append(res.Reasons, ReasonMLBlended)
		}
	}

	res.Confidence = Confidence(opts.ChallengeQuality, baseline.SamplesAccepted, baseline.WeightedVariance(weights))
	res.Recommendation = Decide(res.Score, res.Threshold, c.cfg.Band)
	if res.Recommendation == Review {
		res.Reasons = append(res.Reasons, ReasonReviewBand)
	}

	res.Security = challenge.Security
	res.Security.AuthenticityScore = res.Score
	res.Security.AnomalyScore = anomaly(scores, weights)
	return res, nil
}

// Renormalize zeroes the weights of excluded axes and rescales the rest to
// sum to 1. When every remaining weight is zero the active axes share equally.
// With no active axis at all every weight is zero.
func Renormalize(w Weights, excluded func(features.Axis) bool) map[features.Axis]float64 {
	out := make(map[features.Axis]float64, 4)
	var sum float64
	active := 0
	for _, axis := range features.Axes() {
		out[axis] = 0
		if excluded(axis) {
			continue
		}
		active++
		out[axis] = w.Of(axis)
		sum += out[axis]
	}
	if active == 0 {
		return out
	}
	for _, axis := range features.Axes() {
		if excluded(axis) {
			continue
		}
		if sum > 0 {
			out[axis] /= sum
		} else {
			out[axis] = 1 / float64(active)
		}
	}
	return out
}

// Decide maps a score to a recommendation: accept at or above
// threshold+band, reject below threshold-band, review in between.
func Decide(score, threshold, band float64) Recommendation {
	switch {
	case score >= threshold+band-decisionEpsilon:
		return Accept
	case score < threshold-band-decisionEpsilon:
		return Reject
	default:
		return Review
	}
}

// Confidence combines challenge quality, baseline sample count and baseline
// variance.
func Confidence(challengeQuality float64, samples int, weightedVariance float64) float64 {
	n := float64(max(samples, 0))
	return clamp01(0.4*clamp01(challengeQuality) + 0.3*n/(n+2) + 0.3*(1-clamp01(weightedVariance)))
}

func axisReasons(scores, weights map[features.Axis]float64, weak float64) []string {
	var out []string
	var dominant features.Axis
	best := -1.0
	for _, axis := range features.Axes() {
		if weights[axis] <= 0 {
			continue
		}
		if c := weights[axis] * scores[axis]; c > best {
			best, dominant = c, axis
		}
	}
	if dominant == "" {
		return []string{ReasonNoActiveAxes}
	}
	out = append(out, ReasonDominantAxis+":"+string(dominant))
	for _, axis := range features.Axes() {
		if weights[axis] > 0 && scores[axis] < weak {
			out = append(out, ReasonWeakAxis+":"+string(axis))
		}
	}
	return out
}

func anomaly(scores, weights map[features.Axis]float64) float64 {
	lowest := math.Inf(1)
	for _, axis := range features.Axes() {
		if weights[axis] > 0 {
			lowest = math.Min(lowest, scores[axis])
		}
	}
	if math.IsInf(lowest, 1) {
		return 1
	}
	return clamp01(1 - lowest)
}

func exclusionReason(axis features.Axis, sets ...features.FeatureSet) string {
	for _, s := range sets {
		if r := s.ExclusionReasons[axis]; r != "" {
			return r
		}
	}
	return "excluded"
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
