// Package scoring defines the contract of the external ensemble scorer
// (random forest + SVM) and the clients that reach it.
package scoring

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// Default simulation constants.
const (
	defaultMinLatency = 80 * time.Millisecond
	defaultMaxLatency = 150 * time.Millisecond
	defaultRandomSeed = 42

	// Feature names compared by absolute instead of relative difference.
	countStrokes = "stroke_count"
	countPoints  = "total_points"
)

// Predictions.
const (
	PredictionGenuine = 1
	PredictionForgery = 0
)

// Request is the body sent to the ensemble scorer.
type Request struct {
	Username        string             `json:"username"`
	BiometricType   string             `json:"biometricType,omitempty"`
	StoredFeatures  map[string]float64 `json:"stored_features"`
	CurrentFeatures map[string]float64 `json:"current_features"`
}

// Response is the ensemble scorer's answer. Scores are in [0,1].
type Response struct {
	RFScore         float64 `json:"rf_score"`
	RFConfidence    float64 `json:"rf_confidence"`
	SVMScore        float64 `json:"svm_score"`
	SVMConfidence   float64 `json:"svm_confidence"`
	EnsembleScore   float64 `json:"ensemble_score"`
	Prediction      int     `json:"prediction"`
	ConfidenceScore float64 `json:"confidence_score,omitempty"` // 0-100, legacy servers only
}

// Score returns the ensemble score, falling back to the legacy 0-100
// confidence when a server does not send one.
func (r Response) Score() float64 {
	s := r.EnsembleScore
	if s == 0 && r.ConfidenceScore > 0 {
		s = r.ConfidenceScore / 100
	}
	return math.Max(0, math.Min(1, s))
}

// Scorer predicts whether current features come from the same writer as the
// stored ones. Implementations must honor ctx.
type Scorer interface {
	Predict(ctx context.Context, req Request) (Response, error)
}

// Option applies a configuration option to the SimulatedScorer.
type Option func(*SimulatedScorer)

// WithLatencyRange sets the simulated latency range.
func WithLatencyRange(minLatency, maxLatency time.Duration) Option {
	return func(s *SimulatedScorer) {
		if minLatency >= 0 && maxLatency > minLatency {
			s.minLatency = minLatency
			s.maxLatency = maxLatency
		}
	}
}

// WithSeed sets the seed of the latency generator.
func WithSeed(seed int64) Option {
	return func(s *SimulatedScorer) {
		s.rng = rand.New(rand.NewSource(seed)) //nolint:gosec // deterministic latency for reproducible runs
	}
}

// SimulatedScorer stands in for the ensemble service. It scores the mean
// relative difference between the two feature vectors and sleeps for a
// random latency to model the network call.
type SimulatedScorer struct {
	minLatency time.Duration
	maxLatency time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedScorer creates a simulated scorer.
func NewSimulatedScorer(opts ...Option) *SimulatedScorer {
	s := &SimulatedScorer{
		minLatency: defaultMinLatency,
		maxLatency: defaultMaxLatency,
		rng:        rand.New(rand.NewSource(defaultRandomSeed)), //nolint:gosec // deterministic latency for reproducible runs
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SimulatedScorer) latency() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxLatency <= s.minLatency {
		return s.minLatency
	}
	return s.minLatency + time.Duration(s.rng.Int63n(int64(s.maxLatency-s.minLatency)))
}

// Predict implements Scorer.
func (s *SimulatedScorer) Predict(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, fmt.Errorf("context cancelled: %w", ctx.Err())
	case <-time.After(s.latency()):
	}
	if len(req.StoredFeatures) == 0 || len(req.CurrentFeatures) == 0 {
		return Response{}, ErrEmptyFeatures
	}

	diffs := RelativeDifferences(req.StoredFeatures, req.CurrentFeatures)
	var sum, worst float64
	for _, d := range diffs {
		sum += d
		worst = math.Max(worst, d)
	}
	mean := sum / float64(len(diffs))

	rf := math.Max(0, 1-mean)
	svm := 1 / (1 + math.Exp(12*(mean-0.25)))
	ensemble := (rf + svm) / 2
	resp := Response{
		RFScore:       rf,
		RFConfidence:  math.Abs(rf-0.5) * 2,
		SVMScore:      svm,
		SVMConfidence: math.Max(0, 1-worst),
		EnsembleScore: ensemble,
		Prediction:    PredictionForgery,
	}
	if ensemble >= 0.5 {
		resp.Prediction = PredictionGenuine
	}
	return resp, nil
}

// RelativeDifferences compares two named feature vectors the way the
// ensemble model was trained: absolute difference for counts, relative
// difference (capped at 1) for everything else. Keys are visited in sorted
// order and missing values count as 0.
func RelativeDifferences(stored, current map[string]float64) []float64 {
	names := make([]string, 0, len(stored))
	for k := range stored {
		names = append(names, k)
	}
	sort.Strings(names)

	out := make([]float64, 0, len(names))
	for _, name := range names {
		sv, cv := stored[name], current[name]
		switch {
		case name == countStrokes || name == countPoints:
			out = append(out, math.Min(1, math.Abs(cv-sv)/math.Max(1, math.Abs(sv))))
		case sv != 0:
			out = append(out, math.Min(1, math.Abs((cv-sv)/sv)))
		case cv != 0:
			out = append(out, 1)
		default:
			out = append(out, 0)
		}
	}
	return out
}
