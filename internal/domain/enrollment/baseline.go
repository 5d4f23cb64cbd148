// Package enrollment folds quality-passing samples into a per-user baseline.
package enrollment

import (
	"context"
	"time"

	"github.com/okian/strokeauth/internal/domain/features"
)

// Key identifies a baseline.
type Key struct {
	UserID        string `json:"userId"`
	BiometricType string `json:"biometricType"`
}

func (k Key) String() string { return k.UserID + "/" + k.BiometricType }

// Status of a baseline.
type Status string

// Baseline states. Complete is terminal until the baseline is reset.
const (
	StatusCollecting Status = "collecting"
	StatusComplete   Status = "complete"
)

// Consistency reports how much accepted samples agree with each other, each
// value being 1 - coefficient of variation clamped to [0,1].
type Consistency struct {
	Velocity    float64 `json:"velocity"`
	StrokeCount float64 `json:"strokeCount"`
	Area        float64 `json:"area"`
}

// Baseline is the aggregated reference of one user and biometric type.
type Baseline struct {
	Key
	Status          Status                    `json:"status"`
	SamplesAccepted int                       `json:"samplesAccepted"`
	RequiredSamples int                       `json:"requiredSamples"`
	Template        features.FeatureSet       `json:"template"`
	Variance        map[features.Axis]float64 `json:"variance"`
	Samples         []features.FeatureSet     `json:"samples"`
	Consistency     Consistency               `json:"consistency"`
	CreatedAt       time.Time                 `json:"createdAt"`
	UpdatedAt       time.Time                 `json:"updatedAt"`
}

// Complete reports whether the baseline accepts no more samples.
func (b *Baseline) Complete() bool { return b.Status == StatusComplete }

// WeightedVariance returns Σ w[axis]·variance[axis] over the given weights.
func (b *Baseline) WeightedVariance(weights map[features.Axis]float64) float64 {
	var v float64
	for _, axis := range features.Axes() {
		v += weights[axis] * b.Variance[axis]
	}
	return v
}

// Clone returns a deep copy.
func (b *Baseline) Clone() *Baseline {
	if b == nil {
		return nil
	}
	out := *b
	out.Template = b.Template.Clone()
	out.Variance = make(map[features.Axis]float64, len(b.Variance))
	for k, v := range b.Variance {
		out.Variance[k] = v
	}
	out.Samples = make([]features.FeatureSet, len(b.Samples))
	for i, s := range b.Samples {
		out.Samples[i] = s.Clone()
	}
	return &out
}

// Store persists baselines. Implementations must be safe for concurrent use;
// the aggregator guarantees a single writer per key.
type Store interface {
	// Load returns the baseline for key; found is false when none exists.
	Load(ctx context.Context, key Key) (b *Baseline, found bool, err error)
	Save(ctx context.Context, b *Baseline) error
	Delete(ctx context.Context, key Key) error
}
