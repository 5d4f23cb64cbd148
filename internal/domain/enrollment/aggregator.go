package enrollment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/strokeauth/internal/domain/apperr"
	"github.com/okian/strokeauth/internal/domain/features"
	"github.com/okian/strokeauth/internal/domain/quality"
	"github.com/okian/strokeauth/internal/domain/similarity"
)

// Defaults.
const (
	DefaultRequiredSamples = 3
	DefaultDivergenceBound = 0.35
)

// Config controls how samples are folded.
type Config struct {
	RequiredSamples int
	StrictMode      bool
	DivergenceBound float64
	Algorithm       similarity.Algorithm
	Scales          similarity.Scales
}

// DefaultConfig returns the default aggregation settings.
func DefaultConfig() Config {
	return Config{
		RequiredSamples: DefaultRequiredSamples,
		DivergenceBound: DefaultDivergenceBound,
		Algorithm:       similarity.Euclidean,
		Scales:          similarity.DefaultScales(),
	}
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock sets the time source used for CreatedAt/UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// Aggregator owns the enrollment state machine. At most one fold per key is
// in flight; a concurrent submission for the same key fails with EnrollmentBusy.
type Aggregator struct {
	store Store
	cfg   Config
	now   func() time.Time

	mu       sync.Mutex
	inflight map[Key]struct{}
}

// NewAggregator creates an aggregator backed by store.
func NewAggregator(store Store, cfg Config, opts ...Option) *Aggregator {
	if cfg.RequiredSamples <= 0 {
		cfg.RequiredSamples = DefaultRequiredSamples
	}
	if cfg.DivergenceBound <= 0 {
		cfg.DivergenceBound = DefaultDivergenceBound
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = similarity.Euclidean
	}
	a := &Aggregator{
		store:    store,
		cfg:      cfg,
		now:      time.Now,
		inflight: make(map[Key]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Aggregator) acquire(key Key) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, busy := a.inflight[key]; busy {
		return false
	}
	a.inflight[key] = struct{}{}
	return true
}

func (a *Aggregator) release(key Key) {
	a.mu.Lock()
	delete(a.inflight, key)
	a.mu.Unlock()
}

// Submit folds one sample into the baseline of key and returns the updated
// baseline. Rejected samples leave the stored baseline unchanged.
func (a *Aggregator) Submit(ctx context.Context, key Key, fs features.FeatureSet, assessed quality.Assessment) (*Baseline, error) {
	const op = "enrollment.submit"
	if key.UserID == "" {
		return nil, apperr.Invalid(op, "userId", "must not be empty")
	}
	if key.BiometricType == "" {
		return nil, apperr.Invalid(op, "biometricType", "must not be empty")
	}
	if err := features.CheckVersion(op, fs); err != nil {
		return nil, err
	}
	if !a.acquire(key) {
		return nil, apperr.New(op, apperr.KindEnrollmentBusy, "another sample for "+key.String()+" is being processed")
	}
	defer a.release(key)

	b, found, err := a.store.Load(ctx, key)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.KindInternal, fmt.Errorf("load baseline %s: %w", key, err))
	}
	if found && b.Complete() {
		return nil, apperr.New(op, apperr.KindEnrollmentAlreadyComplete, "baseline "+key.String()+" is complete; reset it to re-enroll")
	}
	if !assessed.Passed {
		return nil, apperr.QualityRejected(op, assessed.Issues, assessed.Recommendations)
	}

	now := a.now().UTC()
	if !found {
		b = &Baseline{
			Key:             key,
			Status:          StatusCollecting,
			RequiredSamples: a.cfg.RequiredSamples,
			CreatedAt:       now,
		}
	} else {
		b = b.Clone()
	}
	if err := features.CheckVersion(op, b.Samples...); err != nil {
		return nil, err
	}

	if a.cfg.StrictMode && len(b.Samples) > 0 {
		if axes := a.divergent(b.Template, fs); len(axes) > 0 {
			recs := []string{"the sample differs from your earlier samples; sign the way you usually do"}
			for _, axis := range axes {
				recs = append(recs, "diverging axis: "+string(axis))
			}
			return nil, apperr.QualityRejected(op, []string{quality.IssueInconsistentPrior}, recs)
		}
	}

	b.Samples = append(b.Samples, fs.Clone())
	b.SamplesAccepted = len(b.Samples)
	b.Template = fold(b.Samples, a.cfg.Algorithm, a.cfg.Scales)
	b.Variance = variance(b.Template, b.Samples, a.cfg.Algorithm, a.cfg.Scales)
	b.Consistency = consistencyReport(b.Samples)
	if b.SamplesAccepted >= b.RequiredSamples {
		b.Status = StatusComplete
	}
	b.UpdatedAt = now

	if err := a.store.Save(ctx, b); err != nil {
		return nil, apperr.Wrap(op, apperr.KindInternal, fmt.Errorf("save baseline %s: %w", key, err))
	}
	return b.Clone(), nil
}

// divergent lists the active axes whose distance to template exceeds the bound.
func (a *Aggregator) divergent(template, fs features.FeatureSet) []features.Axis {
	var out []features.Axis
	for _, axis := range features.Axes() {
		if template.Excluded(axis) || fs.Excluded(axis) {
			continue
		}
		if 1-similarity.Axis(axis, template, fs, a.cfg.Algorithm, a.cfg.Scales) > a.cfg.DivergenceBound {
			out = append(out, axis)
		}
	}
	return out
}

// Get returns the baseline of key or a baseline_not_found error.
func (a *Aggregator) Get(ctx context.Context, key Key) (*Baseline, error) {
	const op = "enrollment.get"
	b, found, err := a.store.Load(ctx, key)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.KindInternal, err)
	}
	if !found {
		return nil, apperr.New(op, apperr.KindBaselineNotFound, "no baseline for "+key.String())
	}
	return b, nil
}

// Reset deletes the baseline of key so enrollment can start over. It is
// subject to the same single-flight rule as Submit.
func (a *Aggregator) Reset(ctx context.Context, key Key) error {
	const op = "enrollment.reset"
	if !a.acquire(key) {
		return apperr.New(op, apperr.KindEnrollmentBusy, "another sample for "+key.String()+" is being processed")
	}
	defer a.release(key)
	_, found, err := a.store.Load(ctx, key)
	if err != nil {
		return apperr.Wrap(op, apperr.KindInternal, err)
	}
	if !found {
		return apperr.New(op, apperr.KindBaselineNotFound, "no baseline for "+key.String())
	}
	if err := a.store.Delete(ctx, key); err != nil {
		return apperr.Wrap(op, apperr.KindInternal, err)
	}
	return nil
}

// RequiredSamples returns the number of samples that completes a baseline.
func (a *Aggregator) RequiredSamples() int { return a.cfg.RequiredSamples }
