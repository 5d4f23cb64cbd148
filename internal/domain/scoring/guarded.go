package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/okian/strokeauth/internal/domain/apperr"
	"github.com/okian/strokeauth/pkg/logger"
)

// Guard defaults.
const (
	DefaultTimeout       = 2 * time.Second
	DefaultMaxConcurrent = 8
)

// Call outcomes reported to the observer.
const (
	OutcomeSuccess = "success"
	OutcomeRetry   = "retry"
	OutcomeFailure = "failure"
	OutcomeLimited = "limited"
)

// Observer receives one notification per attempt.
type Observer func(outcome string, took time.Duration)

// GuardOption configures a Guarded scorer.
type GuardOption func(*Guarded)

// WithTimeout bounds each attempt.
func WithTimeout(d time.Duration) GuardOption {
	return func(g *Guarded) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithRetry enables or disables the single retry.
func WithRetry(enabled bool) GuardOption {
	return func(g *Guarded) {
		g.retry = enabled
	}
}

// WithMaxConcurrent caps concurrent calls across all requests.
func WithMaxConcurrent(n int) GuardOption {
	return func(g *Guarded) {
		if n > 0 {
			g.sem = semaphore.NewWeighted(int64(n))
			g.maxConcurrent = n
		}
	}
}

// WithObserver installs an attempt observer, typically a metrics recorder.
func WithObserver(o Observer) GuardOption {
	return func(g *Guarded) {
		if o != nil {
			g.observe = o
		}
	}
}

// WithLogger sets the logger used for degraded calls.
func WithLogger(l logger.Logger) GuardOption {
	return func(g *Guarded) {
		if l != nil {
			g.logger = l
		}
	}
}

// Guarded wraps a Scorer with a per-attempt timeout, at most one retry and a
// concurrency limit. Any failure is returned as ml_scorer_unavailable, and a
// call never outlives (1+retry)*timeout plus the wait for a slot, which is
// bounded by the same budget.
type Guarded struct {
	next          Scorer
	timeout       time.Duration
	retry         bool
	maxConcurrent int
	sem           *semaphore.Weighted
	observe       Observer
	logger        logger.Logger
}

// NewGuarded wraps next.
func NewGuarded(next Scorer, opts ...GuardOption) *Guarded {
	g := &Guarded{
		next:          next,
		timeout:       DefaultTimeout,
		retry:         true,
		maxConcurrent: DefaultMaxConcurrent,
		sem:           semaphore.NewWeighted(DefaultMaxConcurrent),
		observe:       func(string, time.Duration) {},
		logger:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Timeout returns the per-attempt timeout.
func (g *Guarded) Timeout() time.Duration { return g.timeout }

// Predict implements Scorer.
func (g *Guarded) Predict(ctx context.Context, req Request) (Response, error) {
	const op = "scoring.predict"
	attempts := 1
	if g.retry {
		attempts = 2
	}

	budget, cancel := context.WithTimeout(ctx, time.Duration(attempts)*g.timeout)
	defer cancel()
	start := time.Now()
	if err := g.sem.Acquire(budget, 1); err != nil {
		g.observe(OutcomeLimited, time.Since(start))
		return Response{}, apperr.Wrap(op, apperr.KindMLScorerUnavailable, fmt.Errorf("%w: %w", ErrLimiterTimeout, err))
	}
	defer g.sem.Release(1)

	var lastErr error
	for i := 0; i < attempts; i++ {
		resp, err := g.attempt(budget, req)
		if err == nil {
			g.observe(OutcomeSuccess, time.Since(start))
			return resp, nil
		}
		lastErr = err
		if i+1 < attempts && budget.Err() == nil {
			g.observe(OutcomeRetry, time.Since(start))
			g.logger.Warn(ctx, "ml scorer attempt failed, retrying",
				logger.String("user", req.Username),
				logger.Error(err))
			continue
		}
		break
	}
	g.observe(OutcomeFailure, time.Since(start))
	g.logger.Warn(ctx, "ml scorer unavailable, using rule-based score",
		logger.String("user", req.Username),
		logger.Duration("elapsed", time.Since(start)),
		logger.Error(lastErr))
	return Response{}, apperr.Wrap(op, apperr.KindMLScorerUnavailable, lastErr)
}

func (g *Guarded) attempt(ctx context.Context, req Request) (Response, error) {
	actx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	resp, err := g.next.Predict(actx, req)
	if err != nil {
		if errors.Is(actx.Err(), context.DeadlineExceeded) {
			return Response{}, fmt.Errorf("attempt timed out after %s: %w", g.timeout, err)
		}
		return Response{}, err
	}
	return resp, nil
}
