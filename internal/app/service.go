// Package service provides the core business service that implements
// the dependencies required by the HTTP API and the capture stream.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	attemptqueue "github.com/okian/strokeauth/internal/adapters/mq/queue"
	workerpool "github.com/okian/strokeauth/internal/adapters/mq/worker"
	"github.com/okian/strokeauth/internal/adapters/repository"
	"github.com/okian/strokeauth/internal/config"
	"github.com/okian/strokeauth/internal/domain/apperr"
	"github.com/okian/strokeauth/internal/domain/capture"
	"github.com/okian/strokeauth/internal/domain/comparison"
	"github.com/okian/strokeauth/internal/domain/enrollment"
	"github.com/okian/strokeauth/internal/domain/features"
	"github.com/okian/strokeauth/internal/domain/model"
	"github.com/okian/strokeauth/internal/domain/quality"
	"github.com/okian/strokeauth/internal/domain/replay"
	"github.com/okian/strokeauth/internal/domain/scoring"
	"github.com/okian/strokeauth/internal/domain/types"
	"github.com/okian/strokeauth/pkg/logger"
	"github.com/okian/strokeauth/pkg/metrics"
)

const (
	stopTimeout        = 30 * time.Second
	defaultRecentLimit = 20
	maxRecentLimit     = 500
)

// ErrNotStarted is returned by operations called before Start.
var ErrNotStarted = errors.New("service not started")

// Service wires the biometric core to storage, the replay guard, the ML
// scorer and the audit queue.
type Service struct {
	mu sync.RWMutex

	cfg *config.Config

	// Core components
	validator  *capture.Validator
	extractor  *features.Extractor
	assessor   *quality.Assessor
	aggregator *enrollment.Aggregator
	comparator *comparison.Comparator

	// Adapters
	store   repository.Store
	guard   replay.Guard
	queue   *attemptqueue.InMemoryQueue
	pool    *workerpool.Pool
	scorer  scoring.Scorer
	guarded *scoring.Guarded

	// State
	started bool
	now     func() time.Time

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig sets the configuration. Defaults to config.New().
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStore injects a store instead of opening the configured one.
// The service closes it on Stop.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithScorer replaces the configured ML scorer. It is still wrapped with the
// configured timeout, retry and concurrency limit.
func WithScorer(scorer scoring.Scorer) Option {
	return func(s *Service) {
		s.scorer = scorer
	}
}

// WithClock sets the time source for baselines and audit records.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a new Service. Components are built by Start.
func New(opts ...Option) *Service {
	s := &Service{
		cfg:    config.New(),
		now:    time.Now,
		logger: nil, // replaced when the service starts
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start validates the configuration and builds every component.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	cfg := s.cfg
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.logger.Info(ctx, "starting strokeauth service...")

	if s.store == nil {
		store, err := repository.Open(ctx, cfg.Storage.Driver, cfg.Storage.Path,
			repository.WithLogger(s.logger.Named("repository")))
		if err != nil {
			return apperr.Wrap("service.start", apperr.KindConfiguration, err)
		}
		s.store = store
	}

	if s.scorer == nil {
		s.scorer = newScorer(cfg.ML)
	}
	compOpts := []comparison.Option{}
	if s.scorer != nil {
		s.guarded = scoring.NewGuarded(s.scorer,
			scoring.WithTimeout(cfg.ML.Timeout),
			scoring.WithRetry(cfg.ML.Retry),
			scoring.WithMaxConcurrent(cfg.ML.MaxConcurrent),
			scoring.WithObserver(func(outcome string, took time.Duration) {
				metrics.RecordMLCall(outcome, float64(took.Microseconds())/1000)
			}),
			scoring.WithLogger(s.logger.Named("ml")),
		)
		compOpts = append(compOpts, comparison.WithScorer(s.guarded))
	}
	comparator, err := comparison.NewComparator(cfg.ComparisonConfig(), compOpts...)
	if err != nil {
		_ = s.store.Close()
		return err
	}

	s.validator = capture.NewValidator(cfg.CaptureLimits())
	s.extractor = features.NewExtractor(cfg.ExtractorOptions()...)
	s.assessor = quality.NewAssessor(cfg.QualityConfig())
	s.aggregator = enrollment.NewAggregator(s.store, cfg.EnrollmentConfig(), enrollment.WithClock(s.now))
	s.comparator = comparator
	s.guard = replay.NewMemoryGuard(replay.WithMaxSize(cfg.Replay.MaxSessions))

	s.queue = attemptqueue.NewInMemoryQueue(attemptqueue.WithCapacity(cfg.Audit.QueueSize))
	s.pool = workerpool.NewPool(cfg.Audit.WorkerCount, s.queue, s.store,
		workerpool.WithLogger(s.logger.Named("audit")))
	s.pool.Start(context.WithoutCancel(ctx))

	if n, err := s.store.Baselines(ctx); err == nil {
		metrics.UpdateBaselinesTotal(n)
	}

	s.started = true
	s.logger.Info(ctx, "strokeauth service started",
		logger.String("storage", cfg.Storage.Driver),
		logger.String("mlMode", cfg.ML.Mode),
		logger.String("algorithm", cfg.Comparison.Algorithm),
		logger.Int("auditWorkers", s.pool.Size()),
		logger.Int("auditQueue", cfg.Audit.QueueSize),
	)
	return nil
}

func newScorer(cfg config.MLConfig) scoring.Scorer {
	switch cfg.Mode {
	case config.MLModeSimulated:
		return scoring.NewSimulatedScorer(scoring.WithLatencyRange(
			time.Duration(cfg.SimulatedLatencyMinMS)*time.Millisecond,
			time.Duration(cfg.SimulatedLatencyMaxMS)*time.Millisecond,
		))
	case config.MLModeHTTP:
		return scoring.NewHTTPScorer(cfg.URL)
	default:
		return nil
	}
}

// Stop drains the audit queue and closes the store.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	s.logger.Info(ctx, "stopping strokeauth service...")

	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Error(ctx, "audit pool shutdown failed", logger.Error(err))
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error(ctx, "store close failed", logger.Error(err))
	}

	s.started = false
	s.logger.Info(ctx, "strokeauth service stopped",
		logger.Int("attemptsRecorded", int(s.pool.Processed())))
}

func (s *Service) ready(op string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return apperr.Wrap(op, apperr.KindInternal, ErrNotStarted)
	}
	return nil
}

// analyze validates, extracts and assesses one capture.
func (s *Service) analyze(ctx context.Context, session capture.Session) (features.FeatureSet, quality.Assessment, []string, error) {
	v, err := s.validator.Validate(session)
	if err != nil {
		metrics.RecordCaptureValidation("rejected")
		s.logger.Debug(ctx, "capture rejected", logger.String("session", session.SessionID), logger.Error(err))
		return features.FeatureSet{}, quality.Assessment{}, nil, err
	}
	metrics.RecordCaptureValidation("accepted")
	for _, w := range v.Warnings {
		kind, _, _ := strings.Cut(w, ":")
		metrics.RecordCaptureWarning(kind)
	}

	start := time.Now()
	fs := s.extractor.Extract(v.Session)
	metrics.RecordExtractionLatency(float64(time.Since(start).Microseconds()) / 1000)

	assessed := s.assessor.Assess(fs)
	metrics.RecordQualityScore(assessed.Quality, assessed.Passed)

	warnings := v.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return fs, assessed, warnings, nil
}

// ExtractFeatures validates a capture and returns its features and quality.
func (s *Service) ExtractFeatures(ctx context.Context, session capture.Session) (types.FeaturesResponse, error) {
	if err := s.ready("service.extract"); err != nil {
		return types.FeaturesResponse{}, err
	}
	fs, assessed, warnings, err := s.analyze(ctx, session)
	if err != nil {
		return types.FeaturesResponse{}, err
	}
	return types.FeaturesResponse{Features: fs, Quality: assessed, Warnings: warnings}, nil
}

// Enroll folds one capture into the caller's baseline.
func (s *Service) Enroll(ctx context.Context, req types.EnrollRequest) (types.EnrollResponse, error) {
	if err := s.ready("service.enroll"); err != nil {
		return types.EnrollResponse{}, err
	}
	if err := req.Normalize(); err != nil {
		return types.EnrollResponse{}, err
	}
	fs, assessed, warnings, err := s.analyze(ctx, req.Capture)
	if err != nil {
		metrics.RecordEnrollmentOutcome(string(apperr.KindOf(err)))
		return types.EnrollResponse{}, err
	}

	key := enrollment.Key{UserID: req.UserID, BiometricType: req.BiometricType}
	b, err := s.aggregator.Submit(ctx, key, fs, assessed)
	if err != nil {
		metrics.RecordEnrollmentOutcome(string(apperr.KindOf(err)))
		s.logger.Info(ctx, "enrollment sample not accepted",
			logger.String("user", key.UserID),
			logger.String("biometricType", key.BiometricType),
			logger.String("kind", string(apperr.KindOf(err))),
		)
		return types.EnrollResponse{}, err
	}

	outcome := "accepted"
	if b.Complete() {
		outcome = "completed"
		if n, err := s.store.Baselines(ctx); err == nil {
			metrics.UpdateBaselinesTotal(n)
		}
	}
	metrics.RecordEnrollmentOutcome(outcome)
	s.logger.Info(ctx, "enrollment sample accepted",
		logger.String("user", key.UserID),
		logger.String("biometricType", key.BiometricType),
		logger.Int("samples", b.SamplesAccepted),
		logger.Int("required", b.RequiredSamples),
		logger.Bool("complete", b.Complete()),
	)

	return types.EnrollResponse{
		UserID:          b.UserID,
		BiometricType:   b.BiometricType,
		Status:          b.Status,
		SamplesAccepted: b.SamplesAccepted,
		RequiredSamples: b.RequiredSamples,
		Complete:        b.Complete(),
		Quality:         assessed,
		Warnings:        warnings,
	}, nil
}

// Authenticate compares a capture against the caller's baseline. A session id
// is accepted once per user and biometric type; a replay is rejected before
// any scoring. Every decision is handed to the audit queue.
func (s *Service) Authenticate(ctx context.Context, req types.AuthenticateRequest) (types.AuthenticateResponse, error) {
	const op = "service.authenticate"
	if err := s.ready(op); err != nil {
		return types.AuthenticateResponse{}, err
	}
	mode, err := req.Normalize()
	if err != nil {
		return types.AuthenticateResponse{}, err
	}
	fs, assessed, warnings, err := s.analyze(ctx, req.Capture)
	if err != nil {
		return types.AuthenticateResponse{}, err
	}

	replayKey := ""
	if sid := req.Capture.SessionID; sid != "" {
		replayKey = replay.Key(req.UserID, req.BiometricType, sid)
		if s.guard.SeenAndRecord(ctx, replayKey) {
			metrics.RecordReplayRejected()
			s.logger.Warn(ctx, "replayed capture session rejected",
				logger.String("user", req.UserID),
				logger.String("session", sid),
			)
			return types.AuthenticateResponse{}, apperr.New(op, apperr.KindReplayDetected,
				fmt.Sprintf("session %q was already used", sid))
		}
	}

	key := enrollment.Key{UserID: req.UserID, BiometricType: req.BiometricType}
	baseline, err := s.aggregator.Get(ctx, key)
	var res comparison.Result
	if err == nil {
		res, err = s.comparator.Compare(ctx, baseline, fs, mode, comparison.Options{
			ChallengeQuality: assessed.Quality,
			UserID:           req.UserID,
			BiometricType:    req.BiometricType,
		})
	}
	if err != nil {
		// no decision was made, so the session may be retried
		if replayKey != "" {
			s.guard.Unrecord(ctx, replayKey)
		}
		return types.AuthenticateResponse{}, err
	}

	metrics.RecordComparison(string(mode), string(res.Recommendation), res.Score)
	if res.MLDegraded {
		metrics.RecordMLDegraded()
	}
	if !assessed.Passed {
		warnings = append(warnings, assessed.Issues...)
	}

	attempt := s.newAttempt(req, mode, res, fs)
	s.audit(ctx, attempt)

	s.logger.Info(ctx, "authentication decided",
		logger.String("attemptId", attempt.ID),
		logger.String("user", req.UserID),
		logger.String("mode", string(mode)),
		logger.Float64("score", res.Score),
		logger.String("recommendation", string(res.Recommendation)),
		logger.Bool("mlDegraded", res.MLDegraded),
	)

	return types.AuthenticateResponse{
		AttemptID: attempt.ID,
		Result:    res,
		Quality:   assessed.Quality,
		Warnings:  warnings,
	}, nil
}

func (s *Service) newAttempt(req types.AuthenticateRequest, mode comparison.Mode, res comparison.Result, fs features.FeatureSet) model.Attempt { //nolint:gocritic // hugeParam: built once per request
	a := model.NewAttempt(req.UserID, req.BiometricType, s.now())
	a.SessionID = req.Capture.SessionID
	a.Mode = string(mode)
	a.Score = res.Score
	a.Confidence = res.Confidence
	a.Recommendation = string(res.Recommendation)
	a.MLDegraded = res.MLDegraded
	a.Reasons = res.Reasons
	if raw, err := json.Marshal(fs); err == nil {
		a.Features = raw
	}
	return a
}

// audit enqueues without blocking; a full queue drops the record.
func (s *Service) audit(ctx context.Context, a model.Attempt) { //nolint:gocritic // hugeParam: passed by value into the queue
	if s.queue.Enqueue(ctx, a) {
		return
	}
	metrics.RecordAttemptDropped()
	s.logger.Warn(ctx, "audit queue full, attempt not recorded",
		logger.String("attemptId", a.ID),
		logger.String("user", a.UserID),
		logger.Int("queueLength", s.queue.Len(ctx)),
	)
}

// Baseline returns the summary of a stored baseline.
func (s *Service) Baseline(ctx context.Context, userID, biometricType string) (types.BaselineSummary, error) {
	if err := s.ready("service.baseline"); err != nil {
		return types.BaselineSummary{}, err
	}
	key, err := types.NormalizeKey(userID, biometricType)
	if err != nil {
		return types.BaselineSummary{}, err
	}
	b, err := s.aggregator.Get(ctx, key)
	if err != nil {
		return types.BaselineSummary{}, err
	}
	return types.Summarize(b), nil
}

// ResetEnrollment deletes a baseline so the user can enroll again.
func (s *Service) ResetEnrollment(ctx context.Context, userID, biometricType string) error {
	if err := s.ready("service.reset"); err != nil {
		return err
	}
	key, err := types.NormalizeKey(userID, biometricType)
	if err != nil {
		return err
	}
	if err := s.aggregator.Reset(ctx, key); err != nil {
		return err
	}
	metrics.RecordEnrollmentOutcome("reset")
	if n, err := s.store.Baselines(ctx); err == nil {
		metrics.UpdateBaselinesTotal(n)
	}
	s.logger.Info(ctx, "enrollment reset",
		logger.String("user", key.UserID),
		logger.String("biometricType", key.BiometricType),
	)
	return nil
}

// RecentAttempts returns the newest audit records of a user. limit <= 0
// selects a default; larger limits are capped.
func (s *Service) RecentAttempts(ctx context.Context, userID string, limit int) ([]model.Attempt, error) {
	const op = "service.attempts"
	if err := s.ready(op); err != nil {
		return nil, err
	}
	key, err := types.NormalizeKey(userID, "")
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	limit = min(limit, maxRecentLimit)
	out, err := s.store.RecentAttempts(ctx, key.UserID, limit)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.KindInternal, err)
	}
	return out, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) types.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := types.Stats{
		Started:   s.started,
		MLMode:    s.cfg.ML.Mode,
		Algorithm: s.cfg.Comparison.Algorithm,
		Attempts:  []model.AttemptStats{},
	}
	if !s.started {
		return stats
	}

	stats.QueueLength = s.queue.Len(ctx)
	stats.QueueCapacity = s.queue.Capacity()
	stats.WorkerCount = s.pool.Size()
	stats.AttemptsRecorded = s.pool.Processed()
	stats.ReplaySessions = s.guard.Size()

	if n, err := s.store.Baselines(ctx); err == nil {
		stats.Baselines = n
		metrics.UpdateBaselinesTotal(n)
	} else {
		s.logger.Warn(ctx, "counting baselines failed", logger.Error(err))
	}
	if attempts, err := s.store.AttemptStats(ctx); err == nil {
		stats.Attempts = attempts
	} else {
		s.logger.Warn(ctx, "reading attempt stats failed", logger.Error(err))
	}
	return stats
}

// RequiredSamples returns how many samples complete a baseline.
func (s *Service) RequiredSamples() int { return s.cfg.Enrollment.RequiredSamples }
