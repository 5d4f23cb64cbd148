package capturegen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/okian/strokeauth/internal/domain/apperr"
	"github.com/okian/strokeauth/internal/domain/comparison"
	"github.com/okian/strokeauth/internal/domain/types"
	"github.com/okian/strokeauth/pkg/logger"
)

// Run defaults.
const (
	DefaultUsers             = 20
	DefaultGenuine           = 6
	DefaultForgeries         = 6
	DefaultTimeout           = 10 * time.Second
	DefaultMaxEnrollAttempts = 10

	// challenge variants start here so they never repeat an enrollment sample
	challengeVariantBase = 1_000
	reportFilePermission = 0o600
	directoryPermission  = 0o750
	percentageMultiplier = 100
)

// ErrNoUsers is returned when no user could be enrolled.
var ErrNoUsers = errors.New("no user completed enrollment")

// Config holds configuration of one generator run.
type Config struct {
	BaseURL       string        // Base URL of the service
	Users         int           // Number of synthetic writers
	Genuine       int           // Genuine challenges per writer
	Forgeries     int           // Forged challenges per writer
	Workers       int           // Writers processed concurrently
	Timeout       time.Duration // HTTP request timeout
	Seed          uint64        // First profile seed; writer i uses Seed+i
	BiometricType string
	Mode          string
	OutputFile    string // Report file, none when empty
	Cleanup       bool   // Delete the generated baselines afterwards

	// MaxEnrollAttempts bounds the samples tried per writer, quality rejects included.
	MaxEnrollAttempts int
}

func (c *Config) applyDefaults() {
	if c.Users <= 0 {
		c.Users = DefaultUsers
	}
	if c.Genuine < 0 {
		c.Genuine = DefaultGenuine
	}
	if c.Forgeries < 0 {
		c.Forgeries = DefaultForgeries
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.BiometricType == "" {
		c.BiometricType = types.DefaultBiometricType
	}
	if c.MaxEnrollAttempts <= 0 {
		c.MaxEnrollAttempts = DefaultMaxEnrollAttempts
	}
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the run logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithHTTPClient replaces the HTTP client, mostly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(r *Runner) {
		r.httpClient = hc
	}
}

// Runner enrolls synthetic writers and challenges them with genuine and
// forged captures.
type Runner struct {
	cfg        Config
	client     *Client
	httpClient *http.Client
	logger     logger.Logger
}

// NewRunner creates a runner for cfg.
func NewRunner(cfg Config, opts ...Option) *Runner {
	cfg.applyDefaults()
	r := &Runner{cfg: cfg, logger: logger.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	r.client = NewClient(cfg.BaseURL, cfg.Timeout, r.httpClient)
	return r
}

// Config returns the effective configuration.
func (r *Runner) Config() Config { return r.cfg }

// Run executes the whole run and returns its report.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	cfg := r.cfg
	start := time.Now()
	r.logger.Info(ctx, "starting capture generator run",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("users", cfg.Users),
		logger.Int("genuine", cfg.Genuine),
		logger.Int("forgeries", cfg.Forgeries),
		logger.Int("workers", cfg.Workers),
		logger.String("timeout", cfg.Timeout.String()))

	if err := r.client.Health(ctx); err != nil {
		return Report{}, fmt.Errorf("service health check failed: %w", err)
	}

	results := make([]writerResult, cfg.Users)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i := range results {
		g.Go(func() error {
			results[i] = r.runWriter(gctx, cfg.Seed+uint64(i))
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, fmt.Errorf("capture generator run aborted: %w", err)
	}

	report := buildReport(results)
	report.Duration = time.Since(start)
	r.logReport(ctx, report)

	if cfg.OutputFile != "" {
		if err := saveReport(cfg.OutputFile, report); err != nil {
			r.logger.Warn(ctx, "failed to save report", logger.Error(err))
		} else {
			r.logger.Info(ctx, "report saved", logger.String("file", cfg.OutputFile))
		}
	}
	if report.Enrolled == 0 {
		return report, ErrNoUsers
	}
	return report, nil
}

// writerResult is everything one synthetic writer produced.
type writerResult struct {
	userID    string
	enrolled  bool
	enrollErr string
	samples   int
	decisions []decision
}

type decision struct {
	style          Style
	recommendation comparison.Recommendation
	score          float64
	mlDegraded     bool
	errCode        string
}

func (r *Runner) runWriter(ctx context.Context, seed uint64) writerResult {
	cfg := r.cfg
	profile := NewProfile(seed)
	res := writerResult{userID: "gen-" + uuid.NewString()}

	for v := uint64(1); v <= uint64(cfg.MaxEnrollAttempts); v++ {
		resp, err := r.client.Enroll(ctx, types.EnrollRequest{
			UserID:        res.userID,
			BiometricType: cfg.BiometricType,
			Capture:       profile.Sample(StyleNormal, v, WithSessionID(uuid.NewString())),
		})
		res.samples++
		if err != nil {
			if Code(err) == string(apperr.KindQualityRejected) {
				continue
			}
			res.enrollErr = err.Error()
			r.logger.Warn(ctx, "enrollment failed", logger.String("user", res.userID), logger.Error(err))
			return res
		}
		if resp.Complete {
			res.enrolled = true
			break
		}
	}
	if !res.enrolled {
		if res.enrollErr == "" {
			res.enrollErr = "too many rejected samples"
		}
		return res
	}

	genuineStyles := []Style{StyleNormal, StyleRushed, StyleCareful}
	for i := range cfg.Genuine {
		style := genuineStyles[i%len(genuineStyles)]
		res.decisions = append(res.decisions, r.challenge(ctx, res.userID, profile, style, challengeVariantBase+uint64(i)))
	}
	for i := range cfg.Forgeries {
		res.decisions = append(res.decisions, r.challenge(ctx, res.userID, profile, StyleForgery, challengeVariantBase+uint64(i)))
	}

	if cfg.Cleanup {
		if err := r.client.Reset(ctx, res.userID, cfg.BiometricType); err != nil {
			r.logger.Warn(ctx, "failed to delete generated baseline", logger.String("user", res.userID), logger.Error(err))
		}
	}
	return res
}

func (r *Runner) challenge(ctx context.Context, userID string, profile Profile, style Style, variant uint64) decision {
	resp, err := r.client.Authenticate(ctx, types.AuthenticateRequest{
		UserID:        userID,
		BiometricType: r.cfg.BiometricType,
		Mode:          r.cfg.Mode,
		Capture:       profile.Sample(style, variant, WithSessionID(uuid.NewString())),
	})
	if err != nil {
		code := Code(err)
		if code == "" {
			code = "transport"
		}
		r.logger.Debug(ctx, "challenge failed", logger.String("user", userID), logger.Error(err))
		return decision{style: style, errCode: code}
	}
	return decision{
		style:          style,
		recommendation: resp.Recommendation,
		score:          resp.Score,
		mlDegraded:     resp.MLDegraded,
	}
}

func (r *Runner) logReport(ctx context.Context, report Report) {
	r.logger.Info(ctx, "capture generator results",
		logger.Int("users", report.Users),
		logger.Int("enrolled", report.Enrolled),
		logger.Int("enrollFailed", report.EnrollFailed),
		logger.Float64("genuineAcceptRate", report.GenuineAcceptRate*percentageMultiplier),
		logger.Float64("forgeryRejectRate", report.ForgeryRejectRate*percentageMultiplier),
		logger.Float64("meanGenuineScore", report.Genuine.MeanScore),
		logger.Float64("meanForgeryScore", report.Forgery.MeanScore),
		logger.Int("mlDegraded", report.MLDegraded),
		logger.String("duration", report.Duration.String()))
	for _, style := range Styles() {
		c, ok := report.ByStyle[style]
		if !ok {
			continue
		}
		r.logger.Info(ctx, "style breakdown",
			logger.String("style", string(style)),
			logger.Int("total", c.Total),
			logger.Int("accept", c.Accept),
			logger.Int("review", c.Review),
			logger.Int("reject", c.Reject),
			logger.Int("errors", c.Errors),
			logger.Float64("meanScore", c.MeanScore))
	}
}

func saveReport(filename string, report Report) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(filename, raw, reportFilePermission); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
