package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	service "github.com/okian/strokeauth/internal/app"
	"github.com/okian/strokeauth/internal/capturegen"
	"github.com/okian/strokeauth/internal/config"
	"github.com/okian/strokeauth/internal/domain/apperr"
	"github.com/okian/strokeauth/internal/domain/capture"
	"github.com/okian/strokeauth/internal/domain/comparison"
	"github.com/okian/strokeauth/internal/domain/enrollment"
	"github.com/okian/strokeauth/internal/domain/features"
	"github.com/okian/strokeauth/internal/domain/quality"
	"github.com/okian/strokeauth/internal/domain/scoring"
	"github.com/okian/strokeauth/internal/domain/types"
	"github.com/okian/strokeauth/pkg/logger"
)

func init() {
	// Initialize logging for tests
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

// testConfig keeps quality out of the way and the ML blend off unless a test
// installs a scorer.
func testConfig() *config.Config {
	cfg := config.New()
	cfg.Quality.Threshold = 0.1
	cfg.ML.Mode = config.MLModeOff
	cfg.Audit.WorkerCount = 2
	cfg.Audit.QueueSize = 100
	return cfg
}

func startService(cfg *config.Config, opts ...service.Option) *service.Service {
	svc := service.New(append([]service.Option{service.WithConfig(cfg)}, opts...)...)
	So(svc.Start(context.Background()), ShouldBeNil)
	return svc
}

func sample(seed uint64, style capturegen.Style, variant uint64, opts ...capturegen.SampleOption) capture.Session {
	return capturegen.NewProfile(seed).Sample(style, variant, opts...)
}

func enroll(svc *service.Service, user string, captures ...capture.Session) types.EnrollResponse {
	var last types.EnrollResponse
	for _, c := range captures {
		resp, err := svc.Enroll(context.Background(), types.EnrollRequest{UserID: user, Capture: c})
		So(err, ShouldBeNil)
		last = resp
	}
	return last
}

type slowScorer struct {
	delay time.Duration
}

func (s slowScorer) Predict(ctx context.Context, _ scoring.Request) (scoring.Response, error) {
	select {
	case <-ctx.Done():
		return scoring.Response{}, ctx.Err()
	case <-time.After(s.delay):
		return scoring.Response{EnsembleScore: 1}, nil
	}
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()

		Convey("Then operations fail until it is started", func() {
			_, err := svc.ExtractFeatures(context.Background(), sample(1, capturegen.StyleNormal, 1))
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			So(svc.GetStats(context.Background()).Started, ShouldBeFalse)
		})

		Convey("When starting and stopping it", func() {
			So(svc.Start(context.Background()), ShouldBeNil)
			So(svc.Start(context.Background()), ShouldBeNil)
			stats := svc.GetStats(context.Background())
			svc.Stop()
			svc.Stop()

			Convey("Then stats reflect the running components", func() {
				So(stats.Started, ShouldBeTrue)
				So(stats.WorkerCount, ShouldBeGreaterThan, 0)
				So(stats.MLMode, ShouldEqual, config.MLModeOff)
				So(stats.Algorithm, ShouldEqual, "euclidean")
			})
		})
	})

	Convey("Given an invalid configuration", t, func() {
		cfg := testConfig()
		cfg.Comparison.Band = 0.6
		svc := service.New(service.WithConfig(cfg))

		Convey("Then Start fails fast with a configuration error", func() {
			err := svc.Start(context.Background())
			So(apperr.KindOf(err), ShouldEqual, apperr.KindConfiguration)
		})
	})
}

func TestService_ExtractFeatures(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc := startService(testConfig())
		defer svc.Stop()

		Convey("When extracting a valid capture", func() {
			resp, err := svc.ExtractFeatures(context.Background(), sample(2, capturegen.StyleNormal, 1))

			Convey("Then features and quality are returned", func() {
				So(err, ShouldBeNil)
				So(resp.Features.AlgorithmVersion, ShouldEqual, features.AlgorithmVersion)
				So(resp.Quality.Quality, ShouldBeBetweenOrEqual, 0, 1)
				So(resp.Warnings, ShouldNotBeNil)
			})
		})

		Convey("When the capture has 3 points and minPoints is 10", func() {
			short := capture.Session{
				SessionID: "short",
				Strokes: []capture.Stroke{{Points: []capture.Point{
					{X: 0, Y: 0, Pressure: 0.5, Timestamp: 0},
					{X: 5, Y: 5, Pressure: 0.5, Timestamp: 100},
					{X: 9, Y: 2, Pressure: 0.5, Timestamp: 300},
				}}},
				CanvasSize: capture.CanvasSize{Width: 400, Height: 200},
			}
			_, err := svc.ExtractFeatures(context.Background(), short)

			Convey("Then a validation error cites the minPoints bound", func() {
				So(errors.Is(err, apperr.ErrValidation), ShouldBeTrue)
				body := apperr.Payload(err)
				So(body.Bound, ShouldEqual, "minPoints")
				So(*body.Limit, ShouldEqual, 10.0)
				So(*body.Actual, ShouldEqual, 3.0)
			})
		})
	})
}

func TestService_Enrollment(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc := startService(testConfig())
		defer svc.Stop()
		ctx := context.Background()

		Convey("When three quality-passing samples are submitted", func() {
			first := enroll(svc, "alice", sample(3, capturegen.StyleNormal, 1))
			last := enroll(svc, "alice", sample(3, capturegen.StyleNormal, 2), sample(3, capturegen.StyleNormal, 3))

			Convey("Then the baseline moves from collecting to complete", func() {
				So(first.Complete, ShouldBeFalse)
				So(first.SamplesAccepted, ShouldEqual, 1)
				So(last.Complete, ShouldBeTrue)
				So(last.SamplesAccepted, ShouldEqual, 3)
				So(last.BiometricType, ShouldEqual, types.DefaultBiometricType)

				summary, err := svc.Baseline(ctx, "alice", "")
				So(err, ShouldBeNil)
				So(summary.Status, ShouldEqual, enrollment.StatusComplete)
				So(summary.Consistency.StrokeCount, ShouldBeBetweenOrEqual, 0, 1)
			})

			Convey("And a fourth sample is rejected as already complete", func() {
				_, err := svc.Enroll(ctx, types.EnrollRequest{UserID: "alice", Capture: sample(3, capturegen.StyleNormal, 4)})
				So(apperr.KindOf(err), ShouldEqual, apperr.KindEnrollmentAlreadyComplete)
			})

			Convey("And a reset allows re-enrollment", func() {
				So(svc.ResetEnrollment(ctx, "alice", "signature"), ShouldBeNil)
				_, err := svc.Baseline(ctx, "alice", "signature")
				So(apperr.KindOf(err), ShouldEqual, apperr.KindBaselineNotFound)
				resp := enroll(svc, "alice", sample(3, capturegen.StyleNormal, 5))
				So(resp.SamplesAccepted, ShouldEqual, 1)
			})
		})

		Convey("When the sample is far too sparse for the quality threshold", func() {
			cfg := testConfig()
			cfg.Quality.Threshold = 0.7
			// density credit stays near zero, capping quality at 0.6
			cfg.Quality.ExpectedPoints = 1_000_000
			strict := startService(cfg)
			defer strict.Stop()
			resp, err := strict.Enroll(ctx, types.EnrollRequest{UserID: "bob", Capture: sample(4, capturegen.StyleNormal, 1)})

			Convey("Then the sample is rejected with issues and not counted", func() {
				So(err, ShouldNotBeNil)
				So(apperr.KindOf(err), ShouldEqual, apperr.KindQualityRejected)
				So(apperr.Payload(err).Issues, ShouldContain, quality.IssueLowPointDensity)
				So(apperr.Payload(err).Issues, ShouldContain, quality.IssueBelowThreshold)
				So(resp.SamplesAccepted, ShouldEqual, 0)
				_, err = strict.Baseline(ctx, "bob", "signature")
				So(apperr.KindOf(err), ShouldEqual, apperr.KindBaselineNotFound)
			})
		})

		Convey("When resetting an unknown baseline", func() {
			err := svc.ResetEnrollment(ctx, "nobody", "signature")
			So(apperr.KindOf(err), ShouldEqual, apperr.KindBaselineNotFound)
		})
	})
}

func TestService_Authenticate(t *testing.T) {
	Convey("Given a user enrolled with identical captures", t, func() {
		svc := startService(testConfig())
		defer svc.Stop()
		ctx := context.Background()

		c := sample(5, capturegen.StyleNormal, 1)
		enroll(svc, "carol", c, c, c)

		Convey("When the same capture authenticates", func() {
			resp, err := svc.Authenticate(ctx, types.AuthenticateRequest{UserID: "carol", Capture: c})

			Convey("Then it is accepted with a near-perfect score", func() {
				So(err, ShouldBeNil)
				So(resp.Score, ShouldBeGreaterThanOrEqualTo, 0.99)
				So(resp.Recommendation, ShouldEqual, comparison.Accept)
				So(resp.Mode, ShouldEqual, comparison.ModeAuthentication)
				So(resp.AttemptID, ShouldNotBeEmpty)
			})

			Convey("And the attempt reaches the audit log", func() {
				So(eventually(func() bool {
					got, err := svc.RecentAttempts(ctx, "carol", 5)
					return err == nil && len(got) == 1 && got[0].ID == resp.AttemptID
				}), ShouldBeTrue)
				stats := svc.GetStats(ctx)
				So(stats.Baselines, ShouldEqual, 1)
				So(stats.Attempts, ShouldHaveLength, 1)
				So(stats.Attempts[0].Accepted, ShouldEqual, int64(1))
			})

			Convey("And replaying the session is rejected", func() {
				_, err := svc.Authenticate(ctx, types.AuthenticateRequest{UserID: "carol", Capture: c})
				So(apperr.KindOf(err), ShouldEqual, apperr.KindReplayDetected)
			})
		})

		Convey("When the mode is unknown", func() {
			_, err := svc.Authenticate(ctx, types.AuthenticateRequest{UserID: "carol", Mode: "telepathy", Capture: c})
			So(apperr.KindOf(err), ShouldEqual, apperr.KindValidation)
		})

		Convey("When the user never enrolled", func() {
			other := sample(6, capturegen.StyleNormal, 1)
			_, err := svc.Authenticate(ctx, types.AuthenticateRequest{UserID: "dave", Capture: other})

			Convey("Then the baseline is not found and the session stays usable", func() {
				So(apperr.KindOf(err), ShouldEqual, apperr.KindBaselineNotFound)
				enroll(svc, "dave", other, other, other)
				resp, err := svc.Authenticate(ctx, types.AuthenticateRequest{UserID: "dave", Capture: other})
				So(err, ShouldBeNil)
				So(resp.Recommendation, ShouldEqual, comparison.Accept)
			})
		})

		Convey("When the baseline is still collecting", func() {
			partial := sample(7, capturegen.StyleNormal, 1)
			enroll(svc, "erin", partial)

			Convey("Then authentication is refused but enrollment mode compares", func() {
				_, err := svc.Authenticate(ctx, types.AuthenticateRequest{UserID: "erin", Capture: sample(7, capturegen.StyleNormal, 2)})
				So(apperr.KindOf(err), ShouldEqual, apperr.KindBaselineIncomplete)

				resp, err := svc.Authenticate(ctx, types.AuthenticateRequest{UserID: "erin", Mode: "enrollment", Capture: sample(7, capturegen.StyleNormal, 3)})
				So(err, ShouldBeNil)
				So(resp.Threshold, ShouldEqual, 0.70)
			})
		})
	})

	Convey("Given a device without pressure support", t, func() {
		svc := startService(testConfig())
		defer svc.Stop()
		ctx := context.Background()

		enroll(svc, "frank",
			sample(8, capturegen.StyleNormal, 1, capturegen.WithoutPressure()),
			sample(8, capturegen.StyleNormal, 2, capturegen.WithoutPressure()),
			sample(8, capturegen.StyleNormal, 3, capturegen.WithoutPressure()),
		)
		resp, err := svc.Authenticate(ctx, types.AuthenticateRequest{
			UserID:  "frank",
			Capture: sample(8, capturegen.StyleNormal, 4, capturegen.WithoutPressure()),
		})

		Convey("Then pressure is excluded and the other weights sum to one", func() {
			So(err, ShouldBeNil)
			So(resp.Weights[features.AxisPressure], ShouldEqual, 0.0)
			sum := resp.Weights[features.AxisTiming] + resp.Weights[features.AxisGeometry] + resp.Weights[features.AxisVelocity]
			So(sum, ShouldAlmostEqual, 1.0, 1e-9)
			So(resp.ExcludedAxes, ShouldContain, features.AxisPressure)
			So(resp.Reasons, ShouldContain, "excluded_axis:pressure:"+features.ReasonNoPressureSupport)
		})
	})

	Convey("Given an ML scorer slower than its timeout", t, func() {
		cfg := testConfig()
		cfg.ML.Mode = config.MLModeSimulated
		cfg.ML.Timeout = 20 * time.Millisecond
		svc := startService(cfg, service.WithScorer(slowScorer{delay: 500 * time.Millisecond}))
		defer svc.Stop()
		ctx := context.Background()

		c := sample(9, capturegen.StyleNormal, 1)
		enroll(svc, "gina", c, c, c)
		start := time.Now()
		resp, err := svc.Authenticate(ctx, types.AuthenticateRequest{UserID: "gina", Capture: c})

		Convey("Then the rule-based score is used and the result is marked degraded", func() {
			So(err, ShouldBeNil)
			So(time.Since(start), ShouldBeLessThan, 300*time.Millisecond)
			So(resp.MLDegraded, ShouldBeTrue)
			So(resp.MLScore, ShouldBeNil)
			So(resp.Score, ShouldEqual, resp.RuleScore)
			So(resp.Reasons, ShouldContain, comparison.ReasonMLDegraded)
		})
	})

	Convey("Given a fast ML scorer", t, func() {
		cfg := testConfig()
		cfg.ML.Mode = config.MLModeSimulated
		svc := startService(cfg, service.WithScorer(slowScorer{delay: time.Millisecond}))
		defer svc.Stop()
		ctx := context.Background()

		c := sample(10, capturegen.StyleNormal, 1)
		enroll(svc, "hana", c, c, c)
		resp, err := svc.Authenticate(ctx, types.AuthenticateRequest{UserID: "hana", Capture: c})

		Convey("Then the ML score is blended in", func() {
			So(err, ShouldBeNil)
			So(resp.MLDegraded, ShouldBeFalse)
			So(resp.MLScore, ShouldNotBeNil)
			So(*resp.MLScore, ShouldEqual, 1.0)
			So(resp.Reasons, ShouldContain, comparison.ReasonMLBlended)
		})
	})
}

func TestService_Decision(t *testing.T) {
	Convey("An overall of exactly the authentication threshold is reviewed", t, func() {
		cfg := testConfig()
		So(comparison.Decide(0.80, cfg.Comparison.Thresholds.Authentication, cfg.Comparison.Band), ShouldEqual, comparison.Review)
	})
}
