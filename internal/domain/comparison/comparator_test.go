package comparison_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/strokeauth/internal/capturegen"
	"github.com/okian/strokeauth/internal/domain/apperr"
	"github.com/okian/strokeauth/internal/domain/comparison"
	"github.com/okian/strokeauth/internal/domain/enrollment"
	"github.com/okian/strokeauth/internal/domain/features"
	"github.com/okian/strokeauth/internal/domain/scoring"
	"github.com/okian/strokeauth/internal/domain/similarity"
)

type stubScorer struct {
	delay time.Duration
	resp  scoring.Response
	err   error
}

func (s stubScorer) Predict(ctx context.Context, _ scoring.Request) (scoring.Response, error) {
	select {
	case <-ctx.Done():
		return scoring.Response{}, ctx.Err()
	case <-time.After(s.delay):
	}
	return s.resp, s.err
}

func extract(seed uint64, style capturegen.Style, variant uint64, opts ...capturegen.SampleOption) features.FeatureSet {
	return features.NewExtractor().Extract(capturegen.NewProfile(seed).Sample(style, variant, opts...))
}

func completeBaseline(template features.FeatureSet) *enrollment.Baseline {
	return &enrollment.Baseline{
		Key:             enrollment.Key{UserID: "alice", BiometricType: "signature"},
		Status:          enrollment.StatusComplete,
		SamplesAccepted: 3,
		RequiredSamples: 3,
		Template:        template,
		Variance:        map[features.Axis]float64{},
		Samples:         []features.FeatureSet{template, template, template},
	}
}

func newComparator(opts ...comparison.Option) *comparison.Comparator {
	c, err := comparison.NewComparator(comparison.DefaultConfig(), opts...)
	So(err, ShouldBeNil)
	return c
}

func sumWeights(w map[features.Axis]float64) float64 {
	var s float64
	for _, v := range w {
		s += v
	}
	return s
}

func TestIdenticalCaptures(t *testing.T) {
	Convey("Given two byte-identical captures", t, func() {
		fs := extract(11, capturegen.StyleNormal, 1)
		again := extract(11, capturegen.StyleNormal, 1)
		c := newComparator()

		Convey("Then the comparison accepts with a near perfect score", func() {
			res, err := c.Compare(context.Background(), completeBaseline(fs), again, comparison.ModeAuthentication, comparison.Options{ChallengeQuality: 1})
			So(err, ShouldBeNil)
			So(res.Score, ShouldBeGreaterThanOrEqualTo, 0.99)
			So(res.Recommendation, ShouldEqual, comparison.Accept)
			So(res.MatchDetails.Overall, ShouldEqual, res.Score)
			So(res.MLScore, ShouldBeNil)
			So(res.Reasons, ShouldContain, "dominant_axis:pressure")
			So(res.ExcludedAxes, ShouldBeEmpty)
			So(res.Security.AuthenticityScore, ShouldEqual, res.Score)
			So(res.Security.AnomalyScore, ShouldBeLessThan, 0.01)
		})

		Convey("And every algorithm agrees", func() {
			for _, alg := range []similarity.Algorithm{similarity.Euclidean, similarity.DTW, similarity.Hybrid} {
				cfg := comparison.DefaultConfig()
				cfg.Algorithm = alg
				cc, err := comparison.NewComparator(cfg)
				So(err, ShouldBeNil)
				res, err := cc.Compare(context.Background(), completeBaseline(fs), again, comparison.ModeVerification, comparison.Options{})
				So(err, ShouldBeNil)
				So(res.Score, ShouldBeGreaterThanOrEqualTo, 0.99)
			}
		})
	})
}

func TestPressureExclusion(t *testing.T) {
	Convey("Given a device without pressure support", t, func() {
		fs := extract(12, capturegen.StyleNormal, 1, capturegen.WithoutPressure())
		challenge := extract(12, capturegen.StyleNormal, 2, capturegen.WithoutPressure())
		c := newComparator()

		res, err := c.Compare(context.Background(), completeBaseline(fs), challenge, comparison.ModeAuthentication, comparison.Options{})
		So(err, ShouldBeNil)

		Convey("Then the pressure weight is zero and the rest sum to one", func() {
			So(res.Weights[features.AxisPressure], ShouldEqual, 0)
			So(res.Weights[features.AxisTiming]+res.Weights[features.AxisGeometry]+res.Weights[features.AxisVelocity], ShouldAlmostEqual, 1.0, 1e-9)
			So(res.Weights[features.AxisTiming], ShouldAlmostEqual, 0.3/0.7, 1e-9)
			So(res.Weights[features.AxisVelocity], ShouldAlmostEqual, 0.1/0.7, 1e-9)
		})

		Convey("And the exclusion is reported", func() {
			So(res.ExcludedAxes, ShouldResemble, []features.Axis{features.AxisPressure})
			So(res.Reasons, ShouldContain, "excluded_axis:pressure:no_pressure_support")
			So(res.MatchDetails.Pressure, ShouldEqual, 0)
		})
	})

	Convey("Given a pressure baseline and a pressureless challenge", t, func() {
		fs := extract(12, capturegen.StyleNormal, 1)
		challenge := extract(12, capturegen.StyleNormal, 1, capturegen.WithoutPressure())
		res, err := newComparator().Compare(context.Background(), completeBaseline(fs), challenge, comparison.ModeAuthentication, comparison.Options{})
		So(err, ShouldBeNil)
		So(res.Weights[features.AxisPressure], ShouldEqual, 0)
		So(sumWeights(res.Weights), ShouldAlmostEqual, 1.0, 1e-9)
	})
}

func TestMLBlend(t *testing.T) {
	ctx := context.Background()
	fs := extract(13, capturegen.StyleNormal, 1)
	challenge := extract(13, capturegen.StyleNormal, 2)

	Convey("Given a responsive ML scorer", t, func() {
		c := newComparator(comparison.WithScorer(stubScorer{resp: scoring.Response{EnsembleScore: 1}}))
		res, err := c.Compare(ctx, completeBaseline(fs), challenge, comparison.ModeAuthentication, comparison.Options{UserID: "alice"})
		So(err, ShouldBeNil)

		Convey("Then the score is blended", func() {
			So(res.MLScore, ShouldNotBeNil)
			So(*res.MLScore, ShouldEqual, 1)
			So(res.Score, ShouldAlmostEqual, 0.3+0.7*res.RuleScore, 1e-9)
			So(res.Reasons, ShouldContain, comparison.ReasonMLBlended)
			So(res.MLDegraded, ShouldBeFalse)
		})
	})

	Convey("Given an ML scorer slower than its timeout", t, func() {
		slow := scoring.NewGuarded(stubScorer{delay: 500 * time.Millisecond}, scoring.WithTimeout(20*time.Millisecond))
		c := newComparator(comparison.WithScorer(slow))
		res, err := c.Compare(ctx, completeBaseline(fs), challenge, comparison.ModeAuthentication, comparison.Options{})

		Convey("Then the rule-based score is used unchanged", func() {
			So(err, ShouldBeNil)
			So(res.MLDegraded, ShouldBeTrue)
			So(res.MLScore, ShouldBeNil)
			So(res.Score, ShouldEqual, res.MatchDetails.Overall)
			So(res.Reasons, ShouldContain, comparison.ReasonMLDegraded)
		})
	})

	Convey("Given a failing ML scorer", t, func() {
		c := newComparator(comparison.WithScorer(stubScorer{err: errors.New("down")}))
		res, err := c.Compare(ctx, completeBaseline(fs), challenge, comparison.ModeAuthentication, comparison.Options{})
		So(err, ShouldBeNil)
		So(res.MLDegraded, ShouldBeTrue)
	})
}

func TestMLTimeoutWallClock(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the default scorer timeout")
	}
	Convey("A scorer answering after 5s behind a 2s timeout degrades without an error", t, func() {
		fs := extract(14, capturegen.StyleNormal, 1)
		slow := scoring.NewGuarded(stubScorer{delay: 5 * time.Second}, scoring.WithTimeout(2*time.Second))
		c := newComparator(comparison.WithScorer(slow))
		start := time.Now()
		res, err := c.Compare(context.Background(), completeBaseline(fs), fs, comparison.ModeAuthentication, comparison.Options{})
		So(err, ShouldBeNil)
		So(res.Reasons, ShouldContain, comparison.ReasonMLDegraded)
		So(res.Score, ShouldEqual, res.MatchDetails.Overall)
		So(time.Since(start), ShouldBeLessThan, 5*time.Second)
	})
}

func TestDecide(t *testing.T) {
	Convey("Decisions around the authentication threshold", t, func() {
		So(comparison.Decide(0.80, 0.80, 0.05), ShouldEqual, comparison.Review)
		So(comparison.Decide(0.85, 0.80, 0.05), ShouldEqual, comparison.Accept)
		So(comparison.Decide(0.75, 0.80, 0.05), ShouldEqual, comparison.Review)
		So(comparison.Decide(0.7499, 0.80, 0.05), ShouldEqual, comparison.Reject)
		So(comparison.Decide(0.99, 0.80, 0), ShouldEqual, comparison.Accept)
	})

	Convey("Thresholds follow the mode", t, func() {
		th := comparison.DefaultConfig().Thresholds
		So(th.For(comparison.ModeAuthentication), ShouldEqual, 0.80)
		So(th.For(comparison.ModeVerification), ShouldEqual, 0.85)
		So(th.For(comparison.ModeEnrollment), ShouldEqual, 0.70)
	})
}

func TestRenormalize(t *testing.T) {
	Convey("Renormalized weights", t, func() {
		w := comparison.DefaultConfig().Weights
		none := func(features.Axis) bool { return false }

		Convey("sum to one with nothing excluded", func() {
			So(sumWeights(comparison.Renormalize(w, none)), ShouldAlmostEqual, 1.0, 1e-9)
		})

		Convey("fall back to equal shares when active weights are all zero", func() {
			out := comparison.Renormalize(comparison.Weights{Pressure: 1}, func(a features.Axis) bool { return a == features.AxisPressure })
			So(out[features.AxisTiming], ShouldAlmostEqual, 1.0/3, 1e-12)
			So(out[features.AxisPressure], ShouldEqual, 0)
		})

		Convey("are all zero when every axis is excluded", func() {
			out := comparison.Renormalize(w, func(features.Axis) bool { return true })
			So(sumWeights(out), ShouldEqual, 0)
		})
	})
}

func TestCompareErrors(t *testing.T) {
	ctx := context.Background()
	fs := extract(15, capturegen.StyleNormal, 1)

	Convey("Comparison preconditions", t, func() {
		c := newComparator()

		Convey("A missing baseline is not found", func() {
			_, err := c.Compare(ctx, nil, fs, comparison.ModeAuthentication, comparison.Options{})
			So(errors.Is(err, apperr.ErrBaselineNotFound), ShouldBeTrue)
		})

		Convey("A collecting baseline cannot authenticate", func() {
			b := completeBaseline(fs)
			b.Status = enrollment.StatusCollecting
			_, err := c.Compare(ctx, b, fs, comparison.ModeAuthentication, comparison.Options{})
			So(errors.Is(err, apperr.ErrBaselineIncomplete), ShouldBeTrue)

			_, err = c.Compare(ctx, b, fs, comparison.ModeEnrollment, comparison.Options{})
			So(err, ShouldBeNil)
		})

		Convey("Mixed algorithm versions are refused", func() {
			old := fs.Clone()
			old.AlgorithmVersion = "stroke-features/0.9"
			_, err := c.Compare(ctx, completeBaseline(old), fs, comparison.ModeAuthentication, comparison.Options{})
			So(errors.Is(err, apperr.ErrValidation), ShouldBeTrue)
		})
	})
}

func TestScoreBounds(t *testing.T) {
	Convey("Scores, confidence and weights stay in range across styles", t, func() {
		base := completeBaseline(extract(16, capturegen.StyleNormal, 1))
		base.Variance = map[features.Axis]float64{features.AxisTiming: 0.2, features.AxisGeometry: 0.1}
		for _, alg := range []similarity.Algorithm{similarity.Euclidean, similarity.DTW, similarity.Hybrid} {
			cfg := comparison.DefaultConfig()
			cfg.Algorithm = alg
			c, err := comparison.NewComparator(cfg)
			So(err, ShouldBeNil)
			for _, style := range capturegen.Styles() {
				res, err := c.Compare(context.Background(), base, extract(16, style, 7), comparison.ModeAuthentication, comparison.Options{ChallengeQuality: 0.8})
				So(err, ShouldBeNil)
				So(res.Score, ShouldBeBetweenOrEqual, 0, 1)
				So(res.Confidence, ShouldBeBetweenOrEqual, 0, 1)
				So(res.Security.AnomalyScore, ShouldBeBetweenOrEqual, 0, 1)
				So(math.Abs(sumWeights(res.Weights)-1), ShouldBeLessThan, 1e-9)
			}
		}
	})

	Convey("A genuine sample outscores a forgery", t, func() {
		base := completeBaseline(extract(17, capturegen.StyleNormal, 1))
		c := newComparator()
		genuine, err := c.Compare(context.Background(), base, extract(17, capturegen.StyleNormal, 2), comparison.ModeAuthentication, comparison.Options{})
		So(err, ShouldBeNil)
		forgery, err := c.Compare(context.Background(), base, extract(17, capturegen.StyleForgery, 2), comparison.ModeAuthentication, comparison.Options{})
		So(err, ShouldBeNil)
		So(genuine.Score, ShouldBeGreaterThan, forgery.Score)
	})
}

func TestConfidence(t *testing.T) {
	Convey("Confidence grows with quality and samples", t, func() {
		So(comparison.Confidence(1, 3, 0), ShouldAlmostEqual, 0.4+0.3*3.0/5+0.3, 1e-12)
		So(comparison.Confidence(0, 0, 1), ShouldEqual, 0)
		So(comparison.Confidence(2, 1000, -1), ShouldBeLessThanOrEqualTo, 1)
	})
}

func TestConfigValidate(t *testing.T) {
	Convey("Invalid settings are configuration errors", t, func() {
		mutate := []func(*comparison.Config){
			func(c *comparison.Config) { c.Algorithm = "cosine" },
			func(c *comparison.Config) { c.Weights.Timing = -0.1 },
			func(c *comparison.Config) { c.Weights = comparison.Weights{} },
			func(c *comparison.Config) { c.Thresholds.Verification = 1.2 },
			func(c *comparison.Config) { c.Band = 0.5 },
			func(c *comparison.Config) { c.BlendWeight = 1.5 },
		}
		for _, m := range mutate {
			cfg := comparison.DefaultConfig()
			m(&cfg)
			_, err := comparison.NewComparator(cfg)
			So(errors.Is(err, apperr.ErrConfiguration), ShouldBeTrue)
		}
		So(comparison.DefaultConfig().Validate(), ShouldBeNil)
	})

	Convey("Modes parse case-insensitively", t, func() {
		m, err := comparison.ParseMode("Verification")
		So(err, ShouldBeNil)
		So(m, ShouldEqual, comparison.ModeVerification)
		m, err = comparison.ParseMode("")
		So(err, ShouldBeNil)
		So(m, ShouldEqual, comparison.ModeAuthentication)
		_, err = comparison.ParseMode("login")
		So(errors.Is(err, apperr.ErrValidation), ShouldBeTrue)
	})
}
