package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/strokeauth/internal/domain/apperr"
)

func vector(scale float64) map[string]float64 {
	return map[string]float64{
		"stroke_count":     3,
		"total_points":     120,
		"average_velocity": 0.8 * scale,
		"width":            200 * scale,
		"height":           90 * scale,
		"avg_pressure":     0.55,
	}
}

// stubScorer answers after delay, or fails the first failures calls.
type stubScorer struct {
	delay    time.Duration
	failures int32
	calls    atomic.Int32
	resp     Response
}

func (s *stubScorer) Predict(ctx context.Context, _ Request) (Response, error) {
	n := s.calls.Add(1)
	if n <= s.failures {
		return Response{}, errors.New("boom")
	}
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case <-time.After(s.delay):
	}
	return s.resp, nil
}

func TestSimulatedScorer(t *testing.T) {
	Convey("Given a simulated scorer with no latency", t, func() {
		s := NewSimulatedScorer(WithLatencyRange(0, time.Millisecond), WithSeed(7))
		ctx := context.Background()

		Convey("Identical vectors score as genuine", func() {
			resp, err := s.Predict(ctx, Request{Username: "alice", StoredFeatures: vector(1), CurrentFeatures: vector(1)})
			So(err, ShouldBeNil)
			So(resp.RFScore, ShouldAlmostEqual, 1.0, 1e-9)
			So(resp.EnsembleScore, ShouldBeGreaterThan, 0.9)
			So(resp.Prediction, ShouldEqual, PredictionGenuine)
			So(resp.Score(), ShouldEqual, resp.EnsembleScore)
		})

		Convey("Very different vectors score as forgery", func() {
			resp, err := s.Predict(ctx, Request{StoredFeatures: vector(1), CurrentFeatures: vector(3)})
			So(err, ShouldBeNil)
			So(resp.Prediction, ShouldEqual, PredictionForgery)
			So(resp.EnsembleScore, ShouldBeLessThan, 0.5)
		})

		Convey("Empty vectors are rejected", func() {
			_, err := s.Predict(ctx, Request{StoredFeatures: vector(1)})
			So(errors.Is(err, ErrEmptyFeatures), ShouldBeTrue)
		})

		Convey("A cancelled context stops the call", func() {
			slow := NewSimulatedScorer(WithLatencyRange(time.Second, 2*time.Second))
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := slow.Predict(cctx, Request{StoredFeatures: vector(1), CurrentFeatures: vector(1)})
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
		})
	})
}

func TestRelativeDifferences(t *testing.T) {
	Convey("Relative differences", t, func() {
		Convey("Counts use absolute difference scaled by the stored value", func() {
			d := RelativeDifferences(
				map[string]float64{"stroke_count": 2, "total_points": 100},
				map[string]float64{"stroke_count": 3, "total_points": 150},
			)
			So(d, ShouldHaveLength, 2)
			So(d[0], ShouldAlmostEqual, 0.5, 1e-9)
			So(d[1], ShouldAlmostEqual, 0.5, 1e-9)
		})

		Convey("Other values are relative and capped at one", func() {
			d := RelativeDifferences(
				map[string]float64{"a": 10, "b": 0, "c": 0, "d": 1},
				map[string]float64{"a": 12, "b": 0, "c": 5, "d": 9},
			)
			So(d, ShouldResemble, []float64{0.2, 0, 1, 1})
		})

		Convey("Missing current values count as zero", func() {
			d := RelativeDifferences(map[string]float64{"width": 100}, map[string]float64{})
			So(d, ShouldResemble, []float64{1})
		})
	})
}

func TestResponseScore(t *testing.T) {
	Convey("Legacy servers only send a 0-100 confidence", t, func() {
		So(Response{ConfidenceScore: 82}.Score(), ShouldAlmostEqual, 0.82, 1e-9)
		So(Response{EnsembleScore: 1.4}.Score(), ShouldEqual, 1.0)
	})
}

func TestHTTPScorer(t *testing.T) {
	Convey("Given an ensemble server", t, func() {
		var got Request
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != PredictPath || r.Method != http.MethodPost {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			if got.Username == "broken" {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_ = json.NewEncoder(w).Encode(Response{RFScore: 0.9, SVMScore: 0.8, EnsembleScore: 0.85, Prediction: 1})
		}))
		defer srv.Close()

		s := NewHTTPScorer(srv.URL+"/", WithHTTPClient(srv.Client()))

		Convey("It posts the snake_case request and decodes the answer", func() {
			resp, err := s.Predict(context.Background(), Request{
				Username:        "alice",
				StoredFeatures:  vector(1),
				CurrentFeatures: vector(1.1),
			})
			So(err, ShouldBeNil)
			So(resp.EnsembleScore, ShouldEqual, 0.85)
			So(got.Username, ShouldEqual, "alice")
			So(got.StoredFeatures["width"], ShouldEqual, 200)
		})

		Convey("Non-200 answers are errors", func() {
			_, err := s.Predict(context.Background(), Request{Username: "broken", StoredFeatures: vector(1), CurrentFeatures: vector(1)})
			So(errors.Is(err, ErrBadStatus), ShouldBeTrue)
		})

		Convey("An unreachable server is unavailable", func() {
			down := NewHTTPScorer("http://127.0.0.1:1")
			_, err := down.Predict(context.Background(), Request{StoredFeatures: vector(1), CurrentFeatures: vector(1)})
			So(errors.Is(err, ErrUnavailable), ShouldBeTrue)
		})
	})
}

func TestGuarded(t *testing.T) {
	Convey("Given a guarded scorer", t, func() {
		var mu sync.Mutex
		outcomes := []string{}
		observe := func(o string, _ time.Duration) {
			mu.Lock()
			outcomes = append(outcomes, o)
			mu.Unlock()
		}
		req := Request{Username: "alice", StoredFeatures: vector(1), CurrentFeatures: vector(1)}

		Convey("A fast scorer passes through", func() {
			next := &stubScorer{resp: Response{EnsembleScore: 0.7}}
			g := NewGuarded(next, WithObserver(observe))
			resp, err := g.Predict(context.Background(), req)
			So(err, ShouldBeNil)
			So(resp.EnsembleScore, ShouldEqual, 0.7)
			So(g.Timeout(), ShouldEqual, DefaultTimeout)
			So(outcomes, ShouldResemble, []string{OutcomeSuccess})
		})

		Convey("One failure is retried", func() {
			next := &stubScorer{failures: 1, resp: Response{EnsembleScore: 0.6}}
			g := NewGuarded(next, WithObserver(observe))
			resp, err := g.Predict(context.Background(), req)
			So(err, ShouldBeNil)
			So(resp.EnsembleScore, ShouldEqual, 0.6)
			So(next.calls.Load(), ShouldEqual, 2)
			So(outcomes, ShouldResemble, []string{OutcomeRetry, OutcomeSuccess})
		})

		Convey("Without retry a failure is final", func() {
			next := &stubScorer{failures: 1}
			g := NewGuarded(next, WithRetry(false))
			_, err := g.Predict(context.Background(), req)
			So(errors.Is(err, apperr.ErrMLScorerUnavailable), ShouldBeTrue)
			So(next.calls.Load(), ShouldEqual, 1)
		})

		Convey("A slow scorer times out within the retry budget", func() {
			next := &stubScorer{delay: 500 * time.Millisecond}
			g := NewGuarded(next, WithTimeout(20*time.Millisecond), WithObserver(observe))
			start := time.Now()
			_, err := g.Predict(context.Background(), req)
			took := time.Since(start)
			So(errors.Is(err, apperr.ErrMLScorerUnavailable), ShouldBeTrue)
			So(apperr.KindOf(err).Retryable(), ShouldBeTrue)
			So(next.calls.Load(), ShouldEqual, 2)
			So(took, ShouldBeLessThan, 200*time.Millisecond)
			So(outcomes[len(outcomes)-1], ShouldEqual, OutcomeFailure)
		})

		Convey("A saturated limiter fails after the budget", func() {
			next := &stubScorer{delay: 300 * time.Millisecond}
			g := NewGuarded(next, WithTimeout(300*time.Millisecond), WithRetry(false), WithMaxConcurrent(1), WithObserver(observe))
			done := make(chan struct{})
			go func() {
				defer close(done)
				_, _ = g.Predict(context.Background(), req)
			}()
			for next.calls.Load() == 0 {
				time.Sleep(time.Millisecond)
			}
			short := NewGuarded(next, WithTimeout(10*time.Millisecond), WithRetry(false), WithMaxConcurrent(1))
			short.sem = g.sem
			_, err := short.Predict(context.Background(), req)
			So(errors.Is(err, ErrLimiterTimeout), ShouldBeTrue)
			So(errors.Is(err, apperr.ErrMLScorerUnavailable), ShouldBeTrue)
			<-done
		})
	})
}

func TestGuardedWallClockBound(t *testing.T) {
	if testing.Short() {
		t.Skip("slow timeout test")
	}
	Convey("A 5s scorer behind the default 2s timeout without retry fails in about 2s", t, func() {
		next := &stubScorer{delay: 5 * time.Second}
		g := NewGuarded(next, WithRetry(false))
		start := time.Now()
		_, err := g.Predict(context.Background(), Request{StoredFeatures: vector(1), CurrentFeatures: vector(1)})
		So(errors.Is(err, apperr.ErrMLScorerUnavailable), ShouldBeTrue)
		So(time.Since(start), ShouldBeLessThan, 2500*time.Millisecond)
	})
}
