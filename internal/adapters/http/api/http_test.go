package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/strokeauth/internal/adapters/http/api"
	service "github.com/okian/strokeauth/internal/app"
	"github.com/okian/strokeauth/internal/capturegen"
	"github.com/okian/strokeauth/internal/config"
	"github.com/okian/strokeauth/internal/domain/apperr"
	"github.com/okian/strokeauth/internal/domain/capture"
	"github.com/okian/strokeauth/internal/domain/comparison"
	"github.com/okian/strokeauth/internal/domain/model"
	"github.com/okian/strokeauth/internal/domain/types"
	"github.com/okian/strokeauth/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

// mockDependencies answers every call with err when set.
type mockDependencies struct {
	err      error
	limit    int
	attempts []model.Attempt
}

func (m *mockDependencies) ExtractFeatures(context.Context, capture.Session) (types.FeaturesResponse, error) {
	return types.FeaturesResponse{Warnings: []string{}}, m.err
}

func (m *mockDependencies) Enroll(_ context.Context, req types.EnrollRequest) (types.EnrollResponse, error) {
	return types.EnrollResponse{UserID: req.UserID}, m.err
}

func (m *mockDependencies) Authenticate(context.Context, types.AuthenticateRequest) (types.AuthenticateResponse, error) {
	return types.AuthenticateResponse{}, m.err
}

func (m *mockDependencies) Baseline(_ context.Context, userID, biometricType string) (types.BaselineSummary, error) {
	return types.BaselineSummary{UserID: userID, BiometricType: biometricType}, m.err
}

func (m *mockDependencies) ResetEnrollment(context.Context, string, string) error {
	return m.err
}

func (m *mockDependencies) RecentAttempts(_ context.Context, _ string, limit int) ([]model.Attempt, error) {
	m.limit = limit
	return m.attempts, m.err
}

type mockStatsProvider struct {
	stats types.Stats
}

func (m *mockStatsProvider) GetStats(context.Context) types.Stats {
	return m.stats
}

func newMux(deps api.Dependencies, opts ...api.Option) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps, &mockStatsProvider{stats: types.Stats{Started: true, MLMode: "off"}}, opts...).
		Register(context.Background(), mux)
	return mux
}

func do(mux http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		So(json.NewEncoder(&buf).Encode(b), ShouldBeNil)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decodeError(w *httptest.ResponseRecorder) apperr.Body {
	var body apperr.Body
	So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
	return body
}

func TestServer_Register(t *testing.T) {
	Convey("Given a new API server", t, func() {
		deps := &mockDependencies{}
		mux := newMux(deps)

		Convey("Then health serves the metrics registry", func() {
			w := do(mux, http.MethodGet, "/healthz", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
		})

		Convey("And stats are served as JSON", func() {
			w := do(mux, http.MethodGet, "/stats", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Header().Get("Content-Type"), ShouldEqual, "application/json; charset=utf-8")
			var stats types.Stats
			So(json.Unmarshal(w.Body.Bytes(), &stats), ShouldBeNil)
			So(stats.Started, ShouldBeTrue)
			So(stats.MLMode, ShouldEqual, "off")
		})

		Convey("And unknown paths are not found", func() {
			w := do(mux, http.MethodGet, "/unknown", nil)
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("And a wrong method is rejected by the router", func() {
			w := do(mux, http.MethodGet, "/v1/authenticate", nil)
			So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})

		Convey("And path values reach the baseline lookup", func() {
			w := do(mux, http.MethodGet, "/v1/enrollments/alice/signature", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			var summary types.BaselineSummary
			So(json.Unmarshal(w.Body.Bytes(), &summary), ShouldBeNil)
			So(summary.UserID, ShouldEqual, "alice")
			So(summary.BiometricType, ShouldEqual, "signature")
		})

		Convey("And a reset answers no content", func() {
			w := do(mux, http.MethodDelete, "/v1/enrollments/alice/signature", nil)
			So(w.Code, ShouldEqual, http.StatusNoContent)
		})
	})
}

func TestRequestDecoding(t *testing.T) {
	Convey("Given an API server with a small body limit", t, func() {
		deps := &mockDependencies{}
		mux := newMux(deps, api.WithMaxBodyBytes(64))

		Convey("Malformed JSON is a validation error", func() {
			w := do(mux, http.MethodPost, "/v1/features", "{not json")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decodeError(w).Code, ShouldEqual, string(apperr.KindValidation))
		})

		Convey("An oversized body is rejected", func() {
			w := do(mux, http.MethodPost, "/v1/enrollments", `{"userId":"`+strings.Repeat("a", 200)+`"}`)
			So(w.Code, ShouldEqual, http.StatusRequestEntityTooLarge)
			body := decodeError(w)
			So(body.Code, ShouldEqual, string(apperr.KindValidation))
			So(body.Bound, ShouldEqual, "maxBytes")
			So(*body.Limit, ShouldEqual, 64.0)
			So(body.Actual, ShouldNotBeNil)
			So(*body.Actual, ShouldEqual, 213.0)
		})

		Convey("An oversized body of unknown length reports no actual size", func() {
			payload := io.NopCloser(strings.NewReader(`{"userId":"` + strings.Repeat("a", 200) + `"}`))
			req := httptest.NewRequest(http.MethodPost, "/v1/enrollments", payload)
			So(req.ContentLength, ShouldEqual, -1)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			So(w.Code, ShouldEqual, http.StatusRequestEntityTooLarge)
			body := decodeError(w)
			So(body.Bound, ShouldEqual, "maxBytes")
			So(*body.Limit, ShouldEqual, 64.0)
			So(body.Actual, ShouldBeNil)
			So(w.Body.String(), ShouldNotContainSubstring, `"actual"`)
		})

		Convey("The attempts limit must be a positive integer", func() {
			w := do(mux, http.MethodGet, "/v1/attempts/alice?limit=zero", nil)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decodeError(w).Field, ShouldEqual, "limit")

			w = do(mux, http.MethodGet, "/v1/attempts/alice?limit=5", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.limit, ShouldEqual, 5)
			So(w.Body.String(), ShouldContainSubstring, `"attempts":[]`)
		})
	})
}

func TestErrorMapping(t *testing.T) {
	Convey("Error kinds map onto HTTP statuses", t, func() {
		cases := []struct {
			kind   apperr.Kind
			status int
		}{
			{apperr.KindValidation, http.StatusBadRequest},
			{apperr.KindQualityRejected, http.StatusUnprocessableEntity},
			{apperr.KindEnrollmentAlreadyComplete, http.StatusConflict},
			{apperr.KindEnrollmentBusy, http.StatusTooManyRequests},
			{apperr.KindBaselineNotFound, http.StatusNotFound},
			{apperr.KindBaselineIncomplete, http.StatusConflict},
			{apperr.KindReplayDetected, http.StatusConflict},
			{apperr.KindMLScorerUnavailable, http.StatusInternalServerError},
			{apperr.KindConfiguration, http.StatusInternalServerError},
			{apperr.KindInternal, http.StatusInternalServerError},
		}
		for _, c := range cases {
			So(api.StatusOf(apperr.New("test", c.kind, "x")), ShouldEqual, c.status)
		}

		Convey("A busy enrollment advertises Retry-After", func() {
			deps := &mockDependencies{err: apperr.New("test", apperr.KindEnrollmentBusy, "in flight")}
			w := do(newMux(deps), http.MethodPost, "/v1/enrollments", `{"userId":"alice"}`)
			So(w.Code, ShouldEqual, http.StatusTooManyRequests)
			So(w.Header().Get("Retry-After"), ShouldEqual, "1")
			body := decodeError(w)
			So(body.Code, ShouldEqual, string(apperr.KindEnrollmentBusy))
			So(body.Retryable, ShouldBeTrue)
		})

		Convey("A quality rejection carries issues and recommendations", func() {
			deps := &mockDependencies{err: apperr.QualityRejected("test", []string{"too_few_points"}, []string{"write more slowly"})}
			w := do(newMux(deps), http.MethodPost, "/v1/enrollments", `{"userId":"alice"}`)
			So(w.Code, ShouldEqual, http.StatusUnprocessableEntity)
			body := decodeError(w)
			So(body.Issues, ShouldResemble, []string{"too_few_points"})
			So(body.Recommendations, ShouldResemble, []string{"write more slowly"})
		})
	})
}

func TestServiceRoundTrip(t *testing.T) {
	Convey("Given the API in front of a started service", t, func() {
		cfg := config.New()
		cfg.Quality.Threshold = 0.1
		cfg.ML.Mode = config.MLModeOff
		cfg.Audit.WorkerCount = 1
		svc := service.New(service.WithConfig(cfg))
		So(svc.Start(context.Background()), ShouldBeNil)
		defer svc.Stop()

		mux := http.NewServeMux()
		api.NewServer(svc, svc).Register(context.Background(), mux)
		profile := capturegen.NewProfile(42)

		Convey("Features of a capture are extracted", func() {
			w := do(mux, http.MethodPost, "/v1/features", profile.Sample(capturegen.StyleNormal, 1))
			So(w.Code, ShouldEqual, http.StatusOK)
			var resp types.FeaturesResponse
			So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
			So(resp.Features.Geometry.StrokeCount, ShouldEqual, profile.Strokes())
		})

		Convey("A short capture is a bounded validation error", func() {
			short := capture.Session{
				SessionID: "short",
				Strokes: []capture.Stroke{{Points: []capture.Point{
					{X: 0, Y: 0, Pressure: 0.5, Timestamp: 0},
					{X: 5, Y: 5, Pressure: 0.5, Timestamp: 100},
					{X: 9, Y: 2, Pressure: 0.5, Timestamp: 300},
				}}},
				CanvasSize: capture.CanvasSize{Width: 400, Height: 200},
			}
			w := do(mux, http.MethodPost, "/v1/features", short)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			body := decodeError(w)
			So(body.Bound, ShouldEqual, "minPoints")
			So(*body.Actual, ShouldEqual, 3.0)
		})

		Convey("Enrollment completes and authentication accepts", func() {
			var last *httptest.ResponseRecorder
			for i := uint64(1); i <= uint64(svc.RequiredSamples()); i++ {
				last = do(mux, http.MethodPost, "/v1/enrollments", types.EnrollRequest{
					UserID:  "alice",
					Capture: profile.Sample(capturegen.StyleNormal, i),
				})
			}
			So(last.Code, ShouldEqual, http.StatusCreated)

			w := do(mux, http.MethodGet, "/v1/enrollments/alice/signature", nil)
			So(w.Code, ShouldEqual, http.StatusOK)

			w = do(mux, http.MethodPost, "/v1/enrollments", types.EnrollRequest{
				UserID:  "alice",
				Capture: profile.Sample(capturegen.StyleNormal, 9),
			})
			So(w.Code, ShouldEqual, http.StatusConflict)
			So(decodeError(w).Code, ShouldEqual, string(apperr.KindEnrollmentAlreadyComplete))

			challenge := profile.Sample(capturegen.StyleNormal, 1, capturegen.WithSessionID("api-challenge"))
			w = do(mux, http.MethodPost, "/v1/authenticate", types.AuthenticateRequest{UserID: "alice", Capture: challenge})
			So(w.Code, ShouldEqual, http.StatusOK)
			var resp types.AuthenticateResponse
			So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
			So(resp.AttemptID, ShouldNotBeEmpty)
			So(resp.Recommendation, ShouldEqual, comparison.Accept)

			w = do(mux, http.MethodPost, "/v1/authenticate", types.AuthenticateRequest{UserID: "alice", Capture: challenge})
			So(w.Code, ShouldEqual, http.StatusConflict)
			So(decodeError(w).Code, ShouldEqual, string(apperr.KindReplayDetected))

			w = do(mux, http.MethodDelete, "/v1/enrollments/alice/signature", nil)
			So(w.Code, ShouldEqual, http.StatusNoContent)
			w = do(mux, http.MethodGet, "/v1/enrollments/alice/signature", nil)
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Authenticating an unknown user is not found", func() {
			w := do(mux, http.MethodPost, "/v1/authenticate", types.AuthenticateRequest{
				UserID:  "nobody",
				Capture: profile.Sample(capturegen.StyleNormal, 1),
			})
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(decodeError(w).Code, ShouldEqual, string(apperr.KindBaselineNotFound))
		})
	})
}
