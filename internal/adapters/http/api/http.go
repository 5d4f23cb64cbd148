// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/okian/strokeauth/internal/domain/apperr"
	"github.com/okian/strokeauth/internal/domain/capture"
	"github.com/okian/strokeauth/internal/domain/model"
	"github.com/okian/strokeauth/internal/domain/types"
)

// DefaultMaxBodyBytes bounds request bodies when no limit is configured.
const DefaultMaxBodyBytes int64 = 1 << 20

// retryAfterSeconds is advertised on 429 answers.
const retryAfterSeconds = "1"

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	ExtractFeatures(ctx context.Context, session capture.Session) (types.FeaturesResponse, error)
	Enroll(ctx context.Context, req types.EnrollRequest) (types.EnrollResponse, error)
	Authenticate(ctx context.Context, req types.AuthenticateRequest) (types.AuthenticateResponse, error)

	Baseline(ctx context.Context, userID, biometricType string) (types.BaselineSummary, error)
	ResetEnrollment(ctx context.Context, userID, biometricType string) error
	RecentAttempts(ctx context.Context, userID string, limit int) ([]model.Attempt, error)
}

// Option configures a Server.
type Option func(*Server)

// WithMaxBodyBytes bounds the size of JSON request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// Server wires HTTP routes for the business API.
type Server struct {
	maxBodyBytes int64

	healthHandler     *HealthHandler
	statsHandler      *StatsHandler
	featuresHandler   *FeaturesHandler
	enrollmentHandler *EnrollmentHandler
	authHandler       *AuthenticateHandler
	attemptsHandler   *AttemptsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	s := &Server{maxBodyBytes: DefaultMaxBodyBytes}
	for _, opt := range opts {
		opt(s)
	}
	body := bodyDecoder{limit: s.maxBodyBytes}
	s.healthHandler = NewHealthHandler()
	s.statsHandler = NewStatsHandler(statsProvider)
	s.featuresHandler = NewFeaturesHandler(deps, body)
	s.enrollmentHandler = NewEnrollmentHandler(deps, body)
	s.authHandler = NewAuthenticateHandler(deps, body)
	s.attemptsHandler = NewAttemptsHandler(deps)
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /v1/features", MetricsMiddleware(s.featuresHandler.HandleExtract, "features"))
	mux.HandleFunc("POST /v1/enrollments", MetricsMiddleware(s.enrollmentHandler.HandleEnroll, "enroll"))
	mux.HandleFunc("GET /v1/enrollments/{userId}/{biometricType}", MetricsMiddleware(s.enrollmentHandler.HandleGet, "baseline"))
	mux.HandleFunc("DELETE /v1/enrollments/{userId}/{biometricType}", MetricsMiddleware(s.enrollmentHandler.HandleReset, "reset"))
	mux.HandleFunc("POST /v1/authenticate", MetricsMiddleware(s.authHandler.HandleAuthenticate, "authenticate"))
	mux.HandleFunc("GET /v1/attempts/{userId}", MetricsMiddleware(s.attemptsHandler.HandleList, "attempts"))
}

// bodyDecoder reads bounded JSON request bodies.
type bodyDecoder struct {
	limit int64
}

// decode fills v from the request body. Errors carry the status to answer with.
func (d bodyDecoder) decode(w http.ResponseWriter, r *http.Request, op string, v any) error {
	limit := d.limit
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			// chunked bodies report ContentLength -1
			verr := apperr.Exceeded(op, "body", "maxBytes", float64(tooLarge.Limit))
			if r.ContentLength >= 0 {
				verr = apperr.Validation(op, "body", "maxBytes", float64(tooLarge.Limit), float64(r.ContentLength))
			}
			return &statusError{status: http.StatusRequestEntityTooLarge, err: verr}
		}
		return apperr.Wrap(op, apperr.KindValidation, fmt.Errorf("%w: %w", ErrBadRequest, err))
	}
	return nil
}

// statusError forces a status that the kind mapping would not pick.
type statusError struct {
	status int
	err    error
}

func (e *statusError) Error() string { return e.err.Error() }
func (e *statusError) Unwrap() error { return e.err }

// StatusOf maps an error to the HTTP status it is answered with.
func StatusOf(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.status
	}
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindQualityRejected:
		return http.StatusUnprocessableEntity
	case apperr.KindEnrollmentAlreadyComplete, apperr.KindBaselineIncomplete, apperr.KindReplayDetected:
		return http.StatusConflict
	case apperr.KindEnrollmentBusy:
		return http.StatusTooManyRequests
	case apperr.KindBaselineNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError answers with the apperr payload of err.
func writeError(w http.ResponseWriter, err error) {
	status := StatusOf(err)
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	writeJSON(w, status, apperr.Payload(err))
}
