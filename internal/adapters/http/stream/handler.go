package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/strokeauth/internal/adapters/http/api"
	"github.com/okian/strokeauth/internal/domain/apperr"
	"github.com/okian/strokeauth/internal/domain/capture"
	"github.com/okian/strokeauth/internal/domain/types"
	"github.com/okian/strokeauth/pkg/logger"
	"github.com/okian/strokeauth/pkg/metrics"
)

// Path is the route of the capture stream.
const Path = "/v1/capture/stream"

// Defaults.
const (
	DefaultIdleTimeout   = 30 * time.Second
	DefaultMaxFrameBytes = 1 << 20
	DefaultMaxStrokes    = 64
	DefaultMaxPoints     = 10_000
	writeTimeout         = 5 * time.Second
)

// Dependencies are the operations a finished capture is handed to.
type Dependencies interface {
	ExtractFeatures(ctx context.Context, session capture.Session) (types.FeaturesResponse, error)
	Enroll(ctx context.Context, req types.EnrollRequest) (types.EnrollResponse, error)
	Authenticate(ctx context.Context, req types.AuthenticateRequest) (types.AuthenticateResponse, error)
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger for connection events.
func WithLogger(l logger.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithIdleTimeout closes connections that send nothing for d.
func WithIdleTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.idleTimeout = d
		}
	}
}

// WithMaxFrameBytes bounds a single client frame.
func WithMaxFrameBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxFrameBytes = n
		}
	}
}

// WithLimits bounds how much of one capture is buffered.
func WithLimits(maxStrokes, maxPoints int) Option {
	return func(h *Handler) {
		if maxStrokes > 0 {
			h.maxStrokes = maxStrokes
		}
		if maxPoints > 0 {
			h.maxPoints = maxPoints
		}
	}
}

// WithCheckOrigin replaces the same-origin check of the upgrader.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Handler) {
		h.upgrader.CheckOrigin = fn
	}
}

// Handler upgrades requests to websocket capture sessions.
type Handler struct {
	deps          Dependencies
	upgrader      websocket.Upgrader
	logger        logger.Logger
	idleTimeout   time.Duration
	maxFrameBytes int64
	maxStrokes    int
	maxPoints     int
}

// NewHandler creates a capture stream handler.
func NewHandler(deps Dependencies, opts ...Option) *Handler {
	h := &Handler{
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger:        logger.Nop(),
		idleTimeout:   DefaultIdleTimeout,
		maxFrameBytes: DefaultMaxFrameBytes,
		maxStrokes:    DefaultMaxStrokes,
		maxPoints:     DefaultMaxPoints,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register attaches the stream route to mux behind the API metrics middleware.
func Register(_ context.Context, mux *http.ServeMux, h *Handler) {
	if mux == nil {
		panic("mux is nil")
	}
	mux.HandleFunc("GET "+Path, api.MetricsMiddleware(h.ServeHTTP, "capture_stream"))
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already answered the request
		h.logger.Debug(r.Context(), "capture stream upgrade failed", logger.Error(err))
		return
	}
	defer conn.Close()

	metrics.AddStreamConnections(1)
	defer metrics.AddStreamConnections(-1)

	conn.SetReadLimit(h.maxFrameBytes)
	h.serve(r.Context(), conn)
}

// state is the capture being assembled on one connection.
type state struct {
	begun         bool
	userID        string
	biometricType string
	mode          string
	session       capture.Session
	points        int
}

func (h *Handler) serve(ctx context.Context, conn *websocket.Conn) {
	var st state
	for {
		if err := conn.SetReadDeadline(time.Now().Add(h.idleTimeout)); err != nil {
			return
		}
		var frame ClientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				metrics.RecordStreamFrame("invalid")
				if !h.write(conn, errorFrame(apperr.Invalid("stream.read", "frame", err.Error()))) {
					return
				}
				continue
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug(ctx, "capture stream closed", logger.Error(err))
			}
			return
		}
		metrics.RecordStreamFrame(frameLabel(frame.Type))

		reply := h.handle(ctx, &st, frame)
		if !h.write(conn, reply) {
			return
		}
	}
}

// handle advances st by one frame and returns the reply.
func (h *Handler) handle(ctx context.Context, st *state, frame ClientFrame) ServerFrame {
	const op = "stream.frame"
	switch frame.Type {
	case FrameBegin:
		*st = state{
			begun:         true,
			userID:        frame.UserID,
			biometricType: frame.BiometricType,
			mode:          frame.Mode,
		}
		if frame.Session != nil {
			st.session = capture.Session{
				SessionID:          frame.Session.SessionID,
				Timestamp:          frame.Session.Timestamp,
				DeviceCapabilities: frame.Session.DeviceCapabilities,
				CanvasSize:         frame.Session.CanvasSize,
			}
		}
		return ServerFrame{Type: FrameAck}

	case FrameStroke:
		if !st.begun {
			return errorFrame(apperr.Invalid(op, "type", "stroke before begin"))
		}
		if frame.Stroke == nil {
			return errorFrame(apperr.Invalid(op, "stroke", "missing stroke"))
		}
		if len(st.session.Strokes)+1 > h.maxStrokes {
			*st = state{}
			return errorFrame(apperr.Validation(op, "strokes", "maxStrokes", float64(h.maxStrokes), float64(h.maxStrokes+1)))
		}
		if st.points+len(frame.Stroke.Points) > h.maxPoints {
			actual := st.points + len(frame.Stroke.Points)
			*st = state{}
			return errorFrame(apperr.Validation(op, "points", "maxPoints", float64(h.maxPoints), float64(actual)))
		}
		st.session.Strokes = append(st.session.Strokes, *frame.Stroke)
		st.points += len(frame.Stroke.Points)
		return ServerFrame{Type: FrameAck, Strokes: len(st.session.Strokes), Points: st.points}

	case FrameFinish:
		if !st.begun {
			return errorFrame(apperr.Invalid(op, "type", "finish before begin"))
		}
		switch frame.Action {
		case ActionExtract, ActionEnroll, ActionAuthenticate:
		default:
			// the buffered capture is kept so the client can finish again
			return errorFrame(apperr.Invalid(op, "action", fmt.Sprintf("unknown action %q", frame.Action)))
		}
		finished := *st
		*st = state{}
		return h.finish(ctx, finished, frame.Action)

	default:
		return errorFrame(apperr.Invalid(op, "type", fmt.Sprintf("unknown frame type %q", frame.Type)))
	}
}

func (h *Handler) finish(ctx context.Context, st state, action string) ServerFrame {
	var (
		resp any
		err  error
	)
	switch action {
	case ActionExtract:
		resp, err = h.deps.ExtractFeatures(ctx, st.session)
	case ActionEnroll:
		resp, err = h.deps.Enroll(ctx, types.EnrollRequest{
			UserID:        st.userID,
			BiometricType: st.biometricType,
			Capture:       st.session,
		})
	case ActionAuthenticate:
		resp, err = h.deps.Authenticate(ctx, types.AuthenticateRequest{
			UserID:        st.userID,
			BiometricType: st.biometricType,
			Mode:          st.mode,
			Capture:       st.session,
		})
	}
	if err != nil {
		return errorFrame(err)
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return errorFrame(apperr.Wrap("stream.finish", apperr.KindInternal, err))
	}
	return ServerFrame{Type: FrameResult, Action: action, Payload: payload}
}

func frameLabel(t string) string {
	switch t {
	case FrameBegin, FrameStroke, FrameFinish:
		return t
	default:
		return "unknown"
	}
}

func (h *Handler) write(conn *websocket.Conn, frame ServerFrame) bool {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return false
	}
	if err := conn.WriteJSON(frame); err != nil {
		h.logger.Debug(context.Background(), "capture stream write failed", logger.Error(err))
		return false
	}
	return true
}
