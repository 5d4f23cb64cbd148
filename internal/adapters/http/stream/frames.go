// Package stream accepts captures stroke by stroke over a websocket and
// hands the finished session to the same operations as the REST API.
package stream

import (
	"encoding/json"

	"github.com/okian/strokeauth/internal/domain/apperr"
	"github.com/okian/strokeauth/internal/domain/capture"
)

// Client frame types.
const (
	FrameBegin  = "begin"
	FrameStroke = "stroke"
	FrameFinish = "finish"
)

// Server frame types.
const (
	FrameAck    = "ack"
	FrameResult = "result"
	FrameError  = "error"
)

// Finish actions.
const (
	ActionExtract      = "extract"
	ActionEnroll       = "enroll"
	ActionAuthenticate = "authenticate"
)

// Header is the session metadata sent with begin. Strokes follow one per frame.
type Header struct {
	SessionID          string                     `json:"sessionId"`
	Timestamp          int64                      `json:"timestamp"`
	DeviceCapabilities capture.DeviceCapabilities `json:"deviceCapabilities"`
	CanvasSize         capture.CanvasSize         `json:"canvasSize"`
}

// ClientFrame is any frame a client sends. Which fields are read depends on Type.
type ClientFrame struct {
	Type string `json:"type"`

	// begin
	UserID        string  `json:"userId,omitempty"`
	BiometricType string  `json:"biometricType,omitempty"`
	Mode          string  `json:"mode,omitempty"`
	Session       *Header `json:"session,omitempty"`

	// stroke
	Stroke *capture.Stroke `json:"stroke,omitempty"`

	// finish
	Action string `json:"action,omitempty"`
}

// ServerFrame is any frame the server sends.
type ServerFrame struct {
	Type string `json:"type"`

	// ack
	Strokes int `json:"strokes,omitempty"`
	Points  int `json:"points,omitempty"`

	// result
	Action  string          `json:"action,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// error
	Error *apperr.Body `json:"error,omitempty"`
}

func errorFrame(err error) ServerFrame {
	body := apperr.Payload(err)
	return ServerFrame{Type: FrameError, Error: &body}
}
