// Package capture holds the raw stroke capture model and its validator.
//
// Values here mirror the JSON produced by the capture layer. Once a Session has
// passed Validate, the rest of the core treats it as well-formed.
package capture

import (
	"fmt"
	"math"
	"strings"
)

// Point is one sampled pen/finger position.
type Point struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Pressure  float64 `json:"pressure"`
	Timestamp uint64  `json:"timestamp"` // ms, non-decreasing within a stroke

	// Optional sensor fields, ignored by feature extraction.
	TiltX *float64 `json:"tiltX,omitempty"`
	TiltY *float64 `json:"tiltY,omitempty"`
	Width *float64 `json:"width,omitempty"`
}

// Stroke is one continuous pen-down to pen-up motion.
type Stroke struct {
	Points    []Point `json:"points"`
	StartTime uint64  `json:"startTime"`
	EndTime   uint64  `json:"endTime"`
}

// Duration returns EndTime-StartTime in ms, or 0 when the times are inverted.
func (s Stroke) Duration() uint64 {
	if s.EndTime < s.StartTime {
		return 0
	}
	return s.EndTime - s.StartTime
}

// withDerivedTimes fills StartTime/EndTime from the points when both are unset.
func (s Stroke) withDerivedTimes() Stroke {
	if s.StartTime == 0 && s.EndTime == 0 && len(s.Points) > 0 {
		s.StartTime = s.Points[0].Timestamp
		s.EndTime = s.Points[len(s.Points)-1].Timestamp
	}
	return s
}

// InputMethod is how the strokes were drawn.
type InputMethod string

// Supported input methods.
const (
	InputMouse  InputMethod = "mouse"
	InputTouch  InputMethod = "touch"
	InputStylus InputMethod = "stylus"
)

// UnmarshalText accepts the known methods case-insensitively; empty means mouse.
func (m *InputMethod) UnmarshalText(b []byte) error {
	switch v := InputMethod(strings.ToLower(strings.TrimSpace(string(b)))); v {
	case "":
		*m = InputMouse
	case InputMouse, InputTouch, InputStylus:
		*m = v
	default:
		return fmt.Errorf("unknown input method %q", string(b))
	}
	return nil
}

// DeviceCapabilities describes what the capturing device can measure.
type DeviceCapabilities struct {
	SupportsPressure  bool        `json:"supportsPressure"`
	SupportsTouch     bool        `json:"supportsTouch"`
	SupportsTilt      bool        `json:"supportsTilt,omitempty"`
	InputMethod       InputMethod `json:"inputMethod"`
	MaxPressureLevels int         `json:"maxPressureLevels,omitempty"`
	SampleRate        float64     `json:"sampleRate,omitempty"`
}

// CanvasSize is the drawing surface in the same units as point coordinates.
type CanvasSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Diagonal returns the canvas diagonal, or 0 for an unset canvas.
func (c CanvasSize) Diagonal() float64 {
	if c.Width <= 0 || c.Height <= 0 {
		return 0
	}
	return math.Hypot(c.Width, c.Height)
}

// Session is one capture: chronologically ordered strokes plus device context.
type Session struct {
	SessionID          string             `json:"sessionId"`
	Timestamp          int64              `json:"timestamp"`
	Strokes            []Stroke           `json:"strokes"`
	DeviceCapabilities DeviceCapabilities `json:"deviceCapabilities"`
	CanvasSize         CanvasSize         `json:"canvasSize"`
}

// PointCount returns the total number of points across strokes.
func (s Session) PointCount() int {
	n := 0
	for _, st := range s.Strokes {
		n += len(st.Points)
	}
	return n
}

// TotalDuration returns the summed stroke durations in ms.
func (s Session) TotalDuration() uint64 {
	var d uint64
	for _, st := range s.Strokes {
		d += st.Duration()
	}
	return d
}

// Clone returns a deep copy.
func (s Session) Clone() Session {
	out := s
	out.Strokes = make([]Stroke, len(s.Strokes))
	for i, st := range s.Strokes {
		cp := st
		cp.Points = append([]Point(nil), st.Points...)
		out.Strokes[i] = cp
	}
	return out
}
