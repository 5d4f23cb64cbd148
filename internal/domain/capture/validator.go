package capture

import (
	"fmt"
	"math"

	"github.com/okian/strokeauth/internal/domain/apperr"
)

// Default capture bounds.
const (
	DefaultMinPoints     = 10
	DefaultMaxPoints     = 5000
	DefaultMinStrokes    = 1
	DefaultMaxStrokes    = 50
	DefaultMinDurationMS = 100
	DefaultMaxDurationMS = 30_000
)

// Warning codes emitted for accepted-but-corrected input.
const (
	WarnPressureClamped = "pressure_clamped"
)

// Limits are the structural bounds a capture must respect.
type Limits struct {
	MinPoints     int
	MaxPoints     int
	MinStrokes    int
	MaxStrokes    int
	MinDurationMS uint64
	MaxDurationMS uint64
}

// DefaultLimits returns the default bounds.
func DefaultLimits() Limits {
	return Limits{
		MinPoints:     DefaultMinPoints,
		MaxPoints:     DefaultMaxPoints,
		MinStrokes:    DefaultMinStrokes,
		MaxStrokes:    DefaultMaxStrokes,
		MinDurationMS: DefaultMinDurationMS,
		MaxDurationMS: DefaultMaxDurationMS,
	}
}

// Validated is a session that passed validation, with any corrections applied.
type Validated struct {
	Session  Session
	Warnings []string
}

// Validator enforces Limits. It is stateless and safe for concurrent use.
type Validator struct {
	limits Limits
}

// NewValidator creates a validator for the given limits.
func NewValidator(limits Limits) *Validator {
	return &Validator{limits: limits}
}

// Limits returns the bounds in force.
func (v *Validator) Limits() Limits { return v.limits }

// Validate checks s in a fixed order and returns a corrected deep copy.
// The input is never modified.
func (v *Validator) Validate(s Session) (Validated, error) {
	const op = "capture.validate"
	l := v.limits

	n := len(s.Strokes)
	if n < l.MinStrokes {
		return Validated{}, apperr.Validation(op, "strokes", "minStrokes", float64(l.MinStrokes), float64(n))
	}
	if l.MaxStrokes > 0 && n > l.MaxStrokes {
		return Validated{}, apperr.Validation(op, "strokes", "maxStrokes", float64(l.MaxStrokes), float64(n))
	}
	for i, st := range s.Strokes {
		if len(st.Points) == 0 {
			return Validated{}, apperr.Invalid(op, fmt.Sprintf("strokes[%d].points", i), "stroke has no points")
		}
	}

	points := s.PointCount()
	if points < l.MinPoints {
		return Validated{}, apperr.Validation(op, "points", "minPoints", float64(l.MinPoints), float64(points))
	}
	if l.MaxPoints > 0 && points > l.MaxPoints {
		return Validated{}, apperr.Validation(op, "points", "maxPoints", float64(l.MaxPoints), float64(points))
	}

	out := s.Clone()
	for i := range out.Strokes {
		out.Strokes[i] = out.Strokes[i].withDerivedTimes()
		st := out.Strokes[i]
		if st.EndTime < st.StartTime {
			return Validated{}, apperr.Validation(op, fmt.Sprintf("strokes[%d].endTime", i), "endTime>=startTime",
				float64(st.StartTime), float64(st.EndTime))
		}
	}
	total := out.TotalDuration()
	if total < l.MinDurationMS {
		return Validated{}, apperr.Validation(op, "duration", "minDuration", float64(l.MinDurationMS), float64(total))
	}
	if l.MaxDurationMS > 0 && total > l.MaxDurationMS {
		return Validated{}, apperr.Validation(op, "duration", "maxDuration", float64(l.MaxDurationMS), float64(total))
	}

	var warnings []string
	clamped := 0
	for i := range out.Strokes {
		pts := out.Strokes[i].Points
		for j := range pts {
			if field, ok := nonFinite(pts[j]); !ok {
				return Validated{}, apperr.Invalid(op, fmt.Sprintf("strokes[%d].points[%d].%s", i, j, field), "value is not finite")
			}
			if p := pts[j].Pressure; p < 0 || p > 1 {
				pts[j].Pressure = math.Max(0, math.Min(1, p))
				clamped++
			}
		}
	}
	if clamped > 0 {
		warnings = append(warnings, fmt.Sprintf("%s:%d", WarnPressureClamped, clamped))
	}

	for i, st := range out.Strokes {
		for j := 1; j < len(st.Points); j++ {
			if st.Points[j].Timestamp < st.Points[j-1].Timestamp {
				return Validated{}, apperr.Validation(op, fmt.Sprintf("strokes[%d].points[%d].timestamp", i, j), "monotonic",
					float64(st.Points[j-1].Timestamp), float64(st.Points[j].Timestamp))
			}
		}
	}

	return Validated{Session: out, Warnings: warnings}, nil
}

// nonFinite returns the first non-finite field name and false, or "", true.
func nonFinite(p Point) (string, bool) {
	check := []struct {
		name string
		v    *float64
	}{
		{"x", &p.X}, {"y", &p.Y}, {"pressure", &p.Pressure},
		{"tiltX", p.TiltX}, {"tiltY", p.TiltY}, {"width", p.Width},
	}
	for _, c := range check {
		if c.v == nil {
			continue
		}
		if math.IsNaN(*c.v) || math.IsInf(*c.v, 0) {
			return c.name, false
		}
	}
	return "", true
}
