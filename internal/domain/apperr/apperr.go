// Package apperr defines the closed set of error kinds raised by the biometric core
// and the single function that turns any of them into a wire payload.
//
// Conventions:
//   - Every error leaving a domain package is an *Error with one of the Kind values below.
//   - Callers branch with errors.Is against the per-kind sentinels (ErrValidation, ...).
//   - Payload is the only serialization path; handlers never build error bodies by hand.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies one member of the error taxonomy.
type Kind string

// Error kinds.
const (
	KindValidation                Kind = "validation_error"
	KindQualityRejected           Kind = "quality_rejected"
	KindEnrollmentAlreadyComplete Kind = "enrollment_already_complete"
	KindEnrollmentBusy            Kind = "enrollment_busy"
	KindBaselineNotFound          Kind = "baseline_not_found"
	KindBaselineIncomplete        Kind = "baseline_incomplete"
	KindReplayDetected            Kind = "replay_detected"
	KindMLScorerUnavailable       Kind = "ml_scorer_unavailable"
	KindConfiguration             Kind = "configuration_error"
	KindInternal                  Kind = "internal_error"
)

// Kinds lists every kind in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindValidation,
		KindQualityRejected,
		KindEnrollmentAlreadyComplete,
		KindEnrollmentBusy,
		KindBaselineNotFound,
		KindBaselineIncomplete,
		KindReplayDetected,
		KindMLScorerUnavailable,
		KindConfiguration,
		KindInternal,
	}
}

// Retryable reports whether the caller may retry the same request after a backoff.
func (k Kind) Retryable() bool {
	switch k {
	case KindEnrollmentBusy, KindMLScorerUnavailable:
		return true
	default:
		return false
	}
}

// Error is the single error type of the core. Which fields are set depends on Kind.
type Error struct {
	Kind Kind
	Op   string

	// Validation details.
	Field  string
	Bound  string
	Limit  float64
	Actual float64

	// ActualUnknown is set when the offending value could not be measured.
	ActualUnknown bool

	// Quality details.
	Issues          []string
	Recommendations []string

	Message string
	Err     error
}

// Sentinels for errors.Is.
var (
	ErrValidation                = &Error{Kind: KindValidation}
	ErrQualityRejected           = &Error{Kind: KindQualityRejected}
	ErrEnrollmentAlreadyComplete = &Error{Kind: KindEnrollmentAlreadyComplete}
	ErrEnrollmentBusy            = &Error{Kind: KindEnrollmentBusy}
	ErrBaselineNotFound          = &Error{Kind: KindBaselineNotFound}
	ErrBaselineIncomplete        = &Error{Kind: KindBaselineIncomplete}
	ErrReplayDetected            = &Error{Kind: KindReplayDetected}
	ErrMLScorerUnavailable       = &Error{Kind: KindMLScorerUnavailable}
	ErrConfiguration             = &Error{Kind: KindConfiguration}
	ErrInternal                  = &Error{Kind: KindInternal}
)

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	switch {
	case e.Field != "" && e.Bound != "" && e.ActualUnknown:
		fmt.Fprintf(&b, ": %s violates %s (limit %g)", e.Field, e.Bound, e.Limit)
	case e.Field != "" && e.Bound != "":
		fmt.Fprintf(&b, ": %s violates %s (limit %g, actual %g)", e.Field, e.Bound, e.Limit, e.Actual)
	case e.Field != "":
		fmt.Fprintf(&b, ": %s", e.Field)
	}
	if len(e.Issues) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(e.Issues, ", "))
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so sentinels compare by kind only.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Validation builds a validation error naming the violated bound.
func Validation(op, field, bound string, limit, actual float64) *Error {
	return &Error{Kind: KindValidation, Op: op, Field: field, Bound: bound, Limit: limit, Actual: actual}
}

// Exceeded builds a bound violation whose actual value is unknown, such as a
// streamed body cut off at its limit.
func Exceeded(op, field, bound string, limit float64) *Error {
	return &Error{Kind: KindValidation, Op: op, Field: field, Bound: bound, Limit: limit, ActualUnknown: true}
}

// Invalid builds a validation error for a structurally malformed field.
func Invalid(op, field, msg string) *Error {
	return &Error{Kind: KindValidation, Op: op, Field: field, Message: msg}
}

// QualityRejected builds a non-fatal rejection carrying the issues found.
func QualityRejected(op string, issues, recommendations []string) *Error {
	return &Error{
		Kind:            KindQualityRejected,
		Op:              op,
		Issues:          append([]string(nil), issues...),
		Recommendations: append([]string(nil), recommendations...),
	}
}

// New builds an error of the given kind with a message.
func New(op string, kind Kind, msg string) *Error {
	return &Error{Kind: kind, Op: op, Message: msg}
}

// Wrap attaches kind and op to a cause.
func Wrap(op string, kind Kind, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Configuration builds a fatal startup error for an invalid setting.
func Configuration(field, msg string) *Error {
	return &Error{Kind: KindConfiguration, Op: "config.validate", Field: field, Message: msg}
}
