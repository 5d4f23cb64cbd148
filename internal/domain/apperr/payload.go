package apperr

import "errors"

// Body is the JSON shape of every error returned to a client.
type Body struct {
	Code            string   `json:"code"`
	Message         string   `json:"message"`
	Retryable       bool     `json:"retryable"`
	Field           string   `json:"field,omitempty"`
	Bound           string   `json:"bound,omitempty"`
	Limit           *float64 `json:"limit,omitempty"`
	Actual          *float64 `json:"actual,omitempty"`
	Issues          []string `json:"issues,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// Payload serializes err. Foreign errors become internal_error with their message.
func Payload(err error) Body {
	if err == nil {
		return Body{}
	}
	var e *Error
	if !errors.As(err, &e) {
		return Body{Code: string(KindInternal), Message: err.Error()}
	}
	b := Body{
		Code:            string(e.Kind),
		Message:         e.Error(),
		Retryable:       e.Kind.Retryable(),
		Field:           e.Field,
		Bound:           e.Bound,
		Issues:          e.Issues,
		Recommendations: e.Recommendations,
	}
	if e.Bound != "" {
		limit := e.Limit
		b.Limit = &limit
		if !e.ActualUnknown {
			actual := e.Actual
			b.Actual = &actual
		}
	}
	return b
}
