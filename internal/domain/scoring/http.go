package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// PredictPath is the ensemble scorer's prediction endpoint.
const PredictPath = "/api/predict"

const maxResponseBytes = 1 << 20

// HTTPScorer calls a remote ensemble scorer over HTTP.
type HTTPScorer struct {
	baseURL string
	client  *http.Client
}

// HTTPOption configures an HTTPScorer.
type HTTPOption func(*HTTPScorer)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPScorer) {
		if c != nil {
			s.client = c
		}
	}
}

// NewHTTPScorer creates a client for the scorer at baseURL.
// Deadlines come from the caller's context.
func NewHTTPScorer(baseURL string, opts ...HTTPOption) *HTTPScorer {
	s := &HTTPScorer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Predict implements Scorer.
func (s *HTTPScorer) Predict(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal predict request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+PredictPath, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("create predict request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Response{}, fmt.Errorf("read predict response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}
	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return Response{}, fmt.Errorf("decode predict response: %w", err)
	}
	return out, nil
}
