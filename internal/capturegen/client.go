package capturegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/okian/strokeauth/internal/domain/apperr"
	"github.com/okian/strokeauth/internal/domain/types"
)

// ErrUnexpectedStatus is wrapped by APIError.
var ErrUnexpectedStatus = errors.New("unexpected status")

// APIError is a non-2xx answer of the service.
type APIError struct {
	Status int
	Body   apperr.Body
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Body.Code, e.Body.Message)
}

func (e *APIError) Unwrap() error { return ErrUnexpectedStatus }

// Code returns the error code of err when it is an APIError.
func Code(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Body.Code
	}
	return ""
}

// Client calls the strokeauth HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// Health checks that the service answers on /healthz.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// Enroll submits one enrollment sample.
func (c *Client) Enroll(ctx context.Context, req types.EnrollRequest) (types.EnrollResponse, error) {
	var resp types.EnrollResponse
	err := c.do(ctx, http.MethodPost, "/v1/enrollments", req, &resp)
	return resp, err
}

// Authenticate compares one capture.
func (c *Client) Authenticate(ctx context.Context, req types.AuthenticateRequest) (types.AuthenticateResponse, error) {
	var resp types.AuthenticateResponse
	err := c.do(ctx, http.MethodPost, "/v1/authenticate", req, &resp)
	return resp, err
}

// Reset deletes a baseline.
func (c *Client) Reset(ctx context.Context, userID, biometricType string) error {
	return c.do(ctx, http.MethodDelete, "/v1/enrollments/"+url.PathEscape(userID)+"/"+url.PathEscape(biometricType), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(raw, &apiErr.Body)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
