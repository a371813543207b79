// Package jobapi implements transcribe.JobAPI over the hosted transcription
// service's REST interface.
//
// Submit enqueues a job with POST /v1/jobs and retries transient failures
// (connection errors, 429, 5xx) with capped exponential backoff. Poll is a
// single GET; the Poller's fixed interval already provides retry cadence, so
// a failed poll surfaces immediately.
package jobapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/speakdrill/speakdrill/pkg/provider/transcribe"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	maxBackoff        = 30 * time.Second
)

// Client is an HTTP client for the transcription job service.
type Client struct {
	endpoint   string
	apiKey     string
	maxRetries int
	httpClient *http.Client
}

var _ transcribe.JobAPI = (*Client)(nil)

// Option is a functional option for Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMaxRetries sets the number of Submit retries after the first attempt.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// New creates a Client for the service at endpoint (scheme and host, no
// trailing slash required).
func New(endpoint, apiKey string, opts ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("jobapi: endpoint must not be empty")
	}
	c := &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		maxRetries: defaultMaxRetries,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type submitRequest struct {
	AudioURL string `json:"audioUrl"`
}

type jobPayload struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Transcript string `json:"transcript,omitempty"`
	Error      string `json:"error,omitempty"`
}

// httpError carries the status code for retryability classification.
type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.status, e.body)
}

// Submit implements transcribe.JobAPI. Transient failures are retried with
// exponential backoff capped at 30s.
func (c *Client) Submit(ctx context.Context, audioRef string) (string, error) {
	if c.apiKey == "" {
		return "", transcribe.ErrMissingCredentials
	}

	body, err := json.Marshal(submitRequest{AudioURL: audioRef})
	if err != nil {
		return "", fmt.Errorf("jobapi: marshal submit request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		payload, err := c.do(ctx, http.MethodPost, c.endpoint+"/v1/jobs", bytes.NewReader(body))
		if err == nil {
			return payload.ID, nil
		}
		lastErr = err
		if !isRetryable(err) {
			break
		}
	}
	return "", fmt.Errorf("jobapi: submit failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// Poll implements transcribe.JobAPI.
func (c *Client) Poll(ctx context.Context, jobID string) (transcribe.Job, error) {
	if c.apiKey == "" {
		return transcribe.Job{}, transcribe.ErrMissingCredentials
	}

	payload, err := c.do(ctx, http.MethodGet, c.endpoint+"/v1/jobs/"+jobID, nil)
	if err != nil {
		return transcribe.Job{}, fmt.Errorf("jobapi: poll: %w", err)
	}
	return transcribe.Job{
		ID:         payload.ID,
		Status:     transcribe.JobStatus(payload.Status),
		Transcript: payload.Transcript,
		Error:      payload.Error,
	}, nil
}

// do performs a single authenticated request and decodes the job payload.
func (c *Client) do(ctx context.Context, method, url string, body io.Reader) (*jobPayload, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httpError{status: resp.StatusCode, body: string(respBody)}
	}

	var payload jobPayload
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, fmt.Errorf("parse response JSON: %w", err)
	}
	return &payload, nil
}

// isRetryable classifies connection errors, timeouts, 429 and 5xx responses
// as transient.
func isRetryable(err error) bool {
	var he *httpError
	if errors.As(err, &he) {
		return he.status == http.StatusTooManyRequests || he.status >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// Anything that never produced an HTTP status is a transport failure.
	return strings.Contains(err.Error(), "request failed")
}
