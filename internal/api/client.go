// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api implements the HTTP client for the trawl backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/averyhale/trawl-tui/internal/model"
)

// Configuration constants for the backend API.
const (
	// DefaultTimeout is the default timeout for API requests.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of retry attempts for
	// transient errors.
	DefaultMaxRetries = 3

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay is the maximum delay for exponential backoff.
	retryMaxDelay = 10 * time.Second

	// MaxResponseSize caps response bodies; research reports are text and
	// never legitimately exceed this.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB

	// pollRatePerSecond limits status polls across all tasks so a burst
	// of due tasks cannot hammer the backend.
	pollRatePerSecond = 4
)

// Error variables for common backend errors.
var (
	// ErrNotConfigured indicates the base URL is not set.
	ErrNotConfigured = errors.New("backend URL not configured")

	// ErrAuthFailed indicates the API token was rejected.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrTaskNotFound indicates a research job no longer exists
	// server-side. Pollers must treat this as a definitive failure of the
	// task, not a transient error.
	ErrTaskNotFound = errors.New("research task not found")

	// ErrSessionNotFound indicates the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")
)

// apiErrorResponse is the error envelope the backend uses.
type apiErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// =============================================================================
// HTTP CLIENT
// =============================================================================

// HTTPClient talks to the trawl backend over HTTP. It implements Client.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	userAgent  string

	// pollLimiter bounds the request rate of PollResearch.
	pollLimiter *rate.Limiter
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the given base URL. The token may be
// empty for backends that accept anonymous workspaces.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		maxRetries:  DefaultMaxRetries,
		userAgent:   "trawl/0.1.0",
		pollLimiter: rate.NewLimiter(rate.Limit(pollRatePerSecond), pollRatePerSecond),
	}
}

// WithTimeout sets the request timeout.
func (c *HTTPClient) WithTimeout(timeout time.Duration) *HTTPClient {
	c.httpClient.Timeout = timeout
	return c
}

// WithMaxRetries sets the maximum number of retry attempts.
func (c *HTTPClient) WithMaxRetries(maxRetries int) *HTTPClient {
	c.maxRetries = maxRetries
	return c
}

// WithPollRate replaces the poll rate limiter.
func (c *HTTPClient) WithPollRate(perSecond float64) *HTTPClient {
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	c.pollLimiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	return c
}

// IsConfigured returns true if the client has a base URL.
func (c *HTTPClient) IsConfigured() bool {
	return c.baseURL != ""
}

// =============================================================================
// OPERATIONS
// =============================================================================

// SendMessage submits a chat message.
func (c *HTTPClient) SendMessage(ctx context.Context, req SendRequest) (*SendResult, error) {
	var out SendResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/chat", req, &out); err != nil {
		return nil, err
	}
	if out.Kind != ResultMessage && out.Kind != ResultTask {
		return nil, fmt.Errorf("unexpected reply kind %q", out.Kind)
	}
	return &out, nil
}

// ListSessions fetches the session directory.
func (c *HTTPClient) ListSessions(ctx context.Context) ([]model.Session, error) {
	var out []model.Session
	if err := c.doJSON(ctx, http.MethodGet, "/api/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadTranscript fetches one session's messages and task snapshot.
func (c *HTTPClient) LoadTranscript(ctx context.Context, sessionID string) (*Transcript, error) {
	var out Transcript
	path := "/api/sessions/" + url.PathEscape(sessionID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PollResearch fetches the status of a research job.
func (c *HTTPClient) PollResearch(ctx context.Context, researchID string) (*ResearchStatus, error) {
	if err := c.pollLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	var out ResearchStatus
	path := "/api/research/" + url.PathEscape(researchID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RenameSession changes a session topic.
func (c *HTTPClient) RenameSession(ctx context.Context, sessionID, topic string) error {
	path := "/api/sessions/" + url.PathEscape(sessionID)
	body := map[string]string{"topic": topic}
	return c.doJSON(ctx, http.MethodPatch, path, body, nil)
}

// DeleteSession removes a session.
func (c *HTTPClient) DeleteSession(ctx context.Context, sessionID string) error {
	path := "/api/sessions/" + url.PathEscape(sessionID)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// ShareSession shares a session with a recipient.
func (c *HTTPClient) ShareSession(ctx context.Context, sessionID, recipient string, collaborative bool) error {
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/share"
	body := map[string]any{
		"recipient":     recipient,
		"collaborative": collaborative,
	}
	return c.doJSON(ctx, http.MethodPost, path, body, nil)
}

// =============================================================================
// REQUEST PLUMBING
// =============================================================================

// doJSON performs one logical request with retries, decoding the reply into
// out when out is non-nil.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}

	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := c.doOnce(ctx, method, path, bodyBytes, out)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// doOnce performs a single HTTP round-trip.
func (c *HTTPClient) doOnce(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	log.Printf("API %s %s: %d (%v)", method, path, resp.StatusCode, time.Since(start).Round(time.Millisecond))

	payload, err := readResponse(resp)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleErrorResponse(path, resp.StatusCode, payload)
	}

	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// setHeaders sets the required headers for backend requests.
func (c *HTTPClient) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
}

// readResponse reads the response body with a size cap.
func readResponse(resp *http.Response) ([]byte, error) {
	limited := io.LimitReader(resp.Body, MaxResponseSize)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// handleErrorResponse converts HTTP error replies to Go errors.
func (c *HTTPClient) handleErrorResponse(path string, statusCode int, body []byte) error {
	var envelope apiErrorResponse
	message := ""
	code := ""
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
		code = envelope.Error.Code
	}

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		if message != "" {
			return fmt.Errorf("%w: %s", ErrAuthFailed, message)
		}
		return ErrAuthFailed
	case http.StatusNotFound:
		// The research endpoint's 404 is a definitive task outcome; the
		// session endpoint's 404 is a directory-level error.
		if strings.HasPrefix(path, "/api/research/") {
			return ErrTaskNotFound
		}
		if strings.HasPrefix(path, "/api/sessions/") {
			return ErrSessionNotFound
		}
	case http.StatusTooManyRequests:
		if message != "" {
			return fmt.Errorf("%w: %s", ErrRateLimited, message)
		}
		return ErrRateLimited
	}

	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	return &APIError{Code: code, Message: message, Status: statusCode}
}

// isRetryable determines if an error should trigger a retry.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500 && apiErr.Status < 600
	}
	// Wrapped transport errors (connection refused, reset) are worth one
	// more attempt.
	return strings.Contains(err.Error(), "request failed")
}

// backoffDelay returns the delay before the given retry attempt.
func backoffDelay(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<uint(attempt))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}
