// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

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
	"strings"
	"time"

	"github.com/tablevine/tablevine-core/internal/security"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultTimeout bounds each request attempt.
	DefaultTimeout = 3 * time.Second

	// DefaultRetries is the number of retries after the first attempt.
	DefaultRetries = 1

	// DefaultRetryDelay is the fixed pause between attempts.
	DefaultRetryDelay = 500 * time.Millisecond

	// HealthCheckTimeout bounds the demo-mode recovery probe.
	HealthCheckTimeout = 2 * time.Second

	// MaxResponseSize caps how much of a response body is read.
	MaxResponseSize = 4 << 20 // 4 MB
)

var (
	// ErrBackendUnavailable means every attempt failed at the transport
	// level or with a server error.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrResponseTooLarge means the response body exceeded MaxResponseSize.
	ErrResponseTooLarge = errors.New("response body too large")
)

// =============================================================================
// CLIENT
// =============================================================================

// TokenFunc supplies the bearer token for a request, or "" for none.
type TokenFunc func() string

// Response is the outcome of a backend call.
type Response struct {
	// Success is true for a 2xx status.
	Success bool

	// IsDemoMode is true when this response is a demo-mode fallback and
	// carries no backend data.
	IsDemoMode bool

	// Status is the HTTP status code (0 for a fallback).
	Status int

	// Body is the response body, bounded by MaxResponseSize.
	Body []byte
}

// DecodeJSON unmarshals the response body into v.
func (r Response) DecodeJSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Client talks to the TableVine backend. Failed requests are retried a
// bounded number of times; when retries are exhausted and fallback is
// enabled, the caller gets a demo-mode Response instead of an error.
type Client struct {
	baseURL        string
	token          TokenFunc
	timeout        time.Duration
	retries        int
	retryDelay     time.Duration
	fallbackToDemo bool
	httpClient     *http.Client
}

// NewClient creates a client for baseURL with the package defaults.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		token:          func() string { return "" },
		timeout:        DefaultTimeout,
		retries:        DefaultRetries,
		retryDelay:     DefaultRetryDelay,
		fallbackToDemo: true,
		httpClient:     &http.Client{},
	}
}

// WithToken sets the bearer token source.
func (c *Client) WithToken(fn TokenFunc) *Client {
	if fn != nil {
		c.token = fn
	}
	return c
}

// WithTimeout sets the per-attempt timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	if d > 0 {
		c.timeout = d
	}
	return c
}

// WithRetries sets the retry count and delay.
func (c *Client) WithRetries(retries int, delay time.Duration) *Client {
	if retries >= 0 {
		c.retries = retries
	}
	if delay > 0 {
		c.retryDelay = delay
	}
	return c
}

// WithFallbackToDemo toggles the demo-mode fallback on exhaustion.
func (c *Client) WithFallbackToDemo(enabled bool) *Client {
	c.fallbackToDemo = enabled
	return c
}

// WithHTTPClient overrides the underlying http.Client (tests).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.httpClient = hc
	}
	return c
}

// =============================================================================
// REQUESTS
// =============================================================================

// Get issues a GET to path.
func (c *Client) Get(ctx context.Context, path string) (Response, error) {
	return c.Request(ctx, http.MethodGet, path, nil)
}

// Post issues a POST to path with body JSON-encoded.
func (c *Client) Post(ctx context.Context, path string, body any) (Response, error) {
	return c.Request(ctx, http.MethodPost, path, body)
}

// Request issues method against path, retrying transport failures and 5xx
// responses. On exhaustion it either returns a demo-mode fallback Response
// (fallback enabled, the default) or ErrBackendUnavailable. A successful
// response clears demo mode.
func (c *Client) Request(ctx context.Context, method, path string, body any) (Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return Response{}, fmt.Errorf("encoding request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return Response{}, ctx.Err()
			}
			log.Printf("API_RETRY: %s %s attempt %d/%d", method, path, attempt+1, c.retries+1)
		}

		resp, err := c.attempt(ctx, method, path, payload, c.timeout)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Status >= 500 {
			lastErr = fmt.Errorf("%w: status %d", ErrBackendUnavailable, resp.Status)
			continue
		}

		// Reaching the backend at all (even a 4xx) proves it is up.
		ExitDemoMode()
		return resp, nil
	}

	if c.fallbackToDemo {
		EnterDemoMode(fmt.Sprintf("%s %s: %v", method, path, lastErr))
		return Response{Success: false, IsDemoMode: true}, nil
	}
	return Response{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, lastErr)
}

// HealthCheck probes the backend once with a short timeout. No retries, no
// demo fallback: the error is the signal.
func (c *Client) HealthCheck(ctx context.Context) error {
	resp, err := c.attempt(ctx, http.MethodGet, "/health", nil, HealthCheckTimeout)
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%w: health status %d", ErrBackendUnavailable, resp.Status)
	}
	return nil
}

// TryExitDemoMode probes the backend and, on success, returns the client to
// live mode. Reports whether the client is in live mode afterward.
func (c *Client) TryExitDemoMode(ctx context.Context) bool {
	if !IsDemoMode() {
		return true
	}
	if err := c.HealthCheck(ctx); err != nil {
		log.Printf("DEMO_MODE: recovery probe failed: %v", err)
		return false
	}
	ExitDemoMode()
	return true
}

// attempt performs a single HTTP round trip with its own deadline.
func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, timeout time.Duration) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return Response{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", security.ClientUserAgent())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return Response{}, fmt.Errorf("reading response: %w", err)
	}
	if len(body) > MaxResponseSize {
		return Response{}, ErrResponseTooLarge
	}

	return Response{
		Success: resp.StatusCode >= 200 && resp.StatusCode < 300,
		Status:  resp.StatusCode,
		Body:    body,
	}, nil
}
