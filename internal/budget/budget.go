// Package budget is the client-side boundary to the external cost/rate
// budget service.
//
// The checker is consulted opportunistically around playback and is never
// awaited as a gate: its answer only updates an observable flag for the UI.
// Cost controls must never degrade the child-facing experience by
// introducing silence, so every failure path here resolves to "budget
// available".
package budget

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Checker is the abstraction over the budget service.
type Checker interface {
	// HasBudget reports whether the account still has playback budget.
	// Callers treat any error as true (fail open).
	HasBudget(ctx context.Context) (bool, error)

	// TrackUsage reports an estimated playback duration for accounting.
	// Failures are non-fatal; callers log and continue.
	TrackUsage(ctx context.Context, d time.Duration) error
}

// HTTPChecker talks to the budget service over its REST API.
type HTTPChecker struct {
	baseURL    string
	httpClient *http.Client
}

// Compile-time interface assertion.
var _ Checker = (*HTTPChecker)(nil)

// Option is a functional option for configuring an HTTPChecker.
type Option func(*HTTPChecker)

// WithHTTPClient overrides the HTTP client (e.g., for tests).
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPChecker) { h.httpClient = c }
}

// NewHTTPChecker creates a checker against the budget service at baseURL.
func NewHTTPChecker(baseURL string, opts ...Option) *HTTPChecker {
	h := &HTTPChecker{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// budgetResponse is the GET /v1/budget payload.
type budgetResponse struct {
	HasBudget bool `json:"has_budget"`
}

// usageRequest is the POST /v1/usage payload.
type usageRequest struct {
	DurationMs int64 `json:"duration_ms"`
}

// HasBudget queries the budget service.
func (h *HTTPChecker) HasBudget(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/v1/budget", nil)
	if err != nil {
		return true, fmt.Errorf("budget: build request: %w", err)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return true, fmt.Errorf("budget: query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return true, fmt.Errorf("budget: unexpected status %d", resp.StatusCode)
	}

	var body budgetResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return true, fmt.Errorf("budget: decode response: %w", err)
	}
	return body.HasBudget, nil
}

// TrackUsage posts an estimated playback duration.
func (h *HTTPChecker) TrackUsage(ctx context.Context, d time.Duration) error {
	payload, err := json.Marshal(usageRequest{DurationMs: d.Milliseconds()})
	if err != nil {
		return fmt.Errorf("budget: marshal usage: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		h.baseURL+"/v1/usage", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("budget: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("budget: track usage: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("budget: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Noop is a Checker for deployments without a budget service. It always
// reports available budget and discards usage.
type Noop struct{}

// Compile-time interface assertion.
var _ Checker = Noop{}

// HasBudget always reports true.
func (Noop) HasBudget(context.Context) (bool, error) { return true, nil }

// TrackUsage discards the report.
func (Noop) TrackUsage(context.Context, time.Duration) error { return nil }
