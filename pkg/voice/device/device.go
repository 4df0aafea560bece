// Package device provides the always-available local voice backend. It
// talks to the on-device synthesizer daemon (a Piper-style box) over its
// REST API: one blocking HTTP call per utterance, returning when playback
// has finished or been stopped.
//
// The device voice is the universal fallback, so this adapter never fails:
// transport errors and bad statuses are logged and mapped to silent
// completion. The only error it ever returns is the caller's own context
// cancellation.
package device

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tadpolelabs/chirp/pkg/voice"
)

const (
	speakEndpoint = "/speak"
	stopEndpoint  = "/stop"
)

// Compile-time interface assertion.
var _ voice.Backend = (*Backend)(nil)

// Option is a functional option for configuring a device Backend.
type Option func(*Backend)

// WithHTTPClient overrides the HTTP client (e.g., for tests).
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) { b.httpClient = c }
}

// Backend implements voice.Backend against the local synthesizer daemon.
type Backend struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Backend for the synthesizer daemon at baseURL
// (e.g., "http://127.0.0.1:5002").
func New(baseURL string, opts ...Option) *Backend {
	b := &Backend{
		baseURL: baseURL,
		// No client timeout: the engine owns the playback deadline.
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// speakRequest is the POST /speak payload.
type speakRequest struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Rate     float64 `json:"rate,omitempty"`
	Pitch    float64 `json:"pitch,omitempty"`
}

// speakResponse is the POST /speak result body.
type speakResponse struct {
	// Status is "done" or "stopped".
	Status string `json:"status"`
}

// Speak synthesizes and plays text, blocking until the daemon reports
// done or stopped. Backend failures are absorbed: logged and returned as
// nil so the device voice stays a safe unconditional fallback.
func (b *Backend) Speak(ctx context.Context, text string, p voice.Params) error {
	payload, err := json.Marshal(speakRequest{
		Text:     text,
		Language: p.Language,
		Rate:     p.Rate,
		Pitch:    p.Pitch,
	})
	if err != nil {
		slog.Warn("device voice: marshal request", "err", err)
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.baseURL+speakEndpoint, bytes.NewReader(payload))
	if err != nil {
		slog.Warn("device voice: build request", "err", err)
		return nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// Caller-driven cancellation (stop or preemption).
			return ctx.Err()
		}
		slog.Warn("device voice: request failed", "err", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		slog.Warn("device voice: unexpected status", "status", resp.StatusCode)
		return nil
	}

	var body speakResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		slog.Warn("device voice: decode response", "err", err)
	}
	return nil
}

// Stop asks the daemon to cancel any in-flight playback. Best-effort.
func (b *Backend) Stop(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.baseURL+stopEndpoint, nil)
	if err != nil {
		return err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Ping probes the daemon for readiness checks.
func (b *Backend) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
