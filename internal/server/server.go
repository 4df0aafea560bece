// Package server exposes the speech engine over a local HTTP API. The API is
// the surface the narration UI talks to: start an activity session, enqueue
// utterances, stop playback, and poll the engine state. It also mounts the
// health and metrics endpoints.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tadpolelabs/chirp/internal/engine"
	"github.com/tadpolelabs/chirp/internal/health"
	"github.com/tadpolelabs/chirp/internal/observe"
)

// maxBodyBytes bounds request bodies. Utterances are short sentences; a
// megabyte is already far beyond anything legitimate.
const maxBodyBytes = 1 << 20

// Server routes API requests to the speech engine.
type Server struct {
	engine  *engine.Engine
	health  *health.Handler
	metrics *observe.Metrics
}

// New creates a Server around the given engine. health may be nil, in which
// case the probe endpoints are not mounted.
func New(e *engine.Engine, m *observe.Metrics, h *health.Handler) *Server {
	return &Server{engine: e, health: h, metrics: m}
}

// Handler returns the fully wired HTTP handler: API routes, health probes,
// Prometheus metrics, and the observability middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/session", s.handleSession)
	mux.HandleFunc("POST /v1/speak", s.handleSpeak)
	mux.HandleFunc("POST /v1/stop", s.handleStop)
	mux.HandleFunc("GET /v1/state", s.handleState)

	if s.health != nil {
		s.health.Register(mux)
	}
	mux.Handle("GET /metrics", promhttp.Handler())

	if s.metrics != nil {
		return observe.Middleware(s.metrics)(mux)
	}
	return mux
}

// sessionRequest is the POST /v1/session payload.
type sessionRequest struct {
	SessionID string `json:"session_id"`
}

// sessionResponse mirrors the engine's session grant for the UI.
type sessionResponse struct {
	SessionID                string `json:"session_id"`
	UseCloudVoice            bool   `json:"use_cloud_voice"`
	RemainingCloudActivities int    `json:"remaining_cloud_activities"`
	DidSwitchToDevice        bool   `json:"did_switch_to_device"`
}

// handleSession starts a new activity session and returns the voice grant.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	grant := s.engine.BeginActivitySession(r.Context(), req.SessionID)

	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID:                req.SessionID,
		UseCloudVoice:            grant.UseCloudVoice,
		RemainingCloudActivities: grant.RemainingCloudActivities,
		DidSwitchToDevice:        grant.DidSwitchToDevice,
	})
}

// speakRequest is the POST /v1/speak payload.
type speakRequest struct {
	Text string `json:"text"`
}

// handleSpeak enqueues an utterance. The call never waits for playback, so
// it responds 202 Accepted immediately.
func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req speakRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	s.engine.Speak(req.Text)
	w.WriteHeader(http.StatusAccepted)
}

// handleStop discards the queue and interrupts current playback.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.engine.Stop()
	w.WriteHeader(http.StatusNoContent)
}

// handleState returns the engine's observable state for UI polling.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.State())
}

// decodeJSON decodes a size-limited JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// errorResponse is the JSON body for failed API calls.
type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "err", err)
	}
}
