// Package cloud provides the premium network voice backend. Each utterance
// opens a WebSocket session to the hosted synthesis service, sends a single
// speak envelope, and blocks reading status events until the service reports
// that playback finished, was stopped, or failed.
//
// Unlike the device backend, cloud failures are real errors: the caller uses
// them to fall back to the device voice and to feed its failure breaker.
package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/websocket"

	"github.com/tadpolelabs/chirp/pkg/voice"
)

// Status event types received from the synthesis service.
const (
	eventDone    = "done"
	eventStopped = "stopped"
	eventError   = "error"
)

// Compile-time interface assertion.
var _ voice.Backend = (*Backend)(nil)

// Option is a functional option for configuring the cloud Backend.
type Option func(*Backend)

// WithDialOptions overrides the WebSocket dial options (e.g., for tests
// against a plaintext local server).
func WithDialOptions(o *websocket.DialOptions) Option {
	return func(b *Backend) { b.dialOpts = o }
}

// Backend implements voice.Backend against the hosted synthesis service.
type Backend struct {
	endpoint string
	apiKey   string
	dialOpts *websocket.DialOptions

	mu   sync.Mutex
	conn *websocket.Conn
}

// New creates a cloud Backend. endpoint is the WebSocket URL of the speak
// stream (e.g., "wss://voice.example.com/v1/speak"); apiKey must be
// non-empty.
func New(endpoint, apiKey string, opts ...Option) (*Backend, error) {
	if endpoint == "" {
		return nil, errors.New("cloud: endpoint must not be empty")
	}
	if apiKey == "" {
		return nil, errors.New("cloud: apiKey must not be empty")
	}
	b := &Backend{
		endpoint: endpoint,
		apiKey:   apiKey,
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// ---- WebSocket message types ----

// speakEnvelope is the JSON payload that starts an utterance.
type speakEnvelope struct {
	Type     string         `json:"type"`
	Text     string         `json:"text"`
	APIKey   string         `json:"api_key"`
	Settings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the service's voice_settings object.
type voiceSettings struct {
	Language string  `json:"language,omitempty"`
	Rate     float64 `json:"rate,omitempty"`
	Pitch    float64 `json:"pitch,omitempty"`
}

// statusEvent is a JSON message received from the service during playback.
type statusEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// stopEnvelope asks the service to cancel the current utterance.
type stopEnvelope struct {
	Type string `json:"type"`
}

// Speak opens a session, sends the speak envelope, and blocks until the
// service reports done or stopped. An error event or a broken connection is
// returned as an error so the caller can fall back to the device voice.
func (b *Backend) Speak(ctx context.Context, text string, p voice.Params) error {
	conn, _, err := websocket.Dial(ctx, b.endpoint, b.dialOpts)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("cloud: dial: %w", err)
	}

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		if b.conn == conn {
			b.conn = nil
		}
		b.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "done")
	}()

	envelope, err := buildSpeakMessage(text, b.apiKey, &voiceSettings{
		Language: p.Language,
		Rate:     p.Rate,
		Pitch:    p.Pitch,
	})
	if err != nil {
		return fmt.Errorf("cloud: marshal envelope: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, envelope); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("cloud: send envelope: %w", err)
	}

	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("cloud: read: %w", err)
		}

		var ev statusEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			// Skip frames we don't understand; the terminal event decides.
			continue
		}

		switch ev.Type {
		case eventDone, eventStopped:
			return nil
		case eventError:
			return fmt.Errorf("cloud: service error: %s", ev.Message)
		}
	}
}

// Stop sends a best-effort stop frame on the active session, if any. The
// in-flight Speak then returns when the service acknowledges with a
// stopped event.
func (b *Backend) Stop(ctx context.Context) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()

	if conn == nil {
		return nil
	}
	payload, _ := json.Marshal(stopEnvelope{Type: "stop"})
	return conn.Write(ctx, websocket.MessageText, payload)
}

// buildSpeakMessage constructs the JSON speak envelope. Used by tests to
// verify the payload shape without opening a real connection.
func buildSpeakMessage(text, apiKey string, vs *voiceSettings) ([]byte, error) {
	return json.Marshal(speakEnvelope{
		Type:     "speak",
		Text:     text,
		APIKey:   apiKey,
		Settings: vs,
	})
}
