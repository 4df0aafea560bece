// Package voice defines the Backend interface for speech synthesis backends.
//
// A backend wraps one way of turning text into audible speech — either the
// device's local synthesizer or a premium network voice service — behind a
// single blocking call. The engine treats both identically: it speaks one
// utterance at a time and waits for the call to return before dequeuing the
// next.
//
// Implementations must be safe for concurrent use.
package voice

import "context"

// Params holds the delivery characteristics passed to every backend so that
// switching between device and network voices keeps a consistent sound.
type Params struct {
	// Language is a BCP-47 language tag (e.g., "en-US").
	Language string

	// Rate adjusts speaking rate (0.5–2.0, 1.0 = default).
	Rate float64

	// Pitch adjusts pitch (0.5–2.0, 1.0 = default).
	Pitch float64
}

// Backend is the abstraction over any speech synthesis backend.
type Backend interface {
	// Speak synthesizes and plays text, blocking until playback finishes,
	// is stopped, or fails. A nil return covers both normal completion and
	// a stop requested by the caller; cancellation of ctx is reported as
	// ctx.Err(). A non-nil error other than ctx.Err() means the backend
	// could not deliver the utterance.
	Speak(ctx context.Context, text string, p Params) error

	// Stop requests cancellation of any in-flight playback. Best-effort:
	// implementations may return an error, but callers are expected to
	// ignore it.
	Stop(ctx context.Context) error
}
