// Package mock provides a test double for the voice.Backend interface.
//
// Use Backend to script per-call behaviour (delays, errors, blocking until
// cancelled) and to verify which texts and parameters reach a backend.
//
// Example:
//
//	b := &mock.Backend{SpeakErr: errors.New("boom")}
//	err := b.Speak(ctx, "hello", voice.Params{})
//	calls := b.SpeakCalls()
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/tadpolelabs/chirp/pkg/voice"
)

// SpeakCall records a single invocation of Speak.
type SpeakCall struct {
	// Text is the text passed to Speak.
	Text string

	// Params is the voice.Params passed to Speak.
	Params voice.Params
}

// Backend is a mock implementation of voice.Backend.
type Backend struct {
	mu sync.Mutex

	// --- Configurable behaviour ---

	// SpeakErr, if non-nil, is returned by every Speak call.
	SpeakErr error

	// SpeakDelay, if non-zero, makes Speak sleep before returning
	// (interruptible by ctx).
	SpeakDelay time.Duration

	// BlockUntilCancel makes Speak block until ctx is cancelled, returning
	// ctx.Err(). Models an in-flight playback that must be preempted.
	BlockUntilCancel bool

	// IgnoreCancel makes Speak block forever, ignoring ctx entirely.
	// Models a hung backend that never resolves.
	IgnoreCancel bool

	// StopErr, if non-nil, is returned by Stop.
	StopErr error

	// --- Call records ---

	speakCalls []SpeakCall
	stopCalls  int
	started    chan struct{}
}

// Compile-time interface assertion.
var _ voice.Backend = (*Backend)(nil)

// Started returns a channel that receives one value per Speak invocation,
// as soon as the call has been recorded. Useful for synchronising tests
// with an in-flight utterance.
func (b *Backend) Started() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started == nil {
		b.started = make(chan struct{}, 16)
	}
	return b.started
}

// Speak records the call and behaves according to the configured fields.
func (b *Backend) Speak(ctx context.Context, text string, p voice.Params) error {
	b.mu.Lock()
	b.speakCalls = append(b.speakCalls, SpeakCall{Text: text, Params: p})
	err := b.SpeakErr
	delay := b.SpeakDelay
	block := b.BlockUntilCancel
	hang := b.IgnoreCancel
	if b.started != nil {
		select {
		case b.started <- struct{}{}:
		default:
		}
	}
	b.mu.Unlock()

	if hang {
		select {} // never returns
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// Stop records the call and returns StopErr.
func (b *Backend) Stop(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopCalls++
	return b.StopErr
}

// SpeakCalls returns a copy of all recorded Speak calls in order.
func (b *Backend) SpeakCalls() []SpeakCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]SpeakCall, len(b.speakCalls))
	copy(out, b.speakCalls)
	return out
}

// StopCalls returns the number of recorded Stop calls.
func (b *Backend) StopCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopCalls
}

// Reset clears all recorded calls. Thread-safe.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.speakCalls = nil
	b.stopCalls = 0
}
