package engine

import (
	"context"
	"time"
)

// speakResult is the tagged outcome of a backend call raced against the
// per-utterance timeout.
type speakResult struct {
	// timedOut is true when the timer won the race. A timed-out call is
	// treated as silently completed, never as an error, so the queue is
	// guaranteed to make forward progress.
	timedOut bool

	// err is the backend's result when the call finished before the timer.
	err error
}

// runWithTimeout races op against a timer. When the timer wins, op's context
// is cancelled and the call is abandoned; the goroutine running op sends its
// result into a buffered channel so it cannot leak on a blocked send.
func runWithTimeout(ctx context.Context, d time.Duration, op func(context.Context) error) speakResult {
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(opCtx)
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case err := <-done:
		return speakResult{err: err}
	case <-timer.C:
		cancel()
		return speakResult{timedOut: true}
	}
}
