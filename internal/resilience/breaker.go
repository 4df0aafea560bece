// Package resilience provides the failure-bypass primitive for the premium
// voice path.
//
// The central type is [Breaker], a two-state breaker (closed → cooling) that
// routes utterances straight to the device voice while the network voice is
// persistently failing. Unlike a classic three-state circuit breaker there is
// no half-open probe budget: after the cooldown a single call is simply
// allowed through again, because the device fallback makes a failed probe
// cheap.
//
// All methods are safe for concurrent use.
package resilience

import (
	"log/slog"
	"sync"
	"time"
)

// BreakerConfig holds tuning knobs for a [Breaker].
type BreakerConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxFailures is the number of consecutive failures before the breaker
	// starts cooling. Default: 3.
	MaxFailures int

	// Cooldown is how long calls are bypassed after tripping. Default: 60s.
	Cooldown time.Duration
}

// Breaker tracks consecutive failures of one backend and reports whether
// callers should bypass it for a cooldown window.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration

	mu        sync.Mutex
	failures  int
	trippedAt time.Time
	tripped   bool
}

// NewBreaker creates a [Breaker] with the supplied configuration.
// Zero-value config fields are replaced with sensible defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	return &Breaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
	}
}

// Allow reports whether the protected backend should be attempted. During a
// cooldown it returns false; once the cooldown has elapsed the breaker
// resets to closed and the next call is allowed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.tripped {
		return true
	}
	if time.Since(b.trippedAt) < b.cooldown {
		return false
	}

	// Cooldown elapsed: forget the trip and let the next call probe.
	b.tripped = false
	b.failures = 0
	slog.Info("cooldown elapsed, re-enabling backend", "backend", b.name)
	return true
}

// RecordSuccess resets the consecutive failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.tripped = false
}

// RecordFailure counts a failure and trips the breaker once the threshold is
// reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if !b.tripped && b.failures >= b.maxFailures {
		b.tripped = true
		b.trippedAt = time.Now()
		slog.Warn("backend bypassed after consecutive failures",
			"backend", b.name,
			"consecutive_failures", b.failures,
			"cooldown", b.cooldown)
	}
}

// Tripped reports whether the breaker is currently cooling. Unlike [Allow]
// it does not reset state, so it is safe for UI snapshots.
func (b *Breaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped && time.Since(b.trippedAt) < b.cooldown
}
