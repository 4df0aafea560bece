// Package engine implements the adaptive speech playback engine.
//
// The engine serializes utterances through a single-consumer queue, chooses
// between a premium network voice and the always-available device voice per
// utterance, and lets urgent utterances preempt everything queued or in
// flight. Its one hard promise is that nothing here ever blocks or errors
// toward the caller: backend failures fall back, timeouts count as
// completion, and bookkeeping failures are swallowed.
//
// The queue state machine has two states. It is Idle while no utterances are
// pending; the first Speak moves it to Draining, which runs a dedicated
// goroutine popping one utterance at a time until the queue is empty again.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tadpolelabs/chirp/internal/budget"
	"github.com/tadpolelabs/chirp/internal/normalize"
	"github.com/tadpolelabs/chirp/internal/observe"
	"github.com/tadpolelabs/chirp/internal/policy"
	"github.com/tadpolelabs/chirp/internal/resilience"
	"github.com/tadpolelabs/chirp/pkg/voice"
)

// DefaultSpeakTimeout bounds every backend call. A hung backend must never
// stall the interaction loop, so expiry is treated as completion.
const DefaultSpeakTimeout = 12 * time.Second

// msPerChar is the rough speech duration per character used for usage
// accounting. Accounting only, never used for blocking.
const msPerChar = 60

// defaultLanguage is the locale used when the configured one is empty.
const defaultLanguage = "en-US"

// ErrNoDevice is returned by [New] when no device backend is supplied.
var ErrNoDevice = errors.New("engine: device backend is required")

// ErrNoPolicy is returned by [New] when no session policy is supplied.
var ErrNoPolicy = errors.New("engine: session policy is required")

// utterance is one queued speech request. Created at Speak time, discarded
// right after playback; never persisted.
type utterance struct {
	raw      string
	critical bool
}

// sessionState is the per-activity-session state. Cloud approval is decided
// once at session start and fixed until the next session begins.
type sessionState struct {
	id             string
	cloudApproved  bool
	firstUtterance bool
	remaining      int
}

// Options holds the dependencies and tuning for an [Engine].
type Options struct {
	// Device is the always-available local backend. Required.
	Device voice.Backend

	// Cloud is the premium network backend. Optional; when nil every
	// utterance uses the device voice.
	Cloud voice.Backend

	// Policy makes the per-session cloud-approval decision. Required.
	Policy *policy.Policy

	// Budget is consulted opportunistically around playback. Defaults to
	// [budget.Noop].
	Budget budget.Checker

	// Metrics receives engine instrumentation. Optional.
	Metrics *observe.Metrics

	// Params are the delivery characteristics passed to both backends.
	// Out-of-range values are clamped to safe defaults.
	Params voice.Params

	// SpeakTimeout overrides [DefaultSpeakTimeout]. Intended for tests.
	SpeakTimeout time.Duration
}

// Engine is the speech playback engine. Create with [New], release with
// [Engine.Close]. All exported methods are safe for concurrent use and none
// of them block on playback.
type Engine struct {
	device  voice.Backend
	cloud   voice.Backend
	policy  *policy.Policy
	budget  budget.Checker
	breaker *resilience.Breaker
	metrics *observe.Metrics
	params  voice.Params
	timeout time.Duration

	root       context.Context
	cancelRoot context.CancelFunc

	mu            sync.Mutex
	pending       []utterance
	draining      bool
	speaking      bool
	closed        bool
	cancelCurrent context.CancelFunc
	session       sessionState

	hasBudget atomic.Bool
	wg        sync.WaitGroup
}

// New creates an Engine. Voice parameters are clamped rather than rejected:
// an empty locale falls back to the default locale string, rate and pitch
// are clamped into their valid ranges.
func New(opts Options) (*Engine, error) {
	if opts.Device == nil {
		return nil, ErrNoDevice
	}
	if opts.Policy == nil {
		return nil, ErrNoPolicy
	}
	if opts.Budget == nil {
		opts.Budget = budget.Noop{}
	}
	if opts.SpeakTimeout <= 0 {
		opts.SpeakTimeout = DefaultSpeakTimeout
	}

	root, cancel := context.WithCancel(context.Background())
	e := &Engine{
		device:  opts.Device,
		cloud:   opts.Cloud,
		policy:  opts.Policy,
		budget:  opts.Budget,
		breaker: resilience.NewBreaker(resilience.BreakerConfig{Name: "cloud-voice"}),
		metrics: opts.Metrics,
		params:  clampParams(opts.Params),
		timeout: opts.SpeakTimeout,

		root:       root,
		cancelRoot: cancel,
	}
	e.hasBudget.Store(true)
	return e, nil
}

// clampParams applies safe defaults for invalid voice parameters.
func clampParams(p voice.Params) voice.Params {
	if p.Language == "" {
		p.Language = defaultLanguage
	}
	if p.Rate < 0.5 || p.Rate > 2.0 {
		if p.Rate != 0 {
			slog.Warn("speech rate out of range, using default", "rate", p.Rate)
		}
		p.Rate = 1.0
	}
	if p.Pitch < 0.5 || p.Pitch > 2.0 {
		if p.Pitch != 0 {
			slog.Warn("speech pitch out of range, using default", "pitch", p.Pitch)
		}
		p.Pitch = 1.0
	}
	return p
}

// BeginActivitySession starts a new activity session. Must be called before
// the first Speak of an activity; the returned grant is also reflected in
// [Engine.State]. Any previous session's state is discarded.
func (e *Engine) BeginActivitySession(ctx context.Context, sessionID string) policy.SessionGrant {
	grant := e.policy.BeginSession(ctx, sessionID)

	e.mu.Lock()
	e.session = sessionState{
		id:             sessionID,
		cloudApproved:  grant.UseCloudVoice,
		firstUtterance: true,
		remaining:      grant.RemainingCloudActivities,
	}
	e.mu.Unlock()

	slog.Info("activity session started",
		"session_id", sessionID,
		"cloud_voice", grant.UseCloudVoice,
		"remaining", grant.RemainingCloudActivities)
	return grant
}

// Speak enqueues text for playback. Fire-and-forget: it never blocks and
// never reports an error. A latency-critical utterance arriving while
// anything is queued or in flight replaces the whole queue and cancels the
// in-flight playback.
func (e *Engine) Speak(text string) {
	critical := IsLatencyCritical(normalize.Clean(text))

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}

	var cancel context.CancelFunc
	preempt := critical && (e.speaking || len(e.pending) > 0)
	if preempt {
		e.adjustQueueDepth(-int64(len(e.pending)))
		e.pending = e.pending[:0]
		cancel = e.cancelCurrent
	}
	e.pending = append(e.pending, utterance{raw: text, critical: critical})
	e.adjustQueueDepth(1)

	startDrain := !e.draining
	if startDrain {
		e.draining = true
		e.wg.Add(1)
	}
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if preempt {
		go e.stopBackends()
	}
	if startDrain {
		go e.drain()
	}
}

// Stop cancels current and pending speech. Synchronous from the caller's
// point of view: the engine reports not-speaking immediately even though the
// backend's own stop may complete asynchronously.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.adjustQueueDepth(-int64(len(e.pending)))
	e.pending = nil
	e.speaking = false
	cancel := e.cancelCurrent
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	go e.stopBackends()
}

// Close stops playback, drops the queue, and waits for the drain goroutine
// to exit. The engine must not be used afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.adjustQueueDepth(-int64(len(e.pending)))
	e.pending = nil
	cancel := e.cancelCurrent
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.cancelRoot()
	e.wg.Wait()
}

// State is a snapshot of the engine's observable state for the UI.
type State struct {
	IsSpeaking               bool `json:"is_speaking"`
	HasBudget                bool `json:"has_budget"`
	IsUsingCloudVoice        bool `json:"is_using_cloud_voice"`
	RemainingCloudActivities int  `json:"remaining_cloud_activities"`
	QueuedUtterances         int  `json:"queued_utterances"`
}

// State returns the current observable state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		IsSpeaking:               e.speaking,
		HasBudget:                e.hasBudget.Load(),
		IsUsingCloudVoice:        e.cloud != nil && e.session.cloudApproved && !e.breaker.Tripped(),
		RemainingCloudActivities: e.session.remaining,
		QueuedUtterances:         len(e.pending),
	}
}

// drain is the single consumer of the queue. Exactly one drain goroutine
// exists while the engine is Draining; it exits when the queue empties.
func (e *Engine) drain() {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		if e.closed || len(e.pending) == 0 {
			e.draining = false
			e.mu.Unlock()
			return
		}
		u := e.pending[0]
		e.pending = e.pending[1:]
		e.adjustQueueDepth(-1)

		// Empty after cleaning: discard silently without consuming the
		// session's first-utterance flag.
		cleaned := normalize.Clean(u.raw)
		if cleaned == "" {
			e.mu.Unlock()
			continue
		}

		ctx, cancel := context.WithCancel(e.root)
		e.cancelCurrent = cancel
		e.speaking = true
		first := e.session.firstUtterance
		e.session.firstUtterance = false
		cloudApproved := e.session.cloudApproved
		e.mu.Unlock()

		e.process(ctx, cleaned, u.critical, first, cloudApproved)

		cancel()
		e.mu.Lock()
		e.speaking = false
		e.cancelCurrent = nil
		e.mu.Unlock()
	}
}

// process plays one cleaned utterance: pick a backend, wait with timeout,
// account usage. All failures are absorbed here.
func (e *Engine) process(ctx context.Context, cleaned string, critical, first, cloudApproved bool) {
	// Opportunistic budget check; the result only feeds the UI flag.
	go e.refreshBudget()

	start := time.Now()
	backend := "device"

	useCloud := e.cloud != nil && cloudApproved && !critical && !first && e.breaker.Allow()
	var res speakResult
	if useCloud {
		backend = "cloud"
		res = runWithTimeout(ctx, e.timeout, func(c context.Context) error {
			return e.cloud.Speak(c, cleaned, e.params)
		})
		switch {
		case res.timedOut || res.err == nil:
			e.breaker.RecordSuccess()
		case errors.Is(res.err, context.Canceled):
			// Preempted or stopped mid-playback; nothing more to do.
			e.record(ctx, backend, "stopped", start)
			return
		default:
			e.breaker.RecordFailure()
			e.countBackendError(ctx, "cloud")
			slog.Warn("network voice failed, falling back to device voice",
				"err", res.err)
			backend = "device"
			res = runWithTimeout(ctx, e.timeout, func(c context.Context) error {
				return e.device.Speak(c, cleaned, e.params)
			})
		}
	} else {
		res = runWithTimeout(ctx, e.timeout, func(c context.Context) error {
			return e.device.Speak(c, cleaned, e.params)
		})
	}

	status := "done"
	switch {
	case res.timedOut:
		status = "timeout"
		slog.Warn("utterance playback timed out, advancing queue",
			"timeout", e.timeout)
	case res.err != nil && errors.Is(res.err, context.Canceled):
		e.record(ctx, backend, "stopped", start)
		return
	case res.err != nil:
		// The device adapter absorbs its own errors; anything left is
		// logged and dropped rather than surfaced.
		status = "error"
		e.countBackendError(ctx, backend)
		slog.Warn("utterance dropped after backend failure", "err", res.err)
	}
	e.record(ctx, backend, status, start)

	// Best-effort usage accounting from estimated duration.
	est := time.Duration(len(cleaned)*msPerChar) * time.Millisecond
	go func() {
		tctx, tcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer tcancel()
		if err := e.budget.TrackUsage(tctx, est); err != nil {
			slog.Debug("usage tracking failed", "err", err)
		}
	}()
}

// refreshBudget updates the observable budget flag. Fails open.
func (e *Engine) refreshBudget() {
	ctx, cancel := context.WithTimeout(e.root, 3*time.Second)
	defer cancel()

	ok, err := e.budget.HasBudget(ctx)
	if err != nil {
		slog.Debug("budget check failed, assuming available", "err", err)
		ok = true
	}
	e.hasBudget.Store(ok)
}

// stopBackends requests cancellation on both backends. Best-effort: errors
// are ignored.
func (e *Engine) stopBackends() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if e.cloud != nil {
		_ = e.cloud.Stop(ctx)
	}
	_ = e.device.Stop(ctx)
}

// ---- instrumentation helpers (nil-safe) ----

func (e *Engine) adjustQueueDepth(delta int64) {
	if e.metrics == nil || delta == 0 {
		return
	}
	e.metrics.QueueDepth.Add(context.Background(), delta)
}

func (e *Engine) countBackendError(ctx context.Context, backend string) {
	if e.metrics == nil {
		return
	}
	e.metrics.BackendErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("backend", backend)))
}

func (e *Engine) record(ctx context.Context, backend, status string, start time.Time) {
	if e.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("status", status),
	)
	e.metrics.SpeakDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	e.metrics.Utterances.Add(ctx, 1, attrs)
}
