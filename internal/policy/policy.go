// Package policy decides, once per activity session, whether the session may
// use the premium network voice at all.
//
// The decision is made at session start and is fixed for the session's
// lifetime: the quota is not re-checked mid-session even if other devices on
// the same account consume the remaining allowance concurrently. Quota reads
// fail open and writes are best-effort, so a broken store degrades to "free
// tier temporarily unmetered" rather than ever blocking a session.
package policy

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/tadpolelabs/chirp/internal/quota"
)

// Tier is the account subscription tier.
type Tier string

const (
	// TierFree is metered: at most FreeMonthlyLimit premium sessions per
	// calendar month.
	TierFree Tier = "free"

	// TierFamily is an unrestricted paid tier.
	TierFamily Tier = "family"

	// TierSchool is an unrestricted organization tier.
	TierSchool Tier = "school"
)

// IsValid reports whether t is a recognised tier.
func (t Tier) IsValid() bool {
	switch t {
	case TierFree, TierFamily, TierSchool:
		return true
	}
	return false
}

// Unlimited reports whether t may use the network voice without quota checks.
func (t Tier) Unlimited() bool {
	return t == TierFamily || t == TierSchool
}

// FreeMonthlyLimit is the number of activity sessions per calendar month a
// free-tier account may run with the premium voice enabled.
const FreeMonthlyLimit = 3

// SessionGrant is the result of a session-start decision.
type SessionGrant struct {
	// UseCloudVoice reports whether this session may attempt the network
	// backend. Fixed for the session's lifetime.
	UseCloudVoice bool

	// RemainingCloudActivities is the number of premium sessions left this
	// month after this decision. Unrestricted tiers always report the full
	// allowance.
	RemainingCloudActivities int

	// DidSwitchToDevice is true only when the previous session was
	// cloud-approved and this one is not. Pure UI signal.
	DidSwitchToDevice bool
}

// Policy makes session-start decisions against a quota store.
// Safe for concurrent use.
type Policy struct {
	tier  Tier
	store quota.Store
	now   func() time.Time

	mu           sync.Mutex
	lastApproved bool
	hasPrevious  bool
}

// Option configures a Policy.
type Option func(*Policy)

// WithClock overrides the time source used for month-key computation.
// Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Policy) { p.now = now }
}

// New creates a Policy for the given tier backed by store. An invalid tier
// falls back to TierFree with a warning rather than failing: the restrictive
// default keeps an account with a garbled tier label usable.
func New(tier Tier, store quota.Store, opts ...Option) *Policy {
	if !tier.IsValid() {
		slog.Warn("unknown subscription tier, defaulting to free", "tier", string(tier))
		tier = TierFree
	}
	p := &Policy{tier: tier, store: store, now: time.Now}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Tier returns the tier the policy was built with.
func (p *Policy) Tier() Tier { return p.tier }

// BeginSession decides whether the session identified by sessionID may use
// the network voice, records the consumption for free-tier approvals, and
// returns the grant. It never returns an error: store failures are logged
// and absorbed.
func (p *Policy) BeginSession(ctx context.Context, sessionID string) SessionGrant {
	p.mu.Lock()
	defer p.mu.Unlock()

	grant := p.decide(ctx, sessionID)

	grant.DidSwitchToDevice = p.hasPrevious && p.lastApproved && !grant.UseCloudVoice
	p.lastApproved = grant.UseCloudVoice
	p.hasPrevious = true
	return grant
}

// decide computes the approval and remaining count. Must be called with
// p.mu held.
func (p *Policy) decide(ctx context.Context, sessionID string) SessionGrant {
	if p.tier.Unlimited() {
		return SessionGrant{
			UseCloudVoice:            true,
			RemainingCloudActivities: FreeMonthlyLimit,
		}
	}

	month := quota.MonthKey(p.now())
	used, err := p.store.Load(ctx, month)
	if err != nil {
		// Fail open: quota tracking must never block a child's session.
		slog.Warn("quota load failed, assuming fresh month",
			"month", month, "err", err)
		used = nil
	}

	// Set semantics: a session already counted this month stays approved
	// without consuming another slot.
	if slices.Contains(used, sessionID) {
		return SessionGrant{
			UseCloudVoice:            true,
			RemainingCloudActivities: remaining(len(used)),
		}
	}

	if len(used) >= FreeMonthlyLimit {
		return SessionGrant{
			UseCloudVoice:            false,
			RemainingCloudActivities: 0,
		}
	}

	// Approve and persist immediately, most-recent-first.
	used = append([]string{sessionID}, used...)
	if err := p.store.Save(ctx, month, quota.Truncate(used)); err != nil {
		slog.Warn("quota save failed, decision stands for this session",
			"month", month, "err", err)
	}

	return SessionGrant{
		UseCloudVoice:            true,
		RemainingCloudActivities: remaining(len(used)),
	}
}

func remaining(used int) int {
	if used >= FreeMonthlyLimit {
		return 0
	}
	return FreeMonthlyLimit - used
}
