// Package quota persists which activity sessions have consumed a premium
// voice slot in the current calendar month.
//
// The store is a best-effort ledger, not a billing record: reads fail open
// (an empty list) and callers are expected to log-and-continue on write
// failures. The month key is computed in a fixed reference time zone so the
// quota resets deterministically at each month boundary without an explicit
// reset operation — a record for a past month is simply never read again.
package quota

import (
	"context"
	"sync"
	"time"
)

// MaxStoredSessions caps how many session ids are persisted per month. The
// cap bounds storage growth only; quota logic never depends on it.
const MaxStoredSessions = 50

// referenceZone is the fixed time zone used for month-key computation, so
// that two devices on the same account agree on when a month rolls over.
var referenceZone = time.UTC

// MonthKey returns the storage key for the calendar month containing t,
// formatted as "YYYY-MM" in the fixed reference time zone.
func MonthKey(t time.Time) string {
	return t.In(referenceZone).Format("2006-01")
}

// Store persists the list of premium-consuming session ids for a month.
//
// Load and Save operate on the given month key. Lists are ordered
// most-recent-first. Implementations must be safe for concurrent use.
type Store interface {
	// Load returns the stored session ids for monthKey. A missing month is
	// not an error: it returns an empty list.
	Load(ctx context.Context, monthKey string) ([]string, error)

	// Save replaces the stored list for monthKey with ids, persisting at
	// most MaxStoredSessions entries (the most recent ones).
	Save(ctx context.Context, monthKey string, ids []string) error

	// Close releases any resources held by the store.
	Close() error
}

// Truncate returns ids capped to MaxStoredSessions entries. Lists are
// most-recent-first, so the oldest entries beyond the cap are dropped.
func Truncate(ids []string) []string {
	if len(ids) <= MaxStoredSessions {
		return ids
	}
	return ids[:MaxStoredSessions]
}

// Memory is an in-process Store. It is the default when no persistence is
// configured and the standard double in tests.
type Memory struct {
	mu     sync.Mutex
	months map[string][]string
}

// Compile-time interface assertion.
var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{months: make(map[string][]string)}
}

// Load returns the stored ids for monthKey.
func (m *Memory) Load(_ context.Context, monthKey string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.months[monthKey]
	out := make([]string, len(ids))
	copy(out, ids)
	return out, nil
}

// Save replaces the stored ids for monthKey.
func (m *Memory) Save(_ context.Context, monthKey string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	capped := Truncate(ids)
	out := make([]string, len(capped))
	copy(out, capped)
	m.months[monthKey] = out
	return nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error { return nil }
