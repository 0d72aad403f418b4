package usecase

import (
	"time"

	"github.com/eliteGoblin/focusd/ai_mon/internal/domain"
)

// ViolationRetention is how long a recorded message counts toward a tier.
const ViolationRetention = 30 * 24 * time.Hour

// ViolationTracker keeps per-tier event timestamps inside a rolling window.
// Expiry is lazy: timestamps are purged when a tier is counted.
// Not safe for concurrent use; the router serializes access.
type ViolationTracker struct {
	retention time.Duration
	windows   map[domain.Tier][]time.Time
}

// NewViolationTracker creates an empty tracker with the default retention.
func NewViolationTracker() *ViolationTracker {
	return &ViolationTracker{
		retention: ViolationRetention,
		windows:   make(map[domain.Tier][]time.Time),
	}
}

// NewViolationTrackerFromSnapshot restores a tracker from persisted timestamps.
func NewViolationTrackerFromSnapshot(snap TimestampSnapshot) *ViolationTracker {
	t := NewViolationTracker()
	for tier, millis := range snap {
		window := make([]time.Time, 0, len(millis))
		for _, ms := range millis {
			window = append(window, time.UnixMilli(ms))
		}
		t.windows[tier] = window
	}
	return t
}

// Record appends ts to the tier window.
func (t *ViolationTracker) Record(tier domain.Tier, ts time.Time) {
	t.windows[tier] = append(t.windows[tier], ts)
}

// Count purges timestamps at or before now-retention and returns what is left.
func (t *ViolationTracker) Count(tier domain.Tier, now time.Time) int {
	cutoff := now.Add(-t.retention)
	window := t.windows[tier]
	kept := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	t.windows[tier] = kept
	return len(kept)
}

// Counts counts every tier at now.
func (t *ViolationTracker) Counts(now time.Time) domain.ViolationCounts {
	counts := make(domain.ViolationCounts, len(domain.Tiers))
	for _, tier := range domain.Tiers {
		counts[tier] = t.Count(tier, now)
	}
	return counts
}

// Reset clears a tier window.
func (t *ViolationTracker) Reset(tier domain.Tier) {
	delete(t.windows, tier)
}

// TimestampSnapshot is the persisted form of the windows, in unix milliseconds.
type TimestampSnapshot map[domain.Tier][]int64

// Snapshot returns the current windows without purging them.
func (t *ViolationTracker) Snapshot() TimestampSnapshot {
	snap := make(TimestampSnapshot, len(domain.Tiers))
	for _, tier := range domain.Tiers {
		window := t.windows[tier]
		millis := make([]int64, 0, len(window))
		for _, ts := range window {
			millis = append(millis, ts.UnixMilli())
		}
		snap[tier] = millis
	}
	return snap
}
