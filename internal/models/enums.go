// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

package models

import "fmt"

// Tier is the performance bucket derived from a video's score.
// Ordering is COLD < WARM < HOT; compare with Rank, never with string order.
type Tier string

const (
	TierCold Tier = "COLD"
	TierWarm Tier = "WARM"
	TierHot  Tier = "HOT"
)

// Rank returns 0 for COLD, 1 for WARM, 2 for HOT and -1 for unknown values.
func (t Tier) Rank() int {
	switch t {
	case TierCold:
		return 0
	case TierWarm:
		return 1
	case TierHot:
		return 2
	default:
		return -1
	}
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool { return t.Rank() >= 0 }

// SyncPriority is the stored 1..3 cadence hint (1 = high) for a tier.
func (t Tier) SyncPriority() int {
	switch t {
	case TierHot:
		return 1
	case TierWarm:
		return 2
	default:
		return 3
	}
}

// QueuePriority maps a tier to the priority its routine refreshes are enqueued at.
func (t Tier) QueuePriority() Priority {
	switch t {
	case TierHot:
		return PriorityHigh
	case TierWarm:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// ParseTier accepts the upper-case names (and their lower-case forms).
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierCold, "cold":
		return TierCold, nil
	case TierWarm, "warm":
		return TierWarm, nil
	case TierHot, "hot":
		return TierHot, nil
	}
	return "", fmt.Errorf("unknown tier %q", s)
}

// Priority is a sync queue priority. urgent > high > normal > low.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank is the single ordering function for priorities: lower rank is served
// first. Stores persist this value so that ORDER BY uses the same order.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool { return p.Rank() < 4 }

// Before reports whether p is served strictly before o.
func (p Priority) Before(o Priority) bool { return p.Rank() < o.Rank() }

// SyncType names the unit of work a queue item performs.
type SyncType string

const (
	SyncBasic     SyncType = "basic"
	SyncAnalytics SyncType = "analytics"
	SyncFull      SyncType = "full"
)

// Valid reports whether s is a known sync type.
func (s SyncType) Valid() bool {
	return s == SyncBasic || s == SyncAnalytics || s == SyncFull
}

// IncludesBasic reports whether the sync fetches basic metrics.
func (s SyncType) IncludesBasic() bool { return s == SyncBasic || s == SyncFull }

// IncludesAnalytics reports whether the sync fetches detailed analytics.
func (s SyncType) IncludesAnalytics() bool { return s == SyncAnalytics || s == SyncFull }

// Status is the lifecycle state of a queue item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Active reports whether the item still occupies its (video, syncType) slot.
func (s Status) Active() bool { return s == StatusPending || s == StatusProcessing }

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// Freshness is the derived state of an analytics cache entry.
type Freshness string

const (
	FreshnessFresh   Freshness = "fresh"
	FreshnessStale   Freshness = "stale"
	FreshnessExpired Freshness = "expired"
)

// ParseFreshness validates a freshness filter value.
func ParseFreshness(s string) (Freshness, error) {
	switch f := Freshness(s); f {
	case FreshnessFresh, FreshnessStale, FreshnessExpired:
		return f, nil
	}
	return "", fmt.Errorf("unknown freshness %q", s)
}

// NeedsRefresh reports whether analytics in this state should be re-fetched.
func (f Freshness) NeedsRefresh() bool { return f != FreshnessFresh }
