// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

package models

import "time"

// DefaultMaxAttempts is used when an item is enqueued without a limit.
const DefaultMaxAttempts = 3

// SyncQueueItem is one unit of sync work.
type SyncQueueItem struct {
	ID          string    `json:"id"`
	VideoID     string    `json:"video_id"`
	SyncType    SyncType  `json:"sync_type"`
	Priority    Priority  `json:"priority"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	LastError   string    `json:"last_error,omitempty"`
	Status      Status    `json:"status"`

	ClaimedBy string     `json:"claimed_by,omitempty"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`

	// Seq is the insertion order, the last tie-breaker of the queue order.
	Seq int64 `json:"seq"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy.
func (q *SyncQueueItem) Clone() *SyncQueueItem {
	if q == nil {
		return nil
	}
	c := *q
	if q.ClaimedAt != nil {
		t := *q.ClaimedAt
		c.ClaimedAt = &t
	}
	if q.CompletedAt != nil {
		t := *q.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// ServedBefore is the queue's total order: priority rank, then scheduledAt,
// then insertion order.
func (q *SyncQueueItem) ServedBefore(o *SyncQueueItem) bool {
	if pr, or := q.Priority.Rank(), o.Priority.Rank(); pr != or {
		return pr < or
	}
	if !q.ScheduledAt.Equal(o.ScheduledAt) {
		return q.ScheduledAt.Before(o.ScheduledAt)
	}
	return q.Seq < o.Seq
}

// QueueStats counts items by status.
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}
