// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

// Package queue is the durable sync work queue.
//
// Items are served by priority rank, then scheduled time, then insertion
// order, and only once their scheduled time has arrived. At most one active
// (pending or processing) item exists per video and sync type; enqueueing a
// duplicate returns the existing item. The queue alone decides between retry
// and terminal failure, using the caller's classification of the error and
// the item's attempt count.
package queue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/tomtom215/tubepulse/internal/clock"
	"github.com/tomtom215/tubepulse/internal/config"
	"github.com/tomtom215/tubepulse/internal/logging"
	"github.com/tomtom215/tubepulse/internal/metrics"
	"github.com/tomtom215/tubepulse/internal/models"
	"github.com/tomtom215/tubepulse/internal/store"
)

var (
	// ErrQueueEmpty is returned by DequeueNext when no pending item is due.
	ErrQueueEmpty = errors.New("queue: no item due")

	// ErrInvalidItem is returned for an unknown sync type or priority, or an
	// empty video ID.
	ErrInvalidItem = errors.New("queue: invalid item")
)

// maxLastErrorLen bounds the stored error text in bytes.
const maxLastErrorLen = 1024

// truncateError returns msg as valid UTF-8 of at most maxLastErrorLen bytes,
// cut on a rune boundary.
func truncateError(msg string) string {
	msg = strings.ToValidUTF8(msg, "\uFFFD")
	if len(msg) <= maxLastErrorLen {
		return msg
	}
	n := maxLastErrorLen
	for n > 0 && !utf8.RuneStart(msg[n]) {
		n--
	}
	return msg[:n]
}

// Queue is the sync queue service.
type Queue struct {
	repo  store.QueueRepository
	cfg   config.QueueConfig
	clock clock.Clock
}

// New creates a Queue over repo.
func New(repo store.QueueRepository, cfg config.QueueConfig, clk clock.Clock) *Queue {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Queue{repo: repo, cfg: cfg, clock: clk}
}

// Enqueue adds work for videoID. A nil scheduledAt means now. If an active
// item already exists for (videoID, syncType) it is returned unchanged with
// coalesced set.
func (q *Queue) Enqueue(ctx context.Context, videoID string, syncType models.SyncType, priority models.Priority, scheduledAt *time.Time) (item *models.SyncQueueItem, coalesced bool, err error) {
	if videoID == "" {
		return nil, false, fmt.Errorf("%w: empty video id", ErrInvalidItem)
	}
	if !syncType.Valid() {
		return nil, false, fmt.Errorf("%w: sync type %q", ErrInvalidItem, syncType)
	}
	if !priority.Valid() {
		return nil, false, fmt.Errorf("%w: priority %q", ErrInvalidItem, priority)
	}

	now := q.clock.Now()
	at := now
	if scheduledAt != nil {
		at = scheduledAt.UTC()
	}

	type result struct {
		item    *models.SyncQueueItem
		created bool
	}
	res, err := store.RetryOnContention(ctx, func() (result, error) {
		it, created, err := q.repo.Enqueue(ctx, store.NewQueueItem{
			ID:          uuid.NewString(),
			VideoID:     videoID,
			SyncType:    syncType,
			Priority:    priority,
			ScheduledAt: at,
			MaxAttempts: q.cfg.MaxAttempts,
			CreatedAt:   now,
		})
		return result{it, created}, err
	})
	if err != nil {
		return nil, false, fmt.Errorf("enqueue %s/%s: %w", videoID, syncType, err)
	}

	metrics.RecordEnqueue(syncType, priority, res.created)
	return res.item, !res.created, nil
}

// DequeueNext claims the next due item for workerID and marks it processing.
func (q *Queue) DequeueNext(ctx context.Context, workerID string) (*models.SyncQueueItem, error) {
	it, err := store.RetryOnContention(ctx, func() (*models.SyncQueueItem, error) {
		return q.repo.ClaimNext(ctx, workerID, q.clock.Now())
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}

	if it.ClaimedAt != nil {
		metrics.RecordDequeue(it.Priority, it.ClaimedAt.Sub(it.ScheduledAt))
	}
	return it, nil
}

// Get returns the item with the given ID.
func (q *Queue) Get(ctx context.Context, itemID string) (*models.SyncQueueItem, error) {
	return q.repo.Get(ctx, itemID)
}

// ReportSuccess completes an item processing under workerID's claim and
// frees its (video, type) slot. A claim that has since passed to another
// worker is ErrNotActive.
func (q *Queue) ReportSuccess(ctx context.Context, itemID, workerID string) (*models.SyncQueueItem, error) {
	it, err := store.RetryOnContention(ctx, func() (*models.SyncQueueItem, error) {
		return q.repo.Complete(ctx, itemID, workerID, q.clock.Now())
	})
	if err != nil {
		return nil, fmt.Errorf("complete item %s: %w", itemID, err)
	}
	metrics.RecordQueueOutcome("completed", 1)
	return it, nil
}

// ReportFailure records a failed attempt. Permanent errors (see IsPermanent)
// fail the item at once; others send it back to pending after a backoff
// until MaxAttempts is reached. Only the worker holding the claim may report.
func (q *Queue) ReportFailure(ctx context.Context, itemID, workerID string, cause error) (*models.SyncQueueItem, error) {
	if cause == nil {
		cause = errors.New("unspecified failure")
	}
	msg := truncateError(cause.Error())
	permanent := IsPermanent(cause)

	it, err := store.RetryOnContention(ctx, func() (*models.SyncQueueItem, error) {
		cur, err := q.repo.Get(ctx, itemID)
		if err != nil {
			return nil, err
		}
		if cur.Status != models.StatusProcessing {
			return nil, fmt.Errorf("queue item %s is %s: %w", itemID, cur.Status, store.ErrNotActive)
		}
		if cur.ClaimedBy != workerID {
			return nil, fmt.Errorf("queue item %s is claimed by %q: %w", itemID, cur.ClaimedBy, store.ErrNotActive)
		}

		now := q.clock.Now()
		var retryAt *time.Time
		if attempts := cur.Attempts + 1; !permanent && attempts < cur.MaxAttempts {
			at := now.Add(q.Backoff(attempts))
			retryAt = &at
		}
		return q.repo.Fail(ctx, itemID, workerID, msg, retryAt, now)
	})
	if err != nil {
		return nil, fmt.Errorf("fail item %s: %w", itemID, err)
	}

	ev := logging.Ctx(ctx).Warn().
		Str("item_id", it.ID).
		Str("video_id", it.VideoID).
		Str("sync_type", string(it.SyncType)).
		Int("attempts", it.Attempts).
		Bool("permanent", permanent).
		Str("error", msg)
	if it.Status == models.StatusFailed {
		metrics.RecordQueueOutcome("failed", 1)
		ev.Msg("Sync item failed permanently")
	} else {
		metrics.RecordQueueOutcome("retried", 1)
		ev.Time("retry_at", it.ScheduledAt).Msg("Sync item scheduled for retry")
	}
	return it, nil
}

// Release returns a processing item to pending without counting an attempt,
// for work abandoned by shutdown rather than by failure.
func (q *Queue) Release(ctx context.Context, itemID, workerID string) (*models.SyncQueueItem, error) {
	it, err := store.RetryOnContention(ctx, func() (*models.SyncQueueItem, error) {
		return q.repo.Release(ctx, itemID, workerID, q.clock.Now())
	})
	if err != nil {
		return nil, fmt.Errorf("release item %s: %w", itemID, err)
	}
	metrics.RecordQueueOutcome("released", 1)
	return it, nil
}

// ReclaimStale returns items claimed longer than ClaimTimeout ago to pending.
func (q *Queue) ReclaimStale(ctx context.Context) (int, error) {
	now := q.clock.Now()
	n, err := store.RetryOnContention(ctx, func() (int, error) {
		return q.repo.ReclaimStale(ctx, now.Add(-q.cfg.ClaimTimeout), now)
	})
	if err != nil {
		return 0, fmt.Errorf("reclaim stale items: %w", err)
	}
	metrics.RecordQueueOutcome("reclaimed", n)
	return n, nil
}

// PurgeTerminal deletes completed and failed items older than Retention.
func (q *Queue) PurgeTerminal(ctx context.Context) (int, error) {
	cutoff := q.clock.Now().Add(-q.cfg.Retention)
	n, err := store.RetryOnContention(ctx, func() (int, error) {
		return q.repo.PurgeTerminal(ctx, cutoff)
	})
	if err != nil {
		return 0, fmt.Errorf("purge terminal items: %w", err)
	}
	return n, nil
}

// Stats counts items by status and publishes the counts as gauges.
func (q *Queue) Stats(ctx context.Context) (models.QueueStats, error) {
	s, err := q.repo.Stats(ctx)
	if err != nil {
		return s, fmt.Errorf("queue stats: %w", err)
	}
	metrics.UpdateQueueDepth(s)
	return s, nil
}

// Backoff returns the retry delay after the given number of attempts:
// BackoffBase * 2^attempts, capped at BackoffCap.
func (q *Queue) Backoff(attempts int) time.Duration {
	base, limit := q.cfg.BackoffBase, q.cfg.BackoffCap

	// 2^63 overflows time.Duration; any realistic base hits the cap far
	// earlier.
	if attempts > 50 {
		return limit
	}
	backoff := time.Duration(float64(base) * math.Pow(2, float64(attempts)))
	if backoff < 0 || backoff > limit {
		backoff = limit
	}
	return backoff
}
