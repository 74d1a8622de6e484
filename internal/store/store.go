// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

// Package store declares the persistence contracts of the sync engine.
//
// Repositories never read the clock: every mutation takes the timestamp it
// must record, so the calling component owns "now". Two backends implement
// these interfaces, internal/database (DuckDB) and internal/memstore.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/tubepulse/internal/models"
)

var (
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrContention signals a write-write conflict. Callers retry the
	// operation immediately; see RetryOnContention.
	ErrContention = errors.New("store: write contention")

	// ErrNotActive is returned when a queue transition requires an item in
	// a state it is no longer in (e.g. reporting on a reclaimed item).
	ErrNotActive = errors.New("store: queue item not in expected state")
)

// VideoUpsert carries one basic-metrics write, including the scorer output.
type VideoUpsert struct {
	NewID      string // used only when the row is created
	OwnerID    string
	ExternalID string
	Metrics    models.BasicMetrics
	Metadata   models.VideoMetadata

	Score          float64
	Tier           models.Tier
	EngagementRate float64
	ViewVelocity   float64

	SyncedAt time.Time
}

// ListFilter narrows ListByOwner. Zero values mean "no filter".
type ListFilter struct {
	Tier           models.Tier
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// VideoRepository persists VideoRecords.
type VideoRepository interface {
	// UpsertBasic creates or merges the record keyed by (OwnerID,
	// ExternalID). Metrics are last-writer-wins; LastSyncedAt only advances.
	UpsertBasic(ctx context.Context, u VideoUpsert) (*models.VideoRecord, error)

	// UpdateBasic applies u to the existing record id and never creates one.
	// u's NewID, OwnerID and ExternalID are ignored. A missing record is
	// ErrNotFound.
	UpdateBasic(ctx context.Context, id string, u VideoUpsert) (*models.VideoRecord, error)

	// InsertStub creates a never-synced record if none exists for the key
	// and returns the (possibly pre-existing) record plus whether it was
	// created.
	InsertStub(ctx context.Context, id, ownerID, externalID string, at time.Time) (*models.VideoRecord, bool, error)

	Get(ctx context.Context, id string) (*models.VideoRecord, error)
	GetByExternalID(ctx context.Context, ownerID, externalID string) (*models.VideoRecord, error)
	ListByOwner(ctx context.Context, ownerID string, f ListFilter) ([]*models.VideoRecord, error)

	// ListActiveAfter pages through non-deleted records ordered by ID.
	ListActiveAfter(ctx context.Context, afterID string, limit int) ([]*models.VideoRecord, error)

	// VelocityRange summarizes synced, non-deleted records of the owner.
	VelocityRange(ctx context.Context, ownerID string) (models.VelocityRange, error)

	MarkDeleted(ctx context.Context, id string, at time.Time) error

	// Purge hard-deletes the record together with its cache entry and
	// queue items.
	Purge(ctx context.Context, id string) error
}

// AnalyticsRepository persists AnalyticsCacheEntries.
type AnalyticsRepository interface {
	Get(ctx context.Context, videoID string) (*models.AnalyticsCacheEntry, error)
	// Put replaces any existing entry for the video.
	Put(ctx context.Context, e *models.AnalyticsCacheEntry) error
	// GetMany returns the entries that exist, keyed by video ID.
	GetMany(ctx context.Context, videoIDs []string) (map[string]*models.AnalyticsCacheEntry, error)
	// DeleteExpiredBefore removes entries with ExpiresAt < cutoff and
	// returns the deleted video IDs.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) ([]string, error)
}

// NewQueueItem is the input to QueueRepository.Enqueue.
type NewQueueItem struct {
	ID          string
	VideoID     string
	SyncType    models.SyncType
	Priority    models.Priority
	ScheduledAt time.Time
	MaxAttempts int
	CreatedAt   time.Time
}

// QueueRepository persists SyncQueueItems. Every method is atomic at the
// store boundary.
type QueueRepository interface {
	// Enqueue inserts the item unless an active item exists for
	// (VideoID, SyncType), in which case the existing one is returned with
	// created=false.
	Enqueue(ctx context.Context, n NewQueueItem) (item *models.SyncQueueItem, created bool, err error)

	// ClaimNext moves the first pending item with ScheduledAt <= now in
	// queue order to processing. Returns ErrNotFound when none is due.
	ClaimNext(ctx context.Context, workerID string, now time.Time) (*models.SyncQueueItem, error)

	Get(ctx context.Context, id string) (*models.SyncQueueItem, error)

	// Complete, Fail and Release act only on an item that is processing
	// under workerID's claim. Any other state, including a claim held by a
	// different worker, is ErrNotActive.

	// Complete moves a processing item to completed.
	Complete(ctx context.Context, id, workerID string, at time.Time) (*models.SyncQueueItem, error)

	// Fail records an attempt on a processing item. With retryAt set the
	// item returns to pending at that time, otherwise it becomes failed.
	Fail(ctx context.Context, id, workerID, lastError string, retryAt *time.Time, at time.Time) (*models.SyncQueueItem, error)

	// Release returns a processing item to pending without counting an
	// attempt.
	Release(ctx context.Context, id, workerID string, at time.Time) (*models.SyncQueueItem, error)

	// ReclaimStale resets processing items claimed before cutoff.
	ReclaimStale(ctx context.Context, cutoff, at time.Time) (int, error)

	// PurgeTerminal deletes completed/failed items last updated before cutoff.
	PurgeTerminal(ctx context.Context, cutoff time.Time) (int, error)

	Stats(ctx context.Context) (models.QueueStats, error)
}

// Store bundles the three repositories of one backend.
type Store interface {
	Videos() VideoRepository
	Analytics() AnalyticsRepository
	Queue() QueueRepository
	Pinger
	Close() error
}

// Pinger checks that the backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MaxContentionRetries bounds RetryOnContention.
const MaxContentionRetries = 8

// RetryOnContention runs fn again immediately while it fails with
// ErrContention, up to MaxContentionRetries times.
func RetryOnContention[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var (
		res T
		err error
	)
	for i := 0; i < MaxContentionRetries; i++ {
		res, err = fn()
		if !errors.Is(err, ErrContention) {
			return res, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
	}
	return res, err
}
