// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

// Package memstore is an in-process implementation of the store contracts.
// One mutex guards all three repositories, which makes every operation
// (including the Purge cascade) atomic. It backs STORAGE_BACKEND=memory
// and the engine tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/tubepulse/internal/models"
	"github.com/tomtom215/tubepulse/internal/store"
)

// Store holds all state in maps.
type Store struct {
	mu sync.Mutex

	videos map[string]*models.VideoRecord
	byKey  map[string]string // owner\x00external -> video id

	analytics map[string]*models.AnalyticsCacheEntry

	items  map[string]*models.SyncQueueItem
	active map[string]string // video\x00syncType -> item id
	seq    int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		videos:    make(map[string]*models.VideoRecord),
		byKey:     make(map[string]string),
		analytics: make(map[string]*models.AnalyticsCacheEntry),
		items:     make(map[string]*models.SyncQueueItem),
		active:    make(map[string]string),
	}
}

// Videos implements store.Store.
func (s *Store) Videos() store.VideoRepository { return (*videoRepo)(s) }

// Analytics implements store.Store.
func (s *Store) Analytics() store.AnalyticsRepository { return (*analyticsRepo)(s) }

// Queue implements store.Store.
func (s *Store) Queue() store.QueueRepository { return (*queueRepo)(s) }

// Ping implements store.Store. It only fails for a done ctx.
func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// Close implements store.Store.
func (s *Store) Close() error { return nil }

func naturalKey(ownerID, externalID string) string { return ownerID + "\x00" + externalID }

func activeKey(videoID string, t models.SyncType) string { return videoID + "\x00" + string(t) }

// --- videos ---

type videoRepo Store

func (r *videoRepo) UpsertBasic(ctx context.Context, u store.VideoUpsert) (*models.VideoRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.videos[s.byKey[naturalKey(u.OwnerID, u.ExternalID)]]
	if !ok {
		v = &models.VideoRecord{
			ID:         u.NewID,
			OwnerID:    u.OwnerID,
			ExternalID: u.ExternalID,
			CreatedAt:  u.SyncedAt,
		}
		s.videos[v.ID] = v
		s.byKey[naturalKey(u.OwnerID, u.ExternalID)] = v.ID
	}

	applyBasic(v, u)
	return v.Clone(), nil
}

func (r *videoRepo) UpdateBasic(ctx context.Context, id string, u store.VideoUpsert) (*models.VideoRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.videos[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	applyBasic(v, u)
	return v.Clone(), nil
}

// applyBasic merges fetched metrics and score into v. mu must be held.
func applyBasic(v *models.VideoRecord, u store.VideoUpsert) {
	v.VideoMetadata = u.Metadata
	v.Tags = append([]string(nil), u.Metadata.Tags...)
	v.BasicMetrics = u.Metrics
	v.PerformanceScore = u.Score
	v.PerformanceTier = u.Tier
	v.EngagementRate = u.EngagementRate
	v.ViewVelocity = u.ViewVelocity
	v.SyncPriority = u.Tier.SyncPriority()
	if v.LastSyncedAt == nil || u.SyncedAt.After(*v.LastSyncedAt) {
		t := u.SyncedAt
		v.LastSyncedAt = &t
	}
	v.UpdatedAt = u.SyncedAt
}

func (r *videoRepo) InsertStub(ctx context.Context, id, ownerID, externalID string, at time.Time) (*models.VideoRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.videos[s.byKey[naturalKey(ownerID, externalID)]]; ok {
		return existing.Clone(), false, nil
	}
	v := &models.VideoRecord{
		ID:              id,
		OwnerID:         ownerID,
		ExternalID:      externalID,
		PerformanceTier: models.TierCold,
		SyncPriority:    models.TierCold.SyncPriority(),
		CreatedAt:       at,
		UpdatedAt:       at,
	}
	s.videos[id] = v
	s.byKey[naturalKey(ownerID, externalID)] = id
	return v.Clone(), true, nil
}

func (r *videoRepo) Get(_ context.Context, id string) (*models.VideoRecord, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return v.Clone(), nil
}

func (r *videoRepo) GetByExternalID(_ context.Context, ownerID, externalID string) (*models.VideoRecord, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[s.byKey[naturalKey(ownerID, externalID)]]
	if !ok {
		return nil, store.ErrNotFound
	}
	return v.Clone(), nil
}

func (r *videoRepo) ListByOwner(_ context.Context, ownerID string, f store.ListFilter) ([]*models.VideoRecord, error) {
	s := (*Store)(r)
	s.mu.Lock()
	var out []*models.VideoRecord
	for _, v := range s.videos {
		if v.OwnerID != ownerID {
			continue
		}
		if v.IsDeleted && !f.IncludeDeleted {
			continue
		}
		if f.Tier != "" && v.PerformanceTier != f.Tier {
			continue
		}
		out = append(out, v.Clone())
	}
	s.mu.Unlock()

	// Newest first, ID as tie-breaker; the DuckDB backend uses the same order.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PublishedAt.Equal(out[j].PublishedAt) {
			return out[i].PublishedAt.After(out[j].PublishedAt)
		}
		return out[i].ID < out[j].ID
	})
	return paginate(out, f.Limit, f.Offset), nil
}

func paginate[T any](in []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(in) {
			return nil
		}
		in = in[offset:]
	}
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}

func (r *videoRepo) ListActiveAfter(_ context.Context, afterID string, limit int) ([]*models.VideoRecord, error) {
	s := (*Store)(r)
	s.mu.Lock()
	var out []*models.VideoRecord
	for _, v := range s.videos {
		if !v.IsDeleted && v.ID > afterID {
			out = append(out, v.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, limit, 0), nil
}

func (r *videoRepo) VelocityRange(_ context.Context, ownerID string) (models.VelocityRange, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	var vr models.VelocityRange
	for _, v := range s.videos {
		if v.OwnerID != ownerID || v.IsDeleted || v.LastSyncedAt == nil {
			continue
		}
		if vr.Count == 0 || v.ViewVelocity < vr.Min {
			vr.Min = v.ViewVelocity
		}
		if vr.Count == 0 || v.ViewVelocity > vr.Max {
			vr.Max = v.ViewVelocity
		}
		vr.Count++
	}
	return vr, nil
}

func (r *videoRepo) MarkDeleted(_ context.Context, id string, at time.Time) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[id]
	if !ok {
		return store.ErrNotFound
	}
	if v.IsDeleted {
		return nil
	}
	v.IsDeleted = true
	t := at
	v.DeletedAt = &t
	v.UpdatedAt = at
	return nil
}

func (r *videoRepo) Purge(_ context.Context, id string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.videos, id)
	delete(s.byKey, naturalKey(v.OwnerID, v.ExternalID))
	delete(s.analytics, id)
	for itemID, it := range s.items {
		if it.VideoID == id {
			delete(s.items, itemID)
			delete(s.active, activeKey(id, it.SyncType))
		}
	}
	return nil
}

// --- analytics ---

type analyticsRepo Store

func (r *analyticsRepo) Get(_ context.Context, videoID string) (*models.AnalyticsCacheEntry, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.analytics[videoID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return e.Clone(), nil
}

func (r *analyticsRepo) Put(ctx context.Context, e *models.AnalyticsCacheEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analytics[e.VideoID] = e.Clone()
	return nil
}

func (r *analyticsRepo) GetMany(_ context.Context, videoIDs []string) (map[string]*models.AnalyticsCacheEntry, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*models.AnalyticsCacheEntry, len(videoIDs))
	for _, id := range videoIDs {
		if e, ok := s.analytics[id]; ok {
			out[id] = e.Clone()
		}
	}
	return out, nil
}

func (r *analyticsRepo) DeleteExpiredBefore(_ context.Context, cutoff time.Time) ([]string, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted []string
	for id, e := range s.analytics {
		if e.ExpiresAt.Before(cutoff) {
			delete(s.analytics, id)
			deleted = append(deleted, id)
		}
	}
	sort.Strings(deleted)
	return deleted, nil
}

// --- queue ---

type queueRepo Store

func (r *queueRepo) Enqueue(ctx context.Context, n store.NewQueueItem) (*models.SyncQueueItem, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	key := activeKey(n.VideoID, n.SyncType)
	if id, ok := s.active[key]; ok {
		return s.items[id].Clone(), false, nil
	}

	maxAttempts := n.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = models.DefaultMaxAttempts
	}
	s.seq++
	it := &models.SyncQueueItem{
		ID:          n.ID,
		VideoID:     n.VideoID,
		SyncType:    n.SyncType,
		Priority:    n.Priority,
		ScheduledAt: n.ScheduledAt,
		MaxAttempts: maxAttempts,
		Status:      models.StatusPending,
		Seq:         s.seq,
		CreatedAt:   n.CreatedAt,
		UpdatedAt:   n.CreatedAt,
	}
	s.items[it.ID] = it
	s.active[key] = it.ID
	return it.Clone(), true, nil
}

func (r *queueRepo) ClaimNext(ctx context.Context, workerID string, now time.Time) (*models.SyncQueueItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *models.SyncQueueItem
	for _, it := range s.items {
		if it.Status != models.StatusPending || it.ScheduledAt.After(now) {
			continue
		}
		if best == nil || it.ServedBefore(best) {
			best = it
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	best.Status = models.StatusProcessing
	best.ClaimedBy = workerID
	t := now
	best.ClaimedAt = &t
	best.UpdatedAt = now
	return best.Clone(), nil
}

func (r *queueRepo) Get(_ context.Context, id string) (*models.SyncQueueItem, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return it.Clone(), nil
}

// processing returns the item if workerID holds its claim. mu must be held.
func (s *Store) processing(id, workerID string) (*models.SyncQueueItem, error) {
	it, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if it.Status != models.StatusProcessing || it.ClaimedBy != workerID {
		return nil, store.ErrNotActive
	}
	return it, nil
}

func (s *Store) finish(it *models.SyncQueueItem, status models.Status, at time.Time) {
	it.Status = status
	t := at
	it.CompletedAt = &t
	it.UpdatedAt = at
	delete(s.active, activeKey(it.VideoID, it.SyncType))
}

func (r *queueRepo) Complete(_ context.Context, id, workerID string, at time.Time) (*models.SyncQueueItem, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	it, err := s.processing(id, workerID)
	if err != nil {
		return nil, err
	}
	s.finish(it, models.StatusCompleted, at)
	return it.Clone(), nil
}

func (r *queueRepo) Fail(_ context.Context, id, workerID, lastError string, retryAt *time.Time, at time.Time) (*models.SyncQueueItem, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	it, err := s.processing(id, workerID)
	if err != nil {
		return nil, err
	}
	it.Attempts++
	it.LastError = lastError
	if retryAt == nil {
		s.finish(it, models.StatusFailed, at)
		return it.Clone(), nil
	}
	it.Status = models.StatusPending
	it.ScheduledAt = *retryAt
	it.ClaimedBy = ""
	it.ClaimedAt = nil
	it.UpdatedAt = at
	return it.Clone(), nil
}

func (r *queueRepo) Release(_ context.Context, id, workerID string, at time.Time) (*models.SyncQueueItem, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	it, err := s.processing(id, workerID)
	if err != nil {
		return nil, err
	}
	it.Status = models.StatusPending
	it.ClaimedBy = ""
	it.ClaimedAt = nil
	it.UpdatedAt = at
	return it.Clone(), nil
}

func (r *queueRepo) ReclaimStale(_ context.Context, cutoff, at time.Time) (int, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, it := range s.items {
		if it.Status != models.StatusProcessing || it.ClaimedAt == nil || !it.ClaimedAt.Before(cutoff) {
			continue
		}
		it.Status = models.StatusPending
		it.ClaimedBy = ""
		it.ClaimedAt = nil
		it.UpdatedAt = at
		n++
	}
	return n, nil
}

func (r *queueRepo) PurgeTerminal(_ context.Context, cutoff time.Time) (int, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, it := range s.items {
		if it.Status.Terminal() && it.UpdatedAt.Before(cutoff) {
			delete(s.items, id)
			n++
		}
	}
	return n, nil
}

func (r *queueRepo) Stats(_ context.Context) (models.QueueStats, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var st models.QueueStats
	for _, it := range s.items {
		switch it.Status {
		case models.StatusPending:
			st.Pending++
		case models.StatusProcessing:
			st.Processing++
		case models.StatusCompleted:
			st.Completed++
		case models.StatusFailed:
			st.Failed++
		}
	}
	return st, nil
}
