// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

// Package analytics is the detailed-metrics cache. Entries live in the
// durable store with an expiry chosen by performance tier; an in-process LRU
// serves repeated reads. Freshness is always derived from the expiry and the
// configured grace period, never stored.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tomtom215/tubepulse/internal/cache"
	"github.com/tomtom215/tubepulse/internal/clock"
	"github.com/tomtom215/tubepulse/internal/config"
	"github.com/tomtom215/tubepulse/internal/logging"
	"github.com/tomtom215/tubepulse/internal/metrics"
	"github.com/tomtom215/tubepulse/internal/models"
	"github.com/tomtom215/tubepulse/internal/store"
)

// ErrInvalidTTL is returned by Put for a non-positive TTL.
var ErrInvalidTTL = errors.New("analytics: ttl must be positive")

// Cache is the analytics cache service.
type Cache struct {
	repo  store.AnalyticsRepository
	l1    *cache.LRU[*models.AnalyticsCacheEntry]
	group singleflight.Group
	cfg   config.CacheConfig
	clock clock.Clock
}

// New creates a Cache over repo.
func New(repo store.AnalyticsRepository, cfg config.CacheConfig, clk clock.Clock) *Cache {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Cache{
		repo:  repo,
		l1:    cache.NewLRU[*models.AnalyticsCacheEntry](cfg.L1Capacity, cfg.L1TTL, clk.Now),
		cfg:   cfg,
		clock: clk,
	}
}

// Grace is how long an expired entry is still served as stale.
func (c *Cache) Grace() time.Duration { return c.cfg.Grace }

// TTLForTier returns the cache lifetime for a video of the given tier.
// Hotter videos change faster and get shorter lifetimes.
func (c *Cache) TTLForTier(tier models.Tier) time.Duration {
	switch tier {
	case models.TierHot:
		return c.cfg.HotTTL
	case models.TierWarm:
		return c.cfg.WarmTTL
	default:
		return c.cfg.ColdTTL
	}
}

// Get returns the entry for videoID, or store.ErrNotFound.
func (c *Cache) Get(ctx context.Context, videoID string) (*models.AnalyticsCacheEntry, error) {
	if e, ok := c.l1.Get(videoID); ok {
		metrics.RecordCacheLookup("l1", true)
		return e.Clone(), nil
	}
	metrics.RecordCacheLookup("l1", false)

	// The read is shared by every caller waiting on videoID and outlives
	// the one that started it. Each caller stops waiting when its ctx ends.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(videoID, func() (interface{}, error) {
		e, err := c.repo.Get(shared, videoID)
		metrics.RecordCacheLookup("store", err == nil)
		if err != nil {
			return nil, err
		}
		c.remember(e)
		return e, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.AnalyticsCacheEntry).Clone(), nil
	}
}

// GetMany returns the entries that exist for videoIDs, keyed by video ID.
func (c *Cache) GetMany(ctx context.Context, videoIDs []string) (map[string]*models.AnalyticsCacheEntry, error) {
	out := make(map[string]*models.AnalyticsCacheEntry, len(videoIDs))
	var misses []string
	for _, id := range videoIDs {
		if e, ok := c.l1.Get(id); ok {
			out[id] = e.Clone()
			continue
		}
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return out, nil
	}

	found, err := c.repo.GetMany(ctx, misses)
	if err != nil {
		return nil, err
	}
	for id, e := range found {
		c.remember(e)
		out[id] = e.Clone()
	}
	return out, nil
}

// Put stores metrics for videoID with expiresAt = now + ttl, replacing any
// existing entry.
func (c *Cache) Put(ctx context.Context, videoID string, m models.DetailedMetrics, ttl time.Duration) (*models.AnalyticsCacheEntry, error) {
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	now := c.clock.Now()
	e := &models.AnalyticsCacheEntry{
		VideoID:         videoID,
		DetailedMetrics: m,
		CachedAt:        now,
		ExpiresAt:       now.Add(ttl),
	}

	// Drop the L1 copy first so a failed write never leaves it ahead of
	// the store.
	c.l1.Remove(videoID)
	_, err := store.RetryOnContention(ctx, func() (struct{}, error) {
		return struct{}{}, c.repo.Put(ctx, e)
	})
	if err != nil {
		return nil, fmt.Errorf("put analytics for %s: %w", videoID, err)
	}
	c.remember(e)
	return e.Clone(), nil
}

// PutForTier stores metrics with the TTL of tier.
func (c *Cache) PutForTier(ctx context.Context, videoID string, m models.DetailedMetrics, tier models.Tier) (*models.AnalyticsCacheEntry, error) {
	e, err := c.Put(ctx, videoID, m, c.TTLForTier(tier))
	if err != nil {
		return nil, err
	}
	metrics.AnalyticsCacheWrites.WithLabelValues(string(tier)).Inc()
	return e, nil
}

// FreshnessOf reports the freshness of videoID's entry. A missing entry is
// expired.
func (c *Cache) FreshnessOf(ctx context.Context, videoID string) (models.Freshness, error) {
	e, err := c.Get(ctx, videoID)
	if errors.Is(err, store.ErrNotFound) {
		return models.FreshnessExpired, nil
	}
	if err != nil {
		return "", err
	}
	return e.FreshnessAt(c.clock.Now(), c.cfg.Grace), nil
}

// FreshnessAt derives the freshness of an entry that may be nil.
func (c *Cache) FreshnessAt(e *models.AnalyticsCacheEntry, now time.Time) models.Freshness {
	if e == nil {
		return models.FreshnessExpired
	}
	return e.FreshnessAt(now, c.cfg.Grace)
}

// EvictExpired deletes entries whose grace period has passed and returns
// their video IDs.
func (c *Cache) EvictExpired(ctx context.Context) ([]string, error) {
	cutoff := c.clock.Now().Add(-c.cfg.Grace)
	ids, err := store.RetryOnContention(ctx, func() ([]string, error) {
		return c.repo.DeleteExpiredBefore(ctx, cutoff)
	})
	if err != nil {
		return nil, fmt.Errorf("evict analytics: %w", err)
	}
	for _, id := range ids {
		c.l1.Remove(id)
	}
	c.l1.CleanupExpired()
	metrics.AnalyticsL1Entries.Set(float64(c.l1.Len()))

	if len(ids) > 0 {
		logging.Ctx(ctx).Debug().Int("count", len(ids)).Time("cutoff", cutoff).Msg("Evicted expired analytics")
	}
	return ids, nil
}

// Invalidate drops videoID from the in-process tier only.
func (c *Cache) Invalidate(videoID string) {
	c.l1.Remove(videoID)
}

// remember caches e in L1 until its grace period ends, after which the
// sweeper will have removed it from the store. A read that raced a Put never
// replaces the newer entry.
func (c *Cache) remember(e *models.AnalyticsCacheEntry) {
	c.l1.AddIf(e.VideoID, e.Clone(), e.ExpiresAt.Add(c.cfg.Grace), func(old *models.AnalyticsCacheEntry) bool {
		return !e.CachedAt.Before(old.CachedAt)
	})
	metrics.AnalyticsL1Entries.Set(float64(c.l1.Len()))
}
