// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

// Package scheduler decides which videos need a refresh and enqueues sync
// work for them. It keeps no state between runs: every pass derives what is
// due from LastSyncedAt and analytics freshness, and relies on queue
// coalescing for idempotence.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/tubepulse/internal/analytics"
	"github.com/tomtom215/tubepulse/internal/catalog"
	"github.com/tomtom215/tubepulse/internal/clock"
	"github.com/tomtom215/tubepulse/internal/config"
	"github.com/tomtom215/tubepulse/internal/logging"
	"github.com/tomtom215/tubepulse/internal/metrics"
	"github.com/tomtom215/tubepulse/internal/models"
	"github.com/tomtom215/tubepulse/internal/provider"
	"github.com/tomtom215/tubepulse/internal/queue"
)

// Result summarizes one ScheduleDue pass.
type Result struct {
	Scanned   int `json:"scanned"`
	Enqueued  int `json:"enqueued"`
	Coalesced int `json:"coalesced"`
	Basic     int `json:"basic"`
	Analytics int `json:"analytics"`
	Full      int `json:"full"`
}

// DiscoverResult summarizes one discovery pass for an owner.
type DiscoverResult struct {
	Listed     int `json:"listed"`
	Registered int `json:"registered"`
	Enqueued   int `json:"enqueued"`
}

// Scheduler enqueues due sync work.
type Scheduler struct {
	catalog   *catalog.Catalog
	analytics *analytics.Cache
	queue     *queue.Queue
	provider  provider.Provider
	creds     provider.CredentialSource
	cfg       config.SchedulerConfig
	clock     clock.Clock

	// runMu keeps periodic runs from overlapping.
	runMu sync.Mutex
}

// New creates a Scheduler. p and creds are only needed for DiscoverOwner.
func New(
	cat *catalog.Catalog,
	cache *analytics.Cache,
	q *queue.Queue,
	p provider.Provider,
	creds provider.CredentialSource,
	cfg config.SchedulerConfig,
	clk clock.Clock,
) *Scheduler {
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Scheduler{
		catalog:   cat,
		analytics: cache,
		queue:     q,
		provider:  p,
		creds:     creds,
		cfg:       cfg,
		clock:     clk,
	}
}

// BasicRefreshInterval is how old basic metrics of a tier may get.
func (s *Scheduler) BasicRefreshInterval(tier models.Tier) time.Duration {
	switch tier {
	case models.TierHot:
		return s.cfg.HotInterval
	case models.TierWarm:
		return s.cfg.WarmInterval
	default:
		return s.cfg.ColdInterval
	}
}

// Run is the periodic task: discovery for the configured owners (when
// enabled), then ScheduleDue. Discovery failures for one owner are logged
// and do not stop the pass.
func (s *Scheduler) Run(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	ctx = logging.ContextWithNewCorrelationID(ctx)
	if s.cfg.DiscoveryEnabled {
		for _, owner := range s.cfg.Owners {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if _, err := s.DiscoverOwner(ctx, owner); err != nil {
				logging.Ctx(ctx).Warn().Err(err).Str("owner_id", owner).Msg("Video discovery failed")
			}
		}
	}

	_, err := s.ScheduleDue(ctx)
	return err
}

// ScheduleDue walks every non-deleted video in ID order and enqueues the
// work that is due: basic when LastSyncedAt is unset or older than the
// tier's interval, analytics when the cached entry is stale, expired or
// absent, full when both are due.
func (s *Scheduler) ScheduleDue(ctx context.Context) (Result, error) {
	start := time.Now()
	var res Result
	err := s.scheduleDue(ctx, &res)
	metrics.RecordSchedulerRun(time.Since(start), res.Scanned, err)

	ev := logging.Ctx(ctx).Info()
	if err != nil {
		ev = logging.Ctx(ctx).Error().Err(err)
	}
	ev.Int("scanned", res.Scanned).
		Int("enqueued", res.Enqueued).
		Int("coalesced", res.Coalesced).
		Dur("duration", time.Since(start)).
		Msg("Scheduler pass finished")
	return res, err
}

func (s *Scheduler) scheduleDue(ctx context.Context, res *Result) error {
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := s.catalog.ActivePage(ctx, after, s.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("list active videos: %w", err)
		}
		if len(page) == 0 {
			return nil
		}

		ids := make([]string, len(page))
		for i, rec := range page {
			ids[i] = rec.ID
		}
		entries, err := s.analytics.GetMany(ctx, ids)
		if err != nil {
			return fmt.Errorf("load analytics entries: %w", err)
		}

		now := s.clock.Now()
		for _, rec := range page {
			res.Scanned++
			syncType, due := s.dueSyncType(rec, entries[rec.ID], now)
			if !due {
				continue
			}
			_, coalesced, err := s.queue.Enqueue(ctx, rec.ID, syncType, rec.PerformanceTier.QueuePriority(), nil)
			if err != nil {
				return fmt.Errorf("enqueue %s for video %s: %w", syncType, rec.ID, err)
			}
			if coalesced {
				res.Coalesced++
				continue
			}
			res.Enqueued++
			switch syncType {
			case models.SyncBasic:
				res.Basic++
			case models.SyncAnalytics:
				res.Analytics++
			case models.SyncFull:
				res.Full++
			}
		}

		after = page[len(page)-1].ID
		if len(page) < s.cfg.BatchSize {
			return nil
		}
	}
}

// dueSyncType reports which kind of sync rec needs at now, if any.
func (s *Scheduler) dueSyncType(rec *models.VideoRecord, entry *models.AnalyticsCacheEntry, now time.Time) (models.SyncType, bool) {
	basicDue := rec.LastSyncedAt == nil || now.Sub(*rec.LastSyncedAt) > s.BasicRefreshInterval(rec.PerformanceTier)
	analyticsDue := s.analytics.FreshnessAt(entry, now).NeedsRefresh()

	switch {
	case basicDue && analyticsDue:
		return models.SyncFull, true
	case basicDue:
		return models.SyncBasic, true
	case analyticsDue:
		return models.SyncAnalytics, true
	default:
		return "", false
	}
}

// Discover registers externalIDs for ownerID. Each video that has never been
// synced, whether its stub is new or left over from an earlier discovery
// whose sync did not complete, gets an urgent full sync. Synced videos are
// left to ScheduleDue.
func (s *Scheduler) Discover(ctx context.Context, ownerID string, externalIDs []string) (DiscoverResult, error) {
	res := DiscoverResult{Listed: len(externalIDs)}
	for _, ext := range externalIDs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rec, created, err := s.catalog.Register(ctx, ownerID, ext)
		if err != nil {
			return res, err
		}
		if created {
			res.Registered++
		}
		if rec.LastSyncedAt != nil || rec.IsDeleted {
			continue
		}
		if _, coalesced, err := s.queue.Enqueue(ctx, rec.ID, models.SyncFull, models.PriorityUrgent, nil); err != nil {
			return res, fmt.Errorf("enqueue discovery sync for video %s: %w", rec.ID, err)
		} else if !coalesced {
			res.Enqueued++
		}
	}

	metrics.DiscoveredVideos.Add(float64(res.Registered))
	if res.Registered > 0 || res.Enqueued > 0 {
		logging.Ctx(ctx).Info().
			Str("owner_id", ownerID).
			Int("listed", res.Listed).
			Int("registered", res.Registered).
			Int("enqueued", res.Enqueued).
			Msg("Discovered videos awaiting first sync")
	}
	return res, nil
}

// DiscoverOwner lists the owner's videos at the provider and registers the
// new ones.
func (s *Scheduler) DiscoverOwner(ctx context.Context, ownerID string) (DiscoverResult, error) {
	if s.provider == nil || s.creds == nil {
		return DiscoverResult{}, fmt.Errorf("discovery for owner %s: no provider configured", ownerID)
	}
	cred, err := s.creds.CredentialFor(ctx, ownerID)
	if err != nil {
		return DiscoverResult{}, fmt.Errorf("discovery for owner %s: %w", ownerID, err)
	}
	ids, err := s.provider.ListVideos(ctx, cred)
	if err != nil {
		return DiscoverResult{}, fmt.Errorf("list videos of owner %s: %w", ownerID, err)
	}
	return s.Discover(ctx, ownerID, ids)
}
