// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

// Package worker runs the fixed-size pool that drains the sync queue.
//
// Each worker claims the next due item, fetches from the provider according
// to the item's sync type, writes the results through the catalog and the
// analytics cache, and reports the outcome back to the queue:
//
//   - success: ReportSuccess
//   - provider NotFound: the video is soft-deleted, then ReportSuccess
//   - video purged mid-item: nothing is written, then ReportSuccess
//   - claim lost to a reclaim: the report is dropped
//   - shutdown mid-item: Release (no attempt counted)
//   - any other error: ReportFailure, which retries or fails the item
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/tubepulse/internal/analytics"
	"github.com/tomtom215/tubepulse/internal/catalog"
	"github.com/tomtom215/tubepulse/internal/config"
	"github.com/tomtom215/tubepulse/internal/logging"
	"github.com/tomtom215/tubepulse/internal/metrics"
	"github.com/tomtom215/tubepulse/internal/models"
	"github.com/tomtom215/tubepulse/internal/provider"
	"github.com/tomtom215/tubepulse/internal/queue"
	"github.com/tomtom215/tubepulse/internal/store"
)

// Job outcome labels for metrics.
const (
	outcomeSuccess   = "success"
	outcomeGone      = "gone"
	outcomeNotFound  = "not_found"
	outcomeSkipped   = "skipped"
	outcomeReleased  = "released"
	outcomeLostClaim = "lost_claim"
)

// Pool is the sync worker pool.
type Pool struct {
	queue     *queue.Queue
	catalog   *catalog.Catalog
	analytics *analytics.Cache
	provider  provider.Provider
	creds     provider.CredentialSource
	cfg       config.WorkersConfig
}

// NewPool creates a Pool. p is normally a *provider.Guarded so that every
// worker shares one fetch budget.
func NewPool(
	q *queue.Queue,
	cat *catalog.Catalog,
	cache *analytics.Cache,
	p provider.Provider,
	creds provider.CredentialSource,
	cfg config.WorkersConfig,
) *Pool {
	if cfg.Count < 1 {
		cfg.Count = 1
	}
	if cfg.IdleBackoff <= 0 {
		cfg.IdleBackoff = 2 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = time.Minute
	}
	return &Pool{
		queue:     q,
		catalog:   cat,
		analytics: cache,
		provider:  p,
		creds:     creds,
		cfg:       cfg,
	}
}

// Run starts cfg.Count workers and blocks until ctx is canceled and every
// worker has finished its current item.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Count; i++ {
		workerID := fmt.Sprintf("worker-%d-%s", i, uuid.NewString()[:8])
		logger := logging.WithComponent("worker").With().Str("worker_id", workerID).Logger()
		workerCtx := logging.ContextWithLogger(ctx, logger)
		g.Go(func() error {
			p.loop(workerCtx, workerID)
			return nil
		})
	}
	logging.Info().Int("workers", p.cfg.Count).Msg("Sync worker pool started")
	err := g.Wait()
	logging.Info().Msg("Sync worker pool stopped")
	return err
}

func (p *Pool) loop(ctx context.Context, workerID string) {
	for ctx.Err() == nil {
		processed, err := p.ProcessNext(ctx, workerID)
		if err != nil && ctx.Err() == nil {
			logging.Ctx(ctx).Error().Err(err).Msg("Sync worker error")
		}
		if processed && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(p.cfg.IdleBackoff):
		}
	}
}

// ProcessNext claims and processes one item. processed is false when the
// queue had nothing due.
func (p *Pool) ProcessNext(ctx context.Context, workerID string) (processed bool, err error) {
	it, err := p.queue.DequeueNext(ctx, workerID)
	if errors.Is(err, queue.ErrQueueEmpty) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	ctx = logging.ContextWithNewCorrelationID(ctx)
	start := time.Now()
	outcome, err := p.process(ctx, it, workerID)
	metrics.RecordSyncJob(it.SyncType, time.Since(start), outcome)

	logging.Ctx(ctx).Debug().
		Str("item_id", it.ID).
		Str("video_id", it.VideoID).
		Str("sync_type", string(it.SyncType)).
		Str("outcome", outcome).
		Dur("duration", time.Since(start)).
		Msg("Sync item processed")
	return true, err
}

// process runs one claimed item to a reported outcome.
func (p *Pool) process(ctx context.Context, it *models.SyncQueueItem, workerID string) (string, error) {
	rec, err := p.catalog.Get(ctx, it.VideoID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// Purged while queued.
		return outcomeSkipped, p.finish(ctx, it, workerID)
	case err != nil:
		return p.fail(ctx, it, workerID, err)
	case rec.IsDeleted:
		return outcomeSkipped, p.finish(ctx, it, workerID)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	err = p.sync(fetchCtx, rec, it.SyncType)
	cancel()

	switch {
	case err == nil:
		return outcomeSuccess, p.finish(ctx, it, workerID)
	case ctx.Err() != nil:
		// Shutdown, not the item's fault.
		relCtx := context.WithoutCancel(ctx)
		if _, rerr := p.queue.Release(relCtx, it.ID, workerID); rerr != nil && !claimLost(rerr) {
			return outcomeReleased, fmt.Errorf("release item %s: %w", it.ID, rerr)
		}
		return outcomeReleased, nil
	case errors.Is(err, errVideoGone):
		return outcomeGone, p.finish(ctx, it, workerID)
	case provider.IsNotFound(err):
		derr := p.catalog.MarkDeleted(ctx, rec.ID)
		if errors.Is(derr, store.ErrNotFound) {
			return outcomeGone, p.finish(ctx, it, workerID)
		}
		if derr != nil {
			return p.fail(ctx, it, workerID, derr)
		}
		p.analytics.Invalidate(rec.ID)
		return outcomeNotFound, p.finish(ctx, it, workerID)
	default:
		return p.fail(ctx, it, workerID, err)
	}
}

// errVideoGone means the record was purged while its item was in flight.
var errVideoGone = errors.New("video purged during sync")

// sync fetches and stores what syncType asks for. For a full sync the basic
// step runs first so analytics are cached with the freshly scored tier.
// Writes only touch an existing record; a purge during the fetch yields
// errVideoGone and nothing is stored.
func (p *Pool) sync(ctx context.Context, rec *models.VideoRecord, syncType models.SyncType) error {
	cred, err := p.creds.CredentialFor(ctx, rec.OwnerID)
	if err != nil {
		return err
	}

	tier := rec.PerformanceTier
	if syncType.IncludesBasic() {
		snap, err := p.provider.FetchBasic(ctx, cred, rec.ExternalID)
		if err != nil {
			return err
		}
		updated, err := p.catalog.UpdateBasic(ctx, rec.ID, snap.Metrics, snap.Metadata)
		if errors.Is(err, store.ErrNotFound) {
			return errVideoGone
		}
		if err != nil {
			return err
		}
		tier = updated.PerformanceTier
	}

	if syncType.IncludesAnalytics() {
		detailed, err := p.provider.FetchDetailed(ctx, cred, rec.ExternalID)
		if err != nil {
			return err
		}
		if _, err := p.catalog.Get(ctx, rec.ID); errors.Is(err, store.ErrNotFound) {
			return errVideoGone
		} else if err != nil {
			return err
		}
		if _, err := p.analytics.PutForTier(ctx, rec.ID, *detailed, tier); err != nil {
			return err
		}
	}
	return nil
}

// claimLost reports whether err means the item is no longer ours to
// report on: reclaimed and handed to another worker, or purged with its
// video.
func claimLost(err error) bool {
	return errors.Is(err, store.ErrNotActive) || errors.Is(err, store.ErrNotFound)
}

func (p *Pool) finish(ctx context.Context, it *models.SyncQueueItem, workerID string) error {
	_, err := p.queue.ReportSuccess(ctx, it.ID, workerID)
	if claimLost(err) {
		logging.Ctx(ctx).Warn().Str("item_id", it.ID).Err(err).Msg("Sync item claim lost before completion")
		return nil
	}
	return err
}

func (p *Pool) fail(ctx context.Context, it *models.SyncQueueItem, workerID string, cause error) (string, error) {
	outcome := provider.KindOf(cause).String()
	_, err := p.queue.ReportFailure(ctx, it.ID, workerID, cause)
	if claimLost(err) {
		logging.Ctx(ctx).Warn().Str("item_id", it.ID).Msg("Sync item claim lost before failure report")
		return outcomeLostClaim, nil
	}
	return outcome, err
}
