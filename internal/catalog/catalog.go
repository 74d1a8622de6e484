// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

// Package catalog owns video records. Every basic-metrics write goes through
// UpsertBasic or UpdateBasic, which recompute the performance score and tier in the same
// operation so a stored tier always matches its stored metrics.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tomtom215/tubepulse/internal/clock"
	"github.com/tomtom215/tubepulse/internal/logging"
	"github.com/tomtom215/tubepulse/internal/metrics"
	"github.com/tomtom215/tubepulse/internal/models"
	"github.com/tomtom215/tubepulse/internal/scoring"
	"github.com/tomtom215/tubepulse/internal/store"
)

// ErrInvalidInput is returned for empty keys, negative counters and unknown
// filter values.
var ErrInvalidInput = errors.New("catalog: invalid input")

// Catalog is the video catalog service.
type Catalog struct {
	videos store.VideoRepository
	scorer *scoring.Scorer
	clock  clock.Clock
}

// New creates a Catalog over repo.
func New(repo store.VideoRepository, scorer *scoring.Scorer, clk clock.Clock) *Catalog {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Catalog{videos: repo, scorer: scorer, clock: clk}
}

// UpsertBasic creates or merges the record for (ownerID, externalID) with
// freshly fetched basic metrics and metadata, scoring it against the owner's
// current velocity range.
func (c *Catalog) UpsertBasic(ctx context.Context, ownerID, externalID string, m models.BasicMetrics, md models.VideoMetadata) (*models.VideoRecord, error) {
	if ownerID == "" || externalID == "" {
		return nil, fmt.Errorf("%w: owner and external id are required", ErrInvalidInput)
	}
	if err := validateMetrics(m); err != nil {
		return nil, fmt.Errorf("%w for %s/%s", err, ownerID, externalID)
	}

	rec, err := store.RetryOnContention(ctx, func() (*models.VideoRecord, error) {
		u, err := c.score(ctx, ownerID, m, md)
		if err != nil {
			return nil, err
		}
		u.NewID = uuid.NewString()
		u.OwnerID = ownerID
		u.ExternalID = externalID
		return c.videos.UpsertBasic(ctx, u)
	})
	if err != nil {
		return nil, fmt.Errorf("upsert video %s/%s: %w", ownerID, externalID, err)
	}
	c.recordScored(ctx, rec)
	return rec, nil
}

// UpdateBasic is UpsertBasic for a record that must already exist. It never
// recreates a purged record; a missing one is store.ErrNotFound.
func (c *Catalog) UpdateBasic(ctx context.Context, videoID string, m models.BasicMetrics, md models.VideoMetadata) (*models.VideoRecord, error) {
	if videoID == "" {
		return nil, fmt.Errorf("%w: video id is required", ErrInvalidInput)
	}
	if err := validateMetrics(m); err != nil {
		return nil, fmt.Errorf("%w for %s", err, videoID)
	}

	rec, err := store.RetryOnContention(ctx, func() (*models.VideoRecord, error) {
		cur, err := c.videos.Get(ctx, videoID)
		if err != nil {
			return nil, err
		}
		u, err := c.score(ctx, cur.OwnerID, m, md)
		if err != nil {
			return nil, err
		}
		return c.videos.UpdateBasic(ctx, videoID, u)
	})
	if err != nil {
		return nil, fmt.Errorf("update video %s: %w", videoID, err)
	}
	c.recordScored(ctx, rec)
	return rec, nil
}

func validateMetrics(m models.BasicMetrics) error {
	if m.ViewCount < 0 || m.LikeCount < 0 || m.CommentCount < 0 || m.ShareCount < 0 {
		return fmt.Errorf("%w: negative counter", ErrInvalidInput)
	}
	return nil
}

// score rates m against the owner's current velocity range.
func (c *Catalog) score(ctx context.Context, ownerID string, m models.BasicMetrics, md models.VideoMetadata) (store.VideoUpsert, error) {
	ref, err := c.videos.VelocityRange(ctx, ownerID)
	if err != nil {
		return store.VideoUpsert{}, err
	}
	now := c.clock.Now()
	res := c.scorer.Score(scoring.Input{
		Metrics:     m,
		PublishedAt: md.PublishedAt,
		Now:         now,
		Reference:   ref,
	})
	return store.VideoUpsert{
		Metrics:        m,
		Metadata:       md,
		Score:          res.Score,
		Tier:           res.Tier,
		EngagementRate: res.EngagementRate,
		ViewVelocity:   res.Velocity,
		SyncedAt:       now,
	}, nil
}

func (c *Catalog) recordScored(ctx context.Context, rec *models.VideoRecord) {
	metrics.VideosScored.WithLabelValues(string(rec.PerformanceTier)).Inc()
	logging.Ctx(ctx).Debug().
		Str("video_id", rec.ID).
		Float64("score", rec.PerformanceScore).
		Str("tier", string(rec.PerformanceTier)).
		Msg("Video metrics updated")
}

// Register makes sure a record exists for (ownerID, externalID), creating a
// never-synced COLD stub if needed. created reports whether it was new.
func (c *Catalog) Register(ctx context.Context, ownerID, externalID string) (*models.VideoRecord, bool, error) {
	if ownerID == "" || externalID == "" {
		return nil, false, fmt.Errorf("%w: owner and external id are required", ErrInvalidInput)
	}

	type result struct {
		rec     *models.VideoRecord
		created bool
	}
	res, err := store.RetryOnContention(ctx, func() (result, error) {
		rec, created, err := c.videos.InsertStub(ctx, uuid.NewString(), ownerID, externalID, c.clock.Now())
		return result{rec, created}, err
	})
	if err != nil {
		return nil, false, fmt.Errorf("register video %s/%s: %w", ownerID, externalID, err)
	}
	return res.rec, res.created, nil
}

// Get returns the record with the given ID, deleted or not.
func (c *Catalog) Get(ctx context.Context, videoID string) (*models.VideoRecord, error) {
	return c.videos.Get(ctx, videoID)
}

// GetByExternalID looks a record up by its natural key.
func (c *Catalog) GetByExternalID(ctx context.Context, ownerID, externalID string) (*models.VideoRecord, error) {
	return c.videos.GetByExternalID(ctx, ownerID, externalID)
}

// ListByOwner lists an owner's records, newest publication first.
func (c *Catalog) ListByOwner(ctx context.Context, ownerID string, f store.ListFilter) ([]*models.VideoRecord, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", ErrInvalidInput)
	}
	if f.Tier != "" && !f.Tier.Valid() {
		return nil, fmt.Errorf("%w: unknown tier %q", ErrInvalidInput, f.Tier)
	}
	if f.Limit < 0 || f.Offset < 0 {
		return nil, fmt.Errorf("%w: negative limit or offset", ErrInvalidInput)
	}
	return c.videos.ListByOwner(ctx, ownerID, f)
}

// ActivePage returns up to limit non-deleted records with IDs after afterID.
func (c *Catalog) ActivePage(ctx context.Context, afterID string, limit int) ([]*models.VideoRecord, error) {
	return c.videos.ListActiveAfter(ctx, afterID, limit)
}

// MarkDeleted soft-deletes a record. Marking an already deleted record is a
// no-op that keeps the original DeletedAt.
func (c *Catalog) MarkDeleted(ctx context.Context, videoID string) error {
	_, err := store.RetryOnContention(ctx, func() (struct{}, error) {
		return struct{}{}, c.videos.MarkDeleted(ctx, videoID, c.clock.Now())
	})
	if err != nil {
		return fmt.Errorf("mark video %s deleted: %w", videoID, err)
	}
	metrics.VideosDeleted.Inc()
	logging.Ctx(ctx).Info().Str("video_id", videoID).Msg("Video marked deleted")
	return nil
}

// Purge hard-deletes a record along with its analytics entry and queue items.
func (c *Catalog) Purge(ctx context.Context, videoID string) error {
	_, err := store.RetryOnContention(ctx, func() (struct{}, error) {
		return struct{}{}, c.videos.Purge(ctx, videoID)
	})
	if err != nil {
		return fmt.Errorf("purge video %s: %w", videoID, err)
	}
	logging.Ctx(ctx).Info().Str("video_id", videoID).Msg("Video purged")
	return nil
}
