// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tubepulse/internal/models"
	"github.com/tomtom215/tubepulse/internal/store"
)

type videoRepo DB

const videoColumns = `id, owner_id, external_id, title, description, published_at,
	duration_seconds, thumbnail_url, category, tags_json,
	view_count, like_count, comment_count, share_count,
	performance_score, performance_tier, engagement_rate, view_velocity,
	last_synced_at, sync_priority, is_deleted, deleted_at, created_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanVideo(row rowScanner) (*models.VideoRecord, error) {
	var (
		v                                models.VideoRecord
		tier, tagsJSON                   string
		published, lastSynced, deletedAt sql.NullTime
	)
	err := row.Scan(
		&v.ID, &v.OwnerID, &v.ExternalID, &v.Title, &v.Description, &published,
		&v.DurationSeconds, &v.ThumbnailURL, &v.Category, &tagsJSON,
		&v.ViewCount, &v.LikeCount, &v.CommentCount, &v.ShareCount,
		&v.PerformanceScore, &tier, &v.EngagementRate, &v.ViewVelocity,
		&lastSynced, &v.SyncPriority, &v.IsDeleted, &deletedAt, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	v.PerformanceTier = models.Tier(tier)
	if published.Valid {
		v.PublishedAt = published.Time.UTC()
	}
	v.LastSyncedAt = timePtr(lastSynced)
	v.DeletedAt = timePtr(deletedAt)
	v.CreatedAt = v.CreatedAt.UTC()
	v.UpdatedAt = v.UpdatedAt.UTC()
	if err := json.Unmarshal([]byte(tagsJSON), &v.Tags); err != nil {
		return nil, fmt.Errorf("decode tags of %s: %w", v.ID, err)
	}
	if len(v.Tags) == 0 {
		v.Tags = nil
	}
	return &v, nil
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// nullableTime binds the zero time as NULL.
func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func (r *videoRepo) UpsertBasic(ctx context.Context, u store.VideoUpsert) (*models.VideoRecord, error) {
	tags, err := json.Marshal(nonNilStrings(u.Metadata.Tags))
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}

	var out *models.VideoRecord
	err = (*DB)(r).withTx(ctx, "upsert video", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO videos (
			id, owner_id, external_id, title, description, published_at,
			duration_seconds, thumbnail_url, category, tags_json,
			view_count, like_count, comment_count, share_count,
			performance_score, performance_tier, engagement_rate, view_velocity,
			last_synced_at, sync_priority, is_deleted, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, false, ?, ?)
		ON CONFLICT (owner_id, external_id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			published_at = EXCLUDED.published_at,
			duration_seconds = EXCLUDED.duration_seconds,
			thumbnail_url = EXCLUDED.thumbnail_url,
			category = EXCLUDED.category,
			tags_json = EXCLUDED.tags_json,
			view_count = EXCLUDED.view_count,
			like_count = EXCLUDED.like_count,
			comment_count = EXCLUDED.comment_count,
			share_count = EXCLUDED.share_count,
			performance_score = EXCLUDED.performance_score,
			performance_tier = EXCLUDED.performance_tier,
			engagement_rate = EXCLUDED.engagement_rate,
			view_velocity = EXCLUDED.view_velocity,
			last_synced_at = GREATEST(COALESCE(last_synced_at, EXCLUDED.last_synced_at), EXCLUDED.last_synced_at),
			sync_priority = EXCLUDED.sync_priority,
			updated_at = EXCLUDED.updated_at`,
			u.NewID, u.OwnerID, u.ExternalID, u.Metadata.Title, u.Metadata.Description, nullableTime(u.Metadata.PublishedAt),
			u.Metadata.DurationSeconds, u.Metadata.ThumbnailURL, u.Metadata.Category, string(tags),
			u.Metrics.ViewCount, u.Metrics.LikeCount, u.Metrics.CommentCount, u.Metrics.ShareCount,
			u.Score, string(u.Tier), u.EngagementRate, u.ViewVelocity,
			u.SyncedAt.UTC(), u.Tier.SyncPriority(), u.SyncedAt.UTC(), u.SyncedAt.UTC(),
		)
		if err != nil {
			return err
		}
		out, err = scanVideo(tx.QueryRowContext(ctx,
			`SELECT `+videoColumns+` FROM videos WHERE owner_id = ? AND external_id = ?`, u.OwnerID, u.ExternalID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *videoRepo) UpdateBasic(ctx context.Context, id string, u store.VideoUpsert) (*models.VideoRecord, error) {
	tags, err := json.Marshal(nonNilStrings(u.Metadata.Tags))
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}

	var out *models.VideoRecord
	err = (*DB)(r).withTx(ctx, "update video", func(tx *sql.Tx) error {
		var err error
		out, err = scanVideo(tx.QueryRowContext(ctx, `UPDATE videos SET
			title = ?, description = ?, published_at = ?,
			duration_seconds = ?, thumbnail_url = ?, category = ?, tags_json = ?,
			view_count = ?, like_count = ?, comment_count = ?, share_count = ?,
			performance_score = ?, performance_tier = ?, engagement_rate = ?, view_velocity = ?,
			last_synced_at = GREATEST(COALESCE(last_synced_at, ?), ?),
			sync_priority = ?, updated_at = ?
		WHERE id = ?
		RETURNING `+videoColumns,
			u.Metadata.Title, u.Metadata.Description, nullableTime(u.Metadata.PublishedAt),
			u.Metadata.DurationSeconds, u.Metadata.ThumbnailURL, u.Metadata.Category, string(tags),
			u.Metrics.ViewCount, u.Metrics.LikeCount, u.Metrics.CommentCount, u.Metrics.ShareCount,
			u.Score, string(u.Tier), u.EngagementRate, u.ViewVelocity,
			u.SyncedAt.UTC(), u.SyncedAt.UTC(),
			u.Tier.SyncPriority(), u.SyncedAt.UTC(),
			id,
		))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("update video %s: %w", id, store.ErrNotFound)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (r *videoRepo) InsertStub(ctx context.Context, id, ownerID, externalID string, at time.Time) (*models.VideoRecord, bool, error) {
	var (
		out     *models.VideoRecord
		created bool
	)
	err := (*DB)(r).withTx(ctx, "insert video stub", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO videos (
			id, owner_id, external_id, performance_tier, sync_priority, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, external_id) DO NOTHING`,
			id, ownerID, externalID, string(models.TierCold), models.TierCold.SyncPriority(), at.UTC(), at.UTC())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		created = n == 1
		out, err = scanVideo(tx.QueryRowContext(ctx,
			`SELECT `+videoColumns+` FROM videos WHERE owner_id = ? AND external_id = ?`, ownerID, externalID))
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

func (r *videoRepo) Get(ctx context.Context, id string) (*models.VideoRecord, error) {
	v, err := scanVideo(r.conn.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = ?`, id))
	if err != nil {
		return nil, mapError("get video", err)
	}
	return v, nil
}

func (r *videoRepo) GetByExternalID(ctx context.Context, ownerID, externalID string) (*models.VideoRecord, error) {
	v, err := scanVideo(r.conn.QueryRowContext(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE owner_id = ? AND external_id = ?`, ownerID, externalID))
	if err != nil {
		return nil, mapError("get video by external id", err)
	}
	return v, nil
}

func (r *videoRepo) ListByOwner(ctx context.Context, ownerID string, f store.ListFilter) ([]*models.VideoRecord, error) {
	var (
		where = []string{"owner_id = ?"}
		args  = []interface{}{ownerID}
	)
	if !f.IncludeDeleted {
		where = append(where, "NOT is_deleted")
	}
	if f.Tier != "" {
		where = append(where, "performance_tier = ?")
		args = append(args, string(f.Tier))
	}

	query := `SELECT ` + videoColumns + ` FROM videos WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY published_at DESC NULLS LAST, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	if f.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, f.Offset)
	}
	return r.queryVideos(ctx, "list videos by owner", query, args...)
}

func (r *videoRepo) ListActiveAfter(ctx context.Context, afterID string, limit int) ([]*models.VideoRecord, error) {
	return r.queryVideos(ctx, "list active videos",
		`SELECT `+videoColumns+` FROM videos WHERE NOT is_deleted AND id > ? ORDER BY id LIMIT ?`,
		afterID, limit)
}

func (r *videoRepo) queryVideos(ctx context.Context, op, query string, args ...interface{}) ([]*models.VideoRecord, error) {
	rows, err := r.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer closeWithLog(rows, "rows")

	var out []*models.VideoRecord
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, mapError(op, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(op, err)
	}
	return out, nil
}

func (r *videoRepo) VelocityRange(ctx context.Context, ownerID string) (models.VelocityRange, error) {
	var (
		minV, maxV sql.NullFloat64
		count      int
	)
	err := r.conn.QueryRowContext(ctx, `SELECT MIN(view_velocity), MAX(view_velocity), COUNT(*)
		FROM videos
		WHERE owner_id = ? AND NOT is_deleted AND last_synced_at IS NOT NULL`, ownerID).Scan(&minV, &maxV, &count)
	if err != nil {
		return models.VelocityRange{}, mapError("velocity range", err)
	}
	return models.VelocityRange{Min: minV.Float64, Max: maxV.Float64, Count: count}, nil
}

func (r *videoRepo) MarkDeleted(ctx context.Context, id string, at time.Time) error {
	return (*DB)(r).withTx(ctx, "mark video deleted", func(tx *sql.Tx) error {
		var deleted bool
		if err := tx.QueryRowContext(ctx, `SELECT is_deleted FROM videos WHERE id = ?`, id).Scan(&deleted); err != nil {
			return mapError("mark video deleted", err)
		}
		if deleted {
			return nil
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE videos SET is_deleted = true, deleted_at = ?, updated_at = ? WHERE id = ?`,
			at.UTC(), at.UTC(), id)
		return err
	})
}

func (r *videoRepo) Purge(ctx context.Context, id string) error {
	return (*DB)(r).withTx(ctx, "purge video", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM videos WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("purge video %s: %w", id, store.ErrNotFound)
		}
		for _, q := range []string{
			`DELETE FROM analytics_cache WHERE video_id = ?`,
			`DELETE FROM sync_queue_active WHERE video_id = ?`,
			`DELETE FROM sync_queue_items WHERE video_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return err
			}
		}
		return nil
	})
}
