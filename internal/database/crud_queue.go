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
	"time"

	"github.com/tomtom215/tubepulse/internal/models"
	"github.com/tomtom215/tubepulse/internal/store"
)

type queueRepo DB

const queueColumns = `id, video_id, sync_type, priority, scheduled_at, attempts, max_attempts,
	last_error, status, claimed_by, claimed_at, seq, created_at, updated_at, completed_at`

func scanQueueItem(row rowScanner) (*models.SyncQueueItem, error) {
	var (
		it                         models.SyncQueueItem
		syncType, priority, status string
		claimedAt, completedAt     sql.NullTime
	)
	err := row.Scan(
		&it.ID, &it.VideoID, &syncType, &priority, &it.ScheduledAt, &it.Attempts, &it.MaxAttempts,
		&it.LastError, &status, &it.ClaimedBy, &claimedAt, &it.Seq, &it.CreatedAt, &it.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	it.SyncType = models.SyncType(syncType)
	it.Priority = models.Priority(priority)
	it.Status = models.Status(status)
	it.ScheduledAt = it.ScheduledAt.UTC()
	it.CreatedAt = it.CreatedAt.UTC()
	it.UpdatedAt = it.UpdatedAt.UTC()
	it.ClaimedAt = timePtr(claimedAt)
	it.CompletedAt = timePtr(completedAt)
	return &it, nil
}

func (r *queueRepo) Enqueue(ctx context.Context, n store.NewQueueItem) (*models.SyncQueueItem, bool, error) {
	maxAttempts := n.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = models.DefaultMaxAttempts
	}

	var (
		out     *models.SyncQueueItem
		created bool
	)
	err := (*DB)(r).withTx(ctx, "enqueue", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO sync_queue_active (video_id, sync_type, item_id)
			VALUES (?, ?, ?) ON CONFLICT DO NOTHING`, n.VideoID, string(n.SyncType), n.ID)
		if err != nil {
			return err
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return err
		}

		if inserted == 0 {
			out, err = scanQueueItem(tx.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM sync_queue_items
				WHERE id = (SELECT item_id FROM sync_queue_active WHERE video_id = ? AND sync_type = ?)`,
				n.VideoID, string(n.SyncType)))
			return err
		}

		created = true
		out, err = scanQueueItem(tx.QueryRowContext(ctx, `INSERT INTO sync_queue_items (
			id, video_id, sync_type, priority, priority_rank, scheduled_at, max_attempts, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', ?, ?)
		RETURNING `+queueColumns,
			n.ID, n.VideoID, string(n.SyncType), string(n.Priority), n.Priority.Rank(), n.ScheduledAt.UTC(),
			maxAttempts, n.CreatedAt.UTC(), n.CreatedAt.UTC()))
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

// ClaimNext is a single conditional UPDATE so two workers can never claim
// the same row; the loser of a race gets a DuckDB conflict (ErrContention).
func (r *queueRepo) ClaimNext(ctx context.Context, workerID string, now time.Time) (*models.SyncQueueItem, error) {
	it, err := scanQueueItem(r.conn.QueryRowContext(ctx, `UPDATE sync_queue_items
		SET status = 'processing', claimed_by = ?, claimed_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM sync_queue_items
			WHERE status = 'pending' AND scheduled_at <= ?
			ORDER BY priority_rank, scheduled_at, seq
			LIMIT 1
		) AND status = 'pending'
		RETURNING `+queueColumns,
		workerID, now.UTC(), now.UTC(), now.UTC()))
	if err != nil {
		return nil, mapError("claim queue item", err)
	}
	return it, nil
}

func (r *queueRepo) Get(ctx context.Context, id string) (*models.SyncQueueItem, error) {
	it, err := scanQueueItem(r.conn.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM sync_queue_items WHERE id = ?`, id))
	if err != nil {
		return nil, mapError("get queue item", err)
	}
	return it, nil
}

// transition applies update to an item processing under workerID's claim
// inside tx and explains a miss as ErrNotFound or ErrNotActive.
func transition(ctx context.Context, tx *sql.Tx, id, workerID, update string, args ...interface{}) (*models.SyncQueueItem, error) {
	args = append(args, id, workerID)
	it, err := scanQueueItem(tx.QueryRowContext(ctx,
		`UPDATE sync_queue_items SET `+update+`
		WHERE id = ? AND status = 'processing' AND claimed_by = ?
		RETURNING `+queueColumns,
		args...))
	if err == nil {
		return it, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	var status, claimedBy string
	if err := tx.QueryRowContext(ctx, `SELECT status, claimed_by FROM sync_queue_items WHERE id = ?`, id).Scan(&status, &claimedBy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("queue item %s: %w", id, store.ErrNotFound)
		}
		return nil, err
	}
	if status == string(models.StatusProcessing) {
		return nil, fmt.Errorf("queue item %s is claimed by %q, not %q: %w", id, claimedBy, workerID, store.ErrNotActive)
	}
	return nil, fmt.Errorf("queue item %s is %s: %w", id, status, store.ErrNotActive)
}

func releaseSlot(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM sync_queue_active WHERE item_id = ?`, id)
	return err
}

func (r *queueRepo) Complete(ctx context.Context, id, workerID string, at time.Time) (*models.SyncQueueItem, error) {
	var out *models.SyncQueueItem
	err := (*DB)(r).withTx(ctx, "complete queue item", func(tx *sql.Tx) error {
		var err error
		out, err = transition(ctx, tx, id, workerID,
			`status = 'completed', completed_at = ?, updated_at = ?`, at.UTC(), at.UTC())
		if err != nil {
			return err
		}
		return releaseSlot(ctx, tx, id)
	})
	return out, err
}

func (r *queueRepo) Fail(ctx context.Context, id, workerID, lastError string, retryAt *time.Time, at time.Time) (*models.SyncQueueItem, error) {
	var out *models.SyncQueueItem
	err := (*DB)(r).withTx(ctx, "fail queue item", func(tx *sql.Tx) error {
		var err error
		if retryAt != nil {
			out, err = transition(ctx, tx, id, workerID,
				`attempts = attempts + 1, last_error = ?, status = 'pending', scheduled_at = ?,
				claimed_by = '', claimed_at = NULL, updated_at = ?`,
				lastError, retryAt.UTC(), at.UTC())
			return err
		}
		out, err = transition(ctx, tx, id, workerID,
			`attempts = attempts + 1, last_error = ?, status = 'failed', completed_at = ?, updated_at = ?`,
			lastError, at.UTC(), at.UTC())
		if err != nil {
			return err
		}
		return releaseSlot(ctx, tx, id)
	})
	return out, err
}

func (r *queueRepo) Release(ctx context.Context, id, workerID string, at time.Time) (*models.SyncQueueItem, error) {
	var out *models.SyncQueueItem
	err := (*DB)(r).withTx(ctx, "release queue item", func(tx *sql.Tx) error {
		var err error
		out, err = transition(ctx, tx, id, workerID,
			`status = 'pending', claimed_by = '', claimed_at = NULL, updated_at = ?`, at.UTC())
		return err
	})
	return out, err
}

func (r *queueRepo) ReclaimStale(ctx context.Context, cutoff, at time.Time) (int, error) {
	res, err := r.conn.ExecContext(ctx, `UPDATE sync_queue_items
		SET status = 'pending', claimed_by = '', claimed_at = NULL, updated_at = ?
		WHERE status = 'processing' AND claimed_at < ?`, at.UTC(), cutoff.UTC())
	if err != nil {
		return 0, mapError("reclaim stale items", err)
	}
	n, err := res.RowsAffected()
	return int(n), mapError("reclaim stale items", err)
}

func (r *queueRepo) PurgeTerminal(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.conn.ExecContext(ctx, `DELETE FROM sync_queue_items
		WHERE status IN ('completed', 'failed') AND updated_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, mapError("purge terminal items", err)
	}
	n, err := res.RowsAffected()
	return int(n), mapError("purge terminal items", err)
}

func (r *queueRepo) Stats(ctx context.Context) (models.QueueStats, error) {
	var st models.QueueStats
	rows, err := r.conn.QueryContext(ctx, `SELECT status, COUNT(*) FROM sync_queue_items GROUP BY status`)
	if err != nil {
		return st, mapError("queue stats", err)
	}
	defer closeWithLog(rows, "rows")

	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return st, mapError("queue stats", err)
		}
		switch models.Status(status) {
		case models.StatusPending:
			st.Pending = count
		case models.StatusProcessing:
			st.Processing = count
		case models.StatusCompleted:
			st.Completed = count
		case models.StatusFailed:
			st.Failed = count
		}
	}
	return st, mapError("queue stats", rows.Err())
}
