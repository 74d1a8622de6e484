// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range tableCreationQueries {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// No secondary indexes on columns that are updated in place: DuckDB turns
// such updates into delete+insert, which trips unique constraints under
// concurrent writers. Tags and breakdowns are JSON text for the same reason.
var tableCreationQueries = []string{
	`CREATE TABLE IF NOT EXISTS videos (
		id VARCHAR PRIMARY KEY,
		owner_id VARCHAR NOT NULL,
		external_id VARCHAR NOT NULL,
		title VARCHAR NOT NULL DEFAULT '',
		description VARCHAR NOT NULL DEFAULT '',
		published_at TIMESTAMP,
		duration_seconds INTEGER NOT NULL DEFAULT 0,
		thumbnail_url VARCHAR NOT NULL DEFAULT '',
		category VARCHAR NOT NULL DEFAULT '',
		tags_json VARCHAR NOT NULL DEFAULT '[]',
		view_count BIGINT NOT NULL DEFAULT 0,
		like_count BIGINT NOT NULL DEFAULT 0,
		comment_count BIGINT NOT NULL DEFAULT 0,
		share_count BIGINT NOT NULL DEFAULT 0,
		performance_score DOUBLE NOT NULL DEFAULT 0,
		performance_tier VARCHAR NOT NULL DEFAULT 'COLD',
		engagement_rate DOUBLE NOT NULL DEFAULT 0,
		view_velocity DOUBLE NOT NULL DEFAULT 0,
		last_synced_at TIMESTAMP,
		sync_priority INTEGER NOT NULL DEFAULT 3,
		is_deleted BOOLEAN NOT NULL DEFAULT false,
		deleted_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (owner_id, external_id)
	)`,

	`CREATE TABLE IF NOT EXISTS analytics_cache (
		video_id VARCHAR PRIMARY KEY,
		watch_time_minutes DOUBLE NOT NULL DEFAULT 0,
		average_view_duration DOUBLE NOT NULL DEFAULT 0,
		retention_rate DOUBLE NOT NULL DEFAULT 0,
		click_through_rate DOUBLE NOT NULL DEFAULT 0,
		impressions BIGINT NOT NULL DEFAULT 0,
		estimated_revenue DOUBLE NOT NULL DEFAULT 0,
		cpm DOUBLE NOT NULL DEFAULT 0,
		growth_rate DOUBLE NOT NULL DEFAULT 0,
		subscriber_delta BIGINT NOT NULL DEFAULT 0,
		traffic_sources_json VARCHAR NOT NULL DEFAULT '[]',
		demographics_json VARCHAR NOT NULL DEFAULT '[]',
		cached_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL
	)`,

	`CREATE SEQUENCE IF NOT EXISTS sync_queue_seq START 1`,

	`CREATE TABLE IF NOT EXISTS sync_queue_items (
		id VARCHAR PRIMARY KEY,
		video_id VARCHAR NOT NULL,
		sync_type VARCHAR NOT NULL,
		priority VARCHAR NOT NULL,
		priority_rank INTEGER NOT NULL,
		scheduled_at TIMESTAMP NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 3,
		last_error VARCHAR NOT NULL DEFAULT '',
		status VARCHAR NOT NULL DEFAULT 'pending',
		claimed_by VARCHAR NOT NULL DEFAULT '',
		claimed_at TIMESTAMP,
		seq BIGINT NOT NULL DEFAULT nextval('sync_queue_seq'),
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS sync_queue_active (
		video_id VARCHAR NOT NULL,
		sync_type VARCHAR NOT NULL,
		item_id VARCHAR NOT NULL,
		PRIMARY KEY (video_id, sync_type)
	)`,
}
