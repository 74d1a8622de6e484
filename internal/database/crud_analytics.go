// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tubepulse/internal/models"
)

type analyticsRepo DB

const analyticsColumns = `video_id, watch_time_minutes, average_view_duration, retention_rate,
	click_through_rate, impressions, estimated_revenue, cpm, growth_rate, subscriber_delta,
	traffic_sources_json, demographics_json, cached_at, expires_at`

func scanAnalytics(row rowScanner) (*models.AnalyticsCacheEntry, error) {
	var (
		e                     models.AnalyticsCacheEntry
		trafficJSON, demoJSON string
	)
	err := row.Scan(
		&e.VideoID, &e.WatchTimeMinutes, &e.AverageViewDuration, &e.RetentionRate,
		&e.ClickThroughRate, &e.Impressions, &e.EstimatedRevenue, &e.CPM, &e.GrowthRate, &e.SubscriberDelta,
		&trafficJSON, &demoJSON, &e.CachedAt, &e.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	e.CachedAt = e.CachedAt.UTC()
	e.ExpiresAt = e.ExpiresAt.UTC()
	if e.TrafficSources, err = decodeBreakdowns(trafficJSON); err != nil {
		return nil, fmt.Errorf("decode traffic sources of %s: %w", e.VideoID, err)
	}
	if e.Demographics, err = decodeBreakdowns(demoJSON); err != nil {
		return nil, fmt.Errorf("decode demographics of %s: %w", e.VideoID, err)
	}
	return &e, nil
}

func decodeBreakdowns(s string) ([]models.Breakdown, error) {
	var out []models.Breakdown
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func encodeBreakdowns(b []models.Breakdown) (string, error) {
	if b == nil {
		b = []models.Breakdown{}
	}
	data, err := json.Marshal(b)
	return string(data), err
}

func (r *analyticsRepo) Get(ctx context.Context, videoID string) (*models.AnalyticsCacheEntry, error) {
	e, err := scanAnalytics(r.conn.QueryRowContext(ctx,
		`SELECT `+analyticsColumns+` FROM analytics_cache WHERE video_id = ?`, videoID))
	if err != nil {
		return nil, mapError("get analytics", err)
	}
	return e, nil
}

func (r *analyticsRepo) Put(ctx context.Context, e *models.AnalyticsCacheEntry) error {
	traffic, err := encodeBreakdowns(e.TrafficSources)
	if err != nil {
		return fmt.Errorf("encode traffic sources: %w", err)
	}
	demo, err := encodeBreakdowns(e.Demographics)
	if err != nil {
		return fmt.Errorf("encode demographics: %w", err)
	}

	_, err = r.conn.ExecContext(ctx, `INSERT INTO analytics_cache (`+analyticsColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (video_id) DO UPDATE SET
			watch_time_minutes = EXCLUDED.watch_time_minutes,
			average_view_duration = EXCLUDED.average_view_duration,
			retention_rate = EXCLUDED.retention_rate,
			click_through_rate = EXCLUDED.click_through_rate,
			impressions = EXCLUDED.impressions,
			estimated_revenue = EXCLUDED.estimated_revenue,
			cpm = EXCLUDED.cpm,
			growth_rate = EXCLUDED.growth_rate,
			subscriber_delta = EXCLUDED.subscriber_delta,
			traffic_sources_json = EXCLUDED.traffic_sources_json,
			demographics_json = EXCLUDED.demographics_json,
			cached_at = EXCLUDED.cached_at,
			expires_at = EXCLUDED.expires_at`,
		e.VideoID, e.WatchTimeMinutes, e.AverageViewDuration, e.RetentionRate,
		e.ClickThroughRate, e.Impressions, e.EstimatedRevenue, e.CPM, e.GrowthRate, e.SubscriberDelta,
		traffic, demo, e.CachedAt.UTC(), e.ExpiresAt.UTC(),
	)
	return mapError("put analytics", err)
}

func (r *analyticsRepo) GetMany(ctx context.Context, videoIDs []string) (map[string]*models.AnalyticsCacheEntry, error) {
	out := make(map[string]*models.AnalyticsCacheEntry, len(videoIDs))
	if len(videoIDs) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(videoIDs)), ", ")
	args := make([]interface{}, len(videoIDs))
	for i, id := range videoIDs {
		args[i] = id
	}

	rows, err := r.conn.QueryContext(ctx,
		`SELECT `+analyticsColumns+` FROM analytics_cache WHERE video_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, mapError("get analytics batch", err)
	}
	defer closeWithLog(rows, "rows")

	for rows.Next() {
		e, err := scanAnalytics(rows)
		if err != nil {
			return nil, mapError("get analytics batch", err)
		}
		out[e.VideoID] = e
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("get analytics batch", err)
	}
	return out, nil
}

func (r *analyticsRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.conn.QueryContext(ctx,
		`DELETE FROM analytics_cache WHERE expires_at < ? RETURNING video_id`, cutoff.UTC())
	if err != nil {
		return nil, mapError("evict analytics", err)
	}
	defer closeWithLog(rows, "rows")

	var deleted []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, mapError("evict analytics", err)
		}
		deleted = append(deleted, id)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("evict analytics", err)
	}
	return deleted, nil
}
