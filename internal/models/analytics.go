// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

package models

import "time"

// Breakdown is one labelled share of a distribution (traffic source, age
// bracket, country, ...). Percentage is 0..100.
type Breakdown struct {
	Label      string  `json:"label"`
	Percentage float64 `json:"percentage"`
}

// DetailedMetrics is the expensive analytics payload of a video.
type DetailedMetrics struct {
	WatchTimeMinutes    float64     `json:"watch_time_minutes"`
	AverageViewDuration float64     `json:"average_view_duration"` // seconds
	RetentionRate       float64     `json:"retention_rate"`
	ClickThroughRate    float64     `json:"click_through_rate"`
	Impressions         int64       `json:"impressions"`
	EstimatedRevenue    float64     `json:"estimated_revenue"`
	CPM                 float64     `json:"cpm"`
	GrowthRate          float64     `json:"growth_rate"`
	SubscriberDelta     int64       `json:"subscriber_delta"`
	TrafficSources      []Breakdown `json:"traffic_sources,omitempty"`
	Demographics        []Breakdown `json:"demographics,omitempty"`
}

// AnalyticsCacheEntry holds the cached detailed metrics of one video.
type AnalyticsCacheEntry struct {
	VideoID string `json:"video_id"`
	DetailedMetrics
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// FreshnessAt derives the freshness of the entry; it is never stored.
func (e *AnalyticsCacheEntry) FreshnessAt(now time.Time, grace time.Duration) Freshness {
	switch {
	case now.Before(e.ExpiresAt):
		return FreshnessFresh
	case now.Before(e.ExpiresAt.Add(grace)):
		return FreshnessStale
	default:
		return FreshnessExpired
	}
}

// Clone returns a deep copy.
func (e *AnalyticsCacheEntry) Clone() *AnalyticsCacheEntry {
	if e == nil {
		return nil
	}
	c := *e
	c.TrafficSources = append([]Breakdown(nil), e.TrafficSources...)
	c.Demographics = append([]Breakdown(nil), e.Demographics...)
	return &c
}
