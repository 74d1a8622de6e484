// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

// Package models defines the persisted entities of the sync engine and the
// enumerations that order them.
package models

import "time"

// BasicMetrics are the cheap, frequently refreshed counters of a video.
type BasicMetrics struct {
	ViewCount    int64 `json:"view_count"`
	LikeCount    int64 `json:"like_count"`
	CommentCount int64 `json:"comment_count"`
	ShareCount   int64 `json:"share_count"`
}

// VideoMetadata is the descriptive part of a video returned with basic metrics.
type VideoMetadata struct {
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	PublishedAt     time.Time `json:"published_at"`
	DurationSeconds int       `json:"duration_seconds"`
	ThumbnailURL    string    `json:"thumbnail_url,omitempty"`
	Category        string    `json:"category,omitempty"`
	Tags            []string  `json:"tags,omitempty"`
}

// VideoRecord is one creator video in the catalog.
type VideoRecord struct {
	ID         string `json:"id"`
	OwnerID    string `json:"owner_id"`
	ExternalID string `json:"external_id"`

	VideoMetadata
	BasicMetrics

	PerformanceScore float64 `json:"performance_score"`
	PerformanceTier  Tier    `json:"performance_tier"`
	EngagementRate   float64 `json:"engagement_rate"`
	// ViewVelocity is views/day at the last sync, kept so the owner's
	// distribution can be used as the scoring reference.
	ViewVelocity float64 `json:"view_velocity"`

	// LastSyncedAt is nil for discovered videos that were never fetched.
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	SyncPriority int        `json:"sync_priority"`
	IsDeleted    bool       `json:"is_deleted"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers cannot alias store state.
func (v *VideoRecord) Clone() *VideoRecord {
	if v == nil {
		return nil
	}
	c := *v
	if v.Tags != nil {
		c.Tags = append([]string(nil), v.Tags...)
	}
	if v.LastSyncedAt != nil {
		t := *v.LastSyncedAt
		c.LastSyncedAt = &t
	}
	if v.DeletedAt != nil {
		t := *v.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

// VelocityRange is the owner's historical view-velocity distribution used
// to normalize the velocity term of the score.
type VelocityRange struct {
	Min   float64
	Max   float64
	Count int
}
