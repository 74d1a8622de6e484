// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/tubepulse/internal/analytics"
	"github.com/tomtom215/tubepulse/internal/catalog"
	"github.com/tomtom215/tubepulse/internal/clock"
	"github.com/tomtom215/tubepulse/internal/logging"
	"github.com/tomtom215/tubepulse/internal/models"
	"github.com/tomtom215/tubepulse/internal/queue"
	"github.com/tomtom215/tubepulse/internal/store"
	"github.com/tomtom215/tubepulse/internal/validation"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Handler serves the catalog API.
type Handler struct {
	catalog   *catalog.Catalog
	analytics *analytics.Cache
	queue     *queue.Queue
	store     store.Pinger
	clock     clock.Clock
	startTime time.Time
}

// NewHandler creates the API handler. st is pinged by the health check.
func NewHandler(cat *catalog.Catalog, cache *analytics.Cache, q *queue.Queue, st store.Pinger, clk clock.Clock) *Handler {
	return &Handler{
		catalog:   cat,
		analytics: cache,
		queue:     q,
		store:     st,
		clock:     clk,
		startTime: clk.Now(),
	}
}

type healthResponse struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime"`
	Queue  models.QueueStats `json:"queue"`
}

// Health reports liveness: the store must answer a ping and the queue counts.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := h.store.Ping(r.Context()); err != nil {
		respondError(w, r, http.StatusServiceUnavailable, codeUnhealthy, "store unreachable", err)
		return
	}
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		respondError(w, r, http.StatusServiceUnavailable, codeUnhealthy, "store unavailable", err)
		return
	}
	respondData(w, http.StatusOK, healthResponse{
		Status: "healthy",
		Uptime: h.clock.Now().Sub(h.startTime).Round(time.Second).String(),
		Queue:  stats,
	}, start)
}

type listVideosRequest struct {
	OwnerID        string `query:"owner_id" validate:"required"`
	Tier           string `query:"tier" validate:"omitempty,tier"`
	Freshness      string `query:"freshness" validate:"omitempty,freshness"`
	IncludeDeleted bool   `query:"include_deleted"`
	Limit          int    `query:"limit" validate:"min=1,max=500"`
	Offset         int    `query:"offset" validate:"min=0"`
}

type listVideosResponse struct {
	Videos []models.VideoView `json:"videos"`
	Count  int                `json:"count"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// ListOwnerVideos lists an owner's videos, each with the freshness of its
// analytics. The freshness filter applies to the fetched page.
func (h *Handler) ListOwnerVideos(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	req := listVideosRequest{
		OwnerID:   chi.URLParam(r, "ownerID"),
		Tier:      r.URL.Query().Get("tier"),
		Freshness: r.URL.Query().Get("freshness"),
	}
	var err error
	if req.Limit, err = getIntParam(r, "limit", defaultListLimit); err != nil {
		respondValidation(w, err)
		return
	}
	if req.Offset, err = getIntParam(r, "offset", 0); err != nil {
		respondValidation(w, err)
		return
	}
	if req.IncludeDeleted, err = getBoolParam(r, "include_deleted"); err != nil {
		respondValidation(w, err)
		return
	}
	if err := validation.Struct(&req); err != nil {
		respondValidation(w, err)
		return
	}

	records, err := h.catalog.ListByOwner(ctx, req.OwnerID, store.ListFilter{
		Tier:           models.Tier(req.Tier),
		IncludeDeleted: req.IncludeDeleted,
		Limit:          req.Limit,
		Offset:         req.Offset,
	})
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, codeDatabase, "failed to list videos", err)
		return
	}

	ids := make([]string, len(records))
	for i, v := range records {
		ids[i] = v.ID
	}
	entries, err := h.analytics.GetMany(ctx, ids)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, codeDatabase, "failed to load analytics", err)
		return
	}

	now := h.clock.Now()
	views := make([]models.VideoView, 0, len(records))
	for _, v := range records {
		f := h.analytics.FreshnessAt(entries[v.ID], now)
		if req.Freshness != "" && f != models.Freshness(req.Freshness) {
			continue
		}
		views = append(views, models.VideoView{VideoRecord: v, Freshness: f})
	}

	respondData(w, http.StatusOK, listVideosResponse{
		Videos: views,
		Count:  len(views),
		Limit:  req.Limit,
		Offset: req.Offset,
	}, start)
}

// GetVideo returns one record with its analytics entry and freshness.
// Soft-deleted records are still returned; they carry is_deleted.
func (h *Handler) GetVideo(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	videoID := chi.URLParam(r, "videoID")

	rec, err := h.catalog.Get(ctx, videoID)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, r, http.StatusNotFound, codeNotFound, "video not found", nil)
		return
	}
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, codeDatabase, "failed to load video", err)
		return
	}

	entry, err := h.analytics.Get(ctx, videoID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		respondError(w, r, http.StatusInternalServerError, codeDatabase, "failed to load analytics", err)
		return
	}

	respondData(w, http.StatusOK, models.VideoDetail{
		Video:     rec,
		Analytics: entry,
		Freshness: h.analytics.FreshnessAt(entry, h.clock.Now()),
	}, start)
}

type refreshRequest struct {
	VideoID string `query:"video_id" validate:"required"`
	Type    string `query:"type" validate:"sync_type"`
}

// RefreshVideo queues an urgent sync of the given type (default full).
// Answers 202 with the queue item; coalesced reports that an active item of
// the same type already existed.
func (h *Handler) RefreshVideo(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	req := refreshRequest{
		VideoID: chi.URLParam(r, "videoID"),
		Type:    r.URL.Query().Get("type"),
	}
	if req.Type == "" {
		req.Type = string(models.SyncFull)
	}
	if err := validation.Struct(&req); err != nil {
		respondValidation(w, err)
		return
	}

	rec, err := h.catalog.Get(ctx, req.VideoID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && rec.IsDeleted) {
		respondError(w, r, http.StatusNotFound, codeNotFound, "video not found", nil)
		return
	}
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, codeDatabase, "failed to load video", err)
		return
	}

	item, coalesced, err := h.queue.Enqueue(ctx, rec.ID, models.SyncType(req.Type), models.PriorityUrgent, nil)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, codeQueue, "failed to queue refresh", err)
		return
	}

	logging.Ctx(ctx).Info().
		Str("video_id", rec.ID).
		Str("sync_type", req.Type).
		Bool("coalesced", coalesced).
		Msg("Manual refresh requested")

	respondData(w, http.StatusAccepted, models.RefreshAccepted{Item: item, Coalesced: coalesced}, start)
}

// DeleteVideo hard-deletes a record together with its cached analytics and
// queue items.
func (h *Handler) DeleteVideo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	videoID := chi.URLParam(r, "videoID")

	if err := h.catalog.Purge(ctx, videoID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, r, http.StatusNotFound, codeNotFound, "video not found", nil)
			return
		}
		respondError(w, r, http.StatusInternalServerError, codeDatabase, "failed to delete video", err)
		return
	}
	h.analytics.Invalidate(videoID)
	w.WriteHeader(http.StatusNoContent)
}

// QueueStats returns the queue counts by status.
func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, codeDatabase, "failed to load queue stats", err)
		return
	}
	respondData(w, http.StatusOK, stats, start)
}
