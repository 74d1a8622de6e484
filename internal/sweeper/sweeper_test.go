// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/tubepulse/internal/analytics"
	"github.com/tomtom215/tubepulse/internal/clock"
	"github.com/tomtom215/tubepulse/internal/config"
	"github.com/tomtom215/tubepulse/internal/memstore"
	"github.com/tomtom215/tubepulse/internal/models"
	"github.com/tomtom215/tubepulse/internal/queue"
	"github.com/tomtom215/tubepulse/internal/store"
)

var epoch = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func newTestSweeper(t *testing.T) (*Sweeper, *analytics.Cache, *queue.Queue, *clock.Fake, *config.Config) {
	t.Helper()
	cfg := config.Defaults()
	st := memstore.New()
	clk := clock.NewFake(epoch)
	cache := analytics.New(st.Analytics(), cfg.Cache, clk)
	q := queue.New(st.Queue(), cfg.Queue, clk)
	return New(cache, q), cache, q, clk, cfg
}

func TestSweep_EvictsAfterGrace(t *testing.T) {
	t.Parallel()
	s, cache, _, clk, cfg := newTestSweeper(t)
	ctx := context.Background()

	if _, err := cache.Put(ctx, "v1", models.DetailedMetrics{Impressions: 7}, time.Hour); err != nil {
		t.Fatal(err)
	}

	// Exactly at expiresAt + grace the entry is expired but not yet evicted.
	clk.Advance(time.Hour + cfg.Cache.Grace)
	res, err := s.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.EvictedEntries != 0 {
		t.Errorf("evicted %d at the boundary, want 0", res.EvictedEntries)
	}
	if _, err := cache.Get(ctx, "v1"); err != nil {
		t.Errorf("entry gone at the boundary: %v", err)
	}

	clk.Advance(time.Second)
	res, err = s.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.EvictedEntries != 1 {
		t.Errorf("evicted %d, want 1", res.EvictedEntries)
	}
	if _, err := cache.Get(ctx, "v1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get after sweep err = %v, want ErrNotFound", err)
	}
	f, err := cache.FreshnessOf(ctx, "v1")
	if err != nil || f != models.FreshnessExpired {
		t.Errorf("FreshnessOf = %s, %v; want expired", f, err)
	}
}

func TestSweep_KeepsStaleEntries(t *testing.T) {
	t.Parallel()
	s, cache, _, clk, _ := newTestSweeper(t)
	ctx := context.Background()

	if _, err := cache.Put(ctx, "v1", models.DetailedMetrics{}, time.Hour); err != nil {
		t.Fatal(err)
	}
	clk.Advance(2 * time.Hour)

	if res, err := s.Sweep(ctx); err != nil || res.EvictedEntries != 0 {
		t.Fatalf("Sweep = %+v, %v", res, err)
	}
	f, err := cache.FreshnessOf(ctx, "v1")
	if err != nil || f != models.FreshnessStale {
		t.Errorf("FreshnessOf = %s, %v; want stale", f, err)
	}
}

func TestSweep_PurgesOldTerminalItems(t *testing.T) {
	t.Parallel()
	s, _, q, clk, cfg := newTestSweeper(t)
	ctx := context.Background()

	done, _, err := q.Enqueue(ctx, "v1", models.SyncBasic, models.PriorityNormal, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := q.DequeueNext(ctx, "w"); err != nil {
		t.Fatal(err)
	}
	if _, err := q.ReportSuccess(ctx, done.ID, "w"); err != nil {
		t.Fatal(err)
	}
	pending, _, err := q.Enqueue(ctx, "v2", models.SyncBasic, models.PriorityNormal, nil)
	if err != nil {
		t.Fatal(err)
	}

	clk.Advance(cfg.Queue.Retention + time.Second)
	res, err := s.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.PurgedItems != 1 {
		t.Errorf("purged %d, want 1", res.PurgedItems)
	}
	if _, err := q.Get(ctx, done.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("completed item still present: %v", err)
	}
	if _, err := q.Get(ctx, pending.ID); err != nil {
		t.Errorf("pending item removed: %v", err)
	}
}

func TestSweep_ReclaimsStaleClaims(t *testing.T) {
	t.Parallel()
	s, _, q, clk, cfg := newTestSweeper(t)
	ctx := context.Background()

	it, _, err := q.Enqueue(ctx, "v1", models.SyncFull, models.PriorityHigh, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := q.DequeueNext(ctx, "dead-worker"); err != nil {
		t.Fatal(err)
	}

	clk.Advance(cfg.Queue.ClaimTimeout / 2)
	if res, _ := s.Sweep(ctx); res.ReclaimedItems != 0 {
		t.Fatalf("reclaimed a fresh claim: %+v", res)
	}

	clk.Advance(cfg.Queue.ClaimTimeout)
	res, err := s.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.ReclaimedItems != 1 {
		t.Errorf("reclaimed %d, want 1", res.ReclaimedItems)
	}

	got, err := q.Get(ctx, it.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusPending || got.Attempts != 0 {
		t.Errorf("item = %+v, want pending with no attempt counted", got)
	}

	again, err := q.DequeueNext(ctx, "live-worker")
	if err != nil || again.ID != it.ID {
		t.Errorf("DequeueNext = %v, %v; want the reclaimed item", again, err)
	}
}

func TestRun(t *testing.T) {
	t.Parallel()
	s, _, _, _, _ := newTestSweeper(t)
	if err := s.Run(context.Background()); err != nil {
		t.Errorf("Run = %v", err)
	}
}
