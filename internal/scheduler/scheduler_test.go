// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tomtom215/tubepulse/internal/analytics"
	"github.com/tomtom215/tubepulse/internal/catalog"
	"github.com/tomtom215/tubepulse/internal/clock"
	"github.com/tomtom215/tubepulse/internal/config"
	"github.com/tomtom215/tubepulse/internal/memstore"
	"github.com/tomtom215/tubepulse/internal/models"
	"github.com/tomtom215/tubepulse/internal/provider"
	"github.com/tomtom215/tubepulse/internal/queue"
	"github.com/tomtom215/tubepulse/internal/scoring"
)

var epoch = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	sched *Scheduler
	cat   *catalog.Catalog
	cache *analytics.Cache
	queue *queue.Queue
	clock *clock.Fake
}

type fakeProvider struct {
	provider.Provider
	ids []string
	err error
}

func (f *fakeProvider) ListVideos(context.Context, provider.Credential) ([]string, error) {
	return f.ids, f.err
}

func newFixture(t *testing.T, mutate func(*config.Config), p provider.Provider) *fixture {
	t.Helper()
	cfg := config.Defaults()
	cfg.Provider.DefaultToken = "tok"
	if mutate != nil {
		mutate(cfg)
	}
	st := memstore.New()
	clk := clock.NewFake(epoch)
	cat := catalog.New(st.Videos(), scoring.NewScorer(cfg.Scoring), clk)
	cache := analytics.New(st.Analytics(), cfg.Cache, clk)
	q := queue.New(st.Queue(), cfg.Queue, clk)
	s := New(cat, cache, q, p, provider.NewStaticCredentials(cfg.Provider), cfg.Scheduler, clk)
	return &fixture{sched: s, cat: cat, cache: cache, queue: q, clock: clk}
}

// drain claims every due item and returns them keyed by video ID.
func drain(t *testing.T, q *queue.Queue) map[string]*models.SyncQueueItem {
	t.Helper()
	out := map[string]*models.SyncQueueItem{}
	for {
		it, err := q.DequeueNext(context.Background(), "test")
		if errors.Is(err, queue.ErrQueueEmpty) {
			return out
		}
		if err != nil {
			t.Fatalf("DequeueNext: %v", err)
		}
		out[it.VideoID] = it
	}
}

func hotVideo(t *testing.T, f *fixture) *models.VideoRecord {
	t.Helper()
	rec, err := f.cat.UpsertBasic(context.Background(), "owner", "hot",
		models.BasicMetrics{ViewCount: 100000, LikeCount: 5000, CommentCount: 500},
		models.VideoMetadata{Title: "hot", PublishedAt: epoch.Add(-24 * time.Hour)})
	if err != nil {
		t.Fatalf("UpsertBasic: %v", err)
	}
	if rec.PerformanceTier != models.TierHot {
		t.Fatalf("tier = %s, want HOT", rec.PerformanceTier)
	}
	return rec
}

func TestScheduleDue_NeverSyncedGetsFull(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	rec, _, err := f.cat.Register(ctx, "owner", "new")
	if err != nil {
		t.Fatal(err)
	}

	res, err := f.sched.ScheduleDue(ctx)
	if err != nil {
		t.Fatalf("ScheduleDue: %v", err)
	}
	if res.Scanned != 1 || res.Enqueued != 1 || res.Full != 1 {
		t.Errorf("result = %+v", res)
	}

	items := drain(t, f.queue)
	it := items[rec.ID]
	if it == nil {
		t.Fatal("no item for the stub video")
	}
	if it.SyncType != models.SyncFull {
		t.Errorf("sync type = %s, want full", it.SyncType)
	}
	if it.Priority != models.PriorityLow {
		t.Errorf("priority = %s, want low for a COLD stub", it.Priority)
	}
}

func TestScheduleDue_FreshVideoIsSkipped(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	rec := hotVideo(t, f)
	if _, err := f.cache.PutForTier(ctx, rec.ID, models.DetailedMetrics{Impressions: 1}, rec.PerformanceTier); err != nil {
		t.Fatal(err)
	}

	res, err := f.sched.ScheduleDue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Scanned != 1 || res.Enqueued != 0 {
		t.Errorf("result = %+v, want one scanned and nothing enqueued", res)
	}
}

func TestScheduleDue_BasicDueAfterTierInterval(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	rec := hotVideo(t, f)
	if _, err := f.cache.PutForTier(ctx, rec.ID, models.DetailedMetrics{}, rec.PerformanceTier); err != nil {
		t.Fatal(err)
	}

	// Exactly at the interval nothing is due yet.
	f.clock.Advance(f.sched.BasicRefreshInterval(models.TierHot))
	if res, _ := f.sched.ScheduleDue(ctx); res.Enqueued != 0 {
		t.Fatalf("enqueued at the interval boundary: %+v", res)
	}

	f.clock.Advance(time.Second)
	res, err := f.sched.ScheduleDue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Basic != 1 || res.Enqueued != 1 {
		t.Errorf("result = %+v, want one basic", res)
	}

	it := drain(t, f.queue)[rec.ID]
	if it == nil || it.SyncType != models.SyncBasic || it.Priority != models.PriorityHigh {
		t.Errorf("item = %+v, want basic at high priority", it)
	}
}

func TestScheduleDue_AnalyticsDueWhenStale(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	rec, err := f.cat.UpsertBasic(ctx, "owner", "cold",
		models.BasicMetrics{ViewCount: 10},
		models.VideoMetadata{PublishedAt: epoch.Add(-300 * 24 * time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.cache.Put(ctx, rec.ID, models.DetailedMetrics{}, 10*time.Minute); err != nil {
		t.Fatal(err)
	}

	f.clock.Advance(10 * time.Minute)
	res, err := f.sched.ScheduleDue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Analytics != 1 || res.Enqueued != 1 {
		t.Errorf("result = %+v, want one analytics", res)
	}

	it := drain(t, f.queue)[rec.ID]
	if it == nil || it.SyncType != models.SyncAnalytics {
		t.Fatalf("item = %+v, want analytics", it)
	}
	if it.Priority != rec.PerformanceTier.QueuePriority() {
		t.Errorf("priority = %s, want %s", it.Priority, rec.PerformanceTier.QueuePriority())
	}
}

func TestScheduleDue_IsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, _, err := f.cat.Register(ctx, "owner", fmt.Sprintf("v%d", i)); err != nil {
			t.Fatal(err)
		}
	}

	first, err := f.sched.ScheduleDue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.sched.ScheduleDue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if first.Enqueued != 3 {
		t.Errorf("first pass enqueued %d, want 3", first.Enqueued)
	}
	if second.Enqueued != 0 || second.Coalesced != 3 {
		t.Errorf("second pass = %+v, want 3 coalesced", second)
	}

	stats, err := f.queue.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Pending != 3 {
		t.Errorf("pending = %d, want 3", stats.Pending)
	}
}

func TestScheduleDue_SkipsDeleted(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	rec, _, err := f.cat.Register(ctx, "owner", "gone")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.cat.MarkDeleted(ctx, rec.ID); err != nil {
		t.Fatal(err)
	}

	res, err := f.sched.ScheduleDue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Scanned != 0 || res.Enqueued != 0 {
		t.Errorf("result = %+v, want deleted video ignored", res)
	}
}

func TestScheduleDue_Pages(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(c *config.Config) { c.Scheduler.BatchSize = 2 }, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, _, err := f.cat.Register(ctx, "owner", fmt.Sprintf("v%d", i)); err != nil {
			t.Fatal(err)
		}
	}

	res, err := f.sched.ScheduleDue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Scanned != 5 || res.Enqueued != 5 {
		t.Errorf("result = %+v, want all five across pages", res)
	}
}

func TestScheduleDue_CancelledContext(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.sched.ScheduleDue(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestDiscover_RegistersOnlyNewVideos(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	known := hotVideo(t, f)

	res, err := f.sched.Discover(ctx, "owner", []string{known.ExternalID, "n1", "n2"})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if res.Listed != 3 || res.Registered != 2 || res.Enqueued != 2 {
		t.Errorf("result = %+v", res)
	}

	items := drain(t, f.queue)
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if _, ok := items[known.ID]; ok {
		t.Error("known video should not be enqueued by discovery")
	}
	for _, it := range items {
		if it.SyncType != models.SyncFull || it.Priority != models.PriorityUrgent {
			t.Errorf("item = %+v, want full at urgent", it)
		}
	}

	again, err := f.sched.Discover(ctx, "owner", []string{"n1", "n2"})
	if err != nil {
		t.Fatal(err)
	}
	if again.Registered != 0 {
		t.Errorf("second discovery registered %d", again.Registered)
	}
}

func TestDiscover_RequeuesNeverSyncedStub(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	// A stub from an earlier discovery whose urgent sync failed for good.
	stub, _, err := f.cat.Register(ctx, "owner", "orphan")
	if err != nil {
		t.Fatal(err)
	}
	it, _, err := f.queue.Enqueue(ctx, stub.ID, models.SyncFull, models.PriorityUrgent, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.queue.DequeueNext(ctx, "w"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.queue.ReportFailure(ctx, it.ID, "w", queue.Permanent(errors.New("forbidden"))); err != nil {
		t.Fatal(err)
	}

	res, err := f.sched.Discover(ctx, "owner", []string{"orphan"})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if res.Registered != 0 || res.Enqueued != 1 {
		t.Errorf("result = %+v, want nothing registered and one enqueue", res)
	}

	items := drain(t, f.queue)
	got, ok := items[stub.ID]
	if !ok {
		t.Fatal("never-synced stub not enqueued")
	}
	if got.SyncType != models.SyncFull || got.Priority != models.PriorityUrgent {
		t.Errorf("item = %+v, want full at urgent", got)
	}
}

func TestDiscoverOwner_UsesProviderListing(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{ids: []string{"a", "b"}}
	f := newFixture(t, nil, p)
	ctx := context.Background()

	res, err := f.sched.DiscoverOwner(ctx, "owner")
	if err != nil {
		t.Fatalf("DiscoverOwner: %v", err)
	}
	if res.Registered != 2 {
		t.Errorf("registered = %d, want 2", res.Registered)
	}
	if _, err := f.cat.GetByExternalID(ctx, "owner", "b"); err != nil {
		t.Errorf("stub for b: %v", err)
	}
}

func TestDiscoverOwner_Errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	noToken := newFixture(t, func(c *config.Config) { c.Provider.DefaultToken = "" }, &fakeProvider{})
	if _, err := noToken.sched.DiscoverOwner(ctx, "owner"); err == nil {
		t.Error("expected credential error")
	}

	failing := newFixture(t, nil, &fakeProvider{err: &provider.Error{Kind: provider.KindTransient, Op: "list_videos", Err: errors.New("down")}})
	if _, err := failing.sched.DiscoverOwner(ctx, "owner"); provider.KindOf(err) != provider.KindTransient {
		t.Errorf("err = %v, want transient provider error", err)
	}

	none := newFixture(t, nil, nil)
	if _, err := none.sched.DiscoverOwner(ctx, "owner"); err == nil {
		t.Error("expected error without provider")
	}
}

func TestRun_DiscoversThenSchedules(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{ids: []string{"a"}}
	f := newFixture(t, func(c *config.Config) {
		c.Scheduler.DiscoveryEnabled = true
		c.Scheduler.Owners = []string{"owner", "other"}
	}, p)
	ctx := context.Background()

	if err := f.sched.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	stats, err := f.queue.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// One urgent full per owner from discovery; ScheduleDue coalesces onto them.
	if stats.Pending != 2 {
		t.Errorf("pending = %d, want 2", stats.Pending)
	}
	for _, it := range drain(t, f.queue) {
		if it.Priority != models.PriorityUrgent {
			t.Errorf("priority = %s, want urgent from discovery", it.Priority)
		}
	}
}
