// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

// Package storetest holds the behavioural tests every store backend must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/tubepulse/internal/models"
	"github.com/tomtom215/tubepulse/internal/store"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

var t0 = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

// Run executes the conformance suite against the backend.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"UpsertCreatesAndMerges", testUpsertCreatesAndMerges},
		{"UpsertLastSyncedNeverRegresses", testUpsertLastSyncedNeverRegresses},
		{"InsertStubIsIdempotent", testInsertStubIsIdempotent},
		{"UpdateBasicNeverCreates", testUpdateBasicNeverCreates},
		{"ListByOwnerFilters", testListByOwnerFilters},
		{"ListActiveAfterPages", testListActiveAfterPages},
		{"VelocityRange", testVelocityRange},
		{"MarkDeleted", testMarkDeleted},
		{"PurgeCascades", testPurgeCascades},
		{"AnalyticsPutReplaces", testAnalyticsPutReplaces},
		{"AnalyticsDeleteExpired", testAnalyticsDeleteExpired},
		{"EnqueueCoalesces", testEnqueueCoalesces},
		{"ClaimOrder", testClaimOrder},
		{"ClaimSkipsFutureItems", testClaimSkipsFutureItems},
		{"CompleteFreesSlot", testCompleteFreesSlot},
		{"FailRetryAndTerminal", testFailRetryAndTerminal},
		{"TransitionsRequireProcessing", testTransitionsRequireProcessing},
		{"TransitionsRequireClaimOwner", testTransitionsRequireClaimOwner},
		{"FailStoresMultibyteError", testFailStoresMultibyteError},
		{"ReleaseAndReclaim", testReleaseAndReclaim},
		{"PurgeTerminal", testPurgeTerminal},
		{"ConcurrentClaimsAreExclusive", testConcurrentClaimsAreExclusive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func upsert(t *testing.T, s store.Store, owner, external string, views int64, at time.Time) *models.VideoRecord {
	t.Helper()
	v, err := s.Videos().UpsertBasic(context.Background(), store.VideoUpsert{
		NewID:      uuid.NewString(),
		OwnerID:    owner,
		ExternalID: external,
		Metrics:    models.BasicMetrics{ViewCount: views, LikeCount: views / 10},
		Metadata: models.VideoMetadata{
			Title:       "video " + external,
			PublishedAt: at.Add(-24 * time.Hour),
			Tags:        []string{"go", "test"},
		},
		Score:        50,
		Tier:         models.TierWarm,
		ViewVelocity: float64(views),
		SyncedAt:     at,
	})
	if err != nil {
		t.Fatalf("UpsertBasic(%s/%s): %v", owner, external, err)
	}
	return v
}

func enqueue(t *testing.T, s store.Store, videoID string, st models.SyncType, p models.Priority, at time.Time) (*models.SyncQueueItem, bool) {
	t.Helper()
	it, created, err := s.Queue().Enqueue(context.Background(), store.NewQueueItem{
		ID:          uuid.NewString(),
		VideoID:     videoID,
		SyncType:    st,
		Priority:    p,
		ScheduledAt: at,
		MaxAttempts: 3,
		CreatedAt:   at,
	})
	if err != nil {
		t.Fatalf("Enqueue(%s, %s): %v", videoID, st, err)
	}
	return it, created
}

func claim(t *testing.T, s store.Store, now time.Time) *models.SyncQueueItem {
	t.Helper()
	it, err := s.Queue().ClaimNext(context.Background(), "worker-1", now)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	return it
}

func testUpsertCreatesAndMerges(t *testing.T, s store.Store) {
	first := upsert(t, s, "owner", "ext-1", 100, t0)
	if first.ID == "" || first.CreatedAt.IsZero() {
		t.Fatalf("created record missing ID/CreatedAt: %+v", first)
	}
	if first.SyncPriority != models.TierWarm.SyncPriority() {
		t.Errorf("SyncPriority = %d, want %d", first.SyncPriority, models.TierWarm.SyncPriority())
	}

	second := upsert(t, s, "owner", "ext-1", 500, t0.Add(time.Hour))
	if second.ID != first.ID {
		t.Fatalf("upsert on same key created a new record: %s vs %s", second.ID, first.ID)
	}
	if second.ViewCount != 500 {
		t.Errorf("ViewCount = %d, want 500", second.ViewCount)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed on merge: %v -> %v", first.CreatedAt, second.CreatedAt)
	}
	if len(second.Tags) != 2 || second.Tags[0] != "go" {
		t.Errorf("Tags = %v, want [go test]", second.Tags)
	}

	got, err := s.Videos().GetByExternalID(context.Background(), "owner", "ext-1")
	if err != nil || got.ID != first.ID {
		t.Fatalf("GetByExternalID = %v, %v", got, err)
	}
	if _, err := s.Videos().Get(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func testUpsertLastSyncedNeverRegresses(t *testing.T, s store.Store) {
	upsert(t, s, "owner", "ext-1", 100, t0.Add(2*time.Hour))
	v := upsert(t, s, "owner", "ext-1", 90, t0) // older write lands late

	if v.LastSyncedAt == nil || !v.LastSyncedAt.Equal(t0.Add(2*time.Hour)) {
		t.Errorf("LastSyncedAt = %v, want %v", v.LastSyncedAt, t0.Add(2*time.Hour))
	}
	if v.ViewCount != 90 {
		t.Errorf("ViewCount = %d, want 90 (last writer wins)", v.ViewCount)
	}
}

func testInsertStubIsIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()
	v, created, err := s.Videos().InsertStub(ctx, uuid.NewString(), "owner", "new-1", t0)
	if err != nil || !created {
		t.Fatalf("InsertStub = %v, %v, %v", v, created, err)
	}
	if v.LastSyncedAt != nil || v.PerformanceTier != models.TierCold {
		t.Errorf("stub should be unsynced COLD, got %+v", v)
	}
	again, created, err := s.Videos().InsertStub(ctx, uuid.NewString(), "owner", "new-1", t0)
	if err != nil || created || again.ID != v.ID {
		t.Errorf("second InsertStub = %v, %v, %v; want existing record", again.ID, created, err)
	}
}

func testUpdateBasicNeverCreates(t *testing.T, s store.Store) {
	ctx := context.Background()
	v := upsert(t, s, "owner", "ext", 100, t0)

	later := t0.Add(time.Hour)
	updated, err := s.Videos().UpdateBasic(ctx, v.ID, store.VideoUpsert{
		Metrics:  models.BasicMetrics{ViewCount: 500},
		Metadata: models.VideoMetadata{Title: "renamed", Tags: []string{"x"}},
		Score:    90,
		Tier:     models.TierHot,
		SyncedAt: later,
	})
	if err != nil {
		t.Fatalf("UpdateBasic: %v", err)
	}
	if updated.ID != v.ID || updated.OwnerID != "owner" || updated.ExternalID != "ext" {
		t.Errorf("identity changed: %+v", updated)
	}
	if updated.ViewCount != 500 || updated.Title != "renamed" || updated.PerformanceTier != models.TierHot {
		t.Errorf("update not applied: %+v", updated)
	}
	if updated.SyncPriority != models.TierHot.SyncPriority() {
		t.Errorf("SyncPriority = %d", updated.SyncPriority)
	}
	if updated.LastSyncedAt == nil || !updated.LastSyncedAt.Equal(later) {
		t.Errorf("LastSyncedAt = %v, want %v", updated.LastSyncedAt, later)
	}

	if err := s.Videos().Purge(ctx, v.ID); err != nil {
		t.Fatal(err)
	}
	_, err = s.Videos().UpdateBasic(ctx, v.ID, store.VideoUpsert{
		OwnerID:    "owner",
		ExternalID: "ext",
		Metrics:    models.BasicMetrics{ViewCount: 1},
		Tier:       models.TierCold,
		SyncedAt:   later,
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("UpdateBasic(purged) = %v, want ErrNotFound", err)
	}
	if _, err := s.Videos().GetByExternalID(ctx, "owner", "ext"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("purged record recreated: %v", err)
	}
}

func testListByOwnerFilters(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		upsert(t, s, "owner", fmt.Sprintf("ext-%d", i), int64(100*(i+1)), t0.Add(time.Duration(i)*time.Minute))
	}
	upsert(t, s, "other", "ext-x", 100, t0)
	hot := upsertTier(t, s, "owner", "hot-1", models.TierHot)
	if err := s.Videos().MarkDeleted(ctx, hot.ID, t0); err != nil {
		t.Fatal(err)
	}

	all, err := s.Videos().ListByOwner(ctx, "owner", store.ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 {
		t.Errorf("ListByOwner = %d records, want 5 (deleted excluded)", len(all))
	}

	withDeleted, _ := s.Videos().ListByOwner(ctx, "owner", store.ListFilter{IncludeDeleted: true})
	if len(withDeleted) != 6 {
		t.Errorf("IncludeDeleted = %d records, want 6", len(withDeleted))
	}

	hotOnly, _ := s.Videos().ListByOwner(ctx, "owner", store.ListFilter{Tier: models.TierHot, IncludeDeleted: true})
	if len(hotOnly) != 1 || hotOnly[0].ID != hot.ID {
		t.Errorf("Tier filter = %v, want only %s", hotOnly, hot.ID)
	}

	page, _ := s.Videos().ListByOwner(ctx, "owner", store.ListFilter{Limit: 2, Offset: 1})
	if len(page) != 2 || page[0].ID != all[1].ID {
		t.Errorf("page = %d records starting %v, want 2 starting %s", len(page), page, all[1].ID)
	}
}

func upsertTier(t *testing.T, s store.Store, owner, external string, tier models.Tier) *models.VideoRecord {
	t.Helper()
	v, err := s.Videos().UpsertBasic(context.Background(), store.VideoUpsert{
		NewID: uuid.NewString(), OwnerID: owner, ExternalID: external,
		Metrics: models.BasicMetrics{ViewCount: 1}, Tier: tier, SyncedAt: t0,
	})
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func testListActiveAfterPages(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		upsert(t, s, "owner", fmt.Sprintf("ext-%d", i), 10, t0)
	}
	seen := map[string]bool{}
	after := ""
	for pages := 0; ; pages++ {
		if pages > 10 {
			t.Fatal("pagination did not terminate")
		}
		batch, err := s.Videos().ListActiveAfter(ctx, after, 3)
		if err != nil {
			t.Fatal(err)
		}
		if len(batch) == 0 {
			break
		}
		for _, v := range batch {
			if seen[v.ID] {
				t.Fatalf("record %s returned twice", v.ID)
			}
			seen[v.ID] = true
		}
		after = batch[len(batch)-1].ID
	}
	if len(seen) != 7 {
		t.Errorf("paged over %d records, want 7", len(seen))
	}
}

func testVelocityRange(t *testing.T, s store.Store) {
	ctx := context.Background()
	upsert(t, s, "owner", "a", 10, t0)
	upsert(t, s, "owner", "b", 300, t0)
	gone := upsert(t, s, "owner", "c", 99999, t0)
	_ = s.Videos().MarkDeleted(ctx, gone.ID, t0)
	if _, _, err := s.Videos().InsertStub(ctx, uuid.NewString(), "owner", "stub", t0); err != nil {
		t.Fatal(err)
	}

	vr, err := s.Videos().VelocityRange(ctx, "owner")
	if err != nil {
		t.Fatal(err)
	}
	if vr.Count != 2 || vr.Min != 10 || vr.Max != 300 {
		t.Errorf("VelocityRange = %+v, want {Min:10 Max:300 Count:2}", vr)
	}
	empty, _ := s.Videos().VelocityRange(ctx, "nobody")
	if empty.Count != 0 {
		t.Errorf("VelocityRange(nobody).Count = %d, want 0", empty.Count)
	}
}

func testMarkDeleted(t *testing.T, s store.Store) {
	ctx := context.Background()
	v := upsert(t, s, "owner", "ext", 10, t0)
	if err := s.Videos().MarkDeleted(ctx, v.ID, t0.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	// second call keeps the original DeletedAt
	if err := s.Videos().MarkDeleted(ctx, v.ID, t0.Add(2*time.Hour)); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Videos().Get(ctx, v.ID)
	if !got.IsDeleted || got.DeletedAt == nil || !got.DeletedAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("after MarkDeleted: IsDeleted=%v DeletedAt=%v", got.IsDeleted, got.DeletedAt)
	}
	if err := s.Videos().MarkDeleted(ctx, "missing", t0); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("MarkDeleted(missing) = %v, want ErrNotFound", err)
	}
}

func testPurgeCascades(t *testing.T, s store.Store) {
	ctx := context.Background()
	v := upsert(t, s, "owner", "ext", 10, t0)
	keep := upsert(t, s, "owner", "keep", 10, t0)
	if err := s.Analytics().Put(ctx, &models.AnalyticsCacheEntry{VideoID: v.ID, CachedAt: t0, ExpiresAt: t0.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	enqueue(t, s, v.ID, models.SyncBasic, models.PriorityLow, t0)
	enqueue(t, s, keep.ID, models.SyncBasic, models.PriorityLow, t0)

	if err := s.Videos().Purge(ctx, v.ID); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if _, err := s.Videos().Get(ctx, v.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("record survived purge: %v", err)
	}
	if _, err := s.Analytics().Get(ctx, v.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("cache entry survived purge: %v", err)
	}
	st, _ := s.Queue().Stats(ctx)
	if st.Pending != 1 {
		t.Errorf("pending after purge = %d, want 1 (other video's item)", st.Pending)
	}
	// the natural key is free again
	if _, created, _ := s.Videos().InsertStub(ctx, uuid.NewString(), "owner", "ext", t0); !created {
		t.Error("natural key still taken after purge")
	}
}

func testAnalyticsPutReplaces(t *testing.T, s store.Store) {
	ctx := context.Background()
	first := &models.AnalyticsCacheEntry{
		VideoID:         "v1",
		DetailedMetrics: models.DetailedMetrics{Impressions: 10, TrafficSources: []models.Breakdown{{Label: "search", Percentage: 60}}},
		CachedAt:        t0,
		ExpiresAt:       t0.Add(time.Hour),
	}
	if err := s.Analytics().Put(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := &models.AnalyticsCacheEntry{
		VideoID:         "v1",
		DetailedMetrics: models.DetailedMetrics{Impressions: 20, Demographics: []models.Breakdown{{Label: "18-24", Percentage: 40}}},
		CachedAt:        t0.Add(time.Hour),
		ExpiresAt:       t0.Add(7 * time.Hour),
	}
	if err := s.Analytics().Put(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, err := s.Analytics().Get(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Impressions != 20 || !got.ExpiresAt.Equal(second.ExpiresAt) {
		t.Errorf("Get after replace = %+v", got)
	}
	if len(got.TrafficSources) != 0 || len(got.Demographics) != 1 || got.Demographics[0].Label != "18-24" {
		t.Errorf("breakdowns not replaced: %+v / %+v", got.TrafficSources, got.Demographics)
	}

	many, err := s.Analytics().GetMany(ctx, []string{"v1", "absent"})
	if err != nil || len(many) != 1 || many["v1"] == nil {
		t.Errorf("GetMany = %v, %v", many, err)
	}
}

func testAnalyticsDeleteExpired(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i, exp := range []time.Duration{-48 * time.Hour, -time.Hour, time.Hour} {
		e := &models.AnalyticsCacheEntry{VideoID: fmt.Sprintf("v%d", i), CachedAt: t0, ExpiresAt: t0.Add(exp)}
		if err := s.Analytics().Put(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	deleted, err := s.Analytics().DeleteExpiredBefore(ctx, t0.Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(deleted) != 1 || deleted[0] != "v0" {
		t.Errorf("deleted = %v, want [v0]", deleted)
	}
	if _, err := s.Analytics().Get(ctx, "v1"); err != nil {
		t.Errorf("v1 should survive: %v", err)
	}
}

func testEnqueueCoalesces(t *testing.T, s store.Store) {
	first, created := enqueue(t, s, "V1", models.SyncAnalytics, models.PriorityNormal, t0)
	if !created {
		t.Fatal("first enqueue should create")
	}
	second, created := enqueue(t, s, "V1", models.SyncAnalytics, models.PriorityNormal, t0.Add(time.Minute))
	if created || second.ID != first.ID {
		t.Errorf("second enqueue created=%v id=%s, want coalesced onto %s", created, second.ID, first.ID)
	}
	// a different sync type is independent work
	if _, created := enqueue(t, s, "V1", models.SyncBasic, models.PriorityNormal, t0); !created {
		t.Error("different sync type should not coalesce")
	}
	st, _ := s.Queue().Stats(context.Background())
	if st.Pending != 2 {
		t.Errorf("pending = %d, want 2", st.Pending)
	}

	// coalescing also applies while the item is processing
	claimed := claim(t, s, t0.Add(time.Hour))
	again, created := enqueue(t, s, claimed.VideoID, claimed.SyncType, models.PriorityUrgent, t0)
	if created || again.ID != claimed.ID {
		t.Errorf("enqueue during processing created=%v, want coalesced", created)
	}
}

func testClaimOrder(t *testing.T, s store.Store) {
	enqueue(t, s, "low", models.SyncBasic, models.PriorityLow, t0)
	enqueue(t, s, "normal-late", models.SyncBasic, models.PriorityNormal, t0.Add(2*time.Minute))
	enqueue(t, s, "normal-a", models.SyncBasic, models.PriorityNormal, t0.Add(time.Minute))
	enqueue(t, s, "normal-b", models.SyncBasic, models.PriorityNormal, t0.Add(time.Minute))
	enqueue(t, s, "urgent", models.SyncFull, models.PriorityUrgent, t0.Add(3*time.Minute))
	enqueue(t, s, "high", models.SyncBasic, models.PriorityHigh, t0.Add(3*time.Minute))

	now := t0.Add(time.Hour)
	want := []string{"urgent", "high", "normal-a", "normal-b", "normal-late", "low"}
	for _, videoID := range want {
		it := claim(t, s, now)
		if it.VideoID != videoID {
			t.Fatalf("claimed %s, want %s", it.VideoID, videoID)
		}
		if it.Status != models.StatusProcessing || it.ClaimedBy != "worker-1" || it.ClaimedAt == nil {
			t.Errorf("claimed item not marked processing: %+v", it)
		}
	}
	if _, err := s.Queue().ClaimNext(context.Background(), "worker-1", now); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("ClaimNext on drained queue = %v, want ErrNotFound", err)
	}
}

func testClaimSkipsFutureItems(t *testing.T, s store.Store) {
	enqueue(t, s, "later-urgent", models.SyncBasic, models.PriorityUrgent, t0.Add(time.Hour))
	enqueue(t, s, "now-low", models.SyncBasic, models.PriorityLow, t0)

	if it := claim(t, s, t0); it.VideoID != "now-low" {
		t.Errorf("claimed %s, want now-low (urgent not yet due)", it.VideoID)
	}
	if _, err := s.Queue().ClaimNext(context.Background(), "w", t0); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("ClaimNext = %v, want ErrNotFound", err)
	}
	if it := claim(t, s, t0.Add(time.Hour)); it.VideoID != "later-urgent" {
		t.Errorf("claimed %s, want later-urgent once due", it.VideoID)
	}
}

func testCompleteFreesSlot(t *testing.T, s store.Store) {
	ctx := context.Background()
	it, _ := enqueue(t, s, "V1", models.SyncBasic, models.PriorityNormal, t0)
	claim(t, s, t0)
	done, err := s.Queue().Complete(ctx, it.ID, "worker-1", t0.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != models.StatusCompleted || done.CompletedAt == nil {
		t.Errorf("Complete = %+v", done)
	}
	if _, created := enqueue(t, s, "V1", models.SyncBasic, models.PriorityNormal, t0); !created {
		t.Error("new enqueue after completion should create a fresh item")
	}
}

func testFailRetryAndTerminal(t *testing.T, s store.Store) {
	ctx := context.Background()
	it, _ := enqueue(t, s, "V1", models.SyncBasic, models.PriorityNormal, t0)
	claim(t, s, t0)

	retryAt := t0.Add(time.Minute)
	retried, err := s.Queue().Fail(ctx, it.ID, "worker-1", "rate limited", &retryAt, t0)
	if err != nil {
		t.Fatal(err)
	}
	if retried.Status != models.StatusPending || retried.Attempts != 1 || !retried.ScheduledAt.Equal(retryAt) || retried.ClaimedBy != "" {
		t.Errorf("retry transition = %+v", retried)
	}

	claim(t, s, retryAt)
	failed, err := s.Queue().Fail(ctx, it.ID, "worker-1", "permanent", nil, retryAt)
	if err != nil {
		t.Fatal(err)
	}
	if failed.Status != models.StatusFailed || failed.Attempts != 2 || failed.LastError != "permanent" {
		t.Errorf("terminal transition = %+v", failed)
	}
	if _, created := enqueue(t, s, "V1", models.SyncBasic, models.PriorityNormal, t0); !created {
		t.Error("failed item must not block a fresh enqueue")
	}
}

func testTransitionsRequireProcessing(t *testing.T, s store.Store) {
	ctx := context.Background()
	it, _ := enqueue(t, s, "V1", models.SyncBasic, models.PriorityNormal, t0)

	if _, err := s.Queue().Complete(ctx, it.ID, "worker-1", t0); !errors.Is(err, store.ErrNotActive) {
		t.Errorf("Complete(pending) = %v, want ErrNotActive", err)
	}
	if _, err := s.Queue().Fail(ctx, it.ID, "worker-1", "x", nil, t0); !errors.Is(err, store.ErrNotActive) {
		t.Errorf("Fail(pending) = %v, want ErrNotActive", err)
	}
	if _, err := s.Queue().Complete(ctx, "missing", "worker-1", t0); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Complete(missing) = %v, want ErrNotFound", err)
	}
}

func testTransitionsRequireClaimOwner(t *testing.T, s store.Store) {
	ctx := context.Background()
	it, _ := enqueue(t, s, "V1", models.SyncBasic, models.PriorityNormal, t0)
	claim(t, s, t0)

	// worker-1 stalls past the timeout and worker-2 takes the item over.
	if n, err := s.Queue().ReclaimStale(ctx, t0.Add(time.Minute), t0.Add(time.Hour)); err != nil || n != 1 {
		t.Fatalf("ReclaimStale = %d, %v", n, err)
	}
	if _, err := s.Queue().ClaimNext(ctx, "worker-2", t0.Add(time.Hour)); err != nil {
		t.Fatalf("ClaimNext(worker-2): %v", err)
	}

	retryAt := t0.Add(2 * time.Hour)
	if _, err := s.Queue().Fail(ctx, it.ID, "worker-1", "late", &retryAt, t0.Add(time.Hour)); !errors.Is(err, store.ErrNotActive) {
		t.Errorf("Fail(stale owner) = %v, want ErrNotActive", err)
	}
	if _, err := s.Queue().Complete(ctx, it.ID, "worker-1", t0.Add(time.Hour)); !errors.Is(err, store.ErrNotActive) {
		t.Errorf("Complete(stale owner) = %v, want ErrNotActive", err)
	}
	if _, err := s.Queue().Release(ctx, it.ID, "worker-1", t0.Add(time.Hour)); !errors.Is(err, store.ErrNotActive) {
		t.Errorf("Release(stale owner) = %v, want ErrNotActive", err)
	}

	got, err := s.Queue().Get(ctx, it.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusProcessing || got.ClaimedBy != "worker-2" || got.Attempts != 0 || got.LastError != "" {
		t.Errorf("item after stale reports = %+v, want untouched claim of worker-2", got)
	}
	if _, err := s.Queue().Complete(ctx, it.ID, "worker-2", t0.Add(time.Hour)); err != nil {
		t.Errorf("Complete(owner): %v", err)
	}
}

func testFailStoresMultibyteError(t *testing.T, s store.Store) {
	ctx := context.Background()
	it, _ := enqueue(t, s, "V1", models.SyncBasic, models.PriorityNormal, t0)
	claim(t, s, t0)

	msg := "échec de la requête: 請求失敗 🚫"
	failed, err := s.Queue().Fail(ctx, it.ID, "worker-1", msg, nil, t0)
	if err != nil {
		t.Fatal(err)
	}
	if failed.LastError != msg {
		t.Errorf("LastError = %q, want %q", failed.LastError, msg)
	}
}

func testReleaseAndReclaim(t *testing.T, s store.Store) {
	ctx := context.Background()
	a, _ := enqueue(t, s, "A", models.SyncBasic, models.PriorityNormal, t0)
	enqueue(t, s, "B", models.SyncBasic, models.PriorityNormal, t0.Add(time.Second))

	claim(t, s, t0)
	released, err := s.Queue().Release(ctx, a.ID, "worker-1", t0.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if released.Status != models.StatusPending || released.Attempts != 0 {
		t.Errorf("Release = %+v, want pending with no attempt counted", released)
	}

	// A again at t0, then B a minute later
	claim(t, s, t0)
	claim(t, s, t0.Add(time.Minute))

	n, err := s.Queue().ReclaimStale(ctx, t0.Add(30*time.Second), t0.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("ReclaimStale = %d, want 1", n)
	}
	got, _ := s.Queue().Get(ctx, a.ID)
	if got.Status != models.StatusPending || got.ClaimedBy != "" || got.Attempts != 0 {
		t.Errorf("reclaimed item = %+v", got)
	}
}

func testPurgeTerminal(t *testing.T, s store.Store) {
	ctx := context.Background()
	old, _ := enqueue(t, s, "old", models.SyncBasic, models.PriorityHigh, t0)
	claim(t, s, t0)
	if _, err := s.Queue().Complete(ctx, old.ID, "worker-1", t0); err != nil {
		t.Fatal(err)
	}
	recent, _ := enqueue(t, s, "recent", models.SyncBasic, models.PriorityHigh, t0)
	claim(t, s, t0)
	if _, err := s.Queue().Fail(ctx, recent.ID, "worker-1", "boom", nil, t0.Add(48*time.Hour)); err != nil {
		t.Fatal(err)
	}
	enqueue(t, s, "pending", models.SyncBasic, models.PriorityLow, t0)

	n, err := s.Queue().PurgeTerminal(ctx, t0.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("PurgeTerminal = %d, want 1", n)
	}
	st, _ := s.Queue().Stats(ctx)
	if st.Completed != 0 || st.Failed != 1 || st.Pending != 1 {
		t.Errorf("Stats after purge = %+v", st)
	}
}

func testConcurrentClaimsAreExclusive(t *testing.T, s store.Store) {
	const items = 20
	for i := 0; i < items; i++ {
		enqueue(t, s, fmt.Sprintf("v%02d", i), models.SyncBasic, models.PriorityNormal, t0)
	}

	var (
		mu      sync.Mutex
		claimed = map[string]string{}
		wg      sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			for {
				it, err := store.RetryOnContention(context.Background(), func() (*models.SyncQueueItem, error) {
					return s.Queue().ClaimNext(context.Background(), worker, t0)
				})
				if errors.Is(err, store.ErrNotFound) {
					return
				}
				if err != nil {
					t.Errorf("ClaimNext: %v", err)
					return
				}
				mu.Lock()
				if prev, dup := claimed[it.ID]; dup {
					t.Errorf("item %s claimed by %s and %s", it.ID, prev, worker)
				}
				claimed[it.ID] = worker
				mu.Unlock()
			}
		}(fmt.Sprintf("worker-%d", w))
	}
	wg.Wait()

	if len(claimed) != items {
		t.Errorf("claimed %d items, want %d", len(claimed), items)
	}
}
