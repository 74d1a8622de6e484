// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

package analytics

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/tubepulse/internal/clock"
	"github.com/tomtom215/tubepulse/internal/config"
	"github.com/tomtom215/tubepulse/internal/memstore"
	"github.com/tomtom215/tubepulse/internal/models"
	"github.com/tomtom215/tubepulse/internal/store"
)

var epoch = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func newTestCache(t *testing.T) (*Cache, *memstore.Store, *clock.Fake) {
	t.Helper()
	st := memstore.New()
	clk := clock.NewFake(epoch)
	return New(st.Analytics(), config.Defaults().Cache, clk), st, clk
}

func sampleMetrics() models.DetailedMetrics {
	return models.DetailedMetrics{
		WatchTimeMinutes: 5000,
		RetentionRate:    0.42,
		Impressions:      120000,
		TrafficSources:   []models.Breakdown{{Label: "search", Percentage: 60}},
	}
}

func TestTTLForTier(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestCache(t)

	tests := []struct {
		tier models.Tier
		want time.Duration
	}{
		{models.TierHot, 6 * time.Hour},
		{models.TierWarm, 24 * time.Hour},
		{models.TierCold, 72 * time.Hour},
		{"", 72 * time.Hour},
	}
	for _, tt := range tests {
		if got := c.TTLForTier(tt.tier); got != tt.want {
			t.Errorf("TTLForTier(%q) = %v, want %v", tt.tier, got, tt.want)
		}
	}
	if !(c.TTLForTier(models.TierHot) < c.TTLForTier(models.TierWarm) && c.TTLForTier(models.TierWarm) < c.TTLForTier(models.TierCold)) {
		t.Error("hotter tiers must have shorter TTLs")
	}
}

func TestPut_SetsCachedAndExpiresAt(t *testing.T) {
	t.Parallel()
	c, st, _ := newTestCache(t)
	ctx := context.Background()

	e, err := c.PutForTier(ctx, "v1", sampleMetrics(), models.TierHot)
	if err != nil {
		t.Fatal(err)
	}
	if !e.CachedAt.Equal(epoch) || !e.ExpiresAt.Equal(epoch.Add(6*time.Hour)) {
		t.Errorf("times = %v / %v", e.CachedAt, e.ExpiresAt)
	}

	stored, err := st.Analytics().Get(ctx, "v1")
	if err != nil {
		t.Fatalf("entry not written through: %v", err)
	}
	if stored.Impressions != 120000 {
		t.Errorf("Impressions = %d", stored.Impressions)
	}

	if _, err := c.Put(ctx, "v1", sampleMetrics(), 0); !errors.Is(err, ErrInvalidTTL) {
		t.Errorf("zero ttl err = %v, want ErrInvalidTTL", err)
	}
}

func TestPut_ReplacesExisting(t *testing.T) {
	t.Parallel()
	c, _, clk := newTestCache(t)
	ctx := context.Background()

	if _, err := c.Put(ctx, "v1", sampleMetrics(), time.Hour); err != nil {
		t.Fatal(err)
	}
	clk.Advance(30 * time.Minute)
	m := sampleMetrics()
	m.Impressions = 1
	if _, err := c.Put(ctx, "v1", m, time.Hour); err != nil {
		t.Fatal(err)
	}

	got, err := c.Get(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Impressions != 1 || !got.CachedAt.Equal(epoch.Add(30*time.Minute)) {
		t.Errorf("Get returned old entry: %+v", got)
	}
}

func TestFreshnessRoundTrip(t *testing.T) {
	t.Parallel()
	c, _, clk := newTestCache(t)
	ctx := context.Background()
	grace := c.Grace()

	if f, err := c.FreshnessOf(ctx, "v1"); err != nil || f != models.FreshnessExpired {
		t.Fatalf("absent entry freshness = %s, %v; want expired", f, err)
	}

	if _, err := c.Put(ctx, "v1", sampleMetrics(), time.Hour); err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		at   time.Duration
		want models.Freshness
	}{
		{0, models.FreshnessFresh},
		{time.Hour - time.Second, models.FreshnessFresh},
		{time.Hour, models.FreshnessStale},
		{time.Hour + grace - time.Second, models.FreshnessStale},
		{time.Hour + grace, models.FreshnessExpired},
	}
	for _, s := range steps {
		clk.Set(epoch.Add(s.at))
		f, err := c.FreshnessOf(ctx, "v1")
		if err != nil {
			t.Fatal(err)
		}
		if f != s.want {
			t.Errorf("freshness at +%v = %s, want %s", s.at, f, s.want)
		}
	}
}

func TestEvictExpired_RemovesFromBothTiers(t *testing.T) {
	t.Parallel()
	c, st, clk := newTestCache(t)
	ctx := context.Background()

	if _, err := c.Put(ctx, "old", sampleMetrics(), time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Put(ctx, "young", sampleMetrics(), 30*24*time.Hour); err != nil {
		t.Fatal(err)
	}
	// Warm L1 for both.
	if _, err := c.Get(ctx, "old"); err != nil {
		t.Fatal(err)
	}

	clk.Advance(time.Hour + c.Grace() + time.Second)
	ids, err := c.EvictExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "old" {
		t.Fatalf("evicted %v, want [old]", ids)
	}
	if _, err := st.Analytics().Get(ctx, "old"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("store still has evicted entry: %v", err)
	}
	if _, err := c.Get(ctx, "old"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("cache still serves evicted entry: %v", err)
	}
	if f, _ := c.FreshnessOf(ctx, "old"); f != models.FreshnessExpired {
		t.Errorf("evicted freshness = %s, want expired", f)
	}
	if _, err := c.Get(ctx, "young"); err != nil {
		t.Errorf("unexpired entry evicted: %v", err)
	}
}

func TestEvictExpired_KeepsStaleWithinGrace(t *testing.T) {
	t.Parallel()
	c, _, clk := newTestCache(t)
	ctx := context.Background()

	if _, err := c.Put(ctx, "v", sampleMetrics(), time.Hour); err != nil {
		t.Fatal(err)
	}
	clk.Advance(time.Hour + c.Grace())
	ids, err := c.EvictExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Errorf("entry at exactly expiresAt+grace evicted: %v", ids)
	}
}

// countingRepo counts store reads and can block them.
type countingRepo struct {
	store.AnalyticsRepository
	gets    atomic.Int32
	release chan struct{}
}

func (r *countingRepo) Get(ctx context.Context, id string) (*models.AnalyticsCacheEntry, error) {
	r.gets.Add(1)
	if r.release != nil {
		<-r.release
	}
	return r.AnalyticsRepository.Get(ctx, id)
}

func TestGet_ServedFromL1(t *testing.T) {
	t.Parallel()
	st := memstore.New()
	repo := &countingRepo{AnalyticsRepository: st.Analytics()}
	c := New(repo, config.Defaults().Cache, clock.NewFake(epoch))
	ctx := context.Background()

	if err := st.Analytics().Put(ctx, &models.AnalyticsCacheEntry{VideoID: "v", CachedAt: epoch, ExpiresAt: epoch.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if _, err := c.Get(ctx, "v"); err != nil {
			t.Fatal(err)
		}
	}
	if n := repo.gets.Load(); n != 1 {
		t.Errorf("store reads = %d, want 1", n)
	}
}

func TestGet_ConcurrentMissesCollapse(t *testing.T) {
	t.Parallel()
	st := memstore.New()
	repo := &countingRepo{AnalyticsRepository: st.Analytics(), release: make(chan struct{})}
	c := New(repo, config.Defaults().Cache, clock.NewFake(epoch))
	ctx := context.Background()

	if err := st.Analytics().Put(ctx, &models.AnalyticsCacheEntry{VideoID: "v", CachedAt: epoch, ExpiresAt: epoch.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(ctx, "v"); err != nil {
				t.Error(err)
			}
		}()
	}
	// Let the first reader through once the others have had time to join.
	time.Sleep(50 * time.Millisecond)
	close(repo.release)
	wg.Wait()

	if n := repo.gets.Load(); n > 3 {
		t.Errorf("store reads = %d, want concurrent misses collapsed", n)
	}
}

// ctxRepo blocks reads until release and fails them if their ctx ended.
type ctxRepo struct {
	store.AnalyticsRepository
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (r *ctxRepo) Get(ctx context.Context, id string) (*models.AnalyticsCacheEntry, error) {
	r.once.Do(func() { close(r.started) })
	<-r.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.AnalyticsRepository.Get(ctx, id)
}

func TestGet_CanceledLeaderDoesNotFailFollowers(t *testing.T) {
	t.Parallel()
	st := memstore.New()
	repo := &ctxRepo{AnalyticsRepository: st.Analytics(), started: make(chan struct{}), release: make(chan struct{})}
	c := New(repo, config.Defaults().Cache, clock.NewFake(epoch))

	if err := st.Analytics().Put(context.Background(), &models.AnalyticsCacheEntry{VideoID: "v", CachedAt: epoch, ExpiresAt: epoch.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.Get(leaderCtx, "v")
		leaderErr <- err
	}()
	<-repo.started

	followerErr := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background(), "v")
		followerErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-leaderErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("leader err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("canceled caller kept waiting on the shared read")
	}

	close(repo.release)
	select {
	case err := <-followerErr:
		if err != nil {
			t.Errorf("follower err = %v, want the entry", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("follower never returned")
	}

	if _, err := c.Get(context.Background(), "v"); err != nil {
		t.Errorf("entry not cached after the shared read: %v", err)
	}
}

func TestGet_ReturnsCopies(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	if _, err := c.Put(ctx, "v", sampleMetrics(), time.Hour); err != nil {
		t.Fatal(err)
	}
	a, _ := c.Get(ctx, "v")
	a.TrafficSources[0].Label = "mutated"

	b, _ := c.Get(ctx, "v")
	if b.TrafficSources[0].Label != "search" {
		t.Error("callers can mutate the cached entry")
	}
}

func TestGetMany(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if _, err := c.Put(ctx, id, sampleMetrics(), time.Hour); err != nil {
			t.Fatal(err)
		}
	}
	c.Invalidate("b")

	got, err := c.GetMany(ctx, []string{"a", "b", "missing"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got["a"] == nil || got["b"] == nil {
		t.Errorf("GetMany = %v", got)
	}
}
