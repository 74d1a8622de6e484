// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tubepulse/internal/analytics"
	"github.com/tomtom215/tubepulse/internal/catalog"
	"github.com/tomtom215/tubepulse/internal/clock"
	"github.com/tomtom215/tubepulse/internal/config"
	"github.com/tomtom215/tubepulse/internal/memstore"
	"github.com/tomtom215/tubepulse/internal/models"
	"github.com/tomtom215/tubepulse/internal/queue"
	"github.com/tomtom215/tubepulse/internal/scoring"
	"github.com/tomtom215/tubepulse/internal/store"
)

var epoch = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	handler http.Handler
	cat     *catalog.Catalog
	cache   *analytics.Cache
	queue   *queue.Queue
	clock   *clock.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Defaults()
	cfg.Server.RateLimit = 0

	st := memstore.New()
	clk := clock.NewFake(epoch)
	cat := catalog.New(st.Videos(), scoring.NewScorer(cfg.Scoring), clk)
	cache := analytics.New(st.Analytics(), cfg.Cache, clk)
	q := queue.New(st.Queue(), cfg.Queue, clk)

	h := NewHandler(cat, cache, q, st, clk)
	return &fixture{
		handler: NewRouter(h, cfg.Server).Setup(),
		cat:     cat,
		cache:   cache,
		queue:   q,
		clock:   clk,
	}
}

func (f *fixture) video(t *testing.T, owner, externalID string) *models.VideoRecord {
	t.Helper()
	rec, err := f.cat.UpsertBasic(context.Background(), owner, externalID,
		models.BasicMetrics{ViewCount: 1000, LikeCount: 50, CommentCount: 5},
		models.VideoMetadata{Title: externalID, PublishedAt: epoch.Add(-48 * time.Hour)})
	if err != nil {
		t.Fatalf("UpsertBasic: %v", err)
	}
	return rec
}

func (f *fixture) do(t *testing.T, method, target string) (*httptest.ResponseRecorder, models.APIResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(method, target, nil))

	var resp models.APIResponse
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode %s %s: %v\n%s", method, target, err, rec.Body.String())
		}
	}
	return rec, resp
}

// decodeData re-decodes the envelope's data into out.
func decodeData(t *testing.T, resp models.APIResponse, out interface{}) {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec, resp := f.do(t, http.MethodGet, "/api/v1/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if resp.Status != "success" {
		t.Errorf("envelope status = %q", resp.Status)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

type downStore struct{}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealth_StoreUnreachable(t *testing.T) {
	cfg := config.Defaults()
	cfg.Server.RateLimit = 0
	st := memstore.New()
	clk := clock.NewFake(epoch)
	h := NewHandler(
		catalog.New(st.Videos(), scoring.NewScorer(cfg.Scoring), clk),
		analytics.New(st.Analytics(), cfg.Cache, clk),
		queue.New(st.Queue(), cfg.Queue, clk),
		downStore{},
		clk,
	)
	router := NewRouter(h, cfg.Server).Setup()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "connection refused") {
		t.Error("internal error text leaked to the client")
	}
}

func TestListOwnerVideos_Freshness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	fresh := f.video(t, "owner-1", "fresh")
	stale := f.video(t, "owner-1", "stale")
	f.video(t, "owner-1", "never")
	f.video(t, "owner-2", "other")

	if _, err := f.cache.Put(ctx, fresh.ID, models.DetailedMetrics{Impressions: 1}, time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, err := f.cache.Put(ctx, stale.ID, models.DetailedMetrics{Impressions: 1}, time.Minute); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(2 * time.Minute)

	var all listVideosResponse
	rec, resp := f.do(t, http.MethodGet, "/api/v1/owners/owner-1/videos")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	decodeData(t, resp, &all)
	if all.Count != 3 || all.Limit != defaultListLimit {
		t.Fatalf("count/limit = %d/%d, want 3/%d", all.Count, all.Limit, defaultListLimit)
	}
	got := map[string]models.Freshness{}
	for _, v := range all.Videos {
		got[v.ExternalID] = v.Freshness
	}
	want := map[string]models.Freshness{
		"fresh": models.FreshnessFresh,
		"stale": models.FreshnessStale,
		"never": models.FreshnessExpired,
	}
	for k, w := range want {
		if got[k] != w {
			t.Errorf("freshness[%s] = %q, want %q", k, got[k], w)
		}
	}

	var staleOnly listVideosResponse
	_, resp = f.do(t, http.MethodGet, "/api/v1/owners/owner-1/videos?freshness=stale")
	decodeData(t, resp, &staleOnly)
	if staleOnly.Count != 1 || staleOnly.Videos[0].ID != stale.ID {
		t.Errorf("freshness=stale returned %+v", staleOnly.Videos)
	}
}

func TestListOwnerVideos_DeletedHiddenByDefault(t *testing.T) {
	f := newFixture(t)
	v := f.video(t, "owner-1", "gone")
	f.video(t, "owner-1", "kept")
	if err := f.cat.MarkDeleted(context.Background(), v.ID); err != nil {
		t.Fatal(err)
	}

	var out listVideosResponse
	_, resp := f.do(t, http.MethodGet, "/api/v1/owners/owner-1/videos")
	decodeData(t, resp, &out)
	if out.Count != 1 {
		t.Errorf("default count = %d, want 1", out.Count)
	}

	_, resp = f.do(t, http.MethodGet, "/api/v1/owners/owner-1/videos?include_deleted=true")
	decodeData(t, resp, &out)
	if out.Count != 2 {
		t.Errorf("include_deleted count = %d, want 2", out.Count)
	}
}

func TestListOwnerVideos_Validation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		query string
		field string
	}{
		{"tier=LUKEWARM", "tier"},
		{"freshness=old", "freshness"},
		{"limit=0", "limit"},
		{"limit=501", "limit"},
		{"limit=abc", "limit"},
		{"offset=-1", "offset"},
		{"include_deleted=maybe", "include_deleted"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec, resp := f.do(t, http.MethodGet, "/api/v1/owners/o/videos?"+tt.query)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if resp.Error == nil || resp.Error.Code != codeValidation {
				t.Fatalf("error = %+v, want %s", resp.Error, codeValidation)
			}
			if _, ok := resp.Error.Details[tt.field]; !ok {
				t.Errorf("details %v do not name %s", resp.Error.Details, tt.field)
			}
		})
	}
}

func TestGetVideo(t *testing.T) {
	f := newFixture(t)
	v := f.video(t, "owner-1", "x1")
	if _, err := f.cache.PutForTier(context.Background(), v.ID, models.DetailedMetrics{WatchTimeMinutes: 12}, v.PerformanceTier); err != nil {
		t.Fatal(err)
	}

	rec, resp := f.do(t, http.MethodGet, "/api/v1/videos/"+v.ID)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var detail models.VideoDetail
	decodeData(t, resp, &detail)
	if detail.Video == nil || detail.Video.ID != v.ID {
		t.Fatalf("video = %+v", detail.Video)
	}
	if detail.Analytics == nil || detail.Analytics.WatchTimeMinutes != 12 {
		t.Errorf("analytics = %+v", detail.Analytics)
	}
	if detail.Freshness != models.FreshnessFresh {
		t.Errorf("freshness = %q, want fresh", detail.Freshness)
	}
}

func TestGetVideo_WithoutAnalyticsIsExpired(t *testing.T) {
	f := newFixture(t)
	v := f.video(t, "owner-1", "x1")

	_, resp := f.do(t, http.MethodGet, "/api/v1/videos/"+v.ID)
	var detail models.VideoDetail
	decodeData(t, resp, &detail)
	if detail.Analytics != nil {
		t.Errorf("analytics = %+v, want nil", detail.Analytics)
	}
	if detail.Freshness != models.FreshnessExpired {
		t.Errorf("freshness = %q, want expired", detail.Freshness)
	}
}

func TestGetVideo_NotFound(t *testing.T) {
	f := newFixture(t)
	rec, resp := f.do(t, http.MethodGet, "/api/v1/videos/missing")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeNotFound {
		t.Errorf("error = %+v", resp.Error)
	}
}

func TestRefreshVideo(t *testing.T) {
	f := newFixture(t)
	v := f.video(t, "owner-1", "x1")

	rec, resp := f.do(t, http.MethodPost, "/api/v1/videos/"+v.ID+"/refresh")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var first models.RefreshAccepted
	decodeData(t, resp, &first)
	if first.Coalesced {
		t.Error("first refresh should not coalesce")
	}
	if first.Item.SyncType != models.SyncFull || first.Item.Priority != models.PriorityUrgent {
		t.Errorf("item = %s/%s, want full/urgent", first.Item.SyncType, first.Item.Priority)
	}

	_, resp = f.do(t, http.MethodPost, "/api/v1/videos/"+v.ID+"/refresh?type=full")
	var second models.RefreshAccepted
	decodeData(t, resp, &second)
	if !second.Coalesced || second.Item.ID != first.Item.ID {
		t.Errorf("second refresh = %+v, want coalesced onto %s", second, first.Item.ID)
	}

	_, resp = f.do(t, http.MethodPost, "/api/v1/videos/"+v.ID+"/refresh?type=basic")
	var basic models.RefreshAccepted
	decodeData(t, resp, &basic)
	if basic.Coalesced || basic.Item.SyncType != models.SyncBasic {
		t.Errorf("basic refresh = %+v", basic)
	}
}

func TestRefreshVideo_Errors(t *testing.T) {
	f := newFixture(t)
	v := f.video(t, "owner-1", "gone")
	if err := f.cat.MarkDeleted(context.Background(), v.ID); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"unknown video", "/api/v1/videos/missing/refresh", http.StatusNotFound},
		{"deleted video", "/api/v1/videos/" + v.ID + "/refresh", http.StatusNotFound},
		{"bad type", "/api/v1/videos/" + v.ID + "/refresh?type=partial", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := f.do(t, http.MethodPost, tt.target)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestDeleteVideo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.video(t, "owner-1", "x1")
	if _, err := f.cache.Put(ctx, v.ID, models.DetailedMetrics{}, time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, err := f.cache.Get(ctx, v.ID); err != nil {
		t.Fatal(err)
	}

	rec, _ := f.do(t, http.MethodDelete, "/api/v1/videos/"+v.ID)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if _, err := f.cat.Get(ctx, v.ID); err == nil {
		t.Error("record still present after delete")
	}
	if _, err := f.cache.Get(ctx, v.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("analytics Get after delete = %v, want ErrNotFound", err)
	}

	rec, _ = f.do(t, http.MethodDelete, "/api/v1/videos/"+v.ID)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestQueueStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if _, _, err := f.queue.Enqueue(ctx, id, models.SyncBasic, models.PriorityLow, nil); err != nil {
			t.Fatal(err)
		}
	}

	_, resp := f.do(t, http.MethodGet, "/api/v1/queue/stats")
	var stats models.QueueStats
	decodeData(t, resp, &stats)
	if stats.Pending != 2 {
		t.Errorf("pending = %d, want 2", stats.Pending)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/api/v1/health")

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "api_requests_total") {
		t.Error("metrics output lacks the API request counter")
	}
}

func TestRateLimit(t *testing.T) {
	cfg := config.Defaults()
	cfg.Server.RateLimit = 2
	st := memstore.New()
	clk := clock.NewFake(epoch)
	h := NewHandler(
		catalog.New(st.Videos(), scoring.NewScorer(cfg.Scoring), clk),
		analytics.New(st.Analytics(), cfg.Cache, clk),
		queue.New(st.Queue(), cfg.Queue, clk),
		st,
		clk,
	)
	router := NewRouter(h, cfg.Server).Setup()

	codes := make([]int, 3)
	for i := range codes {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
		req.RemoteAddr = "203.0.113.7:1234"
		router.ServeHTTP(rec, req)
		codes[i] = rec.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}
}

func TestSanitizeLogValue(t *testing.T) {
	if got := sanitizeLogValue("a\nb\x7f"); got != `a\x0ab\x7f` {
		t.Errorf("sanitizeLogValue = %q", got)
	}
}
