// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/tubepulse/internal/models"
)

func TestRecordEnqueue(t *testing.T) {
	created := QueueEnqueued.WithLabelValues("basic", "high")
	coalesced := QueueCoalesced.WithLabelValues("basic")
	beforeCreated := testutil.ToFloat64(created)
	beforeCoalesced := testutil.ToFloat64(coalesced)

	RecordEnqueue(models.SyncBasic, models.PriorityHigh, true)
	RecordEnqueue(models.SyncBasic, models.PriorityHigh, false)
	RecordEnqueue(models.SyncBasic, models.PriorityHigh, false)

	if got := testutil.ToFloat64(created) - beforeCreated; got != 1 {
		t.Errorf("enqueued delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(coalesced) - beforeCoalesced; got != 2 {
		t.Errorf("coalesced delta = %v, want 2", got)
	}
}

func TestRecordDequeue_NegativeWaitClampsToZero(t *testing.T) {
	before := testutil.CollectAndCount(QueueWaitSeconds)
	RecordDequeue(models.PriorityUrgent, -time.Second)
	if after := testutil.CollectAndCount(QueueWaitSeconds); after != before {
		t.Errorf("histogram series changed from %d to %d", before, after)
	}
}

func TestRecordQueueOutcome(t *testing.T) {
	c := QueueOutcomes.WithLabelValues("reclaimed")
	before := testutil.ToFloat64(c)

	RecordQueueOutcome("reclaimed", 0)
	RecordQueueOutcome("reclaimed", 3)

	if got := testutil.ToFloat64(c) - before; got != 3 {
		t.Errorf("reclaimed delta = %v, want 3", got)
	}
}

func TestUpdateQueueDepth(t *testing.T) {
	UpdateQueueDepth(models.QueueStats{Pending: 4, Processing: 2, Completed: 10, Failed: 1})

	tests := map[models.Status]float64{
		models.StatusPending:    4,
		models.StatusProcessing: 2,
		models.StatusCompleted:  10,
		models.StatusFailed:     1,
	}
	for status, want := range tests {
		if got := testutil.ToFloat64(QueueDepth.WithLabelValues(string(status))); got != want {
			t.Errorf("depth[%s] = %v, want %v", status, got, want)
		}
	}
}

func TestRecordSyncJob(t *testing.T) {
	tests := []struct {
		name string
		kind string
	}{
		{"success", ""},
		{"transient failure", "transient"},
		{"permanent failure", "permanent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var before float64
			if tt.kind != "" {
				before = testutil.ToFloat64(SyncErrors.WithLabelValues(tt.kind))
			}
			RecordSyncJob(models.SyncFull, 25*time.Millisecond, tt.kind)
			if tt.kind != "" {
				if got := testutil.ToFloat64(SyncErrors.WithLabelValues(tt.kind)) - before; got != 1 {
					t.Errorf("errors delta = %v, want 1", got)
				}
			}
		})
	}
}

func TestRecordBreakerTransition(t *testing.T) {
	RecordBreakerTransition("provider-test", 0, 2)
	if got := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("provider-test")); got != 2 {
		t.Errorf("state = %v, want 2", got)
	}
	if got := testutil.ToFloat64(CircuitBreakerTransitions.WithLabelValues("provider-test", "0", "2")); got < 1 {
		t.Errorf("transitions = %v, want >= 1", got)
	}
}

func TestRecordCacheLookup(t *testing.T) {
	hit := AnalyticsCacheLookups.WithLabelValues("l1", "hit")
	miss := AnalyticsCacheLookups.WithLabelValues("l1", "miss")
	h0, m0 := testutil.ToFloat64(hit), testutil.ToFloat64(miss)

	RecordCacheLookup("l1", true)
	RecordCacheLookup("l1", false)
	RecordCacheLookup("l1", false)

	if got := testutil.ToFloat64(hit) - h0; got != 1 {
		t.Errorf("hits delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(miss) - m0; got != 2 {
		t.Errorf("misses delta = %v, want 2", got)
	}
}

func TestRecordSchedulerRun(t *testing.T) {
	ok := SchedulerRuns.WithLabelValues("success")
	failed := SchedulerRuns.WithLabelValues("error")
	ok0, failed0 := testutil.ToFloat64(ok), testutil.ToFloat64(failed)

	RecordSchedulerRun(time.Second, 100, nil)
	RecordSchedulerRun(time.Second, 0, errors.New("store unavailable"))

	if testutil.ToFloat64(ok)-ok0 != 1 || testutil.ToFloat64(failed)-failed0 != 1 {
		t.Error("expected one success and one error run")
	}
}

func TestRecordSweep(t *testing.T) {
	evicted := SweeperRemoved.WithLabelValues("analytics")
	before := testutil.ToFloat64(evicted)

	RecordSweep(7, 2, 1)

	if got := testutil.ToFloat64(evicted) - before; got != 7 {
		t.Errorf("evicted delta = %v, want 7", got)
	}
	if testutil.ToFloat64(SweeperLastRun) == 0 {
		t.Error("last run timestamp not set")
	}
}

func TestTrackActiveRequest_Concurrent(t *testing.T) {
	before := testutil.ToFloat64(APIActiveRequests)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			TrackActiveRequest(true)
			TrackActiveRequest(false)
		}()
	}
	wg.Wait()

	if got := testutil.ToFloat64(APIActiveRequests); got != before {
		t.Errorf("active requests = %v, want %v", got, before)
	}
}

// TestMetricGathering tests that metrics can be gathered using testutil
func TestMetricGathering(t *testing.T) {
	RecordAPIRequest("GET", "/api/v1/health", "200", time.Millisecond)
	RecordProviderCall("fetch_basic", "success", 40*time.Millisecond)

	problems, err := testutil.GatherAndLint(prometheus.DefaultGatherer)
	if err != nil {
		t.Logf("Lint errors (may be expected): %v", err)
	}
	for _, p := range problems {
		t.Logf("Metric lint problem: %s", p.Text)
	}
}
