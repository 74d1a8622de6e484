// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tomtom215/tubepulse/internal/models"
)

// Prometheus instrumentation for:
// - Sync queue throughput and depth
// - Provider calls, rate limiting and the circuit breaker
// - Analytics cache efficiency
// - Scheduler and sweeper passes
// - API endpoint latency

var (
	// Sync Queue Metrics
	QueueEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_queue_enqueued_total",
			Help: "Total number of sync queue items created",
		},
		[]string{"sync_type", "priority"},
	)

	QueueCoalesced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_queue_coalesced_total",
			Help: "Total number of enqueue requests absorbed by an already active item",
		},
		[]string{"sync_type"},
	)

	QueueDequeued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_queue_dequeued_total",
			Help: "Total number of items claimed by workers",
		},
		[]string{"priority"},
	)

	QueueWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_queue_wait_seconds",
			Help:    "Time between an item becoming due and being claimed",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		},
	)

	QueueOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_queue_outcomes_total",
			Help: "Total number of processed items by outcome",
		},
		[]string{"outcome"}, // completed, retried, failed, released, reclaimed
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_queue_items",
			Help: "Current number of queue items by status",
		},
		[]string{"status"},
	)

	// Sync Job Metrics
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_job_duration_seconds",
			Help:    "Duration of a single video sync job in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sync_type"},
	)

	SyncErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_job_errors_total",
			Help: "Total number of failed sync jobs",
		},
		[]string{"kind"},
	)

	VideosScored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videos_scored_total",
			Help: "Total number of basic syncs by resulting tier",
		},
		[]string{"tier"},
	)

	VideosDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "videos_soft_deleted_total",
			Help: "Total number of videos marked deleted after the provider reported them gone",
		},
	)

	// Provider Metrics
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_requests_total",
			Help: "Total number of provider API calls",
		},
		[]string{"operation", "result"},
	)

	ProviderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_request_duration_seconds",
			Help:    "Provider API call duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)

	ProviderRateLimitWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "provider_rate_limit_wait_seconds",
			Help:    "Time spent waiting for the provider rate limiter",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10},
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Analytics Cache Metrics
	AnalyticsCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analytics_cache_lookups_total",
			Help: "Total number of analytics cache lookups by layer and result",
		},
		[]string{"layer", "result"}, // layer: l1, store; result: hit, miss
	)

	AnalyticsCacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analytics_cache_writes_total",
			Help: "Total number of analytics entries written by tier",
		},
		[]string{"tier"},
	)

	AnalyticsL1Entries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "analytics_cache_l1_entries",
			Help: "Current number of entries in the in-process analytics cache",
		},
	)

	// Scheduler Metrics
	SchedulerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_runs_total",
			Help: "Total number of scheduling passes",
		},
		[]string{"status"},
	)

	SchedulerDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheduler_run_duration_seconds",
			Help:    "Duration of a scheduling pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SchedulerScanned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_videos_scanned_total",
			Help: "Total number of videos inspected by the scheduler",
		},
	)

	DiscoveredVideos = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_videos_discovered_total",
			Help: "Total number of new videos registered by discovery",
		},
	)

	// Sweeper Metrics
	SweeperRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweeper_removed_total",
			Help: "Total number of records removed or recovered by the sweeper",
		},
		[]string{"kind"}, // analytics, queue_items, reclaimed
	)

	SweeperLastRun = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sweeper_last_run_timestamp",
			Help: "Unix timestamp of the last completed sweep",
		},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)
)

// RecordEnqueue records an enqueue request; created is false when it was
// coalesced into an existing active item.
func RecordEnqueue(syncType models.SyncType, priority models.Priority, created bool) {
	if created {
		QueueEnqueued.WithLabelValues(string(syncType), string(priority)).Inc()
		return
	}
	QueueCoalesced.WithLabelValues(string(syncType)).Inc()
}

// RecordDequeue records a claimed item and how long it waited past its due time.
func RecordDequeue(priority models.Priority, wait time.Duration) {
	QueueDequeued.WithLabelValues(string(priority)).Inc()
	if wait < 0 {
		wait = 0
	}
	QueueWaitSeconds.Observe(wait.Seconds())
}

// RecordQueueOutcome records how a claimed item left the processing state.
func RecordQueueOutcome(outcome string, n int) {
	if n <= 0 {
		return
	}
	QueueOutcomes.WithLabelValues(outcome).Add(float64(n))
}

// UpdateQueueDepth publishes the per-status queue counts.
func UpdateQueueDepth(s models.QueueStats) {
	QueueDepth.WithLabelValues(string(models.StatusPending)).Set(float64(s.Pending))
	QueueDepth.WithLabelValues(string(models.StatusProcessing)).Set(float64(s.Processing))
	QueueDepth.WithLabelValues(string(models.StatusCompleted)).Set(float64(s.Completed))
	QueueDepth.WithLabelValues(string(models.StatusFailed)).Set(float64(s.Failed))
}

// RecordSyncJob records a finished sync job. kind is empty on success.
func RecordSyncJob(syncType models.SyncType, duration time.Duration, kind string) {
	SyncDuration.WithLabelValues(string(syncType)).Observe(duration.Seconds())
	if kind != "" {
		SyncErrors.WithLabelValues(kind).Inc()
	}
}

// RecordProviderCall records a provider call. result is "success" or an
// error kind such as "transient" or "not_found".
func RecordProviderCall(operation, result string, duration time.Duration) {
	ProviderRequests.WithLabelValues(operation, result).Inc()
	ProviderDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordBreakerTransition records a circuit breaker state change. States are
// the numeric codes used by CircuitBreakerState.
func RecordBreakerTransition(name string, from, to int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(to))
	CircuitBreakerTransitions.WithLabelValues(name, strconv.Itoa(from), strconv.Itoa(to)).Inc()
}

// RecordCacheLookup records an analytics cache lookup at layer.
func RecordCacheLookup(layer string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	AnalyticsCacheLookups.WithLabelValues(layer, result).Inc()
}

// RecordSchedulerRun records a scheduling pass.
func RecordSchedulerRun(duration time.Duration, scanned int, err error) {
	SchedulerDuration.Observe(duration.Seconds())
	SchedulerScanned.Add(float64(scanned))
	status := "success"
	if err != nil {
		status = "error"
	}
	SchedulerRuns.WithLabelValues(status).Inc()
}

// RecordSweep records a completed sweeper pass.
func RecordSweep(evicted, purged, reclaimed int) {
	SweeperRemoved.WithLabelValues("analytics").Add(float64(evicted))
	SweeperRemoved.WithLabelValues("queue_items").Add(float64(purged))
	SweeperRemoved.WithLabelValues("reclaimed").Add(float64(reclaimed))
	SweeperLastRun.Set(float64(time.Now().Unix()))
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
