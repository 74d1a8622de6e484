// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

// Package sweeper removes data that has outlived its usefulness: analytics
// entries past their grace period, old terminal queue items, and claims
// held by workers that died.
package sweeper

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tomtom215/tubepulse/internal/analytics"
	"github.com/tomtom215/tubepulse/internal/logging"
	"github.com/tomtom215/tubepulse/internal/metrics"
	"github.com/tomtom215/tubepulse/internal/queue"
)

// Result counts what one sweep removed or reset.
type Result struct {
	EvictedEntries int `json:"evicted_entries"`
	PurgedItems    int `json:"purged_items"`
	ReclaimedItems int `json:"reclaimed_items"`
}

// Sweeper runs the eviction pass.
type Sweeper struct {
	analytics *analytics.Cache
	queue     *queue.Queue

	mu sync.Mutex
}

// New creates a Sweeper.
func New(cache *analytics.Cache, q *queue.Queue) *Sweeper {
	return &Sweeper{analytics: cache, queue: q}
}

// Run is the periodic task form of Sweep.
func (s *Sweeper) Run(ctx context.Context) error {
	_, err := s.Sweep(logging.ContextWithNewCorrelationID(ctx))
	return err
}

// Sweep runs every step even if an earlier one fails, and returns the
// joined errors.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	var (
		res  Result
		errs []error
	)

	if ids, err := s.analytics.EvictExpired(ctx); err != nil {
		errs = append(errs, err)
	} else {
		res.EvictedEntries = len(ids)
	}

	if n, err := s.queue.PurgeTerminal(ctx); err != nil {
		errs = append(errs, err)
	} else {
		res.PurgedItems = n
	}

	if n, err := s.queue.ReclaimStale(ctx); err != nil {
		errs = append(errs, err)
	} else {
		res.ReclaimedItems = n
	}

	// Refresh depth gauges while we are here.
	if _, err := s.queue.Stats(ctx); err != nil {
		errs = append(errs, err)
	}

	metrics.RecordSweep(res.EvictedEntries, res.PurgedItems, res.ReclaimedItems)

	err := errors.Join(errs...)
	ev := logging.Ctx(ctx).Info()
	if err != nil {
		ev = logging.Ctx(ctx).Error().Err(err)
	}
	ev.Int("evicted_entries", res.EvictedEntries).
		Int("purged_items", res.PurgedItems).
		Int("reclaimed_items", res.ReclaimedItems).
		Dur("duration", time.Since(start)).
		Msg("Sweep finished")
	return res, err
}
