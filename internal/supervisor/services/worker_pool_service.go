// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

package services

import (
	"context"
	"fmt"
)

// Runner is a component that blocks in Run until ctx is canceled.
//
// Satisfied by *worker.Pool.
type Runner interface {
	Run(ctx context.Context) error
}

// WorkerPoolService wraps the sync worker pool as a supervised service.
type WorkerPoolService struct {
	pool Runner
	name string
}

// NewWorkerPoolService creates a worker pool service.
//
//	pool := worker.NewPool(q, cat, cache, guarded, creds, cfg.Workers)
//	tree.AddSyncService(services.NewWorkerPoolService(pool))
func NewWorkerPoolService(pool Runner) *WorkerPoolService {
	return &WorkerPoolService{pool: pool, name: "sync-workers"}
}

// Serve implements suture.Service. It returns once every worker has
// finished its current item.
func (w *WorkerPoolService) Serve(ctx context.Context) error {
	if err := w.pool.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("worker pool failed: %w", err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer.
func (w *WorkerPoolService) String() string {
	return w.name
}
