// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

// Package services adapts TubePulse components to suture.Service.
package services

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tomtom215/tubepulse/internal/logging"
)

// Task is one run of a periodic job.
type Task func(ctx context.Context) error

// PeriodicService runs a task on a cron schedule.
//
// The task runs once as soon as the service starts, then at every
// activation of the schedule. Runs never overlap: an activation that falls
// during a run is skipped. A failed run is logged and does not stop the
// service, so suture only restarts it on panic.
type PeriodicService struct {
	name     string
	schedule cron.Schedule
	task     Task
	now      func() time.Time
}

// NewPeriodicService creates a periodic service. Parse schedule with
// config.ParseSchedule.
func NewPeriodicService(name string, schedule cron.Schedule, task Task) *PeriodicService {
	return &PeriodicService{
		name:     name,
		schedule: schedule,
		task:     task,
		now:      time.Now,
	}
}

// Serve implements suture.Service.
func (p *PeriodicService) Serve(ctx context.Context) error {
	logger := logging.WithComponent(p.name)
	logger.Info().Msg("Periodic service started")

	p.runOnce(ctx)
	for {
		next := p.schedule.Next(p.now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info().Msg("Periodic service stopped")
			return ctx.Err()
		case <-timer.C:
			p.runOnce(ctx)
		}
	}
}

func (p *PeriodicService) runOnce(ctx context.Context) {
	if err := p.task(ctx); err != nil && ctx.Err() == nil {
		logger := logging.WithComponent(p.name)
		logger.Error().Err(err).Msg("Periodic task failed")
	}
}

// String implements fmt.Stringer. Suture uses it in log messages.
func (p *PeriodicService) String() string {
	return p.name
}
