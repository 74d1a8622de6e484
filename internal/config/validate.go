// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateServer,
		c.validateDatabase,
		c.validateLogging,
		c.validateProvider,
		c.validateScoring,
		c.validateCache,
		c.validateQueue,
		c.validateScheduler,
		c.validateWorkers,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive, got %v", c.Server.Timeout)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("HTTP_RATE_LIMIT must be non-negative, got %d", c.Server.RateLimit)
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Backend {
	case "duckdb":
		if c.Database.Path == "" {
			return fmt.Errorf("DUCKDB_PATH is required when STORAGE_BACKEND=duckdb")
		}
	case "memory":
	default:
		return fmt.Errorf("STORAGE_BACKEND must be duckdb or memory, got %q", c.Database.Backend)
	}
	if c.Database.Threads < 0 {
		return fmt.Errorf("DUCKDB_THREADS must be non-negative, got %d", c.Database.Threads)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error; got %q", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) validateProvider() error {
	u, err := url.Parse(c.Provider.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("PROVIDER_BASE_URL must be an absolute URL, got %q", c.Provider.BaseURL)
	}
	if c.Provider.RateLimit <= 0 {
		return fmt.Errorf("PROVIDER_RATE_LIMIT must be positive, got %v", c.Provider.RateLimit)
	}
	if c.Provider.Burst < 1 {
		return fmt.Errorf("PROVIDER_BURST must be at least 1, got %d", c.Provider.Burst)
	}
	if c.Provider.Timeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive, got %v", c.Provider.Timeout)
	}
	return nil
}

func (c *Config) validateScoring() error {
	s := c.Scoring
	if s.EngagementWeight < 0 || s.VelocityWeight < 0 || s.EngagementWeight+s.VelocityWeight <= 0 {
		return fmt.Errorf("scoring weights must be non-negative with a positive sum")
	}
	if s.EngagementCap <= 0 {
		return fmt.Errorf("scoring.engagement_cap must be positive, got %v", s.EngagementCap)
	}
	if s.MinAgeDays <= 0 {
		return fmt.Errorf("scoring.min_age_days must be positive, got %v", s.MinAgeDays)
	}
	if s.ReferenceVelocity <= 0 {
		return fmt.Errorf("scoring.reference_velocity must be positive, got %v", s.ReferenceVelocity)
	}
	if s.WarmThreshold <= 0 || s.HotThreshold <= s.WarmThreshold || s.HotThreshold > 100 {
		return fmt.Errorf("scoring thresholds must satisfy 0 < warm < hot <= 100, got warm=%v hot=%v",
			s.WarmThreshold, s.HotThreshold)
	}
	return nil
}

func (c *Config) validateCache() error {
	ca := c.Cache
	if ca.HotTTL <= 0 || ca.WarmTTL <= 0 || ca.ColdTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	if ca.HotTTL > ca.WarmTTL || ca.WarmTTL > ca.ColdTTL {
		return fmt.Errorf("cache TTLs must satisfy hot <= warm <= cold, got %v/%v/%v", ca.HotTTL, ca.WarmTTL, ca.ColdTTL)
	}
	if ca.Grace < 0 {
		return fmt.Errorf("cache.grace must be non-negative, got %v", ca.Grace)
	}
	if ca.L1Capacity < 0 {
		return fmt.Errorf("cache.l1_capacity must be non-negative, got %d", ca.L1Capacity)
	}
	return nil
}

func (c *Config) validateQueue() error {
	q := c.Queue
	if q.MaxAttempts < 1 {
		return fmt.Errorf("QUEUE_MAX_ATTEMPTS must be at least 1, got %d", q.MaxAttempts)
	}
	if q.BackoffBase <= 0 || q.BackoffCap < q.BackoffBase {
		return fmt.Errorf("queue backoff must satisfy 0 < base <= cap, got base=%v cap=%v", q.BackoffBase, q.BackoffCap)
	}
	if q.ClaimTimeout <= 0 || q.Retention <= 0 {
		return fmt.Errorf("queue claim_timeout and retention must be positive")
	}
	return nil
}

func (c *Config) validateScheduler() error {
	for name, spec := range map[string]string{
		"SCHEDULER_SCHEDULE": c.Scheduler.Schedule,
		"SWEEPER_SCHEDULE":   c.Sweeper.Schedule,
	} {
		if _, err := ParseSchedule(spec); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.Scheduler.BatchSize < 1 {
		return fmt.Errorf("SCHEDULER_BATCH_SIZE must be at least 1, got %d", c.Scheduler.BatchSize)
	}
	if c.Scheduler.HotInterval <= 0 || c.Scheduler.WarmInterval <= 0 || c.Scheduler.ColdInterval <= 0 {
		return fmt.Errorf("scheduler refresh intervals must be positive")
	}
	return nil
}

func (c *Config) validateWorkers() error {
	if c.Workers.Count < 1 {
		return fmt.Errorf("WORKERS_COUNT must be at least 1, got %d", c.Workers.Count)
	}
	if c.Workers.IdleBackoff <= 0 || c.Workers.FetchTimeout <= 0 {
		return fmt.Errorf("workers idle_backoff and fetch_timeout must be positive")
	}
	return nil
}

// scheduleParser accepts standard 5-field specs and descriptors like "@every 5m".
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a cron spec such as "*/5 * * * *" or "@every 1h".
func ParseSchedule(spec string) (cron.Schedule, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, fmt.Errorf("schedule must not be empty")
	}
	sched, err := scheduleParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return sched, nil
}
