// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

// Package config loads TubePulse configuration.
//
// Loading order (Koanf v2):
//  1. Defaults: built-in values from defaultConfig()
//  2. Config file: optional YAML file (CONFIG_PATH, ./config.yaml, /etc/tubepulse/config.yaml)
//  3. Environment variables: a fixed mapping, see envTransformFunc
//
// Sections:
//   - Server, Logging: the read API and log output
//   - Database: DuckDB file or the in-memory backend
//   - Provider: Analytics Provider endpoint, credentials and fetch budget
//   - Scoring, Cache: score coefficients and tier-dependent TTLs
//   - Queue, Scheduler, Workers, Sweeper: sync pipeline timing
//   - Supervisor: restart policy of the service tree
package config

import "time"

// Config is the full application configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Logging    LoggingConfig    `koanf:"logging"`
	Provider   ProviderConfig   `koanf:"provider"`
	Scoring    ScoringConfig    `koanf:"scoring"`
	Cache      CacheConfig      `koanf:"cache"`
	Queue      QueueConfig      `koanf:"queue"`
	Scheduler  SchedulerConfig  `koanf:"scheduler"`
	Workers    WorkersConfig    `koanf:"workers"`
	Sweeper    SweeperConfig    `koanf:"sweeper"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
}

// ServerConfig configures the catalog read API.
type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	Timeout     time.Duration `koanf:"timeout"`
	CORSOrigins []string      `koanf:"cors_origins"`
	// RateLimit is requests per minute per client IP. 0 disables limiting.
	RateLimit int `koanf:"rate_limit"`
}

// DatabaseConfig selects and configures the storage backend.
type DatabaseConfig struct {
	// Backend is "duckdb" or "memory".
	Backend   string `koanf:"backend"`
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"`
}

// LoggingConfig holds log output options.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// ProviderConfig configures access to the external Analytics Provider.
type ProviderConfig struct {
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`

	// RateLimit is the sustained fetch budget in requests per second,
	// shared by every worker.
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`

	// MaxRetries is resty's in-request retry count for transport errors.
	MaxRetries int `koanf:"max_retries"`

	BreakerMaxRequests uint32        `koanf:"breaker_max_requests"`
	BreakerInterval    time.Duration `koanf:"breaker_interval"`
	BreakerTimeout     time.Duration `koanf:"breaker_timeout"`

	// DefaultToken is used for owners without an entry in OwnerTokens.
	DefaultToken string            `koanf:"default_token"`
	OwnerTokens  map[string]string `koanf:"owner_tokens"`
}

// ScoringConfig holds the performance score coefficients.
type ScoringConfig struct {
	EngagementWeight  float64 `koanf:"engagement_weight"`
	VelocityWeight    float64 `koanf:"velocity_weight"`
	EngagementCap     float64 `koanf:"engagement_cap"`
	DecayExponent     float64 `koanf:"decay_exponent"`
	MinAgeDays        float64 `koanf:"min_age_days"`
	ReferenceVelocity float64 `koanf:"reference_velocity"`
	MinHistory        int     `koanf:"min_history"`
	HotThreshold      float64 `koanf:"hot_threshold"`
	WarmThreshold     float64 `koanf:"warm_threshold"`
}

// CacheConfig holds analytics cache TTLs.
type CacheConfig struct {
	HotTTL  time.Duration `koanf:"hot_ttl"`
	WarmTTL time.Duration `koanf:"warm_ttl"`
	ColdTTL time.Duration `koanf:"cold_ttl"`
	// Grace is how long an expired entry is still served as stale.
	Grace time.Duration `koanf:"grace"`

	L1Capacity int           `koanf:"l1_capacity"`
	L1TTL      time.Duration `koanf:"l1_ttl"`
}

// QueueConfig holds sync queue retry bookkeeping.
type QueueConfig struct {
	MaxAttempts  int           `koanf:"max_attempts"`
	BackoffBase  time.Duration `koanf:"backoff_base"`
	BackoffCap   time.Duration `koanf:"backoff_cap"`
	ClaimTimeout time.Duration `koanf:"claim_timeout"`
	Retention    time.Duration `koanf:"retention"`
}

// SchedulerConfig configures the periodic freshness pass.
type SchedulerConfig struct {
	// Schedule is a robfig/cron spec, e.g. "@every 5m".
	Schedule  string `koanf:"schedule"`
	BatchSize int    `koanf:"batch_size"`

	HotInterval  time.Duration `koanf:"hot_interval"`
	WarmInterval time.Duration `koanf:"warm_interval"`
	ColdInterval time.Duration `koanf:"cold_interval"`

	DiscoveryEnabled bool     `koanf:"discovery_enabled"`
	Owners           []string `koanf:"owners"`
}

// WorkersConfig sizes the sync worker pool.
type WorkersConfig struct {
	Count       int           `koanf:"count"`
	IdleBackoff time.Duration `koanf:"idle_backoff"`
	// FetchTimeout bounds one provider round trip plus store writes.
	FetchTimeout time.Duration `koanf:"fetch_timeout"`
}

// SweeperConfig configures the eviction sweeper.
type SweeperConfig struct {
	Schedule string `koanf:"schedule"`
}

// SupervisorConfig mirrors suture's restart policy.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold"`
	FailureDecay     float64       `koanf:"failure_decay"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}

// TokenFor returns the provider credential for an owner.
func (p ProviderConfig) TokenFor(ownerID string) (string, bool) {
	if tok, ok := p.OwnerTokens[ownerID]; ok && tok != "" {
		return tok, true
	}
	if p.DefaultToken != "" {
		return p.DefaultToken, true
	}
	return "", false
}
