// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists config file locations in priority order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/tubepulse/config.yaml",
	"/etc/tubepulse/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Defaults returns the built-in configuration, before any file or
// environment overrides.
func Defaults() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8740,
			Timeout:     30 * time.Second,
			CORSOrigins: []string{"*"},
			RateLimit:   300,
		},
		Database: DatabaseConfig{
			Backend:   "duckdb",
			Path:      "/data/tubepulse.duckdb",
			MaxMemory: "1GB",
			Threads:   0, // 0 = DuckDB picks from NumCPU
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Provider: ProviderConfig{
			BaseURL:            "http://localhost:8090",
			Timeout:            15 * time.Second,
			RateLimit:          5,
			Burst:              10,
			MaxRetries:         1,
			BreakerMaxRequests: 3,
			BreakerInterval:    time.Minute,
			BreakerTimeout:     2 * time.Minute,
			OwnerTokens:        map[string]string{},
		},
		Scoring: ScoringConfig{
			EngagementWeight:  0.5,
			VelocityWeight:    0.5,
			EngagementCap:     0.10,
			DecayExponent:     1.0,
			MinAgeDays:        1.0,
			ReferenceVelocity: 100000,
			MinHistory:        5,
			HotThreshold:      66,
			WarmThreshold:     33,
		},
		Cache: CacheConfig{
			HotTTL:     6 * time.Hour,
			WarmTTL:    24 * time.Hour,
			ColdTTL:    72 * time.Hour,
			Grace:      7 * 24 * time.Hour,
			L1Capacity: 10000,
			L1TTL:      5 * time.Minute,
		},
		Queue: QueueConfig{
			MaxAttempts:  3,
			BackoffBase:  30 * time.Second,
			BackoffCap:   30 * time.Minute,
			ClaimTimeout: 10 * time.Minute,
			Retention:    30 * 24 * time.Hour,
		},
		Scheduler: SchedulerConfig{
			Schedule:         "@every 5m",
			BatchSize:        500,
			HotInterval:      time.Hour,
			WarmInterval:     6 * time.Hour,
			ColdInterval:     24 * time.Hour,
			DiscoveryEnabled: false,
		},
		Workers: WorkersConfig{
			Count:        4,
			IdleBackoff:  2 * time.Second,
			FetchTimeout: time.Minute,
		},
		Sweeper: SweeperConfig{
			Schedule: "@every 1h",
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}

// Load is the entry point used by main.
func Load() (*Config, error) {
	return LoadWithKoanf()
}

// LoadWithKoanf loads configuration with precedence ENV > file > defaults
// and validates the result.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// WORKERS_COUNT -> workers.count, see envTransformFunc
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}
	if err := processOwnerTokens(k); err != nil {
		return nil, fmt.Errorf("failed to process owner tokens: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed as comma-separated lists when they come from env.
var sliceConfigPaths = []string{
	"server.cors_origins",
	"scheduler.owners",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		if parts := splitList(strVal); len(parts) > 0 {
			if err := k.Set(path, parts); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// processOwnerTokens expands PROVIDER_OWNER_TOKENS="owner1=tok1,owner2=tok2".
func processOwnerTokens(k *koanf.Koanf) error {
	strVal, ok := k.Get("provider.owner_tokens").(string)
	if !ok {
		return nil
	}
	tokens := make(map[string]interface{})
	for _, pair := range splitList(strVal) {
		owner, token, found := strings.Cut(pair, "=")
		if !found || strings.TrimSpace(owner) == "" {
			return fmt.Errorf("malformed owner token %q, want owner=token", pair)
		}
		tokens[strings.TrimSpace(owner)] = strings.TrimSpace(token)
	}
	k.Delete("provider.owner_tokens")
	return k.Set("provider.owner_tokens", tokens)
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// envMappings maps environment variable names (lower-cased) to koanf paths.
// Unmapped variables are ignored so the process environment cannot leak
// into the config tree.
var envMappings = map[string]string{
	"http_host":       "server.host",
	"http_port":       "server.port",
	"http_timeout":    "server.timeout",
	"cors_origins":    "server.cors_origins",
	"http_rate_limit": "server.rate_limit",

	"storage_backend":   "database.backend",
	"duckdb_path":       "database.path",
	"duckdb_max_memory": "database.max_memory",
	"duckdb_threads":    "database.threads",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"provider_base_url":             "provider.base_url",
	"provider_timeout":              "provider.timeout",
	"provider_rate_limit":           "provider.rate_limit",
	"provider_burst":                "provider.burst",
	"provider_max_retries":          "provider.max_retries",
	"provider_breaker_max_requests": "provider.breaker_max_requests",
	"provider_breaker_interval":     "provider.breaker_interval",
	"provider_breaker_timeout":      "provider.breaker_timeout",
	"provider_default_token":        "provider.default_token",
	"provider_owner_tokens":         "provider.owner_tokens",

	"scoring_engagement_weight":  "scoring.engagement_weight",
	"scoring_velocity_weight":    "scoring.velocity_weight",
	"scoring_engagement_cap":     "scoring.engagement_cap",
	"scoring_decay_exponent":     "scoring.decay_exponent",
	"scoring_min_age_days":       "scoring.min_age_days",
	"scoring_reference_velocity": "scoring.reference_velocity",
	"scoring_min_history":        "scoring.min_history",
	"scoring_hot_threshold":      "scoring.hot_threshold",
	"scoring_warm_threshold":     "scoring.warm_threshold",

	"cache_hot_ttl":     "cache.hot_ttl",
	"cache_warm_ttl":    "cache.warm_ttl",
	"cache_cold_ttl":    "cache.cold_ttl",
	"cache_grace":       "cache.grace",
	"cache_l1_capacity": "cache.l1_capacity",
	"cache_l1_ttl":      "cache.l1_ttl",

	"queue_max_attempts":  "queue.max_attempts",
	"queue_backoff_base":  "queue.backoff_base",
	"queue_backoff_cap":   "queue.backoff_cap",
	"queue_claim_timeout": "queue.claim_timeout",
	"queue_retention":     "queue.retention",

	"scheduler_schedule":          "scheduler.schedule",
	"scheduler_batch_size":        "scheduler.batch_size",
	"scheduler_hot_interval":      "scheduler.hot_interval",
	"scheduler_warm_interval":     "scheduler.warm_interval",
	"scheduler_cold_interval":     "scheduler.cold_interval",
	"scheduler_discovery_enabled": "scheduler.discovery_enabled",
	"scheduler_owners":            "scheduler.owners",

	"workers_count":         "workers.count",
	"workers_idle_backoff":  "workers.idle_backoff",
	"workers_fetch_timeout": "workers.fetch_timeout",

	"sweeper_schedule": "sweeper.schedule",

	"supervisor_failure_threshold": "supervisor.failure_threshold",
	"supervisor_failure_decay":     "supervisor.failure_decay",
	"supervisor_failure_backoff":   "supervisor.failure_backoff",
	"supervisor_shutdown_timeout":  "supervisor.shutdown_timeout",
}

// envTransformFunc maps an environment variable name to a koanf path, or ""
// to skip it.
//
//	DUCKDB_PATH   -> database.path
//	WORKERS_COUNT -> workers.count
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// WatchConfigFile calls callback whenever the file at path changes. The caller
// owns synchronization of whatever it reloads.
func WatchConfigFile(path string, callback func()) error {
	return file.Provider(path).Watch(func(_ interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
