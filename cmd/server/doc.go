// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

/*
Package main is the entry point for the TubePulse server.

TubePulse keeps a local catalog of creator videos and a cache of their
detailed analytics in sync with an external Analytics Provider, spending the
provider's limited request budget on the videos that perform best.

# Application Architecture

The server runs under a Suture v4 supervisor tree:

	RootSupervisor ("tubepulse")
	├── DataSupervisor ("data-layer")
	│   └── Eviction sweeper (periodic)
	├── SyncSupervisor ("sync-layer")
	│   ├── Sync scheduler (periodic)
	│   └── Sync worker pool
	└── APISupervisor ("api-layer")
	    └── HTTP server (catalog read API, /metrics)

Component initialization order:

 1. Configuration: Koanf v2 with defaults, optional YAML file, environment
 2. Logging: zerolog with JSON/console output
 3. Store: DuckDB file or the in-memory backend
 4. Domain services: scorer, catalog, analytics cache, sync queue
 5. Provider: resty client behind a rate limiter and circuit breaker
 6. Scheduler, worker pool, sweeper
 7. Supervisor tree and HTTP server

# Configuration

Common environment variables:

	STORAGE_BACKEND=duckdb|memory
	DUCKDB_PATH=/data/tubepulse.duckdb
	PROVIDER_BASE_URL=https://provider.example.com
	PROVIDER_DEFAULT_TOKEN=...
	SCHEDULER_SCHEDULE="@every 5m"
	WORKERS_COUNT=4
	LOG_LEVEL=info

When CONFIG_PATH is set the file is watched and log level changes are
applied without a restart.

# Signal Handling

SIGINT and SIGTERM cancel the root context. Workers return in-flight items
to the queue, the HTTP server drains for server.timeout, and the store is
closed last.
*/
package main
