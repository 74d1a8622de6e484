// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

package models

import "time"

// APIResponse is the envelope of every catalog API response.
//
// Fields:
//   - Status: "success" or "error"
//   - Data: endpoint payload, nil on error
//   - Metadata: timing information
//   - Error: set only when Status is "error"
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata carries response timing.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
}

// APIError is the machine readable error of a failed request.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// VideoView is a catalog record with the derived freshness of its analytics.
type VideoView struct {
	*VideoRecord
	Freshness Freshness `json:"freshness"`
}

// VideoDetail is a record, its analytics entry (if any) and freshness.
type VideoDetail struct {
	Video     *VideoRecord         `json:"video"`
	Analytics *AnalyticsCacheEntry `json:"analytics,omitempty"`
	Freshness Freshness            `json:"freshness"`
}

// RefreshAccepted is returned when a manual refresh was queued.
type RefreshAccepted struct {
	Item      *SyncQueueItem `json:"item"`
	Coalesced bool           `json:"coalesced"`
}
