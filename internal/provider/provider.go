// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

/*
Package provider talks to the external video analytics provider.

Layers:
  - HTTPClient: the REST client (resty), mapping HTTP status codes to Kind
  - Guarded: wraps any Provider with the shared token-bucket fetch budget
    and a circuit breaker
  - CredentialSource: resolves an owner's API token

Every error returned by this package is an *Error carrying a Kind, which the
worker pool uses to decide between soft delete, retry and terminal failure.
*/
package provider

import (
	"context"
	"fmt"

	"github.com/tomtom215/tubepulse/internal/config"
	"github.com/tomtom215/tubepulse/internal/models"
)

// Credential authorizes calls on behalf of one owner.
type Credential struct {
	OwnerID string
	Token   string
}

// BasicSnapshot is the cheap per-video payload: counters plus metadata.
type BasicSnapshot struct {
	Metrics  models.BasicMetrics
	Metadata models.VideoMetadata
}

// Provider is the external analytics API.
type Provider interface {
	// FetchBasic returns counters and metadata for one video.
	FetchBasic(ctx context.Context, cred Credential, externalID string) (*BasicSnapshot, error)

	// FetchDetailed returns the expensive detailed analytics for one video.
	FetchDetailed(ctx context.Context, cred Credential, externalID string) (*models.DetailedMetrics, error)

	// ListVideos returns the external IDs of every video the owner has.
	ListVideos(ctx context.Context, cred Credential) ([]string, error)
}

// CredentialSource resolves credentials per owner.
type CredentialSource interface {
	CredentialFor(ctx context.Context, ownerID string) (Credential, error)
}

// StaticCredentials serves tokens from configuration.
type StaticCredentials struct {
	cfg config.ProviderConfig
}

// NewStaticCredentials creates a CredentialSource over cfg's token table.
func NewStaticCredentials(cfg config.ProviderConfig) *StaticCredentials {
	return &StaticCredentials{cfg: cfg}
}

// CredentialFor implements CredentialSource. A missing token is a permanent
// error: retrying will not make one appear.
func (s *StaticCredentials) CredentialFor(_ context.Context, ownerID string) (Credential, error) {
	tok, ok := s.cfg.TokenFor(ownerID)
	if !ok {
		return Credential{}, &Error{
			Kind: KindPermanent,
			Op:   "credential",
			Err:  fmt.Errorf("no provider token configured for owner %q", ownerID),
		}
	}
	return Credential{OwnerID: ownerID, Token: tok}, nil
}
