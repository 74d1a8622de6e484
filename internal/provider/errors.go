// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a provider failure.
type Kind int

const (
	// KindTransient covers network errors, timeouts, 5xx responses and an
	// open circuit breaker. Retryable.
	KindTransient Kind = iota
	// KindRateLimited is an explicit 429 from the provider. Retryable.
	KindRateLimited
	// KindNotFound means the video is gone upstream. Terminal, but not a
	// failure: the record is soft-deleted.
	KindNotFound
	// KindPermanent covers malformed requests and auth failures. Terminal.
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindNotFound:
		return "not_found"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error is a classified provider failure.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s: %s (HTTP %d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Permanent reports whether retrying cannot help.
func (e *Error) Permanent() bool { return e.Kind == KindPermanent }

// KindOf classifies err. Errors that did not come from this package,
// including context cancellation, are transient.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}

// IsNotFound reports whether err means the video no longer exists upstream.
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}

// kindForStatus maps an HTTP status code to a Kind.
func kindForStatus(code int) Kind {
	switch {
	case code == http.StatusNotFound, code == http.StatusGone:
		return KindNotFound
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusRequestTimeout, code >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}
