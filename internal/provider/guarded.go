// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/tubepulse/internal/config"
	"github.com/tomtom215/tubepulse/internal/logging"
	"github.com/tomtom215/tubepulse/internal/metrics"
	"github.com/tomtom215/tubepulse/internal/models"
)

// BreakerName labels the provider circuit breaker in metrics and logs.
const BreakerName = "provider-api"

// Guarded wraps a Provider with the shared fetch budget and a circuit breaker.
//
// The breaker uses real time (via sony/gobreaker) for its interval and
// timeout. Tests exercise it through ReadyToTrip counts, not by waiting.
type Guarded struct {
	next    Provider
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[interface{}]
}

// NewGuarded wraps next. Circuit breaker configuration:
//   - cfg.BreakerMaxRequests trial requests in half-open state
//   - counts reset every cfg.BreakerInterval while closed
//   - cfg.BreakerTimeout open period before probing
//   - opens at >= 60% failures over at least 10 requests
//
// NotFound and Permanent results count as successes: the provider answered,
// it just said no.
func NewGuarded(next Provider, cfg config.ProviderConfig) *Guarded {
	metrics.CircuitBreakerState.WithLabelValues(BreakerName).Set(0)

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        BreakerName,
		MaxRequests: cfg.BreakerMaxRequests,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: readyToTrip,
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			k := KindOf(err)
			return k == KindNotFound || k == KindPermanent
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("[CIRCUIT BREAKER] State transition")
			metrics.RecordBreakerTransition(name, stateCode(from), stateCode(to))
		},
	})

	return &Guarded{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		cb:      cb,
	}
}

// readyToTrip opens the circuit when the failure rate is >= 60% with at
// least 10 requests.
func readyToTrip(counts gobreaker.Counts) bool {
	if counts.Requests < 10 {
		return false
	}
	failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
	if failureRatio >= 0.6 {
		logging.Warn().
			Uint32("failures", counts.TotalFailures).
			Float64("failure_rate", failureRatio*100).
			Msg("[CIRCUIT BREAKER] Opening circuit")
		return true
	}
	return false
}

// State returns the breaker state.
func (g *Guarded) State() gobreaker.State { return g.cb.State() }

// FetchBasic implements Provider.
func (g *Guarded) FetchBasic(ctx context.Context, cred Credential, externalID string) (*BasicSnapshot, error) {
	return castResult[BasicSnapshot](g.execute(ctx, "fetch_basic", func() (interface{}, error) {
		return g.next.FetchBasic(ctx, cred, externalID)
	}))
}

// FetchDetailed implements Provider.
func (g *Guarded) FetchDetailed(ctx context.Context, cred Credential, externalID string) (*models.DetailedMetrics, error) {
	return castResult[models.DetailedMetrics](g.execute(ctx, "fetch_detailed", func() (interface{}, error) {
		return g.next.FetchDetailed(ctx, cred, externalID)
	}))
}

// ListVideos implements Provider. A listing spends one token however many
// pages it takes.
func (g *Guarded) ListVideos(ctx context.Context, cred Credential) ([]string, error) {
	res, err := g.execute(ctx, "list_videos", func() (interface{}, error) {
		return g.next.ListVideos(ctx, cred)
	})
	if err != nil {
		return nil, err
	}
	ids, ok := res.([]string)
	if !ok {
		return nil, fmt.Errorf("circuit breaker: unexpected result type %T", res)
	}
	return ids, nil
}

// execute waits for the fetch budget, then runs fn through the breaker.
func (g *Guarded) execute(ctx context.Context, op string, fn func() (interface{}, error)) (interface{}, error) {
	waitStart := time.Now()
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, &Error{Kind: KindTransient, Op: op, Err: fmt.Errorf("rate limiter: %w", err)}
	}
	metrics.ProviderRateLimitWait.Observe(time.Since(waitStart).Seconds())

	start := time.Now()
	res, err := g.cb.Execute(fn)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(BreakerName, "success").Inc()
		metrics.RecordProviderCall(op, "success", elapsed)
		return res, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(BreakerName, "rejected").Inc()
		metrics.RecordProviderCall(op, "rejected", elapsed)
		return nil, &Error{Kind: KindTransient, Op: op, Err: err}
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(BreakerName, "failure").Inc()
		metrics.RecordProviderCall(op, KindOf(err).String(), elapsed)
		var pe *Error
		if !errors.As(err, &pe) {
			err = &Error{Kind: KindTransient, Op: op, Err: err}
		}
		return nil, err
	}
}

// castResult safely type-casts the circuit breaker result.
func castResult[T any](result interface{}, err error) (*T, error) {
	if err != nil {
		return nil, err
	}
	typed, ok := result.(*T)
	if !ok {
		return nil, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

// stateCode converts a breaker state to the value of CircuitBreakerState.
func stateCode(state gobreaker.State) int {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
