// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestRetryOnContention(t *testing.T) {
	t.Parallel()

	t.Run("retries until success", func(t *testing.T) {
		calls := 0
		got, err := RetryOnContention(context.Background(), func() (int, error) {
			calls++
			if calls < 3 {
				return 0, fmt.Errorf("claim: %w", ErrContention)
			}
			return 7, nil
		})
		if err != nil || got != 7 || calls != 3 {
			t.Errorf("got (%d, %v) after %d calls, want (7, nil) after 3", got, err, calls)
		}
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		calls := 0
		_, err := RetryOnContention(context.Background(), func() (int, error) {
			calls++
			return 0, ErrNotFound
		})
		if !errors.Is(err, ErrNotFound) || calls != 1 {
			t.Errorf("got %v after %d calls, want ErrNotFound after 1", err, calls)
		}
	})

	t.Run("gives up after the bound", func(t *testing.T) {
		calls := 0
		_, err := RetryOnContention(context.Background(), func() (struct{}, error) {
			calls++
			return struct{}{}, ErrContention
		})
		if !errors.Is(err, ErrContention) || calls != MaxContentionRetries {
			t.Errorf("got %v after %d calls, want ErrContention after %d", err, calls, MaxContentionRetries)
		}
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		_, err := RetryOnContention(ctx, func() (int, error) {
			calls++
			return 0, ErrContention
		})
		if !errors.Is(err, context.Canceled) || calls != 1 {
			t.Errorf("got %v after %d calls, want context.Canceled after 1", err, calls)
		}
	})
}
