// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/tomtom215/tubepulse/internal/logging"
	"github.com/tomtom215/tubepulse/internal/store"
)

// configureConnectionPool sets connection pool parameters.
//   - max_open: NumCPU() so every worker can hold a connection
//   - max_idle: 2 for connection reuse
//   - max_lifetime: 1h, max_idle_time: 5m
func (db *DB) configureConnectionPool() {
	db.conn.SetMaxOpenConns(runtime.NumCPU())
	db.conn.SetMaxIdleConns(2)
	db.conn.SetConnMaxLifetime(time.Hour)
	db.conn.SetConnMaxIdleTime(5 * time.Minute)
}

// isTransactionConflict checks if an error is a DuckDB transaction conflict
func isTransactionConflict(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "Transaction conflict") ||
		strings.Contains(errStr, "Conflict on update") ||
		strings.Contains(errStr, "Conflict on tuple deletion")
}

// isDuplicateKey reports a unique-constraint violation caused by a
// concurrent insert of the same key.
func isDuplicateKey(err error) bool {
	return err != nil && strings.Contains(err.Error(), "Duplicate key")
}

// mapError translates driver errors into store sentinels.
func mapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", op, store.ErrNotFound)
	case isTransactionConflict(err), isDuplicateKey(err):
		return fmt.Errorf("%s: %w: %v", op, store.ErrContention, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// withTx runs fn inside a transaction, committing on success.
func (db *DB) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return mapError(op+": begin", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			logging.Warn().Err(rbErr).Str("op", op).Msg("Rollback failed")
		}
	}()

	if err := fn(tx); err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrNotActive) || errors.Is(err, store.ErrContention) {
			return err
		}
		return mapError(op, err)
	}
	if err := tx.Commit(); err != nil {
		return mapError(op+": commit", err)
	}
	committed = true
	return nil
}
