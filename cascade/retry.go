// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cascade

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

func isRetryablePGTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.SQLState() {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03": // lock_not_available (incl. lock_timeout)
		return true
	default:
		return false
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunInTxWithRetry runs fn inside a transaction at the given isolation,
// retrying up to maxAttempts times on serialization failures, deadlocks and
// lock timeouts with a doubling backoff. Every bulk-write or delete issued
// through fn's store rolls back as a unit on failure.
func RunInTxWithRetry(
	ctx context.Context,
	pool *pgxpool.Pool,
	txOptions pgx.TxOptions,
	maxAttempts int,
	fn func(tx pgx.Tx) error,
) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	backoff := 10 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = pgx.BeginTxFunc(ctx, pool, txOptions, fn)
		if lastErr == nil {
			return nil
		}
		if !isRetryablePGTxError(lastErr) || attempt == maxAttempts {
			return lastErr
		}
		if err := sleepWithContext(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
	}
	return lastErr
}
