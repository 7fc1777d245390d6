package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const (
	txRetryAttempts = 3
	txRetryBaseWait = 50 * time.Millisecond
)

// isSerializationFailure reports whether an error is a transient lock
// conflict worth retrying: serialization_failure (40001) or
// deadlock_detected (40P01).
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// withTxRetry runs fn, retrying transient transaction conflicts a bounded
// number of times with doubling backoff. Non-transient errors pass through
// unchanged.
func withTxRetry(ctx context.Context, operation string, fn func() error) error {
	wait := txRetryBaseWait
	var err error
	for attempt := 1; attempt <= txRetryAttempts; attempt++ {
		err = fn()
		if err == nil || !isSerializationFailure(err) {
			return err
		}
		zap.L().Warn("transaction conflict, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return fmt.Errorf("%s: %w: %w", operation, ErrTransactionConflict, err)
}
