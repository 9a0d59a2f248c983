package duck

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	maxRetries        = 8
	initialRetryDelay = 50 * time.Millisecond
	maxRetryDelay     = 5 * time.Second
)

// isTransactionConflictError reports whether an error is a write-write
// conflict that is safe to retry.
func isTransactionConflictError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "Transaction conflict") ||
		strings.Contains(errStr, "Conflict on concurrent modification") ||
		strings.Contains(errStr, "write-write conflict")
}

// retryConflicts retries fn with exponential backoff as long as it fails with
// a transaction conflict. Any other error aborts immediately.
func retryConflicts(ctx context.Context, log *slog.Logger, operation string, fn func() error) error {
	attempt := 0
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialRetryDelay
	bo.MaxInterval = maxRetryDelay

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if err := fn(); err != nil {
			if !isTransactionConflictError(err) {
				return struct{}{}, backoff.Permanent(err)
			}
			log.Warn("transaction conflict detected, retrying", "operation", operation, "attempt", attempt, "max_attempts", maxRetries, "error", err)
			return struct{}{}, err
		}
		if attempt > 1 {
			log.Info("operation succeeded after retries", "operation", operation, "attempts", attempt)
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(maxRetries))
	return err
}
