package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatsync/internal/constants"
)

// retryableOperation executes a cache operation with retry on transient
// SQLite errors (lock contention, disk I/O).
func retryableOperation(ctx context.Context, operation func() error, operationName string) error {
	var lastErr error

	maxAttempts := constants.DefaultCacheRetryAttempts
	initialBackoff := time.Duration(constants.DefaultCacheBackoffMs) * time.Millisecond

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryableError(err) {
			return fmt.Errorf("%s failed (non-retryable): %w", operationName, err)
		}

		if attempt == maxAttempts {
			break
		}

		backoff := time.Duration(attempt) * initialBackoff
		if max := time.Duration(constants.DefaultCacheMaxBackoffMs) * time.Millisecond; backoff > max {
			backoff = max
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxAttempts, lastErr)
}

// isRetryableError determines if a cache error is worth retrying
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := err.Error()

	if strings.Contains(errStr, "database is locked") {
		return true
	}
	if strings.Contains(errStr, "disk I/O error") {
		return true
	}

	// Constraint and schema errors will not resolve on a retry
	if strings.Contains(errStr, "constraint") || strings.Contains(errStr, "no such table") {
		return false
	}

	return false
}
