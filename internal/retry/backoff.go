package retry

import (
	"context"
	"time"

	"chatsync/internal/constants"
	"chatsync/internal/models"
)

// BackoffConfig contains configuration for exponential backoff
type BackoffConfig struct {
	BaseDelay     time.Duration `json:"base_delay"`
	MaxDelay      time.Duration `json:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor"`
	MaxAttempts   int           `json:"max_attempts"`
}

// DefaultBackoffConfig returns the upload retry defaults
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		BaseDelay:     time.Duration(constants.DefaultRetryBaseDelayMs) * time.Millisecond,
		MaxDelay:      time.Duration(constants.DefaultRetryMaxDelayMs) * time.Millisecond,
		BackoffFactor: constants.DefaultRetryBackoffFactor,
		MaxAttempts:   constants.DefaultRetryAttempts,
	}
}

// FromRetryConfig builds a BackoffConfig from application configuration,
// filling zero values with defaults.
func FromRetryConfig(rc models.RetryConfig) BackoffConfig {
	cfg := DefaultBackoffConfig()
	if rc.Attempts > 0 {
		cfg.MaxAttempts = rc.Attempts
	}
	if rc.BaseDelayMs > 0 {
		cfg.BaseDelay = time.Duration(rc.BaseDelayMs) * time.Millisecond
	}
	if rc.BackoffFactor > 0 {
		cfg.BackoffFactor = rc.BackoffFactor
	}
	if rc.MaxDelayMs > 0 {
		cfg.MaxDelay = time.Duration(rc.MaxDelayMs) * time.Millisecond
	}
	return cfg
}

// Backoff implements exponential backoff: the wait before attempt n+1 is
// baseDelay * backoffFactor^(n-1), capped at MaxDelay.
type Backoff struct {
	config BackoffConfig
}

// NewBackoff creates a new exponential backoff instance
func NewBackoff(config BackoffConfig) *Backoff {
	return &Backoff{config: config}
}

// Retry executes the operation with exponential backoff retry logic
func (b *Backoff) Retry(ctx context.Context, operation func() error) error {
	return b.RetryWithPredicate(ctx, operation, func(error) bool { return true })
}

// RetryWithPredicate executes the operation with exponential backoff, using a
// predicate to decide whether a failure is worth another attempt.
func (b *Backoff) RetryWithPredicate(ctx context.Context, operation func() error, isRetryable func(error) bool) error {
	var lastErr error

	for attempt := 1; attempt <= b.config.MaxAttempts; attempt++ {
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

		if !isRetryable(err) {
			return err
		}

		// No wait after the final attempt
		if attempt == b.config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.calculateDelay(attempt)):
		}
	}

	return lastErr
}

func (b *Backoff) calculateDelay(attempt int) time.Duration {
	delay := float64(b.config.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= b.config.BackoffFactor
	}
	if delay > float64(b.config.MaxDelay) {
		delay = float64(b.config.MaxDelay)
	}
	return time.Duration(delay)
}

// GetNextDelay returns the delay that would follow the given attempt, for
// tests and monitoring.
func (b *Backoff) GetNextDelay(attempt int) time.Duration {
	return b.calculateDelay(attempt)
}

// MaxAttempts exposes the configured attempt budget.
func (b *Backoff) MaxAttempts() int {
	return b.config.MaxAttempts
}
