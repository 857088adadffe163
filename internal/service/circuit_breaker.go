package service

import (
	"sync"
	"time"

	"chatsync/internal/constants"
	"chatsync/internal/errors"

	"github.com/sirupsen/logrus"
)

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker guards every send attempt: after threshold consecutive
// failures it fails fast until the cooldown elapses, then allows a single
// probe (half-open) that either closes the breaker or restarts the cooldown.
type CircuitBreaker struct {
	name      string
	threshold int
	cooldown  time.Duration

	mu              sync.Mutex
	state           CircuitBreakerState
	failures        int
	lastFailureTime time.Time
	probeInFlight   bool

	logger *logrus.Logger
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(name string, threshold int, cooldown time.Duration, logger *logrus.Logger) *CircuitBreaker {
	if threshold <= 0 {
		threshold = constants.CBFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = time.Duration(constants.CBCooldownMs) * time.Millisecond
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &CircuitBreaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		state:     StateClosed,
		logger:    logger,
	}
}

// Allow reports whether an attempt may proceed. When the breaker is open and
// the cooldown has not elapsed it returns a ServiceUnavailable error without
// any network activity.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(cb.lastFailureTime) >= cb.cooldown {
			cb.state = StateHalfOpen
			cb.probeInFlight = true
			cb.logger.WithField("service", cb.name).Info("Circuit breaker transitioning to half-open")
			return nil
		}
		return errors.NewServiceUnavailableError(cb.name)
	case StateHalfOpen:
		// One probe at a time while half-open.
		if cb.probeInFlight {
			return errors.NewServiceUnavailableError(cb.name)
		}
		cb.probeInFlight = true
		return nil
	default:
		return errors.NewServiceUnavailableError(cb.name)
	}
}

// Release frees a probe slot claimed by Allow when the attempt never
// reached the network. Without it a half-open breaker would wait forever
// for an outcome that will never be recorded.
func (cb *CircuitBreaker) Release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probeInFlight = false
}

// RecordSuccess resets the failure count and closes the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateClosed {
		cb.logger.WithField("service", cb.name).Info("Circuit breaker closed after successful attempt")
	}
	cb.state = StateClosed
	cb.failures = 0
	cb.probeInFlight = false
}

// RecordFailure counts a failure; at the threshold the breaker opens and the
// cooldown starts. A half-open probe failure reopens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailureTime = time.Now()
	cb.probeInFlight = false

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.threshold {
			cb.state = StateOpen
			cb.logger.WithFields(logrus.Fields{
				"service":   cb.name,
				"failures":  cb.failures,
				"threshold": cb.threshold,
			}).Warn("Circuit breaker opened due to consecutive failures")
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.logger.WithField("service", cb.name).Warn("Circuit breaker reopened from half-open state")
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
