package infra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen matches every *OpenError.
var ErrCircuitOpen = errors.New("circuit breaker open")

// OpenError is returned while the breaker rejects calls.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("%s: %v (retry in %s)", e.Name, ErrCircuitOpen, e.RetryAfter.Round(time.Millisecond))
}

func (e *OpenError) Is(target error) bool { return target == ErrCircuitOpen }

// BreakerState is the breaker position.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig configures a CircuitBreaker. Zero values get defaults.
type BreakerConfig struct {
	Name             string
	FailureThreshold int           // consecutive failures that open the breaker (5)
	Cooldown         time.Duration // open time before a probe is let through (30s)

	// IsFailure decides which errors count against the breaker; nil counts all.
	// Context cancellation by the caller never counts.
	IsFailure func(error) bool

	// OnStateChange runs after every transition, outside the lock.
	OnStateChange func(from, to BreakerState)

	Now func() time.Time
}

// CircuitBreaker stops calling a failing remote after FailureThreshold
// consecutive failures. After Cooldown a single probe call is allowed:
// success closes the breaker, failure re-opens it.
type CircuitBreaker struct {
	cfg BreakerConfig

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

// Execute runs fn unless the breaker is open and records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	probe, err := cb.acquire()
	if err != nil {
		return err
	}
	callErr := fn(ctx)

	var failed bool
	switch {
	case callErr == nil:
	case errors.Is(callErr, context.Canceled):
		// the caller gave up; release a probe slot without a verdict
		cb.abandon(probe)
		return callErr
	default:
		failed = cb.cfg.IsFailure == nil || cb.cfg.IsFailure(callErr)
	}
	cb.record(probe, failed)
	return callErr
}

// State reports the current position, turning an expired OPEN into HALF_OPEN.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.Cooldown {
		return StateHalfOpen
	}
	return cb.state
}

func (cb *CircuitBreaker) acquire() (probe bool, err error) {
	cb.mu.Lock()
	from := cb.state
	switch cb.state {
	case StateClosed:
		cb.mu.Unlock()
		return false, nil
	case StateOpen:
		wait := cb.cfg.Cooldown - cb.cfg.Now().Sub(cb.openedAt)
		if wait > 0 {
			cb.mu.Unlock()
			return false, &OpenError{Name: cb.cfg.Name, RetryAfter: wait}
		}
		cb.state = StateHalfOpen
	}
	// half-open: exactly one call in flight
	if cb.probing {
		cb.mu.Unlock()
		return false, &OpenError{Name: cb.cfg.Name}
	}
	cb.probing = true
	cb.mu.Unlock()

	cb.changed(from, StateHalfOpen)
	return true, nil
}

func (cb *CircuitBreaker) abandon(probe bool) {
	if !probe {
		return
	}
	cb.mu.Lock()
	cb.probing = false
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) record(probe, failed bool) {
	cb.mu.Lock()
	from := cb.state
	if probe {
		cb.probing = false
	}
	switch {
	case !failed:
		cb.failures = 0
		cb.state = StateClosed
	case probe || cb.state == StateHalfOpen:
		cb.state = StateOpen
		cb.openedAt = cb.cfg.Now()
	default:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.state = StateOpen
			cb.openedAt = cb.cfg.Now()
		}
	}
	to, failures := cb.state, cb.failures
	cb.mu.Unlock()

	if from == to {
		return
	}
	switch to {
	case StateOpen:
		slog.Warn("Circuit breaker OPEN", slog.String("name", cb.cfg.Name), slog.Int("failures", failures))
	case StateClosed:
		slog.Info("Circuit breaker CLOSED (recovered)", slog.String("name", cb.cfg.Name))
	}
	cb.changed(from, to)
}

func (cb *CircuitBreaker) changed(from, to BreakerState) {
	if from != to && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}
