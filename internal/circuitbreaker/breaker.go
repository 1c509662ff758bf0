package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Failing fast
	StateHalfOpen              // Probing for recovery
)

func (s State) String() string {
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

// MarshalText renders the state name in JSON snapshots.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StateChangeFunc observes breaker transitions. It is called outside the
// breaker's lock, after the transition took effect.
type StateChangeFunc func(name string, from, to State)

// Option customizes a CircuitBreaker.
type Option func(*CircuitBreaker)

// WithStateChangeListener registers fn to be told about every transition.
func WithStateChangeListener(fn StateChangeFunc) Option {
	return func(cb *CircuitBreaker) {
		cb.onStateChange = fn
	}
}

// Metrics is a point-in-time snapshot of a breaker's counters.
type Metrics struct {
	Name            string    `json:"name"`
	State           State     `json:"state"`
	FailureCount    int       `json:"failure_count"`
	SuccessCount    int       `json:"success_count"`
	LastFailureTime time.Time `json:"last_failure_time,omitzero"`
	LastSuccessTime time.Time `json:"last_success_time,omitzero"`
	NextAttempt     time.Time `json:"next_attempt,omitzero"`
	TotalCalls      int64     `json:"total_calls"`
	TotalFailures   int64     `json:"total_failures"`
	TotalSuccesses  int64     `json:"total_successes"`
}

type CircuitBreaker struct {
	mutex  sync.Mutex
	name   string
	config Config

	state           State
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	lastSuccessTime time.Time
	nextAttempt     time.Time
	totalCalls      int64
	totalFailures   int64
	totalSuccesses  int64

	onStateChange StateChangeFunc
}

type transition struct {
	from, to State
}

func New(name string, config Config, opts ...Option) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:   name,
		config: config.normalize(),
		state:  StateClosed,
	}

	for _, opt := range opts {
		opt(cb)
	}

	return cb
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Config returns the effective configuration after defaults were applied.
func (cb *CircuitBreaker) Config() Config {
	return cb.config
}

// Execute runs fn under breaker protection. While the breaker is OPEN and its
// cool-down has not elapsed, fn is not called and an *OpenError is returned.
// Errors from fn are returned unchanged.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.afterCall(err)

	return err
}

// ExecuteWithFallback behaves like Execute but calls fallback instead of
// returning when the call was rejected because the breaker is OPEN.
func (cb *CircuitBreaker) ExecuteWithFallback(ctx context.Context, fn, fallback func(context.Context) error) error {
	err := cb.Execute(ctx, fn)
	if err != nil && errors.Is(err, ErrOpen) && fallback != nil {
		return fallback(ctx)
	}

	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mutex.Lock()

	cb.totalCalls++

	var changed *transition
	if cb.state == StateOpen {
		now := time.Now()
		if now.Before(cb.nextAttempt) {
			retryAfter := cb.nextAttempt.Sub(now)
			cb.mutex.Unlock()
			return &OpenError{Name: cb.name, RetryAfter: retryAfter}
		}

		changed = cb.setState(StateHalfOpen)
		cb.successCount = 0
	}

	cb.mutex.Unlock()
	cb.notify(changed)

	return nil
}

func (cb *CircuitBreaker) afterCall(err error) {
	if err != nil && MatchesAny(err, cb.config.ExpectedErrors) {
		return
	}

	cb.mutex.Lock()
	var changed *transition
	if err == nil {
		changed = cb.onSuccess()
	} else {
		changed = cb.onFailure()
	}
	cb.mutex.Unlock()

	cb.notify(changed)
}

func (cb *CircuitBreaker) onSuccess() *transition {
	cb.lastSuccessTime = time.Now()
	cb.totalSuccesses++
	cb.failureCount = 0

	if cb.state != StateHalfOpen {
		return nil
	}

	cb.successCount++
	if cb.successCount < cb.config.SuccessThreshold {
		return nil
	}

	cb.successCount = 0
	return cb.setState(StateClosed)
}

func (cb *CircuitBreaker) onFailure() *transition {
	now := time.Now()
	cb.lastFailureTime = now
	cb.totalFailures++
	cb.failureCount++

	switch cb.state {
	case StateHalfOpen:
		cb.successCount = 0
		cb.nextAttempt = now.Add(cb.config.Timeout)
		return cb.setState(StateOpen)
	case StateClosed:
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.nextAttempt = now.Add(cb.config.Timeout)
			return cb.setState(StateOpen)
		}
	}

	return nil
}

// setState must be called with the mutex held.
func (cb *CircuitBreaker) setState(to State) *transition {
	if cb.state == to {
		return nil
	}

	from := cb.state
	cb.state = to

	return &transition{from: from, to: to}
}

func (cb *CircuitBreaker) notify(t *transition) {
	if t == nil || cb.onStateChange == nil {
		return
	}

	cb.onStateChange(cb.name, t.from, t.to)
}

func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Metrics() Metrics {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	m := Metrics{
		Name:            cb.name,
		State:           cb.state,
		FailureCount:    cb.failureCount,
		SuccessCount:    cb.successCount,
		LastFailureTime: cb.lastFailureTime,
		LastSuccessTime: cb.lastSuccessTime,
		TotalCalls:      cb.totalCalls,
		TotalFailures:   cb.totalFailures,
		TotalSuccesses:  cb.totalSuccesses,
	}

	if cb.state == StateOpen {
		m.NextAttempt = cb.nextAttempt
	}

	return m
}

// Reset returns the breaker to CLOSED with every counter and timestamp zeroed.
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()

	changed := cb.setState(StateClosed)
	cb.failureCount = 0
	cb.successCount = 0
	cb.totalCalls = 0
	cb.totalFailures = 0
	cb.totalSuccesses = 0
	cb.lastFailureTime = time.Time{}
	cb.lastSuccessTime = time.Time{}
	cb.nextAttempt = time.Time{}

	cb.mutex.Unlock()
	cb.notify(changed)
}

// ForceState overrides the current state. Forcing OPEN starts a fresh cool-down.
// Intended for tests and operator tooling.
func (cb *CircuitBreaker) ForceState(state State) {
	cb.mutex.Lock()

	changed := cb.setState(state)
	if state == StateOpen {
		cb.nextAttempt = time.Now().Add(cb.config.Timeout)
	}
	if state != StateHalfOpen {
		cb.successCount = 0
	}

	cb.mutex.Unlock()
	cb.notify(changed)
}
