// Package circuitbreaker protects the orchestrator's external
// collaborators (postgres, redis, outbound HTTP) so a dead dependency
// fails fast instead of stalling a run on every call.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State of a breaker. The zero value is closed (requests flow).
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

var stateNames = map[State]string{
	StateClosed:   "closed",
	StateHalfOpen: "half-open",
	StateOpen:     "open",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

var (
	// ErrCircuitBreakerOpen is returned without calling the dependency at
	// all; tasks treat it like any other transient failure and fall back.
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests means the half-open probe quota is taken.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Config tunes one breaker. Per-service defaults with env overrides live
// in config.go.
type Config struct {
	// MaxRequests caps concurrent probes while half-open.
	MaxRequests uint32
	// Interval rotates the failure window while closed, so old failures
	// age out instead of accumulating toward the threshold forever.
	Interval time.Duration
	// Timeout is how long an open breaker waits before probing again.
	Timeout time.Duration
	// FailureThreshold is the consecutive-failure count that trips the
	// breaker open.
	FailureThreshold uint32
	// SuccessThreshold is the consecutive-success count that closes a
	// half-open breaker.
	SuccessThreshold uint32
	// OnStateChange, when set, observes every transition. The metrics
	// collector chains onto it.
	OnStateChange func(name string, from State, to State)
}

// DefaultConfig is the baseline the per-service configs start from.
func DefaultConfig() Config {
	return Config{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	}
}

// Counts is the request tally for the current window.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// CircuitBreaker trips after consecutive failures, fails fast while open,
// and probes its way back closed through the half-open state.
type CircuitBreaker struct {
	name   string
	config Config
	logger *zap.Logger

	mutex  sync.RWMutex
	state  State
	window uint64 // bumped on every state change and interval rotation
	counts Counts
	expiry time.Time
}

func NewCircuitBreaker(name string, config Config, logger *zap.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		config: config,
		logger: logger,
		state:  StateClosed,
		expiry: time.Now().Add(config.Interval),
	}
}

// Execute runs fn if the breaker admits the request. A result landing
// after the breaker has moved to a new window is discarded so stale
// outcomes cannot flip state.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	window, err := cb.admit()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.observe(window, false)
			panic(r)
		}
	}()

	err = fn()
	cb.observe(window, err == nil)
	return err
}

// State returns the breaker's current state. Time-driven moves (window
// rotation, open to half-open) are applied on read so an idle breaker
// still reports half-open once its timeout passes.
func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	state, _ := cb.refresh(time.Now())
	return state
}

// Counts returns the tally for the current window.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return cb.counts
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := time.Now()
	state, window := cb.refresh(now)

	switch {
	case state == StateOpen:
		return window, ErrCircuitBreakerOpen
	case state == StateHalfOpen && cb.counts.Requests >= cb.config.MaxRequests:
		return window, ErrTooManyRequests
	}

	cb.counts.Requests++
	return window, nil
}

func (cb *CircuitBreaker) observe(window uint64, success bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := time.Now()
	state, current := cb.refresh(now)
	if current != window {
		return
	}

	switch {
	case success && state == StateClosed:
		cb.counts.TotalSuccesses++
		cb.counts.ConsecutiveFailures = 0
	case success && state == StateHalfOpen:
		cb.counts.TotalSuccesses++
		cb.counts.ConsecutiveSuccesses++
		if cb.counts.ConsecutiveSuccesses >= cb.config.SuccessThreshold {
			cb.transition(StateClosed, now)
		}
	case !success && state == StateClosed:
		cb.counts.TotalFailures++
		cb.counts.ConsecutiveFailures++
		if cb.counts.ConsecutiveFailures >= cb.config.FailureThreshold {
			cb.transition(StateOpen, now)
		}
	case !success && state == StateHalfOpen:
		// One failed probe is enough evidence the dependency is still down.
		cb.transition(StateOpen, now)
	}
}

// refresh applies time-driven moves: closed windows rotate on Interval,
// open breakers move to half-open after Timeout. Callers hold the lock.
func (cb *CircuitBreaker) refresh(now time.Time) (State, uint64) {
	switch cb.state {
	case StateClosed:
		if !cb.expiry.IsZero() && cb.expiry.Before(now) {
			cb.newWindow(now)
		}
	case StateOpen:
		if cb.expiry.Before(now) {
			cb.transition(StateHalfOpen, now)
		}
	}
	return cb.state, cb.window
}

func (cb *CircuitBreaker) transition(to State, now time.Time) {
	if cb.state == to {
		return
	}

	from := cb.state
	cb.state = to
	cb.newWindow(now)

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, from, to)
	}
	cb.logger.Info("Circuit breaker state changed",
		zap.String("name", cb.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}

func (cb *CircuitBreaker) newWindow(now time.Time) {
	cb.window++
	cb.counts = Counts{}

	switch cb.state {
	case StateClosed:
		if cb.config.Interval == 0 {
			cb.expiry = time.Time{}
		} else {
			cb.expiry = now.Add(cb.config.Interval)
		}
	case StateOpen:
		cb.expiry = now.Add(cb.config.Timeout)
	default:
		// Half-open has no deadline; it resolves through probe results.
		cb.expiry = time.Time{}
	}
}
