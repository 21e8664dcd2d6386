// Package resilience provides fault-tolerance primitives: a circuit breaker,
// exponential-backoff retry, and a context-based timeout wrapper.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/clock"
	apperrors "github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/errors"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a call.
var ErrCircuitOpen = apperrors.ErrCircuitOpen

// State represents the current phase of a circuit breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitOpenError reports a call rejected without invoking the operation.
type CircuitOpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%v: %s (retry after %v)", ErrCircuitOpen, e.Name, e.RetryAfter)
	}
	return fmt.Sprintf("%v: %s (half-open trial in progress)", ErrCircuitOpen, e.Name)
}

func (e *CircuitOpenError) Unwrap() error {
	return ErrCircuitOpen
}

// CircuitBreakerConfig controls failure thresholds and recovery timing.
type CircuitBreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	ResetTimeout     time.Duration
	CallTimeout      time.Duration
}

// DefaultCircuitBreakerConfig returns the defaults applied to zero fields.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
		CallTimeout:      10 * time.Second,
	}
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	Name            string     `json:"name"`
	State           string     `json:"state"`
	FailureCount    int        `json:"failure_count"`
	SuccessCount    int        `json:"success_count"`
	LastFailureTime *time.Time `json:"last_failure_time,omitempty"`
}

// CircuitBreaker tracks consecutive failures of one dependency and trips
// open when the threshold is reached. After the reset timeout the next call
// is let through as a half-open trial; enough consecutive trial successes
// close the circuit again, any trial failure reopens it.
//
// Only one trial runs at a time while half-open. Results of calls that were
// admitted under an earlier state are ignored.
type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	clock  clock.Clock
	logger *slog.Logger

	mu              sync.Mutex
	state           State
	generation      uint64
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	trialInFlight   bool
	onStateChange   func(name string, from, to State)
}

// CircuitBreakerOption customises a CircuitBreaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithClock sets the clock used for reset-timeout decisions.
func WithClock(c clock.Clock) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.clock = c }
}

// WithStateChange registers a hook invoked after every transition. The hook
// runs while the breaker lock is held and must not call back into it.
func WithStateChange(fn func(name string, from, to State)) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.onStateChange = fn }
}

// NewCircuitBreaker creates a CircuitBreaker with the given config, filling
// in defaults for zero values.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig, opts ...CircuitBreakerOption) *CircuitBreaker {
	defaults := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaults.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = defaults.SuccessThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = defaults.ResetTimeout
	}
	if cfg.CallTimeout < 0 {
		cfg.CallTimeout = 0
	}
	cb := &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		clock:  clock.Real(),
		state:  StateClosed,
		logger: slog.Default().With("component", "circuit-breaker", "name", name),
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Name returns the dependency name the breaker protects.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Execute runs fn if the circuit allows it, racing it against the call
// timeout, and records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Execute(ctx, cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Execute runs fn through cb and returns its result. A timed-out call is a
// failure; a call abandoned because ctx was cancelled counts as neither
// success nor failure.
func Execute[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	generation, err := cb.beforeRequest()
	if err != nil {
		return zero, err
	}
	result, err := WithTimeout(ctx, cb.cfg.CallTimeout, cb.name, fn)
	if err != nil && ctx.Err() != nil && !errors.Is(err, apperrors.ErrTimeout) {
		cb.abandon(generation)
		return zero, err
	}
	cb.afterRequest(generation, err)
	return result, err
}

// GetState returns the current State of the circuit breaker.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Snapshot returns the breaker's counters without changing them.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	s := Snapshot{
		Name:         cb.name,
		State:        cb.state.String(),
		FailureCount: cb.failureCount,
		SuccessCount: cb.successCount,
	}
	if !cb.lastFailureTime.IsZero() {
		t := cb.lastFailureTime
		s.LastFailureTime = &t
	}
	return s
}

func (cb *CircuitBreaker) beforeRequest() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateOpen:
		elapsed := cb.clock.Now().Sub(cb.lastFailureTime)
		if elapsed < cb.cfg.ResetTimeout {
			return 0, &CircuitOpenError{Name: cb.name, RetryAfter: cb.cfg.ResetTimeout - elapsed}
		}
		cb.setState(StateHalfOpen)
		cb.lastFailureTime = time.Time{}
		cb.trialInFlight = true
		cb.logger.Info("circuit transitioning to half-open", "after", cb.cfg.ResetTimeout)
	case StateHalfOpen:
		if cb.trialInFlight {
			return 0, &CircuitOpenError{Name: cb.name}
		}
		cb.trialInFlight = true
	}
	return cb.generation, nil
}

func (cb *CircuitBreaker) afterRequest(generation uint64, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if generation != cb.generation {
		return
	}
	if err == nil {
		cb.onSuccess()
		return
	}
	cb.onFailure()
}

func (cb *CircuitBreaker) abandon(generation uint64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if generation == cb.generation && cb.state == StateHalfOpen {
		cb.trialInFlight = false
	}
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.trialInFlight = false
		cb.failureCount = 0
		cb.successCount++
		if cb.successCount >= cb.cfg.SuccessThreshold {
			cb.setState(StateClosed)
			cb.logger.Info("circuit closed (recovered)", "successes", cb.successCount)
			cb.failureCount = 0
			cb.successCount = 0
		}
	}
}

func (cb *CircuitBreaker) onFailure() {
	now := cb.clock.Now()
	switch cb.state {
	case StateClosed:
		cb.successCount = 0
		cb.failureCount++
		cb.lastFailureTime = now
		if cb.failureCount >= cb.cfg.FailureThreshold {
			cb.setState(StateOpen)
			cb.logger.Warn("circuit opened", "consecutive_failures", cb.failureCount, "threshold", cb.cfg.FailureThreshold)
		}
	case StateHalfOpen:
		cb.trialInFlight = false
		cb.successCount = 0
		cb.failureCount = 1
		cb.lastFailureTime = now
		cb.setState(StateOpen)
		cb.logger.Warn("circuit re-opened (half-open trial failed)")
	}
}

func (cb *CircuitBreaker) setState(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.generation++
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

// Reset forces the circuit breaker back to the Closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(StateClosed)
	cb.failureCount = 0
	cb.successCount = 0
	cb.lastFailureTime = time.Time{}
	cb.trialInFlight = false
	cb.logger.Info("circuit manually reset")
}

// Registry hands out one CircuitBreaker per logical dependency name, all
// sharing the same configuration and options.
type Registry struct {
	cfg  CircuitBreakerConfig
	opts []CircuitBreakerOption

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates an empty Registry.
func NewRegistry(cfg CircuitBreakerConfig, opts ...CircuitBreakerOption) *Registry {
	return &Registry{
		cfg:      cfg,
		opts:     opts,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[name]
	if !ok {
		cb = NewCircuitBreaker(name, r.cfg, r.opts...)
		r.breakers[name] = cb
	}
	return cb
}

// Snapshots returns a snapshot of every registered breaker.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.Unlock()
	out := make([]Snapshot, 0, len(breakers))
	for _, cb := range breakers {
		out = append(out, cb.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
