package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/errors"
)

// RetryPolicy bounds how often and how slowly an operation is retried.
// A policy is plain data and never mutated by the executor.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
	Jitter       bool
}

// DefaultRetryPolicy returns three retries starting at one second, doubling
// up to thirty seconds, with jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Factor:       2.0,
		Jitter:       true,
	}
}

// Validate checks the policy constraints.
func (p RetryPolicy) Validate() error {
	switch {
	case p.MaxRetries < 0:
		return fmt.Errorf("retry policy: maxRetries must be >= 0, got %d", p.MaxRetries)
	case p.InitialDelay <= 0:
		return fmt.Errorf("retry policy: initialDelay must be > 0, got %v", p.InitialDelay)
	case p.MaxDelay < p.InitialDelay:
		return fmt.Errorf("retry policy: maxDelay %v is below initialDelay %v", p.MaxDelay, p.InitialDelay)
	case p.Factor < 1:
		return fmt.Errorf("retry policy: factor must be >= 1, got %v", p.Factor)
	}
	return nil
}

// Delay returns the un-jittered backoff before attempt k (k >= 1):
// min(initial * factor^(k-1), max).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	backoff := float64(p.InitialDelay) * math.Pow(p.Factor, float64(attempt-1))
	if backoff > float64(p.MaxDelay) || math.IsInf(backoff, 0) {
		return p.MaxDelay
	}
	return time.Duration(backoff)
}

// RetriesExhaustedError is returned once every retry has failed. Cause is
// the error of the final attempt.
type RetriesExhaustedError struct {
	Name    string
	Retries int
	Cause   error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("%s: giving up after %d retries: %v", e.Name, e.Retries, e.Cause)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Cause
}

// Operation is a retryable unit of work. attempt starts at 0.
type Operation[T any] func(ctx context.Context, attempt int) (T, error)

// Retrier executes operations under a fixed RetryPolicy.
type Retrier struct {
	policy    RetryPolicy
	retryable func(error) bool
	sleep     func(ctx context.Context, d time.Duration) error
	random    func() float64
	onRetry   func(name string, attempt int, delay time.Duration, err error)
	logger    *slog.Logger
}

// RetryOption customises a Retrier.
type RetryOption func(*Retrier)

// WithRetryClassifier overrides which errors are retried.
func WithRetryClassifier(fn func(error) bool) RetryOption {
	return func(r *Retrier) { r.retryable = fn }
}

// WithSleep replaces the backoff sleep; tests use it to record delays.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) RetryOption {
	return func(r *Retrier) { r.sleep = fn }
}

// WithRandom replaces the jitter source. fn must return values in [0, 1).
func WithRandom(fn func() float64) RetryOption {
	return func(r *Retrier) { r.random = fn }
}

// WithOnRetry registers a hook invoked before each backoff sleep.
func WithOnRetry(fn func(name string, attempt int, delay time.Duration, err error)) RetryOption {
	return func(r *Retrier) { r.onRetry = fn }
}

// NewRetrier creates a Retrier. Invalid policies fall back to defaults
// field by field, like the rest of the resilience package.
func NewRetrier(policy RetryPolicy, opts ...RetryOption) *Retrier {
	defaults := DefaultRetryPolicy()
	if policy.MaxRetries < 0 {
		policy.MaxRetries = defaults.MaxRetries
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = defaults.InitialDelay
	}
	if policy.MaxDelay < policy.InitialDelay {
		policy.MaxDelay = max(defaults.MaxDelay, policy.InitialDelay)
	}
	if policy.Factor < 1 {
		policy.Factor = defaults.Factor
	}
	r := &Retrier{
		policy:    policy,
		retryable: apperrors.IsRetryable,
		sleep:     sleepContext,
		// #nosec G404 -- jitter does not need cryptographic randomness.
		random: rand.Float64,
		logger: slog.Default().With("component", "retry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the executor's policy.
func (r *Retrier) Policy() RetryPolicy {
	return r.policy
}

// backoff returns the sleep before attempt k, jittered into
// [0.5*delay, 1.0*delay] when enabled.
func (r *Retrier) backoff(attempt int) time.Duration {
	delay := r.policy.Delay(attempt)
	if !r.policy.Jitter {
		return delay
	}
	return time.Duration(float64(delay) * 0.5 * (1 + r.random()))
}

// Run executes op until it succeeds, fails terminally, exhausts the policy
// or ctx is done. Terminal errors are returned unchanged.
func Run[T any](ctx context.Context, r *Retrier, name string, op Operation[T]) (T, error) {
	var zero T
	logger := r.logger.With("operation", name)
	var lastErr error
	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.backoff(attempt)
			if r.onRetry != nil {
				r.onRetry(name, attempt, delay, lastErr)
			}
			logger.Warn("operation failed, retrying",
				"attempt", attempt,
				"max_retries", r.policy.MaxRetries,
				"error", lastErr,
				"next_delay", delay,
			)
			if err := r.sleep(ctx, delay); err != nil {
				return zero, fmt.Errorf("%s: retry aborted during backoff: %w (last error: %v)", name, err, lastErr)
			}
		}
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				return zero, fmt.Errorf("%s: %w", name, err)
			}
			return zero, fmt.Errorf("%s: retry aborted: %w (last error: %v)", name, err, lastErr)
		}

		result, err := op(ctx, attempt)
		if err == nil {
			if attempt > 0 {
				logger.Info("succeeded after retry", "attempt", attempt)
			}
			return result, nil
		}
		if !r.retryable(err) {
			logger.Debug("non-retryable error, aborting", "attempt", attempt, "error", err)
			return zero, err
		}
		lastErr = err
	}
	return zero, &RetriesExhaustedError{Name: name, Retries: r.policy.MaxRetries, Cause: lastErr}
}

// Do is the non-generic form of Run for operations without a result.
func (r *Retrier) Do(ctx context.Context, name string, fn func(ctx context.Context, attempt int) error) error {
	_, err := Run(ctx, r, name, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, fn(ctx, attempt)
	})
	return err
}

// Retryable wraps op so that every call goes through r. Callers wrap the
// specific operation they want protected at the call site.
func Retryable[T any](r *Retrier, name string, op Operation[T]) func(ctx context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		return Run(ctx, r, name, op)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
