package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/errors"
)

type outcome[T any] struct {
	value T
	err   error
}

// WithTimeout runs fn with a derived context that is cancelled after the
// given timeout. If fn does not return in time the wait is abandoned and an
// error matching ErrTimeout is returned; fn keeps running in its goroutine
// and whatever it produces is discarded.
func WithTimeout[T any](ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	var zero T
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	done := make(chan outcome[T], 1)
	go func() {
		v, err := fn(timeoutCtx)
		done <- outcome[T]{value: v, err: err}
	}()
	select {
	case res := <-done:
		return res.value, res.err
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s: parent context cancelled: %w", name, ctx.Err())
		}
		return zero, fmt.Errorf("%s: %w (limit: %v)", name, apperrors.ErrTimeout, timeout)
	}
}
