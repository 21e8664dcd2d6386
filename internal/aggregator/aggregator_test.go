package aggregator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/internal/qdf"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/internal/source"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/clock"
	apperrors "github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/resilience"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type scriptedSource struct {
	mu    sync.Mutex
	name  string
	calls int
	fn    func(call int) ([]qdf.Document, error)
}

func (s *scriptedSource) Name() string { return s.name }

func (s *scriptedSource) Fetch(ctx context.Context, _ string) ([]qdf.Document, error) {
	s.mu.Lock()
	call := s.calls
	s.calls++
	s.mu.Unlock()
	return s.fn(call)
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingSink struct {
	mu     sync.Mutex
	events []analytics.AggregationEvent
}

func (r *recordingSink) Track(ev analytics.AggregationEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func docs() []qdf.Document {
	return []qdf.Document{
		{ID: "old", Title: "Go generics", PublishedAt: epoch.Add(-90 * 24 * time.Hour), Popularity: 10},
		{ID: "new", Title: "Go 1.25 release", PublishedAt: epoch.Add(-24 * time.Hour), Popularity: 10},
	}
}

type harness struct {
	agg     *Aggregator
	primary *scriptedSource
	breaker *resilience.CircuitBreaker
	clock   *clock.Fake
	metrics *metrics.Metrics
	sink    *recordingSink
}

func newHarness(t *testing.T, primary func(int) ([]qdf.Document, error), fallback source.Source) *harness {
	t.Helper()
	fake := clock.NewFake(epoch)
	h := &harness{
		primary: &scriptedSource{name: "primary", fn: primary},
		clock:   fake,
		metrics: metrics.New(prometheus.NewRegistry()),
		sink:    &recordingSink{},
	}
	h.breaker = resilience.NewCircuitBreaker("primary", resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		ResetTimeout:     30 * time.Second,
	}, resilience.WithClock(fake))
	retrier := resilience.NewRetrier(
		resilience.RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Factor: 1},
		resilience.WithSleep(func(ctx context.Context, d time.Duration) error { return ctx.Err() }),
	)
	agg, err := New(Deps{
		Primary:  h.primary,
		Fallback: fallback,
		Cache:    cache.New(cache.NewMemoryBackend(), cache.WithClock(fake)),
		Breaker:  h.breaker,
		Retrier:  retrier,
		CacheTTL: time.Minute,
		Clock:    fake,
		Metrics:  h.metrics,
		Events:   h.sink,
	})
	require.NoError(t, err)
	h.agg = agg
	return h
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}

func TestRun_RanksAndCaches(t *testing.T) {
	h := newHarness(t, func(int) ([]qdf.Document, error) { return docs(), nil }, nil)
	ctx := context.Background()

	out, err := h.agg.Run(ctx, "  go ", qdf.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, StatusOK, out.Status)
	assert.Equal(t, "go", out.Query)
	assert.False(t, out.CacheHit)
	require.Len(t, out.Results, 2)
	assert.Equal(t, "new", out.Results[0].Document.ID)

	again, err := h.agg.Run(ctx, "go", qdf.DefaultOptions())
	require.NoError(t, err)
	assert.True(t, again.CacheHit)
	assert.Equal(t, out.Results, again.Results)
	assert.Equal(t, 1, h.primary.Calls())

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.AggregationsTotal.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.AggregationsTotal.WithLabelValues("hit")))
	require.Len(t, h.sink.events, 2)
	assert.False(t, h.sink.events[0].CacheHit)
	assert.True(t, h.sink.events[1].CacheHit)
	assert.Equal(t, "ok", h.sink.events[1].Status)
}

func TestRun_OptionsChangeCacheKey(t *testing.T) {
	h := newHarness(t, func(int) ([]qdf.Document, error) { return docs(), nil }, nil)
	ctx := context.Background()

	_, err := h.agg.Run(ctx, "go", qdf.DefaultOptions())
	require.NoError(t, err)
	opts := qdf.DefaultOptions()
	opts.MaxResults = 1
	out, err := h.agg.Run(ctx, "go", opts)
	require.NoError(t, err)
	assert.False(t, out.CacheHit)
	assert.Len(t, out.Results, 1)
	assert.Equal(t, 2, h.primary.Calls())
}

func TestRun_EmptyQueryIsValidationError(t *testing.T) {
	h := newHarness(t, func(int) ([]qdf.Document, error) { return docs(), nil }, nil)

	_, err := h.agg.Run(context.Background(), "   ", qdf.DefaultOptions())
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Zero(t, h.primary.Calls())
}

func TestRun_TerminalErrorIsNotRetriedOrCached(t *testing.T) {
	h := newHarness(t, func(int) ([]qdf.Document, error) {
		return nil, apperrors.NewStatus(http.StatusNotFound, "no such index")
	}, nil)
	ctx := context.Background()

	_, err := h.agg.Run(ctx, "go", qdf.DefaultOptions())
	var aggErr *AggregationError
	require.ErrorAs(t, err, &aggErr)
	assert.Equal(t, "go", aggErr.Query)
	assert.Equal(t, apperrors.KindTerminal, apperrors.Classify(err))
	assert.Equal(t, 1, h.primary.Calls())

	_, err = h.agg.Run(ctx, "go", qdf.DefaultOptions())
	require.Error(t, err)
	assert.Equal(t, 2, h.primary.Calls())
	require.Len(t, h.sink.events, 2)
	assert.Equal(t, "error", h.sink.events[0].Status)
}

func TestRun_RetriesTransientFailures(t *testing.T) {
	h := newHarness(t, func(call int) ([]qdf.Document, error) {
		if call < 2 {
			return nil, apperrors.NewStatus(http.StatusServiceUnavailable, "busy")
		}
		return docs(), nil
	}, nil)

	out, err := h.agg.Run(context.Background(), "go", qdf.DefaultOptions())
	require.NoError(t, err)
	assert.Len(t, out.Results, 2)
	assert.Equal(t, 3, h.primary.Calls())
	assert.Equal(t, resilience.StateClosed, h.breaker.GetState())
}

func TestRun_ExhaustedRetriesOpenTheCircuit(t *testing.T) {
	h := newHarness(t, func(int) ([]qdf.Document, error) {
		return nil, apperrors.NewStatus(http.StatusBadGateway, "down")
	}, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := h.agg.Run(ctx, "go", qdf.DefaultOptions())
		var exhausted *resilience.RetriesExhaustedError
		require.ErrorAs(t, err, &exhausted)
		assert.Equal(t, 2, exhausted.Retries)
	}
	assert.Equal(t, 6, h.primary.Calls())
	require.Equal(t, resilience.StateOpen, h.breaker.GetState())

	_, err := h.agg.Run(ctx, "go", qdf.DefaultOptions())
	var aggErr *AggregationError
	require.ErrorAs(t, err, &aggErr)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 6, h.primary.Calls())

	h.clock.Advance(30 * time.Second)
	h.primary.fn = func(int) ([]qdf.Document, error) { return docs(), nil }
	out, err := h.agg.Run(ctx, "go", qdf.DefaultOptions())
	require.NoError(t, err)
	assert.Len(t, out.Results, 2)
	assert.Equal(t, resilience.StateClosed, h.breaker.GetState())
}

func TestRun_FallbackServesDegradedUncached(t *testing.T) {
	fallback := source.NewStatic("static", docs()[:1])
	h := newHarness(t, func(int) ([]qdf.Document, error) {
		return nil, apperrors.NewStatus(http.StatusNotFound, "gone")
	}, fallback)
	ctx := context.Background()

	out, err := h.agg.Run(ctx, "go", qdf.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, StatusDegraded, out.Status)
	assert.Equal(t, "primary source failed (terminal)", out.Reason)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "old", out.Results[0].Document.ID)

	_, err = h.agg.Run(ctx, "go", qdf.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, h.primary.Calls())
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.AggregationsTotal.WithLabelValues("degraded")))
}

func TestRun_AttemptTimeoutIsRetried(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.agg.attemptTimeout = 20 * time.Millisecond
	release := make(chan struct{})
	defer close(release)
	h.primary.fn = func(call int) ([]qdf.Document, error) {
		if call == 0 {
			<-release
		}
		return docs(), nil
	}

	out, err := h.agg.Run(context.Background(), "go", qdf.DefaultOptions())
	require.NoError(t, err)
	assert.Len(t, out.Results, 2)
	assert.Equal(t, 2, h.primary.Calls())
}

func TestInvalidate_ForcesRefetch(t *testing.T) {
	h := newHarness(t, func(int) ([]qdf.Document, error) { return docs(), nil }, nil)
	ctx := context.Background()

	_, err := h.agg.Run(ctx, "go", qdf.DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, h.agg.Invalidate(ctx, " go", qdf.DefaultOptions()))

	out, err := h.agg.Run(ctx, "go", qdf.DefaultOptions())
	require.NoError(t, err)
	assert.False(t, out.CacheHit)
	assert.Equal(t, 2, h.primary.Calls())
}

func TestRun_ExpiredEntryIsRecomputed(t *testing.T) {
	h := newHarness(t, func(int) ([]qdf.Document, error) { return docs(), nil }, nil)
	ctx := context.Background()

	_, err := h.agg.Run(ctx, "go", qdf.DefaultOptions())
	require.NoError(t, err)
	h.clock.Advance(time.Minute)

	out, err := h.agg.Run(ctx, "go", qdf.DefaultOptions())
	require.NoError(t, err)
	assert.False(t, out.CacheHit)
	assert.Equal(t, 2, h.primary.Calls())
}

func TestCacheKey(t *testing.T) {
	key := CacheKey("go", qdf.DefaultOptions())
	require.True(t, strings.HasPrefix(key, "qdf:go:"))

	raw, err := base64.URLEncoding.DecodeString(strings.TrimPrefix(key, "qdf:go:"))
	require.NoError(t, err)
	var decoded qdf.Options
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, qdf.DefaultOptions(), decoded)

	other := qdf.DefaultOptions()
	other.HalfLifeDays = 7
	assert.NotEqual(t, key, CacheKey("go", other))
	assert.Equal(t, key, CacheKey("go", qdf.DefaultOptions()))
}
