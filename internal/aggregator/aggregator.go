// Package aggregator answers "fresh, ranked content for a query" by
// combining the result cache, the resilience layer around the primary
// source, and QDF ranking.
package aggregator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/internal/qdf"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/internal/source"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/clock"
	apperrors "github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/tracing"
)

const keyPrefix = "qdf:"

// Status tags an Outcome.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
)

// Outcome is the answer to one Run.
type Outcome struct {
	Status      Status        `json:"status"`
	Query       string        `json:"query"`
	Results     []qdf.Result  `json:"results"`
	CacheHit    bool          `json:"cacheHit"`
	Reason      string        `json:"reason,omitempty"`
	ProcessedAt time.Time     `json:"processedAt"`
	Duration    time.Duration `json:"duration"`
}

// AggregationError is returned when no result could be produced. Cause
// keeps the full chain (circuit open, retries exhausted, provider status).
type AggregationError struct {
	Query string
	Cause error
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("aggregating %q: %v", e.Query, e.Cause)
}

func (e *AggregationError) Unwrap() error {
	return e.Cause
}

// Deps are the collaborators of an Aggregator. Primary, Cache, Breaker and
// Retrier are required.
type Deps struct {
	Primary        source.Source
	Fallback       source.Source
	Cache          *cache.Store
	Breaker        *resilience.CircuitBreaker
	Retrier        *resilience.Retrier
	AttemptTimeout time.Duration
	CacheTTL       time.Duration
	Clock          clock.Clock
	Metrics        *metrics.Metrics
	Events         analytics.Sink
}

// Aggregator runs cached, protected, ranked lookups.
type Aggregator struct {
	primary        source.Source
	fallback       source.Source
	store          *cache.Store
	results        *cache.Typed[[]qdf.Result]
	breaker        *resilience.CircuitBreaker
	retrier        *resilience.Retrier
	attemptTimeout time.Duration
	ttl            time.Duration
	clock          clock.Clock
	metrics        *metrics.Metrics
	events         analytics.Sink
	logger         *slog.Logger
}

// New validates deps and builds an Aggregator.
func New(deps Deps) (*Aggregator, error) {
	switch {
	case deps.Primary == nil:
		return nil, errors.New("aggregator: primary source is required")
	case deps.Cache == nil:
		return nil, errors.New("aggregator: cache is required")
	case deps.Breaker == nil:
		return nil, errors.New("aggregator: circuit breaker is required")
	case deps.Retrier == nil:
		return nil, errors.New("aggregator: retrier is required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	return &Aggregator{
		primary:        deps.Primary,
		fallback:       deps.Fallback,
		store:          deps.Cache,
		results:        cache.NewTyped[[]qdf.Result](deps.Cache),
		breaker:        deps.Breaker,
		retrier:        deps.Retrier,
		attemptTimeout: deps.AttemptTimeout,
		ttl:            deps.CacheTTL,
		clock:          deps.Clock,
		metrics:        deps.Metrics,
		events:         deps.Events,
		logger:         slog.Default().With("component", "aggregator"),
	}, nil
}

// CacheKey is "qdf:" + query + ":" + base64(JSON(normalized options)),
// using the URL-safe alphabet so keys can be addressed in request paths.
func CacheKey(query string, opts qdf.Options) string {
	raw, _ := json.Marshal(opts.Normalize())
	return keyPrefix + query + ":" + base64.URLEncoding.EncodeToString(raw)
}

// Run returns ranked results for query. Successful rankings are cached;
// failures are not. With a fallback source configured, a failed primary
// path yields a degraded Outcome instead of an error.
func (a *Aggregator) Run(ctx context.Context, query string, opts qdf.Options) (*Outcome, error) {
	start := a.clock.Now()
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, apperrors.Validation("query must not be empty")
	}
	opts = opts.Normalize()
	key := CacheKey(q, opts)
	log := logger.FromContext(ctx).With("component", "aggregator", "query", q)

	ctx, span := tracing.StartSpan(ctx, "aggregator.Run", attribute.String("query", q))
	defer span.End()

	results, hit, err := a.results.GetOrSet(ctx, key, a.ttl, func(ctx context.Context) ([]qdf.Result, error) {
		docs, err := a.fetch(ctx, q)
		if err != nil {
			return nil, err
		}
		return a.rank(ctx, docs, q, opts), nil
	})

	out := &Outcome{Status: StatusOK, Query: q, Results: results, CacheHit: hit}
	if err != nil {
		tracing.RecordError(span, err)
		if a.fallback == nil || apperrors.Classify(err) == apperrors.KindCanceled {
			a.finish(ctx, out, start, err)
			log.Warn("aggregation failed", "error", err, "kind", apperrors.Classify(err).String())
			return nil, &AggregationError{Query: q, Cause: err}
		}
		degraded, ferr := a.degrade(ctx, q, opts, err)
		if ferr != nil {
			cause := errors.Join(err, ferr)
			a.finish(ctx, out, start, cause)
			log.Error("aggregation and fallback failed", "error", err, "fallback_error", ferr)
			return nil, &AggregationError{Query: q, Cause: cause}
		}
		out = degraded
		log.Warn("serving degraded results", "reason", out.Reason)
	}
	span.SetAttributes(
		attribute.Bool("cache_hit", out.CacheHit),
		attribute.Int("results", len(out.Results)),
		attribute.String("status", string(out.Status)),
	)
	a.finish(ctx, out, start, nil)
	return out, nil
}

// Invalidate drops the cached ranking for query under opts.
func (a *Aggregator) Invalidate(ctx context.Context, query string, opts qdf.Options) error {
	return a.store.Invalidate(ctx, CacheKey(strings.TrimSpace(query), opts))
}

// fetch calls the primary source through the breaker, which wraps the
// retry loop; each attempt gets its own timeout.
func (a *Aggregator) fetch(ctx context.Context, q string) ([]qdf.Document, error) {
	ctx, span := tracing.StartSpan(ctx, "aggregator.fetch", attribute.String("source", a.primary.Name()))
	defer span.End()

	name := "fetch:" + a.primary.Name()
	attempt := resilience.Retryable(a.retrier, name, func(ctx context.Context, n int) ([]qdf.Document, error) {
		if a.attemptTimeout <= 0 {
			return a.primary.Fetch(ctx, q)
		}
		return resilience.WithTimeout(ctx, a.attemptTimeout, name, func(ctx context.Context) ([]qdf.Document, error) {
			return a.primary.Fetch(ctx, q)
		})
	})
	docs, err := resilience.Execute(ctx, a.breaker, attempt)
	tracing.RecordError(span, err)
	span.SetAttributes(attribute.Int("candidates", len(docs)))
	return docs, err
}

func (a *Aggregator) rank(ctx context.Context, docs []qdf.Document, q string, opts qdf.Options) []qdf.Result {
	_, span := tracing.StartSpan(ctx, "aggregator.rank", attribute.Int("candidates", len(docs)))
	defer span.End()
	return qdf.Rank(docs, q, opts, a.clock.Now())
}

func (a *Aggregator) degrade(ctx context.Context, q string, opts qdf.Options, cause error) (*Outcome, error) {
	docs, err := a.fallback.Fetch(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("fallback %s: %w", a.fallback.Name(), err)
	}
	return &Outcome{
		Status:  StatusDegraded,
		Query:   q,
		Results: a.rank(ctx, docs, q, opts),
		Reason:  degradedReason(cause),
	}, nil
}

func degradedReason(err error) string {
	var exhausted *resilience.RetriesExhaustedError
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "primary source circuit open"
	case errors.As(err, &exhausted):
		return fmt.Sprintf("primary source unavailable after %d retries", exhausted.Retries)
	case errors.Is(err, apperrors.ErrCache):
		return "result cache unavailable"
	default:
		return fmt.Sprintf("primary source failed (%s)", apperrors.Classify(err))
	}
}

func (a *Aggregator) finish(ctx context.Context, out *Outcome, start time.Time, err error) {
	out.ProcessedAt = a.clock.Now()
	out.Duration = out.ProcessedAt.Sub(start)

	label := "miss"
	switch {
	case err != nil:
		label = "error"
	case out.Status == StatusDegraded:
		label = "degraded"
	case out.CacheHit:
		label = "hit"
	}
	if a.metrics != nil {
		a.metrics.AggregationsTotal.WithLabelValues(label).Inc()
		cacheStatus := "miss"
		if out.CacheHit {
			cacheStatus = "hit"
		}
		a.metrics.AggregationLatency.WithLabelValues(cacheStatus).Observe(out.Duration.Seconds())
		if err == nil {
			a.metrics.AggregationResultsCount.Observe(float64(len(out.Results)))
		}
	}
	if a.events != nil {
		ev := analytics.AggregationEvent{
			Type:      analytics.EventAggregation,
			Query:     out.Query,
			Status:    string(out.Status),
			Returned:  len(out.Results),
			LatencyMs: out.Duration.Milliseconds(),
			CacheHit:  out.CacheHit,
			Timestamp: out.ProcessedAt,
			RequestID: logger.RequestID(ctx),
		}
		if err != nil {
			ev.Status = "error"
			ev.Error = err.Error()
		}
		a.events.Track(ev)
	}
}
