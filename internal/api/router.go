package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/tracing"
)

// RouterDeps are the optional pieces of the middleware chain. Nil fields
// are skipped.
type RouterDeps struct {
	Health         *health.Checker
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	Limiter        *middleware.Limiter
	RequestTimeout time.Duration
	// CORSOrigins restricts browser callers; empty allows any origin.
	CORSOrigins []string
}

// NewRouter builds the HTTP handler.
//
// Route table:
//
//	POST   /api/v1/aggregate             → ranked, cached aggregation
//	GET    /api/v1/cache/stats           → cache counters
//	POST   /api/v1/cache/clear           → drop every cached entry
//	DELETE /api/v1/cache/entries/{key...} → drop one cached entry
//	GET    /api/v1/circuits              → breaker snapshots
//	GET    /api/v1/analytics             → aggregation rollup
//	GET    /health, /health/live, /health/ready
//	GET    /metrics
//
// Middleware chain (outermost first):
//
//	RequestID → Tracing → CORS → Metrics → RateLimit → Timeout → mux
func NewRouter(h *Handler, deps RouterDeps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/aggregate", h.Aggregate)

	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/clear", h.CacheClear)
	mux.HandleFunc("DELETE /api/v1/cache/entries/{key...}", h.CacheInvalidate)

	mux.HandleFunc("GET /api/v1/circuits", h.Circuits)
	mux.HandleFunc("GET /api/v1/analytics", h.Analytics)

	if deps.Health != nil {
		mux.Handle("GET /health", deps.Health.SummaryHandler())
		mux.Handle("GET /health/live", deps.Health.LiveHandler())
		mux.Handle("GET /health/ready", deps.Health.ReadyHandler())
	}
	if deps.Gatherer != nil {
		mux.Handle("GET /metrics", metrics.Handler(deps.Gatherer))
	}

	var chain http.Handler = mux
	if deps.RequestTimeout > 0 {
		chain = middleware.Timeout(deps.RequestTimeout)(chain)
	}
	if deps.Limiter != nil {
		chain = middleware.RateLimit(deps.Limiter)(chain)
	}
	if deps.Metrics != nil {
		chain = middleware.Metrics(deps.Metrics)(chain)
	}
	cors := middleware.DefaultCORSConfig()
	if len(deps.CORSOrigins) > 0 {
		cors = middleware.CORSFor(deps.CORSOrigins)
	}
	chain = middleware.CORS(cors)(chain)
	chain = tracing.Middleware(chain)
	chain = middleware.RequestID(chain)

	return chain
}
