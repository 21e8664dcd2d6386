// Package api exposes the aggregator and its cache, circuits and analytics
// over HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/internal/aggregator"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/internal/qdf"
	apperrors "github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/resilience"
)

const maxBodyBytes = 1 << 20

// Aggregator runs one aggregation.
type Aggregator interface {
	Run(ctx context.Context, query string, opts qdf.Options) (*aggregator.Outcome, error)
}

// CacheAdmin is the result cache as seen by the admin endpoints.
type CacheAdmin interface {
	Stats(ctx context.Context) (cache.Stats, error)
	Clear(ctx context.Context) (int, error)
	Invalidate(ctx context.Context, key string) error
}

// Circuits lists breaker snapshots.
type Circuits interface {
	Snapshots() []resilience.Snapshot
}

// Analytics serves the in-process aggregation rollup.
type Analytics interface {
	Snapshot() analytics.Summary
}

// Config holds handler settings.
type Config struct {
	// Production hides error chains from 500 responses.
	Production bool
	// Defaults are the scoring options request overrides are layered on.
	Defaults qdf.Options
}

// Handler implements the HTTP endpoints.
type Handler struct {
	agg       Aggregator
	cache     CacheAdmin
	circuits  Circuits
	analytics Analytics
	cfg       Config
	logger    *slog.Logger
}

// New creates a Handler. circuits and stats may be nil; their endpoints
// then report empty results.
func New(agg Aggregator, store CacheAdmin, circuits Circuits, stats Analytics, cfg Config) *Handler {
	return &Handler{
		agg:       agg,
		cache:     store,
		circuits:  circuits,
		analytics: stats,
		cfg:       cfg,
		logger:    slog.Default().With("component", "api-handler"),
	}
}

// AggregateRequest is the body of POST /api/v1/aggregate.
type AggregateRequest struct {
	Query   string         `json:"query"`
	Options *qdf.Overrides `json:"options,omitempty"`
}

// AggregateResponse is the success body of POST /api/v1/aggregate.
type AggregateResponse struct {
	Query    string       `json:"query"`
	Results  []qdf.Result `json:"results"`
	Metadata Metadata     `json:"metadata"`
}

// Metadata describes how a response was produced.
type Metadata struct {
	ProcessedAt time.Time `json:"processedAt"`
	DurationMs  int64     `json:"durationMs"`
	CacheHit    bool      `json:"cacheHit"`
	Degraded    bool      `json:"degraded"`
	Reason      string    `json:"reason,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error       string   `json:"error"`
	Message     string   `json:"message"`
	OperationID string   `json:"operationId,omitempty"`
	Stack       []string `json:"stack,omitempty"`
}

// Aggregate handles POST /api/v1/aggregate.
func (h *Handler) Aggregate(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req AggregateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "request body must be a JSON object",
		})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		h.writeError(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "query is required",
		})
		return
	}

	outcome, err := h.agg.Run(r.Context(), req.Query, req.Options.Apply(h.cfg.Defaults))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	results := outcome.Results
	if results == nil {
		results = []qdf.Result{}
	}
	log.Info("aggregation completed",
		"query", outcome.Query,
		"returned", len(results),
		"cache_hit", outcome.CacheHit,
		"status", outcome.Status,
		"latency_ms", outcome.Duration.Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, AggregateResponse{
		Query:   outcome.Query,
		Results: results,
		Metadata: Metadata{
			ProcessedAt: outcome.ProcessedAt,
			DurationMs:  outcome.Duration.Milliseconds(),
			CacheHit:    outcome.CacheHit,
			Degraded:    outcome.Status == aggregator.StatusDegraded,
			Reason:      outcome.Reason,
		},
	})
}

func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status == http.StatusBadRequest {
		h.writeError(w, status, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}

	opID := uuid.NewString()
	logger.FromContext(r.Context()).Error("aggregation failed",
		"operation_id", opID,
		"kind", apperrors.Classify(err).String(),
		"error", err,
	)
	resp := ErrorResponse{
		Error:       "aggregation_failed",
		Message:     err.Error(),
		OperationID: opID,
	}
	if !h.cfg.Production {
		resp.Stack = errorChain(err)
	}
	h.writeError(w, http.StatusInternalServerError, resp)
}

// errorChain lists err and every error it wraps, outermost first. Joined
// and multi-cause errors are walked depth-first in their listed order.
func errorChain(err error) []string {
	var chain []string
	var walk func(error)
	walk = func(err error) {
		if err == nil {
			return
		}
		chain = append(chain, err.Error())
		switch u := err.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		}
	}
	walk(err)
	return chain
}

// CacheStats handles GET /api/v1/cache/stats.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cache.Stats(r.Context())
	if err != nil {
		h.logger.Error("reading cache stats failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, ErrorResponse{Error: "cache_error", Message: err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// CacheClear handles POST /api/v1/cache/clear.
func (h *Handler) CacheClear(w http.ResponseWriter, r *http.Request) {
	n, err := h.cache.Clear(r.Context())
	if err != nil {
		h.logger.Error("cache clear failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, ErrorResponse{Error: "cache_error", Message: err.Error()})
		return
	}
	h.logger.Info("cache cleared", "entries", n)
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "cleared", "cleared": n})
}

// CacheInvalidate handles DELETE /api/v1/cache/entries/{key...}.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		h.writeError(w, http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "cache key is required"})
		return
	}
	if err := h.cache.Invalidate(r.Context(), key); err != nil {
		h.logger.Error("cache invalidation failed", "key", key, "error", err)
		h.writeError(w, http.StatusInternalServerError, ErrorResponse{Error: "cache_error", Message: err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated", "key": key})
}

// Circuits handles GET /api/v1/circuits.
func (h *Handler) Circuits(w http.ResponseWriter, r *http.Request) {
	snaps := []resilience.Snapshot{}
	if h.circuits != nil {
		snaps = append(snaps, h.circuits.Snapshots()...)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"circuits": snaps})
}

// Analytics handles GET /api/v1/analytics.
func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	if h.analytics == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	h.writeJSON(w, http.StatusOK, h.analytics.Snapshot())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, resp ErrorResponse) {
	h.writeJSON(w, status, resp)
}
