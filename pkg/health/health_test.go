package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecker_WorstStatusWins(t *testing.T) {
	c := NewChecker("freshness-aggregator")
	c.Register("redis", PingCheck(func(context.Context) error { return nil }))
	c.Register("breaker", CircuitCheck(func() string { return "open" }))

	report := c.Run(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, "circuit open", report.Components["breaker"].Message)

	c.Register("postgres", PingCheck(func(context.Context) error { return errors.New("refused") }))
	report = c.Run(context.Background())
	assert.Equal(t, StatusDown, report.Status)
	assert.Equal(t, "refused", report.Components["postgres"].Message)
}

func TestSummaryHandler(t *testing.T) {
	c := NewChecker("freshness-aggregator")
	c.now = func() time.Time { return time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC) }

	rec := httptest.NewRecorder()
	c.SummaryHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, map[string]string{
		"status":    "healthy",
		"timestamp": "2026-06-01T08:00:00Z",
		"service":   "freshness-aggregator",
	}, body)
}

func TestReadyHandler_DegradedIsReady(t *testing.T) {
	c := NewChecker("svc")
	c.Register("breaker", CircuitCheck(func() string { return "half-open" }))

	rec := httptest.NewRecorder()
	c.ReadyHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	c.Register("redis", PingCheck(func(context.Context) error { return errors.New("down") }))
	rec = httptest.NewRecorder()
	c.ReadyHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
