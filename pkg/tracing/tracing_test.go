package tracing

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func installTestProvider(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(NewLogExporter(logger)))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return &buf
}

func TestStartSpan_ExportsToLog(t *testing.T) {
	buf := installTestProvider(t)

	ctx, parent := StartSpan(context.Background(), "aggregate", attribute.String("query", "golang"))
	require.NotEmpty(t, TraceID(ctx))
	_, child := StartSpan(ctx, "rank")
	RecordError(child, errors.New("boom"))
	child.End()
	parent.End()

	out := buf.String()
	assert.Contains(t, out, "span=rank")
	assert.Contains(t, out, "span=aggregate")
	assert.Contains(t, out, "query=golang")
	assert.Contains(t, out, "status_message=boom")
	assert.Contains(t, out, "parent_id=")
}

func TestMiddleware_SetsTraceHeader(t *testing.T) {
	installTestProvider(t)

	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, TraceID(r.Context()))
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/aggregate", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Len(t, rec.Header().Get("X-Trace-Id"), 32)
}

func TestTraceID_EmptyWithoutSpan(t *testing.T) {
	assert.Empty(t, TraceID(context.Background()))
}
