package metrics

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/config"
)

var indexPage = template.Must(template.New("index").Parse(
	`<html><head><title>Freshness Aggregator</title></head><body>` +
		`<h1>Freshness Aggregator metrics</h1>` +
		`<p>Scrape <a href="{{.}}">{{.}}</a> for aggregation, cache, retry and circuit breaker series.</p>` +
		`</body></html>`))

// NewServeMux serves gatherer at cfg.Path (default /metrics) and a small
// index page at the root.
func NewServeMux(cfg config.MetricsConfig, gatherer prometheus.Gatherer) *http.ServeMux {
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle("GET "+path, Handler(gatherer))
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = indexPage.Execute(w, path)
	})
	return mux
}

// StartServer serves metrics on a dedicated port in the background, keeping
// scrapes off the API listener, and returns the server's shutdown function.
func StartServer(cfg config.MetricsConfig, gatherer prometheus.Gatherer) (shutdown func(context.Context) error) {
	logger := slog.Default().With("component", "metrics-server")
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           NewServeMux(cfg, gatherer),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	go func() {
		logger.Info("metrics server listening", "addr", server.Addr, "path", cfg.Path)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return server.Shutdown
}
