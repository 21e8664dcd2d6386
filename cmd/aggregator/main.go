package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"

	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/internal/aggregator"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/internal/api"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/internal/invalidation"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/internal/qdf"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/internal/source"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/tracing"
)

const serviceName = "freshness-aggregator"

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting freshness aggregator",
		"port", cfg.Server.Port,
		"environment", cfg.Environment,
		"primary_source", cfg.Sources.Primary,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := tracing.Setup(cfg.Tracing, serviceName)
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Error("tracing shutdown error", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics, reg)
		defer shutdownMetrics(context.Background())
	}

	checker := health.NewChecker(serviceName)
	scheduler := cron.New()

	// Result cache: Redis when reachable, otherwise in-process memory swept
	// on a schedule.
	var backend cache.Backend
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, falling back to in-memory cache", "error", err)
		} else {
			defer redisClient.Close()
			backend = cache.NewRedisBackend(redisClient, cache.RedisOptions{})
			checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
				if err := redisClient.Ping(ctx); err != nil {
					return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
				}
				return health.ComponentHealth{Status: health.StatusUp}
			})
			slog.Info("redis cache enabled", "addr", cfg.Redis.Addr)
		}
	}
	if backend == nil {
		backend = cache.NewMemoryBackend()
	}
	store := cache.New(backend,
		cache.WithDefaultTTL(cfg.Cache.TTL()),
		cache.WithSingleFlight(cfg.Cache.SingleFlight),
		cache.WithObserver(m),
	)
	if _, ok := backend.(cache.Sweeper); ok && cfg.Cache.SweepSchedule != "" {
		if _, err := scheduler.AddFunc(cfg.Cache.SweepSchedule, func() {
			if n := store.Sweep(); n > 0 {
				slog.Debug("swept expired cache entries", "count", n)
			}
		}); err != nil {
			slog.Error("invalid cache sweep schedule", "schedule", cfg.Cache.SweepSchedule, "error", err)
			os.Exit(1)
		}
	}

	sources := &sourceBuilder{cfg: cfg, checker: checker}
	defer sources.Close()
	primary, err := sources.build(cfg.Sources.Primary)
	if err != nil {
		slog.Error("failed to build primary source", "error", err)
		os.Exit(1)
	}
	var fallback source.Source
	if cfg.Sources.Fallback != "" {
		fallback, err = sources.build(cfg.Sources.Fallback)
		if err != nil {
			slog.Error("failed to build fallback source", "error", err)
			os.Exit(1)
		}
	}

	breakers := resilience.NewRegistry(resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
		CallTimeout:      cfg.Breaker.CallTimeout,
	}, resilience.WithStateChange(func(name string, from, to resilience.State) {
		m.SetCircuitState(name, int(to))
	}))
	breaker := breakers.Get(primary.Name())
	m.SetCircuitState(breaker.Name(), int(breaker.GetState()))
	checker.Register("circuit:"+breaker.Name(), health.CircuitCheck(func() string {
		return breaker.GetState().String()
	}))

	retrier := resilience.NewRetrier(resilience.RetryPolicy{
		MaxRetries:   cfg.Retry.MaxRetries,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		Factor:       cfg.Retry.Factor,
		Jitter:       cfg.Retry.Jitter,
	}, resilience.WithOnRetry(func(name string, attempt int, delay time.Duration, err error) {
		m.ObserveRetry(name)
	}))

	defaults := qdf.Options{
		HalfLifeDays:      cfg.Scoring.HalfLifeDays,
		FreshnessWeight:   cfg.Scoring.FreshnessWeight,
		PopularityWeight:  cfg.Scoring.PopularityWeight,
		MinFreshnessScore: cfg.Scoring.MinFreshnessScore,
		MaxResults:        cfg.Scoring.MaxResults,
	}.Normalize()

	stats := analytics.NewStats()
	var sink analytics.Sink = stats
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		defer producer.Close()
		collector := analytics.NewCollector(producer, 100, 5*time.Second)
		collector.Start(ctx)
		defer collector.Close()
		sink = analytics.Tee(stats, collector)
		slog.Info("analytics collector started", "topic", cfg.Kafka.Topics.AnalyticsEvents)

		invalidator := invalidation.NewHandler(store, defaults, m)
		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.CacheInvalidate, invalidator.HandleMessage())
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("invalidation consumer error", "error", err)
			}
		}()
		slog.Info("invalidation consumer started", "topic", cfg.Kafka.Topics.CacheInvalidate)
	}

	agg, err := aggregator.New(aggregator.Deps{
		Primary:        primary,
		Fallback:       fallback,
		Cache:          store,
		Breaker:        breaker,
		Retrier:        retrier,
		AttemptTimeout: cfg.Retry.AttemptTimeout,
		CacheTTL:       cfg.Cache.TTL(),
		Metrics:        m,
		Events:         sink,
	})
	if err != nil {
		slog.Error("failed to create aggregator", "error", err)
		os.Exit(1)
	}

	var limiter *middleware.Limiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
		if _, err := scheduler.AddFunc("@every 5m", func() {
			if n := limiter.Cleanup(); n > 0 {
				slog.Debug("evicted idle rate limiters", "count", n)
			}
		}); err != nil {
			slog.Error("scheduling limiter cleanup failed", "error", err)
		}
	}

	h := api.New(agg, store, breakers, stats, api.Config{
		Production: cfg.IsProduction(),
		Defaults:   defaults,
	})
	router := api.NewRouter(h, api.RouterDeps{
		Health:         checker,
		Metrics:        m,
		Gatherer:       reg,
		Limiter:        limiter,
		RequestTimeout: cfg.Server.WriteTimeout,
		CORSOrigins:    cfg.Server.CORSOrigins,
	})

	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout + time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("freshness aggregator listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("freshness aggregator stopped")
}
