// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Redis, Kafka, Cache, Retry, Breaker, Scoring,
// Sources, etc.).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Environment string          `yaml:"environment"`
	Server      ServerConfig    `yaml:"server"`
	Postgres    PostgresConfig  `yaml:"postgres"`
	Kafka       KafkaConfig     `yaml:"kafka"`
	Redis       RedisConfig     `yaml:"redis"`
	Cache       CacheConfig     `yaml:"cache"`
	Retry       RetryConfig     `yaml:"retry"`
	Breaker     BreakerConfig   `yaml:"breaker"`
	Scoring     ScoringConfig   `yaml:"scoring"`
	Sources     SourcesConfig   `yaml:"sources"`
	RateLimit   RateLimitConfig `yaml:"rateLimit"`
	Logging     LoggingConfig   `yaml:"logging"`
	Tracing     TracingConfig   `yaml:"tracing"`
	Metrics     MetricsConfig   `yaml:"metrics"`
}

// IsProduction reports whether the service runs in production, where error
// responses omit stack traces.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// CORSOrigins lists browser origins allowed to call the API; "*" allows any.
	CORSOrigins []string `yaml:"corsOrigins"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	CacheInvalidate string `yaml:"cacheInvalidate"`
	AnalyticsEvents string `yaml:"analyticsEvents"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// CacheConfig controls the aggregation result cache.
type CacheConfig struct {
	TTLSeconds    int    `yaml:"ttlSeconds"`
	SingleFlight  bool   `yaml:"singleFlight"`
	SweepSchedule string `yaml:"sweepSchedule"`
}

// TTL returns the default entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// RetryConfig mirrors resilience.RetryPolicy in config form.
type RetryConfig struct {
	MaxRetries     int           `yaml:"maxRetries"`
	InitialDelay   time.Duration `yaml:"initialDelay"`
	MaxDelay       time.Duration `yaml:"maxDelay"`
	Factor         float64       `yaml:"factor"`
	Jitter         bool          `yaml:"jitter"`
	AttemptTimeout time.Duration `yaml:"attemptTimeout"`
}

// BreakerConfig mirrors resilience.CircuitBreakerConfig in config form.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failureThreshold"`
	SuccessThreshold int           `yaml:"successThreshold"`
	ResetTimeout     time.Duration `yaml:"resetTimeout"`
	CallTimeout      time.Duration `yaml:"callTimeout"`
}

// ScoringConfig holds the default QDF ranking options.
type ScoringConfig struct {
	HalfLifeDays      float64 `yaml:"halfLifeDays"`
	FreshnessWeight   float64 `yaml:"freshnessWeight"`
	PopularityWeight  float64 `yaml:"popularityWeight"`
	MinFreshnessScore float64 `yaml:"minFreshnessScore"`
	MaxResults        int     `yaml:"maxResults"`
}

// SourcesConfig selects where candidate documents come from.
type SourcesConfig struct {
	Primary  string         `yaml:"primary"`
	Fallback string         `yaml:"fallback"`
	HTTP     HTTPSourceCfg  `yaml:"http"`
	Feeds    FeedSourceCfg  `yaml:"feeds"`
	Static   StaticSourceCf `yaml:"static"`
}

// HTTPSourceCfg configures the JSON search provider.
type HTTPSourceCfg struct {
	BaseURL string        `yaml:"baseUrl"`
	APIKey  string        `yaml:"apiKey"`
	Timeout time.Duration `yaml:"timeout"`
}

// FeedSourceCfg configures the RSS/Atom provider.
type FeedSourceCfg struct {
	URLs      []string      `yaml:"urls"`
	UserAgent string        `yaml:"userAgent"`
	Timeout   time.Duration `yaml:"timeout"`
}

// StaticSourceCf points at a JSON file of documents served from memory.
type StaticSourceCf struct {
	Path string `yaml:"path"`
}

// RateLimitConfig controls per-client request limits on the API.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls distributed tracing (sample rate, endpoint).
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	SampleRate float64 `yaml:"sampleRate"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with defaults suitable for local development.
func Default() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "content",
			User:            "content",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "freshness-aggregator",
			Topics: KafkaTopics{
				CacheInvalidate: "cache-invalidate",
				AnalyticsEvents: "aggregation-events",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Cache: CacheConfig{
			TTLSeconds:    3600,
			SingleFlight:  true,
			SweepSchedule: "@every 1m",
		},
		Retry: RetryConfig{
			MaxRetries:     3,
			InitialDelay:   time.Second,
			MaxDelay:       30 * time.Second,
			Factor:         2,
			Jitter:         true,
			AttemptTimeout: 10 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			ResetTimeout:     30 * time.Second,
			CallTimeout:      45 * time.Second,
		},
		Scoring: ScoringConfig{
			HalfLifeDays:      30,
			FreshnessWeight:   0.4,
			PopularityWeight:  0.3,
			MinFreshnessScore: 0.1,
			MaxResults:        10,
		},
		Sources: SourcesConfig{
			Primary: "postgres",
			HTTP:    HTTPSourceCfg{Timeout: 10 * time.Second},
			Feeds:   FeedSourceCfg{UserAgent: "FreshnessAggregator/1.0", Timeout: 15 * time.Second},
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			SampleRate: 0.1,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

// Validate rejects values that violate the retry, breaker and scoring
// invariants.
func (c *Config) Validate() error {
	var errs []error
	r := c.Retry
	if r.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("retry.maxRetries must be >= 0"))
	}
	if r.InitialDelay <= 0 {
		errs = append(errs, fmt.Errorf("retry.initialDelay must be > 0"))
	}
	if r.MaxDelay < r.InitialDelay {
		errs = append(errs, fmt.Errorf("retry.maxDelay must be >= retry.initialDelay"))
	}
	if r.Factor < 1 {
		errs = append(errs, fmt.Errorf("retry.factor must be >= 1"))
	}
	if c.Breaker.FailureThreshold <= 0 || c.Breaker.SuccessThreshold <= 0 {
		errs = append(errs, fmt.Errorf("breaker thresholds must be > 0"))
	}
	if c.Breaker.ResetTimeout <= 0 {
		errs = append(errs, fmt.Errorf("breaker.resetTimeout must be > 0"))
	}
	if c.Cache.TTLSeconds <= 0 {
		errs = append(errs, fmt.Errorf("cache.ttlSeconds must be > 0"))
	}
	s := c.Scoring
	if s.FreshnessWeight < 0 || s.PopularityWeight < 0 || s.FreshnessWeight+s.PopularityWeight > 1 {
		errs = append(errs, fmt.Errorf("scoring weights must be non-negative and sum to at most 1"))
	}
	if s.HalfLifeDays <= 0 {
		errs = append(errs, fmt.Errorf("scoring.halfLifeDays must be > 0"))
	}
	if s.MaxResults <= 0 {
		errs = append(errs, fmt.Errorf("scoring.maxResults must be > 0"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// applyEnvOverrides reads FA_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FA_ENVIRONMENT"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("FA_SERVER_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("FA_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FA_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("FA_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("FA_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("FA_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("FA_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("FA_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("FA_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("FA_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("FA_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("FA_CACHE_TTL_SECONDS"); v != "" {
		if ttl, err := strconv.Atoi(v); err == nil {
			cfg.Cache.TTLSeconds = ttl
		}
	}
	if v := os.Getenv("FA_CACHE_SINGLE_FLIGHT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Cache.SingleFlight = b
		}
	}
	if v := os.Getenv("FA_SOURCES_PRIMARY"); v != "" {
		cfg.Sources.Primary = v
	}
	if v := os.Getenv("FA_SOURCES_FALLBACK"); v != "" {
		cfg.Sources.Fallback = v
	}
	if v := os.Getenv("FA_SOURCES_HTTP_API_KEY"); v != "" {
		cfg.Sources.HTTP.APIKey = v
	}
	if v := os.Getenv("FA_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FA_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// splitList splits a comma-separated env value, dropping blank items.
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
