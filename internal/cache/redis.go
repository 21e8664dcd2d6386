package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	pkgredis "github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/redis"
)

// redisClient is the subset of pkg/redis.Client used by RedisBackend.
type redisClient interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	CompareAndDelete(ctx context.Context, key string, match func([]byte) bool) (bool, error)
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
	CountByPattern(ctx context.Context, pattern string) (int64, error)
}

// RedisBackend stores JSON-encoded entries in Redis under a key prefix.
// Calls go through a gobreaker circuit so an outage fails fast instead of
// stalling every request on connection timeouts.
type RedisBackend struct {
	client  redisClient
	prefix  string
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// RedisOptions tunes the backend's key namespace and its circuit.
type RedisOptions struct {
	Prefix           string
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// NewRedisBackend wraps client. Zero-valued options fall back to prefix
// "qdf-cache:", five consecutive failures and a 30s open period.
func NewRedisBackend(client redisClient, opts RedisOptions) *RedisBackend {
	if opts.Prefix == "" {
		opts.Prefix = "qdf-cache:"
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}
	logger := slog.Default().With("component", "redis-cache")
	threshold := opts.FailureThreshold
	settings := gobreaker.Settings{
		Name:    "redis-cache",
		Timeout: opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"circuit", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}
	return &RedisBackend{
		client:  client,
		prefix:  opts.Prefix,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// State exposes the guarding circuit's state for health reporting.
func (r *RedisBackend) State() gobreaker.State {
	return r.breaker.State()
}

func (r *RedisBackend) Load(ctx context.Context, key string) (Entry, bool, error) {
	res, err := r.breaker.Execute(func() (interface{}, error) {
		data, err := r.client.Get(ctx, r.prefix+key)
		if err != nil {
			if pkgredis.IsNilError(err) {
				return nil, nil
			}
			return nil, err
		}
		return data, nil
	})
	if err != nil {
		return Entry{}, false, err
	}
	data, _ := res.([]byte)
	if data == nil {
		return Entry{}, false, nil
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, false, fmt.Errorf("decoding entry: %w", err)
	}
	return e, true, nil
}

func (r *RedisBackend) Save(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding entry: %w", err)
	}
	ttl := time.Duration(entry.TTLSeconds) * time.Second
	_, err = r.breaker.Execute(func() (interface{}, error) {
		return nil, r.client.Set(ctx, r.prefix+entry.Key, data, ttl)
	})
	return err
}

func (r *RedisBackend) Delete(ctx context.Context, key string) (bool, error) {
	res, err := r.breaker.Execute(func() (interface{}, error) {
		return r.client.Del(ctx, r.prefix+key)
	})
	if err != nil {
		return false, err
	}
	n, _ := res.(int64)
	return n > 0, nil
}

func (r *RedisBackend) DeleteIf(ctx context.Context, key string, createdAt time.Time) (bool, error) {
	res, err := r.breaker.Execute(func() (interface{}, error) {
		return r.client.CompareAndDelete(ctx, r.prefix+key, func(data []byte) bool {
			var e Entry
			if err := json.Unmarshal(data, &e); err != nil {
				return false
			}
			return e.CreatedAt.Equal(createdAt)
		})
	})
	if err != nil {
		return false, err
	}
	deleted, _ := res.(bool)
	return deleted, nil
}

func (r *RedisBackend) Clear(ctx context.Context) (int, error) {
	res, err := r.breaker.Execute(func() (interface{}, error) {
		return r.client.FlushByPattern(ctx, r.prefix+"*")
	})
	n, _ := res.(int64)
	if err != nil {
		return int(n), err
	}
	r.logger.Info("cache cleared", "keys_deleted", n)
	return int(n), nil
}

func (r *RedisBackend) Len(ctx context.Context) (int, error) {
	res, err := r.breaker.Execute(func() (interface{}, error) {
		return r.client.CountByPattern(ctx, r.prefix+"*")
	})
	if err != nil {
		return 0, err
	}
	n, _ := res.(int64)
	return int(n), nil
}
