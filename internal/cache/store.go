package cache

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/clock"
)

// Factory computes a value on a cache miss.
type Factory func(ctx context.Context) ([]byte, error)

// Observer receives one event per lookup: "hit", "miss" or "expired".
type Observer interface {
	ObserveCache(result string)
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	TotalEntries  int     `json:"totalEntries"`
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Sets          int64   `json:"sets"`
	Invalidations int64   `json:"invalidations"`
	Expired       int64   `json:"expired"`
	HitRate       float64 `json:"hitRate"`
}

// Store is a TTL cache with compute-on-miss over a pluggable Backend.
type Store struct {
	backend      Backend
	defaultTTL   time.Duration
	singleFlight bool
	clock        clock.Clock
	observer     Observer
	group        singleflight.Group
	logger       *slog.Logger

	hits          atomic.Int64
	misses        atomic.Int64
	sets          atomic.Int64
	invalidations atomic.Int64
	expired       atomic.Int64
}

// Option configures a Store.
type Option func(*Store)

// WithDefaultTTL sets the TTL used when callers pass a non-positive one.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.defaultTTL = ttl
		}
	}
}

// WithSingleFlight toggles coalescing of concurrent misses for one key.
func WithSingleFlight(enabled bool) Option {
	return func(s *Store) { s.singleFlight = enabled }
}

// WithClock replaces the clock used for entry creation and expiry.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithObserver attaches a lookup observer, typically Prometheus counters.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

// New creates a Store. Single-flight is enabled unless disabled explicitly.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:      backend,
		defaultTTL:   DefaultTTL,
		singleFlight: true,
		clock:        clock.Real(),
		logger:       slog.Default().With("component", "cache"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the value stored under key. Entries past their deadline are
// deleted and reported as a miss.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	e, ok, err := s.backend.Load(ctx, key)
	if err != nil {
		return nil, false, &CacheError{Op: "get", Key: key, Err: err}
	}
	if !ok {
		s.misses.Add(1)
		s.observe("miss")
		return nil, false, nil
	}
	if e.Expired(s.clock.Now()) {
		if _, err := s.backend.DeleteIf(ctx, key, e.CreatedAt); err != nil {
			return nil, false, &CacheError{Op: "expire", Key: key, Err: err}
		}
		s.expired.Add(1)
		s.misses.Add(1)
		s.observe("expired")
		s.logger.Debug("cache entry expired", "key", key, "expires_at", e.ExpiresAt())
		return nil, false, nil
	}
	s.hits.Add(1)
	s.observe("hit")
	return e.Value, true, nil
}

// Set stores value under key. A non-positive ttl selects the default TTL.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	e := Entry{
		Key:        key,
		Value:      value,
		TTLSeconds: ttlSeconds(ttl),
		CreatedAt:  s.clock.Now(),
	}
	if err := s.backend.Save(ctx, e); err != nil {
		return &CacheError{Op: "set", Key: key, Err: err}
	}
	s.sets.Add(1)
	return nil
}

// Invalidate removes key. Removing an absent key is not an error.
func (s *Store) Invalidate(ctx context.Context, key string) error {
	existed, err := s.backend.Delete(ctx, key)
	if err != nil {
		return &CacheError{Op: "invalidate", Key: key, Err: err}
	}
	if existed {
		s.invalidations.Add(1)
	}
	return nil
}

// GetOrSet returns the cached value for key, or computes it with factory,
// stores it and returns it. The boolean reports a cache hit. Factory errors
// are returned unchanged and never stored.
//
// With single-flight enabled the shared computation runs detached from any
// one caller's cancellation; a cancelled caller only abandons its own wait.
func (s *Store) GetOrSet(ctx context.Context, key string, ttl time.Duration, factory Factory) ([]byte, bool, error) {
	if v, ok, err := s.Get(ctx, key); err != nil || ok {
		return v, ok, err
	}
	if !s.singleFlight {
		v, err := s.compute(ctx, key, ttl, factory)
		return v, false, err
	}

	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		if v, ok := s.peek(shared, key); ok {
			return v, nil
		}
		return s.compute(shared, key, ttl, factory)
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		if res.Shared {
			s.logger.Debug("coalesced cache miss", "key", key)
		}
		return res.Val.([]byte), false, nil
	}
}

func (s *Store) compute(ctx context.Context, key string, ttl time.Duration, factory Factory) ([]byte, error) {
	v, err := factory(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.Set(ctx, key, v, ttl); err != nil {
		return nil, err
	}
	return v, nil
}

// peek reads a live entry without touching the counters.
func (s *Store) peek(ctx context.Context, key string) ([]byte, bool) {
	e, ok, err := s.backend.Load(ctx, key)
	if err != nil || !ok || e.Expired(s.clock.Now()) {
		return nil, false
	}
	return e.Value, true
}

// Clear removes every entry and returns how many were removed.
func (s *Store) Clear(ctx context.Context) (int, error) {
	n, err := s.backend.Clear(ctx)
	if err != nil {
		return n, &CacheError{Op: "clear", Err: err}
	}
	s.invalidations.Add(int64(n))
	s.logger.Info("cache cleared", "entries", n)
	return n, nil
}

// Sweep reclaims expired entries on backends that retain them.
func (s *Store) Sweep() int {
	sw, ok := s.backend.(Sweeper)
	if !ok {
		return 0
	}
	n := sw.Sweep(s.clock.Now())
	if n > 0 {
		s.expired.Add(int64(n))
		s.logger.Debug("swept expired entries", "count", n)
	}
	return n
}

// Stats reports counters and the backend's current entry count.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	n, err := s.backend.Len(ctx)
	if err != nil {
		return Stats{}, &CacheError{Op: "stats", Err: err}
	}
	st := Stats{
		TotalEntries:  n,
		Hits:          s.hits.Load(),
		Misses:        s.misses.Load(),
		Sets:          s.sets.Load(),
		Invalidations: s.invalidations.Load(),
		Expired:       s.expired.Load(),
	}
	if total := st.Hits + st.Misses; total > 0 {
		st.HitRate = float64(st.Hits) / float64(total)
	}
	return st, nil
}

func (s *Store) observe(result string) {
	if s.observer != nil {
		s.observer.ObserveCache(result)
	}
}
