package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/clock"
	apperrors "github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/errors"
)

func newTestStore(t *testing.T, opts ...Option) (*Store, *MemoryBackend, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	backend := NewMemoryBackend()
	opts = append([]Option{WithClock(fake)}, opts...)
	return New(backend, opts...), backend, fake
}

func TestStore_HitAvoidsRecompute(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	calls := 0
	factory := func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte("ranked"), nil
	}

	v, hit, err := store.GetOrSet(ctx, "qdf:go", time.Minute, factory)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []byte("ranked"), v)

	v, hit, err = store.GetOrSet(ctx, "qdf:go", time.Minute, factory)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []byte("ranked"), v)
	assert.Equal(t, 1, calls)

	st, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
	assert.Equal(t, int64(1), st.Sets)
	assert.Equal(t, 1, st.TotalEntries)
	assert.InDelta(t, 0.5, st.HitRate, 1e-9)
}

func TestStore_TTLExpiry(t *testing.T) {
	store, backend, fake := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), 60*time.Second))

	fake.Advance(59 * time.Second)
	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	fake.Advance(time.Second)
	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	n, _ := backend.Len(ctx)
	assert.Zero(t, n, "expired entry is deleted on read")

	st, _ := store.Stats(ctx)
	assert.Equal(t, int64(1), st.Expired)
	assert.Equal(t, int64(1), st.Misses)
}

func TestStore_NonPositiveTTLUsesDefault(t *testing.T) {
	store, backend, fake := newTestStore(t, WithDefaultTTL(10*time.Minute))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), 0))
	e, ok, _ := backend.Load(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, int64(600), e.TTLSeconds)

	fake.Advance(9 * time.Minute)
	_, ok, _ = store.Get(ctx, "k")
	assert.True(t, ok)
}

func TestStore_SubSecondTTLRoundsUp(t *testing.T) {
	store, backend, _ := newTestStore(t)
	require.NoError(t, store.Set(context.Background(), "k", []byte("v"), 200*time.Millisecond))
	e, _, _ := backend.Load(context.Background(), "k")
	assert.Equal(t, int64(1), e.TTLSeconds)
}

func TestStore_FactoryErrorIsNotCached(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("provider down")

	_, _, err := store.GetOrSet(ctx, "k", 0, func(ctx context.Context) ([]byte, error) {
		return nil, boom
	})
	assert.Same(t, boom, err)

	calls := 0
	v, hit, err := store.GetOrSet(ctx, "k", 0, func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte("ok"), nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []byte("ok"), v)
	assert.Equal(t, 1, calls)
}

func TestStore_InvalidateIsIdempotent(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "k", []byte("v"), 0))

	require.NoError(t, store.Invalidate(ctx, "k"))
	require.NoError(t, store.Invalidate(ctx, "k"))
	require.NoError(t, store.Invalidate(ctx, "missing"))

	_, ok, _ := store.Get(ctx, "k")
	assert.False(t, ok)
	st, _ := store.Stats(ctx)
	assert.Equal(t, int64(1), st.Invalidations)
}

func TestStore_Clear(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, store.Set(ctx, k, []byte(k), 0))
	}
	n, err := store.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	st, _ := store.Stats(ctx)
	assert.Zero(t, st.TotalEntries)
}

func TestStore_SingleFlightCoalescesConcurrentMisses(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	factory := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("v"), nil
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([][]byte, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _, err := store.GetOrSet(ctx, "hot", 0, factory)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, []byte("v"), v)
	}
}

func TestStore_SingleFlightSurvivesFirstCallerCancellation(t *testing.T) {
	store, _, _ := newTestStore(t)

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	factory := func(ctx context.Context) ([]byte, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-release:
			return []byte("v"), nil
		}
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := store.GetOrSet(firstCtx, "k", 0, factory)
		firstErr <- err
	}()
	<-started

	type result struct {
		v   []byte
		err error
	}
	second := make(chan result, 1)
	go func() {
		v, _, err := store.GetOrSet(context.Background(), "k", 0, factory)
		second <- result{v, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, []byte("v"), res.v)
	assert.Equal(t, int32(1), calls.Load())

	v, hit, err := store.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []byte("v"), v)
}

func TestStore_WithoutSingleFlightEachMissComputes(t *testing.T) {
	store, _, _ := newTestStore(t, WithSingleFlight(false))
	ctx := context.Background()

	var calls atomic.Int32
	var started sync.WaitGroup
	started.Add(2)
	release := make(chan struct{})
	factory := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		started.Done()
		<-release
		return []byte("v"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = store.GetOrSet(ctx, "hot", 0, factory)
		}()
	}
	started.Wait()
	close(release)
	wg.Wait()
	assert.Equal(t, int32(2), calls.Load())
}

func TestStore_SweepReclaimsExpired(t *testing.T) {
	store, backend, fake := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "short", []byte("v"), time.Second))
	require.NoError(t, store.Set(ctx, "long", []byte("v"), time.Hour))

	fake.Advance(2 * time.Second)
	assert.Equal(t, 1, store.Sweep())
	n, _ := backend.Len(ctx)
	assert.Equal(t, 1, n)
}

// rewritingBackend stores a fresh entry right after handing out the loaded
// one, mimicking a concurrent Set landing between a read and its expiry.
type rewritingBackend struct {
	*MemoryBackend
	fresh *Entry
}

func (r *rewritingBackend) Load(ctx context.Context, key string) (Entry, bool, error) {
	e, ok, err := r.MemoryBackend.Load(ctx, key)
	if r.fresh != nil {
		_ = r.MemoryBackend.Save(ctx, *r.fresh)
		r.fresh = nil
	}
	return e, ok, err
}

func TestStore_ExpiryKeepsConcurrentRewrite(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	backend := &rewritingBackend{MemoryBackend: NewMemoryBackend()}
	store := New(backend, WithClock(fake))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("stale"), time.Second))
	fake.Advance(2 * time.Second)
	backend.fresh = &Entry{Key: "k", Value: []byte("fresh"), TTLSeconds: 60, CreatedAt: fake.Now()}

	_, hit, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, hit)

	v, hit, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []byte("fresh"), v)
}

func TestMemoryBackend_DeleteIf(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, backend.Save(ctx, Entry{Key: "k", Value: []byte("v"), TTLSeconds: 1, CreatedAt: created}))

	deleted, err := backend.DeleteIf(ctx, "k", created.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = backend.DeleteIf(ctx, "k", created)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = backend.DeleteIf(ctx, "k", created)
	require.NoError(t, err)
	assert.False(t, deleted)
}

type failingBackend struct {
	*MemoryBackend
	err error
}

func (f failingBackend) Load(context.Context, string) (Entry, bool, error) {
	return Entry{}, false, f.err
}

func (f failingBackend) Save(context.Context, Entry) error { return f.err }

func TestStore_BackendErrorsSurface(t *testing.T) {
	down := errors.New("connection refused")
	store := New(failingBackend{MemoryBackend: NewMemoryBackend(), err: down})
	ctx := context.Background()

	_, _, err := store.Get(ctx, "k")
	var cacheErr *CacheError
	require.ErrorAs(t, err, &cacheErr)
	assert.Equal(t, "get", cacheErr.Op)
	assert.ErrorIs(t, err, down)
	assert.ErrorIs(t, err, apperrors.ErrCache)

	err = store.Set(ctx, "k", []byte("v"), 0)
	assert.ErrorIs(t, err, down)

	calls := 0
	_, _, err = store.GetOrSet(ctx, "k", 0, func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte("v"), nil
	})
	assert.ErrorIs(t, err, apperrors.ErrCache)
	assert.Zero(t, calls)
}

type countingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *countingObserver) ObserveCache(result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.counts[result]++
}

func TestStore_Observer(t *testing.T) {
	obs := &countingObserver{counts: map[string]int{}}
	store, _, fake := newTestStore(t, WithObserver(obs))
	ctx := context.Background()

	_, _, _ = store.Get(ctx, "k")
	_ = store.Set(ctx, "k", []byte("v"), time.Second)
	_, _, _ = store.Get(ctx, "k")
	fake.Advance(time.Second)
	_, _, _ = store.Get(ctx, "k")

	assert.Equal(t, map[string]int{"miss": 1, "hit": 1, "expired": 1}, obs.counts)
}

type page struct {
	Title string `json:"title"`
	Score float64 `json:"score"`
}

func TestTyped_GetOrSet(t *testing.T) {
	store, _, _ := newTestStore(t)
	typed := NewTyped[[]page](store)
	ctx := context.Background()

	want := []page{{Title: "Go 1.26 released", Score: 0.91}}
	got, hit, err := typed.GetOrSet(ctx, "k", 0, func(ctx context.Context) ([]page, error) {
		return want, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, want, got)

	got, ok, err := typed.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)
}

func TestTyped_DecodeFailure(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "k", []byte("not json"), 0))

	_, _, err := NewTyped[page](store).Get(ctx, "k")
	var cacheErr *CacheError
	require.ErrorAs(t, err, &cacheErr)
	assert.Equal(t, "decode", cacheErr.Op)
}
