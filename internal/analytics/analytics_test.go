package analytics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/kafka"
)

func TestStats_Rollup(t *testing.T) {
	s := NewStats()
	start := s.startTime
	s.now = func() time.Time { return start.Add(2 * time.Minute) }

	s.Track(AggregationEvent{Query: "go", Status: "ok", Returned: 3, LatencyMs: 10})
	s.Track(AggregationEvent{Query: "go", Status: "ok", Returned: 3, LatencyMs: 2, CacheHit: true})
	s.Track(AggregationEvent{Query: "rust", Status: "degraded", Returned: 0, LatencyMs: 30})
	s.Track(AggregationEvent{Query: "zig", Status: "error", LatencyMs: 40})

	sum := s.Snapshot()
	assert.Equal(t, int64(4), sum.TotalAggregations)
	assert.Equal(t, int64(1), sum.CacheHits)
	assert.Equal(t, int64(2), sum.CacheMisses)
	assert.Equal(t, int64(1), sum.Degraded)
	assert.Equal(t, int64(1), sum.Failed)
	assert.Equal(t, int64(1), sum.ZeroResultCount)
	assert.Equal(t, []QueryCount{{"rust", 1}}, sum.ZeroResultQueries)
	assert.Equal(t, QueryCount{"go", 2}, sum.TopQueries[0])
	assert.InDelta(t, 20.5, sum.AvgLatencyMs, 1e-9)
	assert.Equal(t, int64(30), sum.P50LatencyMs)
	assert.InDelta(t, 2.0, sum.AggregationsPerMin, 1e-9)
}

type fakePublisher struct {
	mu      sync.Mutex
	batches [][]kafka.Event
	err     error
}

func (f *fakePublisher) PublishBatch(_ context.Context, events []kafka.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, events)
	return nil
}

func TestCollector_FlushesOnShutdown(t *testing.T) {
	pub := &fakePublisher{}
	c := NewCollector(pub, 100, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	c.Track(AggregationEvent{Query: "go"})
	c.Track(AggregationEvent{Query: "rust"})
	cancel()
	c.Close()

	require.Len(t, pub.batches, 1)
	assert.Len(t, pub.batches[0], 2)
	assert.Equal(t, "go", pub.batches[0][0].Key)
}

func TestCollector_RequeuesOnFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	c := NewCollector(pub, 2, time.Hour)
	c.Track(AggregationEvent{Query: "a"})
	c.flush(context.Background())
	assert.Equal(t, 1, c.BufferLen())

	pub.err = nil
	c.flush(context.Background())
	assert.Zero(t, c.BufferLen())
	require.Len(t, pub.batches, 1)
}

func TestTee_SkipsNil(t *testing.T) {
	s := NewStats()
	Tee(nil, s).Track(AggregationEvent{Query: "q", Status: "ok", Returned: 1})
	assert.Equal(t, int64(1), s.Snapshot().TotalAggregations)
}
