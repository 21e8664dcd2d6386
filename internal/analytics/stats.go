package analytics

import (
	"sort"
	"sync"
	"time"
)

const maxLatencySamples = 10000

// Summary is the rollup served by the analytics endpoint.
type Summary struct {
	TotalAggregations  int64        `json:"total_aggregations"`
	CacheHits          int64        `json:"cache_hits"`
	CacheMisses        int64        `json:"cache_misses"`
	Degraded           int64        `json:"degraded"`
	Failed             int64        `json:"failed"`
	ZeroResultCount    int64        `json:"zero_result_count"`
	AvgLatencyMs       float64      `json:"avg_latency_ms"`
	P50LatencyMs       int64        `json:"p50_latency_ms"`
	P95LatencyMs       int64        `json:"p95_latency_ms"`
	P99LatencyMs       int64        `json:"p99_latency_ms"`
	TopQueries         []QueryCount `json:"top_queries"`
	ZeroResultQueries  []QueryCount `json:"zero_result_queries"`
	AggregationsPerMin float64      `json:"aggregations_per_minute"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Stats keeps an in-process rollup of aggregation events.
type Stats struct {
	mu                sync.Mutex
	summary           Summary
	latencies         []int64
	queryCounts       map[string]int64
	zeroResultQueries map[string]int64
	startTime         time.Time
	now               func() time.Time
}

func NewStats() *Stats {
	return &Stats{
		latencies:         make([]int64, 0, 1024),
		queryCounts:       make(map[string]int64),
		zeroResultQueries: make(map[string]int64),
		startTime:         time.Now(),
		now:               time.Now,
	}
}

// Track records event. Latency samples are bounded; the oldest half is
// discarded when the window fills.
func (s *Stats) Track(event AggregationEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.summary.TotalAggregations++
	switch {
	case event.Status == "error":
		s.summary.Failed++
	case event.CacheHit:
		s.summary.CacheHits++
	default:
		s.summary.CacheMisses++
	}
	if event.Status == "degraded" {
		s.summary.Degraded++
	}
	if event.Status != "error" && event.Returned == 0 {
		s.summary.ZeroResultCount++
		s.zeroResultQueries[event.Query]++
	}
	if len(s.latencies) >= maxLatencySamples {
		s.latencies = append(s.latencies[:0], s.latencies[maxLatencySamples/2:]...)
	}
	s.latencies = append(s.latencies, event.LatencyMs)
	s.queryCounts[event.Query]++
}

// Snapshot computes the current rollup.
func (s *Stats) Snapshot() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.summary
	if len(s.latencies) > 0 {
		sorted := make([]int64, len(s.latencies))
		copy(sorted, s.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		out.AvgLatencyMs = float64(sum) / float64(len(sorted))
		out.P50LatencyMs = percentile(sorted, 50)
		out.P95LatencyMs = percentile(sorted, 95)
		out.P99LatencyMs = percentile(sorted, 99)
	}
	out.TopQueries = topN(s.queryCounts, 10)
	out.ZeroResultQueries = topN(s.zeroResultQueries, 10)
	if elapsed := s.now().Sub(s.startTime).Minutes(); elapsed > 0 {
		out.AggregationsPerMin = float64(out.TotalAggregations) / elapsed
	}
	return out
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Query < result[j].Query
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
