package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
)

var defaultLoadQueries = []string{
	"kubernetes",
	"golang release",
	"postgres performance",
	"redis cluster",
	"kafka streams",
	"circuit breaker",
	"observability",
	"service mesh",
	"zero trust",
	"edge computing",
}

type loadOptions struct {
	baseURL     string
	concurrency int
	duration    time.Duration
	queries     []string
}

// loadStats accumulates results across workers.
type loadStats struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64
	cacheHits     atomic.Int64
	degraded      atomic.Int64
	latencies     []time.Duration
	latenciesMu   sync.Mutex
	statusCodes   map[int]*atomic.Int64
	statusCodesMu sync.Mutex
}

func newLoadStats() *loadStats {
	return &loadStats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]*atomic.Int64),
	}
}

func (s *loadStats) record(duration time.Duration, statusCode int, err error) {
	s.totalRequests.Add(1)
	if err != nil {
		s.errorCount.Add(1)
		return
	}
	if statusCode >= 200 && statusCode < 300 {
		s.successCount.Add(1)
	} else {
		s.errorCount.Add(1)
	}

	s.latenciesMu.Lock()
	s.latencies = append(s.latencies, duration)
	s.latenciesMu.Unlock()

	s.statusCodesMu.Lock()
	if _, ok := s.statusCodes[statusCode]; !ok {
		s.statusCodes[statusCode] = &atomic.Int64{}
	}
	s.statusCodes[statusCode].Add(1)
	s.statusCodesMu.Unlock()
}

func (a *App) newLoadTestCmd() *cobra.Command {
	opts := &loadOptions{}
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Drive POST /api/v1/aggregate with concurrent workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.concurrency <= 0 {
				return fmt.Errorf("--concurrency must be positive")
			}
			if len(opts.queries) == 0 {
				return fmt.Errorf("at least one --query is required")
			}
			fmt.Fprintln(a.stdout, "=== Freshness Aggregator Load Test ===")
			fmt.Fprintf(a.stdout, "Target:      %s\n", opts.baseURL)
			fmt.Fprintf(a.stdout, "Concurrency: %d\n", opts.concurrency)
			fmt.Fprintf(a.stdout, "Duration:    %s\n", opts.duration)
			fmt.Fprintf(a.stdout, "Queries:     %d unique\n\n", len(opts.queries))

			stats := runLoad(cmd.Context(), opts)
			return a.printLoadReport(stats, opts.duration)
		},
	}
	cmd.Flags().StringVar(&opts.baseURL, "url", "http://localhost:8080", "base URL of the aggregator")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 10, "number of concurrent workers")
	cmd.Flags().DurationVar(&opts.duration, "duration", 30*time.Second, "test duration")
	cmd.Flags().StringSliceVar(&opts.queries, "query", defaultLoadQueries, "queries to cycle through")
	return cmd
}

func runLoad(ctx context.Context, opts *loadOptions) *loadStats {
	stats := newLoadStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        opts.concurrency * 2,
			MaxIdleConnsPerHost: opts.concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	defer client.CloseIdleConnections()

	ctx, cancel := context.WithTimeout(ctx, opts.duration)
	defer cancel()
	target := strings.TrimRight(opts.baseURL, "/") + "/api/v1/aggregate"

	var wg sync.WaitGroup
	for w := 0; w < opts.concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			queryIdx := workerID
			for ctx.Err() == nil {
				query := opts.queries[queryIdx%len(opts.queries)]
				queryIdx++

				body, _ := json.Marshal(map[string]string{"query": query})
				req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
				if err != nil {
					stats.record(0, 0, err)
					return
				}
				req.Header.Set("Content-Type", "application/json")

				start := time.Now()
				resp, err := client.Do(req)
				duration := time.Since(start)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					stats.record(duration, 0, err)
					continue
				}
				var parsed struct {
					Metadata struct {
						CacheHit bool `json:"cacheHit"`
						Degraded bool `json:"degraded"`
					} `json:"metadata"`
				}
				if resp.StatusCode == http.StatusOK && json.NewDecoder(resp.Body).Decode(&parsed) == nil {
					if parsed.Metadata.CacheHit {
						stats.cacheHits.Add(1)
					}
					if parsed.Metadata.Degraded {
						stats.degraded.Add(1)
					}
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()

				stats.record(duration, resp.StatusCode, nil)
			}
		}(w)
	}
	wg.Wait()
	return stats
}

func (a *App) printLoadReport(stats *loadStats, duration time.Duration) error {
	out := a.stdout
	total := stats.totalRequests.Load()
	success := stats.successCount.Load()
	errCount := stats.errorCount.Load()

	fmt.Fprintln(out, "=== Results ===")
	fmt.Fprintf(out, "Total Requests:  %d\n", total)
	fmt.Fprintf(out, "Successful:      %d\n", success)
	fmt.Fprintf(out, "Errors:          %d\n", errCount)
	fmt.Fprintf(out, "Cache Hits:      %d\n", stats.cacheHits.Load())
	fmt.Fprintf(out, "Degraded:        %d\n", stats.degraded.Load())
	if total > 0 {
		fmt.Fprintf(out, "Error Rate:      %.2f%%\n", float64(errCount)/float64(total)*100)
		fmt.Fprintf(out, "Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}

	stats.latenciesMu.Lock()
	latencies := make([]time.Duration, len(stats.latencies))
	copy(latencies, stats.latencies)
	stats.latenciesMu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))

		fmt.Fprintln(out)
		fmt.Fprintln(out, "=== Latency ===")
		fmt.Fprintf(out, "Min:    %s\n", latencies[0])
		fmt.Fprintf(out, "Avg:    %s\n", avg)
		fmt.Fprintf(out, "P50:    %s\n", latencyPercentile(latencies, 50))
		fmt.Fprintf(out, "P95:    %s\n", latencyPercentile(latencies, 95))
		fmt.Fprintf(out, "P99:    %s\n", latencyPercentile(latencies, 99))
		fmt.Fprintf(out, "Max:    %s\n", latencies[len(latencies)-1])
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "=== Status Codes ===")
	stats.statusCodesMu.Lock()
	codes := make([]int, 0, len(stats.statusCodes))
	for code := range stats.statusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Fprintf(out, "  %d: %d\n", code, stats.statusCodes[code].Load())
	}
	stats.statusCodesMu.Unlock()

	if success == 0 {
		return fmt.Errorf("no request succeeded; is the service running?")
	}
	return nil
}

func latencyPercentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
