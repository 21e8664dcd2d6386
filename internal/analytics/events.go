// Package analytics records aggregation events: an in-process rollup for
// the stats endpoint and a batching publisher that ships them to Kafka.
package analytics

import "time"

type EventType string

const (
	EventAggregation EventType = "aggregation"
)

// AggregationEvent describes one completed aggregation run.
type AggregationEvent struct {
	Type      EventType `json:"type"`
	Query     string    `json:"query"`
	Status    string    `json:"status"`
	Returned  int       `json:"returned"`
	LatencyMs int64     `json:"latency_ms"`
	CacheHit  bool      `json:"cache_hit"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// Sink accepts events without blocking the caller.
type Sink interface {
	Track(event AggregationEvent)
}

type tee []Sink

func (t tee) Track(event AggregationEvent) {
	for _, s := range t {
		s.Track(event)
	}
}

// Tee fans an event out to every non-nil sink.
func Tee(sinks ...Sink) Sink {
	var out tee
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}
