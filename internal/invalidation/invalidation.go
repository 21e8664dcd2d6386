// Package invalidation drops cached rankings in response to events on the
// cache-invalidate topic, and publishes such events for other replicas.
package invalidation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/internal/aggregator"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/internal/qdf"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/metrics"
)

// Message is one invalidation request. Exactly one form is honoured, in
// order of precedence: All, Key, then Query with optional Options layered
// over the service's scoring defaults.
type Message struct {
	Key     string         `json:"key,omitempty"`
	Query   string         `json:"query,omitempty"`
	Options *qdf.Overrides `json:"options,omitempty"`
	All     bool           `json:"all,omitempty"`
}

// Kind names the form of m for logs and metrics.
func (m Message) Kind() string {
	switch {
	case m.All:
		return "all"
	case m.Key != "":
		return "key"
	case strings.TrimSpace(m.Query) != "":
		return "query"
	default:
		return "invalid"
	}
}

var errEmptyMessage = errors.New("invalidation message names no key, query or all")

// Cache is the part of the result cache invalidation needs.
type Cache interface {
	Invalidate(ctx context.Context, key string) error
	Clear(ctx context.Context) (int, error)
}

// Handler applies invalidation messages to a cache.
type Handler struct {
	cache    Cache
	defaults qdf.Options
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewHandler builds a Handler. defaults are the scoring options a
// query-form message is resolved against; m may be nil.
func NewHandler(cache Cache, defaults qdf.Options, m *metrics.Metrics) *Handler {
	return &Handler{
		cache:    cache,
		defaults: defaults,
		metrics:  m,
		logger:   slog.Default().With("component", "cache-invalidation"),
	}
}

// Apply executes m against the cache.
func (h *Handler) Apply(ctx context.Context, m Message) error {
	kind := m.Kind()
	err := h.apply(ctx, m)
	h.observe(kind, err)
	return err
}

func (h *Handler) apply(ctx context.Context, m Message) error {
	switch m.Kind() {
	case "all":
		n, err := h.cache.Clear(ctx)
		if err != nil {
			return fmt.Errorf("clearing cache: %w", err)
		}
		h.logger.Info("cache cleared", "entries", n)
		return nil
	case "key":
		if err := h.cache.Invalidate(ctx, m.Key); err != nil {
			return fmt.Errorf("invalidating key %s: %w", m.Key, err)
		}
		h.logger.Debug("cache key invalidated", "key", m.Key)
		return nil
	case "query":
		key := aggregator.CacheKey(strings.TrimSpace(m.Query), m.Options.Apply(h.defaults))
		if err := h.cache.Invalidate(ctx, key); err != nil {
			return fmt.Errorf("invalidating query %q: %w", m.Query, err)
		}
		h.logger.Debug("cached query invalidated", "query", m.Query, "key", key)
		return nil
	default:
		return errEmptyMessage
	}
}

// HandleMessage adapts the Handler to the Kafka consumer. Undecodable or
// empty messages are logged and acknowledged; cache failures are returned
// so the consumer logs them.
func (h *Handler) HandleMessage() kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		msg, err := kafka.DecodeJSON[Message](value)
		if err != nil {
			h.logger.Error("failed to decode invalidation event",
				"error", err,
				"key", string(key),
			)
			h.observe("invalid", err)
			return nil
		}
		if err := h.Apply(ctx, msg); err != nil {
			if errors.Is(err, errEmptyMessage) {
				h.logger.Warn("ignoring empty invalidation event", "key", string(key))
				return nil
			}
			return err
		}
		return nil
	}
}

func (h *Handler) observe(kind string, err error) {
	if h.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	h.metrics.InvalidationsTotal.WithLabelValues(kind, status).Inc()
}

// EventPublisher is satisfied by *kafka.Producer.
type EventPublisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Publisher emits invalidation messages to the cache-invalidate topic.
type Publisher struct {
	producer EventPublisher
}

// NewPublisher wraps producer.
func NewPublisher(producer EventPublisher) *Publisher {
	return &Publisher{producer: producer}
}

// Publish sends m. Messages are keyed by their target so that events for
// one key stay ordered within a partition.
func (p *Publisher) Publish(ctx context.Context, m Message) error {
	if m.Kind() == "invalid" {
		return errEmptyMessage
	}
	key := m.Key
	switch {
	case m.All:
		key = "*"
	case key == "":
		key = strings.TrimSpace(m.Query)
	}
	return p.producer.Publish(ctx, kafka.Event{Key: key, Value: m})
}
