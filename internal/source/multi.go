package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/internal/qdf"
)

// Multi queries several sources concurrently and merges their documents,
// dropping later duplicates by ID. Partial failure is tolerated; the fetch
// fails only when every source fails.
type Multi struct {
	sources []Source
	logger  *slog.Logger
}

// NewMulti combines sources in priority order.
func NewMulti(sources ...Source) *Multi {
	return &Multi{
		sources: sources,
		logger:  slog.Default().With("component", "multi-source"),
	}
}

func (m *Multi) Name() string {
	names := make([]string, len(m.sources))
	for i, s := range m.sources {
		names[i] = s.Name()
	}
	return "multi(" + strings.Join(names, ",") + ")"
}

func (m *Multi) Fetch(ctx context.Context, query string) ([]qdf.Document, error) {
	if len(m.sources) == 0 {
		return nil, errors.New("no sources configured")
	}
	results := make([][]qdf.Document, len(m.sources))
	errs := make([]error, len(m.sources))

	var g errgroup.Group
	for i, s := range m.sources {
		g.Go(func() error {
			docs, err := s.Fetch(ctx, query)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", s.Name(), err)
				return nil
			}
			results[i] = docs
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for i, err := range errs {
		if err != nil {
			failed++
			m.logger.Warn("source failed", "source", m.sources[i].Name(), "error", err)
		}
	}
	if failed == len(m.sources) {
		return nil, errors.Join(errs...)
	}

	seen := make(map[string]struct{})
	var merged []qdf.Document
	for _, docs := range results {
		for _, d := range docs {
			if d.ID != "" {
				if _, dup := seen[d.ID]; dup {
					continue
				}
				seen[d.ID] = struct{}{}
			}
			merged = append(merged, d)
		}
	}
	return merged, nil
}
