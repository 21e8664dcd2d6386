// Package source provides candidate-document providers for ranking: a
// PostgreSQL document store, a JSON search API, RSS/Atom feeds and a static
// in-memory set, plus a fan-out combinator.
package source

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/internal/qdf"
)

// Source fetches candidate documents for a query.
type Source interface {
	Name() string
	Fetch(ctx context.Context, query string) ([]qdf.Document, error)
}
