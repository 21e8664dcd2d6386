package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/internal/qdf"
	apperrors "github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/errors"
)

const searchDocumentsQuery = `
SELECT id, title, content, published_at, last_modified, content_type, popularity, tags
FROM documents
WHERE title ILIKE $1 ESCAPE '\'
   OR content ILIKE $1 ESCAPE '\'
   OR EXISTS (SELECT 1 FROM unnest(tags) AS t WHERE t ILIKE $1 ESCAPE '\')
ORDER BY GREATEST(published_at, COALESCE(last_modified, published_at)) DESC
LIMIT $2`

// Postgres reads candidates from the documents table.
type Postgres struct {
	db     *sql.DB
	limit  int
	logger *slog.Logger
}

// NewPostgres returns a source over db fetching at most limit rows per query.
func NewPostgres(db *sql.DB, limit int) *Postgres {
	if limit <= 0 {
		limit = 200
	}
	return &Postgres{
		db:     db,
		limit:  limit,
		logger: slog.Default().With("component", "postgres-source"),
	}
}

func (p *Postgres) Name() string { return "postgres" }

func (p *Postgres) Fetch(ctx context.Context, query string) ([]qdf.Document, error) {
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"
	rows, err := p.db.QueryContext(ctx, searchDocumentsQuery, pattern, p.limit)
	if err != nil {
		return nil, classifyPQ(fmt.Errorf("querying documents: %w", err))
	}
	defer rows.Close()

	var docs []qdf.Document
	for rows.Next() {
		var (
			d            qdf.Document
			lastModified sql.NullTime
			contentType  sql.NullString
			tags         []string
		)
		if err := rows.Scan(&d.ID, &d.Title, &d.Content, &d.PublishedAt, &lastModified, &contentType, &d.Popularity, pq.Array(&tags)); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		if lastModified.Valid {
			d.LastModified = lastModified.Time
		}
		d.ContentType = contentType.String
		d.Tags = tags
		d.Source = p.Name()
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPQ(fmt.Errorf("iterating documents: %w", err))
	}
	p.logger.Debug("fetched candidates", "query", query, "count", len(docs))
	return docs, nil
}

// classifyPQ marks errors that retrying cannot fix, such as SQL syntax or
// missing relations (class 42) and data exceptions (class 22), as terminal.
func classifyPQ(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "42", "22":
			return apperrors.Terminal(err)
		}
	}
	return err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
