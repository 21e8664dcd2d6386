package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/internal/qdf"
)

// Static serves a fixed document set. It backs the degraded fallback and
// the offline CLI.
type Static struct {
	name string
	docs []qdf.Document
}

// NewStatic returns a source serving docs.
func NewStatic(name string, docs []qdf.Document) *Static {
	return &Static{name: name, docs: docs}
}

// LoadStatic reads a JSON array of documents from path.
func LoadStatic(name, path string) (*Static, error) {
	docs, err := ReadDocuments(path)
	if err != nil {
		return nil, err
	}
	return NewStatic(name, docs), nil
}

// ReadDocuments decodes a JSON array of documents from path.
func ReadDocuments(path string) ([]qdf.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading documents %s: %w", path, err)
	}
	var docs []qdf.Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("parsing documents %s: %w", path, err)
	}
	return docs, nil
}

func (s *Static) Name() string { return s.name }

// Fetch returns a copy of the document set; ranking does the filtering.
func (s *Static) Fetch(ctx context.Context, _ string) ([]qdf.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]qdf.Document, len(s.docs))
	copy(out, s.docs)
	return out, nil
}
