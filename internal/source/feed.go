package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/internal/qdf"
	apperrors "github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/errors"
)

// Feed reads RSS/Atom feeds and keeps items mentioning the query.
type Feed struct {
	urls      []string
	client    *http.Client
	userAgent string
	logger    *slog.Logger
}

// NewFeed returns a feed source over urls.
func NewFeed(urls []string, client *http.Client, userAgent string) *Feed {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Feed{
		urls:      urls,
		client:    client,
		userAgent: userAgent,
		logger:    slog.Default().With("component", "feed-source"),
	}
}

func (f *Feed) Name() string { return "feeds" }

// Fetch parses every feed concurrently. One failing feed fails the fetch so
// the caller's retry and breaker see the outage.
func (f *Feed) Fetch(ctx context.Context, query string) ([]qdf.Document, error) {
	q := strings.ToLower(strings.TrimSpace(query))

	var (
		mu   sync.Mutex
		docs []qdf.Document
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, u := range f.urls {
		g.Go(func() error {
			items, err := f.fetchOne(gctx, u)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, d := range items {
				if matches(d, q) {
					docs = append(docs, d)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

func (f *Feed) fetchOne(ctx context.Context, feedURL string) ([]qdf.Document, error) {
	fp := gofeed.NewParser()
	fp.Client = f.client
	if f.userAgent != "" {
		fp.UserAgent = f.userAgent
	}

	feed, err := fp.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		var httpErr gofeed.HTTPError
		if errors.As(err, &httpErr) {
			return nil, apperrors.NewStatus(httpErr.StatusCode, "feed %s: %s", feedURL, httpErr.Status)
		}
		if errors.Is(err, gofeed.ErrFeedTypeNotDetected) {
			return nil, apperrors.Terminal(fmt.Errorf("feed %s: %w", feedURL, err))
		}
		return nil, fmt.Errorf("fetching feed %s: %w", feedURL, err)
	}

	docs := make([]qdf.Document, 0, len(feed.Items))
	for _, it := range feed.Items {
		content := it.Content
		if content == "" {
			content = it.Description
		}
		d := qdf.Document{
			ID:          it.GUID,
			Title:       it.Title,
			Content:     htmlToText(content),
			ContentType: "article",
			Tags:        it.Categories,
			Source:      feedURL,
			URL:         it.Link,
		}
		if d.ID == "" {
			d.ID = it.Link
		}
		if it.PublishedParsed != nil {
			d.PublishedAt = *it.PublishedParsed
		}
		if it.UpdatedParsed != nil {
			d.LastModified = *it.UpdatedParsed
		}
		docs = append(docs, d)
	}
	f.logger.Debug("parsed feed", "url", feedURL, "items", len(docs))
	return docs, nil
}

// htmlToText strips markup from feed bodies. Plain text passes through.
func htmlToText(s string) string {
	if !strings.Contains(s, "<") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	doc.Find("script, style").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func matches(d qdf.Document, q string) bool {
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(d.Title), q) || strings.Contains(strings.ToLower(d.Content), q) {
		return true
	}
	for _, t := range d.Tags {
		if strings.Contains(strings.ToLower(t), q) {
			return true
		}
	}
	return false
}
