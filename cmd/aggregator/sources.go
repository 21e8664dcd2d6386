package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/internal/source"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/postgres"
)

// sourceBuilder turns source names from config into Sources, opening the
// Postgres pool at most once.
type sourceBuilder struct {
	cfg     *config.Config
	checker *health.Checker
	pg      *postgres.Client
}

// build resolves names, a comma-separated list of source names. More than
// one name yields a Multi fan-out.
func (b *sourceBuilder) build(names string) (source.Source, error) {
	var sources []source.Source
	for _, name := range strings.Split(names, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		s, err := b.one(name)
		if err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}
	switch len(sources) {
	case 0:
		return nil, fmt.Errorf("no sources named in %q", names)
	case 1:
		return sources[0], nil
	default:
		return source.NewMulti(sources...), nil
	}
}

func (b *sourceBuilder) one(name string) (source.Source, error) {
	sc := b.cfg.Sources
	switch name {
	case "postgres":
		if b.pg == nil {
			pg, err := postgres.New(b.cfg.Postgres)
			if err != nil {
				return nil, err
			}
			b.pg = pg
			if b.checker != nil {
				b.checker.Register("postgres", pg.Check())
			}
		}
		return source.NewPostgres(b.pg.DB, 0), nil
	case "http":
		if sc.HTTP.BaseURL == "" {
			return nil, fmt.Errorf("sources.http.baseUrl is required for the http source")
		}
		return source.NewHTTP(sc.HTTP.BaseURL, sc.HTTP.APIKey, &http.Client{}, sc.HTTP.Timeout), nil
	case "feeds":
		if len(sc.Feeds.URLs) == 0 {
			return nil, fmt.Errorf("sources.feeds.urls is required for the feeds source")
		}
		return source.NewFeed(sc.Feeds.URLs, &http.Client{Timeout: sc.Feeds.Timeout}, sc.Feeds.UserAgent), nil
	case "static":
		if sc.Static.Path == "" {
			return nil, fmt.Errorf("sources.static.path is required for the static source")
		}
		return source.LoadStatic("static", sc.Static.Path)
	default:
		return nil, fmt.Errorf("unknown source %q", name)
	}
}

func (b *sourceBuilder) Close() error {
	if b.pg == nil {
		return nil
	}
	return b.pg.Close()
}
