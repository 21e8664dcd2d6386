// Package postgres opens the document-store connection pool that backs the
// postgres candidate source.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/health"
)

const connectTimeout = 5 * time.Second

// Client owns the document-store pool.
type Client struct {
	DB     *sql.DB
	cfg    config.PostgresConfig
	logger *slog.Logger
}

// New opens the pool with the configured limits and fails unless the
// document store answers a ping within five seconds.
func New(cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening document store: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging document store %s/%s: %w", cfg.Host, cfg.Database, err)
	}

	logger := slog.Default().With("component", "document-store")
	logger.Info("document store connected",
		"host", cfg.Host,
		"database", cfg.Database,
		"max_open_conns", cfg.MaxOpenConns,
	)
	return &Client{DB: db, cfg: cfg, logger: logger}, nil
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// Check reports the store down when a ping fails, and degraded while every
// connection in the pool is busy and callers are queueing for one.
func (c *Client) Check() health.Check {
	return func(ctx context.Context) health.ComponentHealth {
		if err := c.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return poolHealth(c.DB.Stats())
	}
}

func poolHealth(st sql.DBStats) health.ComponentHealth {
	msg := fmt.Sprintf("%d/%d connections in use", st.InUse, st.MaxOpenConnections)
	if st.MaxOpenConnections > 0 && st.InUse >= st.MaxOpenConnections && st.WaitCount > 0 {
		return health.ComponentHealth{Status: health.StatusDegraded, Message: msg + ", callers waiting"}
	}
	return health.ComponentHealth{Status: health.StatusUp, Message: msg}
}

// Close releases the pool.
func (c *Client) Close() error {
	c.logger.Info("closing document store pool")
	return c.DB.Close()
}
