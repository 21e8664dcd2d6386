package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/health"
)

func newMockClient(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Client{DB: db, logger: slog.Default()}, mock
}

func TestCheck_Up(t *testing.T) {
	c, mock := newMockClient(t)
	mock.ExpectPing()

	h := c.Check()(context.Background())
	assert.Equal(t, health.StatusUp, h.Status)
	assert.Contains(t, h.Message, "connections in use")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheck_DownWhenPingFails(t *testing.T) {
	c, mock := newMockClient(t)
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	h := c.Check()(context.Background())
	assert.Equal(t, health.StatusDown, h.Status)
	assert.Equal(t, "connection refused", h.Message)
}

func TestPoolHealth(t *testing.T) {
	tests := []struct {
		name  string
		stats sql.DBStats
		want  health.Status
	}{
		{"idle", sql.DBStats{MaxOpenConnections: 10, InUse: 2}, health.StatusUp},
		{"unbounded", sql.DBStats{InUse: 50, WaitCount: 3}, health.StatusUp},
		{"full without waiters", sql.DBStats{MaxOpenConnections: 4, InUse: 4}, health.StatusUp},
		{"saturated", sql.DBStats{MaxOpenConnections: 4, InUse: 4, WaitCount: 7}, health.StatusDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, poolHealth(tt.stats).Status)
		})
	}
}
