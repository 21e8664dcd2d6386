// Package cache implements the aggregation result cache: a TTL key/value
// store with compute-on-miss, pluggable backends and hit/miss accounting.
package cache

import (
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/errors"
)

// DefaultTTL applies when a caller passes a non-positive TTL.
const DefaultTTL = time.Hour

// Entry is one cached value together with the data needed to decide its
// logical expiry.
type Entry struct {
	Key        string    `json:"key"`
	Value      []byte    `json:"value"`
	TTLSeconds int64     `json:"ttlSeconds"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ExpiresAt returns the instant from which the entry is no longer served.
func (e Entry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(time.Duration(e.TTLSeconds) * time.Second)
}

// Expired reports whether now is at or past the entry deadline.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt())
}

// ttlSeconds converts a TTL to whole seconds, rounding up so that sub-second
// TTLs still live for at least one second.
func ttlSeconds(ttl time.Duration) int64 {
	secs := int64(ttl / time.Second)
	if ttl%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}

// CacheError reports a backend failure. It matches apperrors.ErrCache.
type CacheError struct {
	Op  string
	Key string
	Err error
}

func (e *CacheError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("cache %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *CacheError) Unwrap() []error {
	return []error{apperrors.ErrCache, e.Err}
}
