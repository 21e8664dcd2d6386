package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Typed stores JSON-encoded values of T in a Store.
type Typed[T any] struct {
	store *Store
}

// NewTyped returns a typed view over store.
func NewTyped[T any](store *Store) *Typed[T] {
	return &Typed[T]{store: store}
}

func (t *Typed[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	data, ok, err := t.store.Get(ctx, key)
	if err != nil || !ok {
		return zero, ok, err
	}
	v, err := decode[T](key, data)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

func (t *Typed[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %q: %w", key, err)
	}
	return t.store.Set(ctx, key, data, ttl)
}

// GetOrSet is Store.GetOrSet with JSON encoding around factory.
func (t *Typed[T]) GetOrSet(ctx context.Context, key string, ttl time.Duration, factory func(ctx context.Context) (T, error)) (T, bool, error) {
	var zero T
	data, hit, err := t.store.GetOrSet(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		v, err := factory(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return zero, false, err
	}
	v, err := decode[T](key, data)
	if err != nil {
		return zero, false, err
	}
	return v, hit, nil
}

func decode[T any](key string, data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, &CacheError{Op: "decode", Key: key, Err: err}
	}
	return v, nil
}
