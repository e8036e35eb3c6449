package idempotency

import (
	"context"
	"errors"
	"time"
)

// Store is the key-value surface the cache needs. *redis.Client satisfies it.
type Store interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
}

// MissFunc reports whether an error from Store.Get means "key absent".
type MissFunc func(error) bool

// Cache is the shared dedup/context store. PutIfAbsent is the atomic
// first-writer-wins primitive that makes concurrent webhook redeliveries
// safe without in-process locks.
type Cache struct {
	store  Store
	isMiss MissFunc
}

// NewCache wires the cache over a TTL-capable key-value store.
func NewCache(store Store, isMiss MissFunc) (*Cache, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if isMiss == nil {
		return nil, errors.New("miss detector is required")
	}
	return &Cache{store: store, isMiss: isMiss}, nil
}

// PutIfAbsent atomically inserts key=value with the given TTL. It returns
// true when this call inserted the key and false when it already existed.
func (c *Cache) PutIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return c.store.SetNX(ctx, key, value, ttl)
}

// Put unconditionally stores key=value with the given TTL.
func (c *Cache) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.store.Set(ctx, key, value, ttl)
}

// Get returns the stored value. A missing key yields ok=false, not an error.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.store.Get(ctx, key)
	if err != nil {
		if c.isMiss(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

// Forget removes the key. Used to release a dedup claim when downstream
// processing fails, so the provider's webhook retry can run the handler again.
func (c *Cache) Forget(ctx context.Context, key string) error {
	return c.store.Del(ctx, key)
}
