package providers

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/doarbem/donations-backend/internal/providers/oauth"
	"github.com/doarbem/donations-backend/pkg/idempotency"
	"github.com/doarbem/donations-backend/pkg/logger"
)

var errCacheMiss = errors.New("cache miss")

type memStore struct {
	data map[string]string
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]string)}
}

func (m *memStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	m.data[key] = value.(string)
	return nil
}

func (m *memStore) Get(ctx context.Context, key string) (string, error) {
	v, ok := m.data[key]
	if !ok {
		return "", errCacheMiss
	}
	return v, nil
}

func (m *memStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, exists := m.data[key]; exists {
		return false, nil
	}
	m.data[key] = value.(string)
	return true, nil
}

func (m *memStore) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "providers-test", Output: io.Discard})
}

// staticTokenSource returns a source that always yields the given token
// without hitting any network.
func staticTokenSource(t *testing.T, token string) *oauth.TokenSource {
	t.Helper()
	cache, err := idempotency.NewCache(newMemStore(), func(err error) bool { return errors.Is(err, errCacheMiss) })
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	source, err := oauth.NewTokenSource(cache, "oauth-token:test:sandbox", func(ctx context.Context) (string, time.Duration, error) {
		return token, time.Hour, nil
	})
	if err != nil {
		t.Fatalf("NewTokenSource: %v", err)
	}
	return source
}
