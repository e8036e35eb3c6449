package oauth

import (
	"context"
	"errors"
	"time"

	"github.com/doarbem/donations-backend/pkg/idempotency"
)

// safetyMargin keeps the cached TTL slightly under the provider's expiry so a
// token is never handed out moments before it dies mid-request.
const safetyMargin = 60 * time.Second

// FetchFunc performs the actual credential exchange against the provider.
type FetchFunc func(ctx context.Context) (token string, expiresIn time.Duration, err error)

// TokenSource caches provider bearer tokens in the shared cache keyed by
// (provider, mode). It is safe for concurrent use; a race between two
// fetches just writes the same token twice.
type TokenSource struct {
	cache    *idempotency.Cache
	cacheKey string
	fetch    FetchFunc
}

// NewTokenSource wires a cached token source for one provider credential set.
func NewTokenSource(cache *idempotency.Cache, cacheKey string, fetch FetchFunc) (*TokenSource, error) {
	if cache == nil {
		return nil, errors.New("token cache is required")
	}
	if cacheKey == "" {
		return nil, errors.New("cache key is required")
	}
	if fetch == nil {
		return nil, errors.New("fetch func is required")
	}
	return &TokenSource{cache: cache, cacheKey: cacheKey, fetch: fetch}, nil
}

// Token returns a valid bearer token, fetching a fresh one on cache miss.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	cached, ok, err := s.cache.Get(ctx, s.cacheKey)
	if err != nil {
		return "", err
	}
	if ok && cached != "" {
		return cached, nil
	}

	token, expiresIn, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", errors.New("provider returned empty token")
	}

	ttl := expiresIn - safetyMargin
	if ttl > 0 {
		if err := s.cache.Put(ctx, s.cacheKey, token, ttl); err != nil {
			// A failed cache write only costs an extra fetch next time.
			return token, nil
		}
	}
	return token, nil
}

// Invalidate drops the cached token, forcing a refetch on next use.
func (s *TokenSource) Invalidate(ctx context.Context) error {
	return s.cache.Forget(ctx, s.cacheKey)
}
