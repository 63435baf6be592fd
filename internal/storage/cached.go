package storage

import (
	"context"
	"time"
)

const urlCachePrefix = "url:"

// URLCache holds presigned URLs between requests
type URLCache interface {
	SetWithJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	GetWithJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// CachedURLStore reuses presigned URLs for half their lifetime so repeated
// reads of a video do not re-sign every object
type CachedURLStore struct {
	ObjectStore
	cache URLCache
	ttl   time.Duration
}

// WithURLCache wraps store so GetURL consults cache first. urlExpiry is the
// lifetime of the URLs the store signs.
func WithURLCache(store ObjectStore, cache URLCache, urlExpiry time.Duration) *CachedURLStore {
	return &CachedURLStore{ObjectStore: store, cache: cache, ttl: urlExpiry / 2}
}

// GetURL returns a cached URL or signs and caches a new one. Cache failures
// fall through to the underlying store.
func (s *CachedURLStore) GetURL(ctx context.Context, objectName string) (string, error) {
	var url string
	if found, err := s.cache.GetWithJSON(ctx, urlCachePrefix+objectName, &url); err == nil && found {
		return url, nil
	}

	url, err := s.ObjectStore.GetURL(ctx, objectName)
	if err != nil {
		return "", err
	}
	if s.ttl > 0 {
		_ = s.cache.SetWithJSON(ctx, urlCachePrefix+objectName, url, s.ttl)
	}
	return url, nil
}

// Delete removes the object and forgets its URL
func (s *CachedURLStore) Delete(ctx context.Context, objectName string) error {
	if err := s.ObjectStore.Delete(ctx, objectName); err != nil {
		return err
	}
	_ = s.cache.Delete(ctx, urlCachePrefix+objectName)
	return nil
}
