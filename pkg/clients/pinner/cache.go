package pinner

import (
	"context"
	"time"

	"dkey-backend/pkg/cache"
)

type cacheMiddleware struct {
	cache *cache.SimpleCache
	svc   Client
}

func (c *cacheMiddleware) AddFile(ctx context.Context, name string, data []byte) (string, error) {
	return c.svc.AddFile(ctx, name, data)
}

func (c *cacheMiddleware) AddDirectory(ctx context.Context, files map[string][]byte) (string, error) {
	return c.svc.AddDirectory(ctx, files)
}

// Fetch caches gateway reads by content path. Published content is immutable,
// so entries never need invalidation, only expiry.
func (c *cacheMiddleware) Fetch(ctx context.Context, gatewayURL, contentID, path string) ([]byte, error) {
	key := contentID + "/" + path
	if cacheItem, found := c.cache.Get(key); found {
		return cacheItem.([]byte), nil
	}

	resp, err := c.svc.Fetch(ctx, gatewayURL, contentID, path)
	if err != nil {
		return nil, err
	}

	c.cache.Set(key, resp)

	return resp, nil
}

func NewCacheMiddleware(svc Client) *cacheMiddleware {
	return &cacheMiddleware{
		cache: cache.NewSimpleCache(time.Hour),
		svc:   svc,
	}
}
