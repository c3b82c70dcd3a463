package embed

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cached fronts an Embedder with an in-memory TTL cache keyed by input
// text. Errors are never cached, so a provider outage heals on retry.
type Cached struct {
	inner Embedder
	cache *gocache.Cache
}

// NewCached wraps inner with a cache whose entries expire after ttl.
func NewCached(inner Embedder, ttl time.Duration) *Cached {
	return &Cached{
		inner: inner,
		cache: gocache.New(ttl, 10*time.Minute),
	}
}

// Embed returns the cached vector for text, or asks the inner embedder and
// caches the result.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, found := c.cache.Get(text); found {
		return v.([]float32), nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, vec, gocache.DefaultExpiration)
	return vec, nil
}
