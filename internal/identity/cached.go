package identity

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"saldo/internal/cache"
)

// Cached memoises successful lookups and collapses concurrent lookups for
// the same user into one upstream call. Errors are never cached.
type Cached struct {
	next  Provider
	cache *cache.LRUCache[Profile]
	group singleflight.Group
}

func NewCached(next Provider, maxSize int, ttl time.Duration) *Cached {
	return &Cached{
		next:  next,
		cache: cache.NewLRUCache[Profile](maxSize, ttl),
	}
}

func (c *Cached) Lookup(ctx context.Context, userID string) (Profile, error) {
	if p, ok := c.cache.Get(userID); ok {
		return p, nil
	}

	v, err, _ := c.group.Do(userID, func() (any, error) {
		p, err := c.next.Lookup(ctx, userID)
		if err != nil {
			return Profile{}, err
		}
		c.cache.Set(userID, p)
		return p, nil
	})
	if err != nil {
		return Profile{}, err
	}
	return v.(Profile), nil
}

// Cache exposes the underlying cache so it can be registered for cleanup.
func (c *Cached) Cache() *cache.LRUCache[Profile] {
	return c.cache
}
