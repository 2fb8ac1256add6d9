package services

import (
	"context"
	"time"
)

// CacheService caches search results keyed by dataset version, so entries
// invalidate naturally on every write. Document lookups are not cached. Backed by Redis
// when configured, with an in-memory fallback.
type CacheService interface {
	// Enabled reports whether caching is active at all.
	Enabled() bool
	// Get unmarshals the cached value into out; found is false on miss.
	Get(ctx context.Context, key string, out any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// Clear drops every entry in the cache namespace.
	Clear(ctx context.Context) (int, error)
}
