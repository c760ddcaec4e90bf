package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/account"
)

// IdentityCache implements account.IdentityCache on top of Cache.
// Values are plain account UUID strings keyed by platform id.
type IdentityCache struct {
	cache      *Cache
	defaultTTL time.Duration
}

// NewIdentityCache creates a new IdentityCache. A non-positive ttl falls
// back to TTLIdentity.
func NewIdentityCache(cache *Cache, ttl time.Duration) *IdentityCache {
	if ttl <= 0 {
		ttl = TTLIdentity
	}
	return &IdentityCache{cache: cache, defaultTTL: ttl}
}

// Get returns the cached account id for a platform id.
func (c *IdentityCache) Get(ctx context.Context, pid account.PlatformID) (uuid.UUID, bool, error) {
	raw, err := c.cache.GetString(ctx, IdentityKey(pid.String()))
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, err
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		// Corrupt entry: drop it and report a miss.
		_ = c.cache.Delete(ctx, IdentityKey(pid.String()))
		return uuid.Nil, false, fmt.Errorf("%w: %w", ErrCacheSerialization, err)
	}
	return id, true, nil
}

// Set caches the account id for a platform id.
func (c *IdentityCache) Set(ctx context.Context, pid account.PlatformID, id uuid.UUID, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	return c.cache.SetString(ctx, IdentityKey(pid.String()), id.String(), ttl)
}

// Delete forgets a platform id.
func (c *IdentityCache) Delete(ctx context.Context, pid account.PlatformID) error {
	return c.cache.Delete(ctx, IdentityKey(pid.String()))
}
