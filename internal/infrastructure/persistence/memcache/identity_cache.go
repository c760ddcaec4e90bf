// Package memcache implements an in-process identity cache used when Redis
// is disabled and in tests.
package memcache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/account"
)

// ══════════════════════════════════════════════════════════════════════════════
// IN-PROCESS IDENTITY CACHE
// ══════════════════════════════════════════════════════════════════════════════

// IdentityCache implements account.IdentityCache on top of ttlcache.
// Expired entries are never returned; Run removes them from memory.
type IdentityCache struct {
	items *ttlcache.Cache[account.PlatformID, uuid.UUID]
}

// NewIdentityCache creates an empty cache. A non-positive ttl disables expiry
// for Set calls that pass no ttl of their own.
func NewIdentityCache(ttl time.Duration) *IdentityCache {
	opts := []ttlcache.Option[account.PlatformID, uuid.UUID]{
		// A hit must not extend the entry: the cached id is re-checked
		// against the store once the ttl runs out.
		ttlcache.WithDisableTouchOnHit[account.PlatformID, uuid.UUID](),
	}
	if ttl > 0 {
		opts = append(opts, ttlcache.WithTTL[account.PlatformID, uuid.UUID](ttl))
	}
	return &IdentityCache{items: ttlcache.New[account.PlatformID, uuid.UUID](opts...)}
}

// Get returns the cached account id for a platform id.
func (c *IdentityCache) Get(_ context.Context, pid account.PlatformID) (uuid.UUID, bool, error) {
	item := c.items.Get(pid)
	if item == nil {
		return uuid.Nil, false, nil
	}
	return item.Value(), true, nil
}

// Set caches the account id for a platform id.
func (c *IdentityCache) Set(_ context.Context, pid account.PlatformID, id uuid.UUID, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = ttlcache.DefaultTTL
	}
	c.items.Set(pid, id, ttl)
	return nil
}

// Delete forgets a platform id.
func (c *IdentityCache) Delete(_ context.Context, pid account.PlatformID) error {
	c.items.Delete(pid)
	return nil
}

// Len returns the number of stored entries, expired ones not yet evicted
// included.
func (c *IdentityCache) Len() int {
	return c.items.Len()
}

// Run evicts expired entries until ctx is done.
func (c *IdentityCache) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.items.Start()
	}()
	<-ctx.Done()
	c.items.Stop()
	<-done
}
