package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/account"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/pkg/circuitbreaker"
)

// GuardedIdentityCache wraps an identity cache with a circuit breaker, so an
// unreachable redis costs one rejected call instead of a dial timeout per
// request. Misses and corrupt entries do not count as failures.
type GuardedIdentityCache struct {
	inner   account.IdentityCache
	breaker *circuitbreaker.CircuitBreaker
}

// NewGuardedIdentityCache creates a new GuardedIdentityCache.
func NewGuardedIdentityCache(inner account.IdentityCache, breaker *circuitbreaker.CircuitBreaker) *GuardedIdentityCache {
	return &GuardedIdentityCache{inner: inner, breaker: breaker}
}

// IdentityBreaker returns a breaker tuned for the identity cache.
func IdentityBreaker(onStateChange func(name string, from, to circuitbreaker.State)) *circuitbreaker.CircuitBreaker {
	return circuitbreaker.New("identity-cache",
		circuitbreaker.WithFailureThreshold(3),
		circuitbreaker.WithCooldown(15*time.Second),
		circuitbreaker.WithOnStateChange(onStateChange),
		circuitbreaker.WithIsFailure(func(err error) bool {
			return !errors.Is(err, ErrCacheSerialization) && !errors.Is(err, context.Canceled)
		}),
	)
}

// Get returns the cached account id, or the breaker's rejection.
func (g *GuardedIdentityCache) Get(ctx context.Context, pid account.PlatformID) (uuid.UUID, bool, error) {
	var (
		id    uuid.UUID
		found bool
	)
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		id, found, err = g.inner.Get(ctx, pid)
		return err
	})
	return id, found, err
}

// Set caches the account id unless the circuit is open.
func (g *GuardedIdentityCache) Set(ctx context.Context, pid account.PlatformID, id uuid.UUID, ttl time.Duration) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.inner.Set(ctx, pid, id, ttl)
	})
}

// Delete forgets a platform id unless the circuit is open.
func (g *GuardedIdentityCache) Delete(ctx context.Context, pid account.PlatformID) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.inner.Delete(ctx, pid)
	})
}
