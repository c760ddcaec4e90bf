package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/account"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/pkg/circuitbreaker"
)

func TestIdentityKey(t *testing.T) {
	assert.Equal(t, "identity:platform:555", IdentityKey("555"))
}

func TestConfig_Options(t *testing.T) {
	cfg := DefaultConfig()
	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)

	cfg.URL = "redis://:secret@cache.internal:6380/2"
	opts, err = cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)

	cfg.URL = "http://nope"
	_, err = cfg.Options()
	assert.Error(t, err)
}

func TestCache_EmptyKey(t *testing.T) {
	c := NewCacheFromClient(goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1"}))
	defer c.Close()
	ctx := context.Background()

	assert.ErrorIs(t, c.Set(ctx, "", 1, time.Minute), ErrCacheKeyEmpty)
	assert.ErrorIs(t, c.Get(ctx, "", new(int)), ErrCacheKeyEmpty)
	_, err := c.GetString(ctx, "")
	assert.ErrorIs(t, err, ErrCacheKeyEmpty)
	assert.NoError(t, c.Delete(ctx))
}

func TestIdentityCache_UnreachableServerReportsError(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	cache := NewIdentityCache(NewCacheFromClient(client), 0)
	defer client.Close()
	ctx := context.Background()

	_, found, err := cache.Get(ctx, "555")
	assert.Error(t, err)
	assert.False(t, found)

	assert.Error(t, cache.Set(ctx, "555", uuid.New(), 0))
	assert.Equal(t, TTLIdentity, cache.defaultTTL)
}

func TestNewCache_FailsFastWhenUnreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 1
	cfg.DialTimeout = 50 * time.Millisecond
	cfg.MaxRetries = -1

	_, err := NewCache(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrCacheConnection)
}

type flakyIdentityCache struct {
	err   error
	calls int
}

func (f *flakyIdentityCache) Get(context.Context, account.PlatformID) (uuid.UUID, bool, error) {
	f.calls++
	return uuid.Nil, false, f.err
}

func (f *flakyIdentityCache) Set(context.Context, account.PlatformID, uuid.UUID, time.Duration) error {
	f.calls++
	return f.err
}

func (f *flakyIdentityCache) Delete(context.Context, account.PlatformID) error {
	f.calls++
	return f.err
}

func TestGuardedIdentityCache_OpensOnOutage(t *testing.T) {
	inner := &flakyIdentityCache{err: errors.New("dial tcp: connection refused")}
	var opened bool
	guarded := NewGuardedIdentityCache(inner, IdentityBreaker(func(_ string, _, to circuitbreaker.State) {
		opened = opened || to == circuitbreaker.StateOpen
	}))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := guarded.Get(ctx, "555")
		require.Error(t, err)
	}
	assert.True(t, opened)

	err := guarded.Set(ctx, "555", uuid.New(), time.Minute)
	assert.True(t, circuitbreaker.IsRejected(err))
	assert.Equal(t, 3, inner.calls)
}

func TestGuardedIdentityCache_CorruptEntryIsNotAnOutage(t *testing.T) {
	inner := &flakyIdentityCache{err: ErrCacheSerialization}
	breaker := IdentityBreaker(nil)
	guarded := NewGuardedIdentityCache(inner, breaker)

	for i := 0; i < 5; i++ {
		_, _, _ = guarded.Get(context.Background(), "555")
	}
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State())
	assert.Equal(t, 5, inner.calls)
}
