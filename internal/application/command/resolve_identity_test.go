package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/account"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/shared"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/infrastructure/persistence/memcache"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/pkg/logger"
)

func testResolverConfig() IdentityResolverConfig {
	cfg := DefaultIdentityResolverConfig()
	cfg.RetryDelay = time.Millisecond
	return cfg
}

// failingCache fails every call.
type failingCache struct{}

func (failingCache) Get(context.Context, account.PlatformID) (uuid.UUID, bool, error) {
	return uuid.Nil, false, errors.New("cache down")
}

func (failingCache) Set(context.Context, account.PlatformID, uuid.UUID, time.Duration) error {
	return errors.New("cache down")
}

func (failingCache) Delete(context.Context, account.PlatformID) error {
	return errors.New("cache down")
}

func TestResolve_StableIdentity(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	r := NewIdentityResolver(store.Accounts(), nil, logger.Nop(), testResolverConfig())

	first, err := r.Resolve(ctx, ResolveIdentityCommand{PlatformID: "555", Hint: account.Hint{Username: "ana"}})
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, SourceCreated, first.Source)

	again, err := r.Resolve(ctx, ResolveIdentityCommand{PlatformID: "555"})
	require.NoError(t, err)
	assert.Equal(t, first.AccountID, again.AccountID)
	assert.False(t, again.Created)
	assert.Equal(t, SourcePlatformID, again.Source)

	other, err := r.Resolve(ctx, ResolveIdentityCommand{PlatformID: "777"})
	require.NoError(t, err)
	assert.NotEqual(t, first.AccountID, other.AccountID)

	acc, err := store.Accounts().GetByID(ctx, first.AccountID)
	require.NoError(t, err)
	assert.Equal(t, "ana", acc.DisplayName)
	require.True(t, acc.HasPlatformID())
	assert.Equal(t, account.PlatformID("555"), *acc.PlatformID)
}

func TestResolve_UsesCache(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	cache := memcache.NewIdentityCache(time.Hour)
	r := NewIdentityResolver(store.Accounts(), cache, logger.Nop(), testResolverConfig())

	first, err := r.Resolve(ctx, ResolveIdentityCommand{PlatformID: "555"})
	require.NoError(t, err)

	cached, found, err := cache.Get(ctx, "555")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, first.AccountID, cached)

	second, err := r.Resolve(ctx, ResolveIdentityCommand{PlatformID: "555"})
	require.NoError(t, err)
	assert.Equal(t, SourceCache, second.Source)
	assert.Equal(t, first.AccountID, second.AccountID)
}

func TestResolve_VerifyCachedReplacesStaleEntry(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	cache := memcache.NewIdentityCache(time.Hour)

	cfg := testResolverConfig()
	cfg.VerifyCached = true
	r := NewIdentityResolver(store.Accounts(), cache, logger.Nop(), cfg)

	stale := uuid.New()
	require.NoError(t, cache.Set(ctx, "555", stale, 0))

	res, err := r.Resolve(ctx, ResolveIdentityCommand{PlatformID: "555"})
	require.NoError(t, err)
	assert.NotEqual(t, stale, res.AccountID)
	assert.True(t, res.Created)

	cached, _, _ := cache.Get(ctx, "555")
	assert.Equal(t, res.AccountID, cached)
}

func TestResolve_CacheFailureDoesNotFailResolution(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	r := NewIdentityResolver(store.Accounts(), failingCache{}, logger.Nop(), testResolverConfig())

	a, err := r.Resolve(ctx, ResolveIdentityCommand{PlatformID: "555"})
	require.NoError(t, err)
	b, err := r.Resolve(ctx, ResolveIdentityCommand{PlatformID: "555"})
	require.NoError(t, err)
	assert.Equal(t, a.AccountID, b.AccountID)
}

func TestResolve_SelfHealsKnownAccount(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	r := NewIdentityResolver(store.Accounts(), nil, logger.Nop(), testResolverConfig())

	orphan := &account.Account{ID: uuid.New(), DisplayName: "ana", CreatedAt: testNow}
	created, err := store.Accounts().CreateIfAbsent(ctx, orphan)
	require.NoError(t, err)
	require.True(t, created)

	res, err := r.Resolve(ctx, ResolveIdentityCommand{PlatformID: "555", KnownAccountID: orphan.ID})
	require.NoError(t, err)
	assert.Equal(t, SourceSelfHeal, res.Source)
	assert.Equal(t, orphan.ID, res.AccountID)

	acc, err := store.Accounts().GetByPlatformID(ctx, "555")
	require.NoError(t, err)
	assert.Equal(t, orphan.ID, acc.ID)
}

func TestResolve_KnownAccountOwnedByAnotherPlatformID(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	r := NewIdentityResolver(store.Accounts(), nil, logger.Nop(), testResolverConfig())

	owner, err := r.Resolve(ctx, ResolveIdentityCommand{PlatformID: "777"})
	require.NoError(t, err)

	res, err := r.Resolve(ctx, ResolveIdentityCommand{PlatformID: "555", KnownAccountID: owner.AccountID})
	require.NoError(t, err)
	assert.NotEqual(t, owner.AccountID, res.AccountID)
	assert.True(t, res.Created)
}

func TestResolve_ConcurrentFirstSightConverges(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	r := NewIdentityResolver(store.Accounts(), nil, logger.Nop(), testResolverConfig())

	const workers = 16
	ids := make([]uuid.UUID, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := r.Resolve(ctx, ResolveIdentityCommand{PlatformID: "555"})
			errs[i] = err
			if err == nil {
				ids[i] = res.AccountID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	var n int
	require.NoError(t, store.DB().QueryRow(`SELECT COUNT(*) FROM accounts WHERE platform_id = '555'`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestResolve_InvalidPlatformID(t *testing.T) {
	store := openStore(t)
	r := NewIdentityResolver(store.Accounts(), nil, logger.Nop(), testResolverConfig())

	for _, pid := range []string{"", "abc", "12a", "-5"} {
		_, err := r.Resolve(context.Background(), ResolveIdentityCommand{PlatformID: pid})
		assert.True(t, shared.IsValidation(err), "pid %q", pid)
	}
}

func TestResolve_BackendUnavailable(t *testing.T) {
	store := openStore(t)
	r := NewIdentityResolver(store.Accounts(), memcache.NewIdentityCache(time.Hour), logger.Nop(), testResolverConfig())
	require.NoError(t, store.Close())

	_, err := r.Resolve(context.Background(), ResolveIdentityCommand{PlatformID: "555"})
	require.Error(t, err)
	assert.True(t, shared.IsBackendUnavailable(err), "got %v", err)
}
