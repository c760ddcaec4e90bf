package memcache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/account"
)

func TestIdentityCache_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	c := NewIdentityCache(time.Hour)
	id := uuid.New()

	_, found, err := c.Get(ctx, "555")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, "555", id, 0))
	got, found, err := c.Get(ctx, "555")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, id, got)

	require.NoError(t, c.Delete(ctx, "555"))
	_, found, _ = c.Get(ctx, "555")
	assert.False(t, found)
}

func TestIdentityCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewIdentityCache(20 * time.Millisecond)

	require.NoError(t, c.Set(ctx, "555", uuid.New(), 0))
	require.NoError(t, c.Set(ctx, "777", uuid.New(), time.Hour))

	assert.Eventually(t, func() bool {
		_, found, err := c.Get(ctx, "555")
		return err == nil && !found
	}, time.Second, 5*time.Millisecond, "default ttl elapsed")

	_, found, err := c.Get(ctx, "777")
	require.NoError(t, err)
	assert.True(t, found, "explicit ttl still valid")
}

func TestIdentityCache_HitDoesNotExtendTTL(t *testing.T) {
	ctx := context.Background()
	c := NewIdentityCache(50 * time.Millisecond)
	require.NoError(t, c.Set(ctx, "555", uuid.New(), 0))

	// Polling reads the entry every few milliseconds; it still expires.
	assert.Eventually(t, func() bool {
		_, found, _ := c.Get(ctx, "555")
		return !found
	}, 200*time.Millisecond, 5*time.Millisecond)
}

func TestIdentityCache_NoExpiryWithoutTTL(t *testing.T) {
	ctx := context.Background()
	c := NewIdentityCache(0)

	require.NoError(t, c.Set(ctx, "555", uuid.New(), 0))
	time.Sleep(20 * time.Millisecond)

	_, found, err := c.Get(ctx, "555")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestIdentityCache_RunEvictsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := NewIdentityCache(10 * time.Millisecond)
	require.NoError(t, c.Set(ctx, "555", uuid.New(), 0))
	require.NoError(t, c.Set(ctx, "777", uuid.New(), time.Hour))

	stopped := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(stopped)
	}()

	assert.Eventually(t, func() bool { return c.Len() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestIdentityCache_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := NewIdentityCache(time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pid := account.PlatformID("555")
			_ = c.Set(ctx, pid, uuid.New(), 0)
			_, _, _ = c.Get(ctx, pid)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, c.Len())
}
