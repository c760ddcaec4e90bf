package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/application/command"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/account"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/pkg/logger"
)

type stubResolver struct {
	id  uuid.UUID
	err error
}

func (s stubResolver) Resolve(context.Context, command.ResolveIdentityCommand) (*command.ResolveIdentityResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &command.ResolveIdentityResult{AccountID: s.id, Source: command.SourcePlatformID}, nil
}

func TestSession_SetClearNotify(t *testing.T) {
	s := New(logger.Nop())
	var changes []Change
	unsubscribe := s.Subscribe(func(c Change) { changes = append(changes, c) })

	_, ok := s.Current()
	assert.False(t, ok)

	id := Identity{AccountID: uuid.New(), PlatformID: "555"}
	s.Set(id)
	s.Set(id) // same identity, no notification

	cur, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, id, cur)

	s.Clear()
	s.Clear() // already signed out

	require.Len(t, changes, 2)
	assert.True(t, changes[0].SignedIn())
	assert.Nil(t, changes[0].Previous)
	assert.False(t, changes[1].SignedIn())
	assert.Equal(t, id, *changes[1].Previous)

	unsubscribe()
	unsubscribe()
	s.Set(id)
	assert.Len(t, changes, 2)
}

func TestSession_UnsubscribeKeepsOthers(t *testing.T) {
	s := New(nil)
	var a, b int
	stopA := s.Subscribe(func(Change) { a++ })
	s.Subscribe(func(Change) { b++ })

	s.Set(Identity{AccountID: uuid.New()})
	stopA()
	s.Set(Identity{AccountID: uuid.New()})

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
}

func TestSession_PanickingListenerIsolated(t *testing.T) {
	s := New(logger.Nop())
	called := false
	s.Subscribe(func(Change) { panic("boom") })
	s.Subscribe(func(Change) { called = true })

	assert.NotPanics(t, func() { s.Set(Identity{AccountID: uuid.New()}) })
	assert.True(t, called)
}

func TestSession_ListenerMaySubscribe(t *testing.T) {
	s := New(logger.Nop())
	s.Subscribe(func(Change) {
		s.Subscribe(func(Change) {})
		_, _ = s.Current()
	})
	assert.NotPanics(t, func() { s.Set(Identity{AccountID: uuid.New()}) })
}

func TestSession_SignIn(t *testing.T) {
	ctx := context.Background()
	s := New(logger.Nop())
	want := uuid.New()

	id, err := s.SignIn(ctx, stubResolver{id: want}, command.ResolveIdentityCommand{
		PlatformID: "555",
		Hint:       account.Hint{FirstName: "Ana", LastName: "K"},
	})
	require.NoError(t, err)
	assert.Equal(t, want, id.AccountID)
	assert.Equal(t, "Ana K", id.DisplayName)

	s.Clear()
	_, err = s.SignIn(ctx, stubResolver{err: errors.New("down")}, command.ResolveIdentityCommand{PlatformID: "555"})
	require.Error(t, err)
	_, ok := s.Current()
	assert.False(t, ok)
}

func TestSession_ConcurrentUse(t *testing.T) {
	s := New(logger.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stop := s.Subscribe(func(Change) {})
			s.Set(Identity{AccountID: uuid.New()})
			_, _ = s.Current()
			stop()
			s.Clear()
		}()
	}
	wg.Wait()
}

func TestRegistry(t *testing.T) {
	var mu sync.Mutex
	var seen []Change
	r := NewRegistry(logger.Nop(), func(c Change) {
		mu.Lock()
		seen = append(seen, c)
		mu.Unlock()
	})

	a := r.For("555")
	assert.Same(t, a, r.For("555"))
	assert.NotSame(t, a, r.For("777"))
	assert.Equal(t, 2, r.Len())

	a.Set(Identity{AccountID: uuid.New(), PlatformID: "555"})
	r.Drop("555")
	r.Drop("555")

	_, ok := r.Lookup("555")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
	require.Len(t, seen, 2)
	assert.True(t, seen[0].SignedIn())
	assert.False(t, seen[1].SignedIn())
}

func TestRegistry_IdleSessionsExpire(t *testing.T) {
	var mu sync.Mutex
	var seen []Change
	r := NewRegistry(logger.Nop(), func(c Change) {
		mu.Lock()
		seen = append(seen, c)
		mu.Unlock()
	}, WithIdleTimeout(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	r.For("555").Set(Identity{AccountID: uuid.New(), PlatformID: "555"})
	require.Equal(t, 1, r.Len())

	assert.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 5*time.Millisecond)
	_, ok := r.Lookup("555")
	assert.False(t, ok)

	// The expired session is signed out through the listener.
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2 && !seen[1].SignedIn()
	}, time.Second, 5*time.Millisecond)
}

func TestRegistry_UseKeepsSessionAlive(t *testing.T) {
	r := NewRegistry(logger.Nop(), nil, WithIdleTimeout(100*time.Millisecond))
	s := r.For("555")

	for i := 0; i < 10; i++ {
		time.Sleep(10 * time.Millisecond)
		assert.Same(t, s, r.For("555"))
	}
}
