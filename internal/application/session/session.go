// Package session holds the resolved identity of a client and notifies
// subscribers when it changes.
package session

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/application/command"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/account"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION
// ══════════════════════════════════════════════════════════════════════════════

// Identity is a resolved client identity.
type Identity struct {
	AccountID   uuid.UUID
	PlatformID  account.PlatformID
	DisplayName string
}

// Change describes an identity transition. Nil means signed out.
type Change struct {
	Previous *Identity
	Current  *Identity
}

// SignedIn reports whether the change ends in a signed-in state.
func (c Change) SignedIn() bool { return c.Current != nil }

// Listener receives identity changes.
type Listener func(Change)

// Resolver resolves platform identities.
type Resolver interface {
	Resolve(ctx context.Context, cmd command.ResolveIdentityCommand) (*command.ResolveIdentityResult, error)
}

// Session holds the current identity. Listeners run synchronously, in
// subscription order, outside the lock.
type Session struct {
	mu        sync.RWMutex
	current   *Identity
	nextID    uint64
	listeners map[uint64]Listener
	order     []uint64

	log *logger.Logger
}

// New creates an empty, signed-out session.
func New(log *logger.Logger) *Session {
	if log == nil {
		log = logger.Nop()
	}
	return &Session{
		listeners: make(map[uint64]Listener),
		log:       log.With(logger.Component("session")),
	}
}

// Current returns the identity, if signed in.
func (s *Session) Current() (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return Identity{}, false
	}
	return *s.current, true
}

// Subscribe registers fn and returns a func that removes it. Calling the
// returned func more than once is safe.
func (s *Session) Subscribe(fn Listener) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.order = append(s.order, id)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			for i, v := range s.order {
				if v == id {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
			s.mu.Unlock()
		})
	}
}

// Set replaces the identity. Setting the same account again does not notify.
func (s *Session) Set(id Identity) {
	s.mu.Lock()
	prev := s.current
	if prev != nil && *prev == id {
		s.mu.Unlock()
		return
	}
	cur := id
	s.current = &cur
	listeners := s.snapshot()
	s.mu.Unlock()

	s.notify(listeners, Change{Previous: prev, Current: &cur})
}

// Clear signs the session out. Clearing an empty session does not notify.
func (s *Session) Clear() {
	s.mu.Lock()
	prev := s.current
	if prev == nil {
		s.mu.Unlock()
		return
	}
	s.current = nil
	listeners := s.snapshot()
	s.mu.Unlock()

	s.notify(listeners, Change{Previous: prev})
}

// SignIn resolves the platform identity and stores it.
func (s *Session) SignIn(ctx context.Context, r Resolver, cmd command.ResolveIdentityCommand) (Identity, error) {
	res, err := r.Resolve(ctx, cmd)
	if err != nil {
		return Identity{}, err
	}
	id := Identity{
		AccountID:   res.AccountID,
		PlatformID:  account.PlatformID(cmd.PlatformID),
		DisplayName: cmd.Hint.DisplayName(),
	}
	s.Set(id)
	return id, nil
}

// snapshot must be called with mu held.
func (s *Session) snapshot() []Listener {
	out := make([]Listener, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.listeners[id])
	}
	return out
}

func (s *Session) notify(listeners []Listener, c Change) {
	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("session listener panicked", logger.Any("panic", r))
				}
			}()
			fn(c)
		}()
	}
}
