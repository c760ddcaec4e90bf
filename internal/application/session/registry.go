package session

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/account"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/pkg/logger"
)

// DefaultIdleTimeout is how long an unused session is kept.
const DefaultIdleTimeout = 30 * time.Minute

// Registry keeps one Session per platform user for a server process.
// A session nobody asked for during the idle timeout is signed out and
// forgotten.
type Registry struct {
	mu       sync.Mutex // serialises create-on-miss in For
	sessions *ttlcache.Cache[account.PlatformID, *Session]
	onChange Listener
	log      *logger.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*registryOptions)

type registryOptions struct {
	idle time.Duration
}

// WithIdleTimeout overrides DefaultIdleTimeout.
func WithIdleTimeout(d time.Duration) RegistryOption {
	return func(o *registryOptions) {
		if d > 0 {
			o.idle = d
		}
	}
}

// NewRegistry creates a Registry. onChange, if set, is subscribed to every
// session the registry creates.
func NewRegistry(log *logger.Logger, onChange Listener, opts ...RegistryOption) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	o := registryOptions{idle: DefaultIdleTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	// Every hit refreshes the ttl, so it measures idle time.
	sessions := ttlcache.New[account.PlatformID, *Session](
		ttlcache.WithTTL[account.PlatformID, *Session](o.idle),
	)
	sessions.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[account.PlatformID, *Session]) {
		if reason == ttlcache.EvictionReasonExpired {
			log.Debug("idle session expired", logger.PlatformID(item.Key().String()))
			item.Value().Clear()
		}
	})

	return &Registry{
		sessions: sessions,
		onChange: onChange,
		log:      log,
	}
}

// For returns the session of pid, creating it on first use.
func (r *Registry) For(pid account.PlatformID) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if item := r.sessions.Get(pid); item != nil {
		return item.Value()
	}
	s := New(r.log)
	if r.onChange != nil {
		s.Subscribe(r.onChange)
	}
	r.sessions.Set(pid, s, ttlcache.DefaultTTL)
	return s
}

// Lookup returns the session of pid without creating one.
func (r *Registry) Lookup(pid account.PlatformID) (*Session, bool) {
	item := r.sessions.Get(pid)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

// Drop clears and forgets the session of pid.
func (r *Registry) Drop(pid account.PlatformID) {
	r.mu.Lock()
	item := r.sessions.Get(pid)
	r.sessions.Delete(pid)
	r.mu.Unlock()

	if item != nil {
		item.Value().Clear()
	}
}

// Len returns the number of tracked sessions, idle ones not yet evicted
// included.
func (r *Registry) Len() int {
	return r.sessions.Len()
}

// Run evicts idle sessions until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.sessions.Start()
	}()
	<-ctx.Done()
	r.sessions.Stop()
	<-done
}
