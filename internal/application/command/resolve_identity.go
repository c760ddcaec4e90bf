// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/account"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/shared"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/pkg/logger"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESOLVE IDENTITY COMMAND
// Maps a chat-platform user id to a stable account id, creating the account
// on first sight. Concurrent first resolutions converge on one account via the
// unique platform_id constraint and a re-read.
// ══════════════════════════════════════════════════════════════════════════════

// ResolveSource tells where the resolved id came from.
type ResolveSource string

const (
	SourceCache      ResolveSource = "cache"
	SourcePlatformID ResolveSource = "platform_id"
	SourceSelfHeal   ResolveSource = "self_heal"
	SourceCreated    ResolveSource = "created"
)

// ResolveIdentityCommand contains the data to resolve an identity.
type ResolveIdentityCommand struct {
	// PlatformID is the decimal chat-platform user id.
	PlatformID string

	// Hint carries optional profile fields used when creating the account.
	Hint account.Hint

	// KnownAccountID is an account id the client held from an earlier
	// session. It is used to reattach a platform id to an account that
	// lost it.
	KnownAccountID uuid.UUID
}

// Validate validates the command.
func (c ResolveIdentityCommand) Validate() error {
	if !account.PlatformID(c.PlatformID).IsValid() {
		return shared.NewDomainError("account", "Resolve", shared.ErrInvalidInput,
			"platform id must be 1-32 decimal digits")
	}
	return nil
}

// ResolveIdentityResult contains the resolved account id.
type ResolveIdentityResult struct {
	AccountID uuid.UUID
	Source    ResolveSource
	Created   bool
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// IdentityResolverConfig contains configuration for the resolver.
type IdentityResolverConfig struct {
	// CacheTTL is how long a resolved pair stays in the cache.
	CacheTTL time.Duration

	// VerifyCached re-checks a cached id against the store before trusting it.
	VerifyCached bool

	// MaxAttempts bounds retries on transient or conflicting writes.
	MaxAttempts int

	// RetryDelay is the initial backoff between attempts.
	RetryDelay time.Duration
}

// DefaultIdentityResolverConfig returns default configuration.
func DefaultIdentityResolverConfig() IdentityResolverConfig {
	return IdentityResolverConfig{
		CacheTTL:    24 * time.Hour,
		MaxAttempts: 3,
		RetryDelay:  50 * time.Millisecond,
	}
}

// IdentityResolver handles the ResolveIdentityCommand.
type IdentityResolver struct {
	accounts account.Repository
	cache    account.IdentityCache
	retrier  *retry.Retrier
	log      *logger.Logger

	cacheTTL     time.Duration
	verifyCached bool
}

// NewIdentityResolver creates a new IdentityResolver. cache may be nil.
func NewIdentityResolver(
	accounts account.Repository,
	cache account.IdentityCache,
	log *logger.Logger,
	config IdentityResolverConfig,
) *IdentityResolver {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultIdentityResolverConfig().MaxAttempts
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = DefaultIdentityResolverConfig().RetryDelay
	}
	if log == nil {
		log = logger.Nop()
	}

	return &IdentityResolver{
		accounts: accounts,
		cache:    cache,
		retrier: retry.DatabaseRetrier(
			retry.WithMaxAttempts(config.MaxAttempts),
			retry.WithInitialDelay(config.RetryDelay),
			retry.WithRetryIf(shared.IsRetryable),
		),
		log:          log.With(logger.Component("identity_resolver")),
		cacheTTL:     config.CacheTTL,
		verifyCached: config.VerifyCached,
	}
}

// Resolve executes the resolve identity command.
func (h *IdentityResolver) Resolve(ctx context.Context, cmd ResolveIdentityCommand) (*ResolveIdentityResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	pid := account.PlatformID(cmd.PlatformID)
	log := h.log.With(logger.PlatformID(pid.String()))

	candidate := cmd.KnownAccountID
	if cachedID, ok := h.cacheGet(ctx, pid, log); ok {
		if !h.verifyCached {
			return &ResolveIdentityResult{AccountID: cachedID, Source: SourceCache}, nil
		}
		candidate = cachedID
	}

	res, err := retry.DoWithData(ctx, h.retrier, func(ctx context.Context) (*ResolveIdentityResult, error) {
		return h.resolveOnce(ctx, pid, cmd.Hint, candidate, log)
	})
	if err != nil {
		log.Error("identity resolution failed", logger.Err(err))
		return nil, err
	}

	h.cacheSet(ctx, pid, res.AccountID, log)
	if res.Created {
		log.Info("account created", logger.AccountID(res.AccountID.String()))
	}
	return res, nil
}

// resolveOnce is one attempt: look up, self-heal, then insert-if-absent.
func (h *IdentityResolver) resolveOnce(
	ctx context.Context,
	pid account.PlatformID,
	hint account.Hint,
	candidate uuid.UUID,
	log *logger.Logger,
) (*ResolveIdentityResult, error) {
	existing, err := h.accounts.GetByPlatformID(ctx, pid)
	switch {
	case err == nil:
		return &ResolveIdentityResult{AccountID: existing.ID, Source: SourcePlatformID}, nil
	case !shared.IsNotFound(err):
		return nil, err
	}

	if candidate != uuid.Nil {
		healed, err := h.selfHeal(ctx, pid, candidate, log)
		if err != nil {
			return nil, err
		}
		if healed {
			return &ResolveIdentityResult{AccountID: candidate, Source: SourceSelfHeal}, nil
		}
	}

	acc, err := account.New(pid, hint, time.Now())
	if err != nil {
		return nil, err
	}
	created, err := h.accounts.CreateIfAbsent(ctx, acc)
	if err != nil {
		return nil, err
	}
	if created {
		return &ResolveIdentityResult{AccountID: acc.ID, Source: SourceCreated, Created: true}, nil
	}

	// Lost the race: the winner's row is the account.
	winner, err := h.accounts.GetByPlatformID(ctx, pid)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, shared.WrapError("account", "Resolve", shared.ErrAlreadyExists,
				"platform id claimed but not readable yet", err)
		}
		return nil, err
	}
	return &ResolveIdentityResult{AccountID: winner.ID, Source: SourcePlatformID}, nil
}

// selfHeal attaches pid to the candidate account when that account has no
// platform id yet.
func (h *IdentityResolver) selfHeal(ctx context.Context, pid account.PlatformID, candidate uuid.UUID, log *logger.Logger) (bool, error) {
	acc, err := h.accounts.GetByID(ctx, candidate)
	if err != nil {
		if shared.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	if acc.HasPlatformID() {
		if *acc.PlatformID == pid {
			return true, nil
		}
		log.Warn("known account belongs to another platform id", logger.F("warning", shared.ConsistencyWarning{
			Domain:  "account",
			Op:      "Resolve",
			Message: "candidate account bound to a different platform id",
			Details: map[string]any{"account_id": candidate.String()},
		}.String()))
		return false, nil
	}

	attached, err := h.accounts.AttachPlatformID(ctx, candidate, pid)
	if err != nil {
		return false, err
	}
	if attached {
		log.Info("platform id reattached", logger.AccountID(candidate.String()))
	}
	return attached, nil
}

func (h *IdentityResolver) cacheGet(ctx context.Context, pid account.PlatformID, log *logger.Logger) (uuid.UUID, bool) {
	if h.cache == nil {
		return uuid.Nil, false
	}
	id, found, err := h.cache.Get(ctx, pid)
	if err != nil {
		log.Warn("identity cache read failed", logger.Err(err))
		return uuid.Nil, false
	}
	if !found || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

func (h *IdentityResolver) cacheSet(ctx context.Context, pid account.PlatformID, id uuid.UUID, log *logger.Logger) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Set(ctx, pid, id, h.cacheTTL); err != nil {
		log.Warn("identity cache write failed", logger.Err(err))
	}
}
