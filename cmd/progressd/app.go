package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/config"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/application/command"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/account"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/achievement"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/catalog"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/progress"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/infrastructure/persistence/memcache"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/infrastructure/persistence/postgres"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/infrastructure/persistence/redis"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/infrastructure/persistence/sqlite"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/pkg/circuitbreaker"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// WIRING
// ══════════════════════════════════════════════════════════════════════════════

// backend bundles the repositories of the configured driver.
type backend struct {
	accounts     account.Repository
	progress     progress.Repository
	achievements achievement.Repository
	catalog      catalog.Reader
	importer     catalog.Importer

	ping func(ctx context.Context) error

	// migrator is nil for sqlite, which migrates on open.
	migrator *postgres.Migrator

	close func()
}

// Ping lets the backend serve as a health check.
func (b *backend) Ping(ctx context.Context) error { return b.ping(ctx) }

func openBackend(ctx context.Context, cfg *config.Config, log *logger.Logger) (*backend, error) {
	switch cfg.Database.Driver {
	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, sqlite.Config{Path: cfg.Database.SQLitePath})
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		log.Info("sqlite store opened", logger.String("path", cfg.Database.SQLitePath))
		return &backend{
			accounts:     store.Accounts(),
			progress:     store.Progress(),
			achievements: store.Achievements(),
			catalog:      store.Catalog(),
			importer:     store.Catalog(),
			ping:         store.Ping,
			close:        func() { store.Close() },
		}, nil

	case config.DriverPostgres:
		pgCfg := postgres.DefaultConfig()
		pgCfg.URL = cfg.Database.URL
		pgCfg.MaxConns = cfg.Database.MaxConns
		pgCfg.MinConns = cfg.Database.MinConns
		pgCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
		pgCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
		pgCfg.QueryTimeout = cfg.Database.QueryTimeout

		conn, err := postgres.NewConnection(ctx, pgCfg)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		log.Info("postgres pool connected", logger.Int("max_conns", int(pgCfg.MaxConns)))
		return &backend{
			accounts:     postgres.NewAccountRepository(conn),
			progress:     postgres.NewProgressRepository(conn),
			achievements: postgres.NewAchievementRepository(conn),
			catalog:      postgres.NewCatalogRepository(conn),
			importer:     postgres.NewCatalogRepository(conn),
			ping:         conn.Ping,
			migrator:     postgres.NewMigrator(conn),
			close:        conn.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// identityCache is the redis cache, or the in-process one when redis is
// disabled. run is non-nil for the in-process cache and evicts expired
// entries until its context ends.
type identityCache struct {
	cache account.IdentityCache
	ping  func(ctx context.Context) error
	run   func(ctx context.Context)
	close func()
}

func openIdentityCache(ctx context.Context, cfg *config.Config, log *logger.Logger) (*identityCache, error) {
	if cfg.Redis.Disabled {
		mem := memcache.NewIdentityCache(cfg.Identity.CacheTTL)
		log.Info("identity cache: in-process")
		return &identityCache{cache: mem, run: mem.Run, close: func() {}}, nil
	}

	rc := redis.DefaultConfig()
	rc.URL = cfg.Redis.URL
	rc.Host = cfg.Redis.Host
	rc.Port = cfg.Redis.Port
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	if cfg.Redis.PoolSize > 0 {
		rc.PoolSize = cfg.Redis.PoolSize
	}
	if cfg.Redis.MinIdleConns > 0 {
		rc.MinIdleConns = cfg.Redis.MinIdleConns
	}
	if cfg.Redis.DialTimeout > 0 {
		rc.DialTimeout = cfg.Redis.DialTimeout
	}
	if cfg.Redis.ReadTimeout > 0 {
		rc.ReadTimeout = cfg.Redis.ReadTimeout
	}
	if cfg.Redis.WriteTimeout > 0 {
		rc.WriteTimeout = cfg.Redis.WriteTimeout
	}

	cache, err := redis.NewCache(ctx, rc)
	if err != nil {
		return nil, err
	}
	log.Info("identity cache: redis", logger.String("addr", rc.Addr()))
	breaker := redis.IdentityBreaker(func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit breaker state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()))
	})
	return &identityCache{
		cache: redis.NewGuardedIdentityCache(redis.NewIdentityCache(cache, cfg.Identity.CacheTTL), breaker),
		ping:  cache.Ping,
		close: func() { cache.Close() },
	}, nil
}

func newResolver(b *backend, cache account.IdentityCache, cfg *config.Config, log *logger.Logger) *command.IdentityResolver {
	rc := command.DefaultIdentityResolverConfig()
	rc.CacheTTL = cfg.Identity.CacheTTL
	rc.VerifyCached = cfg.Identity.VerifyCached
	rc.MaxAttempts = cfg.Identity.MaxAttempts
	rc.RetryDelay = cfg.Identity.RetryDelay
	return command.NewIdentityResolver(b.accounts, cache, log, rc)
}

func newLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Output = os.Stderr
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	opts.Format = cfg.Observability.LogFormat
	return logger.New(opts).With(
		logger.String("app", cfg.App.Name),
		logger.String("env", string(cfg.App.Environment)))
}

// loadRuntime loads configuration, the logger and the backend for a
// subcommand.
func loadRuntime(ctx context.Context) (*config.Config, *logger.Logger, *backend, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	log := newLogger(cfg)

	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	b, err := openBackend(openCtx, cfg, log)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, log, b, nil
}
