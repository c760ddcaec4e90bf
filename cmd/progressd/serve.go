package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/application/command"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/application/query"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/application/saga"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/application/session"
	httpapi "github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/interface/http"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/interface/http/handlers"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the progress HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, log, b, err := loadRuntime(ctx)
	if err != nil {
		return err
	}
	defer log.Sync()
	defer b.close()

	if b.migrator != nil {
		n, err := b.migrator.Migrate(ctx)
		if err != nil {
			return err
		}
		log.Info("migrations applied", logger.Int("count", n))
	}

	ic, err := openIdentityCache(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer ic.close()

	// ─────────────────────────────────────────────────────────────────────────
	// Application layer
	// ─────────────────────────────────────────────────────────────────────────
	resolver := newResolver(b, ic.cache, cfg, log)
	recorder := command.NewAnswerRecorder(b.progress, b.catalog, log)
	aggregator := command.NewProgressAggregator(b.progress, b.catalog, log)
	evaluator := saga.NewAchievementEvaluator(b.achievements, aggregator, log)

	sessions := session.NewRegistry(log, func(c session.Change) {
		switch {
		case c.SignedIn() && c.Previous == nil:
			log.Info("signed in",
				logger.AccountID(c.Current.AccountID.String()),
				logger.PlatformID(c.Current.PlatformID.String()))
		case !c.SignedIn() && c.Previous != nil:
			log.Info("signed out", logger.AccountID(c.Previous.AccountID.String()))
		}
	}, session.WithIdleTimeout(cfg.Identity.SessionIdleTimeout))

	health := handlers.NewHealthChecker(version)
	health.AddCheck("database", handlers.PingCheck(b))
	if ic.ping != nil {
		health.AddCheck("identity_cache", ic.ping)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// HTTP
	// ─────────────────────────────────────────────────────────────────────────
	httpCfg := httpapi.DefaultConfig()
	httpCfg.Host = cfg.HTTP.Host
	httpCfg.Port = cfg.HTTP.Port
	httpCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
	httpCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	httpCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	if cfg.IsDevelopment() {
		httpCfg.Mode = gin.DebugMode
	}

	srv := httpapi.NewServer(httpCfg, httpapi.Dependencies{
		Catalog:       b.catalog,
		Resolver:      resolver,
		Recorder:      recorder,
		Reset:         command.NewProgressReset(b.progress, log),
		Flow:          saga.NewSectionCompletionFlow(b.catalog, recorder, aggregator, evaluator, log),
		Overview:      query.NewGetProgressOverviewHandler(b.catalog, b.progress),
		ChapterDetail: query.NewGetChapterDetailHandler(b.catalog, b.progress),
		Achievements:  query.NewListAchievementsHandler(b.achievements),
		Sessions:      sessions,
		Verifier: handlers.NewInitDataVerifier(cfg.Telegram.Token, cfg.Telegram.InitDataMaxAge,
			cfg.Telegram.SkipInitDataCheck),
		Health: health,
		Logger: log,
	})

	if cfg.Telegram.SkipInitDataCheck {
		log.Warn("init data signature check is disabled")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		sessions.Run(gctx)
		return nil
	})

	if ic.run != nil {
		g.Go(func() error {
			ic.run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("starting graceful shutdown", logger.Duration("timeout", cfg.App.ShutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shutdown complete")
	return nil
}
