package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/crosscheck-systems/crosscheck/internal/capability"
	"github.com/crosscheck-systems/crosscheck/internal/checklog"
	"github.com/crosscheck-systems/crosscheck/internal/federation"
	"github.com/crosscheck-systems/crosscheck/internal/handlers"
	"github.com/crosscheck-systems/crosscheck/internal/models"
	"github.com/crosscheck-systems/crosscheck/internal/repository"
	"github.com/crosscheck-systems/crosscheck/internal/server"
	"github.com/crosscheck-systems/crosscheck/internal/service"
	"github.com/crosscheck-systems/crosscheck/internal/sites"
	"github.com/crosscheck-systems/crosscheck/internal/target"
)

var (
	migrationsDir  string
	skipMigrations bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the investigation API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&migrationsDir, "migrations", "migrations", "path to migration files")
	serveCmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not run migrations on startup")
	rootCmd.AddCommand(serveCmd)
}

func runMigrations(dir, dsn string) error {
	m, err := migrate.New("file://"+dir, dsn)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !skipMigrations {
		if err := runMigrations(migrationsDir, cfg.Database.DSN()); err != nil {
			return err
		}
	}

	a, err := buildApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	registry, err := sites.Load(cfg.Federation.RegistryPath)
	if err != nil {
		return err
	}
	localSite := models.SiteKey(cfg.Federation.LocalSite)

	var capCache *capability.Cache
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		capCache = capability.NewCache(rdb, cfg.Federation.CapabilityTTL)
	}
	capClient := capability.NewClient(cfg.Federation.CapabilityURL, cfg.Federation.CapabilityTimeout, capCache)

	opts := fragmentOptions(cfg)
	resolver := target.NewResolver(a.store, target.DefaultRangeLimits())
	checks := checklog.NewStore(a.store.Pool(), checklog.NewSigner(cfg.CheckLog.Secret))
	svc := service.NewInvestigationService(a.store, resolver, checks, opts, cfg.Investigation.MaxLimit, logger)

	grants := handlers.Grants(cfg.Grants)
	sitePools := repository.NewSitePools(localSite, a.store.Pool(), registry.DSNs())
	defer sitePools.Close()

	pager := federation.NewPager(
		federation.Config{
			LocalSite:      localSite,
			Lookback:       cfg.Federation.Lookback,
			MaxConcurrency: cfg.Federation.MaxConcurrency,
			SiteTimeout:    cfg.Federation.SiteTimeout,
			PageDeadline:   cfg.Federation.PageDeadline,
			Capabilities:   cfg.Federation.Capabilities,
			RangeLimits:    target.DefaultRangeLimits(),
		},
		a.index, registry, sitePools, capClient,
		func(authority string) bool {
			return grants.Allows(authority, cfg.Federation.Capabilities)
		},
		opts, logger)

	h := handlers.New(svc, pager, checks, a.store, a.index, grants, localSite, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.NewRouter(h),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("crosscheck listening", "addr", srv.Addr, "site", localSite)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	return nil
}
