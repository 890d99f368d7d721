// Command pk-server starts the portal-keeper HTTP API and sync scheduler.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/and161185/portal-keeper/internal/config"
	"github.com/and161185/portal-keeper/internal/connector"
	"github.com/and161185/portal-keeper/internal/connector/browser"
	"github.com/and161185/portal-keeper/internal/connector/browser/httpdriver"
	"github.com/and161185/portal-keeper/internal/importer"
	"github.com/and161185/portal-keeper/internal/limiter"
	"github.com/and161185/portal-keeper/internal/migrate"
	"github.com/and161185/portal-keeper/internal/repository/postgres"
	"github.com/and161185/portal-keeper/internal/server/httpapi"
	"github.com/and161185/portal-keeper/internal/service"
	"github.com/and161185/portal-keeper/internal/sessioncache"
	"github.com/and161185/portal-keeper/internal/vault"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main parses configuration, runs migrations, and serves the API until signalled.
func main() {
	cfg, err := config.Parse(os.Args[0], os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Server.Addr),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ver, err := migrate.Up(ctx, cfg.Database.DSN, logger)
	if err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}
	logger.Info("schema ready", zap.Int64("version", ver))

	// DB pool
	db, err := postgres.New(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Fatal("postgres.New", zap.Error(err))
	}
	defer db.Close()

	// Repositories
	vaultRepo := postgres.NewVaultRepo(db)
	credRepo := postgres.NewCredentialRepo(db)
	logRepo := postgres.NewSyncLogRepo(db)

	lim := limiter.NewPG(db.Pool, cfg.Limiter.Window, cfg.Limiter.MaxFails, cfg.Limiter.BlockFor)

	cache, err := newSessionCache(ctx, cfg.SessionCache)
	if err != nil {
		logger.Fatal("session cache", zap.Error(err))
	}

	// Connectors
	reg := connector.NewRegistry(connector.Deps{
		Log:       logger,
		Cache:     cache,
		Importers: importer.NewPGSet(db.Pool, browser.SectionKeys()...),
	})
	connector.RegisterPlaceholders(reg)
	drv := httpdriver.New()
	if cfg.Connector.UserAgent != "" {
		drv.UserAgent = cfg.Connector.UserAgent
	}
	browser.Register(reg, drv, browser.Options{
		NavTimeout:    cfg.Connector.NavTimeout,
		SubmitTimeout: cfg.Connector.SubmitTimeout,
		MaxItems:      cfg.Connector.MaxItems,
	})
	logger.Info("connectors registered", zap.Strings("portal_types", reg.Types()))

	// Services
	keys := vault.NewKeyring()
	vaultSvc := service.NewVaultService(vaultRepo, keys, lim, cfg.Vault.KDFIterations, logger)
	store := service.NewCredentialStore(credRepo, logRepo, logger)
	orch := service.NewSyncOrchestrator(store, reg, logger)

	if cfg.Scheduler.Enabled {
		sched := service.NewScheduler(keys, store, orch, logger)
		go sched.Run(ctx, cfg.Scheduler.Interval)
	}

	api := httpapi.New(vaultSvc, store, orch, []byte(cfg.Auth.JWTKey), cfg.Auth.TokenTTL, logger)
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr))
		errCh <- srv.ListenAndServe()
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown", zap.Error(err))
			_ = srv.Close()
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}

	vaultSvc.Lock()
	logger.Info("shutdown complete")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = lvl
	return zc.Build()
}

func newSessionCache(ctx context.Context, c config.SessionCacheConfig) (sessioncache.Cache, error) {
	switch c.Backend {
	case config.CacheFile:
		fc, err := sessioncache.NewFile(c.Dir, c.MaxAge)
		if err != nil {
			return nil, err
		}
		return fc, nil
	case config.CacheMinio:
		mc, err := sessioncache.NewMinio(ctx, c.Minio)
		if err != nil {
			return nil, err
		}
		return mc, nil
	}
	return sessioncache.Nop{}, nil
}
