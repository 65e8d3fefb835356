package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lalith-99/qssma-portal/internal/api"
	"github.com/lalith-99/qssma-portal/internal/bus"
	"github.com/lalith-99/qssma-portal/internal/config"
	"github.com/lalith-99/qssma-portal/internal/db"
	"github.com/lalith-99/qssma-portal/internal/feed"
	"github.com/lalith-99/qssma-portal/internal/gateway"
	"github.com/lalith-99/qssma-portal/internal/identity"
	"github.com/lalith-99/qssma-portal/internal/observ"
	"github.com/lalith-99/qssma-portal/internal/offline"
	"github.com/lalith-99/qssma-portal/internal/repository/postgres"
	"github.com/lalith-99/qssma-portal/internal/session"
	"github.com/lalith-99/qssma-portal/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ---------------------------------------------------------------
	// 1. Config and logger
	// ---------------------------------------------------------------
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------------------------------------------------------------
	// 2. Backing services: Postgres for documents, Redis (when set)
	//    for the change bus, sign-in guard and offline cache.
	// ---------------------------------------------------------------
	database, err := db.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	var (
		rdb     *redis.Client
		changes bus.Bus
		guard   identity.Guard
	)
	if cfg.RedisURL == "" {
		logger.Info("REDIS_URL empty, running standalone")
		changes = bus.NewMemory()
		guard = identity.NewMemoryGuard(nil)
	} else {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		rdb = redis.NewClient(redisOpts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		changes = bus.NewRedis(rdb, logger.Named("bus"))
		guard = identity.NewRedisGuard(rdb)
	}

	// ---------------------------------------------------------------
	// 3. Remote data gateway
	// ---------------------------------------------------------------
	pool := database.Pool()
	managers := postgres.NewManagerStore(pool)

	idp := identity.NewProvider(managers, guard, identity.Options{
		Secret:      cfg.JWTSecret,
		TokenTTL:    cfg.TokenTTL,
		MaxAttempts: cfg.MaxLoginAttempts,
		Window:      cfg.LockoutWindow,
	}, logger.Named("identity"))

	gw := gateway.New(gateway.Deps{
		Identity: idp,
		Workers:  postgres.NewWorkerStore(pool),
		Managers: managers,
		Notices:  postgres.NewNoticeStore(pool),
		Bus:      changes,
		Logger:   logger.Named("gateway"),
	})

	// ---------------------------------------------------------------
	// 4. Device state: key-value storage, feed and session
	// ---------------------------------------------------------------
	kv, err := storage.Open(ctx, cfg.StoragePath, logger)
	if err != nil {
		return fmt.Errorf("open device storage: %w", err)
	}
	defer kv.Close()

	feedMetrics := feed.NewMetricsCollector()
	liveFeed := feed.NewSynchronizer(gw, feedMetrics, logger.Named("feed"))
	defer liveFeed.Stop()

	sessions := session.NewStore(gw, kv, liveFeed, logger.Named("session"))
	if sess, ok := sessions.Restore(ctx); ok {
		logger.Info("session restored", zap.String("role", string(sess.Role)))
	}

	// ---------------------------------------------------------------
	// 5. Offline cache
	// ---------------------------------------------------------------
	origin, err := url.Parse(cfg.OriginURL)
	if err != nil {
		return fmt.Errorf("parse origin url: %w", err)
	}

	var cacheStore offline.Storage = offline.NewMemoryStorage()
	if rdb != nil && cfg.CacheBackend == "redis" {
		cacheStore = offline.NewRedisStorage(rdb)
	}

	offlineMetrics := offline.NewMetricsCollector()
	cache := offline.NewManager(cacheStore, offline.Options{
		Origin:       origin,
		CoreAssets:   cfg.CoreAssets,
		BypassHosts:  cfg.BypassHostSuffix,
		LivePrefixes: []string{"/v1/"},
		Metrics:      offlineMetrics,
		Logger:       logger.Named("offline"),
	})

	updater := offline.NewUpdater(cache, cfg.CacheGeneration, cfg.UpdateCheckSpec, logger.Named("offline"))
	if _, err := updater.Check(ctx); err != nil {
		// Origin unreachable at boot: serve whatever was cached last time.
		logger.Warn("initial cache install failed", zap.Error(err))
		gen, err := cache.Adopt(ctx)
		if err != nil {
			logger.Warn("no cached generation to adopt", zap.Error(err))
		} else if gen != "" {
			logger.Info("adopted cached generation", zap.String("generation", gen))
		}
	}
	if err := updater.Start(); err != nil {
		return fmt.Errorf("start cache updater: %w", err)
	}
	defer updater.Stop()

	// ---------------------------------------------------------------
	// 6. Metrics and HTTP
	// ---------------------------------------------------------------
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		feedMetrics,
		offlineMetrics,
	)

	router := api.NewRouter(api.RouterDeps{
		Sessions:  sessions,
		Notices:   gw,
		Feed:      liveFeed,
		Prefs:     storage.NewPrefs(kv),
		Lifecycle: cache,
		Contacts:  cfg.EmergencyContacts,
		Health:    database.Health,
		Metrics:   promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Fallback:  cache,
		Logger:    logger.Named("api"),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting portal",
			zap.String("port", cfg.Port),
			zap.String("env", cfg.Env),
			zap.String("origin", origin.String()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
