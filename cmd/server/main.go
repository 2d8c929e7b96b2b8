package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/ankgale/TFG/internal/api"
	"github.com/ankgale/TFG/internal/config"
	"github.com/ankgale/TFG/internal/feed"
	"github.com/ankgale/TFG/internal/ledger"
	"github.com/ankgale/TFG/internal/marketdata"
	"github.com/ankgale/TFG/internal/pricecache"
	"github.com/ankgale/TFG/internal/progress"
	"github.com/ankgale/TFG/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx := context.Background()

	// --- Initialize store ---
	st, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("store initialization failed", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	// --- Prices ---
	source := marketdata.NewYahooClient(cfg.Prices.SourceURL)
	cache := pricecache.New(st, source, cfg.Prices.Tracked)
	if err := cache.Seed(ctx); err != nil {
		slog.Error("failed to seed stocks", "err", err)
		os.Exit(1)
	}
	go cache.RefreshAll(ctx)

	// Scheduled refresh keeps prices warm with no WebSocket clients.
	var scheduler *cron.Cron
	if cfg.Prices.RefreshSchedule != "" {
		scheduler = cron.New()
		if _, err := scheduler.AddFunc(cfg.Prices.RefreshSchedule, func() {
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			cache.RefreshAll(rctx)
		}); err != nil {
			slog.Error("invalid PRICE_REFRESH_SCHEDULE", "schedule", cfg.Prices.RefreshSchedule, "err", err)
			os.Exit(1)
		}
		scheduler.Start()
		slog.Info("scheduled price refresh enabled", "schedule", cfg.Prices.RefreshSchedule)
	}

	// --- Ledger, progress and feed ---
	l := ledger.New(st, cache, cfg.Trading.StartingBalance)

	catalog, err := progress.DefaultCatalog()
	if err != nil {
		slog.Error("failed to load lesson catalog", "err", err)
		os.Exit(1)
	}
	tracker := progress.NewMemoryTracker(catalog)

	broadcaster := feed.NewBroadcaster(cache, cfg.Prices.PollInterval)

	// --- HTTP router ---
	svc := api.NewService(l, cache, tracker, broadcaster)
	router := api.NewRouter(svc, cfg.CORS.AllowedOrigins)

	// --- Server ---
	srv := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		// Writes include a full price refresh; the ws upgrade clears deadlines.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("finlearn listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down finlearn...")
	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("finlearn stopped")
}

// openStore picks PostgreSQL, then SQLite, then memory, runs migrations for
// the SQL stores and wraps the result in the Redis cache when configured.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	var (
		st      store.Store
		cleanup []func()
	)
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	switch {
	case cfg.Database.URL != "":
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		cleanup = append(cleanup, pool.Close)

		// The bridge shares the pool; closing the pool releases it.
		if err := store.Migrate(ctx, stdlib.OpenDBFromPool(pool), goose.DialectPostgres); err != nil {
			closeAll()
			return nil, nil, err
		}
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

	case cfg.Database.Path != "":
		db, err := store.OpenSQLite(cfg.Database.Path)
		if err != nil {
			return nil, nil, err
		}
		cleanup = append(cleanup, func() { db.Close() })

		if err := store.Migrate(ctx, db, goose.DialectSQLite3); err != nil {
			closeAll()
			return nil, nil, err
		}
		st = store.NewSQLiteStore(db)
		slog.Info("opened SQLite database", "path", cfg.Database.Path)

	default:
		slog.Warn("DATABASE_URL and DB_PATH not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// Wrap with Redis read-through cache if configured.
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.Redis.TTL)
		slog.Info("Redis cache enabled", "ttl", cfg.Redis.TTL)
	}

	return st, closeAll, nil
}
