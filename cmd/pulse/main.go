package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/radiusdt/pulse/internal/config"
	"github.com/radiusdt/pulse/internal/database"
	"github.com/radiusdt/pulse/internal/engagement"
	"github.com/radiusdt/pulse/internal/geo"
	"github.com/radiusdt/pulse/internal/httpserver"
	"github.com/radiusdt/pulse/internal/metrics"
	"github.com/radiusdt/pulse/internal/middleware"
	"github.com/radiusdt/pulse/internal/storage"
	"github.com/radiusdt/pulse/internal/tracking"
)

const connectTimeout = 10 * time.Second

// stores groups the storage backends selected at startup.
type stores struct {
	events    storage.EventStore
	links     storage.LinkStore
	snapshots storage.SnapshotStore
	heatMaps  storage.HeatMapStore
	variants  storage.VariantStore
	guard     storage.ClickGuard
	mirror    storage.EventMirror
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := middleware.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting Pulse",
		zap.String("env", cfg.Server.Env),
		zap.String("addr", cfg.Server.Addr),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics(cfg.Metrics.Namespace)
	}

	health := make(map[string]httpserver.HealthCheck)
	st := stores{
		events:    storage.NewInMemoryEventStore(),
		links:     storage.NewInMemoryLinkStore(),
		snapshots: storage.NewInMemorySnapshotStore(),
		heatMaps:  storage.NewInMemoryHeatMapStore(),
		variants:  storage.NewInMemoryVariantStore(),
		guard:     storage.NewInMemoryClickGuard(),
		mirror:    storage.NopEventMirror{},
	}

	// PostgreSQL
	var db *database.PostgresDB
	if cfg.Database.Enabled {
		db = connectPostgres(ctx, cfg, logger)
	}
	if db != nil {
		defer db.Close()
		health["postgres"] = db.Health
		st.events = storage.NewPostgresEventStore(db.Pool)
		st.links = storage.NewPostgresLinkStore(db.Pool)
		st.snapshots = storage.NewPostgresSnapshotStore(db.Pool)
		st.heatMaps = storage.NewPostgresHeatMapStore(db.Pool)
		st.variants = storage.NewPostgresVariantStore(db.Pool)
	} else {
		logger.Warn("PostgreSQL not available, using in-memory storage")
	}

	// Redis
	if cfg.Redis.Enabled {
		redisCtx, redisCancel := context.WithTimeout(ctx, connectTimeout)
		rdb, err := database.NewRedisDB(redisCtx, cfg.Redis, logger)
		redisCancel()
		if err != nil {
			logger.Warn("Redis not available, unique click cache kept in memory", zap.Error(err))
		} else {
			defer rdb.Close()
			health["redis"] = rdb.Health
			st.guard = storage.NewRedisClickGuard(rdb.Client, m)
		}
	}

	// ClickHouse
	if cfg.ClickHouse.Enabled {
		chCtx, chCancel := context.WithTimeout(ctx, connectTimeout)
		ch, err := database.NewClickHouseDB(chCtx, cfg.ClickHouse, logger)
		if err != nil {
			logger.Warn("ClickHouse not available, event mirror disabled", zap.Error(err))
		} else {
			defer ch.Close()
			mirror := storage.NewClickHouseEventMirror(ch.Conn, cfg.ClickHouse.Table, 0, m, logger)
			if err := mirror.EnsureTable(chCtx); err != nil {
				logger.Warn("failed to create ClickHouse events table, event mirror disabled", zap.Error(err))
			} else {
				health["clickhouse"] = ch.Health
				st.mirror = mirror
			}
		}
		chCancel()
	}

	// GeoIP
	var resolver geo.Resolver
	if cfg.Geo.Enabled {
		provider, err := geo.NewMaxMindProvider(cfg.Geo.DatabasePath)
		if err != nil {
			logger.Warn("GeoIP database not available, geo lookup disabled", zap.Error(err))
		} else {
			defer provider.Close()
			resolver = geo.NewCachedResolver(provider, cfg.Geo.CacheSize, cfg.Geo.CacheTTL, m, logger)
		}
	}

	// Services
	urls := tracking.NewURLBuilder(cfg.Tracking.BaseURL)
	links := engagement.NewLinkTracker(st.links, st.guard, urls, m, logger)
	aggregator := engagement.NewAggregator(st.events, st.snapshots, m, logger)
	variants := engagement.NewVariantTracker(st.variants, nil, m, logger)
	recorder := engagement.NewRecorder(st.events, tracking.NewUAClassifier(), resolver, links, aggregator, variants, st.mirror, m, logger)
	heatMaps := engagement.NewHeatMapBuilder(st.heatMaps, nil, m, logger)

	var reconciler *engagement.Reconciler
	if cfg.Reconcile.Enabled {
		reconciler = engagement.NewReconciler(st.events, aggregator, st.mirror, cfg.Reconcile.Schedule, m, logger)
		if err := reconciler.Start(); err != nil {
			logger.Fatal("failed to start reconciler", zap.Error(err))
		}
	}

	rateLimitMW := middleware.NewRateLimitMiddleware(cfg.RateLimit, m, logger)

	handler := httpserver.NewServer(&httpserver.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Metrics:      m,
		Recorder:     recorder,
		Links:        links,
		Aggregator:   aggregator,
		HeatMaps:     heatMaps,
		Variants:     variants,
		RateLimiter:  rateLimitMW,
		HealthChecks: health,
	})

	// Recovery -> Logging -> RateLimit -> Auth -> Handler
	recoveryMW := middleware.NewRecoveryMiddleware(logger)
	loggingMW := middleware.NewLoggingMiddleware(logger)
	authMW := middleware.NewAuthMiddleware(cfg.Auth, logger)

	finalHandler := recoveryMW.Handler(
		loggingMW.Handler(
			rateLimitMW.Handler(
				authMW.Handler(handler),
			),
		),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           finalHandler,
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Info("HTTP server starting", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	go housekeeping(ctx, rateLimitMW, db, m)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	if reconciler != nil {
		reconciler.Stop(shutdownCtx)
	}
	if err := st.mirror.Close(); err != nil {
		logger.Error("failed to flush event mirror", zap.Error(err))
	}

	cancel()
	logger.Info("server stopped")
}

func connectPostgres(ctx context.Context, cfg *config.Config, logger *zap.Logger) *database.PostgresDB {
	connCtx, connCancel := context.WithTimeout(ctx, connectTimeout)
	defer connCancel()

	db, err := database.NewPostgresDB(connCtx, cfg.Database, logger)
	if err != nil {
		logger.Warn("failed to connect to PostgreSQL", zap.Error(err))
		return nil
	}

	if cfg.Database.Migrate {
		if err := db.Migrate(connCtx); err != nil {
			logger.Error("failed to apply schema, falling back to in-memory storage", zap.Error(err))
			db.Close()
			return nil
		}
	}
	return db
}

// housekeeping resets per-IP limiters hourly and samples pool stats.
func housekeeping(ctx context.Context, rl *middleware.RateLimitMiddleware, db *database.PostgresDB, m *metrics.Metrics) {
	cleanup := time.NewTicker(time.Hour)
	defer cleanup.Stop()
	stats := time.NewTicker(15 * time.Second)
	defer stats.Stop()

	for {
		select {
		case <-cleanup.C:
			rl.CleanupIPLimiters()
		case <-stats.C:
			if db != nil {
				s := db.Stats()
				m.UpdateDBStats(s.Idle, s.Acquired, s.Total)
			}
		case <-ctx.Done():
			return
		}
	}
}
