package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/rolegate/pkg/access"
	"github.com/platinummonkey/rolegate/pkg/async"
	"github.com/platinummonkey/rolegate/pkg/audit"
	"github.com/platinummonkey/rolegate/pkg/cache"
	"github.com/platinummonkey/rolegate/pkg/config"
	"github.com/platinummonkey/rolegate/pkg/httputil"
	"github.com/platinummonkey/rolegate/pkg/observability"
	"github.com/platinummonkey/rolegate/pkg/rbac"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// maxRequestBytes bounds request bodies on the API listener
const maxRequestBytes = 1 << 20

// dbStatsInterval is how often pool statistics are copied into gauges
const dbStatsInterval = 15 * time.Second

func main() {
	bootstrap := setupLogger()

	cfg, err := config.LoadConfig()
	if err != nil {
		bootstrap.Fatalf("Failed to load configuration: %v", err)
	}
	bootstrap.SetLevel(logrusLevel(cfg.Level()))
	bootstrap.WithFields(logrus.Fields{
		"version": version,
		"addr":    cfg.Server.Addr,
		"dialect": cfg.Store.Dialect,
		"cache":   cfg.Cache.Backend,
	}).Info("Starting rolegate")

	if err := run(cfg); err != nil {
		bootstrap.Fatalf("rolegate exited: %v", err)
	}
	bootstrap.Info("rolegate stopped")
}

func setupLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetOutput(os.Stderr)
	return logger
}

func logrusLevel(level observability.LogLevel) logrus.Level {
	switch level {
	case observability.DebugLevel:
		return logrus.DebugLevel
	case observability.WarnLevel:
		return logrus.WarnLevel
	case observability.ErrorLevel:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := observability.NewLogger(cfg.Level(), os.Stdout).
		WithField("service", "rolegate").
		WithField("version", version)

	providers, err := observability.InitOTel(ctx, cfg.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	db, err := openDatabase(ctx, cfg.Store)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	recorder := observability.Recorder(metrics)
	if providers != nil {
		otelMetrics, err := observability.NewOTelMetrics(providers.MeterProvider)
		if err != nil {
			return fmt.Errorf("failed to create OpenTelemetry instruments: %w", err)
		}
		recorder = observability.Tee(metrics, otelMetrics)
	}

	decisionCache, redisClient, err := openCache(ctx, cfg.Cache, recorder)
	if err != nil {
		return err
	}

	sink, err := openAuditSink(db, cfg.Audit)
	if err != nil {
		return err
	}

	controller, err := access.New(access.Options{
		DB:           db,
		Dialect:      rbac.Dialect(cfg.Store.Dialect),
		Cache:        decisionCache,
		Audit:        sink,
		Logger:       logger,
		Recorder:     recorder,
		StoreTimeout: cfg.Store.Timeout,
	})
	if err != nil {
		return err
	}
	if err := controller.Init(ctx); err != nil {
		return err
	}

	if cfg.Seed.File != "" {
		if err := applySeed(ctx, controller, cfg.Seed); err != nil {
			return err
		}
		if cfg.Seed.Watch {
			async.SafeGo(ctx, logger, 0, "seed watcher", func(ctx context.Context) error {
				return controller.WatchSeedFile(ctx, cfg.Seed.File, cfg.Seed.GrantedBy)
			})
		}
	}

	if cfg.Sweep.Enabled {
		if _, err := controller.StartSweeper(cfg.Sweep.Schedule); err != nil {
			return err
		}
	}

	async.SafeGoNoError(ctx, logger, 0, "db stats", func(ctx context.Context) {
		ticker := time.NewTicker(dbStatsInterval)
		defer ticker.Stop()
		for {
			metrics.CollectDBStats(db)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	})

	apiServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      apiRouter(cfg.Server, controller, metrics, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	metricsServer := &http.Server{
		Addr:         cfg.Server.MetricsAddr,
		Handler:      opsRouter(db, redisClient, registry),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, metricsServer)
	shutdown.Register("background tasks", func(context.Context) error {
		cancel()
		return nil
	})
	shutdown.Register("access controller", controller.Shutdown)
	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	}
	shutdown.Register("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})
	shutdown.Register("database", func(context.Context) error { return db.Close() })

	serveErr := make(chan error, 2)
	for _, srv := range []*http.Server{apiServer, metricsServer} {
		async.SafeGo(ctx, logger, 0, "http server "+srv.Addr, func(context.Context) error {
			logger.WithField("addr", srv.Addr).Info("HTTP server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("server %s: %w", srv.Addr, err)
				return err
			}
			return nil
		})
	}

	waitCtx, stopWaiting := context.WithCancel(context.Background())
	defer stopWaiting()
	var listenErr error
	go func() {
		select {
		case listenErr = <-serveErr:
			stopWaiting()
		case <-waitCtx.Done():
		}
	}()

	if err := shutdown.WaitForShutdown(waitCtx); err != nil {
		return err
	}
	return listenErr
}

func openDatabase(ctx context.Context, cfg config.StoreConfig) (*sql.DB, error) {
	driver := cfg.Dialect
	db, err := sql.Open(driver, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func openCache(ctx context.Context, cfg config.CacheConfig, recorder cache.Recorder) (cache.Cache, *redis.Client, error) {
	cacheConfig := &cache.Config{
		TTL:        cfg.TTL,
		MaxEntries: cfg.MaxEntries,
		Shards:     cfg.Shards,
		Recorder:   recorder,
	}
	if cfg.Backend != "redis" {
		return cache.NewMemoryCache(cacheConfig), nil, nil
	}

	client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return cache.NewRedisCache(client, cfg.RedisPrefix, cacheConfig), client, nil
}

// openAuditSink returns nil for the default database sink, or a fan-out to the
// database and a rotating file when a directory is configured
func openAuditSink(db *sql.DB, cfg config.AuditConfig) (audit.Sink, error) {
	if cfg.Dir == "" {
		return nil, nil
	}

	fileConfig := audit.DefaultFileLoggerConfig()
	fileConfig.BasePath = cfg.Dir
	fileConfig.MaxSize = cfg.MaxSize
	fileConfig.MaxFiles = cfg.MaxFiles
	fileLogger, err := audit.NewFileLogger(fileConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	return audit.NewMultiLogger(audit.NewDBLogger(db, rbac.SystemClock{}), fileLogger), nil
}

func applySeed(ctx context.Context, controller *access.Controller, cfg config.SeedConfig) error {
	doc, err := access.LoadSeedFile(cfg.File)
	if err != nil {
		return err
	}
	if _, err := controller.ApplySeed(ctx, doc, cfg.GrantedBy); err != nil {
		return fmt.Errorf("failed to apply seed file %s: %w", cfg.File, err)
	}
	return nil
}

func apiRouter(cfg config.ServerConfig, controller *access.Controller, metrics *observability.Metrics, logger *observability.Logger) http.Handler {
	router := mux.NewRouter()
	router.Use(observability.HTTPMetricsMiddleware(metrics))

	var adminGuard func(http.Handler) http.Handler
	if cfg.UserHeader != "" {
		router.Use(mux.MiddlewareFunc(access.UserIDFromHeader(cfg.UserHeader)))
		adminGuard = access.RequirePermission(controller, cfg.AdminResource, cfg.AdminAction)
	} else {
		logger.Warn("No user header configured; administrative routes are unauthenticated")
	}
	access.NewHandlers(controller, adminGuard).RegisterRoutes(router)

	return httputil.Chain(
		httputil.RecoveryMiddleware(logger),
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.MaxBytesMiddleware(maxRequestBytes),
	)(router)
}

func opsRouter(db *sql.DB, redisClient *redis.Client, gatherer prometheus.Gatherer) http.Handler {
	router := mux.NewRouter()
	observability.RegisterHealthRoutes(router, observability.NewHealthChecker(db, redisClient, version))
	observability.RegisterMetricsEndpoint(router, gatherer)
	return router
}
