package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/daftarhq/daftar-saas/platform/go/cache"
	"github.com/daftarhq/daftar-saas/platform/go/kv"
	platformlogging "github.com/daftarhq/daftar-saas/platform/go/logging"
	"github.com/daftarhq/daftar-saas/platform/go/metrics"
	platformmiddleware "github.com/daftarhq/daftar-saas/platform/go/middleware"
	"github.com/daftarhq/daftar-saas/platform/go/persistence"
	"github.com/daftarhq/daftar-saas/platform/go/ratelimit"
	"github.com/daftarhq/daftar-saas/platform/go/session"
	"github.com/daftarhq/daftar-saas/platform/go/tenant/registry"
	"github.com/daftarhq/daftar-saas/platform/go/tenant/resolver"
)

type config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`

	// Platform directory database (admin.tenants lives here).
	DatabaseURL string `env:"DATABASE_URL,required"`

	// Per-tenant store DSN template; exactly one %s receives the store name.
	TenantDSNTemplate   string        `env:"TENANT_DSN_TEMPLATE,required"`
	TenantProbeInterval time.Duration `env:"TENANT_PROBE_INTERVAL" envDefault:"30s"`

	KVBackend     string `env:"KV_BACKEND" envDefault:"redis"` // redis | memory
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// BaseDomain enables subdomain tenant resolution when set.
	BaseDomain string `env:"BASE_DOMAIN"`
	// JWTSecret enables bearer-claim tenant resolution when set.
	JWTSecret string `env:"JWT_SECRET"`

	SessionTTL      time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	CacheDefaultTTL time.Duration `env:"CACHE_DEFAULT_TTL" envDefault:"5m"`
	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
	RateLimitMax    int64         `env:"RATE_LIMIT_MAX" envDefault:"100"`
}

func main() {
	ctx := context.Background()

	_ = godotenv.Load()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "api-server",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	mets := metrics.New()

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: cfg.DatabaseURL})
	if err != nil {
		logger.Fatal("init platform pool", zap.Error(err))
	}

	directory, err := persistence.NewTenantDirectory(pool)
	if err != nil {
		logger.Fatal("init tenant directory", zap.Error(err))
	}

	store, err := buildKV(ctx, cfg)
	if err != nil {
		logger.Fatal("init kv store", zap.Error(err), zap.String("backend", cfg.KVBackend))
	}

	reg, err := registry.New(registry.Config{
		Directory:     directory,
		Dialer:        registry.PgxDialer{},
		DSNTemplate:   cfg.TenantDSNTemplate,
		ProbeInterval: cfg.TenantProbeInterval,
		Logger:        logger,
		Metrics:       mets,
	})
	if err != nil {
		logger.Fatal("init tenant registry", zap.Error(err))
	}

	sessions, err := session.NewStore(session.Config{KV: store, Logger: logger, Metrics: mets})
	if err != nil {
		logger.Fatal("init session store", zap.Error(err))
	}

	cacheSvc, err := cache.New(cache.Config{
		KV:         store,
		Logger:     logger,
		Metrics:    mets,
		DefaultTTL: cfg.CacheDefaultTTL,
	})
	if err != nil {
		logger.Fatal("init cache service", zap.Error(err))
	}

	limiter, err := ratelimit.New(ratelimit.Config{
		KV:          store,
		Window:      cfg.RateLimitWindow,
		MaxRequests: cfg.RateLimitMax,
		Logger:      logger,
		Metrics:     mets,
	})
	if err != nil {
		logger.Fatal("init rate limiter", zap.Error(err))
	}

	res, err := resolver.New(resolver.Config{
		Directory:  directory,
		Registry:   reg,
		BaseDomain: cfg.BaseDomain,
		JWTSecret:  []byte(cfg.JWTSecret),
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal("init tenant resolver", zap.Error(err))
	}

	rootRouter := chi.NewRouter()

	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(cfg.RequestTimeout),
		platformmiddleware.DefaultCORS(),
	)

	rootRouter.Use(platformlogging.RequestLogger(logger))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		health := reg.HealthCheck(r.Context())
		status := http.StatusOK
		if !health.PlatformOK {
			status = http.StatusServiceUnavailable
		}
		tenants := make(map[string]bool, len(health.Tenants))
		for id, ok := range health.Tenants {
			tenants[id.String()] = ok
		}
		writeJSON(w, status, map[string]any{
			"platform_ok": health.PlatformOK,
			"tenants":     tenants,
		})
	})
	rootRouter.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			writeJSONError(w, http.StatusServiceUnavailable, "kv_unavailable")
			return
		}
		if err := directory.Ping(r.Context()); err != nil {
			writeJSONError(w, http.StatusServiceUnavailable, "directory_unavailable")
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Handle("/metrics", promhttp.Handler())

	apiRouter := chi.NewRouter()
	apiRouter.Use(resolver.Middleware(res, resolver.MiddlewareConfig{
		RequireTenant: true,
		Logger:        logger,
	}))
	apiRouter.Use(ratelimit.Middleware(limiter, ratelimit.TenantCallerKey))

	registerSessionRoutes(apiRouter, sessions, cfg.SessionTTL, logger)

	apiRouter.Get("/cache/stats", func(w http.ResponseWriter, r *http.Request) {
		stats := cacheSvc.Stats(r.Context())
		writeJSON(w, http.StatusOK, map[string]any{
			"total_keys":   stats.TotalKeys,
			"memory_usage": stats.MemoryUsage,
		})
	})

	rootRouter.Mount("/api/v1", apiRouter)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      rootRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting api server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	var result *multierror.Error
	if err := server.Shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, fmt.Errorf("drain http: %w", err))
	}
	reg.ReleaseAll()
	if err := store.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close kv: %w", err))
	}
	persistence.ClosePool(pool)

	if err := result.ErrorOrNil(); err != nil {
		logger.Error("shutdown incomplete", zap.Error(err))
		return
	}
	logger.Info("shutdown complete")
}

// buildKV picks the key-value backend. The in-memory store exists for local
// development; anything shared across instances needs redis.
func buildKV(ctx context.Context, cfg config) (kv.Store, error) {
	switch cfg.KVBackend {
	case "redis":
		return kv.NewRedis(ctx, kv.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	case "memory":
		return kv.NewMemory(), nil
	default:
		return nil, fmt.Errorf("invalid KV_BACKEND %q (use redis or memory)", cfg.KVBackend)
	}
}
