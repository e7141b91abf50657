// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"opinionsim/internal/api"
	"opinionsim/internal/cache"
	"opinionsim/internal/common/config"
	"opinionsim/internal/common/logger"
	"opinionsim/internal/common/observability"
	"opinionsim/internal/openai"
	"opinionsim/internal/simulation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	store, redisClient, err := buildCacheStore(cfg, zapLog)
	if err != nil {
		zapLog.Fatal("cache init failed", zap.Error(err))
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	gateway := openai.NewClient(cfg.OpenAI, log)
	svc := simulation.NewService(gateway, store, log)

	var limiter api.Limiter
	if cfg.RateLimit.RequestsPerWindow > 0 {
		if redisClient != nil {
			limiter = api.NewRedisLimiter(redisClient, cfg.RateLimit)
		} else {
			limiter = api.NewMemoryLimiter(cfg.RateLimit)
		}
	}

	router := api.NewServer(svc, obs, log).Router(limiter)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		zapLog.Info("server listening",
			zap.Int("port", cfg.Server.Port),
			zap.String("cache_backend", cfg.Cache.Backend),
			zap.String("model", cfg.OpenAI.Model))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Fatal("server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, draining requests...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zapLog.Error("shutdown error", zap.Error(err))
	}
	zapLog.Info("Server stopped gracefully")
}

// buildCacheStore picks the cache backend. Redis is only used when it is
// reachable at startup; otherwise the process falls back to the in-memory
// store rather than refusing to start.
func buildCacheStore(cfg *config.Config, zapLog *zap.Logger) (cache.Store, *redis.Client, error) {
	if cfg.Cache.Backend != "redis" {
		return cache.NewMemoryStore(cfg.Cache.MaxEntries, cfg.Cache.TTL()), nil, nil
	}

	store := cache.NewRedisStore(cfg.Cache.Redis, cfg.Cache.TTL())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		zapLog.Warn("redis unreachable, falling back to in-memory cache", zap.Error(err))
		_ = store.Close()
		return cache.NewMemoryStore(cfg.Cache.MaxEntries, cfg.Cache.TTL()), nil, nil
	}
	return store, store.Client(), nil
}
