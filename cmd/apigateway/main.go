package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/shego/internal/config"
	"github.com/example/shego/internal/gateway"
	ratelimitmw "github.com/example/shego/internal/http/middleware"
	"github.com/example/shego/pkg/observability"
)

func main() {
	configPath := flag.String("config", getenv("CONFIG_PATH", "config.toml"), "path to TOML config")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		observability.SetupLogger("api-gateway", "").Fatal("load config", zap.Error(err))
	}

	logger := observability.SetupLogger("api-gateway", cfg.Log.Level)
	defer logger.Sync() //nolint:errcheck

	shutdown, err := observability.SetupTracer(ctx, "api-gateway", nil)
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background()) //nolint:errcheck
	}

	var redisClient *redis.Client
	if cfg.Gateway.UseRedisRate {
		redisClient = newRedisClient(ctx, cfg.Redis.Addr, logger)
		if redisClient != nil {
			defer redisClient.Close()
		}
	}

	budgets := make(map[string]ratelimitmw.RateConfig, len(cfg.Gateway.RateLimits))
	for class, b := range cfg.Gateway.RateLimits {
		budgets[class] = ratelimitmw.RateConfig{Rate: b.Rate, Burst: b.Burst}
	}
	limiter := ratelimitmw.NewRateLimiter(redisClient, budgets, ratelimitmw.BookingClassifier, logger)

	h, err := gateway.NewRouter(gateway.Options{
		BookingURL:  cfg.Gateway.BookingURL,
		EstimateURL: cfg.Gateway.EstimateURL,
		Limiter:     limiter,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal("gateway router", zap.Error(err))
	}

	srv := &http.Server{Addr: cfg.Gateway.HTTPAddr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("api gateway listening", zap.String("addr", srv.Addr), zap.Bool("rate_limited", limiter != nil))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newRedisClient(ctx context.Context, addr string, logger *zap.Logger) *redis.Client {
	if addr == "" {
		logger.Warn("rate limiting requested without redis addr")
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping failed, rate limiting disabled", zap.Error(err))
		_ = client.Close()
		return nil
	}
	return client
}
