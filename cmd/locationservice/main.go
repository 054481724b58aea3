package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/example/shego/internal/config"
	"github.com/example/shego/internal/estimate/handler"
	estimatesvc "github.com/example/shego/internal/estimate/service"
	"github.com/example/shego/internal/location"
	"github.com/example/shego/pkg/observability"
)

func main() {
	configPath := flag.String("config", getenv("CONFIG_PATH", "config.toml"), "path to TOML config")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		observability.SetupLogger("location-service", "").Fatal("load config", zap.Error(err))
	}

	logger := observability.SetupLogger("location-service", cfg.Log.Level)
	defer logger.Sync() //nolint:errcheck

	shutdown, err := observability.SetupTracer(ctx, "location-service", nil)
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background()) //nolint:errcheck
	}

	observer := location.NewStreamObserver(cfg.Location.MaxAge())
	estimates := estimatesvc.New(observer, estimatesvc.DefaultPricing)

	restSrv := newRESTServer(cfg.Location.HTTPAddr, estimates, logger)
	grpcSrv := grpc.NewServer()
	location.RegisterLocationServer(grpcSrv, location.NewServer(observer, logger))

	lis, err := net.Listen("tcp", cfg.Location.GRPCAddr)
	if err != nil {
		logger.Fatal("listen grpc", zap.Error(err))
	}

	go func() {
		logger.Info("estimate REST listening", zap.String("addr", restSrv.Addr))
		if err := restSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("estimate rest server", zap.Error(err))
		}
	}()
	go func() {
		logger.Info("location grpc listening", zap.String("addr", lis.Addr().String()))
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Fatal("grpc serve", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = restSrv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
}

func newRESTServer(addr string, estimates *estimatesvc.Service, logger *zap.Logger) *http.Server {
	r := chi.NewRouter()
	r.Use(observability.AccessLog(logger))
	r.Mount("/observability", observability.MetricsRouter())
	r.Mount("/", handler.New(estimates).Router())
	return &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
