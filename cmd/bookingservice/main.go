package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/example/shego/internal/booking/consumer"
	"github.com/example/shego/internal/booking/domain"
	"github.com/example/shego/internal/booking/handler"
	"github.com/example/shego/internal/booking/repository"
	bookingservice "github.com/example/shego/internal/booking/service"
	"github.com/example/shego/internal/config"
	outboxworker "github.com/example/shego/internal/outbox"
	"github.com/example/shego/pkg/observability"
	outboxpkg "github.com/example/shego/pkg/outbox"
)

func main() {
	configPath := flag.String("config", getenv("CONFIG_PATH", "config.toml"), "path to TOML config")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		observability.SetupLogger("booking-service", "").Fatal("load config", zap.Error(err))
	}

	logger := observability.SetupLogger("booking-service", cfg.Log.Level)
	defer logger.Sync() //nolint:errcheck

	shutdown, err := observability.SetupTracer(ctx, "booking-service", nil)
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background()) //nolint:errcheck
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		defer redisClient.Close()
	}

	repo, closeRepo := buildRepository(ctx, cfg, redisClient, logger)
	defer closeRepo()

	var idem domain.IdempotencyRepository = repository.NewMemoryIdempotencyRepo()
	if redisClient != nil {
		idem = repository.NewRedisIdempotencyRepo(redisClient, "", cfg.Redis.IdempotencyWindow())
	}

	var natsConn *nats.Conn
	if cfg.NATS.URL != "" {
		if conn, err := nats.Connect(cfg.NATS.URL, nats.Name("bookingservice")); err == nil {
			natsConn = conn
			defer conn.Drain() //nolint:errcheck
		} else {
			logger.Warn("nats connection failed", zap.Error(err))
		}
	}

	var db *sql.DB
	if cfg.Postgres.DSN != "" {
		db, err = sql.Open("pgx", cfg.Postgres.DSN)
		if err != nil {
			logger.Fatal("postgres connect", zap.Error(err))
		}
		db.SetMaxOpenConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("postgres ping", zap.Error(err))
		}
		if err := outboxworker.EnsureSchema(ctx, db); err != nil {
			logger.Fatal("outbox schema", zap.Error(err))
		}
		defer db.Close()
	}

	var events domain.EventPublisher
	switch {
	case db != nil:
		events = outboxworker.NewWriter(db, cfg.NATS.Subject)
	case natsConn != nil:
		events = outboxpkg.NewPublisher(natsConn, cfg.NATS.Subject)
	default:
		logger.Warn("booking events disabled: neither postgres nor nats configured")
	}

	drivers := repository.NewMemoryDriverDirectory(driverSeed(cfg.Drivers))
	svc := bookingservice.New(repo, events, drivers, domain.SystemClock{}, idem, logger)

	if db != nil && natsConn != nil {
		worker := outboxworker.NewWorker(db, natsConn, logger.Named("outbox"), outboxworker.WorkerConfig{
			PollInterval: cfg.Postgres.OutboxPoll(),
			BatchSize:    cfg.Postgres.OutboxBatch,
			RetryMax:     cfg.Postgres.OutboxRetry,
		})
		go func() {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("outbox worker stopped", zap.Error(err))
			}
		}()
	} else if db != nil {
		logger.Warn("outbox worker disabled: nats not configured")
	}

	if len(cfg.Kafka.Brokers) > 0 {
		reader := consumer.NewKafkaReader(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID)
		acceptances := consumer.NewAcceptanceConsumer(reader, svc, logger)
		go func() {
			if err := acceptances.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("acceptance consumer stopped", zap.Error(err))
			}
		}()
	}

	r := chi.NewRouter()
	r.Mount("/observability", observability.MetricsRouter())
	r.Mount("/", handler.NewHTTP(svc, logger, cfg.Auth.JWTSecret, cfg.Booking.NearbyRadiusKM).Router())

	srv := &http.Server{
		Addr:              cfg.Booking.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("booking service listening", zap.String("addr", srv.Addr), zap.String("store", cfg.Booking.Store))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func buildRepository(ctx context.Context, cfg config.Config, redisClient *redis.Client, logger *zap.Logger) (domain.Repository, func()) {
	switch cfg.Booking.Store {
	case "redis":
		return repository.NewRedisRepository(redisClient, cfg.Redis.KeyPrefix), func() {}
	case "mongo":
		client, err := repository.NewMongoClient(ctx, cfg.Mongo.URI)
		if err != nil {
			logger.Fatal("mongo connect", zap.Error(err))
		}
		repo := repository.NewMongoRepository(client.Database(cfg.Mongo.Database))
		if err := repo.EnsureIndexes(ctx); err != nil {
			logger.Fatal("mongo indexes", zap.Error(err))
		}
		return repo, func() { disconnectMongo(client, logger) }
	default:
		return repository.NewMemoryRepository(), func() {}
	}
}

func disconnectMongo(client *mongo.Client, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		logger.Warn("mongo disconnect", zap.Error(err))
	}
}

func driverSeed(drivers map[string]config.DriverConfig) map[string]domain.DriverInfo {
	seed := make(map[string]domain.DriverInfo, len(drivers))
	for id, d := range drivers {
		seed[id] = domain.DriverInfo{Name: d.Name, Vehicle: d.VehicleType, Plate: d.VehiclePlate, Phone: d.Phone}
	}
	return seed
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
