// Package config loads process configuration from an optional TOML file and
// environment variables. Environment values win over the file; zero values
// fall back to defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Booking  BookingConfig           `toml:"booking"`
	Mongo    MongoConfig             `toml:"mongo"`
	Redis    RedisConfig             `toml:"redis"`
	NATS     NATSConfig              `toml:"nats"`
	Postgres PostgresConfig          `toml:"postgres"`
	Kafka    KafkaConfig             `toml:"kafka"`
	Auth     AuthConfig              `toml:"auth"`
	Log      LogConfig               `toml:"log"`
	Gateway  GatewayConfig           `toml:"gateway"`
	Location LocationConfig          `toml:"location"`
	Client   ClientConfig            `toml:"client"`
	Drivers  map[string]DriverConfig `toml:"drivers"`
}

type BookingConfig struct {
	HTTPAddr       string  `toml:"http_addr"`
	Store          string  `toml:"store"`
	NearbyRadiusKM float64 `toml:"nearby_radius_km"`
}

type MongoConfig struct {
	URI      string `toml:"uri"`
	Database string `toml:"database"`
}

type RedisConfig struct {
	Addr           string `toml:"addr"`
	KeyPrefix      string `toml:"key_prefix"`
	IdempotencyTTL int    `toml:"idempotency_ttl_sec"`
}

type NATSConfig struct {
	URL     string `toml:"url"`
	Subject string `toml:"subject"`
}

type PostgresConfig struct {
	DSN          string `toml:"dsn"`
	OutboxPollMS int    `toml:"outbox_poll_ms"`
	OutboxBatch  int    `toml:"outbox_batch"`
	OutboxRetry  int    `toml:"outbox_retry_max"`
}

type KafkaConfig struct {
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
	GroupID string   `toml:"group_id"`
}

type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type GatewayConfig struct {
	HTTPAddr     string                `toml:"http_addr"`
	BookingURL   string                `toml:"booking_url"`
	EstimateURL  string                `toml:"estimate_url"`
	UseRedisRate bool                  `toml:"use_redis_rate"`
	RateLimits   map[string]RateBudget `toml:"rate_limits"`
}

type RateBudget struct {
	Rate  float64 `toml:"rate"`
	Burst float64 `toml:"burst"`
}

type LocationConfig struct {
	GRPCAddr      string `toml:"grpc_addr"`
	HTTPAddr      string `toml:"http_addr"`
	MaxAgeSeconds int    `toml:"max_age_sec"`
}

type ClientConfig struct {
	BaseURL           string  `toml:"base_url"`
	PollIntervalMS    int     `toml:"poll_interval_ms"`
	MaxAttempts       int     `toml:"max_attempts"`
	TimeoutSeconds    int     `toml:"timeout_sec"`
	BackoffMultiplier float64 `toml:"backoff_multiplier"`
	MaxIntervalMS     int     `toml:"max_interval_ms"`
	StopOnTerminal    bool    `toml:"stop_on_terminal"`
}

type DriverConfig struct {
	Name         string `toml:"name"`
	VehicleType  string `toml:"vehicle_type"`
	VehiclePlate string `toml:"vehicle_plate"`
	Phone        string `toml:"phone"`
}

// Load reads path when it exists, applies environment overrides and fills
// defaults. An empty path skips the file.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Booking.HTTPAddr = getenv("HTTP_ADDR", cfg.Booking.HTTPAddr)
	cfg.Booking.Store = getenv("BOOKING_STORE", cfg.Booking.Store)
	cfg.Booking.NearbyRadiusKM = parseFloatEnv("NEARBY_RADIUS_KM", cfg.Booking.NearbyRadiusKM)

	cfg.Mongo.URI = getenv("MONGO_URI", cfg.Mongo.URI)
	cfg.Mongo.Database = getenv("MONGO_DATABASE", cfg.Mongo.Database)

	cfg.Redis.Addr = getenv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.KeyPrefix = getenv("REDIS_KEY_PREFIX", cfg.Redis.KeyPrefix)
	cfg.Redis.IdempotencyTTL = parseIntEnv("IDEMPOTENCY_TTL_SEC", cfg.Redis.IdempotencyTTL)

	cfg.NATS.URL = getenv("NATS_URL", cfg.NATS.URL)
	cfg.NATS.Subject = getenv("NATS_SUBJECT", cfg.NATS.Subject)

	cfg.Postgres.DSN = firstNonEmpty(os.Getenv("POSTGRES_DSN"), os.Getenv("DATABASE_URL"), cfg.Postgres.DSN)
	cfg.Postgres.OutboxPollMS = parseIntEnv("OUTBOX_POLL_MS", cfg.Postgres.OutboxPollMS)
	cfg.Postgres.OutboxBatch = parseIntEnv("OUTBOX_BATCH", cfg.Postgres.OutboxBatch)
	cfg.Postgres.OutboxRetry = parseIntEnv("OUTBOX_RETRY_MAX", cfg.Postgres.OutboxRetry)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = splitList(brokers)
	}
	cfg.Kafka.Topic = getenv("KAFKA_TOPIC", cfg.Kafka.Topic)
	cfg.Kafka.GroupID = getenv("KAFKA_GROUP_ID", cfg.Kafka.GroupID)

	cfg.Auth.JWTSecret = getenv("AUTH_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Log.Level = getenv("LOG_LEVEL", cfg.Log.Level)

	cfg.Gateway.HTTPAddr = getenv("GATEWAY_ADDR", cfg.Gateway.HTTPAddr)
	cfg.Gateway.BookingURL = getenv("BOOKING_URL", cfg.Gateway.BookingURL)
	cfg.Gateway.EstimateURL = getenv("ESTIMATE_URL", cfg.Gateway.EstimateURL)
	cfg.Gateway.UseRedisRate = parseBoolEnv("USE_REDIS_RATE", cfg.Gateway.UseRedisRate)

	cfg.Location.GRPCAddr = getenv("GRPC_ADDR", cfg.Location.GRPCAddr)
	cfg.Location.HTTPAddr = getenv("LOCATION_HTTP_ADDR", cfg.Location.HTTPAddr)
	cfg.Location.MaxAgeSeconds = parseIntEnv("LOCATION_MAX_AGE_SEC", cfg.Location.MaxAgeSeconds)

	cfg.Client.BaseURL = getenv("BOOKING_BASE_URL", cfg.Client.BaseURL)
	cfg.Client.PollIntervalMS = parseIntEnv("POLL_INTERVAL_MS", cfg.Client.PollIntervalMS)
	cfg.Client.MaxAttempts = parseIntEnv("POLL_MAX_ATTEMPTS", cfg.Client.MaxAttempts)
	cfg.Client.TimeoutSeconds = parseIntEnv("POLL_TIMEOUT_SEC", cfg.Client.TimeoutSeconds)
	cfg.Client.BackoffMultiplier = parseFloatEnv("POLL_BACKOFF_MULTIPLIER", cfg.Client.BackoffMultiplier)
	cfg.Client.MaxIntervalMS = parseIntEnv("POLL_MAX_INTERVAL_MS", cfg.Client.MaxIntervalMS)
	cfg.Client.StopOnTerminal = parseBoolEnv("POLL_STOP_ON_TERMINAL", cfg.Client.StopOnTerminal)
}

func applyDefaults(cfg *Config) {
	setDefault(&cfg.Booking.HTTPAddr, ":8080")
	setDefault(&cfg.Booking.Store, "memory")
	if cfg.Booking.NearbyRadiusKM <= 0 {
		cfg.Booking.NearbyRadiusKM = 5
	}
	setDefault(&cfg.Mongo.Database, "shego")
	setDefault(&cfg.Redis.KeyPrefix, "booking:")
	if cfg.Redis.IdempotencyTTL <= 0 {
		cfg.Redis.IdempotencyTTL = 86400
	}
	setDefault(&cfg.NATS.Subject, "booking.events")
	if cfg.Postgres.OutboxPollMS <= 0 {
		cfg.Postgres.OutboxPollMS = 200
	}
	if cfg.Postgres.OutboxBatch <= 0 {
		cfg.Postgres.OutboxBatch = 100
	}
	if cfg.Postgres.OutboxRetry <= 0 {
		cfg.Postgres.OutboxRetry = 3
	}
	setDefault(&cfg.Kafka.Topic, "booking.accepted")
	setDefault(&cfg.Kafka.GroupID, "booking-service")
	setDefault(&cfg.Log.Level, "info")

	setDefault(&cfg.Gateway.HTTPAddr, ":8000")
	setDefault(&cfg.Gateway.BookingURL, "http://localhost:8080")
	setDefault(&cfg.Gateway.EstimateURL, "http://localhost:8081")
	if cfg.Gateway.RateLimits == nil {
		cfg.Gateway.RateLimits = map[string]RateBudget{
			"request": {Rate: 0.2, Burst: 3},
			"poll":    {Rate: 2, Burst: 10},
			"default": {Rate: 5, Burst: 20},
		}
	}

	setDefault(&cfg.Location.GRPCAddr, ":9090")
	setDefault(&cfg.Location.HTTPAddr, ":8081")
	if cfg.Location.MaxAgeSeconds <= 0 {
		cfg.Location.MaxAgeSeconds = 30
	}

	setDefault(&cfg.Client.BaseURL, "http://localhost:8000")
	if cfg.Client.PollIntervalMS <= 0 {
		cfg.Client.PollIntervalMS = 2000
	}
}

func (c Config) validate() error {
	switch c.Booking.Store {
	case "memory", "redis", "mongo":
	default:
		return fmt.Errorf("config: unknown booking store %q", c.Booking.Store)
	}
	if c.Booking.Store == "redis" && c.Redis.Addr == "" {
		return errors.New("config: redis store requires redis addr")
	}
	if c.Booking.Store == "mongo" && c.Mongo.URI == "" {
		return errors.New("config: mongo store requires mongo uri")
	}
	if c.Client.MaxAttempts < 0 || c.Client.TimeoutSeconds < 0 {
		return errors.New("config: client bounds must not be negative")
	}
	if c.Client.BackoffMultiplier != 0 && c.Client.BackoffMultiplier < 1 {
		return errors.New("config: client backoff multiplier must be >= 1")
	}
	return nil
}

// OutboxPoll is the outbox worker poll interval.
func (p PostgresConfig) OutboxPoll() time.Duration {
	return time.Duration(p.OutboxPollMS) * time.Millisecond
}

func (r RedisConfig) IdempotencyWindow() time.Duration {
	return time.Duration(r.IdempotencyTTL) * time.Second
}

func (l LocationConfig) MaxAge() time.Duration {
	return time.Duration(l.MaxAgeSeconds) * time.Second
}

func (c ClientConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c ClientConfig) MaxInterval() time.Duration {
	return time.Duration(c.MaxIntervalMS) * time.Millisecond
}

func setDefault(field *string, fallback string) {
	if *field == "" {
		*field = fallback
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseIntEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseFloatEnv(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseBoolEnv(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return fallback
}
