package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Traffic classes with separate budgets. Status polls are frequent and cheap,
// ride requests are rare and write to the store.
const (
	ClassRequest = "request"
	ClassPoll    = "poll"
	ClassDefault = "default"
)

var rateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gateway_rate_limited_total",
	Help: "Requests rejected by the gateway rate limiter grouped by class.",
}, []string{"class"})

type RateConfig struct {
	Rate  float64
	Burst float64
}

// Classifier maps a request onto a traffic class.
type Classifier func(r *http.Request) string

// BookingClassifier recognises booking creation and status polling.
func BookingClassifier(r *http.Request) string {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/booking/request":
		return ClassRequest
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/booking/status/"):
		return ClassPoll
	default:
		return ClassDefault
	}
}

type RateLimiter struct {
	client    *redis.Client
	budgets   map[string]RateConfig
	classify  Classifier
	luaScript *redis.Script
	logger    *zap.Logger
	now       func() time.Time
}

// NewRateLimiter returns nil when client is nil, which disables limiting.
func NewRateLimiter(client *redis.Client, budgets map[string]RateConfig, classify Classifier, logger *zap.Logger) *RateLimiter {
	if client == nil {
		return nil
	}
	if classify == nil {
		classify = BookingClassifier
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		client:    client,
		budgets:   budgets,
		classify:  classify,
		luaScript: redis.NewScript(tokenBucketLua),
		logger:    logger.Named("ratelimit"),
		now:       time.Now,
	}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil || len(l.budgets) == 0 {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		class := l.classify(r)
		cfg, ok := l.budgets[class]
		if !ok {
			cfg, ok = l.budgets[ClassDefault]
		}
		if !ok || cfg.Rate <= 0 || cfg.Burst <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		identifier := clientIdentifier(r)
		if identifier == "" {
			identifier = "anonymous"
		}
		allowed, retryAfter, err := l.allow(r.Context(), class, identifier, cfg)
		if err != nil {
			// Fail open: an unavailable Redis must not take the API down.
			l.logger.Warn("rate limit check failed", zap.String("class", class), zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		if !allowed {
			rateLimited.WithLabelValues(class).Inc()
			if retryAfter > 0 {
				w.Header().Set("Retry-After", formatRetryAfter(retryAfter))
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": http.StatusText(http.StatusTooManyRequests)})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) allow(ctx context.Context, class string, identifier string, cfg RateConfig) (bool, time.Duration, error) {
	key := strings.Join([]string{"rl", class, identifier}, ":")
	result, err := l.luaScript.Run(ctx, l.client, []string{key}, l.now().UnixMilli(), cfg.Rate, cfg.Burst, 1).Result()
	if err != nil {
		return false, 0, err
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 3 {
		return false, 0, errors.New("invalid redis response")
	}

	allowedInt, err := toInt64(values[0])
	if err != nil {
		return false, 0, err
	}
	waitSeconds, err := toFloat64(values[2])
	if err != nil {
		return false, 0, err
	}
	if allowedInt != 1 {
		return false, time.Duration(math.Ceil(waitSeconds*1000)) * time.Millisecond, nil
	}
	return true, 0, nil
}

func clientIdentifier(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Client-ID")); id != "" {
		return id
	}
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

func formatRetryAfter(d time.Duration) string {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

func toFloat64(v interface{}) (float64, error) {
	switch val := v.(type) {
	case int64:
		return float64(val), nil
	case float64:
		return val, nil
	case string:
		return strconv.ParseFloat(val, 64)
	default:
		return 0, errors.New("unsupported type")
	}
}

func toInt64(v interface{}) (int64, error) {
	switch val := v.(type) {
	case int64:
		return val, nil
	case float64:
		return int64(val), nil
	case string:
		return strconv.ParseInt(val, 10, 64)
	default:
		return 0, errors.New("unsupported type")
	}
}

// Lua numbers are truncated to integers in replies, so fractional values are
// returned as strings.
const tokenBucketLua = `
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local capacity = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

if rate <= 0 then
  return {1, tostring(capacity), "0"}
end

local state = redis.call('HMGET', key, 'tokens', 'timestamp')
local tokens = tonumber(state[1])
local last = tonumber(state[2])

if tokens == nil then
  tokens = capacity
end
if last == nil then
  last = now_ms
end

local delta = now_ms - last
if delta < 0 then
  delta = 0
end
local refill = delta * rate / 1000
if refill > 0 then
  tokens = math.min(capacity, tokens + refill)
  last = now_ms
end

local allowed = tokens >= requested
local wait = 0
if allowed then
  tokens = tokens - requested
else
  wait = (requested - tokens) / rate
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'timestamp', tostring(last))
local ttl = math.ceil((capacity / rate) * 1000)
redis.call('PEXPIRE', key, ttl)

if allowed then
  return {1, tostring(tokens), "0"}
else
  return {0, tostring(tokens), tostring(wait)}
end
`
