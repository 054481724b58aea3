package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/shego/internal/booking/domain"
)

const (
	defaultIdempotencyPrefix = "idem:booking:"
	// A claim outlives any sane create; it expires so a crashed holder
	// cannot block the key forever.
	defaultClaimTTL = 30 * time.Second
)

// RedisIdempotencyRepo keeps create responses in Redis with SET NX semantics so
// the first response written for a key wins across replicas. A TTL is attached
// to every key.
type RedisIdempotencyRepo struct {
	client    redis.Cmdable
	keyPrefix string
	ttl       time.Duration
	claimTTL  time.Duration
}

// NewRedisIdempotencyRepo constructs the repo. A zero ttl means 24h.
func NewRedisIdempotencyRepo(client redis.Cmdable, prefix string, ttl time.Duration) *RedisIdempotencyRepo {
	if prefix == "" {
		prefix = defaultIdempotencyPrefix
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisIdempotencyRepo{client: client, keyPrefix: prefix, ttl: ttl, claimTTL: defaultClaimTTL}
}

func (r *RedisIdempotencyRepo) claimKey(key string) string { return r.keyPrefix + "claim:" + key }

func (r *RedisIdempotencyRepo) GetResponse(ctx context.Context, key string) ([]byte, bool, error) {
	payload, err := r.client.Get(ctx, r.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: redis get idempotency: %v", domain.ErrStore, err)
	}
	return payload, true, nil
}

func (r *RedisIdempotencyRepo) PutResponse(ctx context.Context, key string, payload []byte) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, r.keyPrefix+key, payload, r.ttl)
		pipe.Del(ctx, r.claimKey(key))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: redis setnx idempotency: %v", domain.ErrStore, err)
	}
	return nil
}

// Claim takes the claim key with SET NX. A key that already has a stored
// response is never claimable.
func (r *RedisIdempotencyRepo) Claim(ctx context.Context, key string) (bool, error) {
	won, err := r.client.SetNX(ctx, r.claimKey(key), "in-progress", r.claimTTL).Result()
	if err != nil {
		return false, fmt.Errorf("%w: redis claim idempotency: %v", domain.ErrStore, err)
	}
	if !won {
		return false, nil
	}
	exists, err := r.client.Exists(ctx, r.keyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: redis claim idempotency: %v", domain.ErrStore, err)
	}
	if exists > 0 {
		_ = r.Release(ctx, key)
		return false, nil
	}
	return true, nil
}

func (r *RedisIdempotencyRepo) Release(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.claimKey(key)).Err(); err != nil {
		return fmt.Errorf("%w: redis release idempotency: %v", domain.ErrStore, err)
	}
	return nil
}
