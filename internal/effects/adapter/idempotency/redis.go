package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"restaurant-ops/internal/effects/app/core"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "effect:"

// Redis shares effect keys between workers. A pending claim expires after
// lease so a crashed worker does not block the effect forever.
type Redis struct {
	rdb   redis.UniversalClient
	lease time.Duration
	ttl   time.Duration
}

func NewRedis(rdb redis.UniversalClient, lease, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, lease: lease, ttl: ttl}
}

func (r *Redis) Begin(ctx context.Context, key string) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, keyPrefix+key, statePending, r.lease).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	if ok {
		return true, nil
	}

	state, err := r.rdb.Get(ctx, keyPrefix+key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// expired between the two calls
		return r.Begin(ctx, key)
	case err != nil:
		return false, fmt.Errorf("read %s: %w", key, err)
	case state == stateDone:
		return false, nil
	}
	return false, core.ErrInProgress
}

func (r *Redis) Complete(ctx context.Context, key string) error {
	return r.rdb.Set(ctx, keyPrefix+key, stateDone, r.ttl).Err()
}

func (r *Redis) Abort(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, keyPrefix+key).Err()
}

func (r *Redis) Done(ctx context.Context, key string) (bool, error) {
	state, err := r.rdb.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return state == stateDone, nil
}
