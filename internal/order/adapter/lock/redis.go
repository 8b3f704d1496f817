package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"restaurant-ops/internal/lifecycle"
	"restaurant-ops/internal/xpkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix    = "lock:"
	pollInterval = 20 * time.Millisecond
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis serializes an order across service instances with SET NX PX.
// ttl bounds how long a crashed holder can keep the key.
type Redis struct {
	rdb   redis.UniversalClient
	ttl   time.Duration
	mylog logger.Logger
}

func NewRedis(rdb redis.UniversalClient, ttl time.Duration, mylog logger.Logger) *Redis {
	return &Redis{rdb: rdb, ttl: ttl, mylog: mylog}
}

func (r *Redis) Acquire(ctx context.Context, key string, wait time.Duration) (func(), error) {
	token := uuid.NewString()
	redisKey := keyPrefix + key
	deadline := time.Now().Add(wait)

	for {
		ok, err := r.rdb.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: lock %s not acquired within %s", lifecycle.ErrBusy, key, wait)
		}
		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", lifecycle.ErrBusy, ctx.Err())
		}
	}

	return func() {
		// the caller's ctx may already be cancelled
		relCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := releaseScript.Run(relCtx, r.rdb, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			r.mylog.Action("lock_release_failed").Error("Failed to release order lock", err, "key", key)
		}
	}, nil
}
