package lock

import (
	"context"
	"errors"
	"time"

	"github.com/firewatch/dashboard/internal/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

const keyPrefix = "firewatch:lock:"

// RedisLocker shares the lock between replicas. A holder that dies keeps
// the key until the TTL expires.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl, retry: 25 * time.Millisecond}
}

// WithRetryInterval sets how often a waiting caller polls the key
func (r *RedisLocker) WithRetryInterval(d time.Duration) *RedisLocker {
	r.retry = d
	return r
}

func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	if r.client == nil {
		return nil, errors.New("redis client not initialized")
	}
	if r.ttl <= 0 {
		return nil, errors.New("ttl must be > 0")
	}

	redisKey := keyPrefix + key
	token := uuid.NewString()
	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	return func() {
		// release must outlive a cancelled caller context
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.client.Eval(releaseCtx, releaseScript, []string{redisKey}, token).Err(); err != nil {
			logger.Warn().Err(err).Str("key", key).Msg("Failed to release redis lock")
		}
	}, nil
}
