package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// REDIS LOCKER
// =============================================================================

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type Redis struct {
	client *redis.Client
	prefix string
	log    logrus.FieldLogger
}

// NewRedis parses a redis:// URL and pings the server.
func NewRedis(ctx context.Context, url string, log logrus.FieldLogger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{client: client, prefix: "lock:", log: log}, nil
}

func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	k := r.prefix + key

	ok, err := r.client.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, generic.ErrLockHeld
	}

	return func() {
		// Release with a fresh context: the caller's may already be done.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, r.client, []string{k}, token).Err(); err != nil && err != redis.Nil {
			r.log.WithError(err).WithField("key", key).Warn("lock release failed")
		}
	}, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
