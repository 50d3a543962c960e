package locks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/wolfman30/rehab-clinic-platform/pkg/logging"
)

// releaseScript deletes the key only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker takes SET NX PX locks so several API replicas serialize on the same key.
type RedisLocker struct {
	client    *redis.Client
	ttl       time.Duration
	retry     time.Duration
	maxWait   time.Duration
	keyPrefix string
	logger    *logging.Logger
}

func NewRedisLocker(client *redis.Client, ttl time.Duration, logger *logging.Logger) *RedisLocker {
	if client == nil {
		panic("locks: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisLocker{
		client:    client,
		ttl:       ttl,
		retry:     25 * time.Millisecond,
		maxWait:   ttl,
		keyPrefix: "lock:",
		logger:    logger,
	}
}

// WithMaxWait bounds how long Acquire polls for a held lock.
func (l *RedisLocker) WithMaxWait(d time.Duration) *RedisLocker {
	if d > 0 {
		l.maxWait = d
	}
	return l
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := l.keyPrefix + key
	token := uuid.NewString()

	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(waitCtx, redisKey, token, l.ttl).Result()
		if err != nil && waitCtx.Err() == nil {
			return nil, fmt.Errorf("locks: redis setnx %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-waitCtx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, waitCtx.Err())
		case <-ticker.C:
		}
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		// The caller's context may already be done; release on a fresh one.
		relCtx, relCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer relCancel()
		if err := releaseScript.Run(relCtx, l.client, []string{redisKey}, token).Err(); err != nil {
			l.logger.Warn("locks: release failed", "key", key, "error", err)
		}
	}, nil
}
