// Package redislock implements fulfillment.Locker on Redis so that
// several server instances serialize mutations of the same order.
package redislock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/eggstand/config"
	"github.com/warp/eggstand/fulfillment"
)

const keyPrefix = "eggstand:lock:order:"

// releaseScript deletes the key only if it still holds our token, so an
// expired lock taken over by another instance is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker holds one SET NX PX key per locked order.
type Locker struct {
	client redis.UniversalClient
	ttl    time.Duration
	log    *zap.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
}

var _ fulfillment.Locker = (*Locker)(nil)

// New connects to Redis and verifies the connection.
func New(cfg config.RedisConfig, log *zap.Logger) (*Locker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewWithClient(client, cfg.LockTTL, log), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, ttl time.Duration, log *zap.Logger) *Locker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Locker{
		client:     client,
		ttl:        ttl,
		log:        log.Named("redislock"),
		minBackoff: 10 * time.Millisecond,
		maxBackoff: 200 * time.Millisecond,
	}
}

// Lock polls until the key is acquired or ctx is done. The lock expires
// after the configured TTL even if unlock is never called.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := keyPrefix + key
	token := uuid.NewString()
	backoff := l.minBackoff

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
		backoff = min(backoff*2, l.maxBackoff)
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(redisKey, token) })
	}, nil
}

func (l *Locker) release(redisKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
		l.log.Warn("release lock failed", zap.String("key", redisKey), zap.Error(err))
	}
}

// Close closes the underlying client.
func (l *Locker) Close() error {
	return l.client.Close()
}
