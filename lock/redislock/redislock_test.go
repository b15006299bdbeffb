//go:build integration

package redislock_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	"github.com/warp/eggstand/lock/redislock"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestLocker_MutualExclusion(t *testing.T) {
	// GIVEN: two lockers sharing one redis, as two server instances would
	client := startRedis(t)
	a := redislock.NewWithClient(client, 5*time.Second, nil)
	b := redislock.NewWithClient(client, 5*time.Second, nil)

	var inside, maxInside int32
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(context.Background())

	// WHEN: both hammer the same key
	for i := 0; i < 20; i++ {
		l := a
		if i%2 == 1 {
			l = b
		}
		g.Go(func() error {
			unlock, err := l.Lock(ctx, "O1")
			if err != nil {
				return err
			}
			n := atomic.AddInt32(&inside, 1)
			mu.Lock()
			if n > maxInside {
				maxInside = n
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
			return nil
		})
	}

	// THEN: at most one holder at a time
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), maxInside)
}

func TestLocker_ContextCancelWhileWaiting(t *testing.T) {
	client := startRedis(t)
	l := redislock.NewWithClient(client, 5*time.Second, nil)

	unlock, err := l.Lock(context.Background(), "O1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "O1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocker_ExpiredLockIsNotStolenBack(t *testing.T) {
	// GIVEN: a lock that expires while still "held"
	client := startRedis(t)
	l := redislock.NewWithClient(client, 100*time.Millisecond, nil)

	staleUnlock, err := l.Lock(context.Background(), "O1")
	require.NoError(t, err)
	time.Sleep(200 * time.Millisecond)

	// WHEN: someone else takes it and the stale holder unlocks
	freshUnlock, err := l.Lock(context.Background(), "O1")
	require.NoError(t, err)
	staleUnlock()

	// THEN: the fresh holder's key survives
	n, err := client.Exists(context.Background(), "eggstand:lock:order:O1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	freshUnlock()
}
