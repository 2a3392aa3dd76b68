package distributed

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisClient(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // test DB
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available:", err)
	}

	client.FlushDB(ctx)

	return client
}

func TestRedisLock_AcquireAndRelease(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	manager := NewRedisLockManager(client)
	ctx := context.Background()

	lock, err := manager.AcquireLock(ctx, "test:lock", "instance1", 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, lock)

	// Second acquisition of the same key must fail
	lock2, err := manager.AcquireLock(ctx, "test:lock", "instance2", 5*time.Second)
	assert.Error(t, err)
	assert.Equal(t, ErrLockNotAcquired, err)
	assert.Nil(t, lock2)

	err = lock.Release(ctx)
	assert.NoError(t, err)

	// Re-acquirable after release
	lock3, err := manager.AcquireLock(ctx, "test:lock", "instance3", 5*time.Second)
	assert.NoError(t, err)
	assert.NotNil(t, lock3)
	defer lock3.Release(ctx)
}

func TestRedisLock_AutoExpire(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	manager := NewRedisLockManager(client)
	ctx := context.Background()

	lock, err := manager.AcquireLock(ctx, "test:expire", "instance1", 1*time.Second)
	require.NoError(t, err)
	require.NotNil(t, lock)

	held, err := lock.IsHeld(ctx)
	assert.NoError(t, err)
	assert.True(t, held)

	// Wait past the TTL
	time.Sleep(1500 * time.Millisecond)

	held, err = lock.IsHeld(ctx)
	assert.NoError(t, err)
	assert.False(t, held)

	// Releasing an expired lock reports it is no longer held
	err = lock.Release(ctx)
	assert.Equal(t, ErrLockNotHeld, err)

	// Another instance can take over after expiry
	lock2, err := manager.AcquireLock(ctx, "test:expire", "instance2", 5*time.Second)
	assert.NoError(t, err)
	assert.NotNil(t, lock2)
	defer lock2.Release(ctx)
}

func TestRedisLock_OwnerOnlyRelease(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	manager := NewRedisLockManager(client)
	ctx := context.Background()

	lock, err := manager.AcquireLock(ctx, "test:owner", "instance1", 5*time.Second)
	require.NoError(t, err)

	// Overwrite the key as if another instance took over
	require.NoError(t, client.Set(ctx, "test:owner", "instance2", 5*time.Second).Err())

	// The original holder must not delete the new owner's lock
	err = lock.Release(ctx)
	assert.Equal(t, ErrLockNotHeld, err)

	value, err := client.Get(ctx, "test:owner").Result()
	require.NoError(t, err)
	assert.Equal(t, "instance2", value)
}

func TestRedisLock_TryLockWithRetry(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	manager := NewRedisLockManager(client)
	ctx := context.Background()

	// Hold the lock with a short TTL, then retry until it expires
	lock, err := manager.AcquireLock(ctx, "test:retry", "instance1", 300*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, lock)

	lock2, err := manager.TryLockWithRetry(ctx, "test:retry", "instance2",
		5*time.Second, 5, 150*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, lock2)
	defer lock2.Release(ctx)

	// Exhausting retries while the lock is held returns ErrLockNotAcquired
	_, err = manager.TryLockWithRetry(ctx, "test:retry", "instance3",
		5*time.Second, 2, 20*time.Millisecond)
	assert.Equal(t, ErrLockNotAcquired, err)
}
