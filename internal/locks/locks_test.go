package locks

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kumascript/internal/redis"
)

func setupManager(t *testing.T, opts ...Option) (*Manager, *miniredis.Miniredis) {
	s, err := miniredis.Run()
	require.NoError(t, err)

	redisClient, err := redis.NewClient(&redis.Config{Address: s.Addr()})
	require.NoError(t, err)

	manager, err := NewManager(redisClient, opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		manager.Close()
		redisClient.Close()
		s.Close()
	})
	return manager, s
}

func TestNewManager_RequiresClient(t *testing.T) {
	manager, err := NewManager(nil)
	assert.Error(t, err)
	assert.Nil(t, manager)
}

func TestManager_AcquireLock(t *testing.T) {
	manager, s := setupManager(t, WithTries(2))
	ctx := context.Background()

	t.Run("acquire and release", func(t *testing.T) {
		lock, err := manager.AcquireLock(ctx, "cache:kuma:a", 30*time.Second)
		require.NoError(t, err)

		assert.Equal(t, "cache:kuma:a", lock.Key())
		assert.True(t, lock.IsHeld())
		assert.True(t, s.Exists("lock:cache:kuma:a"))
		assert.Equal(t, 1, manager.Held())

		require.NoError(t, lock.Release(ctx))
		assert.False(t, lock.IsHeld())
		assert.False(t, s.Exists("lock:cache:kuma:a"))
		assert.Equal(t, 0, manager.Held())

		assert.NoError(t, lock.Release(ctx))
	})

	t.Run("contention", func(t *testing.T) {
		first, err := manager.AcquireLock(ctx, "contended", 30*time.Second)
		require.NoError(t, err)
		defer first.Release(ctx)

		shortCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		defer cancel()

		second, err := manager.AcquireLock(shortCtx, "contended", 30*time.Second)
		assert.Error(t, err)
		assert.Nil(t, second)
	})

	t.Run("reacquire after release", func(t *testing.T) {
		first, err := manager.AcquireLock(ctx, "handoff", 30*time.Second)
		require.NoError(t, err)
		require.NoError(t, first.Release(ctx))

		second, err := manager.AcquireLock(ctx, "handoff", 30*time.Second)
		require.NoError(t, err)
		assert.NoError(t, second.Release(ctx))
	})
}

func TestManager_MutualExclusion(t *testing.T) {
	manager, _ := setupManager(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		inside  atomic.Int32
		overlap atomic.Bool
	)

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lock, err := manager.AcquireLock(ctx, "exclusive", 10*time.Second)
			if err != nil {
				return
			}
			if inside.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(20 * time.Millisecond)
			inside.Add(-1)
			lock.Release(ctx)
		}()
	}
	wg.Wait()

	assert.False(t, overlap.Load())
}

func TestManager_Close(t *testing.T) {
	manager, s := setupManager(t)
	ctx := context.Background()

	a, err := manager.AcquireLock(ctx, "a", 30*time.Second)
	require.NoError(t, err)
	b, err := manager.AcquireLock(ctx, "b", 30*time.Second)
	require.NoError(t, err)

	require.NoError(t, manager.Close())

	assert.False(t, a.IsHeld())
	assert.False(t, b.IsHeld())
	assert.False(t, s.Exists("lock:a"))
	assert.False(t, s.Exists("lock:b"))
}
