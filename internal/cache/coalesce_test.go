package cache

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kumascript/internal/common/errors"
	"kumascript/internal/locks"
	kredis "kumascript/internal/redis"
)

func counting(calls *atomic.Int32, value interface{}, delay time.Duration) ComputeFunc {
	return func(ctx context.Context) (interface{}, error) {
		calls.Add(1)
		if delay > 0 {
			time.Sleep(delay)
		}
		return value, nil
	}
}

func TestCoalescer_SequentialCallsComputeOnce(t *testing.T) {
	ctx := context.Background()
	c := NewCoalescer(NewMemory())

	var calls atomic.Int32
	first, err := c.GetOrCompute(ctx, "k", time.Hour, counting(&calls, "v1", 0))
	require.NoError(t, err)
	second, err := c.GetOrCompute(ctx, "k", time.Hour, counting(&calls, "v2", 0))
	require.NoError(t, err)

	assert.Equal(t, "v1", first)
	assert.Equal(t, "v1", second)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCoalescer_ConcurrentMissesComputeOnce(t *testing.T) {
	ctx := context.Background()
	c := NewCoalescer(NewMemory())

	var (
		calls   atomic.Int32
		wg      sync.WaitGroup
		results = make([]interface{}, 10)
		start   = make(chan struct{})
	)

	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			v, err := c.GetOrCompute(ctx, "slow", time.Hour, counting(&calls, "computed", 50*time.Millisecond))
			if err == nil {
				results[i] = v
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, "computed", v)
	}
}

func TestCoalescer_DistinctKeysDoNotShare(t *testing.T) {
	ctx := context.Background()
	c := NewCoalescer(NewMemory())

	var calls atomic.Int32
	a, _ := c.GetOrCompute(ctx, "a", time.Hour, counting(&calls, "A", 0))
	b, _ := c.GetOrCompute(ctx, "b", time.Hour, counting(&calls, "B", 0))

	assert.Equal(t, "A", a)
	assert.Equal(t, "B", b)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCoalescer_ComputeErrorIsNotCached(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	c := NewCoalescer(mem)
	boom := stderrors.New("boom")

	_, err := c.GetOrCompute(ctx, "k", time.Hour, func(ctx context.Context) (interface{}, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, mem.Len())

	var calls atomic.Int32
	v, err := c.GetOrCompute(ctx, "k", time.Hour, counting(&calls, "ok", 0))
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCoalescer_ComputePanicBecomesError(t *testing.T) {
	c := NewCoalescer(nil)

	_, err := c.GetOrCompute(context.Background(), "k", time.Hour, func(ctx context.Context) (interface{}, error) {
		panic("bad compute")
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeInternal))
	assert.Contains(t, err.Error(), "bad compute")
}

type failingClient struct {
	sets atomic.Int32
}

func (f *failingClient) Get(ctx context.Context, key string) (interface{}, bool, error) {
	return nil, false, errors.CacheError("get", stderrors.New("backend down"))
}

func (f *failingClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	f.sets.Add(1)
	return errors.CacheError("set", stderrors.New("backend down"))
}

func (f *failingClient) Delete(ctx context.Context, key string) error { return nil }

func (f *failingClient) Health(ctx context.Context) error { return stderrors.New("backend down") }

func TestCoalescer_BackendFailureDegradesToMiss(t *testing.T) {
	backend := &failingClient{}
	c := NewCoalescer(backend)

	var calls atomic.Int32
	v, err := c.GetOrCompute(context.Background(), "k", time.Hour, counting(&calls, "fresh", 0))
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), backend.sets.Load())
	assert.Same(t, backend, c.Client())
}

func TestCoalescer_StoresWithTTL(t *testing.T) {
	rdb, mr := setupRedis(t)
	c := NewCoalescer(NewRedis(rdb, "p:"))

	v, err := c.GetOrCompute(context.Background(), "k", 90*time.Second, func(ctx context.Context) (interface{}, error) {
		return []interface{}{"a", "b"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a", "b"}, v)
	assert.Equal(t, 90*time.Second, mr.TTL("p:k"))
}

func TestCoalescer_WithDistributedLock(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	redisClient, err := kredis.NewClient(&kredis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	defer redisClient.Close()

	manager, err := locks.NewManager(redisClient)
	require.NoError(t, err)
	defer manager.Close()

	backend := NewRedis(redisClient.GetGoRedisClient(), "lk:")

	// Two coalescers model two processes sharing one Redis.
	first := NewCoalescer(backend, WithLocker(manager, 5*time.Second))
	second := NewCoalescer(backend, WithLocker(manager, 5*time.Second))

	var (
		calls atomic.Int32
		wg    sync.WaitGroup
	)
	for _, c := range []*Coalescer{first, second} {
		wg.Add(1)
		go func(c *Coalescer) {
			defer wg.Done()
			_, _ = c.GetOrCompute(context.Background(), "shared", time.Hour, counting(&calls, "v", 100*time.Millisecond))
		}(c)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 0, manager.Held())
	assert.False(t, mr.Exists("lock:cachefn:shared"))
}

func TestCoalescer_DeadlineDuringCompute(t *testing.T) {
	c := NewCoalescer(NewMemory())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.GetOrCompute(ctx, "k", time.Hour, func(ctx context.Context) (interface{}, error) {
		<-ctx.Done()
		return nil, errors.TimeoutError("compute", ctx.Err())
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeTimeout))
}

func TestCoalescer_CallersReceiveCopies(t *testing.T) {
	ctx := context.Background()
	c := NewCoalescer(NewMemory())

	first, err := c.GetOrCompute(ctx, "cfg", time.Hour, func(ctx context.Context) (interface{}, error) {
		return map[string]interface{}{"mode": "safe", "tags": []interface{}{"a"}}, nil
	})
	require.NoError(t, err)
	first.(map[string]interface{})["mode"] = "changed"
	first.(map[string]interface{})["tags"].([]interface{})[0] = "z"

	second, err := c.GetOrCompute(ctx, "cfg", time.Hour, counting(new(atomic.Int32), nil, 0))
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"mode": "safe", "tags": []interface{}{"a"}}, second)
}

func TestCoalescer_UnserializableValueIsNotStored(t *testing.T) {
	mem := NewMemory()
	c := NewCoalescer(mem)

	_, err := c.GetOrCompute(context.Background(), "fn", time.Hour, func(ctx context.Context) (interface{}, error) {
		return map[string]interface{}{"f": func() {}}, nil
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	assert.Equal(t, 0, mem.Len())
}

func TestCoalescer_WaiterHonoursOwnDeadline(t *testing.T) {
	c := NewCoalescer(NewMemory())
	started := make(chan struct{})
	release := make(chan struct{})
	leaderDone := make(chan struct{})

	go func() {
		defer close(leaderDone)
		_, _ = c.GetOrCompute(context.Background(), "slow", time.Hour, func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return "late", nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	begin := time.Now()
	_, err := c.GetOrCompute(ctx, "slow", time.Hour, counting(new(atomic.Int32), "waiter", 0))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeTimeout))
	assert.Less(t, time.Since(begin), time.Second)

	close(release)
	<-leaderDone
}

func TestCoalescer_CancelledLeaderDoesNotFailWaiters(t *testing.T) {
	c := NewCoalescer(NewMemory())
	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	started := make(chan struct{})
	leaderErr := make(chan error, 1)

	go func() {
		_, err := c.GetOrCompute(leaderCtx, "k", time.Hour, func(ctx context.Context) (interface{}, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		})
		leaderErr <- err
	}()
	<-started

	type outcome struct {
		value interface{}
		err   error
	}
	waiter := make(chan outcome, 1)
	var calls atomic.Int32
	go func() {
		v, err := c.GetOrCompute(context.Background(), "k", time.Hour, counting(&calls, "fresh", 0))
		waiter <- outcome{v, err}
	}()

	// Let the waiter join the flight before its first caller goes away.
	time.Sleep(20 * time.Millisecond)
	cancelLeader()

	require.Error(t, <-leaderErr)

	select {
	case got := <-waiter:
		require.NoError(t, got.err)
		assert.Equal(t, "fresh", got.value)
		assert.Equal(t, int32(1), calls.Load())
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never finished")
	}
}
