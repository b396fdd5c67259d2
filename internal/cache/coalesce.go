package cache

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"kumascript/internal/common/errors"
	"kumascript/internal/common/logging"
	"kumascript/internal/locks"
	"kumascript/internal/suspend"
)

// ComputeFunc produces the value for a missed key
type ComputeFunc func(ctx context.Context) (interface{}, error)

// Locker serializes computations for the same key across processes
type Locker interface {
	AcquireLock(ctx context.Context, key string, expiration time.Duration) (locks.Lock, error)
}

// Coalescer provides read-through caching where at most one computation per
// key is in flight in this process. With a Locker it also holds a
// distributed lock around the computation so other processes sharing the
// backend wait for the stored value instead of recomputing it.
type Coalescer struct {
	client  Client
	group   singleflight.Group
	locker  Locker
	lockTTL time.Duration
	logger  logging.Logger
}

// CoalescerOption configures a Coalescer
type CoalescerOption func(*Coalescer)

// WithLocker enables distributed locking around computations.
func WithLocker(locker Locker, lockTTL time.Duration) CoalescerOption {
	return func(c *Coalescer) {
		c.locker = locker
		c.lockTTL = lockTTL
	}
}

// WithLogger sets the logger used to report degraded cache I/O.
func WithLogger(logger logging.Logger) CoalescerOption {
	return func(c *Coalescer) {
		c.logger = logger
	}
}

// NewCoalescer wraps client. A nil client falls back to NewMemory().
func NewCoalescer(client Client, opts ...CoalescerOption) *Coalescer {
	if client == nil {
		client = NewMemory()
	}
	c := &Coalescer{
		client:  client,
		lockTTL: 30 * time.Second,
		logger:  logging.GetGlobalLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Client returns the wrapped cache client
func (c *Coalescer) Client() Client {
	return c.client
}

// errAbandoned marks a flight whose first caller stopped waiting before the
// value was computed. Other callers retry rather than inherit the failure.
var errAbandoned = stderrors.New("computation abandoned by its caller")

type computeResult struct {
	value interface{}
	err   error
}

// GetOrCompute returns the cached value for key, or runs compute, stores its
// result for ttl and returns it. Concurrent callers for the same key share
// one computation, which runs on the goroutine of the caller that started
// it. Every caller waits only as long as its own ctx allows and receives
// its own copy of the value. A failed computation is returned to every
// waiter and nothing is stored.
func (c *Coalescer) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) (interface{}, error) {
	for {
		if value, found := c.lookup(ctx, key); found {
			return Snapshot(value)
		}

		value, err := c.flight(ctx, key, ttl, compute)
		if err != nil {
			if stderrors.Is(err, errAbandoned) && ctx.Err() == nil {
				continue
			}
			return nil, err
		}
		return Snapshot(value)
	}
}

// flight joins or starts the computation for key. The singleflight call
// does the cache and lock I/O; compute itself is handed back to the
// starting caller through jobs.
func (c *Coalescer) flight(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) (interface{}, error) {
	jobs := make(chan chan computeResult)
	gone := make(chan struct{})
	defer close(gone)

	ch := c.group.DoChan(key, func() (result interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.InternalError(fmt.Sprintf("cache compute for %q panicked: %v", key, r), nil)
			}
		}()

		fillCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.lockTTL)
		defer cancel()

		return c.fill(fillCtx, key, ttl, func() (interface{}, error) {
			reply := make(chan computeResult, 1)
			select {
			case jobs <- reply:
			case <-gone:
				return nil, abandoned(key, ctx.Err())
			}
			res := <-reply
			return res.value, res.err
		})
	})

	for {
		select {
		case res := <-ch:
			return res.Val, res.Err
		case reply := <-jobs:
			value, err := runCompute(ctx, key, compute)
			if err != nil && ctx.Err() != nil {
				err = abandoned(key, err)
			}
			reply <- computeResult{value: value, err: err}
		case <-ctx.Done():
			return nil, errors.TimeoutError(fmt.Sprintf("cacheFn %q", key), ctx.Err())
		}
	}
}

// fill re-checks the cache, takes the distributed lock when configured,
// computes and stores a snapshot of the value.
func (c *Coalescer) fill(ctx context.Context, key string, ttl time.Duration, compute func() (interface{}, error)) (interface{}, error) {
	// A previous flight may have stored the value after our lookup.
	if value, found := c.lookup(ctx, key); found {
		return value, nil
	}

	if c.locker != nil {
		lock, lockErr := c.locker.AcquireLock(ctx, "cachefn:"+key, c.lockTTL)
		if lockErr != nil {
			c.logger.WithContext(ctx).Warn("Computing without distributed lock",
				logging.String("key", key),
				logging.Err(lockErr),
			)
		} else {
			defer lock.Release(context.Background())
			if value, found := c.lookup(ctx, key); found {
				return value, nil
			}
		}
	}

	value, err := compute()
	if err != nil {
		return nil, err
	}

	stored, err := Snapshot(value)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, stored, ttl)
	return stored, nil
}

func runCompute(ctx context.Context, key string, compute ComputeFunc) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.InternalError(fmt.Sprintf("cache compute for %q panicked: %v", key, r), nil)
		}
	}()
	return compute(ctx)
}

func abandoned(key string, cause error) error {
	return errors.TimeoutError(fmt.Sprintf("cacheFn %q", key), fmt.Errorf("%w: %w", errAbandoned, cause))
}

func (c *Coalescer) lookup(ctx context.Context, key string) (interface{}, bool) {
	type hit struct {
		value interface{}
		found bool
	}

	h, err := suspend.Run(ctx, "cache get", func(ctx context.Context) (hit, error) {
		value, found, err := c.client.Get(ctx, key)
		return hit{value: value, found: found}, err
	})
	if err != nil {
		c.logger.WithContext(ctx).Warn("Cache get failed, treating as miss",
			logging.String("key", key),
			logging.Err(err),
		)
		return nil, false
	}
	return h.value, h.found
}

func (c *Coalescer) store(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	_, err := suspend.Run(ctx, "cache set", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.client.Set(ctx, key, value, ttl)
	})
	if err != nil {
		c.logger.WithContext(ctx).Warn("Cache set failed, value not stored",
			logging.String("key", key),
			logging.Err(err),
		)
	}
}
