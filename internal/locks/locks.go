// Package locks provides cross-instance locks on cache keys so that a
// cacheFn computation runs once per key across every rendering process
// sharing a Redis instance. Locks use the Redlock implementation from
// go-redsync and are renewed in the background while held.
package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"

	"kumascript/internal/common/errors"
	"kumascript/internal/redis"
)

// Lock is a held distributed lock
type Lock interface {
	Key() string
	Release(ctx context.Context) error
	IsHeld() bool
}

// Manager hands out Redlock mutexes keyed by cache key.
type Manager struct {
	redsync *redsync.Redsync
	tries   int

	mu   sync.Mutex
	held map[*redsyncLock]struct{}
}

type redsyncLock struct {
	mutex      *redsync.Mutex
	key        string
	expiration time.Duration
	ctx        context.Context
	cancel     context.CancelFunc
	manager    *Manager
	once       sync.Once
}

// Option configures a Manager
type Option func(*Manager)

// WithTries bounds how many times acquisition is attempted before giving up.
func WithTries(tries int) Option {
	return func(m *Manager) {
		if tries > 0 {
			m.tries = tries
		}
	}
}

// NewManager creates a lock manager on top of a connected Redis client.
func NewManager(redisClient *redis.Client, opts ...Option) (*Manager, error) {
	if redisClient == nil {
		return nil, errors.ConfigError("redis client is required")
	}

	pool := goredis.NewPool(redisClient.GetGoRedisClient())

	m := &Manager{
		redsync: redsync.New(pool),
		tries:   32,
		held:    make(map[*redsyncLock]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// AcquireLock blocks until the lock for key is held, ctx is done or the
// retry budget is exhausted.
func (m *Manager) AcquireLock(ctx context.Context, key string, expiration time.Duration) (Lock, error) {
	mutex := m.redsync.NewMutex(
		fmt.Sprintf("lock:%s", key),
		redsync.WithExpiry(expiration),
		redsync.WithTries(m.tries),
	)

	if err := mutex.LockContext(ctx); err != nil {
		return nil, errors.InternalError("failed to acquire distributed lock", err).WithContext("key", key)
	}

	lockCtx, cancel := context.WithCancel(context.Background())
	lock := &redsyncLock{
		mutex:      mutex,
		key:        key,
		expiration: expiration,
		ctx:        lockCtx,
		cancel:     cancel,
		manager:    m,
	}

	m.mu.Lock()
	m.held[lock] = struct{}{}
	m.mu.Unlock()

	go lock.renew()

	return lock, nil
}

// Close releases every lock still held through this manager.
func (m *Manager) Close() error {
	m.mu.Lock()
	locks := make([]*redsyncLock, 0, len(m.held))
	for l := range m.held {
		locks = append(locks, l)
	}
	m.mu.Unlock()

	for _, l := range locks {
		l.release()
	}
	return nil
}

// Held reports how many locks are currently held through this manager.
func (m *Manager) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.held)
}

func (l *redsyncLock) renew() {
	interval := l.expiration / 3
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			ok, err := l.mutex.ExtendContext(ctx)
			cancel()

			if err != nil || !ok {
				l.release()
				return
			}
		}
	}
}

func (l *redsyncLock) release() error {
	var err error
	l.once.Do(func() {
		l.cancel()

		l.manager.mu.Lock()
		delete(l.manager.held, l)
		l.manager.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, unlockErr := l.mutex.UnlockContext(ctx); unlockErr != nil {
			err = errors.InternalError("failed to release distributed lock", unlockErr).WithContext("key", l.key)
		}
	})
	return err
}

func (l *redsyncLock) Key() string {
	return l.key
}

// Release unlocks in Redis and stops renewal. Releasing twice is a no-op.
func (l *redsyncLock) Release(ctx context.Context) error {
	return l.release()
}

func (l *redsyncLock) IsHeld() bool {
	select {
	case <-l.ctx.Done():
		return false
	default:
		return true
	}
}
