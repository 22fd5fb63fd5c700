package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisLockManager is a LockManager backed by Redis, grounded on the same
// campaign-by-key shape as EtcdLockManager but using redislock's
// Redlock-style single-instance algorithm instead of etcd sessions/leases.
// It is the alternative coordination backend SPEC_FULL.md wires alongside
// etcd for deployments that already run Redis for caching.
type RedisLockManager struct {
	client *redis.Client
	locker *redislock.Client
	prefix string
	logger *zap.Logger

	mu    sync.Mutex
	infos map[string]*LockInfo
}

// NewRedisLockManager creates a manager scoped to keys under prefix.
func NewRedisLockManager(client *redis.Client, prefix string, opts *LockManagerOptions) *RedisLockManager {
	if opts == nil {
		opts = DefaultLockManagerOptions()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &RedisLockManager{
		client: client,
		locker: redislock.New(client),
		prefix: strings.TrimSuffix(prefix, ":") + ":locks:",
		logger: opts.Logger,
		infos:  make(map[string]*LockInfo),
	}
}

func (m *RedisLockManager) fullKey(key string) string {
	return m.prefix + key
}

// NewLock creates a new RedisLock for key. The lock is not acquired yet.
// A zero opts.TTL gives the lock a 30s TTL; this manager does not keep or
// read LockManagerOptions.TTL.
func (m *RedisLockManager) NewLock(key string, opts *LockOptions) DistributedLock {
	if opts == nil {
		opts = DefaultLockOptions()
	}
	ttl := opts.TTL
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	return &RedisLock{
		manager: m,
		key:     key,
		fullKey: m.fullKey(key),
		ttl:     ttl,
		options: opts,
		logger:  m.logger.With(zap.String("lock_key", key)),
		done:    make(chan struct{}),
	}
}

// GetLockInfo reports the holder last recorded by this manager instance for
// key. Redis does not expose lock metadata the way etcd's key/value store
// does, so this reflects only locks acquired through this process.
func (m *RedisLockManager) GetLockInfo(ctx context.Context, key string) (*LockInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.infos[key]
	if !ok {
		return nil, NewLockError(ErrCodeNotFound, fmt.Sprintf("锁不存在: %s", key), nil)
	}
	return info, nil
}

func (m *RedisLockManager) ListLocks(ctx context.Context, prefix string) ([]*LockInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*LockInfo
	for k, info := range m.infos {
		if strings.HasPrefix(k, prefix) {
			out = append(out, info)
		}
	}
	return out, nil
}

// ForceUnlock deletes the backing redis key directly, bypassing the
// ownership token redislock normally requires.
func (m *RedisLockManager) ForceUnlock(ctx context.Context, key string) error {
	if err := m.client.Del(ctx, m.fullKey(key)).Err(); err != nil {
		return NewLockError(ErrCodeInternal, "强制释放锁失败", err)
	}
	m.mu.Lock()
	delete(m.infos, key)
	m.mu.Unlock()
	return nil
}

func (m *RedisLockManager) Close() error {
	return m.client.Close()
}

func (m *RedisLockManager) recordAcquired(key, owner string) {
	m.mu.Lock()
	m.infos[key] = &LockInfo{Key: key, Owner: owner, CreateTime: time.Now()}
	m.mu.Unlock()
}

func (m *RedisLockManager) recordReleased(key string) {
	m.mu.Lock()
	delete(m.infos, key)
	m.mu.Unlock()
}

// RedisLock is a DistributedLock held via redislock.Lock, optionally
// auto-renewed in the background while held (LockOptions.AutoRenew).
type RedisLock struct {
	manager *RedisLockManager
	key     string
	fullKey string
	ttl     time.Duration
	options *LockOptions
	logger  *zap.Logger

	mu      sync.Mutex
	handle  *redislock.Lock
	locked  bool
	done    chan struct{}
	stopRen context.CancelFunc
}

func (l *RedisLock) GetLockKey() string { return l.key }

func (l *RedisLock) IsLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked
}

func (l *RedisLock) Done() <-chan struct{} { return l.done }

func (l *RedisLock) Lock(ctx context.Context) error {
	return l.LockWithTimeout(ctx, 0)
}

// TryLock attempts to acquire the lock once without retrying.
func (l *RedisLock) TryLock(ctx context.Context) (bool, error) {
	opts := &redislock.Options{}
	handle, err := l.manager.locker.Obtain(ctx, l.fullKey, l.ttl, opts)
	if errors.Is(err, redislock.ErrNotObtained) {
		return false, nil
	}
	if err != nil {
		return false, NewLockError(ErrCodeInternal, "获取redis锁失败", err)
	}
	l.onAcquired(handle)
	return true, nil
}

// LockWithTimeout retries TryLock on options.RetryInterval until timeout
// elapses (0 means retry until ctx is cancelled).
func (l *RedisLock) LockWithTimeout(ctx context.Context, timeout time.Duration) error {
	lockCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	retryInterval := l.options.RetryInterval
	if retryInterval <= 0 {
		retryInterval = 100 * time.Millisecond
	}

	attempts := 0
	for {
		ok, err := l.TryLock(lockCtx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		attempts++
		if l.options.MaxRetries > 0 && attempts >= l.options.MaxRetries {
			return NewLockError(ErrCodeTimeout, "获取锁超过最大重试次数", nil)
		}

		timer := time.NewTimer(retryInterval)
		select {
		case <-lockCtx.Done():
			timer.Stop()
			return NewLockError(ErrCodeTimeout, "获取锁超时", lockCtx.Err())
		case <-timer.C:
		}
	}
}

func (l *RedisLock) onAcquired(handle *redislock.Lock) {
	l.mu.Lock()
	l.handle = handle
	l.locked = true
	l.done = make(chan struct{})
	l.mu.Unlock()

	l.manager.recordAcquired(l.key, handle.Token())
	l.logger.Info("成功获取redis锁")

	if l.options.AutoRenew {
		renewCtx, cancel := context.WithCancel(context.Background())
		l.mu.Lock()
		l.stopRen = cancel
		l.mu.Unlock()
		go l.autoRenew(renewCtx)
	}
}

func (l *RedisLock) autoRenew(ctx context.Context) {
	interval := l.options.RenewInterval
	if interval <= 0 {
		interval = l.ttl / 3
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			handle := l.handle
			l.mu.Unlock()
			if handle == nil {
				return
			}
			if err := handle.Refresh(ctx, l.ttl, nil); err != nil {
				l.logger.Warn("续约redis锁失败，锁可能已丢失", zap.Error(err))
				l.mu.Lock()
				l.locked = false
				done := l.done
				l.mu.Unlock()
				close(done)
				return
			}
		}
	}
}

func (l *RedisLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	if !l.locked || l.handle == nil {
		l.mu.Unlock()
		return nil
	}
	handle := l.handle
	stopRen := l.stopRen
	l.locked = false
	l.handle = nil
	done := l.done
	l.mu.Unlock()

	if stopRen != nil {
		stopRen()
	}
	err := handle.Release(ctx)
	l.manager.recordReleased(l.key)
	select {
	case <-done:
	default:
		close(done)
	}
	if err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		return NewLockError(ErrCodeInternal, "释放redis锁失败", err)
	}
	return nil
}
