package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// These tests exercise RedisLockManager's bookkeeping (GetLockInfo,
// ListLocks, recordAcquired/recordReleased) and RedisLock's option
// defaulting without requiring a live Redis connection. TryLock/Unlock's
// interaction with redislock's Obtain/Release Lua scripts needs an actual
// Redis server and is left to integration testing, the same carve-out made
// for internal/election's etcd-backed Campaign.

func newTestManager() *RedisLockManager {
	return &RedisLockManager{
		prefix: "alertengine:locks:",
		logger: zap.NewNop(),
		infos:  make(map[string]*LockInfo),
	}
}

func TestRedisLockManager_GetLockInfoNotFound(t *testing.T) {
	m := newTestManager()
	_, err := m.GetLockInfo(context.Background(), "missing")
	require.Error(t, err)
	lockErr, ok := err.(*LockError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeNotFound, lockErr.Code)
}

func TestRedisLockManager_RecordAcquiredThenGetLockInfo(t *testing.T) {
	m := newTestManager()
	m.recordAcquired("mykey", "token-1")

	info, err := m.GetLockInfo(context.Background(), "mykey")
	require.NoError(t, err)
	assert.Equal(t, "mykey", info.Key)
	assert.Equal(t, "token-1", info.Owner)
}

func TestRedisLockManager_RecordReleasedRemovesInfo(t *testing.T) {
	m := newTestManager()
	m.recordAcquired("mykey", "token-1")
	m.recordReleased("mykey")

	_, err := m.GetLockInfo(context.Background(), "mykey")
	assert.Error(t, err)
}

func TestRedisLockManager_ListLocksFiltersByPrefix(t *testing.T) {
	m := newTestManager()
	m.recordAcquired("monitor:a", "token-a")
	m.recordAcquired("monitor:b", "token-b")
	m.recordAcquired("sweeper:c", "token-c")

	locks, err := m.ListLocks(context.Background(), "monitor:")
	require.NoError(t, err)
	assert.Len(t, locks, 2)
}

func TestRedisLockManager_NewLockAppliesDefaultTTL(t *testing.T) {
	m := newTestManager()
	l := m.NewLock("mykey", nil).(*RedisLock)
	assert.Equal(t, 30*time.Second, l.ttl)
	assert.Equal(t, "mykey", l.GetLockKey())
	assert.False(t, l.IsLocked())
}

func TestRedisLockManager_NewLockHonorsProvidedTTL(t *testing.T) {
	m := newTestManager()
	l := m.NewLock("mykey", &LockOptions{TTL: 5 * time.Second}).(*RedisLock)
	assert.Equal(t, 5*time.Second, l.ttl)
}

func TestRedisLock_DoneStaysOpenWhileLocked(t *testing.T) {
	m := newTestManager()
	l := m.NewLock("mykey", &LockOptions{TTL: time.Second}).(*RedisLock)

	l.mu.Lock()
	l.locked = true
	l.mu.Unlock()

	select {
	case <-l.Done():
		t.Fatal("done channel should not be closed before any failure")
	default:
	}
	assert.True(t, l.IsLocked())
}
