package autoscaler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crawlfleet/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	sessionLockKey     = "crawlfleet:autoscaler:session-lock"
	lockTTL            = 30 * time.Second
	lockAcquireTimeout = 5 * time.Second
	lockExtendInterval = 10 * time.Second
	defaultMaxLockHold = 2 * time.Hour
)

// unlockScript deletes the key only if it still carries our value
const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// renewScript extends the TTL (milliseconds) only if the key still carries our value
const renewScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`

// DistributedLock keeps one scaling session per fleet across replicas
type DistributedLock interface {
	// TryLock attempts to acquire the lock without blocking on contention
	TryLock(ctx context.Context) (bool, error)

	// Unlock releases the lock if it is still ours
	Unlock(ctx context.Context) error

	// IsHeld reports whether the lock is held and has not been lost
	IsHeld() bool
}

// RedisDistributedLock SET NX lock with background renewal.
// A nil client degrades to an always-acquired single-instance lock.
type RedisDistributedLock struct {
	client        *redis.Client
	lockKey       string
	lockValue     string
	ttl           time.Duration
	renewInterval time.Duration
	maxHold       time.Duration

	mu           sync.Mutex
	isHeld       bool
	acquiredAt   time.Time
	renewedAt    time.Time
	stopRenew    chan struct{}
	renewStopped bool
}

// NewRedisDistributedLock creates a lock on lockKey (the session lock key when empty).
// maxHold bounds how long a holder may keep renewing; it must cover a whole session.
func NewRedisDistributedLock(client *redis.Client, lockKey string, maxHold time.Duration) *RedisDistributedLock {
	if lockKey == "" {
		lockKey = sessionLockKey
	}
	if maxHold <= 0 {
		maxHold = defaultMaxLockHold
	}
	return &RedisDistributedLock{
		client:        client,
		lockKey:       lockKey,
		lockValue:     uuid.New().String(),
		ttl:           lockTTL,
		renewInterval: lockExtendInterval,
		maxHold:       maxHold,
		stopRenew:     make(chan struct{}),
	}
}

// TryLock attempts to acquire the lock
func (l *RedisDistributedLock) TryLock(ctx context.Context) (bool, error) {
	if l.client == nil {
		logger.Warn("redis client is nil, skipping session lock (single-instance mode)")
		l.mu.Lock()
		l.isHeld = true
		l.mu.Unlock()
		return true, nil
	}

	acquireCtx, cancel := context.WithTimeout(ctx, lockAcquireTimeout)
	defer cancel()

	acquired, err := l.client.SetNX(acquireCtx, l.lockKey, l.lockValue, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", l.lockKey, err)
	}
	if !acquired {
		logger.DebugCtx(ctx, "lock %s already held by another instance", l.lockKey)
		return false, nil
	}

	l.mu.Lock()
	l.isHeld = true
	l.acquiredAt = time.Now()
	l.renewedAt = l.acquiredAt
	// fresh channel per acquisition so TryLock/Unlock can cycle
	l.stopRenew = make(chan struct{})
	l.renewStopped = false
	stop := l.stopRenew
	l.mu.Unlock()

	// renewal outlives the acquiring call's context; Unlock stops it
	go l.renewLock(stop)

	logger.DebugCtx(ctx, "lock %s acquired", l.lockKey)
	return true, nil
}

// Unlock releases the lock
func (l *RedisDistributedLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	if l.client == nil {
		l.isHeld = false
		l.mu.Unlock()
		return nil
	}
	if !l.renewStopped {
		l.renewStopped = true
		close(l.stopRenew)
	}
	l.isHeld = false
	l.mu.Unlock()

	result, err := l.client.Eval(ctx, unlockScript, []string{l.lockKey}, l.lockValue).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.lockKey, err)
	}

	if result == 1 {
		logger.DebugCtx(ctx, "lock %s released", l.lockKey)
	} else {
		logger.DebugCtx(ctx, "lock %s was already released or held by another instance", l.lockKey)
	}
	return nil
}

// IsHeld reports whether the lock is held
func (l *RedisDistributedLock) IsHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isHeld
}

func (l *RedisDistributedLock) markLost() {
	l.mu.Lock()
	l.isHeld = false
	l.mu.Unlock()
}

// renewLock extends the TTL until stopped, the lock is lost or maxHold elapses.
// Failed renewals are retried until the last successful one is a full TTL old.
func (l *RedisDistributedLock) renewLock(stop <-chan struct{}) {
	ticker := time.NewTicker(l.renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			held := time.Since(l.acquiredAt)
			renewedAt := l.renewedAt
			l.mu.Unlock()

			if held > l.maxHold {
				logger.Warnf("lock %s held for %.0f seconds, no longer renewing", l.lockKey, held.Seconds())
				l.markLost()
				return
			}

			attemptAt := time.Now()
			ctx, cancel := context.WithTimeout(context.Background(), lockAcquireTimeout)
			result, err := l.client.Eval(ctx, renewScript, []string{l.lockKey}, l.lockValue, l.ttl.Milliseconds()).Int64()
			cancel()

			if err != nil {
				if stale := time.Since(renewedAt); stale >= l.ttl {
					logger.Warnf("lock %s not renewed for %v, past its TTL, giving it up: %v", l.lockKey, stale.Round(time.Millisecond), err)
					l.markLost()
					return
				}
				logger.Warnf("failed to renew lock %s, retrying: %v", l.lockKey, err)
				continue
			}
			if result == 0 {
				logger.Warnf("lock %s lost", l.lockKey)
				l.markLost()
				return
			}

			l.mu.Lock()
			l.renewedAt = attemptAt
			l.mu.Unlock()
		}
	}
}
